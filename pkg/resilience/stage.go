package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/errors"
)

// StageTimeoutError reports a cascade stage that outlived its ceiling.
type StageTimeoutError struct {
	Stage   string
	Ceiling time.Duration
}

func (e *StageTimeoutError) Error() string {
	return fmt.Sprintf("stage %s exceeded its %v ceiling: %s", e.Stage, e.Ceiling, apperrors.ErrTimeout)
}

func (e *StageTimeoutError) Unwrap() error { return apperrors.ErrTimeout }

// RunStage runs one cascade stage under a ceiling. The ceiling only detects
// a stuck stage: when it is hit the run is aborted with a
// *StageTimeoutError, and a stage that ignores its context is left to
// finish in the background. A non-positive ceiling means no limit.
func RunStage(ctx context.Context, stage string, ceiling time.Duration, fn func(ctx context.Context) error) error {
	if ceiling <= 0 {
		return fn(ctx)
	}
	stageCtx, cancel := context.WithTimeout(ctx, ceiling)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- fn(stageCtx)
	}()
	select {
	case err := <-done:
		return err
	case <-stageCtx.Done():
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("stage %s: %w", stage, err)
		}
		go func(start time.Time) {
			<-done
			slog.Default().Warn("abandoned stage finished",
				"component", "stage-ceiling",
				"stage", stage,
				"overrun", time.Since(start),
			)
		}(time.Now())
		return &StageTimeoutError{Stage: stage, Ceiling: ceiling}
	}
}
