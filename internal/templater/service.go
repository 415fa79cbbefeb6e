// Package templater keeps the stored templates in step with the fact
// store. It rebuilds them whenever a metrics run completes and serves them
// over HTTP.
package templater

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/templatecache"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/logger"
)

// Builder runs one template build.
type Builder interface {
	RunTemplates(ctx context.Context) (*pipeline.TemplateSet, error)
}

// Status describes the most recent rebuild.
type Status struct {
	RunID      string    `json:"run_id,omitempty"`
	Trigger    string    `json:"trigger"`
	Scope      string    `json:"scope,omitempty"`
	Built      int       `json:"built"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Service serializes rebuilds. The shared type template cache is dropped
// before each rebuild so stale templates from older metrics are never
// served.
type Service struct {
	builder Builder
	cache   templatecache.Cache
	mu      sync.Mutex

	statusMu sync.RWMutex
	last     *Status
	logger   *slog.Logger
}

func NewService(builder Builder, cache templatecache.Cache) *Service {
	return &Service{
		builder: builder,
		cache:   cache,
		logger:  slog.Default().With("component", "templater"),
	}
}

// Rebuild invalidates the cache and runs the template build. trigger names
// what caused it (a metrics run id, "api", "startup").
func (s *Service) Rebuild(ctx context.Context, trigger string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := logger.FromContext(ctx)

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			log.Warn("template cache invalidation failed", "error", err)
		}
	}

	st := Status{Trigger: trigger}
	set, err := s.builder.RunTemplates(ctx)
	st.FinishedAt = time.Now().UTC()
	if err != nil {
		st.Error = err.Error()
		s.setStatus(st)
		log.Error("template rebuild failed", "trigger", trigger, "error", err)
		return st, fmt.Errorf("rebuilding templates: %w", err)
	}
	st.RunID = set.RunID
	st.Scope = set.Scope
	st.Built = set.Stats.Built + 1
	st.Failed = set.Stats.Failed
	s.setStatus(st)
	log.Info("templates rebuilt", "trigger", trigger, "run_id", set.RunID, "built", st.Built)
	return st, nil
}

// HandleMetricsComplete is the kafka.MessageHandler for the metrics topic.
// Undecodable messages are logged and acknowledged; a failed rebuild is
// returned so the offset is not committed.
func (s *Service) HandleMetricsComplete(ctx context.Context, key, value []byte) error {
	ev, err := kafka.DecodeJSON[pipeline.MetricsCompleteEvent](value)
	if err != nil {
		s.logger.Warn("dropping malformed metrics event", "key", string(key), "error", err)
		return nil
	}
	if ev.Type != pipeline.EventMetricsComplete {
		return nil
	}
	s.logger.Info("metrics run completed, rebuilding templates", "metrics_run", ev.RunID, "layers", len(ev.Facts))
	_, err = s.Rebuild(ctx, ev.RunID)
	return err
}

// Last returns the most recent rebuild, or nil before the first one.
func (s *Service) Last() *Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	if s.last == nil {
		return nil
	}
	st := *s.last
	return &st
}

func (s *Service) setStatus(st Status) {
	s.statusMu.Lock()
	s.last = &st
	s.statusMu.Unlock()
}
