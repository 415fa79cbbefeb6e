package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/importance"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/kafka"
)

type EventType string

const (
	EventMetricsComplete EventType = "metrics.complete"
	EventTemplateBuilt   EventType = "template.built"
	EventIndexProgress   EventType = "index.progress"
)

// MetricsCompleteEvent is published once the fact store holds a full set of
// layers. The template service rebuilds on it.
type MetricsCompleteEvent struct {
	Type       EventType               `json:"type"`
	RunID      string                  `json:"run_id"`
	Facts      map[string]int          `json:"facts"`
	Stages     []importance.StageEvent `json:"stages"`
	DurationMs int64                   `json:"duration_ms"`
	Timestamp  time.Time               `json:"timestamp"`
}

type TemplateBuiltEvent struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Scope     string    `json:"scope"`
	Source    string    `json:"source"`
	Fields    int       `json:"fields"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type IndexProgressEvent struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Processed int       `json:"processed"`
	Indexed   int       `json:"indexed"`
	Failed    int       `json:"failed"`
	Total     int       `json:"total"`
	Done      bool      `json:"done"`
	Timestamp time.Time `json:"timestamp"`
}

// Events holds one publisher per topic. Nil publishers drop events.
type Events struct {
	MetricsComplete kafka.Publisher
	TemplateBuilt   kafka.Publisher
	IndexProgress   kafka.Publisher
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, kafka.Event) error        { return nil }
func (nopPublisher) PublishBatch(context.Context, []kafka.Event) error { return nil }

func orNop(p kafka.Publisher) kafka.Publisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}

// batcher buffers events and publishes them in batches. A failed flush
// re-queues the batch, keeping at most three batches buffered.
type batcher struct {
	publisher kafka.Publisher
	mu        sync.Mutex
	buffer    []kafka.Event
	batchSize int
	logger    *slog.Logger
}

func newBatcher(p kafka.Publisher, batchSize int) *batcher {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &batcher{
		publisher: orNop(p),
		buffer:    make([]kafka.Event, 0, batchSize),
		batchSize: batchSize,
		logger:    slog.Default().With("component", "event-batcher"),
	}
}

// track buffers an event and flushes once a full batch is waiting.
func (b *batcher) track(ctx context.Context, key string, value any) {
	b.mu.Lock()
	b.buffer = append(b.buffer, kafka.Event{Key: key, Value: value})
	full := len(b.buffer) >= b.batchSize
	b.mu.Unlock()
	if full {
		b.flush(ctx)
	}
}

func (b *batcher) flush(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buffer) == 0 {
		return
	}
	batch := b.buffer
	b.buffer = make([]kafka.Event, 0, b.batchSize)

	if err := b.publisher.PublishBatch(ctx, batch); err != nil {
		b.logger.Error("event flush failed", "batch_size", len(batch), "error", err)
		b.buffer = append(batch, b.buffer...)
		if limit := b.batchSize * 3; len(b.buffer) > limit {
			dropped := len(b.buffer) - limit
			b.buffer = b.buffer[:limit]
			b.logger.Warn("event buffer overflow, events dropped", "dropped", dropped)
		}
		return
	}
	b.logger.Debug("events flushed", "events", len(batch))
}

func (b *batcher) pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}
