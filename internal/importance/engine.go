// Package importance computes the per-(predicate, type) importance cascade
// and the InfoRank companion metrics over a triple index, and persists every
// finished layer to a fact store.
//
// The cascade is strictly ordered. Each stage runs on a bounded worker pool
// that drains completely before the next stage starts, and intermediate
// layers are released as soon as their last consumer has run so that peak
// memory stays near two or three layers.
package importance

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/factstore"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/triples"
	apperrors "github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/tracing"
)

// StageEvent reports a finished stage.
type StageEvent struct {
	Pipeline string        `json:"pipeline"`
	Stage    string        `json:"stage"`
	Items    int           `json:"items"`
	Facts    int           `json:"facts"`
	Duration time.Duration `json:"duration"`
}

// Options configures an Engine.
type Options struct {
	Workers       int
	StageTimeout  time.Duration
	TypePredicate string
	Metrics       *metrics.Metrics
	// Retain names persisted layers to keep in memory and return from Run.
	Retain []string
	// OnStage is called after each stage completes.
	OnStage func(StageEvent)
}

// Result summarises a cascade run.
type Result struct {
	Facts  map[string]int
	Layers map[string]*Layer
}

// Engine runs the importance cascade.
type Engine struct {
	idx      triples.Index
	store    factstore.Store
	opts     Options
	typePred uint64
	retain   map[string]bool
	logger   *slog.Logger

	// subject ID → its type IDs, built before any metric stage
	subjectTypes [][]uint64
	// type ID → number of distinct subjects of that type
	typeSizes map[uint64]int
	numTypes  int
}

// NewEngine validates the is-a predicate against the index.
func NewEngine(idx triples.Index, store factstore.Store, opts Options) (*Engine, error) {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	typePred := idx.StringToID(opts.TypePredicate, triples.RolePredicate)
	if typePred == 0 {
		return nil, fmt.Errorf("type predicate %q not present in graph: %w", opts.TypePredicate, apperrors.ErrInvalidInput)
	}
	retain := make(map[string]bool, len(opts.Retain))
	for _, name := range opts.Retain {
		retain[name] = true
	}
	return &Engine{
		idx:      idx,
		store:    store,
		opts:     opts,
		typePred: typePred,
		retain:   retain,
		logger:   slog.Default().With("component", "importance-engine"),
	}, nil
}

// Run computes and persists the five importance layers. A failed stage or
// write aborts the run; layers already persisted stay in the store.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	res := &Result{Facts: make(map[string]int), Layers: make(map[string]*Layer)}
	ctx, span := tracing.StartChildSpan(ctx, "importance")
	defer span.End()

	if err := e.stage(ctx, stageSubjectTypes, func(ctx context.Context) (int, error) {
		return e.buildSubjectTypes(ctx)
	}); err != nil {
		return nil, err
	}

	var etf, tfp, ti, pet, eti2, entityTI, eeti *Layer
	var err error
	run := func(name string, fn func(ctx context.Context) (*Layer, error)) *Layer {
		if err != nil {
			return nil
		}
		var l *Layer
		err = e.stage(ctx, name, func(ctx context.Context) (int, error) {
			var ferr error
			l, ferr = fn(ctx)
			return l.Pairs(), ferr
		})
		return l
	}
	persist := func(l *Layer) {
		if err != nil {
			return
		}
		var n int
		n, err = e.persist(ctx, l)
		res.Facts[l.Name] = n
		if e.retain[l.Name] {
			res.Layers[l.Name] = cloneLayer(l)
		}
	}

	etf = run(stageEntityTypeFrequency, e.entityTypeFrequency)
	tfp = run(stageTypeFrequencyOfPredicate, func(ctx context.Context) (*Layer, error) {
		return typeFrequencyOfPredicate(etf), nil
	})
	ti = run(LayerTypeImportance, func(ctx context.Context) (*Layer, error) {
		return typeImportance(etf, tfp, e.numTypes), nil
	})
	tfp.release()
	persist(ti)

	pet = run(LayerPredicateEntropyType, e.predicateEntropyType)
	persist(pet)

	eti2 = run(LayerEntropyTypeImportance, func(ctx context.Context) (*Layer, error) {
		return entropyTypeImportance(pet, ti), nil
	})
	ti.release()
	persist(eti2)
	eti2.release()

	entityTI = run(LayerEntityTypeImportance, func(ctx context.Context) (*Layer, error) {
		return entityTypeImportance(etf, e.typeSizes), nil
	})
	etf.release()
	persist(entityTI)

	eeti = run(LayerEntropyEntityTypeImportance, func(ctx context.Context) (*Layer, error) {
		return entropyEntityTypeImportance(entityTI, pet), nil
	})
	pet.release()
	entityTI.release()
	persist(eeti)
	eeti.release()

	e.subjectTypes = nil
	e.typeSizes = nil
	if err != nil {
		span.SetAttr("error", err.Error())
		return nil, err
	}
	return res, nil
}

// stage runs fn under the configured ceiling and records timing.
func (e *Engine) stage(ctx context.Context, name string, fn func(ctx context.Context) (int, error)) error {
	ctx, span := tracing.StartChildSpan(ctx, name)
	start := time.Now()
	var items int
	err := resilience.RunStage(ctx, name, e.opts.StageTimeout, func(ctx context.Context) error {
		var ferr error
		items, ferr = fn(ctx)
		return ferr
	})
	span.SetAttr("items", items)
	span.EndWithError(err)
	if err != nil {
		e.logger.Error("stage failed", "stage", name, "error", err)
		return fmt.Errorf("computing %s: %w", name, err)
	}
	d := time.Since(start)
	e.opts.Metrics.ObserveStage("importance", name, d)
	e.opts.Metrics.AddStageItems(name, items)
	e.logger.Info("stage completed", "stage", name, "items", items, "duration", d)
	e.emit(StageEvent{Pipeline: "importance", Stage: name, Items: items, Duration: d})
	return nil
}

func (e *Engine) emit(ev StageEvent) {
	if e.opts.OnStage != nil {
		e.opts.OnStage(ev)
	}
}

// persist writes a layer as pair facts.
func (e *Engine) persist(ctx context.Context, l *Layer) (int, error) {
	facts := make([]factstore.Fact, 0, l.Pairs())
	for p, row := range l.Scores {
		pred := e.idx.IDToString(p, triples.RolePredicate)
		for t, v := range row {
			typ := e.idx.IDToString(t, triples.RoleObject)
			facts = append(facts, factstore.Fact{
				Key:     factstore.PairKey(pred, typ),
				Subject: pred,
				Type:    typ,
				Metric:  l.Name,
				Value:   sanitize(v),
			})
		}
	}
	if err := e.store.Append(ctx, l.Name, facts); err != nil {
		return 0, fmt.Errorf("persisting %s: %w", l.Name, err)
	}
	e.opts.Metrics.AddFacts(l.Name, len(facts))
	e.emit(StageEvent{Pipeline: "importance", Stage: "persist:" + l.Name, Facts: len(facts)})
	return len(facts), nil
}

func cloneLayer(l *Layer) *Layer {
	out := &Layer{Name: l.Name, Scores: make(Scores, len(l.Scores))}
	for p, row := range l.Scores {
		cp := make(map[uint64]float64, len(row))
		for t, v := range row {
			cp[t] = v
		}
		out.Scores[p] = cp
	}
	return out
}
