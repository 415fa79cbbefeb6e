package importance

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/factstore"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/triples"
	apperrors "github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/pkg/tracing"
)

// InfoRank metric names.
const (
	MetricIW       = "iw"
	MetricIRClass  = "irC"
	MetricIR       = "ir"
	MetricPageRank = "pagerank"
	MetricInfoRank = "inforank"
)

// Predicate IRIs of the vrank vocabulary. Predicates carrying these values
// are excluded from document templates.
const (
	PageRankPredicate = factstore.VRankNamespace + MetricPageRank
	InfoRankPredicate = factstore.VRankNamespace + MetricInfoRank
)

// InfoRankResult summarises an InfoRank run. PredicateIR holds the combined
// predicate informativeness (irP with irD taking precedence) by predicate ID.
type InfoRankResult struct {
	Facts       map[string]int
	PredicateIR map[uint64]float64
}

// InfoRankEngine computes informativeness weights, relative informativeness
// of classes and predicates, and InfoRank over a centrality ranking.
type InfoRankEngine struct {
	idx      triples.Index
	store    factstore.Store
	ranker   CentralityRanker
	opts     Options
	typePred uint64
	logger   *slog.Logger
}

func NewInfoRankEngine(idx triples.Index, store factstore.Store, ranker CentralityRanker, opts Options) (*InfoRankEngine, error) {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	typePred := idx.StringToID(opts.TypePredicate, triples.RolePredicate)
	if typePred == 0 {
		return nil, fmt.Errorf("type predicate %q not present in graph: %w", opts.TypePredicate, apperrors.ErrInvalidInput)
	}
	if ranker == nil {
		ranker = DefaultPageRank()
	}
	return &InfoRankEngine{
		idx:      idx,
		store:    store,
		ranker:   ranker,
		opts:     opts,
		typePred: typePred,
		logger:   slog.Default().With("component", "inforank-engine"),
	}, nil
}

func (e *InfoRankEngine) Run(ctx context.Context) (*InfoRankResult, error) {
	ctx, span := tracing.StartChildSpan(ctx, "inforank")
	defer span.End()
	res := &InfoRankResult{Facts: make(map[string]int)}

	var iw []float64
	if err := e.stage(ctx, "informativenessWeight", func(ctx context.Context) (int, error) {
		var err error
		iw, err = e.weights(ctx)
		return len(iw) - 1, err
	}); err != nil {
		return nil, err
	}
	if err := e.persistEntities(ctx, MetricIW, iw, res); err != nil {
		return nil, err
	}

	var irC map[uint64]float64
	if err := e.stage(ctx, "classInformativeness", func(ctx context.Context) (int, error) {
		irC = normalize(e.absClass(iw))
		return len(irC), nil
	}); err != nil {
		return nil, err
	}
	if err := e.persistTerms(ctx, MetricIRClass, irC, triples.RoleObject, res); err != nil {
		return nil, err
	}

	var irP, irD map[uint64]float64
	if err := e.stage(ctx, "predicateInformativeness", func(ctx context.Context) (int, error) {
		absP, absD, err := e.absPredicate(ctx, iw)
		if err != nil {
			return 0, err
		}
		irP, irD = normalize(absP), normalize(absD)
		return len(absP) + len(absD), nil
	}); err != nil {
		return nil, err
	}
	// irP and irD share one IRI, so they are persisted as their union
	ir := make(map[uint64]float64, len(irP)+len(irD))
	for p, v := range irP {
		ir[p] = v
	}
	for p, v := range irD {
		ir[p] = v
	}
	if err := e.persistTerms(ctx, MetricIR, ir, triples.RolePredicate, res); err != nil {
		return nil, err
	}
	res.PredicateIR = ir

	var pr map[uint64]float64
	if err := e.stage(ctx, MetricPageRank, func(ctx context.Context) (int, error) {
		var err error
		pr, err = e.ranker.Rank(ctx, e.idx)
		return len(pr), err
	}); err != nil {
		return nil, err
	}
	if err := e.persistTerms(ctx, MetricPageRank, pr, triples.RoleSubject, res); err != nil {
		return nil, err
	}

	infoRank := make(map[uint64]float64, len(pr))
	for s, rank := range pr {
		if s < uint64(len(iw)) {
			infoRank[s] = iw[s] * rank
		}
	}
	if err := e.persistTerms(ctx, MetricInfoRank, infoRank, triples.RoleSubject, res); err != nil {
		return nil, err
	}
	return res, nil
}

// weights computes IW(s), the number of literal objects of each subject.
func (e *InfoRankEngine) weights(ctx context.Context) ([]float64, error) {
	n := e.idx.NumSubjects()
	iw := make([]float64, n+1)
	err := forEachID(ctx, e.opts.Workers, n, func(_ context.Context, s uint64) error {
		c := 0.0
		for t := range e.idx.Search(s, triples.Wildcard, triples.Wildcard) {
			if triples.IsObjectLiteral(e.idx, t.O) {
				c++
			}
		}
		iw[s] = c
		return nil
	})
	return iw, err
}

// absClass is the maximum IW over the instances of each class.
func (e *InfoRankEngine) absClass(iw []float64) map[uint64]float64 {
	abs := make(map[uint64]float64)
	for t := range e.idx.Search(triples.Wildcard, e.typePred, triples.Wildcard) {
		if w := iw[t.S]; w > abs[t.O] {
			abs[t.O] = w
		} else if _, ok := abs[t.O]; !ok {
			abs[t.O] = w
		}
	}
	return abs
}

// absPredicate computes, per predicate, the maximum IW(s)+IW(o) over
// resource-valued triples (absP) and the number of distinct literal objects
// (absD). Objects outside the shared range are not subjects and have no IW.
func (e *InfoRankEngine) absPredicate(ctx context.Context, iw []float64) (map[uint64]float64, map[uint64]float64, error) {
	var mu sync.Mutex
	absP := make(map[uint64]float64)
	absD := make(map[uint64]float64)
	shared := e.idx.NumShared()
	err := forEachID(ctx, e.opts.Workers, e.idx.NumPredicates(), func(_ context.Context, p uint64) error {
		best, found := 0.0, false
		literals := make(map[uint64]struct{})
		for t := range e.idx.Search(triples.Wildcard, p, triples.Wildcard) {
			if triples.IsObjectLiteral(e.idx, t.O) {
				literals[t.O] = struct{}{}
				continue
			}
			if t.O > shared {
				continue
			}
			if v := iw[t.S] + iw[t.O]; !found || v > best {
				best, found = v, true
			}
		}
		mu.Lock()
		if found {
			absP[p] = best
		}
		if len(literals) > 0 {
			absD[p] = float64(len(literals))
		}
		mu.Unlock()
		return nil
	})
	return absP, absD, err
}

// normalize divides every value by the maximum. An all-zero input maps to 0.
func normalize(abs map[uint64]float64) map[uint64]float64 {
	maxAbs := 0.0
	for _, v := range abs {
		maxAbs = max(maxAbs, v)
	}
	out := make(map[uint64]float64, len(abs))
	for k, v := range abs {
		if maxAbs == 0 {
			out[k] = 0
			continue
		}
		out[k] = v / maxAbs
	}
	return out
}

func (e *InfoRankEngine) stage(ctx context.Context, name string, fn func(ctx context.Context) (int, error)) error {
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
		return fmt.Errorf("computing %s: %w", name, err)
	}
	d := time.Since(start)
	e.opts.Metrics.ObserveStage("inforank", name, d)
	e.logger.Info("stage completed", "stage", name, "items", items, "duration", d)
	if e.opts.OnStage != nil {
		e.opts.OnStage(StageEvent{Pipeline: "inforank", Stage: name, Items: items, Duration: d})
	}
	return nil
}

func (e *InfoRankEngine) persistEntities(ctx context.Context, metric string, values []float64, res *InfoRankResult) error {
	m := make(map[uint64]float64, len(values))
	for id := 1; id < len(values); id++ {
		m[uint64(id)] = values[id]
	}
	return e.persistTerms(ctx, metric, m, triples.RoleSubject, res)
}

func (e *InfoRankEngine) persistTerms(ctx context.Context, metric string, values map[uint64]float64, role triples.Role, res *InfoRankResult) error {
	facts := make([]factstore.Fact, 0, len(values))
	for id, v := range values {
		uri := e.idx.IDToString(id, role)
		facts = append(facts, factstore.Fact{
			Key:     factstore.EntityKey(uri),
			Subject: uri,
			Metric:  metric,
			Value:   sanitize(v),
		})
	}
	if err := e.store.Append(ctx, metric, facts); err != nil {
		return fmt.Errorf("persisting %s: %w", metric, err)
	}
	e.opts.Metrics.AddFacts(metric, len(facts))
	res.Facts[metric] = len(facts)
	return nil
}
