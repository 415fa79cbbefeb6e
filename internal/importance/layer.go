package importance

import "math"

// Persisted layer names. They double as the metric names in the fact store.
const (
	LayerTypeImportance              = "typeImportance"
	LayerPredicateEntropyType        = "predicateEntropyType"
	LayerEntropyTypeImportance       = "entropyTypeImportance"
	LayerEntityTypeImportance        = "entityTypeImportance"
	LayerEntropyEntityTypeImportance = "entropyEntityTypeImportance"

	stageSubjectTypes             = "subjectTypes"
	stageEntityTypeFrequency      = "entityTypeFrequency"
	stageTypeFrequencyOfPredicate = "typeFrequencyOfPredicate"
)

// Layers lists the persisted layers in cascade order.
var Layers = []string{
	LayerTypeImportance,
	LayerPredicateEntropyType,
	LayerEntropyTypeImportance,
	LayerEntityTypeImportance,
	LayerEntropyEntityTypeImportance,
}

// Scores maps predicate ID → type ID → value.
type Scores map[uint64]map[uint64]float64

// Layer is an immutable per-(predicate, type) metric.
type Layer struct {
	Name   string
	Scores Scores
}

// Get returns the value for (p, t), or 0 when the pair is absent.
func (l *Layer) Get(p, t uint64) float64 {
	if l == nil {
		return 0
	}
	return l.Scores[p][t]
}

// Pairs returns the number of (predicate, type) entries.
func (l *Layer) Pairs() int {
	if l == nil {
		return 0
	}
	n := 0
	for _, row := range l.Scores {
		n += len(row)
	}
	return n
}

// release drops the layer's storage so it can be collected.
func (l *Layer) release() {
	if l == nil {
		return
	}
	clear(l.Scores)
	l.Scores = nil
}

// sanitize maps NaN and ±Inf to 0.
func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
