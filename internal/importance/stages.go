package importance

import (
	"context"
	"math"

	"github.com/Adithya-Monish-Kumar-K/Knowledge-Graph-Search-Platform/internal/triples"
)

// buildSubjectTypes caches each subject's types and counts distinct types and
// subjects per type. Every task writes only its own slot.
func (e *Engine) buildSubjectTypes(ctx context.Context) (int, error) {
	n := e.idx.NumSubjects()
	e.subjectTypes = make([][]uint64, n+1)
	err := forEachID(ctx, e.opts.Workers, n, func(_ context.Context, s uint64) error {
		var types []uint64
		for t := range e.idx.Search(s, e.typePred, triples.Wildcard) {
			types = append(types, t.O)
		}
		e.subjectTypes[s] = types
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.typeSizes = make(map[uint64]int)
	for _, types := range e.subjectTypes {
		for _, t := range types {
			e.typeSizes[t]++
		}
	}
	e.numTypes = len(e.typeSizes)
	return e.numTypes, nil
}

func (e *Engine) typesOf(s uint64) []uint64 {
	if s >= uint64(len(e.subjectTypes)) {
		return nil
	}
	return e.subjectTypes[s]
}

// entityTypeFrequency: ETF(p,t) is the number of distinct subjects that use
// p and have type t.
func (e *Engine) entityTypeFrequency(ctx context.Context) (*Layer, error) {
	out := newStageMap()
	err := forEachID(ctx, e.opts.Workers, e.idx.NumPredicates(), func(_ context.Context, p uint64) error {
		seen := make(map[uint64]struct{})
		row := make(map[uint64]float64)
		for t := range e.idx.Search(triples.Wildcard, p, triples.Wildcard) {
			if _, ok := seen[t.S]; ok {
				continue
			}
			seen[t.S] = struct{}{}
			for _, typ := range e.typesOf(t.S) {
				row[typ]++
			}
		}
		out.put(p, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.layer(stageEntityTypeFrequency), nil
}

// typeFrequencyOfPredicate: TFP(p) is the number of distinct types among the
// subjects of p, stored under type key 0. Predicates with TFP 0 are omitted.
func typeFrequencyOfPredicate(etf *Layer) *Layer {
	out := &Layer{Name: stageTypeFrequencyOfPredicate, Scores: make(Scores, len(etf.Scores))}
	for p, row := range etf.Scores {
		if len(row) > 0 {
			out.Scores[p] = map[uint64]float64{0: float64(len(row))}
		}
	}
	return out
}

// typeImportance: TI(p,t) = ETF(p,t)·ln(N/TFP(p)), 0 when TFP(p) is 0.
func typeImportance(etf, tfp *Layer, numTypes int) *Layer {
	out := &Layer{Name: LayerTypeImportance, Scores: make(Scores, len(etf.Scores))}
	for p, row := range etf.Scores {
		freq := tfp.Get(p, 0)
		res := make(map[uint64]float64, len(row))
		for t, f := range row {
			if freq == 0 {
				res[t] = 0
				continue
			}
			res[t] = sanitize(f * math.Log(float64(numTypes)/freq))
		}
		out.Scores[p] = res
	}
	return out
}

// predicateEntropyType computes, for every (p,t), the Shannon entropy (base
// 2) of the object distribution of p restricted to subjects of type t.
func (e *Engine) predicateEntropyType(ctx context.Context) (*Layer, error) {
	out := newStageMap()
	err := forEachID(ctx, e.opts.Workers, e.idx.NumPredicates(), func(_ context.Context, p uint64) error {
		out.put(p, e.entropyRow(p))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out.layer(LayerPredicateEntropyType), nil
}

func (e *Engine) entropyRow(p uint64) map[uint64]float64 {
	// ff counts (s,p,*) facts per subject type, duplicates included
	ff := make(map[uint64]float64)
	// per type, occurrences of each object
	byObject := make(map[uint64]map[uint64]float64)
	for t := range e.idx.Search(triples.Wildcard, p, triples.Wildcard) {
		for _, typ := range e.typesOf(t.S) {
			ff[typ]++
			counts := byObject[typ]
			if counts == nil {
				counts = make(map[uint64]float64)
				byObject[typ] = counts
			}
			counts[t.O]++
		}
	}
	row := make(map[uint64]float64, len(ff))
	for typ, total := range ff {
		row[typ] = entropy(byObject[typ], total)
	}
	return row
}

// entropy returns -Σ q·log2(q) with q = count/total. A zero total yields 0.
func entropy(counts map[uint64]float64, total float64) float64 {
	if total == 0 {
		return 0
	}
	h := 0.0
	for _, c := range counts {
		q := c / total
		if q > 0 {
			h -= q * math.Log2(q)
		}
	}
	return sanitize(h)
}

// entropyTypeImportance = PET·TI, a missing TI counting as 0.
func entropyTypeImportance(pet, ti *Layer) *Layer {
	return product(LayerEntropyTypeImportance, pet, ti)
}

// entityTypeImportance: ETF(p,t)·ln(E(t)/ETF(p,t)) where E(t) is the number
// of distinct subjects of type t.
func entityTypeImportance(etf *Layer, typeSizes map[uint64]int) *Layer {
	out := &Layer{Name: LayerEntityTypeImportance, Scores: make(Scores, len(etf.Scores))}
	for p, row := range etf.Scores {
		res := make(map[uint64]float64, len(row))
		for t, f := range row {
			if f == 0 {
				res[t] = 0
				continue
			}
			res[t] = sanitize(f * math.Log(float64(typeSizes[t])/f))
		}
		out.Scores[p] = res
	}
	return out
}

// entropyEntityTypeImportance = entityTypeImportance·PET, a missing PET
// counting as 0.
func entropyEntityTypeImportance(entityTI, pet *Layer) *Layer {
	return product(LayerEntropyEntityTypeImportance, entityTI, pet)
}

// product multiplies two layers over the pairs of base.
func product(name string, base, other *Layer) *Layer {
	out := &Layer{Name: name, Scores: make(Scores, len(base.Scores))}
	for p, row := range base.Scores {
		res := make(map[uint64]float64, len(row))
		for t, v := range row {
			res[t] = sanitize(v * other.Get(p, t))
		}
		out.Scores[p] = res
	}
	return out
}
