package factstore

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
)

const (
	ImportanceNamespace = "http://sid-unizar-search.com/importance/"
	PairClassURI        = ImportanceNamespace + "Predicate-Type"
	PairSubjectPrefix   = ImportanceNamespace + "predicate-type/"
	PairPredicateURI    = ImportanceNamespace + "predicate"
	PairTypeURI         = ImportanceNamespace + "type"
	VRankNamespace      = "http://purl.org/voc/vrank#"
	XSDFloat            = "http://www.w3.org/2001/XMLSchema#float"
	rdfTypeURI          = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
)

// FormatValue renders a metric value as an xsd:float literal with ten
// fractional digits.
func FormatValue(v float64) string {
	return `"` + strconv.FormatFloat(v, 'f', 10, 64) + `"^^<` + XSDFloat + `>`
}

// PairSubject returns the IRI describing a (predicate, type) pair.
func PairSubject(key string) string {
	return PairSubjectPrefix + key
}

// ExportNTriples writes every stored metric as N-Triples. Pair facts are
// described once with their predicate and type, then one triple per metric.
// Entity and class facts use the vrank vocabulary.
func ExportNTriples(ctx context.Context, s Store, w io.Writer) error {
	metrics, err := s.Metrics(ctx)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	described := make(map[string]bool)
	for _, metric := range metrics {
		err := s.Scan(ctx, metric, func(f Fact) error {
			if f.Type == "" {
				_, err := fmt.Fprintf(bw, "<%s> <%s%s> %s .\n", f.Subject, VRankNamespace, f.Metric, FormatValue(f.Value))
				return err
			}
			subject := PairSubject(f.Key)
			if !described[f.Key] {
				described[f.Key] = true
				if _, err := fmt.Fprintf(bw, "<%s> <%s> <%s> .\n<%s> <%s> <%s> .\n<%s> <%s> <%s> .\n",
					subject, rdfTypeURI, PairClassURI,
					subject, PairPredicateURI, f.Subject,
					subject, PairTypeURI, f.Type,
				); err != nil {
					return err
				}
			}
			_, err := fmt.Fprintf(bw, "<%s> <%s%s> %s .\n", subject, ImportanceNamespace, f.Metric, FormatValue(f.Value))
			return err
		})
		if err != nil {
			return fmt.Errorf("exporting %s: %w", metric, err)
		}
	}
	return bw.Flush()
}
