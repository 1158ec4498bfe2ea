package vcf

import (
	"fmt"

	"github.com/grailbio/base/log"
)

type metaKey struct{ key, id string }

// MergeHeaders merges the headers of several VCF files into one header that
// can describe the records of all of them. names[i] identifies headers[i]
// in errors.
//
// The sample lists must be identical, in the same order; otherwise
// *SchemaMismatchError is returned. Meta lines are unioned in first-seen
// order:
//
//   - Structured lines are keyed by (key, ID). The first definition wins.
//     INFO and FORMAT redefinitions must agree on Number and Type, except
//     that Integer and Float are merged into Float. Other disagreements are
//     *HeaderConflictError.
//   - Structured lines without an ID, and unstructured lines, are
//     deduplicated by their text.
//   - The first ##fileformat line is kept.
//
// The contigs of the result are those of the first header that has any.
// Callers that resolve a sequence dictionary separately should overwrite
// them. The result has a FORMAT column if any input has one. The input
// headers are not modified.
func MergeHeaders(names []string, headers []*Header) (*Header, error) {
	if len(names) != len(headers) {
		panic(fmt.Sprintf("MergeHeaders: %d names, %d headers", len(names), len(headers)))
	}
	if len(headers) == 0 {
		return &Header{}, nil
	}
	merged := &Header{Samples: append([]string{}, headers[0].Samples...)}
	byID := map[metaKey]*MetaLine{}
	seen := map[string]bool{}
	fileFormat := false

	for i, h := range headers {
		if i > 0 && !equalStrings(headers[0].Samples, h.Samples) {
			return nil, &SchemaMismatchError{Input: names[i], Want: headers[0].Samples, Got: h.Samples}
		}
		merged.HasFormat = merged.HasFormat || h.HasFormat
		if len(merged.Contigs) == 0 && len(h.Contigs) > 0 {
			merged.Contigs = h.Clone().Contigs
		}
		for _, m := range h.Meta {
			if m.Key == keyFileFormat {
				if !fileFormat {
					merged.Meta = append(merged.Meta, m.clone())
					fileFormat = true
				}
				continue
			}
			if m.Structured() && m.ID() != "" {
				k := metaKey{m.Key, m.ID()}
				prev, ok := byID[k]
				if !ok {
					c := m.clone()
					byID[k] = c
					merged.Meta = append(merged.Meta, c)
					continue
				}
				if m.Key == keyInfo || m.Key == keyFormat {
					if err := mergeDefinition(names[i], prev, m); err != nil {
						return nil, err
					}
				}
				continue
			}
			text := m.String()
			if !seen[text] {
				seen[text] = true
				merged.Meta = append(merged.Meta, m.clone())
			}
		}
	}
	return merged, nil
}

// mergeDefinition checks that the INFO or FORMAT line m is compatible with
// prev, widening prev's Type to Float if needed.
func mergeDefinition(input string, prev, m *MetaLine) error {
	prevNumber, _ := prev.Get("Number")
	number, _ := m.Get("Number")
	if prevNumber != number {
		return &HeaderConflictError{
			Input:  input,
			Class:  m.Key,
			ID:     m.ID(),
			Reason: fmt.Sprintf("Number=%s, previously Number=%s", number, prevNumber),
		}
	}
	prevType, _ := prev.Get("Type")
	typ, _ := m.Get("Type")
	switch {
	case prevType == typ:
	case isNumericType(prevType) && isNumericType(typ):
		if prevType != "Float" {
			log.Printf("vcf: %s: promoting ##%s %s from %s to Float", input, m.Key, m.ID(), prevType)
			prev.Set("Type", "Float")
		}
	default:
		return &HeaderConflictError{
			Input:  input,
			Class:  m.Key,
			ID:     m.ID(),
			Reason: fmt.Sprintf("Type=%s, previously Type=%s", typ, prevType),
		}
	}
	return nil
}

func isNumericType(t string) bool { return t == "Integer" || t == "Float" }

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
