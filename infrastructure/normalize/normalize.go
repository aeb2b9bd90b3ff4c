// Package normalize implements the Normaliser (C3): a first-matching-
// predicate dispatch of source-format-specific preprocessors, each
// producing a canonical domain/testdoc.TestDoc from a raw decoded record.
//
// The dispatch style is grounded on the teacher's enricher registrations
// (infrastructure/enricher, each service declares its own applicability)
// generalized to an explicit Predicate/Transform pair per preprocessor,
// and on domain/snippet/language.go's registry-of-variants pattern for
// holding an ordered list of candidates.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dmason-mlb/mlb-qbench/domain/qerr"
	"github.com/dmason-mlb/mlb-qbench/domain/testdoc"
)

// Raw is a single source record, already decoded from JSON or YAML into a
// generic tree. Preprocessors navigate it defensively — fields may be
// absent or of an unexpected type, and that alone is not fatal (§4.3's
// warnings are non-fatal by design).
type Raw map[string]any

// Preprocessor declares applicability (Predicate) and a transform for one
// source format. Dispatch is first-matching-predicate, in registration
// order.
type Preprocessor interface {
	// Name identifies the preprocessor for provenance/logging.
	Name() string
	// Applies reports whether this preprocessor recognises raw's shape.
	Applies(raw Raw) bool
	// Transform converts raw into a TestDoc, returning any non-fatal
	// warnings raised during harmonisation (§4.3).
	Transform(raw Raw) (testdoc.TestDoc, []string, error)
}

// Normaliser holds an ordered list of preprocessors and dispatches to the
// first one whose predicate matches.
type Normaliser struct {
	preprocessors []Preprocessor
}

// New creates a Normaliser. Preprocessors are tried in the given order;
// put more specific formats (TestRail, Xray) before the generic fallback.
func New(preprocessors ...Preprocessor) *Normaliser {
	return &Normaliser{preprocessors: preprocessors}
}

// ErrNoMatchingPreprocessor indicates no registered preprocessor's
// predicate matched the raw record.
var ErrNoMatchingPreprocessor = qerr.InvalidInput("no preprocessor recognises this record's shape")

// Normalise dispatches raw to the first preprocessor whose predicate
// matches and returns its canonical TestDoc plus any non-fatal warnings.
// A record matching no preprocessor is a per-record failure (the caller —
// the ingestion pipeline — logs and skips it, per §4.4's failure policy).
func (n *Normaliser) Normalise(raw Raw) (testdoc.TestDoc, []string, error) {
	for _, p := range n.preprocessors {
		if p.Applies(raw) {
			doc, warnings, err := p.Transform(raw)
			if err != nil {
				return testdoc.TestDoc{}, nil, qerr.Wrap(qerr.KindInvalidInput, fmt.Sprintf("%s: transform failed", p.Name()), err)
			}
			return doc, warnings, nil
		}
	}
	return testdoc.TestDoc{}, nil, ErrNoMatchingPreprocessor
}

// fallbackUID deterministically derives an identifier from title and
// source when no explicit id or case id is present (§4.3's identifier
// fallback chain, third rung).
func fallbackUID(title, source string) string {
	sum := sha256.Sum256([]byte(source + "\x00" + title))
	return "uid-" + hex.EncodeToString(sum[:])[:32]
}

// asString reads a string field, tolerating absence or a wrong type.
func asString(raw Raw, key string) (string, bool) {
	v, ok := raw[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// asStringSlice reads a []any field of strings, tolerating absence, a
// wrong type, or non-string elements (skipped).
func asStringSlice(raw Raw, key string) []string {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// asMapSlice reads a []any field of map[string]any, tolerating absence or
// element type mismatches (skipped).
func asMapSlice(raw Raw, key string) []Raw {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]Raw, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, Raw(m))
		}
	}
	return out
}

// asInt reads a numeric field as an int, accepting int/int64/float64 (all
// of which appear depending on whether raw was decoded from JSON or YAML).
func asInt(raw Raw, key string) (int, bool) {
	v, ok := raw[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// normalisePriority maps a raw priority string to testdoc.Priority,
// defaulting to Medium and flagging unrecognised non-empty values as a
// warning while still preserving the value verbatim (§4.3's rule:
// "unrecognised values are preserved but flagged").
func normalisePriority(raw string) (testdoc.Priority, []string) {
	switch testdoc.Priority(raw) {
	case testdoc.PriorityCritical, testdoc.PriorityHigh, testdoc.PriorityMedium, testdoc.PriorityLow:
		return testdoc.Priority(raw), nil
	case "":
		return testdoc.PriorityMedium, nil
	default:
		return testdoc.Priority(raw), []string{fmt.Sprintf("unrecognised priority %q, preserved as-is", raw)}
	}
}

// splitFolderPath harmonises either a "/"-separated folder string or an
// array of path segments into a single []string (§4.3).
func splitFolderPath(raw Raw) []string {
	if s, ok := asString(raw, "folder"); ok && s != "" {
		return splitTrim(s, '/')
	}
	return asStringSlice(raw, "folderStructure")
}

func splitTrim(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

// dedupeStepIndices applies the "duplicate step index: last wins, warning
// raised" rule (§4.3), returning steps in ascending index order.
func dedupeStepIndices(steps []testdoc.TestStep) ([]testdoc.TestStep, []string) {
	byIndex := make(map[int]testdoc.TestStep, len(steps))
	order := make([]int, 0, len(steps))
	var warnings []string
	for _, s := range steps {
		if _, dup := byIndex[s.Index()]; dup {
			warnings = append(warnings, fmt.Sprintf("duplicate step index %d, last wins", s.Index()))
		} else {
			order = append(order, s.Index())
		}
		byIndex[s.Index()] = s
	}
	out := make([]testdoc.TestStep, len(order))
	for i, idx := range order {
		out[i] = byIndex[idx]
	}
	return out, warnings
}

// wrapScalarOrSlice harmonises an "expected" field that may arrive as a
// single string or an array of strings into an always-array form (§4.3).
func wrapScalarOrSlice(raw Raw, key string) []string {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	switch val := v.(type) {
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	case []any:
		return asStringSlice(raw, key)
	default:
		return nil
	}
}
