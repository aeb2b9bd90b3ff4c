package qerr

import (
	"errors"
	"testing"
)

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Transient("embed call failed", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
}

func TestIs_MatchesKind(t *testing.T) {
	err := NotFound("doc not found")

	if !Is(err, KindNotFound) {
		t.Error("Is() = false, want true for matching kind")
	}
	if Is(err, KindConflict) {
		t.Error("Is() = true, want false for non-matching kind")
	}
}

func TestRateLimited_CarriesRetryAfter(t *testing.T) {
	err := RateLimited("search rate cap exceeded", 30)

	if err.RetryAfter != 30 {
		t.Errorf("RetryAfter = %d, want 30", err.RetryAfter)
	}
	if err.Kind != KindRateLimited {
		t.Errorf("Kind = %v, want KindRateLimited", err.Kind)
	}
}

func TestWithField_AccumulatesFields(t *testing.T) {
	err := InvalidInput("validation failed").
		WithField("filters.tags", "exceeds max size").
		WithField("top_k", "must be <= 100")

	if len(err.Fields) != 2 {
		t.Fatalf("len(Fields) = %d, want 2", len(err.Fields))
	}
}
