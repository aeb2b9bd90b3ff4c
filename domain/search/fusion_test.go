package search

import "testing"

func TestFusion_DocOnly(t *testing.T) {
	f := NewFusion()
	hits := f.Fuse(
		[]DocHit{NewDocHit("A", 0.9), NewDocHit("B", 0.5)},
		nil,
		ScopeAll,
	)
	if len(hits) != 2 {
		t.Fatalf("len(hits) = %d, want 2", len(hits))
	}
	if hits[0].UID() != "A" {
		t.Errorf("hits[0].UID() = %q, want A", hits[0].UID())
	}
	want := DefaultWDoc * 0.9
	if hits[0].Score() != want {
		t.Errorf("hits[0].Score() = %v, want %v", hits[0].Score(), want)
	}
	if len(hits[0].MatchedStepIndices()) != 0 {
		t.Error("doc-only hit should have no matched step indices")
	}
}

func TestFusion_BothTiers(t *testing.T) {
	f := NewFusion()
	hits := f.Fuse(
		[]DocHit{NewDocHit("A", 0.8)},
		[]StepHit{NewStepHit("A", 1, 0.6), NewStepHit("A", 2, 0.9)},
		ScopeAll,
	)
	if len(hits) != 1 {
		t.Fatalf("len(hits) = %d, want 1", len(hits))
	}
	want := DefaultWDoc*0.8 + DefaultWStep*0.9
	if hits[0].Score() != want {
		t.Errorf("Score() = %v, want %v", hits[0].Score(), want)
	}
	indices := hits[0].MatchedStepIndices()
	if len(indices) != 2 || indices[0] != 1 || indices[1] != 2 {
		t.Errorf("MatchedStepIndices() = %v, want [1 2]", indices)
	}
}

func TestFusion_StepOnly(t *testing.T) {
	f := NewFusion()
	hits := f.Fuse(nil, []StepHit{NewStepHit("C", 1, 0.4)}, ScopeAll)
	if len(hits) != 1 {
		t.Fatalf("len(hits) = %d, want 1", len(hits))
	}
	want := DefaultWStep * 0.4
	if hits[0].Score() != want {
		t.Errorf("Score() = %v, want %v", hits[0].Score(), want)
	}
}

func TestFusion_TieBreakByUID(t *testing.T) {
	f := NewFusion()
	hits := f.Fuse(
		[]DocHit{NewDocHit("B", 1.0), NewDocHit("A", 1.0)},
		nil,
		ScopeAll,
	)
	if hits[0].UID() != "A" || hits[1].UID() != "B" {
		t.Errorf("tie-break order = [%s %s], want [A B]", hits[0].UID(), hits[1].UID())
	}
}

func TestFusion_ScopeDocsIgnoresSteps(t *testing.T) {
	f := NewFusion()
	hits := f.Fuse(
		[]DocHit{NewDocHit("A", 0.5)},
		[]StepHit{NewStepHit("A", 1, 0.99)},
		ScopeDocs,
	)
	want := DefaultWDoc * 0.5
	if hits[0].Score() != want {
		t.Errorf("Score() = %v, want %v (step tier should be ignored in ScopeDocs)", hits[0].Score(), want)
	}
}

func TestTruncate(t *testing.T) {
	hits := []Hit{{uid: "A"}, {uid: "B"}, {uid: "C"}}
	got := Truncate(hits, 2)
	if len(got) != 2 {
		t.Errorf("len(Truncate(hits, 2)) = %d, want 2", len(got))
	}
	if len(Truncate(hits, 0)) != 3 {
		t.Error("Truncate with topK <= 0 should be a no-op")
	}
}
