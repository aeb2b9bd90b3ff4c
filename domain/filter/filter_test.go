package filter

import "testing"

func TestCompile_RejectsUnknownField(t *testing.T) {
	_, _, err := Compile(map[string]any{"bogus": "x"})
	if err == nil {
		t.Fatal("Compile() = nil error, want error for unknown field")
	}
}

func TestCompile_AcceptsWhitelistedFields(t *testing.T) {
	f, opts, err := Compile(map[string]any{
		"tags":     []any{"smoke", "regression"},
		"priority": "High",
	})
	if err != nil {
		t.Fatalf("Compile() = %v, want nil", err)
	}
	if len(opts) != 2 {
		t.Errorf("len(opts) = %d, want 2", len(opts))
	}
	if f.Priority != "High" {
		t.Errorf("Priority = %q, want High", f.Priority)
	}
}

func TestCompile_RejectsOversizeSet(t *testing.T) {
	big := make([]any, maxSetSize+1)
	for i := range big {
		big[i] = "x"
	}
	_, _, err := Compile(map[string]any{"tags": big})
	if err == nil {
		t.Fatal("Compile() = nil error, want error for oversize set")
	}
}

func TestCompile_RejectsEmptyStringInSet(t *testing.T) {
	_, _, err := Compile(map[string]any{"tags": []any{""}})
	if err == nil {
		t.Fatal("Compile() = nil error, want error for empty string in set")
	}
}

func TestCompile_RejectsNonGlobMetacharacters(t *testing.T) {
	_, _, err := Compile(map[string]any{"external_key_pattern": "FOO-[0-9]+"})
	if err == nil {
		t.Fatal("Compile() = nil error, want error for disallowed glob metacharacters")
	}
}

func TestCompile_AcceptsGlobWildcards(t *testing.T) {
	f, _, err := Compile(map[string]any{"external_key_pattern": "QB-*"})
	if err != nil {
		t.Fatalf("Compile() = %v, want nil", err)
	}
	if f.ExternalKeyPattern != "QB-*" {
		t.Errorf("ExternalKeyPattern = %q, want QB-*", f.ExternalKeyPattern)
	}
}

func TestFilter_Matches_TagsSuperset(t *testing.T) {
	f, _, _ := Compile(map[string]any{"tags": []any{"smoke"}})

	if !f.Matches([]string{"smoke", "regression"}, nil, nil, nil, "", "", "") {
		t.Error("Matches() = false, want true when doc tags are a superset")
	}
	if f.Matches([]string{"regression"}, nil, nil, nil, "", "", "") {
		t.Error("Matches() = true, want false when doc lacks required tag")
	}
}

func TestFilter_Matches_FolderPrefix(t *testing.T) {
	f, _, _ := Compile(map[string]any{"folder_prefix": []any{"regression", "login"}})

	if !f.Matches(nil, nil, nil, []string{"regression", "login", "edge-cases"}, "", "", "") {
		t.Error("Matches() = false, want true for matching folder prefix")
	}
	if f.Matches(nil, nil, nil, []string{"smoke"}, "", "", "") {
		t.Error("Matches() = true, want false for non-matching folder prefix")
	}
}

func TestFilter_Matches_ExternalKeyGlob(t *testing.T) {
	f, _, _ := Compile(map[string]any{"external_key_pattern": "QB-1??"})

	if !f.Matches(nil, nil, nil, nil, "", "", "QB-123") {
		t.Error("Matches() = false, want true for QB-123 against QB-1??")
	}
	if f.Matches(nil, nil, nil, nil, "", "", "QB-9999") {
		t.Error("Matches() = true, want false for QB-9999 against QB-1??")
	}
}

func TestFilter_IsEmpty(t *testing.T) {
	f, _, _ := Compile(map[string]any{})
	if !f.IsEmpty() {
		t.Error("IsEmpty() = false, want true for empty filter")
	}
}
