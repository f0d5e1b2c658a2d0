package protocol

import "testing"

type fakeAdapter struct {
	version string
	tools   []string
}

func (f *fakeAdapter) Version() string { return f.version }
func (f *fakeAdapter) Tools() []string { return f.tools }
func (f *fakeAdapter) Dispatch(toolName string, parameters map[string]any) (map[string]any, error) {
	return map[string]any{"tool": toolName}, nil
}

func newFixtureRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	if err := r.Register(&fakeAdapter{version: "1.0", tools: []string{"rag_search"}}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&fakeAdapter{version: "1.1", tools: []string{"rag_search", "rag_summarize"}}); err != nil {
		t.Fatal(err)
	}
	r.SetCompatibility("1.0", "1.0", true)
	r.SetCompatibility("1.0", "0.9", true)
	r.SetCompatibility("1.1", "1.1", true)
	r.SetCompatibility("1.1", "1.0", true)
	return r
}

func TestRegistry_RegisterRejectsDuplicate(t *testing.T) {
	r := newFixtureRegistry(t)
	err := r.Register(&fakeAdapter{version: "1.0"})
	if err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	var dup *ErrDuplicateVersion
	if !asErrDuplicate(err, &dup) {
		t.Fatalf("expected ErrDuplicateVersion, got %T: %v", err, err)
	}
}

func asErrDuplicate(err error, target **ErrDuplicateVersion) bool {
	if e, ok := err.(*ErrDuplicateVersion); ok {
		*target = e
		return true
	}
	return false
}

func TestRegistry_VersionsIsDeterministicAndAscending(t *testing.T) {
	r := newFixtureRegistry(t)
	got := r.Versions()
	want := []string{"1.0", "1.1"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
	// Deterministic across repeated calls.
	if again := r.Versions(); again[0] != got[0] || again[1] != got[1] {
		t.Fatal("Versions() is not deterministic")
	}
}

func TestRegistry_CompatibleExactMatchImplicitlyTrue(t *testing.T) {
	r := newFixtureRegistry(t)
	if !r.Compatible("1.0", "1.0") {
		t.Error("exact match between two registered versions must be compatible")
	}
}

func TestRegistry_CompatibleDefaultsFalse(t *testing.T) {
	r := newFixtureRegistry(t)
	if r.Compatible("1.0", "2.0") {
		t.Error("no edge recorded: expected incompatible")
	}
}

func TestRegistry_FindBest_ExactMatchPrefersMax(t *testing.T) {
	r := newFixtureRegistry(t)
	got, ok := r.FindBest([]string{"1.0", "1.1"})
	if !ok || got != "1.1" {
		t.Fatalf("got (%q, %v), want (1.1, true)", got, ok)
	}
}

func TestRegistry_FindBest_CompatibleFallback(t *testing.T) {
	r := newFixtureRegistry(t)
	got, ok := r.FindBest([]string{"0.9"})
	if !ok || got != "1.0" {
		t.Fatalf("got (%q, %v), want (1.0, true)", got, ok)
	}
}

func TestRegistry_FindBest_NoMatch(t *testing.T) {
	r := newFixtureRegistry(t)
	_, ok := r.FindBest([]string{"9.9"})
	if ok {
		t.Error("expected no match for an unregistered, incompatible version")
	}
}

func TestRegistry_FindBest_PureFunctionOfInputs(t *testing.T) {
	r := newFixtureRegistry(t)
	a, okA := r.FindBest([]string{"1.0"})
	b, okB := r.FindBest([]string{"1.0"})
	if a != b || okA != okB {
		t.Error("FindBest must be a pure function of its inputs")
	}
}

func TestRegistry_ValidateUnknownVersion(t *testing.T) {
	r := newFixtureRegistry(t)
	err := r.Validate("9.9", "rag_search")
	if err == nil {
		t.Fatal("expected error for unknown version")
	}
}

func TestRegistry_ValidateUnsupportedTool(t *testing.T) {
	r := newFixtureRegistry(t)
	err := r.Validate("1.0", "rag_summarize")
	if err == nil {
		t.Fatal("expected error: 1.0 adapter doesn't support rag_summarize")
	}
}

func TestRegistry_ValidateOK(t *testing.T) {
	r := newFixtureRegistry(t)
	if err := r.Validate("1.0", "rag_search"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRegistry_CompatibilityMatrixIsACopy(t *testing.T) {
	r := newFixtureRegistry(t)
	m := r.CompatibilityMatrix()
	m["1.0"]["9.9"] = true

	fresh := r.CompatibilityMatrix()
	if fresh["1.0"]["9.9"] {
		t.Error("CompatibilityMatrix must return a copy, not a live reference")
	}
}
