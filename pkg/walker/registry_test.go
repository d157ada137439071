package walker

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func stubFactory(string, Position, *Env) (Stage, error) {
	return StageFunc(func(in Seq) Seq { return Input(in) }), nil
}

func TestRegistry_Duplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Descriptor{Name: "head", Create: stubFactory}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	err := r.Register(Descriptor{Name: "head", Doc: "second", Create: stubFactory})
	if !errors.Is(err, ErrDuplicateStage) {
		t.Fatalf("expected ErrDuplicateStage, got %v", err)
	}
	if !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("duplicate should also be a protocol violation: %v", err)
	}
	d, _ := r.Lookup("head")
	if d.Doc == "second" {
		t.Error("rejected descriptor replaced the registered one")
	}
}

func TestRegistry_ProtocolViolations(t *testing.T) {
	cases := []Descriptor{
		{Name: "", Create: stubFactory},
		{Name: "two words", Create: stubFactory},
		{Name: "a|b", Create: stubFactory},
		{Name: "nofactory"},
	}
	r := NewRegistry()
	for _, d := range cases {
		if err := r.Register(d); !errors.Is(err, ErrProtocolViolation) {
			t.Errorf("Register(%q): expected ErrProtocolViolation, got %v", d.Name, err)
		}
	}
	if len(r.Names()) != 0 {
		t.Errorf("rejected descriptors were added: %v", r.Names())
	}
}

func TestRegistry_MustRegisterPanics(t *testing.T) {
	r := NewRegistry()
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate")
		}
	}()
	r.MustRegister(
		Descriptor{Name: "x", Create: stubFactory},
		Descriptor{Name: "x", Create: stubFactory},
	)
}

func newTestRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(
		Descriptor{Name: "head", Tags: []string{"general"}, Doc: "Keep the first N elements.", Create: stubFactory},
		Descriptor{Name: "tail", Tags: []string{"general"}, Doc: "Keep the last N elements.", Create: stubFactory},
		Descriptor{Name: "array", Tags: []string{"data"}, Doc: "Walk over an array.\n\nUsage: array ...", Create: stubFactory},
		Descriptor{Name: "called-functions", Tags: []string{"data", "code"}, Doc: "Walk the call tree.", Create: stubFactory},
	)
	return r
}

func TestRegistry_Listing(t *testing.T) {
	r := newTestRegistry()

	if diff := cmp.Diff([]string{"array", "called-functions", "head", "tail"}, r.Names()); diff != "" {
		t.Errorf("Names (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"code", "data", "general"}, r.Tags()); diff != "" {
		t.Errorf("Tags (-want +got):\n%s", diff)
	}

	var data []string
	for _, d := range r.WithTag("data") {
		data = append(data, d.Name)
	}
	if diff := cmp.Diff([]string{"array", "called-functions"}, data); diff != "" {
		t.Errorf("WithTag(data) (-want +got):\n%s", diff)
	}

	d, _ := r.Lookup("array")
	if d.Summary() != "Walk over an array." {
		t.Errorf("Summary = %q", d.Summary())
	}
}

func TestRegistry_Apropos(t *testing.T) {
	r := newTestRegistry()

	got, err := r.Apropos("N ELEMENTS")
	if err != nil {
		t.Fatalf("Apropos: %v", err)
	}
	if len(got) != 2 || got[0].Name != "head" || got[1].Name != "tail" {
		t.Errorf("Apropos matched %v", got)
	}

	byTag, err := r.Apropos("^code$")
	if err != nil {
		t.Fatalf("Apropos: %v", err)
	}
	if len(byTag) != 1 || byTag[0].Name != "called-functions" {
		t.Errorf("Apropos by tag matched %v", byTag)
	}

	if _, err := r.Apropos("("); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestRegistry_CompleteAndSuggest(t *testing.T) {
	r := newTestRegistry()

	if diff := cmp.Diff([]string{"called-functions"}, r.Complete("ca")); diff != "" {
		t.Errorf("Complete (-want +got):\n%s", diff)
	}

	got := r.Suggest("hed")
	if len(got) == 0 || got[0] != "head" {
		t.Errorf("Suggest(hed) = %v, want head first", got)
	}
	if got := r.Suggest("zzzzzzzz"); len(got) != 0 {
		t.Errorf("Suggest(zzzzzzzz) = %v, want none", got)
	}
}
