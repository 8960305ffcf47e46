package assembler_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/diegogrosmann/BookTranslateAI/internal/assembler"
	"github.com/diegogrosmann/BookTranslateAI/internal/fragmenter"
)

func frag(idx, start, end, overlap int) fragmenter.Fragment {
	return fragmenter.Fragment{UnitID: "u1", Index: idx, Start: start, End: end, OverlapPrefix: overlap}
}

func TestAssemble_Empty(t *testing.T) {
	got, err := assembler.Assemble("u1", nil, nil, nil)
	if err != nil || got != "" {
		t.Errorf("got %q, %v", got, err)
	}
}

func TestAssemble_SingleFragment(t *testing.T) {
	frags := []fragmenter.Fragment{frag(0, 0, 10, 0)}
	got, err := assembler.Assemble("u1", frags, map[int]string{0: "hello"}, nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if got != "hello" {
		t.Errorf("got %q", got)
	}
}

func TestAssemble_JoinsInIndexOrder(t *testing.T) {
	// Fragment layout arrives in arbitrary slice order; output order
	// must follow the index.
	frags := []fragmenter.Fragment{
		frag(2, 40, 60, 0),
		frag(0, 0, 20, 0),
		frag(1, 20, 40, 0),
	}
	results := map[int]string{0: "first", 1: "second", 2: "third"}

	got, err := assembler.Assemble("u1", frags, results, nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if got != "first\n\nsecond\n\nthird" {
		t.Errorf("got %q", got)
	}
}

func TestAssemble_HardCutRejoinsWithSpace(t *testing.T) {
	// A forced mid-sentence cut never had a paragraph break in the
	// source, so the pieces rejoin with a single space.
	first := frag(0, 0, 20, 0)
	first.HardEnd = true
	frags := []fragmenter.Fragment{first, frag(1, 20, 40, 0)}
	results := map[int]string{0: "the sentence was cut", 1: "right in the middle."}

	got, err := assembler.Assemble("u1", frags, results, nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if got != "the sentence was cut right in the middle." {
		t.Errorf("got %q", got)
	}
}

func TestAssemble_TrimsLiteralOverlap(t *testing.T) {
	// The second fragment's translation repeats the tail of the first;
	// the repeated span is cut at the literal seam.
	frags := []fragmenter.Fragment{
		frag(0, 0, 30, 0),
		frag(1, 30, 60, 20),
	}
	results := map[int]string{
		0: "alpha beta SHARED OVERLAP TAIL",
		1: "SHARED OVERLAP TAIL second part",
	}

	got, err := assembler.Assemble("u1", frags, results, nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	want := "alpha beta SHARED OVERLAP TAIL\n\nsecond part"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestAssemble_FallbackTrimAtWordBoundary(t *testing.T) {
	// No literal seam exists: the estimated overlap span is cut and
	// the cut snapped forward to the next word boundary.
	frags := []fragmenter.Fragment{
		frag(0, 0, 20, 0),
		frag(1, 20, 40, 10),
	}
	results := map[int]string{
		0: "completely different words",
		1: "abcdefghij klmnopqrst uvwxyz",
	}

	got, err := assembler.Assemble("u1", frags, results, nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	want := "completely different words\n\nklmnopqrst uvwxyz"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestAssemble_FailedFragmentMarker(t *testing.T) {
	frags := []fragmenter.Fragment{
		frag(0, 0, 20, 0),
		frag(1, 20, 40, 5),
		frag(2, 40, 60, 5),
	}
	results := map[int]string{0: "first", 2: "third with tail"}
	failed := map[int]string{1: "retries exhausted"}

	got, err := assembler.Assemble("u1", frags, results, failed)
	if err == nil {
		t.Fatal("expected PartialFailureError")
	}
	var pf *assembler.PartialFailureError
	if !errors.As(err, &pf) {
		t.Fatalf("unexpected error type: %v", err)
	}
	if len(pf.Failed) != 1 || pf.Failed[0] != 1 {
		t.Errorf("Failed = %v, want [1]", pf.Failed)
	}
	if pf.UnitID != "u1" {
		t.Errorf("UnitID = %q", pf.UnitID)
	}
	if !strings.Contains(got, "[translation failed: fragment 1]") {
		t.Errorf("missing failure marker in %q", got)
	}
	// The fragment after a failed one has no predecessor to align
	// against and must be kept whole.
	if !strings.Contains(got, "third with tail") {
		t.Errorf("fragment after failure was trimmed: %q", got)
	}
}

func TestAssemble_MissingResultIsError(t *testing.T) {
	frags := []fragmenter.Fragment{frag(0, 0, 10, 0), frag(1, 10, 20, 0)}
	_, err := assembler.Assemble("u1", frags, map[int]string{0: "only one"}, nil)
	if err == nil {
		t.Fatal("expected error for missing fragment result")
	}
	var pf *assembler.PartialFailureError
	if errors.As(err, &pf) {
		t.Fatal("a missing result is a bug, not a partial failure")
	}
}
