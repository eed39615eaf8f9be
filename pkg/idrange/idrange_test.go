package idrange

import "testing"

func TestRangeContains(t *testing.T) {
	r := Range{First: 100, Count: 10}
	if !r.Contains(100) || !r.Contains(109) {
		t.Fatalf("expected endpoints to be contained in %v", r)
	}
	if r.Contains(99) || r.Contains(110) {
		t.Fatalf("expected out-of-range values rejected by %v", r)
	}
}

func TestRangeCovers(t *testing.T) {
	outer := Range{First: 0, Count: 1000}
	inner := Range{First: 100, Count: 50}
	if !outer.Covers(inner) {
		t.Fatalf("expected %v to cover %v", outer, inner)
	}
	straddling := Range{First: 900, Count: 200}
	if outer.Covers(straddling) {
		t.Fatalf("did not expect %v to cover %v", outer, straddling)
	}
}

func TestSetCoversRangeRequiresSingleRange(t *testing.T) {
	s := Set{{First: 0, Count: 50}, {First: 100, Count: 50}}
	// Straddles the gap between the two ranges: it overlaps both members,
	// but no single range covers it.
	if s.CoversRange(Range{First: 40, Count: 70}) {
		t.Fatalf("expected straddling range to fail single-range coverage")
	}
	if !s.CoversRange(Range{First: 100, Count: 10}) {
		t.Fatalf("expected range fully inside one set member to be covered")
	}
}
