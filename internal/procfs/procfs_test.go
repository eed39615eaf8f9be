package procfs

import "testing"

func TestMatchesExpectedArgvRequiresTrailingEmpty(t *testing.T) {
	expected := []string{"lithos-knot", "--config", "{}", ""}
	c := Candidate{Cmdline: []string{"lithos-knot", "--config", "{}", ""}}
	if !MatchesExpectedArgv(c, expected) {
		t.Fatal("expected exact match with trailing empty marker to succeed")
	}
}

func TestMatchesExpectedArgvRejectsMissingMarker(t *testing.T) {
	expected := []string{"lithos-knot", "--config", "{}", ""}
	c := Candidate{Cmdline: []string{"lithos-knot", "--config", "{}"}}
	if MatchesExpectedArgv(c, expected) {
		t.Fatal("expected length mismatch to fail")
	}
}

func TestMatchesExpectedArgvRejectsDifferentArgs(t *testing.T) {
	expected := []string{"lithos-knot", "--config", "{}", ""}
	c := Candidate{Cmdline: []string{"lithos-knot", "--config", "{different}", ""}}
	if MatchesExpectedArgv(c, expected) {
		t.Fatal("expected differing args to fail match")
	}
}

func TestCommandBase(t *testing.T) {
	c := Candidate{Cmdline: []string{"/usr/local/bin/lithos-knot"}}
	if got := CommandBase(c); got != "lithos-knot" {
		t.Fatalf("expected lithos-knot, got %q", got)
	}
}
