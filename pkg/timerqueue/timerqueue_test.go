package timerqueue

import (
	"testing"
	"time"
)

func TestPopDueOrdering(t *testing.T) {
	q := New()
	base := time.Now()
	q.Push(base.Add(3*time.Second), "c")
	q.Push(base.Add(1*time.Second), "a")
	q.Push(base.Add(2*time.Second), "b")

	due := q.PopDue(base.Add(2500 * time.Millisecond))
	if len(due) != 2 {
		t.Fatalf("expected 2 due entries, got %d", len(due))
	}
	if due[0].Value != "a" || due[1].Value != "b" {
		t.Fatalf("unexpected order: %v, %v", due[0].Value, due[1].Value)
	}
	if q.Len() != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", q.Len())
	}
}

func TestRemoveCancelsEntry(t *testing.T) {
	q := New()
	base := time.Now()
	e := q.Push(base.Add(time.Second), "x")
	q.Push(base.Add(2*time.Second), "y")
	q.Remove(e)

	due := q.PopDue(base.Add(5 * time.Second))
	if len(due) != 1 || due[0].Value != "y" {
		t.Fatalf("expected only y to remain, got %v", due)
	}
}

func TestNextWait(t *testing.T) {
	q := New()
	if _, ok := q.NextWait(time.Now()); ok {
		t.Fatal("expected no wait on empty queue")
	}
	now := time.Now()
	q.Push(now.Add(500*time.Millisecond), "a")
	d, ok := q.NextWait(now)
	if !ok {
		t.Fatal("expected a wait duration")
	}
	if d <= 0 || d > 500*time.Millisecond {
		t.Fatalf("unexpected wait duration: %v", d)
	}
	d2, _ := q.NextWait(now.Add(time.Second))
	if d2 != 0 {
		t.Fatalf("expected zero wait once due, got %v", d2)
	}
}
