package refreshregistry

import (
	"testing"
	"time"
)

func TestMarkAndNeedsRefresh(t *testing.T) {
	r := New()
	issuedAt := time.Now()

	if r.NeedsRefresh(1, issuedAt) {
		t.Fatal("expected no refresh needed before any mark")
	}

	r.Mark(1, issuedAt.Add(time.Second))

	if !r.NeedsRefresh(1, issuedAt) {
		t.Fatal("expected refresh needed after mark at/after issuedAt")
	}
	if r.NeedsRefresh(1, issuedAt.Add(2*time.Second)) {
		t.Fatal("expected no refresh needed for a token issued after the mark")
	}
}

func TestClearOnlyRemovesStaleMark(t *testing.T) {
	r := New()
	base := time.Now()

	r.Mark(1, base)
	r.Clear(1, base.Add(-time.Second))
	if !r.NeedsRefresh(1, base) {
		t.Fatal("expected mark to survive a Clear with an older upToT")
	}

	r.Clear(1, base)
	if r.NeedsRefresh(1, base) {
		t.Fatal("expected mark to be cleared once upToT reaches the mark")
	}
}

func TestClearRaceWithNewerMark(t *testing.T) {
	r := New()
	base := time.Now()

	r.Mark(1, base)
	// A newer invalidation arrives mid-refresh.
	r.Mark(1, base.Add(time.Minute))
	// The in-flight refresh clears using the older timestamp.
	r.Clear(1, base)

	if r.NeedsRefresh(1, base.Add(time.Minute)) == false {
		t.Fatal("expected the newer mark to survive the stale Clear call")
	}
}

func TestSweepEvictsOldEntries(t *testing.T) {
	r := New()
	now := time.Now()

	r.Mark(1, now.Add(-10*time.Minute))
	r.Mark(2, now)

	evicted := r.Sweep(now.Add(-5 * time.Minute))
	if evicted != 1 {
		t.Fatalf("Sweep() evicted %d, want 1", evicted)
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
}
