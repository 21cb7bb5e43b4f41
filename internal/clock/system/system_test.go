// Package system exercises the clock adapters.
package system

import (
	"testing"
	"time"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

// TestClockNowMonotonic checks successive timestamps are non-decreasing.
func TestClockNowMonotonic(t *testing.T) {
	t.Parallel()

	clk := New()
	first := clk.Now()
	second := clk.Now()
	if second.Before(first) {
		t.Fatalf("expected second call %v to be >= first %v", second, first)
	}
}

func TestFromSourceDateEpoch(t *testing.T) {
	t.Parallel()

	clk, err := FromSourceDateEpoch("1700000000")
	if err != nil {
		t.Fatalf("FromSourceDateEpoch() error = %v", err)
	}
	want := time.Unix(1700000000, 0).UTC()
	if got := clk.Now(); !got.Equal(want) || got.Location() != time.UTC {
		t.Fatalf("expected %v, got %v", want, got)
	}
	time.Sleep(time.Millisecond)
	if !clk.Now().Equal(want) {
		t.Fatal("pinned clock moved")
	}

	wall, err := FromSourceDateEpoch(" ")
	if err != nil || wall.fixed != nil {
		t.Fatalf("expected wall clock, got %+v err=%v", wall, err)
	}

	if _, err := FromSourceDateEpoch("yesterday"); err == nil {
		t.Fatal("expected parse error")
	}
}
