package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"sms-range-relay/internal/domain"
)

func TestLoadEmptyDirectory(t *testing.T) {
	store := NewFileStore(t.TempDir(), zerolog.Nop())
	ranges, numbers, err := store.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ranges) != 0 || len(numbers) != 0 {
		t.Fatalf("expected empty state on first run")
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	store := NewFileStore(t.TempDir(), zerolog.Nop())

	ranges := domain.RangeState{
		"US-Verizon": {RangeName: "US-Verizon", RangeID: "rng-1", Count: 3, Paid: 2, Unpaid: 1, Revenue: 0.15},
	}
	numbers := domain.NumberState{}
	numbers.SetTracked("US-Verizon", "14155550101", domain.TrackedNumber{NumberID: "777", Delivered: 3})

	if err := store.Save(ranges, numbers); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	gotRanges, gotNumbers, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if gotRanges["US-Verizon"].Count != 3 {
		t.Fatalf("unexpected range state: %+v", gotRanges["US-Verizon"])
	}
	tracked, ok := gotNumbers.Tracked("US-Verizon", "14155550101")
	if !ok {
		t.Fatalf("tracked number lost in round trip")
	}
	if tracked.Delivered != 3 || tracked.NumberID != "777" {
		t.Fatalf("unexpected tracked number: %+v", tracked)
	}
}

func TestLoadToleratesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, rangesFile), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("prepare: %v", err)
	}

	store := NewFileStore(dir, zerolog.Nop())
	ranges, numbers, err := store.Load()
	if err != nil {
		t.Fatalf("corrupt file must not fail the load: %v", err)
	}
	if len(ranges) != 0 || len(numbers) != 0 {
		t.Fatalf("expected empty state after corrupt file")
	}
}

func TestSaveReplacesWholeSnapshot(t *testing.T) {
	store := NewFileStore(t.TempDir(), zerolog.Nop())

	first := domain.RangeState{"A": {RangeName: "A", Count: 1}, "B": {RangeName: "B", Count: 2}}
	if err := store.Save(first, domain.NumberState{}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	second := domain.RangeState{"A": {RangeName: "A", Count: 5}}
	if err := store.Save(second, domain.NumberState{}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, _, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("save must replace, not merge: %+v", got)
	}
	if got["A"].Count != 5 {
		t.Fatalf("unexpected count: %d", got["A"].Count)
	}
}
