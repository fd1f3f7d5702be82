package merge

import (
	"context"
	"testing"

	"github.com/billion-lines/compare/internal/extsort"
	"github.com/billion-lines/compare/internal/hash"
)

// sortedCursor sorts the given hashes through an in-memory sorter and
// returns its cursor. Offsets are i*10 and lines 1..n in input order.
func sortedCursor(t *testing.T, hashes []uint64) extsort.Cursor {
	t.Helper()

	s := extsort.NewMemory()
	recs := make([]hash.Record, len(hashes))
	for i, h := range hashes {
		recs[i] = hash.Record{Hash: h, Off: uint64(i * 10), Line: uint64(i + 1)}
	}
	if err := s.Add(recs); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	c, err := s.Finish()
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	return c
}

func diffHashes(
	t *testing.T,
	a, b []uint64,
	ignoreOccurrences bool,
) (surplusA, surplusB []uint64) {
	t.Helper()

	err := Diff(
		context.Background(),
		sortedCursor(t, a),
		sortedCursor(t, b),
		Opts{
			IgnoreOccurrences: ignoreOccurrences,
			EmitA: func(rec hash.Record) error {
				surplusA = append(surplusA, rec.Hash)
				return nil
			},
			EmitB: func(rec hash.Record) error {
				surplusB = append(surplusB, rec.Hash)
				return nil
			},
		},
	)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	return surplusA, surplusB
}

func equalU64(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDiff(t *testing.T) {
	x, y, z := uint64(10), uint64(20), uint64(30)

	tests := []struct {
		name              string
		a, b              []uint64
		ignoreOccurrences bool
		wantA, wantB      []uint64
	}{
		{
			name: "identical",
			a:    []uint64{x, y, z},
			b:    []uint64{x, y, z},
		},
		{
			name:  "one missing in b",
			a:     []uint64{x, y, z},
			b:     []uint64{x, z},
			wantA: []uint64{y},
		},
		{
			name:  "disjoint",
			a:     []uint64{x, y},
			b:     []uint64{z},
			wantA: []uint64{x, y},
			wantB: []uint64{z},
		},
		{
			name:  "multiplicity surplus",
			a:     []uint64{x, x, x, y},
			b:     []uint64{x, y},
			wantA: []uint64{x, x},
		},
		{
			name:              "multiplicity ignored",
			a:                 []uint64{x, x, x, y},
			b:                 []uint64{x, y},
			ignoreOccurrences: true,
		},
		{
			name:  "empty a",
			a:     nil,
			b:     []uint64{x, y},
			wantB: []uint64{x, y},
		},
		{
			name: "both empty",
		},
		{
			name:  "b exhausts first",
			a:     []uint64{x, y, z, z},
			b:     []uint64{x},
			wantA: []uint64{y, z, z},
		},
		{
			name:              "ignore occurrences still reports unmatched",
			a:                 []uint64{x, y},
			b:                 []uint64{x, z},
			ignoreOccurrences: true,
			wantA:             []uint64{y},
			wantB:             []uint64{z},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotA, gotB := diffHashes(t, tt.a, tt.b, tt.ignoreOccurrences)
			if !equalU64(gotA, tt.wantA) {
				t.Errorf("surplus A = %v, want %v", gotA, tt.wantA)
			}
			if !equalU64(gotB, tt.wantB) {
				t.Errorf("surplus B = %v, want %v", gotB, tt.wantB)
			}
		})
	}
}

// The n-th occurrence in A pairs with the n-th in B, so the surplus of
// the larger side is its trailing occurrences in original order.
func TestDiff_StablePairing(t *testing.T) {
	h := uint64(42)

	var surplus []hash.Record
	err := Diff(
		context.Background(),
		sortedCursor(t, []uint64{h, h, h}),
		sortedCursor(t, []uint64{h}),
		Opts{
			EmitA: func(rec hash.Record) error {
				surplus = append(surplus, rec)
				return nil
			},
		},
	)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}

	if len(surplus) != 2 {
		t.Fatalf("got %d surplus records, want 2", len(surplus))
	}
	// sortedCursor numbers lines 1..n; the first occurrence paired
	// off, leaving lines 2 and 3.
	if surplus[0].Line != 2 || surplus[1].Line != 3 {
		t.Errorf("surplus lines = %d,%d, want 2,3",
			surplus[0].Line, surplus[1].Line)
	}
}

func TestDiff_ProgressReportsTotals(t *testing.T) {
	a := make([]uint64, 1000)
	b := make([]uint64, 500)
	for i := range a {
		a[i] = uint64(i)
	}
	for i := range b {
		b[i] = uint64(i * 2)
	}

	var lastA, lastB int64
	err := Diff(
		context.Background(),
		sortedCursor(t, a),
		sortedCursor(t, b),
		Opts{
			Progress: func(ca, cb int64) { lastA, lastB = ca, cb },
		},
	)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}

	if lastA != int64(len(a)) || lastB != int64(len(b)) {
		t.Errorf("final progress = %d,%d, want %d,%d",
			lastA, lastB, len(a), len(b))
	}
}

func TestDiff_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := make([]uint64, 1<<17)
	b := make([]uint64, 1<<17)
	for i := range a {
		a[i] = uint64(i)
		b[i] = uint64(i)
	}

	err := Diff(ctx, sortedCursor(t, a), sortedCursor(t, b), Opts{})
	if err == nil {
		t.Fatal("Diff() on cancelled context returned nil error")
	}
}
