// Package extsort orders line-record streams by hash. Two backends:
// an in-memory stable sort, and a disk-spilling run sort finished by a
// k-way heap merge for streams larger than RAM. Both keep equal-hash
// ties in the order records were added, which downstream relies on to
// pair the n-th occurrence in one file with the n-th in the other.
package extsort

import (
	"cmp"
	"errors"
	"slices"

	"github.com/billion-lines/compare/internal/hash"
)

var ErrSpill = errors.New("extsort: spill failure")

// Cursor pulls records in non-decreasing hash order.
type Cursor interface {
	// Next returns the next record; ok is false once the stream is
	// exhausted.
	Next() (rec hash.Record, ok bool, err error)
	Close() error
}

// Sorter consumes record batches and seals into a sorted Cursor.
type Sorter interface {
	Add(batch []hash.Record) error
	// Finish seals the input. The sorter must not be used after.
	Finish() (Cursor, error)
	// Count reports records added so far.
	Count() int64
}

// Memory collects everything into one slice. Suited to inputs whose
// record set fits comfortably in RAM.
type Memory struct {
	records []hash.Record
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Add(batch []hash.Record) error {
	m.records = append(m.records, batch...)
	return nil
}

func (m *Memory) Count() int64 {
	return int64(len(m.records))
}

func (m *Memory) Finish() (Cursor, error) {
	slices.SortStableFunc(m.records, func(a, b hash.Record) int {
		return cmp.Compare(a.Hash, b.Hash)
	})

	c := &sliceCursor{records: m.records}
	m.records = nil
	return c, nil
}

type sliceCursor struct {
	records []hash.Record
	pos     int
}

func (c *sliceCursor) Next() (hash.Record, bool, error) {
	if c.pos >= len(c.records) {
		return hash.Record{}, false, nil
	}

	rec := c.records[c.pos]
	c.pos++
	return rec, true, nil
}

func (c *sliceCursor) Close() error {
	c.records = nil
	return nil
}
