// Package merge walks two hash-sorted record streams in lock-step and
// emits the surplus of each side: records whose hash has no
// counterpart on the other side, or that exceed the counterpart's
// multiplicity when occurrences are counted.
package merge

import (
	"context"

	"github.com/billion-lines/compare/internal/extsort"
	"github.com/billion-lines/compare/internal/hash"
)

// EmitFunc receives one surplus record.
type EmitFunc func(rec hash.Record) error

// ProgressFunc receives cumulative records consumed per side.
type ProgressFunc func(consumedA, consumedB int64)

const progressEvery = 1 << 16

// Opts configures one diff walk.
type Opts struct {
	// IgnoreOccurrences treats one match as cancelling every record
	// of the equal-hash group on both sides.
	IgnoreOccurrences bool

	EmitA, EmitB EmitFunc
	Progress     ProgressFunc
}

// peeker adds one-record lookahead to a cursor and counts consumption.
type peeker struct {
	c        extsort.Cursor
	head     hash.Record
	ok       bool
	consumed int64
}

func newPeeker(c extsort.Cursor) (*peeker, error) {
	p := &peeker{c: c}
	return p, p.advance()
}

func (p *peeker) advance() error {
	rec, ok, err := p.c.Next()
	if err != nil {
		return err
	}
	if ok {
		p.consumed++
	}
	p.head, p.ok = rec, ok
	return nil
}

// Diff consumes both cursors completely. Equal-hash groups are paired
// record by record so the n-th occurrence in A cancels the n-th in B;
// the cursors' stable tie order makes that original file order. The
// walk is O(1) in memory regardless of group size.
func Diff(ctx context.Context, a, b extsort.Cursor, opts Opts) error {
	pa, err := newPeeker(a)
	if err != nil {
		return err
	}
	pb, err := newPeeker(b)
	if err != nil {
		return err
	}

	var sinceProgress int64
	tick := func() error {
		sinceProgress++
		if sinceProgress >= progressEvery {
			sinceProgress = 0
			if err := ctx.Err(); err != nil {
				return err
			}
			if opts.Progress != nil {
				opts.Progress(pa.consumed, pb.consumed)
			}
		}
		return nil
	}

	emit := func(fn EmitFunc, rec hash.Record) error {
		if fn == nil {
			return nil
		}
		return fn(rec)
	}

	for pa.ok && pb.ok {
		switch {
		case pa.head.Hash < pb.head.Hash:
			if err := emit(opts.EmitA, pa.head); err != nil {
				return err
			}
			if err := pa.advance(); err != nil {
				return err
			}

		case pa.head.Hash > pb.head.Hash:
			if err := emit(opts.EmitB, pb.head); err != nil {
				return err
			}
			if err := pb.advance(); err != nil {
				return err
			}

		default:
			h := pa.head.Hash
			if opts.IgnoreOccurrences {
				if err := skipGroup(pa, h, tick); err != nil {
					return err
				}
				if err := skipGroup(pb, h, tick); err != nil {
					return err
				}
				continue
			}

			// Pair off occurrences until one side's group runs
			// out; the remainder of the other group is surplus.
			for pa.ok && pa.head.Hash == h && pb.ok && pb.head.Hash == h {
				if err := pa.advance(); err != nil {
					return err
				}
				if err := pb.advance(); err != nil {
					return err
				}
				if err := tick(); err != nil {
					return err
				}
			}
			if err := drainGroup(pa, h, opts.EmitA, tick); err != nil {
				return err
			}
			if err := drainGroup(pb, h, opts.EmitB, tick); err != nil {
				return err
			}
		}

		if err := tick(); err != nil {
			return err
		}
	}

	if err := drainAll(pa, opts.EmitA, tick); err != nil {
		return err
	}
	if err := drainAll(pb, opts.EmitB, tick); err != nil {
		return err
	}

	if opts.Progress != nil {
		opts.Progress(pa.consumed, pb.consumed)
	}
	return nil
}

func skipGroup(p *peeker, h uint64, tick func() error) error {
	for p.ok && p.head.Hash == h {
		if err := p.advance(); err != nil {
			return err
		}
		if err := tick(); err != nil {
			return err
		}
	}
	return nil
}

func drainGroup(p *peeker, h uint64, fn EmitFunc, tick func() error) error {
	for p.ok && p.head.Hash == h {
		if fn != nil {
			if err := fn(p.head); err != nil {
				return err
			}
		}
		if err := p.advance(); err != nil {
			return err
		}
		if err := tick(); err != nil {
			return err
		}
	}
	return nil
}

func drainAll(p *peeker, fn EmitFunc, tick func() error) error {
	for p.ok {
		if fn != nil {
			if err := fn(p.head); err != nil {
				return err
			}
		}
		if err := p.advance(); err != nil {
			return err
		}
		if err := tick(); err != nil {
			return err
		}
	}
	return nil
}
