// Package hash turns a mapped file into a stream of fixed-size line
// records: 64-bit xxh3 of the line bytes, byte offset, and 1-based
// line number. Windows are hashed in parallel and re-sequenced so the
// emitted order is original file order.
package hash

import (
	"context"
	"runtime"
	"sync/atomic"

	"github.com/billion-lines/compare/internal/mmap"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"
)

// Record is the per-line unit flowing through the pipeline. Line is 0
// when line numbering is disabled.
type Record struct {
	Hash uint64
	Off  uint64
	Line uint64
}

// RecordSize is the on-disk encoding size of one Record.
const RecordSize = 24

const DefaultChunkSize = 16 << 20

type Config struct {
	// ChunkSize is the byte window handed to one worker.
	ChunkSize int64

	// Workers caps hashing parallelism. 1 runs windows sequentially.
	Workers int

	// NumberLines enables 1-based line numbering. Skipping it saves
	// a per-window line count fixup on wide files.
	NumberLines bool
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	return c
}

// ProgressFunc receives the cumulative bytes hashed so far. Calls are
// in-order and monotonic.
type ProgressFunc func(processedBytes int64)

type window struct {
	from, to int64
}

type windowResult struct {
	index   int
	records []Record
	bytes   int64
}

// Stream hashes every line of f exactly once and sends per-window
// record batches to out in original file order. out is not closed;
// the caller owns it. Returns on completion, context cancellation, or
// the first worker error.
func Stream(
	ctx context.Context,
	f *mmap.File,
	cfg Config,
	out chan<- []Record,
	progress ProgressFunc,
) error {
	cfg = cfg.withDefaults()

	windows := splitWindows(f.Size(), cfg.ChunkSize)
	if len(windows) == 0 {
		return nil
	}

	workers := cfg.Workers
	if workers > len(windows) {
		workers = len(windows)
	}

	g, gctx := errgroup.WithContext(ctx)

	var next atomic.Int64
	results := make(chan windowResult, workers)

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				idx := int(next.Add(1)) - 1
				if idx >= len(windows) {
					return nil
				}
				if err := gctx.Err(); err != nil {
					return err
				}

				w := windows[idx]
				recs := hashWindow(f, w.from, w.to, cfg.NumberLines)

				select {
				case results <- windowResult{
					index:   idx,
					records: recs,
					bytes:   w.to - w.from,
				}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		})
	}

	g.Go(func() error {
		return resequence(gctx, len(windows), results, out, cfg.NumberLines, progress)
	})

	return g.Wait()
}

func splitWindows(size, chunk int64) []window {
	if size == 0 {
		return nil
	}

	n := int((size + chunk - 1) / chunk)
	windows := make([]window, 0, n)
	for from := int64(0); from < size; from += chunk {
		to := from + chunk
		if to > size {
			to = size
		}
		windows = append(windows, window{from: from, to: to})
	}
	return windows
}

func hashWindow(f *mmap.File, from, to int64, numberLines bool) []Record {
	var recs []Record

	it := f.Lines(from, to)
	var local uint64
	for {
		off, length, ok := it.Next()
		if !ok {
			break
		}

		line := f.Bytes()[off : off+length]
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}

		rec := Record{Hash: xxh3.Hash(line), Off: uint64(off)}
		if numberLines {
			local++
			rec.Line = local // window-local; rebased during resequencing
		}
		recs = append(recs, rec)
	}
	return recs
}

// resequence reassembles worker output into window order, rebases
// window-local line numbers onto the running file total, and reports
// cumulative progress.
func resequence(
	ctx context.Context,
	total int,
	results <-chan windowResult,
	out chan<- []Record,
	numberLines bool,
	progress ProgressFunc,
) error {
	pending := make(map[int]windowResult)
	nextIdx := 0
	var lineBase uint64
	var doneBytes int64

	for nextIdx < total {
		var res windowResult
		if buffered, ok := pending[nextIdx]; ok {
			res = buffered
			delete(pending, nextIdx)
		} else {
			select {
			case r := <-results:
				if r.index != nextIdx {
					pending[r.index] = r
					continue
				}
				res = r
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if numberLines {
			for i := range res.records {
				res.records[i].Line += lineBase
			}
			lineBase += uint64(len(res.records))
		}

		doneBytes += res.bytes
		if len(res.records) > 0 {
			select {
			case out <- res.records:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if progress != nil {
			progress(doneBytes)
		}
		nextIdx++
	}
	return nil
}
