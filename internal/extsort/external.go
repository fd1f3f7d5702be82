package extsort

import (
	"bufio"
	"cmp"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/billion-lines/compare/internal/hash"
	"github.com/billion-lines/compare/pkg/heap"
	"github.com/golang/snappy"
)

// DefaultBatchRecords keeps one sort batch around 96 MiB.
const DefaultBatchRecords = 4 << 20

// External spills stably-sorted runs into dir and merges them on
// Finish. Run files are snappy-framed; the framing checksum doubles as
// spill integrity verification.
type External struct {
	dir          string
	batchRecords int
	buf          []hash.Record
	runs         []string
	count        int64
}

// NewExternal spills into dir, which must exist and is owned by the
// caller (the pipeline removes the whole spill directory when it
// returns).
func NewExternal(dir string, batchRecords int) *External {
	if batchRecords <= 0 {
		batchRecords = DefaultBatchRecords
	}
	return &External{
		dir:          dir,
		batchRecords: batchRecords,
		buf:          make([]hash.Record, 0, batchRecords),
	}
}

func (e *External) Add(batch []hash.Record) error {
	for len(batch) > 0 {
		room := e.batchRecords - len(e.buf)
		if room > len(batch) {
			room = len(batch)
		}
		e.buf = append(e.buf, batch[:room]...)
		batch = batch[room:]
		e.count += int64(room)

		if len(e.buf) == e.batchRecords {
			if err := e.flushRun(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *External) Count() int64 {
	return e.count
}

func (e *External) Finish() (Cursor, error) {
	if len(e.buf) > 0 {
		if err := e.flushRun(); err != nil {
			return nil, err
		}
	}
	e.buf = nil

	if len(e.runs) == 0 {
		return &sliceCursor{}, nil
	}

	return newMergeCursor(e.runs)
}

func (e *External) flushRun() error {
	slices.SortStableFunc(e.buf, func(a, b hash.Record) int {
		return cmp.Compare(a.Hash, b.Hash)
	})

	path := filepath.Join(e.dir, fmt.Sprintf("run-%06d", len(e.runs)))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrSpill, path, err)
	}

	w := snappy.NewBufferedWriter(f)

	var hdr [8]byte
	binary.LittleEndian.PutUint64(hdr[:], uint64(len(e.buf)))
	if _, err := w.Write(hdr[:]); err != nil {
		f.Close()
		return fmt.Errorf("%w: write %s: %v", ErrSpill, path, err)
	}

	var rec [hash.RecordSize]byte
	for _, r := range e.buf {
		binary.LittleEndian.PutUint64(rec[0:8], r.Hash)
		binary.LittleEndian.PutUint64(rec[8:16], r.Off)
		binary.LittleEndian.PutUint64(rec[16:24], r.Line)
		if _, err := w.Write(rec[:]); err != nil {
			f.Close()
			return fmt.Errorf("%w: write %s: %v", ErrSpill, path, err)
		}
	}

	if err := w.Close(); err != nil {
		f.Close()
		return fmt.Errorf("%w: flush %s: %v", ErrSpill, path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrSpill, path, err)
	}

	e.buf = e.buf[:0]
	e.runs = append(e.runs, path)
	return nil
}

// runReader streams one spill file back in its sorted order.
type runReader struct {
	f         *os.File
	r         *snappy.Reader
	remaining uint64
}

func openRun(path string) (*runReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrSpill, path, err)
	}

	r := snappy.NewReader(bufio.NewReaderSize(f, 1<<20))

	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: header %s: %v", ErrSpill, path, err)
	}

	return &runReader{
		f:         f,
		r:         r,
		remaining: binary.LittleEndian.Uint64(hdr[:]),
	}, nil
}

func (rr *runReader) next() (hash.Record, bool, error) {
	if rr.remaining == 0 {
		return hash.Record{}, false, nil
	}

	var buf [hash.RecordSize]byte
	if _, err := io.ReadFull(rr.r, buf[:]); err != nil {
		return hash.Record{}, false, fmt.Errorf(
			"%w: read %s: %v", ErrSpill, rr.f.Name(), err,
		)
	}

	rr.remaining--
	return hash.Record{
		Hash: binary.LittleEndian.Uint64(buf[0:8]),
		Off:  binary.LittleEndian.Uint64(buf[8:16]),
		Line: binary.LittleEndian.Uint64(buf[16:24]),
	}, true, nil
}

func (rr *runReader) close() error {
	return rr.f.Close()
}

type runHead struct {
	rec hash.Record
	run int
}

// mergeCursor k-way merges run readers through a min-heap. Runs are
// flushed in input order, so breaking hash ties by run index keeps the
// merged stream stable in original file order.
type mergeCursor struct {
	readers []*runReader
	pq      *heap.PriorityQueue[runHead]
}

func newMergeCursor(paths []string) (Cursor, error) {
	mc := &mergeCursor{
		pq: heap.NewPriorityQueue(func(a, b runHead) bool {
			if a.rec.Hash != b.rec.Hash {
				return a.rec.Hash < b.rec.Hash
			}
			return a.run < b.run
		}),
	}

	for i, path := range paths {
		rr, err := openRun(path)
		if err != nil {
			mc.Close()
			return nil, err
		}
		mc.readers = append(mc.readers, rr)

		rec, ok, err := rr.next()
		if err != nil {
			mc.Close()
			return nil, err
		}
		if ok {
			mc.pq.Enqueue(runHead{rec: rec, run: i})
		}
	}

	return mc, nil
}

func (mc *mergeCursor) Next() (hash.Record, bool, error) {
	head, ok := mc.pq.Dequeue()
	if !ok {
		return hash.Record{}, false, nil
	}

	rec, more, err := mc.readers[head.run].next()
	if err != nil {
		return hash.Record{}, false, err
	}
	if more {
		mc.pq.Enqueue(runHead{rec: rec, run: head.run})
	}

	return head.rec, true, nil
}

func (mc *mergeCursor) Close() error {
	var firstErr error
	for _, rr := range mc.readers {
		if err := rr.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	mc.readers = nil
	return firstErr
}
