// Package compare owns the comparison pipeline: map both inputs, hash
// and sort each record stream, walk the two sorted streams to find
// surplus lines, and deliver them to the sink as events. One call to
// Start runs one comparison on background goroutines.
package compare

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/billion-lines/compare/internal/extsort"
	"github.com/billion-lines/compare/internal/hash"
	"github.com/billion-lines/compare/internal/merge"
	"github.com/billion-lines/compare/internal/mmap"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const spillDirPrefix = "billion-lines-compare"

// Comparison is one running (or finished) comparison.
type Comparison struct {
	log    *slog.Logger
	opts   Options
	sink   *lockedSink
	rep    *reporter
	cancel context.CancelFunc
	done   chan struct{}
}

// Start validates the request shape, spawns the pipeline, and returns
// immediately. Every outcome, success, failure, or cancellation, ends
// with exactly one OnDone on the sink; failures emit OnError first.
func Start(
	ctx context.Context,
	pathA, pathB string,
	opts Options,
	sink Sink,
	logger *slog.Logger,
) (*Comparison, error) {
	if sink == nil {
		return nil, errors.New("compare: nil sink")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(ctx)

	c := &Comparison{
		log:    logger.With("component", "compare"),
		opts:   opts,
		sink:   &lockedSink{sink: sink},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.rep = newReporter(c.sink, opts.ProgressInterval)

	go c.run(ctx, pathA, pathB)

	return c, nil
}

// Cancel aborts the comparison. Idempotent; safe after completion.
func (c *Comparison) Cancel() { c.cancel() }

// Wait blocks until OnDone has been delivered.
func (c *Comparison) Wait() { <-c.done }

func (c *Comparison) run(ctx context.Context, pathA, pathB string) {
	defer close(c.done)
	defer c.cancel()

	repCtx, stopRep := context.WithCancel(context.Background())
	repDone := make(chan struct{})
	go func() {
		defer close(repDone)
		c.rep.loop(repCtx)
	}()

	start := time.Now()
	err := c.pipeline(ctx, pathA, pathB)
	stopRep()
	<-repDone

	if err != nil {
		ce := classify(err)
		c.log.Error("comparison failed",
			"kind", string(ce.Kind),
			"error", ce.Err.Error(),
		)
		c.sink.OnError(ce.Kind, ce.Err.Error())
	} else {
		c.log.Info("comparison finished", "duration", time.Since(start))
	}

	c.rep.set(FileA, 100, "Done")
	c.rep.set(FileB, 100, "Done")
	c.sink.OnDone()
}

func (c *Comparison) pipeline(ctx context.Context, pathA, pathB string) error {
	spillDir := filepath.Join(
		c.tempRoot(),
		fmt.Sprintf("%s-%d-%s", spillDirPrefix, os.Getpid(), uuid.NewString()),
	)
	if err := os.MkdirAll(spillDir, 0o700); err != nil {
		return &Error{
			Kind: KindSpill,
			Err:  fmt.Errorf("create spill dir: %w", err),
		}
	}
	defer os.RemoveAll(spillDir)

	fileA, err := mmap.Open(pathA)
	if err != nil {
		return err
	}
	defer fileA.Close()

	fileB, err := mmap.Open(pathB)
	if err != nil {
		return err
	}
	defer fileB.Close()

	c.log.Info("comparing",
		"fileA", pathA,
		"sizeA", humanize.IBytes(uint64(fileA.Size())),
		"fileB", pathB,
		"sizeB", humanize.IBytes(uint64(fileB.Size())),
		"externalSort", c.opts.UseExternalSort,
	)

	// A fully finishes before B starts to halve peak memory.
	curA, countA, err := c.hashAndSort(ctx, fileA, FileA, spillDir)
	if err != nil {
		return err
	}
	defer curA.Close()

	curB, countB, err := c.hashAndSort(ctx, fileB, FileB, spillDir)
	if err != nil {
		return err
	}
	defer curB.Close()

	surplusA, surplusB, err := c.mergePhase(ctx, curA, curB, countA, countB)
	if err != nil {
		return err
	}

	if err := c.collect(ctx, fileA, FileA, surplusA); err != nil {
		return err
	}
	return c.collect(ctx, fileB, FileB, surplusB)
}

func (c *Comparison) tempRoot() string {
	if c.opts.TempRoot != "" {
		return c.opts.TempRoot
	}
	return os.TempDir()
}

// hashAndSort runs the hash stream into the chosen sorter and seals
// it. Hashing and sort ingest are pipelined over a bounded channel;
// the two steps are timed and reported separately.
func (c *Comparison) hashAndSort(
	ctx context.Context,
	f *mmap.File,
	file File,
	spillDir string,
) (extsort.Cursor, int64, error) {
	var sorter extsort.Sorter
	if c.opts.UseExternalSort {
		dir := filepath.Join(spillDir, strings.ToLower(string(file)))
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, 0, &Error{
				Kind: KindSpill,
				Err:  fmt.Errorf("create spill dir: %w", err),
			}
		}
		sorter = extsort.NewExternal(dir, c.opts.BatchRecords)
	} else {
		sorter = extsort.NewMemory()
	}

	hcfg := hash.Config{
		ChunkSize:   c.opts.ChunkSize,
		Workers:     c.opts.Workers,
		NumberLines: !c.opts.IgnoreLineNumber,
	}
	if c.opts.UseSingleThread {
		hcfg.Workers = 1
	}

	size := f.Size()
	records := make(chan []hash.Record, c.opts.ChannelDepth)

	hashStart := time.Now()
	var hashDur time.Duration

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(records)
		err := hash.Stream(gctx, f, hcfg, records, func(done int64) {
			c.rep.set(file, pct(done, size), "Hashing")
		})
		hashDur = time.Since(hashStart)
		return err
	})
	g.Go(func() error {
		for batch := range records {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := sorter.Add(batch); err != nil {
				return err
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	c.rep.set(file, 100, "Hashing")
	c.sink.OnStep("Hash "+string(file), hashDur)
	c.log.Debug("hashed",
		"file", string(file),
		"lines", sorter.Count(),
		"duration", hashDur,
	)

	sortStart := time.Now()
	cur, err := sorter.Finish()
	if err != nil {
		return nil, 0, err
	}
	c.rep.set(file, 100, "Sorting")
	c.sink.OnStep("Sort "+string(file), time.Since(sortStart))

	return cur, sorter.Count(), nil
}

// mergePhase walks the sorted streams and buffers the surplus records
// of each side. Buffered records are fixed-size; line text stays on
// disk until collection.
func (c *Comparison) mergePhase(
	ctx context.Context,
	curA, curB extsort.Cursor,
	countA, countB int64,
) (surplusA, surplusB []hash.Record, err error) {
	start := time.Now()

	var consumedA, consumedB int64
	mopts := merge.Opts{
		IgnoreOccurrences: c.opts.IgnoreOccurrences,
		EmitA: func(rec hash.Record) error {
			surplusA = append(surplusA, rec)
			return nil
		},
		EmitB: func(rec hash.Record) error {
			surplusB = append(surplusB, rec)
			return nil
		},
		Progress: func(ca, cb int64) {
			consumedA, consumedB = ca, cb
			c.rep.set(FileA, pct(ca, countA), "Merging")
			c.rep.set(FileB, pct(cb, countB), "Merging")
		},
	}

	if err := merge.Diff(ctx, curA, curB, mopts); err != nil {
		return nil, nil, err
	}

	if consumedA != countA || consumedB != countB {
		return nil, nil, internalf(
			"merge consumed %d/%d records, expected %d/%d",
			consumedA, consumedB, countA, countB,
		)
	}

	c.rep.set(FileA, 100, "Merging")
	c.rep.set(FileB, 100, "Merging")
	c.sink.OnStep("Merge", time.Since(start))
	c.log.Debug("merged",
		"surplusA", len(surplusA),
		"surplusB", len(surplusB),
		"duration", time.Since(start),
	)

	return surplusA, surplusB, nil
}

func pct(done, total int64) int {
	if total <= 0 {
		return 100
	}
	p := int(done * 100 / total)
	if p > 100 {
		p = 100
	}
	return p
}
