package compare

import (
	"runtime"
	"time"

	"github.com/billion-lines/compare/internal/extsort"
	"github.com/billion-lines/compare/internal/hash"
)

// Options carries the request flags plus the implementation tunables.
// The zero value of the tunables means "default"; request flags
// default to off.
type Options struct {
	// UseExternalSort spills sorted runs to disk instead of holding
	// the full record set in memory.
	UseExternalSort bool

	// IgnoreOccurrences makes one hash match cancel every occurrence
	// on both sides instead of pairing occurrences one to one.
	IgnoreOccurrences bool

	// UseSingleThread serializes the hashing windows within each
	// file. A and B are processed sequentially either way.
	UseSingleThread bool

	// IgnoreLineNumber skips line counting; unique-line events carry
	// line number 0.
	IgnoreLineNumber bool

	// PrimaryKeyRegex is accepted and carried for the UI's
	// post-processing. The engine does not interpret it.
	PrimaryKeyRegex string

	// ChunkSize is the hashing window in bytes.
	ChunkSize int64

	// Workers caps hashing parallelism; ignored under
	// UseSingleThread.
	Workers int

	// BatchRecords is the external-sort run size in records.
	BatchRecords int

	// ChannelDepth bounds the record-batch channel between hashing
	// and sorting.
	ChannelDepth int

	// ProgressInterval floors how often progress re-emits while a
	// phase is otherwise quiet.
	ProgressInterval time.Duration

	// TempRoot overrides the spill directory parent. Empty means
	// the OS temp directory.
	TempRoot string
}

func DefaultOptions() Options {
	return Options{
		ChunkSize:        hash.DefaultChunkSize,
		Workers:          runtime.NumCPU(),
		BatchRecords:     extsort.DefaultBatchRecords,
		ChannelDepth:     64,
		ProgressInterval: 250 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ChunkSize <= 0 {
		o.ChunkSize = d.ChunkSize
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.BatchRecords <= 0 {
		o.BatchRecords = d.BatchRecords
	}
	if o.ChannelDepth <= 0 {
		o.ChannelDepth = d.ChannelDepth
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = d.ProgressInterval
	}
	return o
}
