package compare

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/billion-lines/compare/internal/hash"
	"github.com/billion-lines/compare/internal/mmap"
)

const cancelCheckEvery = 4096

// collect materializes one file's surplus records as unique-line
// events. The merge walk emits in hash order, so records are first
// sorted back into file order; the UI then receives each file's lines
// in ascending line number.
func (c *Comparison) collect(
	ctx context.Context,
	f *mmap.File,
	file File,
	surplus []hash.Record,
) error {
	start := time.Now()

	slices.SortFunc(surplus, func(a, b hash.Record) int {
		return cmp.Compare(a.Off, b.Off)
	})

	for i, rec := range surplus {
		if i%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			c.rep.set(file, pct(int64(i), int64(len(surplus))), "Collecting")
		}

		line := f.LineAt(int64(rec.Off))
		c.sink.OnUniqueLine(
			file,
			rec.Line,
			strings.ToValidUTF8(string(line), "�"),
		)
	}

	c.rep.set(file, 100, "Collecting")
	c.sink.OnStep("Collect "+string(file), time.Since(start))
	return nil
}
