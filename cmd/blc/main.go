// Command blc runs the comparison engine headless: same pipeline as
// the desktop app, progress on stderr, unique lines on stdout.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/billion-lines/compare/internal/compare"
	"github.com/billion-lines/compare/pkg/logging"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type flags struct {
	externalSort     bool
	ignoreOccurences bool
	singleThread     bool
	ignoreLineNumber bool
	primaryKeyRegex  string
	quiet            bool
	timings          bool
	verbose          bool
}

func main() {
	var f flags

	root := &cobra.Command{
		Use:   "blc <fileA> <fileB>",
		Short: "Report lines unique to each of two very large text files",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(args[0], args[1], f)
		},
	}

	root.Flags().BoolVar(&f.externalSort, "external-sort", false,
		"spill sorted runs to disk (for inputs larger than RAM)")
	root.Flags().BoolVar(&f.ignoreOccurences, "ignore-occurrences", false,
		"one hash match cancels all occurrences on both sides")
	root.Flags().BoolVar(&f.singleThread, "single-thread", false,
		"disable intra-file hashing parallelism")
	root.Flags().BoolVar(&f.ignoreLineNumber, "ignore-line-numbers", false,
		"skip line numbering")
	root.Flags().StringVar(&f.primaryKeyRegex, "primary-key-regex", "",
		"forwarded for post-processing; not applied by the engine")
	root.Flags().BoolVarP(&f.quiet, "quiet", "q", false,
		"suppress unique-line output, print only the summary")
	root.Flags().BoolVar(&f.timings, "timings", false,
		"print a per-stage timing table")
	root.Flags().BoolVarP(&f.verbose, "verbose", "v", false,
		"debug logging")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(pathA, pathB string, f flags) error {
	level := slog.LevelWarn
	if f.verbose {
		level = slog.LevelDebug
	}
	logOpts := logging.DefaultOptions()
	logOpts.SlogOpts.Level = level
	logOpts.ShowSource = false
	logger := slog.New(logging.NewPrettyHandler(os.Stderr, &logOpts))

	opts := compare.DefaultOptions()
	opts.UseExternalSort = f.externalSort
	opts.IgnoreOccurrences = f.ignoreOccurences
	opts.UseSingleThread = f.singleThread
	opts.IgnoreLineNumber = f.ignoreLineNumber
	opts.PrimaryKeyRegex = f.primaryKeyRegex

	ctx, stop := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	sink := newCliSink(f.quiet, f.timings)

	cmp, err := compare.Start(ctx, pathA, pathB, opts, sink, logger)
	if err != nil {
		return err
	}
	cmp.Wait()

	sink.finish()
	if sink.failed() {
		return fmt.Errorf("comparison failed")
	}
	return nil
}

// cliSink renders engine events for a terminal: a combined progress
// bar on stderr, unique lines on stdout.
type cliSink struct {
	quiet   bool
	timings bool

	bar      *progressbar.ProgressBar
	pct      map[compare.File]int
	start    time.Time
	steps    []stepTiming
	uniqueA  uint64
	uniqueB  uint64
	errKind  compare.ErrorKind
	errMsg   string
	hadError bool
}

type stepTiming struct {
	step string
	d    time.Duration
}

var (
	prefixA = color.New(color.FgRed).SprintFunc()
	prefixB = color.New(color.FgGreen).SprintFunc()
)

func newCliSink(quiet, timings bool) *cliSink {
	bar := progressbar.NewOptions(200,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Starting"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer: "=", SaucerHead: ">",
			SaucerPadding: " ", BarStart: "[", BarEnd: "]",
		}),
	)

	return &cliSink{
		quiet:   quiet,
		timings: timings,
		bar:     bar,
		pct:     map[compare.File]int{compare.FileA: 0, compare.FileB: 0},
		start:   time.Now(),
	}
}

func (s *cliSink) OnProgress(file compare.File, percentage int, text string) {
	s.pct[file] = percentage
	_ = s.bar.Set(s.pct[compare.FileA] + s.pct[compare.FileB])
	s.bar.Describe(fmt.Sprintf("%s %s", file, text))
}

func (s *cliSink) OnUniqueLine(file compare.File, lineNumber uint64, text string) {
	if file == compare.FileA {
		s.uniqueA++
	} else {
		s.uniqueB++
	}
	if s.quiet {
		return
	}

	prefix := prefixA(fmt.Sprintf("A:%d<", lineNumber))
	if file == compare.FileB {
		prefix = prefixB(fmt.Sprintf("B:%d>", lineNumber))
	}
	fmt.Fprintf(os.Stdout, "%s %s\n", prefix, text)
}

func (s *cliSink) OnStep(step string, duration time.Duration) {
	s.steps = append(s.steps, stepTiming{step: step, d: duration})
}

func (s *cliSink) OnError(kind compare.ErrorKind, message string) {
	s.hadError = true
	s.errKind = kind
	s.errMsg = message
}

func (s *cliSink) OnDone() {
	_ = s.bar.Finish()
}

func (s *cliSink) failed() bool { return s.hadError }

func (s *cliSink) finish() {
	if s.hadError {
		fmt.Fprintf(os.Stderr, "%s: %s\n",
			color.RedString(string(s.errKind)), s.errMsg)
		return
	}

	fmt.Fprintf(os.Stderr,
		"unique to A: %s lines, unique to B: %s lines (%s)\n",
		humanize.Comma(int64(s.uniqueA)),
		humanize.Comma(int64(s.uniqueB)),
		time.Since(s.start).Round(time.Millisecond),
	)

	if s.timings {
		for _, st := range s.steps {
			fmt.Fprintf(os.Stderr, "%-10s %s\n", st.step, st.d.Round(time.Millisecond))
		}
	}
}
