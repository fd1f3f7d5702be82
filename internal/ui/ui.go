// Package ui binds the comparison engine to the Wails runtime. The
// engine itself knows nothing about the frontend; this client adapts
// its sink onto the runtime event bus.
package ui

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/billion-lines/compare/internal/compare"
	"github.com/wailsapp/wails/v2/pkg/runtime"
)

// Request mirrors the transport-level request the frontend sends. The
// field names are the wire contract; note the historical spelling of
// ignoreOccurences.
type Request struct {
	FileAPath        string `json:"fileAPath"`
	FileBPath        string `json:"fileBPath"`
	UseExternalSort  bool   `json:"useExternalSort"`
	IgnoreOccurences bool   `json:"ignoreOccurences"`
	UseSingleThread  bool   `json:"useSingleThread"`
	IgnoreLineNumber bool   `json:"ignoreLineNumber"`
	PrimaryKeyRegex  string `json:"primaryKeyRegex"`
}

type Client struct {
	log     *slog.Logger
	ctx     context.Context
	mu      sync.Mutex
	current *compare.Comparison
}

func NewClient() *Client {
	return &Client{
		log: slog.Default(),
		ctx: context.Background(),
	}
}

func (c *Client) Startup(ctx context.Context) {
	c.ctx = ctx
}

// StartComparison launches one comparison and returns immediately;
// results stream back as events. A second request while one is
// running is rejected.
func (c *Client) StartComparison(req Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		return errors.New("a comparison is already running")
	}

	opts := compare.DefaultOptions()
	opts.UseExternalSort = req.UseExternalSort
	opts.IgnoreOccurrences = req.IgnoreOccurences
	opts.UseSingleThread = req.UseSingleThread
	opts.IgnoreLineNumber = req.IgnoreLineNumber
	opts.PrimaryKeyRegex = req.PrimaryKeyRegex

	c.log.Info("starting comparison",
		"fileA", req.FileAPath,
		"fileB", req.FileBPath,
		"externalSort", req.UseExternalSort,
	)

	cmp, err := compare.Start(
		c.ctx,
		req.FileAPath,
		req.FileBPath,
		opts,
		&eventSink{ctx: c.ctx, client: c},
		c.log,
	)
	if err != nil {
		return err
	}

	c.current = cmp
	return nil
}

// CancelComparison aborts the running comparison, if any.
func (c *Client) CancelComparison() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.current.Cancel()
	}
}

// SelectFile opens a native picker for one input file.
func (c *Client) SelectFile(title string) (string, error) {
	return runtime.OpenFileDialog(c.ctx, runtime.OpenDialogOptions{
		Title: title,
	})
}

func (c *Client) finished() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
}

// eventSink forwards engine events to the frontend. Payload shapes are
// the wire contract the result pane renders from.
type eventSink struct {
	ctx    context.Context
	client *Client
}

type progressPayload struct {
	File       string `json:"file"`
	Percentage int    `json:"percentage"`
	Text       string `json:"text"`
}

type uniqueLinePayload struct {
	File       string `json:"file"`
	LineNumber uint64 `json:"line_number"`
	Text       string `json:"text"`
}

type stepPayload struct {
	Step       string `json:"step"`
	DurationMs uint64 `json:"duration_ms"`
}

type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (s *eventSink) OnProgress(file compare.File, percentage int, text string) {
	runtime.EventsEmit(s.ctx, "progress", progressPayload{
		File:       string(file),
		Percentage: percentage,
		Text:       text,
	})
}

func (s *eventSink) OnUniqueLine(file compare.File, lineNumber uint64, text string) {
	runtime.EventsEmit(s.ctx, "unique_line", uniqueLinePayload{
		File:       string(file),
		LineNumber: lineNumber,
		Text:       text,
	})
}

func (s *eventSink) OnStep(step string, duration time.Duration) {
	runtime.EventsEmit(s.ctx, "step_completed", stepPayload{
		Step:       step,
		DurationMs: uint64(duration.Milliseconds()),
	})
}

func (s *eventSink) OnError(kind compare.ErrorKind, message string) {
	runtime.EventsEmit(s.ctx, "error", errorPayload{
		Kind:    string(kind),
		Message: message,
	})
}

func (s *eventSink) OnDone() {
	runtime.EventsEmit(s.ctx, "comparison_finished", struct{}{})
	s.client.finished()
}
