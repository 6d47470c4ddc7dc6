package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/ferrobot-core/internal/command"
	"github.com/nerrad567/ferrobot-core/internal/device"
	"github.com/nerrad567/ferrobot-core/internal/infrastructure/config"
)

// Logger is the logging interface used by the journal writer.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Writer buffers entries and mode changes and persists them in batches.
type Writer struct {
	repo          Repository
	entries       chan Entry
	modes         chan ModeChange
	batchSize     int
	flushInterval time.Duration
	logger        Logger

	closeOnce sync.Once
	done      chan struct{}

	recorded atomic.Uint64
	dropped  atomic.Uint64
	failed   atomic.Uint64
}

// Stats counts the writer's activity since creation.
type Stats struct {
	Recorded uint64 `json:"recorded"`
	Dropped  uint64 `json:"dropped"`
	Failed   uint64 `json:"failed"`
	Pending  int    `json:"pending"`
}

// NewWriter creates a writer over repo. Non-positive sizes fall back to
// small defaults.
func NewWriter(repo Repository, cfg config.JournalConfig) *Writer {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	return &Writer{
		repo:          repo,
		entries:       make(chan Entry, cfg.Buffer),
		modes:         make(chan ModeChange, 16),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		logger:        noopLogger{},
		done:          make(chan struct{}),
	}
}

// SetLogger sets the logger for the writer.
func (w *Writer) SetLogger(logger Logger) {
	if logger != nil {
		w.logger = logger
	}
}

// Observe journals a batch of collected commands. It matches the host's
// observer signature and never blocks: payloads are copied because the
// host releases the frames right after the call.
func (w *Writer) Observe(cmds []command.Command) {
	now := time.Now().UTC()
	for _, cmd := range cmds {
		w.Record(Entry{
			ID:         cmd.ID,
			Device:     cmd.Device,
			Tag:        uint8(cmd.Tag),
			Source:     SourceQueued,
			Payload:    append([]byte(nil), cmd.Payload()...),
			RecordedAt: now,
		})
	}
}

// Record enqueues one entry, dropping it when the buffer is full.
func (w *Writer) Record(e Entry) {
	select {
	case <-w.done:
		w.dropped.Add(1)
		return
	default:
	}
	select {
	case w.entries <- e:
	default:
		if w.dropped.Add(1)%100 == 1 {
			w.logger.Warn("journal buffer full, dropping entries", "dropped", w.dropped.Load())
		}
	}
}

// RecordMode enqueues a mode transition.
func (w *Writer) RecordMode(_ context.Context, mode device.Mode) {
	select {
	case <-w.done:
		return
	default:
	}
	select {
	case w.modes <- ModeChange{Mode: mode, ChangedAt: time.Now().UTC()}:
	default:
		w.logger.Warn("journal mode buffer full", "mode", mode.String())
	}
}

// Stats returns the writer counters.
func (w *Writer) Stats() Stats {
	return Stats{
		Recorded: w.recorded.Load(),
		Dropped:  w.dropped.Load(),
		Failed:   w.failed.Load(),
		Pending:  len(w.entries),
	}
}

// Run persists buffered records until ctx is cancelled, then flushes what
// is left and returns nil.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, w.batchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := w.repo.Append(ctx, batch); err != nil {
			w.failed.Add(uint64(len(batch)))
			w.logger.Error("journal append failed", "entries", len(batch), "error", err)
		} else {
			w.recorded.Add(uint64(len(batch)))
		}
		batch = make([]Entry, 0, w.batchSize)
	}

	for {
		select {
		case <-ctx.Done():
			w.closeOnce.Do(func() { close(w.done) })
			final := context.WithoutCancel(ctx)
			w.drain(final, &batch)
			flush(final)
			return nil
		case e := <-w.entries:
			batch = append(batch, e)
			if len(batch) >= w.batchSize {
				flush(ctx)
			}
		case m := <-w.modes:
			w.writeMode(ctx, m)
		case <-ticker.C:
			flush(ctx)
		}
	}
}

// drain empties both channels after shutdown has been signalled.
func (w *Writer) drain(ctx context.Context, batch *[]Entry) {
	for {
		select {
		case e := <-w.entries:
			*batch = append(*batch, e)
		case m := <-w.modes:
			w.writeMode(ctx, m)
		default:
			return
		}
	}
}

func (w *Writer) writeMode(ctx context.Context, m ModeChange) {
	if err := w.repo.RecordMode(ctx, m); err != nil {
		w.logger.Error("journal mode write failed", "mode", m.Mode.String(), "error", err)
	}
}

// recordingExecutor journals every synchronous command and its response.
type recordingExecutor struct {
	next command.Executor
	w    *Writer
}

// WrapExecutor returns an executor that runs next and journals the command
// with the host's response code.
func WrapExecutor(next command.Executor, w *Writer) command.Executor {
	return &recordingExecutor{next: next, w: w}
}

func (e *recordingExecutor) Execute(ctx context.Context, cmd command.Command) command.Response {
	resp := e.next.Execute(ctx, cmd)
	e.w.Record(Entry{
		ID:         cmd.ID,
		Device:     cmd.Device,
		Tag:        uint8(cmd.Tag),
		Source:     SourceSync,
		Payload:    append([]byte(nil), cmd.Payload()...),
		Response:   resp.Code.String(),
		RecordedAt: time.Now().UTC(),
	})
	return resp
}
