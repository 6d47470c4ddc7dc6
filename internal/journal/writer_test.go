package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/ferrobot-core/internal/command"
	"github.com/nerrad567/ferrobot-core/internal/device"
	"github.com/nerrad567/ferrobot-core/internal/infrastructure/config"
	"github.com/nerrad567/ferrobot-core/internal/wire"
)

// memRepository keeps appended records in memory.
type memRepository struct {
	mu      sync.Mutex
	entries []Entry
	modes   []ModeChange
	batches int
	err     error
}

func (r *memRepository) Append(_ context.Context, entries []Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.batches++
	r.entries = append(r.entries, entries...)
	return nil
}

func (r *memRepository) List(context.Context, Filter) (*ListResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &ListResult{Entries: r.entries, Total: len(r.entries)}, nil
}

func (r *memRepository) RecordMode(_ context.Context, c ModeChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modes = append(r.modes, c)
	return nil
}

func (r *memRepository) Modes(context.Context, int) ([]ModeChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.modes, nil
}

func (r *memRepository) snapshot() ([]Entry, []ModeChange, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...), append([]ModeChange(nil), r.modes...), r.batches
}

func runWriter(t *testing.T, w *Writer) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() error = %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Run() did not return after cancel")
		}
	}
}

func TestWriter_ObserveCopiesPayloads(t *testing.T) {
	repo := &memRepository{}
	w := NewWriter(repo, config.JournalConfig{Buffer: 16, BatchSize: 8, FlushInterval: time.Hour})

	dev := device.Identity{Kind: device.KindSparkMax, ID: 3}
	cmd := command.New(dev, 2, []byte{0xAA, 0xBB})
	w.Observe([]command.Command{cmd})
	wire.Release(cmd.Frame)

	stop := runWriter(t, w)
	stop()

	entries, _, _ := repo.snapshot()
	if len(entries) != 1 {
		t.Fatalf("journaled %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.ID != cmd.ID || e.Device != dev || e.Tag != 2 || e.Source != SourceQueued {
		t.Errorf("entry = %+v", e)
	}
	if string(e.Payload) != string([]byte{0xAA, 0xBB}) {
		t.Errorf("payload = %x, want aabb", e.Payload)
	}
	if s := w.Stats(); s.Recorded != 1 || s.Dropped != 0 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestWriter_BatchesBySize(t *testing.T) {
	repo := &memRepository{}
	w := NewWriter(repo, config.JournalConfig{Buffer: 64, BatchSize: 4, FlushInterval: time.Hour})
	stop := runWriter(t, w)

	for i := range 8 {
		w.Record(Entry{Device: device.Identity{Kind: device.KindSparkMax, ID: uint8(i + 1)}, Source: SourceQueued})
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if entries, _, _ := repo.snapshot(); len(entries) == 8 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("entries not flushed by batch size")
		}
		time.Sleep(5 * time.Millisecond)
	}
	stop()

	if _, _, batches := repo.snapshot(); batches != 2 {
		t.Errorf("batches = %d, want 2", batches)
	}
}

func TestWriter_DropsWhenFull(t *testing.T) {
	repo := &memRepository{}
	w := NewWriter(repo, config.JournalConfig{Buffer: 2, BatchSize: 8, FlushInterval: time.Hour})

	for range 5 {
		w.Record(Entry{Source: SourceQueued})
	}
	if s := w.Stats(); s.Dropped != 3 || s.Pending != 2 {
		t.Errorf("Stats() = %+v, want 3 dropped and 2 pending", s)
	}

	stop := runWriter(t, w)
	stop()
	w.Record(Entry{Source: SourceQueued})

	entries, _, _ := repo.snapshot()
	if len(entries) != 2 {
		t.Errorf("journaled %d entries, want 2", len(entries))
	}
	if s := w.Stats(); s.Dropped != 4 {
		t.Errorf("Dropped after close = %d, want 4", s.Dropped)
	}
}

func TestWriter_AppendFailureCounted(t *testing.T) {
	repo := &memRepository{err: errors.New("disk full")}
	w := NewWriter(repo, config.JournalConfig{Buffer: 8, BatchSize: 8, FlushInterval: time.Hour})
	w.Record(Entry{Source: SourceQueued})
	w.Record(Entry{Source: SourceQueued})

	stop := runWriter(t, w)
	stop()

	if s := w.Stats(); s.Failed != 2 || s.Recorded != 0 {
		t.Errorf("Stats() = %+v, want 2 failed", s)
	}
}

func TestWriter_RecordMode(t *testing.T) {
	repo := &memRepository{}
	w := NewWriter(repo, config.JournalConfig{})
	w.RecordMode(context.Background(), device.ModeAutonomous)

	stop := runWriter(t, w)
	stop()

	_, modes, _ := repo.snapshot()
	if len(modes) != 1 || modes[0].Mode != device.ModeAutonomous {
		t.Errorf("modes = %+v", modes)
	}
}

func TestWrapExecutor(t *testing.T) {
	repo := &memRepository{}
	w := NewWriter(repo, config.JournalConfig{})

	next := command.ExecutorFunc(func(context.Context, command.Command) command.Response {
		return command.Response{Code: command.ResponseExists}
	})
	exec := WrapExecutor(next, w)

	dev := device.Identity{Kind: device.KindNavX, ID: 0}
	cmd := command.New(dev, 0, []byte{7})
	defer wire.Release(cmd.Frame)

	if resp := exec.Execute(context.Background(), cmd); resp.Code != command.ResponseExists {
		t.Fatalf("Execute() code = %s, want exists", resp.Code)
	}

	stop := runWriter(t, w)
	stop()

	entries, _, _ := repo.snapshot()
	if len(entries) != 1 {
		t.Fatalf("journaled %d entries, want 1", len(entries))
	}
	if e := entries[0]; e.Source != SourceSync || e.Response != "exists" || e.Device != dev {
		t.Errorf("entry = %+v", e)
	}
}
