package device

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// inlineSpawner runs spawned tasks synchronously so tests can observe
// their effects as soon as Replace returns.
type inlineSpawner struct {
	spawned atomic.Int32
}

func (s *inlineSpawner) Spawn(_ string, fn func(ctx context.Context)) {
	s.spawned.Add(1)
	fn(context.Background())
}

// recordingHandler collects the payloads it receives.
type recordingHandler struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (h *recordingHandler) handle(_ context.Context, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.payloads = append(h.payloads, payload)
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.payloads)
}

func spark(id uint8) Identity { return Identity{Kind: KindSparkMax, ID: id} }

func snapshot(records ...Record) Snapshot {
	return Snapshot{Mode: ModeTeleoperated, Records: records}
}

func TestRegistry_AddDevice(t *testing.T) {
	t.Run("registers new identity", func(t *testing.T) {
		r := NewRegistry(nil)
		if err := r.AddDevice(spark(3)); err != nil {
			t.Fatalf("AddDevice() error = %v", err)
		}
		if !r.DeviceExists(spark(3)) {
			t.Error("DeviceExists() = false, want true")
		}
	})

	t.Run("duplicate fails without mutation", func(t *testing.T) {
		r := NewRegistry(nil)
		if err := r.AddDevice(spark(3)); err != nil {
			t.Fatalf("AddDevice() error = %v", err)
		}
		err := r.AddDevice(spark(3))
		if !errors.Is(err, ErrAlreadyRegistered) {
			t.Fatalf("AddDevice() error = %v, want ErrAlreadyRegistered", err)
		}
		if got := r.Stats().Registered; got != 1 {
			t.Errorf("Registered = %d, want 1", got)
		}
	})

	t.Run("same id different kind is distinct", func(t *testing.T) {
		r := NewRegistry(nil)
		if err := r.AddDevice(spark(1)); err != nil {
			t.Fatalf("AddDevice() error = %v", err)
		}
		if err := r.AddDevice(Identity{Kind: KindNavX, ID: 1}); err != nil {
			t.Fatalf("AddDevice() error = %v", err)
		}
	})

	t.Run("unknown kind rejected", func(t *testing.T) {
		r := NewRegistry(nil)
		err := r.AddDevice(Identity{Kind: Kind(99), ID: 1})
		if !errors.Is(err, ErrUnknownKind) {
			t.Errorf("AddDevice() error = %v, want ErrUnknownKind", err)
		}
	})
}

func TestRegistry_AddDeviceConcurrentDuplicate(t *testing.T) {
	r := NewRegistry(nil)

	const workers = 32
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		failures  atomic.Int32
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := r.AddDevice(spark(9)); {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrAlreadyRegistered):
				failures.Add(1)
			default:
				t.Errorf("AddDevice() unexpected error = %v", err)
			}
		}()
	}
	wg.Wait()

	if successes.Load() != 1 {
		t.Errorf("successes = %d, want 1", successes.Load())
	}
	if failures.Load() != workers-1 {
		t.Errorf("failures = %d, want %d", failures.Load(), workers-1)
	}
}

func TestRegistry_RemoveDevice(t *testing.T) {
	r := NewRegistry(nil)

	if err := r.RemoveDevice(spark(1)); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("RemoveDevice() error = %v, want ErrDeviceNotFound", err)
	}

	if err := r.AddDevice(spark(1)); err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}
	if err := r.RemoveDevice(spark(1)); err != nil {
		t.Fatalf("RemoveDevice() error = %v", err)
	}
	if r.DeviceExists(spark(1)) {
		t.Error("DeviceExists() = true after RemoveDevice")
	}

	// The identity can be registered again once removed.
	if err := r.AddDevice(spark(1)); err != nil {
		t.Errorf("AddDevice() after remove error = %v", err)
	}
}

func TestRegistry_SetTelemetryHandler(t *testing.T) {
	r := NewRegistry(nil)
	err := r.SetTelemetryHandler(spark(2), func(context.Context, []byte) {})
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("SetTelemetryHandler() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry_Devices(t *testing.T) {
	r := NewRegistry(nil)
	for _, id := range []Identity{{KindNavX, 0}, spark(9), spark(2)} {
		if err := r.AddDevice(id); err != nil {
			t.Fatalf("AddDevice(%s) error = %v", id, err)
		}
	}

	got := r.Devices()
	want := []Identity{spark(2), spark(9), {KindNavX, 0}}
	if len(got) != len(want) {
		t.Fatalf("Devices() len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Devices()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRegistry_Replace(t *testing.T) {
	t.Run("data reflects latest snapshot only", func(t *testing.T) {
		r := NewRegistry(nil)
		r.Replace(snapshot(Record{spark(1), []byte{1}}, Record{spark(2), []byte{2}}))
		r.Replace(snapshot(Record{spark(2), []byte{22}}))

		if _, ok := r.Data(spark(1)); ok {
			t.Error("Data(spark/1) present, want absent after replacement")
		}
		got, ok := r.Data(spark(2))
		if !ok || !bytes.Equal(got, []byte{22}) {
			t.Errorf("Data(spark/2) = %v, %v; want [22], true", got, ok)
		}
	})

	t.Run("unregistered devices are cached", func(t *testing.T) {
		r := NewRegistry(nil)
		r.Replace(snapshot(Record{spark(5), []byte{5}}))
		if _, ok := r.Data(spark(5)); !ok {
			t.Error("Data() absent for unregistered device in snapshot")
		}
	})

	t.Run("last duplicate record wins", func(t *testing.T) {
		r := NewRegistry(nil)
		r.Replace(snapshot(Record{spark(1), []byte{1}}, Record{spark(1), []byte{9}}))
		got, _ := r.Data(spark(1))
		if !bytes.Equal(got, []byte{9}) {
			t.Errorf("Data() = %v, want [9]", got)
		}
	})

	t.Run("data returns a copy", func(t *testing.T) {
		r := NewRegistry(nil)
		r.Replace(snapshot(Record{spark(1), []byte{1, 2}}))
		got, _ := r.Data(spark(1))
		got[0] = 0xff
		again, _ := r.Data(spark(1))
		if again[0] != 1 {
			t.Errorf("cache mutated through Data() result: %v", again)
		}
	})

	t.Run("empty snapshot clears cache", func(t *testing.T) {
		r := NewRegistry(nil)
		r.Replace(snapshot(Record{spark(1), []byte{1}}))
		r.Replace(Snapshot{})
		if got := r.Stats().Cached; got != 0 {
			t.Errorf("Cached = %d, want 0", got)
		}
	})
}

func TestRegistry_ReplaceDispatch(t *testing.T) {
	spawner := &inlineSpawner{}
	r := NewRegistry(spawner)

	registered := &recordingHandler{}
	absent := &recordingHandler{}
	for id, h := range map[Identity]*recordingHandler{spark(1): registered, spark(2): absent} {
		if err := r.AddDevice(id); err != nil {
			t.Fatalf("AddDevice() error = %v", err)
		}
		if err := r.SetTelemetryHandler(id, h.handle); err != nil {
			t.Fatalf("SetTelemetryHandler() error = %v", err)
		}
	}
	// Registered without a handler; must be silently skipped.
	if err := r.AddDevice(spark(3)); err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}

	r.Replace(snapshot(
		Record{spark(1), []byte{1}},
		Record{spark(3), []byte{3}},
		Record{spark(4), []byte{4}},
	))

	if spawner.spawned.Load() != 1 {
		t.Fatalf("spawned = %d, want 1", spawner.spawned.Load())
	}
	if registered.count() != 1 {
		t.Errorf("handler for device in snapshot called %d times, want 1", registered.count())
	}
	if absent.count() != 0 {
		t.Errorf("handler for device missing from snapshot called %d times, want 0", absent.count())
	}
}

func TestRegistry_EmitPolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy EmitPolicy
		want   int
	}{
		{"every tick emits unchanged payloads", EmitEveryTick, 3},
		{"on change skips unchanged payloads", EmitOnChange, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(&inlineSpawner{})
			r.SetEmitPolicy(tt.policy)
			h := &recordingHandler{}
			if err := r.AddDevice(spark(1)); err != nil {
				t.Fatalf("AddDevice() error = %v", err)
			}
			if err := r.SetTelemetryHandler(spark(1), h.handle); err != nil {
				t.Fatalf("SetTelemetryHandler() error = %v", err)
			}

			r.Replace(snapshot(Record{spark(1), []byte{1}}))
			r.Replace(snapshot(Record{spark(1), []byte{1}}))
			r.Replace(snapshot(Record{spark(1), []byte{2}}))

			if h.count() != tt.want {
				t.Errorf("handler calls = %d, want %d", h.count(), tt.want)
			}
		})
	}
}

// goSpawner runs each task on its own goroutine, like the core runtime.
type goSpawner struct {
	wg sync.WaitGroup
}

func (s *goSpawner) Spawn(_ string, fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(context.Background())
	}()
}

func (h *recordingHandler) last() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.payloads) == 0 {
		return nil
	}
	return h.payloads[len(h.payloads)-1]
}

func (h *recordingHandler) sequence() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]byte, 0, len(h.payloads))
	for _, p := range h.payloads {
		out = append(out, p[0])
	}
	return out
}

func TestRegistry_SlowHandlerNeverDeliversStaleTelemetry(t *testing.T) {
	tests := []struct {
		name      string
		policy    EmitPolicy
		snapshots []byte
	}{
		{"every tick", EmitEveryTick, []byte{1, 2}},
		{"on change", EmitOnChange, []byte{1, 2, 2, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spawner := &goSpawner{}
			r := NewRegistry(spawner)
			r.SetEmitPolicy(tt.policy)
			h := &recordingHandler{}
			if err := r.AddDevice(spark(1)); err != nil {
				t.Fatalf("AddDevice() error = %v", err)
			}
			_ = r.SetTelemetryHandler(spark(1), func(ctx context.Context, payload []byte) {
				if payload[0] == 1 {
					time.Sleep(20 * time.Millisecond)
				}
				h.handle(ctx, payload)
			})

			for _, v := range tt.snapshots {
				r.Replace(snapshot(Record{spark(1), []byte{v}}))
			}
			spawner.wg.Wait()

			cached, _ := r.Data(spark(1))
			if !bytes.Equal(cached, []byte{2}) {
				t.Fatalf("Data() = %v, want [2]", cached)
			}
			if got := h.last(); !bytes.Equal(got, []byte{2}) {
				t.Errorf("last delivered = %v, want [2] (sequence %v)", got, h.sequence())
			}
			seq := h.sequence()
			for i := 1; i < len(seq); i++ {
				if seq[i] < seq[i-1] {
					t.Errorf("delivered sequence %v goes backwards", seq)
				}
			}
		})
	}
}

func TestRegistry_OnChangeComparesWithLastDelivered(t *testing.T) {
	r := NewRegistry(&inlineSpawner{})
	r.SetEmitPolicy(EmitOnChange)
	first := &recordingHandler{}
	if err := r.AddDevice(spark(1)); err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}
	_ = r.SetTelemetryHandler(spark(1), first.handle)

	r.Replace(snapshot(Record{spark(1), []byte{1}}))
	r.Replace(snapshot())
	r.Replace(snapshot(Record{spark(1), []byte{1}}))
	if first.count() != 1 {
		t.Errorf("handler calls after gap = %d, want 1", first.count())
	}

	// A newly bound handler has not seen the payload yet.
	second := &recordingHandler{}
	_ = r.SetTelemetryHandler(spark(1), second.handle)
	r.Replace(snapshot(Record{spark(1), []byte{1}}))
	if second.count() != 1 {
		t.Errorf("rebound handler calls = %d, want 1", second.count())
	}

	// Nor has a device registered again after removal.
	_ = r.RemoveDevice(spark(1))
	r.Replace(snapshot(Record{spark(1), []byte{1}}))
	_ = r.AddDevice(spark(1))
	third := &recordingHandler{}
	_ = r.SetTelemetryHandler(spark(1), third.handle)
	r.Replace(snapshot(Record{spark(1), []byte{1}}))
	if third.count() != 1 {
		t.Errorf("re-registered handler calls = %d, want 1", third.count())
	}
}

func TestRegistry_HandlerPanicRecovered(t *testing.T) {
	r := NewRegistry(&inlineSpawner{})
	ok := &recordingHandler{}

	for _, id := range []Identity{spark(1), spark(2)} {
		if err := r.AddDevice(id); err != nil {
			t.Fatalf("AddDevice() error = %v", err)
		}
	}
	_ = r.SetTelemetryHandler(spark(1), func(context.Context, []byte) { panic("boom") })
	_ = r.SetTelemetryHandler(spark(2), ok.handle)

	r.Replace(snapshot(Record{spark(1), []byte{1}}, Record{spark(2), []byte{2}}))

	if ok.count() != 1 {
		t.Errorf("healthy handler calls = %d, want 1", ok.count())
	}
}

func TestRegistry_HandlerMayReadCache(t *testing.T) {
	r := NewRegistry(&inlineSpawner{})
	if err := r.AddDevice(spark(1)); err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}

	var seen []byte
	_ = r.SetTelemetryHandler(spark(1), func(context.Context, []byte) {
		seen, _ = r.Data(spark(1))
		_ = r.DeviceExists(spark(1))
	})

	r.Replace(snapshot(Record{spark(1), []byte{7}}))
	if !bytes.Equal(seen, []byte{7}) {
		t.Errorf("handler read %v, want [7]", seen)
	}
}

func TestRegistry_ConcurrentReplaceAndRead(t *testing.T) {
	r := NewRegistry(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			if got, ok := r.Data(spark(1)); ok && len(got) != 1 {
				t.Errorf("Data() = %v, want single byte", got)
				return
			}
		}
	}()

	for i := range 1000 {
		r.Replace(snapshot(Record{spark(1), []byte{byte(i)}}))
	}
	cancel()
	wg.Wait()

	if got := r.Stats().Replaces; got != 1000 {
		t.Errorf("Replaces = %d, want 1000", got)
	}
}

func TestValidationError(t *testing.T) {
	err := Invalid("output", 1.5, "must be within [-1, 1]")
	if !errors.Is(err, ErrValidation) {
		t.Error("errors.Is(err, ErrValidation) = false")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "output" {
		t.Errorf("errors.As() field = %v", ve)
	}
}
