package device

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// TelemetryHandler is invoked with a device's payload after a snapshot is
// applied. The payload is shared with the cache and must not be modified.
type TelemetryHandler func(ctx context.Context, payload []byte)

// Spawner runs fn on a background task. The core runtime implements it.
type Spawner interface {
	Spawn(name string, fn func(ctx context.Context))
}

// EmitPolicy selects which devices get their handler invoked on Replace.
type EmitPolicy string

const (
	// EmitEveryTick invokes the handler of every registered device present
	// in the snapshot, whether or not its payload changed.
	EmitEveryTick EmitPolicy = "every_tick"

	// EmitOnChange invokes a handler only when the payload differs from the
	// one it was last given, or when it has not been given one yet.
	EmitOnChange EmitPolicy = "on_change"
)

// Valid reports whether p is a known policy.
func (p EmitPolicy) Valid() bool {
	return p == EmitEveryTick || p == EmitOnChange
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Registered int    `json:"registered"`
	Cached     int    `json:"cached"`
	Replaces   uint64 `json:"replaces"`
}

// Registry tracks live devices and the latest telemetry for each.
//
// devicesMu guards the devices table, cacheMu guards the cache. No method
// holds both, and neither is held while a handler runs.
//
// Dispatch runs one generation at a time under dispatchMu. A dispatch whose
// snapshot is older than the last one delivered is skipped, so handlers
// never see telemetry go backwards.
type Registry struct {
	devices   map[Identity]TelemetryHandler
	bindings  map[Identity]uint64
	bindSeq   uint64
	devicesMu sync.RWMutex

	cache    map[Identity][]byte
	replaces uint64
	cacheMu  sync.RWMutex

	dispatchMu sync.Mutex
	delivered  uint64
	emitted    map[Identity]emission

	spawner Spawner
	policy  EmitPolicy
	logger  Logger
}

// NewRegistry creates an empty registry. Handler invocation after Replace
// is scheduled through spawner; a nil spawner disables it.
func NewRegistry(spawner Spawner) *Registry {
	return &Registry{
		devices:  make(map[Identity]TelemetryHandler),
		bindings: make(map[Identity]uint64),
		cache:    make(map[Identity][]byte),
		emitted:  make(map[Identity]emission),
		spawner: spawner,
		policy:  EmitEveryTick,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetEmitPolicy sets the handler invocation policy. Call before the first
// Replace.
func (r *Registry) SetEmitPolicy(policy EmitPolicy) {
	r.policy = policy
}

// AddDevice registers id. Registering an identity that is already present
// returns ErrAlreadyRegistered and leaves the registry unchanged, so of
// two concurrent registrations exactly one succeeds.
func (r *Registry) AddDevice(id Identity) error {
	if !id.Kind.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownKind, uint8(id.Kind))
	}

	r.devicesMu.Lock()
	defer r.devicesMu.Unlock()

	if _, exists := r.devices[id]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
	}
	r.devices[id] = nil
	r.bindSeq++
	r.bindings[id] = r.bindSeq

	r.logger.Debug("device registered", "device", id.String())
	return nil
}

// RemoveDevice unregisters id and drops its telemetry handler.
func (r *Registry) RemoveDevice(id Identity) error {
	r.devicesMu.Lock()
	defer r.devicesMu.Unlock()

	if _, exists := r.devices[id]; !exists {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	delete(r.devices, id)
	delete(r.bindings, id)

	r.logger.Debug("device unregistered", "device", id.String())
	return nil
}

// DeviceExists reports whether id is registered.
func (r *Registry) DeviceExists(id Identity) bool {
	r.devicesMu.RLock()
	defer r.devicesMu.RUnlock()

	_, exists := r.devices[id]
	return exists
}

// SetTelemetryHandler binds the handler invoked for id after each Replace.
// The device must already be registered.
func (r *Registry) SetTelemetryHandler(id Identity, handler TelemetryHandler) error {
	r.devicesMu.Lock()
	defer r.devicesMu.Unlock()

	if _, exists := r.devices[id]; !exists {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	r.devices[id] = handler
	r.bindSeq++
	r.bindings[id] = r.bindSeq
	return nil
}

// Devices returns the registered identities ordered by kind, then id.
func (r *Registry) Devices() []Identity {
	r.devicesMu.RLock()
	ids := make([]Identity, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	r.devicesMu.RUnlock()

	slices.SortFunc(ids, Identity.Compare)
	return ids
}

// Data returns a copy of the latest payload supplied for id. The second
// result is false when the last snapshot did not include the device.
func (r *Registry) Data(id Identity) ([]byte, bool) {
	r.cacheMu.RLock()
	payload, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if !ok {
		return nil, false
	}
	return bytes.Clone(payload), true
}

// Replace installs snapshot as the new cache, discarding the previous one
// entirely, and returns without waiting for handlers. If the snapshot
// lists a device more than once the last record wins.
//
// Readers observe either the previous cache or the new one, never a mix.
func (r *Registry) Replace(snapshot Snapshot) {
	next := make(map[Identity][]byte, len(snapshot.Records))
	for _, rec := range snapshot.Records {
		next[rec.Device] = rec.Payload
	}

	r.cacheMu.Lock()
	r.cache = next
	r.replaces++
	generation := r.replaces
	r.cacheMu.Unlock()

	if r.spawner == nil {
		return
	}
	r.spawner.Spawn("telemetry-dispatch", func(ctx context.Context) {
		r.dispatch(ctx, generation, next)
	})
}

// emission is the last payload handed to a device's handler, tagged with
// the binding it was handed to.
type emission struct {
	binding uint64
	payload []byte
}

// dispatch invokes the handler of every registered device in next and
// waits for all of them. It returns at once if a newer generation has
// already been delivered.
func (r *Registry) dispatch(ctx context.Context, generation uint64, next map[Identity][]byte) {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()

	if generation <= r.delivered {
		return
	}
	r.delivered = generation

	type job struct {
		id      Identity
		handler TelemetryHandler
		payload []byte
	}

	r.devicesMu.RLock()
	for id, last := range r.emitted {
		if r.bindings[id] != last.binding {
			delete(r.emitted, id)
		}
	}
	jobs := make([]job, 0, len(r.devices))
	for id, payload := range next {
		handler := r.devices[id]
		if handler == nil {
			continue
		}
		binding := r.bindings[id]
		if r.policy == EmitOnChange {
			if last, ok := r.emitted[id]; ok && last.binding == binding && bytes.Equal(last.payload, payload) {
				continue
			}
		}
		r.emitted[id] = emission{binding: binding, payload: payload}
		jobs = append(jobs, job{id: id, handler: handler, payload: payload})
	}
	r.devicesMu.RUnlock()

	if len(jobs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.invoke(ctx, j.id, j.handler, j.payload)
		}()
	}
	wg.Wait()
}

func (r *Registry) invoke(ctx context.Context, id Identity, handler TelemetryHandler, payload []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("telemetry handler panic recovered",
				"device", id.String(),
				"panic", rec,
			)
		}
	}()
	handler(ctx, payload)
}

// Stats returns counts of registered and cached devices.
func (r *Registry) Stats() Stats {
	var s Stats

	r.devicesMu.RLock()
	s.Registered = len(r.devices)
	r.devicesMu.RUnlock()

	r.cacheMu.RLock()
	s.Cached = len(r.cache)
	s.Replaces = r.replaces
	r.cacheMu.RUnlock()

	return s
}
