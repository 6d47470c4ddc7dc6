// Package event provides a typed publish/subscribe emitter.
//
// Channels are keyed by event instance, not by name or payload type: every
// call to New creates a distinct channel even when the name and type match
// another event. Handlers registered on a channel all receive each emitted
// value, concurrently, and Emit returns once all of them have finished.
//
// # Usage
//
//	var Heading = event.New[float64]("heading")
//
//	em := event.NewEmitter()
//	sub := event.Register(em, Heading, func(ctx context.Context, deg float64) {
//	    log.Println("heading", deg)
//	})
//	defer sub.Unsubscribe()
//
//	event.Emit(ctx, em, Heading, 90.0)
package event

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

// Logger defines the logging interface used by the Emitter.
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

var nextKey atomic.Uint64

// Event is a typed event channel identity. Two events are the same channel
// only if they are the same *Event.
type Event[T any] struct {
	key  uint64
	name string
}

// New creates a new, distinct event.
func New[T any](name string) *Event[T] {
	return &Event[T]{key: nextKey.Add(1), name: name}
}

// Name returns the name the event was created with.
func (e *Event[T]) Name() string {
	return e.name
}

func (e *Event[T]) String() string {
	return fmt.Sprintf("%s#%d", e.name, e.key)
}

// Handler receives emitted values.
type Handler[T any] func(ctx context.Context, data T)

// FallibleHandler is a handler whose failure is routed to an error
// callback instead of being dropped.
type FallibleHandler[T any] func(ctx context.Context, data T) error

// channel is the type-independent view of a subscriber list.
type channel interface {
	remove(id uint64) bool
	len() int
	name() string
}

type subscriber[T any] struct {
	id      uint64
	handler Handler[T]
}

// typedChannel holds the subscribers of one event. subs is replaced, never
// modified in place, so Emit can use a snapshot without holding the lock.
type typedChannel[T any] struct {
	event *Event[T]
	subs  []subscriber[T]
}

func (c *typedChannel[T]) remove(id uint64) bool {
	i := slices.IndexFunc(c.subs, func(s subscriber[T]) bool { return s.id == id })
	if i < 0 {
		return false
	}
	c.subs = slices.Delete(slices.Clone(c.subs), i, i+1)
	return true
}

func (c *typedChannel[T]) len() int     { return len(c.subs) }
func (c *typedChannel[T]) name() string { return c.event.name }

// Emitter dispatches events to registered handlers. A channel, and the
// event it belongs to, is retained while it has at least one subscriber.
type Emitter struct {
	mu       sync.RWMutex
	channels map[uint64]channel
	nextSub  uint64
	logger   Logger
}

// NewEmitter creates an emitter with no channels.
func NewEmitter() *Emitter {
	return &Emitter{
		channels: make(map[uint64]channel),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger used to report handler panics and failures.
func (em *Emitter) SetLogger(logger Logger) {
	em.logger = logger
}

// Channels returns the number of events with at least one subscriber.
func (em *Emitter) Channels() int {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return len(em.channels)
}

// Subscription identifies one registered handler.
type Subscription struct {
	em   *Emitter
	key  uint64
	id   uint64
	once sync.Once
}

// Unsubscribe removes the handler. The channel is dropped when its last
// handler goes. Calling Unsubscribe more than once is harmless; an
// emission already in progress still runs the handler.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		em := s.em
		em.mu.Lock()
		defer em.mu.Unlock()

		ch, ok := em.channels[s.key]
		if !ok || !ch.remove(s.id) {
			return
		}
		if ch.len() == 0 {
			delete(em.channels, s.key)
			em.logger.Debug("event channel released", "event", ch.name())
		}
	})
}

// Register appends handler to the subscribers of e.
func Register[T any](em *Emitter, e *Event[T], handler Handler[T]) *Subscription {
	em.mu.Lock()
	defer em.mu.Unlock()

	var ch *typedChannel[T]
	if existing, ok := em.channels[e.key]; ok {
		ch = existing.(*typedChannel[T])
	} else {
		ch = &typedChannel[T]{event: e}
		em.channels[e.key] = ch
	}

	em.nextSub++
	subs := make([]subscriber[T], len(ch.subs), len(ch.subs)+1)
	copy(subs, ch.subs)
	ch.subs = append(subs, subscriber[T]{id: em.nextSub, handler: handler})

	return &Subscription{em: em, key: e.key, id: em.nextSub}
}

// RegisterFallible registers a handler whose error is passed to onErr.
// With a nil onErr the error is logged. A failure never reaches other
// handlers of the same event.
func RegisterFallible[T any](em *Emitter, e *Event[T], handler FallibleHandler[T], onErr func(error)) *Subscription {
	return Register(em, e, func(ctx context.Context, data T) {
		if err := handler(ctx, data); err != nil {
			if onErr != nil {
				onErr(err)
				return
			}
			em.logger.Warn("event handler failed", "event", e.name, "error", err)
		}
	})
}

// Trigger emits transform(data) on dst whenever src is emitted. Triggers
// chain: a trigger from A to B and one from B to C carry an emission of A
// through to C's handlers before Emit on A returns.
func Trigger[A, B any](em *Emitter, src *Event[A], dst *Event[B], transform func(A) B) *Subscription {
	return Register(em, src, func(ctx context.Context, data A) {
		Emit(ctx, em, dst, transform(data))
	})
}

// Forward re-emits every value of src on dst unchanged.
func Forward[T any](em *Emitter, src, dst *Event[T]) *Subscription {
	return Trigger(em, src, dst, func(v T) T { return v })
}

// Subscribers returns the number of handlers registered on e.
func Subscribers[T any](em *Emitter, e *Event[T]) int {
	em.mu.RLock()
	defer em.mu.RUnlock()
	if ch, ok := em.channels[e.key]; ok {
		return ch.len()
	}
	return 0
}

// Emit delivers data to every handler of e concurrently and returns after
// all of them complete. It returns the number of handlers invoked; with no
// subscribers it is a no-op. A panicking handler is recovered and logged.
func Emit[T any](ctx context.Context, em *Emitter, e *Event[T], data T) int {
	em.mu.RLock()
	var subs []subscriber[T]
	if ch, ok := em.channels[e.key]; ok {
		subs = ch.(*typedChannel[T]).subs
	}
	em.mu.RUnlock()

	switch len(subs) {
	case 0:
		return 0
	case 1:
		invoke(ctx, em, e, subs[0].handler, data)
		return 1
	}

	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			invoke(ctx, em, e, s.handler, data)
		}()
	}
	wg.Wait()
	return len(subs)
}

func invoke[T any](ctx context.Context, em *Emitter, e *Event[T], handler Handler[T], data T) {
	defer func() {
		if r := recover(); r != nil {
			em.logger.Error("event handler panic recovered", "event", e.name, "panic", r)
		}
	}()
	handler(ctx, data)
}
