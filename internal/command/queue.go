package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/ferrobot-core/internal/wire"
)

// Logger defines the logging interface used by the Queue.
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

// OverflowPolicy decides what Push does when the queue is at capacity.
type OverflowPolicy string

const (
	// OverflowDropOldest evicts the oldest queued command to make room.
	OverflowDropOldest OverflowPolicy = "drop_oldest"

	// OverflowRejectNew fails the push with ErrQueueFull.
	OverflowRejectNew OverflowPolicy = "reject_new"

	// OverflowBlock waits for the next drain, up to BlockTimeout. A zero
	// BlockTimeout waits until a drain or until the context is done.
	OverflowBlock OverflowPolicy = "block"
)

// Valid reports whether p is a known policy.
func (p OverflowPolicy) Valid() bool {
	switch p {
	case OverflowDropOldest, OverflowRejectNew, OverflowBlock:
		return true
	}
	return false
}

// QueueConfig bounds the queue. A Capacity of zero means unbounded.
type QueueConfig struct {
	Capacity     int
	Overflow     OverflowPolicy
	BlockTimeout time.Duration
}

// DefaultQueueConfig returns the configuration used when none is given.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Capacity:     1024,
		Overflow:     OverflowDropOldest,
		BlockTimeout: 20 * time.Millisecond,
	}
}

// Validate checks the configuration.
func (c QueueConfig) Validate() error {
	if c.Capacity < 0 {
		return fmt.Errorf("command: capacity must be >= 0, got %d", c.Capacity)
	}
	if !c.Overflow.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPolicy, c.Overflow)
	}
	if c.BlockTimeout < 0 {
		return fmt.Errorf("command: block timeout must be >= 0, got %v", c.BlockTimeout)
	}
	return nil
}

// QueueStats counts queue activity since creation.
type QueueStats struct {
	Pushed   uint64 `json:"pushed"`
	Drained  uint64 `json:"drained"`
	Dropped  uint64 `json:"dropped"`
	Rejected uint64 `json:"rejected"`
	Pending  int    `json:"pending"`
}

// Queue is a FIFO of outbound commands drained once per control tick.
//
// Commands from a single producer keep their order; commands from
// concurrent producers are ordered by lock acquisition.
type Queue struct {
	cfg    QueueConfig
	mu     sync.Mutex
	items  []Command
	space  chan struct{} // closed and replaced on every drain
	stats  QueueStats
	onDrop func(Command)
	logger Logger
}

// NewQueue creates an empty queue. cfg must be valid.
func NewQueue(cfg QueueConfig) *Queue {
	return &Queue{
		cfg:    cfg,
		space:  make(chan struct{}),
		onDrop: releaseFrame,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the queue.
func (q *Queue) SetLogger(logger Logger) {
	q.logger = logger
}

// SetDropHandler replaces what happens to commands evicted under
// OverflowDropOldest. The handler owns the command; the default releases
// its frame.
func (q *Queue) SetDropHandler(fn func(Command)) {
	q.onDrop = fn
}

func releaseFrame(cmd Command) {
	wire.Release(cmd.Frame)
}

// Push appends cmd. It fails only when the command is malformed or the
// overflow policy refuses it; on failure the caller still owns cmd.
func (q *Queue) Push(ctx context.Context, cmd Command) error {
	if cmd.Frame == nil || !cmd.Device.Kind.Valid() {
		return fmt.Errorf("%w: %s", ErrMalformed, cmd)
	}

	var timeout <-chan time.Time
	for {
		q.mu.Lock()
		if q.cfg.Capacity <= 0 || len(q.items) < q.cfg.Capacity {
			q.items = append(q.items, cmd)
			q.stats.Pushed++
			q.mu.Unlock()
			return nil
		}

		switch q.cfg.Overflow {
		case OverflowRejectNew:
			q.stats.Rejected++
			q.mu.Unlock()
			return fmt.Errorf("%w: capacity %d", ErrQueueFull, q.cfg.Capacity)

		case OverflowBlock:
			space := q.space
			q.mu.Unlock()
			if timeout == nil && q.cfg.BlockTimeout > 0 {
				timer := time.NewTimer(q.cfg.BlockTimeout)
				defer timer.Stop()
				timeout = timer.C
			}
			select {
			case <-space:
				continue
			case <-timeout:
				q.mu.Lock()
				q.stats.Rejected++
				q.mu.Unlock()
				return fmt.Errorf("%w: no drain within %v", ErrQueueFull, q.cfg.BlockTimeout)
			case <-ctx.Done():
				return ctx.Err()
			}

		default:
			evicted := q.items[0]
			q.items[0] = Command{}
			q.items = append(q.items[1:], cmd)
			q.stats.Pushed++
			q.stats.Dropped++
			q.mu.Unlock()

			q.logger.Warn("command queue full, dropped oldest",
				"device", evicted.Device.String(),
				"command_id", evicted.ID,
			)
			q.onDrop(evicted)
			return nil
		}
	}
}

// DrainAll removes and returns every queued command in FIFO order. The
// result is never nil.
func (q *Queue) DrainAll() []Command {
	q.mu.Lock()
	out := q.items
	q.items = nil
	q.stats.Drained += uint64(len(out))
	close(q.space)
	q.space = make(chan struct{})
	q.mu.Unlock()

	if out == nil {
		return []Command{}
	}
	return out
}

// Len returns the number of queued commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats returns a copy of the queue counters.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = len(q.items)
	return s
}
