package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"

	"github.com/nerrad567/ferrobot-core/internal/infrastructure/config"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second

	connectTimeout = 10 * time.Second
	healthTimeout  = 5 * time.Second

	// requestTimeoutSeconds bounds each batch POST.
	requestTimeoutSeconds = 10
)

// pointWriter is the part of api.WriteAPI the client writes through.
type pointWriter interface {
	WritePoint(p *write.Point)
	Flush()
}

// Client records points into one bucket through the library's batching,
// non-blocking write API. Every point carries the robot name as a default
// "robot" tag.
//
// Thread Safety: All methods are safe for concurrent use. Writes after
// Close are dropped.
type Client struct {
	server influxdb2.Client
	points pointWriter
	closed atomic.Bool

	mu      sync.RWMutex
	onError func(error)
}

// writeOptions converts the influxdb config section into client options.
// Non-positive batch size or flush interval fall back to 100 points and
// ten seconds.
func writeOptions(cfg config.InfluxDBConfig, robot string) *influxdb2.Options {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	flush := time.Duration(cfg.FlushInterval) * time.Second
	if flush <= 0 {
		flush = defaultFlushInterval
	}

	// #nosec G115 -- both values are positive here
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(flush.Milliseconds())).
		SetPrecision(time.Millisecond).
		SetHTTPRequestTimeout(requestTimeoutSeconds)
	if robot != "" {
		opts.AddDefaultTag("robot", robot)
	}
	return opts
}

// Connect creates a client for cfg and pings the server once. robot is
// attached to every point as the "robot" tag so several robots can share a
// bucket.
func Connect(cfg config.InfluxDBConfig, robot string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	server := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg, robot))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	ok, err := server.Ping(ctx)
	if err == nil && !ok {
		err = ErrUnhealthy
	}
	if err != nil {
		server.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	writeAPI := server.WriteAPI(cfg.Org, cfg.Bucket)
	c := &Client{server: server, points: writeAPI}
	go c.forwardErrors(writeAPI.Errors())
	return c, nil
}

// forwardErrors hands asynchronous batch failures to the OnError callback.
// It returns when the write API closes the channel during Close.
func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.mu.RLock()
		fn := c.onError
		c.mu.RUnlock()
		if fn != nil {
			fn(err)
		}
	}
}

// SetOnError registers the callback for failed batch writes. Writes are
// asynchronous, so this is the only place those failures surface.
func (c *Client) SetOnError(fn func(err error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// Write queues p for the next batch.
func (c *Client) Write(p *write.Point) {
	if c.closed.Load() {
		return
	}
	c.points.WritePoint(p)
}

// Flush sends every buffered point now. It is a no-op after Close.
func (c *Client) Flush() {
	if c.closed.Load() {
		return
	}
	c.points.Flush()
}

// Close flushes pending points and releases the HTTP client. Only the
// first call has any effect.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.points.Flush()
	if c.server != nil {
		c.server.Close()
	}
	return nil
}

// IsConnected reports whether the client is still open. Reachability is
// checked by HealthCheck.
func (c *Client) IsConnected() bool {
	return !c.closed.Load()
}

// HealthCheck asks the server for its health status.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.closed.Load() || c.server == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	health, err := c.server.Health(ctx)
	if err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	if health.Status != domain.HealthCheckStatusPass {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("%w: %s %s", ErrUnhealthy, health.Status, msg)
	}
	return nil
}
