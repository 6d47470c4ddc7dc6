package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/ferrobot-core/internal/bridge"
	"github.com/nerrad567/ferrobot-core/internal/device"
	"github.com/nerrad567/ferrobot-core/internal/event"
	"github.com/nerrad567/ferrobot-core/internal/infrastructure/config"
	"github.com/nerrad567/ferrobot-core/internal/infrastructure/logging"
	"github.com/nerrad567/ferrobot-core/internal/journal"
	"github.com/nerrad567/ferrobot-core/internal/robot"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// WebSocket broadcast channels.
const (
	ChannelSample = "device.sample"
	ChannelMode   = "robot.mode"
)

// HealthChecker is implemented by infrastructure clients that can report
// their own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// JournalStats reports the journal writer's counters.
type JournalStats interface {
	Stats() journal.Stats
}

// BridgeMetrics reports the MQTT bridge's counters.
type BridgeMetrics interface {
	Metrics() bridge.MetricsSnapshot
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Robot   *robot.Robot
	Version string

	// Optional.
	Journal       journal.Repository
	JournalWriter JournalStats
	Bridge        BridgeMetrics
	Checks        map[string]HealthChecker
}

// Server serves the v1 HTTP API and the WebSocket event stream.
//
// Thread Safety: All methods are safe for concurrent use.
type Server struct {
	cfg           config.APIConfig
	wsCfg         config.WebSocketConfig
	logger        *logging.Logger
	robot         *robot.Robot
	journal       journal.Repository
	journalWriter JournalStats
	bridge        BridgeMetrics
	checks        map[string]HealthChecker
	version       string
	startTime     time.Time
	hub           *Hub

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	served   chan error
	subs     []*event.Subscription
	cancel   context.CancelFunc
}

// New validates deps and builds a server. Nothing listens until Start.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("api: logger is required")
	case deps.Robot == nil:
		return nil, errors.New("api: robot is required")
	}

	s := &Server{
		cfg:           deps.Config,
		wsCfg:         deps.WS,
		logger:        deps.Logger,
		robot:         deps.Robot,
		journal:       deps.Journal,
		journalWriter: deps.JournalWriter,
		bridge:        deps.Bridge,
		checks:        deps.Checks,
		version:       deps.Version,
		startTime:     time.Now(),
		hub:           NewHub(deps.Logger),
	}
	s.hub.SetSnapshot(func() any { return s.deviceViews() })
	return s, nil
}

// Start binds the listen address, starts relaying robot events to the
// hub and serves in the background. Bind failures are returned here; later
// serve failures are logged and reported by HealthCheck.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return errors.New("api: server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: listen on %s: %w", addr, err)
	}

	hubCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.hub.Run(hubCtx)
	s.subscribeEvents()

	s.listener = ln
	s.served = make(chan error, 1)
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	srv, served := s.server, s.served
	s.logger.Info("api server listening", "address", ln.Addr().String())
	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		} else {
			s.logger.Error("api server stopped", "error", err)
		}
		served <- err
	}()
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// subscribeEvents relays robot samples and mode changes to the hub.
func (s *Server) subscribeEvents() {
	c := s.robot.Core()
	s.subs = append(s.subs,
		event.Register(c.Emitter(), s.robot.Samples(), func(_ context.Context, sample robot.Sample) {
			s.hub.Broadcast(ChannelSample, sample.Device.String(), sample)
		}),
		event.Register(c.Emitter(), c.ModeChanged(), func(_ context.Context, m device.Mode) {
			s.hub.Broadcast(ChannelMode, "", map[string]any{"mode": m})
		}),
	)
}

// Close stops the event relay, disconnects WebSocket peers and waits up to
// gracefulShutdownTimeout for in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	s.logger.Info("api server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}

// HealthCheck fails before Start and after the serve loop has exited.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return errors.New("api: server not started")
	}
	select {
	case err := <-s.served:
		s.served <- err
		if err == nil {
			return errors.New("api: server closed")
		}
		return fmt.Errorf("api: serve failed: %w", err)
	default:
		return nil
	}
}
