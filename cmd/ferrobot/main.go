// Ferrobot Core - device-state sync and event dispatch for a robot controller.
//
// This is the main entry point. It wires the core to a host (currently the
// built-in simulator), builds the declared devices, and starts the optional
// outer surfaces: command journal, MQTT bridge, InfluxDB telemetry and the
// HTTP/WebSocket API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/ferrobot-core/migrations"

	"github.com/nerrad567/ferrobot-core/internal/api"
	"github.com/nerrad567/ferrobot-core/internal/auth"
	"github.com/nerrad567/ferrobot-core/internal/bridge"
	"github.com/nerrad567/ferrobot-core/internal/command"
	"github.com/nerrad567/ferrobot-core/internal/core"
	"github.com/nerrad567/ferrobot-core/internal/device"
	"github.com/nerrad567/ferrobot-core/internal/event"
	"github.com/nerrad567/ferrobot-core/internal/host/sim"
	"github.com/nerrad567/ferrobot-core/internal/infrastructure/config"
	"github.com/nerrad567/ferrobot-core/internal/infrastructure/database"
	"github.com/nerrad567/ferrobot-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/ferrobot-core/internal/infrastructure/logging"
	"github.com/nerrad567/ferrobot-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/ferrobot-core/internal/journal"
	"github.com/nerrad567/ferrobot-core/internal/robot"
	"github.com/nerrad567/ferrobot-core/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	shutdownTimeout   = 10 * time.Second
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := logging.Default()
	log.Info("starting ferrobot core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	defer log.Close()
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	if !cfg.Host.Simulate {
		return errors.New("no hardware host is available in this build; set host.simulate")
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	checks := map[string]api.HealthChecker{"database": db}
	g, gctx := errgroup.WithContext(ctx)

	// Journal
	repo := journal.NewSQLiteRepository(db.DB)
	var writer *journal.Writer
	if cfg.Journal.Enabled {
		writer = journal.NewWriter(repo, cfg.Journal)
		writer.SetLogger(log.Component("journal"))
	}

	// Host and core
	h := sim.New()
	h.SetLogger(log.Component("sim"))
	var executor command.Executor = h
	if writer != nil {
		executor = journal.WrapExecutor(h, writer)
		h.Observe(writer.Observe)
	}

	c, err := core.Start(ctx, core.Options{
		Host:       executor,
		Queue:      cfg.QueueConfig(),
		EmitPolicy: device.EmitPolicy(cfg.Core.EmitPolicy),
		Logger:     log.Component("core"),
	})
	if err != nil {
		return fmt.Errorf("starting core: %w", err)
	}
	h.Attach(c)
	h.SetMode(cfg.HostMode())

	r, err := robot.Build(ctx, c, cfg.Devices)
	if err != nil {
		shutdownCore(c, log)
		return fmt.Errorf("building robot: %w", err)
	}

	var modeSub *event.Subscription
	if writer != nil {
		modeSub = event.Register(c.Emitter(), c.ModeChanged(), writer.RecordMode)
	}

	// MQTT bridge (optional)
	var mqttBridge *bridge.Bridge
	if cfg.MQTT.Enabled {
		mqttClient, connErr := mqtt.Connect(cfg.MQTT)
		if connErr != nil {
			r.Close()
			shutdownCore(c, log)
			return fmt.Errorf("connecting to MQTT: %w", connErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		checks["mqtt"] = mqttClient

		mqttBridge, err = bridge.NewBridge(bridge.Options{
			Client: mqttClient,
			Topics: mqttClient.Topics(),
			Robot:  r,
			QoS:    mqttClient.QoS(),
		})
		if err != nil {
			r.Close()
			shutdownCore(c, log)
			return fmt.Errorf("creating MQTT bridge: %w", err)
		}
		mqttBridge.SetLogger(log.Component("bridge"))
		if err := mqttBridge.Start(gctx); err != nil {
			r.Close()
			shutdownCore(c, log)
			return fmt.Errorf("starting MQTT bridge: %w", err)
		}
		log.Info("MQTT bridge started",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		)
	} else {
		log.Info("MQTT bridge disabled")
	}

	// InfluxDB telemetry (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(cfg.InfluxDB, cfg.Robot.Name)
		if connErr != nil {
			if mqttBridge != nil {
				mqttBridge.Stop()
			}
			r.Close()
			shutdownCore(c, log)
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		checks["influxdb"] = influxClient

		recorder := telemetry.NewRecorder(influxClient, r, time.Duration(cfg.InfluxDB.FlushInterval)*time.Second)
		recorder.SetLogger(log.Component("telemetry"))
		g.Go(func() error { return recorder.Run(gctx) })
		log.Info("InfluxDB telemetry started", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// HTTP/WebSocket API (optional)
	var apiServer *api.Server
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log.Component("api"),
			Robot:   r,
			Version: version,
			Journal: repo,
			Checks:  checks,
		}
		if writer != nil {
			deps.JournalWriter = writer
		}
		if mqttBridge != nil {
			deps.Bridge = mqttBridge
		}
		apiServer, err = api.New(deps)
		if err == nil {
			err = apiServer.Start(gctx)
		}
		if err != nil {
			if mqttBridge != nil {
				mqttBridge.Stop()
			}
			r.Close()
			shutdownCore(c, log)
			return fmt.Errorf("starting API server: %w", err)
		}
	} else {
		log.Info("API server disabled")
	}

	if err := healthCheck(ctx, checks); err != nil {
		log.Warn("startup health check failed", "error", err)
	} else {
		log.Info("all health checks passed")
	}

	if writer != nil {
		g.Go(func() error { return writer.Run(gctx) })
	}
	g.Go(func() error { return h.Run(gctx, cfg.Host.Period) })

	log.Info("initialisation complete",
		"robot", cfg.Robot.Name,
		"devices", len(r.Devices()),
		"mode", cfg.HostMode().String(),
	)

	runErr := g.Wait()
	log.Info("shutting down")

	if apiServer != nil {
		if err := apiServer.Close(); err != nil {
			log.Error("error closing API server", "error", err)
		}
	}
	if mqttBridge != nil {
		mqttBridge.Stop()
		mqttBridge.Wait()
	}
	if modeSub != nil {
		modeSub.Unsubscribe()
	}
	r.Close()
	shutdownCore(c, log)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	log.Info("ferrobot core stopped")
	return nil
}

// issueToken implements "ferrobot token": it signs an API bearer token
// with the configured secret and prints it.
func issueToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "driver-station", "token subject")
	scopes := fs.String("scopes", auth.ScopeRead, "comma-separated scopes (read, control)")
	ttl := fs.Duration("ttl", 0, "token lifetime (default api.auth.token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.API.Auth.JWTSecret == "" {
		return errors.New("api.auth.jwt_secret is not configured")
	}
	if *ttl <= 0 {
		*ttl = cfg.API.Auth.TokenTTL
	}

	token, err := auth.GenerateToken(*subject, strings.Split(*scopes, ","), cfg.API.Auth.JWTSecret, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

// loadConfig reads FERROBOT_CONFIG when set, then the default path when it
// exists, and otherwise falls back to built-in defaults.
func loadConfig() (*config.Config, error) {
	if path := os.Getenv("FERROBOT_CONFIG"); path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return config.Load(defaultConfigPath)
	}
	return config.Default()
}

// shutdownCore drains the core's runtime within shutdownTimeout.
func shutdownCore(c *core.Core, log *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := c.Shutdown(ctx); err != nil {
		log.Error("error shutting down core", "error", err)
	}
}

// healthCheck runs every component check in name order and returns the
// first failure.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := checks[name].HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
