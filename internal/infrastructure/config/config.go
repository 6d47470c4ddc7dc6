package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/ferrobot-core/internal/command"
	"github.com/nerrad567/ferrobot-core/internal/device"
	"github.com/nerrad567/ferrobot-core/internal/device/navx"
	"github.com/nerrad567/ferrobot-core/internal/device/sparkmax"
)

// Config is the root configuration structure for ferrobot.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Robot     RobotConfig     `yaml:"robot"`
	Core      CoreConfig      `yaml:"core"`
	Host      HostConfig      `yaml:"host"`
	Devices   DevicesConfig   `yaml:"devices"`
	Database  DatabaseConfig  `yaml:"database"`
	Journal   JournalConfig   `yaml:"journal"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// RobotConfig identifies the robot.
type RobotConfig struct {
	Name string `yaml:"name"`
	Team int    `yaml:"team"`
}

// CoreConfig tunes the command queue and telemetry dispatch.
type CoreConfig struct {
	Queue      QueueConfig `yaml:"queue"`
	EmitPolicy string      `yaml:"emit_policy"`
}

// QueueConfig bounds the outbound command queue.
type QueueConfig struct {
	// Capacity is the maximum number of pending commands; 0 is unbounded.
	Capacity int `yaml:"capacity"`

	// Overflow is one of drop_oldest, reject_new or block.
	Overflow string `yaml:"overflow"`

	// BlockTimeout bounds how long a push waits under the block policy.
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// HostConfig selects and tunes the host driving the core.
type HostConfig struct {
	// Simulate runs the in-process simulated host.
	Simulate bool `yaml:"simulate"`

	// Period is the control loop period.
	Period time.Duration `yaml:"period"`

	// Mode is the robot mode the simulated host reports.
	Mode string `yaml:"mode"`
}

// DevicesConfig declares the devices constructed at startup.
type DevicesConfig struct {
	SparkMax []SparkMaxDeclaration `yaml:"spark_max"`
	NavX     []NavXDeclaration     `yaml:"navx"`
}

// SparkMaxDeclaration declares one motor controller. Config starts from
// sparkmax.DefaultConfig, so only overridden fields need to appear.
type SparkMaxDeclaration struct {
	ID     uint8           `yaml:"id"`
	Name   string          `yaml:"name"`
	Config sparkmax.Config `yaml:"config"`
}

// UnmarshalYAML seeds the declaration with the default controller
// configuration before decoding.
func (d *SparkMaxDeclaration) UnmarshalYAML(node *yaml.Node) error {
	type plain SparkMaxDeclaration
	decl := plain{Config: sparkmax.DefaultConfig()}
	if err := node.Decode(&decl); err != nil {
		return err
	}
	*d = SparkMaxDeclaration(decl)
	return nil
}

// NavXDeclaration declares one gyro.
type NavXDeclaration struct {
	Name       string          `yaml:"name"`
	Connection navx.Connection `yaml:"connection"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// JournalConfig controls the SQLite command journal.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Buffer        int           `yaml:"buffer"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP monitor server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
	Auth     APIAuthConfig    `yaml:"auth"`
}

// APIAuthConfig enables bearer-token auth on the API. An empty secret
// leaves the API open.
type APIAuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	// TokenTTL is the lifetime of tokens issued by "ferrobot token".
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// ReadTimeout returns Read in seconds as a Duration.
func (t APITimeoutConfig) ReadTimeout() time.Duration { return time.Duration(t.Read) * time.Second }

// WriteTimeout returns Write in seconds as a Duration.
func (t APITimeoutConfig) WriteTimeout() time.Duration { return time.Duration(t.Write) * time.Second }

// IdleTimeout returns Idle in seconds as a Duration.
func (t APITimeoutConfig) IdleTimeout() time.Duration { return time.Duration(t.Idle) * time.Second }

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// minJWTSecretLength is the shortest accepted HMAC secret.
const minJWTSecretLength = 32

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FERROBOT_SECTION_KEY
// For example: FERROBOT_DATABASE_PATH, FERROBOT_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if invalid := applyEnvOverrides(cfg); len(invalid) > 0 {
		return nil, fmt.Errorf("invalid environment override: %s", strings.Join(invalid, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides
// applied, for running without a config file.
func Default() (*Config, error) {
	cfg := defaultConfig()
	if invalid := applyEnvOverrides(cfg); len(invalid) > 0 {
		return nil, fmt.Errorf("invalid environment override: %s", strings.Join(invalid, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	queue := command.DefaultQueueConfig()
	return &Config{
		Robot: RobotConfig{
			Name: "ferrobot",
		},
		Core: CoreConfig{
			Queue: QueueConfig{
				Capacity:     queue.Capacity,
				Overflow:     string(queue.Overflow),
				BlockTimeout: queue.BlockTimeout,
			},
			EmitPolicy: string(device.EmitEveryTick),
		},
		Host: HostConfig{
			Simulate: true,
			Period:   20 * time.Millisecond,
			Mode:     device.ModeDisabled.String(),
		},
		Database: DatabaseConfig{
			Path:        "./data/ferrobot.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Journal: JournalConfig{
			Enabled:       true,
			Buffer:        1024,
			BatchSize:     64,
			FlushInterval: time.Second,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "ferrobot-core",
			},
			QoS:         1,
			TopicPrefix: "ferrobot",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    5800,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			Auth: APIAuthConfig{
				TokenTTL: 12 * time.Hour,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     500,
			FlushInterval: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./logs/ferrobot.log",
				MaxSize:    50,
				MaxBackups: 5,
				MaxAge:     14,
			},
		},
	}
}

// envOverride binds one FERROBOT_* variable to a config field. set reports
// false when the value does not parse; the field is then left alone.
type envOverride struct {
	name string
	set  func(c *Config, v string) bool
}

func str(field func(*Config) *string) func(*Config, string) bool {
	return func(c *Config, v string) bool { *field(c) = v; return true }
}

func boolean(field func(*Config) *bool) func(*Config, string) bool {
	return func(c *Config, v string) bool {
		b, err := strconv.ParseBool(v)
		if err == nil {
			*field(c) = b
		}
		return err == nil
	}
}

func integer(field func(*Config) *int) func(*Config, string) bool {
	return func(c *Config, v string) bool {
		n, err := strconv.Atoi(v)
		if err == nil {
			*field(c) = n
		}
		return err == nil
	}
}

func duration(field func(*Config) *time.Duration) func(*Config, string) bool {
	return func(c *Config, v string) bool {
		d, err := time.ParseDuration(v)
		if err == nil {
			*field(c) = d
		}
		return err == nil
	}
}

// envOverrides lists the variables read after the YAML file. Secrets
// belong here rather than in the file.
var envOverrides = []envOverride{
	{"FERROBOT_ROBOT_NAME", str(func(c *Config) *string { return &c.Robot.Name })},
	{"FERROBOT_HOST_MODE", str(func(c *Config) *string { return &c.Host.Mode })},
	{"FERROBOT_HOST_SIMULATE", boolean(func(c *Config) *bool { return &c.Host.Simulate })},
	{"FERROBOT_HOST_PERIOD", duration(func(c *Config) *time.Duration { return &c.Host.Period })},
	{"FERROBOT_DATABASE_PATH", str(func(c *Config) *string { return &c.Database.Path })},
	{"FERROBOT_MQTT_ENABLED", boolean(func(c *Config) *bool { return &c.MQTT.Enabled })},
	{"FERROBOT_MQTT_HOST", str(func(c *Config) *string { return &c.MQTT.Broker.Host })},
	{"FERROBOT_MQTT_USERNAME", str(func(c *Config) *string { return &c.MQTT.Auth.Username })},
	{"FERROBOT_MQTT_PASSWORD", str(func(c *Config) *string { return &c.MQTT.Auth.Password })},
	{"FERROBOT_API_HOST", str(func(c *Config) *string { return &c.API.Host })},
	{"FERROBOT_API_PORT", integer(func(c *Config) *int { return &c.API.Port })},
	{"FERROBOT_JWT_SECRET", str(func(c *Config) *string { return &c.API.Auth.JWTSecret })},
	{"FERROBOT_INFLUXDB_URL", str(func(c *Config) *string { return &c.InfluxDB.URL })},
	{"FERROBOT_INFLUXDB_TOKEN", str(func(c *Config) *string { return &c.InfluxDB.Token })},
	{"FERROBOT_LOG_LEVEL", str(func(c *Config) *string { return &c.Logging.Level })},
}

// applyEnvOverrides applies every set FERROBOT_* variable. It returns the
// names of variables whose values did not parse.
func applyEnvOverrides(cfg *Config) []string {
	var invalid []string
	for _, o := range envOverrides {
		v, ok := os.LookupEnv(o.name)
		if !ok || v == "" {
			continue
		}
		if !o.set(cfg, v) {
			invalid = append(invalid, o.name)
		}
	}
	return invalid
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Robot.Name == "" {
		errs = append(errs, "robot.name is required")
	}

	// Core
	if err := c.QueueConfig().Validate(); err != nil {
		errs = append(errs, "core.queue: "+err.Error())
	}
	if !device.EmitPolicy(c.Core.EmitPolicy).Valid() {
		errs = append(errs, "core.emit_policy must be every_tick or on_change")
	}

	// Host
	if c.Host.Period <= 0 {
		errs = append(errs, "host.period must be positive")
	}
	if _, err := device.ParseMode(c.Host.Mode); err != nil {
		errs = append(errs, "host.mode must be disabled, teleoperated, autonomous or test")
	}

	errs = append(errs, c.Devices.validate()...)

	// Database
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// Journal
	if c.Journal.Enabled && (c.Journal.Buffer <= 0 || c.Journal.BatchSize <= 0 || c.Journal.FlushInterval <= 0) {
		errs = append(errs, "journal.buffer, journal.batch_size and journal.flush_interval must be positive when the journal is enabled")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	// API
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.Auth.JWTSecret != "" && len(c.API.Auth.JWTSecret) < minJWTSecretLength {
		errs = append(errs, fmt.Sprintf("api.auth.jwt_secret must be at least %d characters", minJWTSecretLength))
	}

	// InfluxDB
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (d DevicesConfig) validate() []string {
	var errs []string

	seen := make(map[uint8]bool, len(d.SparkMax))
	for i, decl := range d.SparkMax {
		if seen[decl.ID] {
			errs = append(errs, fmt.Sprintf("devices.spark_max[%d]: duplicate id %d", i, decl.ID))
		}
		seen[decl.ID] = true
		if err := decl.Config.Validate(decl.ID); err != nil {
			errs = append(errs, fmt.Sprintf("devices.spark_max[%d]: %v", i, err))
		}
	}
	for i, decl := range d.SparkMax {
		if leader := decl.Config.Motor.LeaderID; leader != 0 && !seen[leader] {
			errs = append(errs, fmt.Sprintf("devices.spark_max[%d]: leader %d is not declared", i, leader))
		}
	}

	ports := make(map[navx.Connection]bool, len(d.NavX))
	for i, decl := range d.NavX {
		if !decl.Connection.Valid() {
			errs = append(errs, fmt.Sprintf("devices.navx[%d]: unknown connection", i))
		}
		if ports[decl.Connection] {
			errs = append(errs, fmt.Sprintf("devices.navx[%d]: duplicate connection %s", i, decl.Connection))
		}
		ports[decl.Connection] = true
	}

	return errs
}

// QueueConfig returns the command queue settings in the form core expects.
func (c *Config) QueueConfig() command.QueueConfig {
	return command.QueueConfig{
		Capacity:     c.Core.Queue.Capacity,
		Overflow:     command.OverflowPolicy(c.Core.Queue.Overflow),
		BlockTimeout: c.Core.Queue.BlockTimeout,
	}
}

// HostMode returns the configured simulated robot mode.
func (c *Config) HostMode() device.Mode {
	m, _ := device.ParseMode(c.Host.Mode)
	return m
}
