package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/rinnai-bridge/internal/units"
)

const redactedValue = "[REDACTED]"

// Config is the root configuration structure for the Rinnai bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Rinnai    RinnaiConfig    `yaml:"rinnai"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// RinnaiConfig contains the cloud account and device behaviour settings.
type RinnaiConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// RecirculationDuration is sent verbatim when recirculation is enabled.
	RecirculationDuration int `yaml:"recirculation_duration"`

	// TemperatureUnits is "C" or "F". Minimum and maximum are in this unit.
	TemperatureUnits   string  `yaml:"temperature_units"`
	MinimumTemperature float64 `yaml:"minimum_temperature"`
	MaximumTemperature float64 `yaml:"maximum_temperature"`

	// RecirculationOnly hides temperature control.
	RecirculationOnly bool `yaml:"recirculation_only"`

	PollInterval                 time.Duration `yaml:"poll_interval"`
	PollThrottleMS               int           `yaml:"poll_throttle_ms"`
	SettleDelayMS                int           `yaml:"settle_delay_ms"`
	MaintenanceIdleThrottleMS    int           `yaml:"maintenance_idle_throttle_ms"`
	MaintenanceRunningThrottleMS int           `yaml:"maintenance_running_throttle_ms"`
	HTTPTimeout                  time.Duration `yaml:"http_timeout"`

	Endpoints EndpointsConfig `yaml:"endpoints"`
}

// String implements fmt.Stringer with the password redacted.
func (r RinnaiConfig) String() string {
	return fmt.Sprintf("RinnaiConfig{Username: %q, Password: %s, Units: %s, Range: %.1f-%.1f}",
		r.Username, redactedValue, r.TemperatureUnits, r.MinimumTemperature, r.MaximumTemperature)
}

// MarshalJSON implements json.Marshaler to redact secrets in JSON output.
func (r RinnaiConfig) MarshalJSON() ([]byte, error) {
	type redacted RinnaiConfig
	safe := redacted(r)
	if safe.Password != "" {
		safe.Password = redactedValue
	}
	if safe.Endpoints.GraphQLAPIKey != "" {
		safe.Endpoints.GraphQLAPIKey = redactedValue
	}
	return json.Marshal(safe)
}

// EndpointsConfig locates the cloud services.
type EndpointsConfig struct {
	Region           string `yaml:"region"`
	UserPoolClientID string `yaml:"user_pool_client_id"`

	// CognitoURL defaults to the regional Cognito identity provider.
	CognitoURL string `yaml:"cognito_url"`

	GraphQLURL    string `yaml:"graphql_url"`
	GraphQLAPIKey string `yaml:"graphql_api_key"`

	// The shadow endpoint of a device is ShadowPrefix + thing name + ShadowSuffix.
	ShadowPrefix string `yaml:"shadow_prefix"`
	ShadowSuffix string `yaml:"shadow_suffix"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`
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

// String implements fmt.Stringer with the password redacted.
func (a MQTTAuthConfig) String() string {
	if a.Password == "" {
		return fmt.Sprintf("MQTTAuthConfig{Username: %q}", a.Username)
	}
	return fmt.Sprintf("MQTTAuthConfig{Username: %q, Password: %s}", a.Username, redactedValue)
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings, in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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

// MetricsConfig contains DogStatsD settings.
type MetricsConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Address   string   `yaml:"address"`
	Namespace string   `yaml:"namespace"`
	Tags      []string `yaml:"tags"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: RINNAI_SECTION_KEY
// For example: RINNAI_DATABASE_PATH, RINNAI_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Rinnai: RinnaiConfig{
			RecirculationDuration:        5,
			TemperatureUnits:             "F",
			MinimumTemperature:           110,
			MaximumTemperature:           140,
			PollInterval:                 30 * time.Second,
			PollThrottleMS:               1000,
			SettleDelayMS:                5000,
			MaintenanceIdleThrottleMS:    300000,
			MaintenanceRunningThrottleMS: 60000,
			HTTPTimeout:                  15 * time.Second,
			Endpoints: EndpointsConfig{
				Region: "us-east-1",
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/rinnai.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "rinnai-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			TopicPrefix: "rinnai",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Metrics: MetricsConfig{
			Address:   "127.0.0.1:8125",
			Namespace: "rinnai.",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: RINNAI_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Cloud account
	if v := os.Getenv("RINNAI_USERNAME"); v != "" {
		cfg.Rinnai.Username = v
	}
	if v := os.Getenv("RINNAI_PASSWORD"); v != "" {
		cfg.Rinnai.Password = v
	}
	if v := os.Getenv("RINNAI_TEMPERATURE_UNITS"); v != "" {
		cfg.Rinnai.TemperatureUnits = v
	}
	if v := os.Getenv("RINNAI_RECIRCULATION_ONLY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Rinnai.RecirculationOnly = b
		}
	}
	if v := os.Getenv("RINNAI_GRAPHQL_API_KEY"); v != "" {
		cfg.Rinnai.Endpoints.GraphQLAPIKey = v
	}

	// Database
	if v := os.Getenv("RINNAI_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("RINNAI_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("RINNAI_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("RINNAI_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("RINNAI_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("RINNAI_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Metrics
	if v := os.Getenv("RINNAI_STATSD_ADDRESS"); v != "" {
		cfg.Metrics.Address = v
	}
}

// applyDerived fills values computed from other settings.
func (c *Config) applyDerived() {
	e := &c.Rinnai.Endpoints
	if e.CognitoURL == "" && e.Region != "" {
		e.CognitoURL = fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/", e.Region)
	}
}

// Validate checks the configuration for errors. All problems are reported
// together.
func (c *Config) Validate() error {
	var errs []string

	// Cloud account
	r := c.Rinnai
	if r.Username == "" {
		errs = append(errs, "rinnai.username is required")
	}
	if r.Password == "" {
		errs = append(errs, "rinnai.password is required (set RINNAI_PASSWORD environment variable)")
	}
	if _, err := units.ParseUnit(r.TemperatureUnits); err != nil {
		errs = append(errs, "rinnai.temperature_units must be C or F")
	}
	if r.MinimumTemperature >= r.MaximumTemperature {
		errs = append(errs, "rinnai.minimum_temperature must be below rinnai.maximum_temperature")
	}
	if r.RecirculationDuration < 0 {
		errs = append(errs, "rinnai.recirculation_duration must not be negative")
	}
	if r.PollInterval <= 0 {
		errs = append(errs, "rinnai.poll_interval must be positive")
	}
	if r.PollThrottleMS <= 0 || r.SettleDelayMS <= 0 ||
		r.MaintenanceIdleThrottleMS <= 0 || r.MaintenanceRunningThrottleMS <= 0 {
		errs = append(errs, "rinnai throttle windows and settle delay must be positive")
	}
	if r.HTTPTimeout <= 0 {
		errs = append(errs, "rinnai.http_timeout must be positive")
	}

	// Cloud endpoints
	e := r.Endpoints
	if e.UserPoolClientID == "" {
		errs = append(errs, "rinnai.endpoints.user_pool_client_id is required")
	}
	if e.CognitoURL == "" {
		errs = append(errs, "rinnai.endpoints.cognito_url or rinnai.endpoints.region is required")
	}
	if e.GraphQLURL == "" {
		errs = append(errs, "rinnai.endpoints.graphql_url is required")
	}
	if e.GraphQLAPIKey == "" {
		errs = append(errs, "rinnai.endpoints.graphql_api_key is required")
	}
	if e.ShadowPrefix == "" {
		errs = append(errs, "rinnai.endpoints.shadow_prefix is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		errs = append(errs, "metrics.address is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Preference builds the unit preference devices are derived with.
func (c *Config) Preference() (units.Preference, error) {
	pref, err := units.NewPreference(c.Rinnai.TemperatureUnits, c.Rinnai.MinimumTemperature, c.Rinnai.MaximumTemperature)
	if err != nil {
		return units.Preference{}, err
	}
	pref.RecirculationDuration = c.Rinnai.RecirculationDuration
	pref.RecirculationOnly = c.Rinnai.RecirculationOnly
	return pref, nil
}

// PollThrottle returns the global poll throttle window.
func (c *Config) PollThrottle() time.Duration {
	return time.Duration(c.Rinnai.PollThrottleMS) * time.Millisecond
}

// SettleDelay returns the delay between a command and its re-poll.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Rinnai.SettleDelayMS) * time.Millisecond
}

// MaintenanceIdleThrottle returns the maintenance window for idle devices.
func (c *Config) MaintenanceIdleThrottle() time.Duration {
	return time.Duration(c.Rinnai.MaintenanceIdleThrottleMS) * time.Millisecond
}

// MaintenanceRunningThrottle returns the maintenance window for running devices.
func (c *Config) MaintenanceRunningThrottle() time.Duration {
	return time.Duration(c.Rinnai.MaintenanceRunningThrottleMS) * time.Millisecond
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
