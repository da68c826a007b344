package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Reconciliation timing defaults. These track observed charger propagation
// latency and are overridable per deployment.
const (
	DefaultEchoWindow         = 5 * time.Second
	DefaultCurrentSettleDelay = 2 * time.Second
	DefaultModeSettleDelay    = 5 * time.Second
	DefaultPollInterval       = 250 * time.Millisecond
	DefaultHTTPTimeout        = 5 * time.Second
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds application configuration
type Config struct {
	// Server settings
	ServerPort int    `json:"server_port" yaml:"server_port"`
	DataDir    string `json:"data_dir" yaml:"data_dir"`

	Charger   ChargerConfig   `json:"charger" yaml:"charger"`
	Polling   PollingConfig   `json:"polling" yaml:"polling"`
	Reconcile ReconcileConfig `json:"reconcile" yaml:"reconcile"`
	MQTT      MQTTConfig      `json:"mqtt" yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `json:"influxdb" yaml:"influxdb"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`

	// Event log retention
	EventRetentionDays int `json:"event_retention_days" yaml:"event_retention_days"`
}

// ChargerConfig describes how to reach the charger and its energy manager
type ChargerConfig struct {
	Host              string  `json:"host" yaml:"host"`
	EnergyManagerHost string  `json:"energy_manager_host" yaml:"energy_manager_host"`
	SourceTag         string  `json:"source_tag" yaml:"source_tag"`
	SessionTag        string  `json:"session_tag" yaml:"session_tag"`
	ProductName       string  `json:"product_name" yaml:"product_name"`
	DeviceInstance    int     `json:"device_instance" yaml:"device_instance"`
	TimeoutMillis     int     `json:"timeout_ms" yaml:"timeout_ms"`
	CommandsPerSecond float64 `json:"commands_per_second" yaml:"commands_per_second"`
	CommandBurst      int     `json:"command_burst" yaml:"command_burst"`
}

// PollingConfig controls the poll cadence and heartbeat logging
type PollingConfig struct {
	IntervalMillis    int `json:"interval_ms" yaml:"interval_ms"`
	SignOfLifeMinutes int `json:"sign_of_life_minutes" yaml:"sign_of_life_minutes"`
}

// ReconcileConfig holds the echo window and settle delays
type ReconcileConfig struct {
	EchoWindowMillis         int `json:"echo_window_ms" yaml:"echo_window_ms"`
	CurrentSettleDelayMillis int `json:"current_settle_delay_ms" yaml:"current_settle_delay_ms"`
	ModeSettleDelayMillis    int `json:"mode_settle_delay_ms" yaml:"mode_settle_delay_ms"`
}

// MQTTConfig configures the property transport
type MQTTConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Host        string `json:"host" yaml:"host"`
	Port        int    `json:"port" yaml:"port"`
	TLS         bool   `json:"tls" yaml:"tls"`
	ClientID    string `json:"client_id" yaml:"client_id"`
	Username    string `json:"username" yaml:"username"`
	Password    string `json:"password" yaml:"password"`
	TopicPrefix string `json:"topic_prefix" yaml:"topic_prefix"`
	QoS         int    `json:"qos" yaml:"qos"`
}

// InfluxDBConfig configures telemetry export
type InfluxDBConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	URL           string `json:"url" yaml:"url"`
	Token         string `json:"token" yaml:"token"`
	Org           string `json:"org" yaml:"org"`
	Bucket        string `json:"bucket" yaml:"bucket"`
	BatchSize     int    `json:"batch_size" yaml:"batch_size"`
	FlushInterval int    `json:"flush_interval_seconds" yaml:"flush_interval_seconds"`
}

// LoggingConfig configures the default logger
type LoggingConfig struct {
	Level string `json:"level" yaml:"level"`
	JSON  bool   `json:"json" yaml:"json"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".lektrico-bridge")

	return &Config{
		ServerPort: 8080,
		DataDir:    dataDir,
		Charger: ChargerConfig{
			Host:              "192.168.1.50",
			EnergyManagerHost: "192.168.1.51",
			SourceTag:         "VenusOS",
			SessionTag:        "Victron",
			ProductName:       "Lektri.co 1p7k",
			DeviceInstance:    43,
			TimeoutMillis:     int(DefaultHTTPTimeout / time.Millisecond),
			CommandsPerSecond: 2,
			CommandBurst:      4,
		},
		Polling: PollingConfig{
			IntervalMillis:    int(DefaultPollInterval / time.Millisecond),
			SignOfLifeMinutes: 5,
		},
		Reconcile: ReconcileConfig{
			EchoWindowMillis:         int(DefaultEchoWindow / time.Millisecond),
			CurrentSettleDelayMillis: int(DefaultCurrentSettleDelay / time.Millisecond),
			ModeSettleDelayMillis:    int(DefaultModeSettleDelay / time.Millisecond),
		},
		MQTT: MQTTConfig{
			Host:        "localhost",
			Port:        1883,
			ClientID:    "lektrico-bridge",
			TopicPrefix: "lektrico/evcharger",
			QoS:         1,
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Bucket:        "evcharger",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		EventRetentionDays: 30,
	}
}

// Load reads configuration from a JSON or YAML file. The format is picked by
// extension; a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes configuration to a JSON or YAML file
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate checks the fields the bridge cannot run without
func (c *Config) Validate() error {
	var problems []string
	if c.Charger.Host == "" {
		problems = append(problems, "charger.host is required")
	}
	if c.Charger.EnergyManagerHost == "" {
		problems = append(problems, "charger.energy_manager_host is required")
	}
	if c.Polling.IntervalMillis <= 0 {
		problems = append(problems, "polling.interval_ms must be positive")
	}
	if c.Reconcile.EchoWindowMillis < 0 || c.Reconcile.CurrentSettleDelayMillis < 0 || c.Reconcile.ModeSettleDelayMillis < 0 {
		problems = append(problems, "reconcile timings must not be negative")
	}
	if c.MQTT.Enabled && c.MQTT.Host == "" {
		problems = append(problems, "mqtt.host is required when mqtt is enabled")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		problems = append(problems, "mqtt.qos must be 0, 1 or 2")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		problems = append(problems, "influxdb.url is required when influxdb is enabled")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// EnsureDataDir creates the data directory if it doesn't exist
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0755)
}

// DatabasePath returns the path to the SQLite database
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "lektrico-bridge.db")
}

// PollInterval returns the poll cadence
func (c *Config) PollInterval() time.Duration {
	return millis(c.Polling.IntervalMillis, DefaultPollInterval)
}

// SignOfLifeInterval returns the heartbeat interval; zero disables it
func (c *Config) SignOfLifeInterval() time.Duration {
	if c.Polling.SignOfLifeMinutes <= 0 {
		return 0
	}
	return time.Duration(c.Polling.SignOfLifeMinutes) * time.Minute
}

// HTTPTimeout returns the device request timeout
func (c *Config) HTTPTimeout() time.Duration {
	return millis(c.Charger.TimeoutMillis, DefaultHTTPTimeout)
}

// EchoWindow returns the StartStop delayed-echo window
func (c *Config) EchoWindow() time.Duration {
	return millis(c.Reconcile.EchoWindowMillis, DefaultEchoWindow)
}

// CurrentSettleDelay returns the wait between a current change and resume
func (c *Config) CurrentSettleDelay() time.Duration {
	return millis(c.Reconcile.CurrentSettleDelayMillis, DefaultCurrentSettleDelay)
}

// ModeSettleDelay returns the wait between a mode change and resume
func (c *Config) ModeSettleDelay() time.Duration {
	return millis(c.Reconcile.ModeSettleDelayMillis, DefaultModeSettleDelay)
}

func millis(v int, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return time.Duration(v) * time.Millisecond
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
