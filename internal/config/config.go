// Package config loads agent configuration from YAML, .env files, the
// environment and command line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "LIVESYNC_"

// Config represents the complete application configuration
type Config struct {
	Realtime     RealtimeConfig     `yaml:"realtime"`
	Transport    TransportConfig    `yaml:"transport"`
	Auth         AuthConfig         `yaml:"auth"`
	Notification NotificationConfig `yaml:"notification"`
	Alerts       AlertsConfig       `yaml:"alerts"`
	Lifecycle    LifecycleConfig    `yaml:"lifecycle"`
	API          APIConfig          `yaml:"api"`
	Relay        RelayConfig        `yaml:"relay"`
	Logging      LoggingConfig      `yaml:"logging"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// RealtimeConfig contains session settings
type RealtimeConfig struct {
	Enabled                      bool   `yaml:"enabled"`
	URL                          string `yaml:"url"`
	InitialPath                  string `yaml:"initial_path"`
	HiddenDisconnectAfterSeconds int    `yaml:"hidden_disconnect_after_seconds"`
	EventBuffer                  int    `yaml:"event_buffer"`
}

// TransportConfig contains websocket settings
type TransportConfig struct {
	HandshakeTimeoutSeconds   int    `yaml:"handshake_timeout_seconds"`
	WriteTimeoutSeconds       int    `yaml:"write_timeout_seconds"`
	HeartbeatIntervalSeconds  int    `yaml:"heartbeat_interval_seconds"`
	HeartbeatTimeoutSeconds   int    `yaml:"heartbeat_timeout_seconds"`
	SendBuffer                int    `yaml:"send_buffer"`
	ReconnectAttempts         int    `yaml:"reconnect_attempts"`
	ReconnectBaseDelayMs      int    `yaml:"reconnect_base_delay_ms"`
	ReconnectMaxDelayMs       int    `yaml:"reconnect_max_delay_ms"`
	BreakerMaxFailures        uint32 `yaml:"breaker_max_failures"`
	BreakerOpenTimeoutSeconds int    `yaml:"breaker_open_timeout_seconds"`
}

// AuthConfig contains principal settings
type AuthConfig struct {
	// HS256 secret used to read the session token
	JWTSecret string `yaml:"jwt_secret"`

	// Session token; usually supplied through LIVESYNC_TOKEN
	Token string `yaml:"token"`
}

// NotificationConfig contains unread counter and sound settings
type NotificationConfig struct {
	SoundEnabled   bool     `yaml:"sound_enabled"`
	ReadCacheSize  int      `yaml:"read_cache_size"`
	SampleRate     int      `yaml:"sample_rate"`
	PlayTimeoutMs  int      `yaml:"play_timeout_ms"`
	PlayerCommands []string `yaml:"player_commands"`
}

// AlertsConfig contains alert delivery settings
type AlertsConfig struct {
	QueueSize int  `yaml:"queue_size"`
	Log       bool `yaml:"log"`
}

// LifecycleConfig contains network probe and signal settings
type LifecycleConfig struct {
	ProbeAddr            string `yaml:"probe_addr"`
	ProbeIntervalSeconds int    `yaml:"probe_interval_seconds"`
	ProbeTimeoutMs       int    `yaml:"probe_timeout_ms"`
	HandleSignals        bool   `yaml:"handle_signals"`
}

// APIConfig contains control API settings
type APIConfig struct {
	Enabled               bool     `yaml:"enabled"`
	Addr                  string   `yaml:"addr"`
	ReadTimeoutSeconds    int      `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds   int      `yaml:"write_timeout_seconds"`
	IdleTimeoutSeconds    int      `yaml:"idle_timeout_seconds"`
	ConnectTimeoutSeconds int      `yaml:"connect_timeout_seconds"`
	AllowedOrigins        []string `yaml:"allowed_origins"`
}

// RelayConfig contains the development relay settings
type RelayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level         string            `yaml:"level"`
	Format        string            `yaml:"format"`
	IncludeCaller bool              `yaml:"include_caller"`
	GlobalFields  map[string]string `yaml:"global_fields"`
	File          LogFileConfig     `yaml:"file"`
}

// LogFileConfig contains rotating log file settings
type LogFileConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// TelemetryConfig contains OpenTelemetry settings
type TelemetryConfig struct {
	Enabled       bool              `yaml:"enabled"`
	ServiceName   string            `yaml:"service_name"`
	Endpoint      string            `yaml:"endpoint"`
	Insecure      bool              `yaml:"insecure"`
	SamplingRatio float64           `yaml:"sampling_ratio"`
	Attributes    map[string]string `yaml:"attributes"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Realtime: RealtimeConfig{
			Enabled:     false,
			URL:         "ws://localhost:3001/ws",
			InitialPath: "/",
			EventBuffer: 256,
		},
		Transport: TransportConfig{
			HandshakeTimeoutSeconds:   10,
			WriteTimeoutSeconds:       10,
			HeartbeatIntervalSeconds:  15,
			HeartbeatTimeoutSeconds:   30,
			SendBuffer:                64,
			ReconnectAttempts:         5,
			ReconnectBaseDelayMs:      1000,
			ReconnectMaxDelayMs:       30000,
			BreakerMaxFailures:        5,
			BreakerOpenTimeoutSeconds: 30,
		},
		Notification: NotificationConfig{
			SoundEnabled:  true,
			ReadCacheSize: 256,
			SampleRate:    44100,
			PlayTimeoutMs: 2000,
		},
		Alerts: AlertsConfig{
			QueueSize: 100,
			Log:       true,
		},
		Lifecycle: LifecycleConfig{
			ProbeIntervalSeconds: 10,
			ProbeTimeoutMs:       3000,
			HandleSignals:        true,
		},
		API: APIConfig{
			Enabled:               true,
			Addr:                  "127.0.0.1:8787",
			ReadTimeoutSeconds:    5,
			WriteTimeoutSeconds:   15,
			IdleTimeoutSeconds:    120,
			ConnectTimeoutSeconds: 10,
			AllowedOrigins:        []string{"http://localhost:3000"},
		},
		Relay: RelayConfig{
			Enabled: false,
			Addr:    "127.0.0.1:3001",
			Path:    "/ws",
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "json",
			GlobalFields: map[string]string{},
			File: LogFileConfig{
				Dir:        "logs",
				MaxSizeMB:  10,
				MaxBackups: 5,
				MaxAgeDays: 30,
				Compress:   true,
			},
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			ServiceName:   "livesync",
			Endpoint:      "localhost:4317",
			Insecure:      true,
			SamplingRatio: 0.1,
			Attributes:    map[string]string{},
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Flags carries command line overrides. Empty values and nil pointers
// leave the configuration untouched.
type Flags struct {
	URL      string
	APIAddr  string
	LogLevel string
	Token    string
	Enabled  *bool
	DevRelay *bool
}

// LoadConfigFromFile loads configuration from a YAML file
func LoadConfigFromFile(filePath string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("file", filePath).Msg("Configuration file not found, using defaults")
			return config, nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}

// LoadConfig builds the configuration with precedence
// flags > environment > file > defaults. Variables from envFile (or
// ./.env when envFile is empty) are loaded into the environment first
// without replacing variables that are already set.
func LoadConfig(configFile, envFile string, flags Flags) (*Config, error) {
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if configFile != "" {
		var err error
		config, err = LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	applyFlags(config, flags)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func loadEnvFile(envFile string) error {
	explicit := envFile != ""
	if !explicit {
		envFile = ".env"
	}
	err := godotenv.Load(envFile)
	if err == nil {
		return nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("error loading env file %s: %w", envFile, err)
}

// applyEnvOverrides applies LIVESYNC_* environment variables
func applyEnvOverrides(config *Config) error {
	var errs []error

	envBool := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	envInt := func(name string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	envString := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}

	envBool("WS_ENABLED", &config.Realtime.Enabled)
	envString("WS_URL", &config.Realtime.URL)
	envInt("HIDDEN_DISCONNECT_AFTER_SECONDS", &config.Realtime.HiddenDisconnectAfterSeconds)

	envString("JWT_SECRET", &config.Auth.JWTSecret)
	envString("TOKEN", &config.Auth.Token)

	envBool("SOUND_ENABLED", &config.Notification.SoundEnabled)
	envString("PROBE_ADDR", &config.Lifecycle.ProbeAddr)

	envBool("API_ENABLED", &config.API.Enabled)
	envString("API_ADDR", &config.API.Addr)
	if v := os.Getenv(EnvPrefix + "API_ALLOWED_ORIGINS"); v != "" {
		config.API.AllowedOrigins = splitList(v)
	}

	envBool("DEV_RELAY", &config.Relay.Enabled)

	envString("LOG_LEVEL", &config.Logging.Level)
	envString("LOG_FORMAT", &config.Logging.Format)
	envBool("LOG_FILE_ENABLED", &config.Logging.File.Enabled)
	envString("LOG_DIR", &config.Logging.File.Dir)

	envBool("TELEMETRY_ENABLED", &config.Telemetry.Enabled)
	envString("OTEL_ENDPOINT", &config.Telemetry.Endpoint)
	envBool("METRICS_ENABLED", &config.Metrics.Enabled)

	return errors.Join(errs...)
}

func applyFlags(config *Config, flags Flags) {
	if flags.URL != "" {
		config.Realtime.URL = flags.URL
	}
	if flags.APIAddr != "" {
		config.API.Addr = flags.APIAddr
	}
	if flags.LogLevel != "" {
		config.Logging.Level = flags.LogLevel
	}
	if flags.Token != "" {
		config.Auth.Token = flags.Token
	}
	if flags.Enabled != nil {
		config.Realtime.Enabled = *flags.Enabled
	}
	if flags.DevRelay != nil {
		config.Relay.Enabled = *flags.DevRelay
	}
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs []error

	if c.Realtime.Enabled {
		u, err := url.Parse(c.Realtime.URL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("realtime.url: %w", err))
		case u.Scheme != "ws" && u.Scheme != "wss" && u.Scheme != "http" && u.Scheme != "https":
			errs = append(errs, fmt.Errorf("realtime.url: unsupported scheme %q", u.Scheme))
		}
	}
	if !strings.HasPrefix(c.Realtime.InitialPath, "/") {
		errs = append(errs, fmt.Errorf("realtime.initial_path must start with /"))
	}
	if c.Realtime.HiddenDisconnectAfterSeconds < 0 {
		errs = append(errs, fmt.Errorf("realtime.hidden_disconnect_after_seconds must not be negative"))
	}
	if c.Transport.HeartbeatIntervalSeconds > 0 && c.Transport.HeartbeatTimeoutSeconds > 0 &&
		c.Transport.HeartbeatTimeoutSeconds <= c.Transport.HeartbeatIntervalSeconds {
		errs = append(errs, fmt.Errorf("transport.heartbeat_timeout_seconds must exceed heartbeat_interval_seconds"))
	}
	if c.Transport.ReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("transport.reconnect_attempts must not be negative"))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: invalid level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format: invalid format %q", c.Logging.Format))
	}
	if c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sampling_ratio must be within [0, 1]"))
	}

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
