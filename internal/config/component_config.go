package config

import (
	"time"

	"github.com/mouldrestoration/livesync/internal/api"
	"github.com/mouldrestoration/livesync/internal/lifecycle"
	"github.com/mouldrestoration/livesync/internal/logging"
	"github.com/mouldrestoration/livesync/internal/notification"
	"github.com/mouldrestoration/livesync/internal/realtime"
	"github.com/mouldrestoration/livesync/internal/relay"
	"github.com/mouldrestoration/livesync/internal/telemetry"
	"github.com/mouldrestoration/livesync/internal/transport"
)

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// ToTransportConfig converts to the websocket transport config
func (c *Config) ToTransportConfig() transport.Config {
	return transport.Config{
		URL:                c.Realtime.URL,
		HandshakeTimeout:   seconds(c.Transport.HandshakeTimeoutSeconds),
		WriteTimeout:       seconds(c.Transport.WriteTimeoutSeconds),
		HeartbeatInterval:  seconds(c.Transport.HeartbeatIntervalSeconds),
		HeartbeatTimeout:   seconds(c.Transport.HeartbeatTimeoutSeconds),
		SendBuffer:         c.Transport.SendBuffer,
		ReconnectAttempts:  c.Transport.ReconnectAttempts,
		ReconnectBaseDelay: millis(c.Transport.ReconnectBaseDelayMs),
		ReconnectMaxDelay:  millis(c.Transport.ReconnectMaxDelayMs),
		BreakerMaxFailures: c.Transport.BreakerMaxFailures,
		BreakerOpenTimeout: seconds(c.Transport.BreakerOpenTimeoutSeconds),
	}
}

// ToNotificationConfig converts to the unread counter config
func (c *Config) ToNotificationConfig() notification.Config {
	return notification.Config{
		SoundEnabled:  c.Notification.SoundEnabled,
		ReadCacheSize: c.Notification.ReadCacheSize,
	}
}

// ToRealtimeConfig converts to the session manager config
func (c *Config) ToRealtimeConfig() realtime.Config {
	return realtime.Config{
		Enabled:               c.Realtime.Enabled,
		InitialPath:           c.Realtime.InitialPath,
		HiddenDisconnectAfter: seconds(c.Realtime.HiddenDisconnectAfterSeconds),
		EventBuffer:           c.Realtime.EventBuffer,
		Transport:             c.ToTransportConfig(),
		Notification:          c.ToNotificationConfig(),
	}
}

// ToNetworkConfig converts to the network monitor config
func (c *Config) ToNetworkConfig() lifecycle.NetworkConfig {
	return lifecycle.NetworkConfig{
		Addr:     c.Lifecycle.ProbeAddr,
		Interval: seconds(c.Lifecycle.ProbeIntervalSeconds),
		Timeout:  millis(c.Lifecycle.ProbeTimeoutMs),
	}
}

// ToAPIConfig converts to the control API config
func (c *Config) ToAPIConfig() api.Config {
	return api.Config{
		Addr:           c.API.Addr,
		ReadTimeout:    seconds(c.API.ReadTimeoutSeconds),
		WriteTimeout:   seconds(c.API.WriteTimeoutSeconds),
		IdleTimeout:    seconds(c.API.IdleTimeoutSeconds),
		ConnectTimeout: seconds(c.API.ConnectTimeoutSeconds),
		AllowedOrigins: c.API.AllowedOrigins,
		MetricsEnabled: c.Metrics.Enabled,
	}
}

// ToRelayConfig converts to the development relay config
func (c *Config) ToRelayConfig() relay.Config {
	cfg := relay.DefaultConfig()
	cfg.Addr = c.Relay.Addr
	cfg.Path = c.Relay.Path
	cfg.JWTSecret = c.Auth.JWTSecret
	return cfg
}

// ToLoggingConfig converts to logger config
func (c *Config) ToLoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Logging.Level)
	cfg.Format = logging.LogFormat(c.Logging.Format)
	cfg.IncludeCaller = c.Logging.IncludeCaller
	cfg.GlobalFields = c.Logging.GlobalFields
	cfg.File = logging.FileConfig{
		Enabled:    c.Logging.File.Enabled,
		Dir:        c.Logging.File.Dir,
		Filename:   "livesync.log",
		MaxSizeMB:  c.Logging.File.MaxSizeMB,
		MaxBackups: c.Logging.File.MaxBackups,
		MaxAgeDays: c.Logging.File.MaxAgeDays,
		Compress:   c.Logging.File.Compress,
	}
	return cfg
}

// ToTelemetryConfig converts to telemetry config
func (c *Config) ToTelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Enabled:       c.Telemetry.Enabled,
		ServiceName:   c.Telemetry.ServiceName,
		Endpoint:      c.Telemetry.Endpoint,
		Insecure:      c.Telemetry.Insecure,
		SamplingRatio: c.Telemetry.SamplingRatio,
		Timeout:       telemetry.DefaultConfig().Timeout,
		Attributes:    c.Telemetry.Attributes,
	}
}
