package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Realtime.Enabled)
	assert.Equal(t, "ws://localhost:3001/ws", cfg.Realtime.URL)
	assert.Equal(t, 15, cfg.Transport.HeartbeatIntervalSeconds)
	assert.Equal(t, 30, cfg.Transport.HeartbeatTimeoutSeconds)
	assert.Equal(t, 5, cfg.Transport.ReconnectAttempts)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeFile(t, "config.yaml", `realtime:
  enabled: true
  url: "wss://crm.example.com/ws"
transport:
  heartbeat_interval_seconds: 5
  heartbeat_timeout_seconds: 12
logging:
  level: "debug"
`)

	cfg, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	assert.True(t, cfg.Realtime.Enabled)
	assert.Equal(t, "wss://crm.example.com/ws", cfg.Realtime.URL)
	assert.Equal(t, 5, cfg.Transport.HeartbeatIntervalSeconds)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Unspecified fields keep their defaults
	assert.Equal(t, 64, cfg.Transport.SendBuffer)
	assert.Equal(t, "/", cfg.Realtime.InitialPath)
}

func TestLoadConfigFromMissingFile(t *testing.T) {
	cfg, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := writeFile(t, "config.yaml", `realtime:
  url: "ws://file:3001/ws"
api:
  addr: "127.0.0.1:9000"
logging:
  level: "debug"
`)
	envFile := writeFile(t, ".env", "LIVESYNC_WS_ENABLED=true\nLIVESYNC_JWT_SECRET=from-dotenv\n")
	require.NoError(t, os.Unsetenv("LIVESYNC_WS_ENABLED"))
	t.Cleanup(func() { os.Unsetenv("LIVESYNC_WS_ENABLED") })

	t.Setenv("LIVESYNC_WS_URL", "ws://env:3001/ws")
	t.Setenv("LIVESYNC_API_ADDR", "127.0.0.1:9100")
	// Set in the real environment, so the .env value must not replace it
	t.Setenv("LIVESYNC_JWT_SECRET", "from-env")

	cfg, err := LoadConfig(path, envFile, Flags{APIAddr: "127.0.0.1:9200", LogLevel: "warn"})
	require.NoError(t, err)

	assert.Equal(t, "ws://env:3001/ws", cfg.Realtime.URL)
	assert.Equal(t, "127.0.0.1:9200", cfg.API.Addr)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.True(t, cfg.Realtime.Enabled)
}

func TestLoadConfigFlagsDisable(t *testing.T) {
	t.Setenv("LIVESYNC_WS_ENABLED", "true")
	off := false

	cfg, err := LoadConfig("", filepath.Join(t.TempDir(), "missing.env"), Flags{})
	assert.Error(t, err, "an explicit env file must exist")
	assert.Nil(t, cfg)

	cfg, err = LoadConfig("", "", Flags{Enabled: &off})
	require.NoError(t, err)
	assert.False(t, cfg.Realtime.Enabled)
}

func TestLoadConfigInvalidEnv(t *testing.T) {
	t.Setenv("LIVESYNC_WS_ENABLED", "sometimes")

	_, err := LoadConfig("", "", Flags{})
	assert.ErrorContains(t, err, "LIVESYNC_WS_ENABLED")
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Realtime.Enabled = true
	cfg.Realtime.URL = "ftp://example.com"
	cfg.Transport.HeartbeatTimeoutSeconds = 10
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "realtime.url")
	assert.ErrorContains(t, err, "heartbeat_timeout_seconds")
	assert.ErrorContains(t, err, "logging.level")
}

func TestComponentConfigs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Realtime.Enabled = true
	cfg.Realtime.HiddenDisconnectAfterSeconds = 300
	cfg.Lifecycle.ProbeAddr = "1.1.1.1:53"
	cfg.Auth.JWTSecret = "s3cret"

	rt := cfg.ToRealtimeConfig()
	assert.True(t, rt.Enabled)
	assert.Equal(t, 5*time.Minute, rt.HiddenDisconnectAfter)
	assert.Equal(t, 15*time.Second, rt.Transport.HeartbeatInterval)
	assert.Equal(t, time.Second, rt.Transport.ReconnectBaseDelay)
	assert.Equal(t, 30*time.Second, rt.Transport.ReconnectMaxDelay)
	assert.Equal(t, uint32(5), rt.Transport.BreakerMaxFailures)
	assert.True(t, rt.Notification.SoundEnabled)

	network := cfg.ToNetworkConfig()
	assert.Equal(t, "1.1.1.1:53", network.Addr)
	assert.Equal(t, 3*time.Second, network.Timeout)

	apiCfg := cfg.ToAPIConfig()
	assert.Equal(t, cfg.API.Addr, apiCfg.Addr)
	assert.True(t, apiCfg.MetricsEnabled)

	relayCfg := cfg.ToRelayConfig()
	assert.Equal(t, "s3cret", relayCfg.JWTSecret)
	assert.Equal(t, "/ws", relayCfg.Path)

	logCfg := cfg.ToLoggingConfig()
	assert.Equal(t, "info", string(logCfg.Level))
	assert.Equal(t, "livesync.log", logCfg.File.Filename)

	assert.Equal(t, "livesync", cfg.ToTelemetryConfig().ServiceName)
}
