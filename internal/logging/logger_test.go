package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreGlobals(t *testing.T) {
	t.Helper()
	prevLogger := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})
}

func TestSetupJSON(t *testing.T) {
	restoreGlobals(t)

	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Output = &buf
	cfg.GlobalFields = map[string]string{"service": "livesync"}

	closeFn, err := Setup(cfg)
	require.NoError(t, err)
	defer closeFn()

	logger := Component("transport")
	logger.Info().Msg("hello")
	logger.Debug().Msg("hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "hello", entry["message"])
	assert.Equal(t, "transport", entry["component"])
	assert.Equal(t, "livesync", entry["service"])
}

func TestSetupRotatingFile(t *testing.T) {
	restoreGlobals(t)

	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Output = &bytes.Buffer{}
	cfg.File.Enabled = true
	cfg.File.Dir = filepath.Join(dir, "nested")

	closeFn, err := Setup(cfg)
	require.NoError(t, err)

	log.Info().Msg("to file")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(filepath.Join(dir, "nested", "livesync.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestSetupInvalidLevel(t *testing.T) {
	restoreGlobals(t)

	cfg := DefaultConfig()
	cfg.Level = "chatty"
	_, err := Setup(cfg)
	assert.Error(t, err)
}

func TestHTTPMiddleware(t *testing.T) {
	restoreGlobals(t)

	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Output = &buf
	_, err := Setup(cfg)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(HTTPMiddleware())
	r.Get("/state/{part}", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/state/x", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, float64(http.StatusNotFound), entry["status"])
	assert.Equal(t, "/state/{part}", entry["route"])
}
