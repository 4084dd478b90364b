// Package api serves the local control API a rendering layer uses to read
// session snapshots and trigger actions.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	apierrors "github.com/mouldrestoration/livesync/internal/api/errors"
	"github.com/mouldrestoration/livesync/internal/api/models"
	"github.com/mouldrestoration/livesync/internal/api/response"
	"github.com/mouldrestoration/livesync/internal/api/validation"
	"github.com/mouldrestoration/livesync/internal/logging"
	"github.com/mouldrestoration/livesync/internal/metrics"
	"github.com/mouldrestoration/livesync/internal/realtime"
	"github.com/mouldrestoration/livesync/internal/telemetry"
	"github.com/mouldrestoration/livesync/pkg/proto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config contains API configuration
type Config struct {
	// Server address
	Addr string

	// Timeouts
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Upper bound for POST /connect to wait for the handshake
	ConnectTimeout time.Duration

	// Origins allowed to call the API from a browser
	AllowedOrigins []string

	// Serve Prometheus metrics on /metrics
	MetricsEnabled bool

	// Reported by /healthz
	Version string
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Addr:           "127.0.0.1:8787",
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    120 * time.Second,
		ConnectTimeout: 10 * time.Second,
		AllowedOrigins: []string{"http://localhost:3000"},
		MetricsEnabled: true,
	}
}

// API handles control endpoints using a chi router
type API struct {
	config  Config
	session Session
	alerts  AlertSource
	router  chi.Router
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewAPI creates the control API. alerts may be nil, in which case
// GET /alerts always returns an empty list.
func NewAPI(config Config, session Session, alerts AlertSource) *API {
	defaults := DefaultConfig()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}

	a := &API{
		config:  config,
		session: session,
		alerts:  alerts,
		logger:  log.With().Str("component", "api").Logger(),
		metrics: metrics.GetMetrics(),
	}
	a.router = a.routes()
	return a
}

// Handler returns the HTTP handler
func (a *API) Handler() http.Handler {
	return a.router
}

// Start serves until ctx is cancelled, then shuts the server down.
func (a *API) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.config.Addr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (a *API) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:      a.router,
		ReadTimeout:  a.config.ReadTimeout,
		WriteTimeout: a.config.WriteTimeout,
		IdleTimeout:  a.config.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()
	a.logger.Info().Str("addr", ln.Addr().String()).Msg("Control API started")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info().Msg("Shutting down control API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(telemetry.HTTPMiddleware())
	r.Use(logging.HTTPMiddleware())
	r.Use(a.metricsMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.config.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", a.handleHealth)
	if a.config.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Get("/state", a.handleState)
	r.Get("/alerts", a.handleAlerts)

	r.Group(func(r chi.Router) {
		r.Use(a.requireEnabled)

		r.Post("/connect", a.handleConnect)
		r.Post("/disconnect", a.handleDisconnect)
		r.Post("/activity", a.handleActivity)
		r.Post("/notifications/{id}/read", a.handleMarkRead)
		r.Post("/calendar/sync/{provider}", a.handleCalendarSync)
		r.Post("/navigate", a.handleNavigate)
		r.Post("/visibility", a.handleVisibility)
	})

	return r
}

// requireEnabled rejects actions while realtime updates are switched off.
func (a *API) requireEnabled(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.session.Enabled() {
			response.Error(w, r, apierrors.UnavailableError("realtime_disabled", "Realtime updates are disabled"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		a.metrics.APIRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		a.metrics.APIRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// fail records and writes an error response
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := apierrors.FromError(err)
	path := r.URL.Path
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		path = rctx.RoutePattern()
	}
	a.metrics.APIErrorsTotal.WithLabelValues(r.Method, path, string(apiErr.Type)).Inc()
	response.Error(w, r, apiErr)
}

func (a *API) state() models.StateResponse {
	return models.StateFromSnapshot(a.session.Enabled(), a.session.Snapshot())
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.HealthResponse{Status: "ok", Version: a.config.Version})
}

func (a *API) handleState(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, a.state())
}

func (a *API) handleAlerts(w http.ResponseWriter, r *http.Request) {
	var drained []models.AlertResponse
	if a.alerts != nil {
		drained = models.AlertsFromQueue(a.alerts.Drain())
	}
	if drained == nil {
		drained = []models.AlertResponse{}
	}
	response.JSON(w, r, http.StatusOK, drained)
}

// handleConnect waits for the handshake to settle. A failed handshake is
// not an API error: the resulting state is returned either way.
func (a *API) handleConnect(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.config.ConnectTimeout)
	defer cancel()

	a.session.Connect(ctx)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) && a.session.Snapshot().ConnectionState == realtime.StateConnecting {
		a.fail(w, r, apierrors.TimeoutError("connect_timeout", "Connection is still being established"))
		return
	}
	response.JSON(w, r, http.StatusOK, a.state())
}

func (a *API) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	a.session.Disconnect()
	response.JSON(w, r, http.StatusOK, a.state())
}

func (a *API) handleActivity(w http.ResponseWriter, r *http.Request) {
	var req models.ActivityRequest
	if err := validation.ParseAndValidate(w, r, &req); err != nil {
		a.logger.Debug().Err(err).Msg("Invalid activity request")
		a.fail(w, r, err)
		return
	}

	a.session.SendUserActivity(req.Action, req.Page)
	response.JSON(w, r, http.StatusAccepted, a.state())
}

func (a *API) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := validation.Required("id", id); err != nil {
		a.fail(w, r, err)
		return
	}

	a.session.MarkNotificationAsRead(id)
	response.JSON(w, r, http.StatusAccepted, a.state())
}

func (a *API) handleCalendarSync(w http.ResponseWriter, r *http.Request) {
	provider := proto.CalendarProvider(chi.URLParam(r, "provider"))
	if !provider.Valid() {
		a.fail(w, r, apierrors.NotFoundError("unknown_provider", "Calendar provider must be google or outlook"))
		return
	}
	if !a.session.Snapshot().IsConnected {
		a.fail(w, r, apierrors.UnavailableError("not_connected", "Calendar sync needs a live connection"))
		return
	}

	a.session.RequestCalendarSync(provider)
	response.JSON(w, r, http.StatusAccepted, map[string]string{"provider": string(provider)})
}

func (a *API) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req models.NavigateRequest
	if err := validation.ParseAndValidate(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	a.session.Navigate(req.Path)
	response.JSON(w, r, http.StatusAccepted, a.state())
}

func (a *API) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var req models.VisibilityRequest
	if err := validation.ParseAndValidate(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	a.session.SetVisible(*req.Visible)
	response.JSON(w, r, http.StatusAccepted, a.state())
}
