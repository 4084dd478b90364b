// Package engine wires the realtime session, its lifecycle sources and the
// control API into one process.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mouldrestoration/livesync/internal/alert"
	"github.com/mouldrestoration/livesync/internal/api"
	"github.com/mouldrestoration/livesync/internal/auth"
	"github.com/mouldrestoration/livesync/internal/config"
	"github.com/mouldrestoration/livesync/internal/lifecycle"
	"github.com/mouldrestoration/livesync/internal/notification"
	"github.com/mouldrestoration/livesync/internal/realtime"
	"github.com/mouldrestoration/livesync/internal/relay"
	"github.com/mouldrestoration/livesync/internal/telemetry"
	"github.com/mouldrestoration/livesync/internal/tone"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Option configures an Engine
type Option func(*Engine)

// WithTransport replaces the manager's transport factory.
func WithTransport(factory realtime.TransportFactory) Option {
	return func(e *Engine) {
		e.managerOpts = append(e.managerOpts, realtime.WithTransport(factory))
	}
}

// WithChime replaces the urgent notification sound.
func WithChime(chime notification.Chime) Option {
	return func(e *Engine) {
		e.chime = chime
	}
}

// WithUnloadSource replaces the OS signal source of unload events.
func WithUnloadSource(source func(ctx context.Context) <-chan lifecycle.Event) Option {
	return func(e *Engine) {
		e.unloadSource = source
	}
}

// Engine is the main coordinator of all livesync components
type Engine struct {
	config       *config.Config
	principal    *auth.Signal
	alerts       *alert.Queue
	chime        notification.Chime
	manager      *realtime.Manager
	managerOpts  []realtime.Option
	api          *api.API
	relay        *relay.Relay
	network      *lifecycle.NetworkMonitor
	unloadSource func(ctx context.Context) <-chan lifecycle.Event
	logger       zerolog.Logger
}

// New builds every component. When the development relay is enabled it is
// started here so the manager can be pointed at it.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		config: cfg,
		alerts: alert.NewQueue(cfg.Alerts.QueueSize),
		logger: log.With().Str("component", "engine").Logger(),
	}
	if cfg.Lifecycle.HandleSignals {
		e.unloadSource = func(ctx context.Context) <-chan lifecycle.Event {
			return lifecycle.NotifyUnload(ctx)
		}
	}
	if cfg.Notification.SoundEnabled {
		player := tone.NewCommandPlayer(cfg.Notification.PlayerCommands...)
		e.chime = tone.NewCue(player, cfg.Notification.SampleRate, time.Duration(cfg.Notification.PlayTimeoutMs)*time.Millisecond)
	}
	for _, opt := range opts {
		opt(e)
	}

	principal, err := PrincipalFromConfig(cfg.Auth)
	if err != nil {
		return nil, err
	}
	e.principal = auth.NewSignal(principal)

	rtConfig := cfg.ToRealtimeConfig()
	if cfg.Relay.Enabled {
		e.relay = relay.New(cfg.ToRelayConfig())
		if err := e.relay.Start(); err != nil {
			return nil, fmt.Errorf("failed to start development relay: %w", err)
		}
		rtConfig.Transport.URL = e.relay.URL()
		e.logger.Warn().Str("url", rtConfig.Transport.URL).Msg("Using in-process development relay")
	}

	var sink alert.Sink = e.alerts
	if cfg.Alerts.Log {
		sink = alert.Multi{e.alerts, alert.NewLogSink()}
	}

	managerOpts := append([]realtime.Option{realtime.WithAlertSink(sink)}, e.managerOpts...)
	if e.chime != nil {
		managerOpts = append(managerOpts, realtime.WithChime(e.chime))
	}
	e.manager, err = realtime.New(rtConfig, managerOpts...)
	if err != nil {
		e.stopRelay()
		return nil, fmt.Errorf("failed to create realtime manager: %w", err)
	}

	if cfg.API.Enabled {
		e.api = api.NewAPI(cfg.ToAPIConfig(), e.manager, e.alerts)
	}
	e.network = lifecycle.NewNetworkMonitor(cfg.ToNetworkConfig())

	return e, nil
}

// PrincipalFromConfig derives the starting principal from the configured
// session token. No token means signed out.
func PrincipalFromConfig(cfg config.AuthConfig) (auth.Principal, error) {
	if cfg.Token == "" {
		return auth.Principal{}, nil
	}
	if cfg.JWTSecret == "" {
		return auth.Principal{}, errors.New("auth.jwt_secret is required to read the session token")
	}
	p, err := auth.PrincipalFromToken(cfg.Token, cfg.JWTSecret)
	if err != nil {
		return auth.Principal{}, fmt.Errorf("failed to read session token: %w", err)
	}
	return p, nil
}

// Manager returns the realtime session manager
func (e *Engine) Manager() *realtime.Manager {
	return e.manager
}

// Principal returns the principal signal the manager follows
func (e *Engine) Principal() *auth.Signal {
	return e.principal
}

// Alerts returns the queue alerts are collected in
func (e *Engine) Alerts() *alert.Queue {
	return e.alerts
}

// Start runs every component until ctx is cancelled or an unload signal
// arrives, then shuts everything down.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info().Bool("realtime_enabled", e.manager.Enabled()).Msg("Starting livesync engine")

	telShutdown, err := telemetry.Setup(ctx, e.config.ToTelemetryConfig())
	if err != nil {
		e.logger.Warn().Err(err).Msg("Failed to set up telemetry, continuing without it")
		telShutdown = func(context.Context) error { return nil }
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	principals, stopWatch := e.principal.Watch()
	defer stopWatch()
	g.Go(func() error {
		return e.manager.WatchPrincipal(ctx, principals)
	})

	g.Go(func() error {
		return e.network.Start(ctx)
	})

	var unload <-chan lifecycle.Event
	if e.unloadSource != nil {
		unload = e.unloadSource(ctx)
	}
	g.Go(func() error {
		e.followLifecycle(ctx, cancel, lifecycle.Merge(ctx, e.network.Events(), unload))
		return nil
	})

	if e.api != nil {
		g.Go(func() error {
			return e.api.Start(ctx)
		})
	}

	err = g.Wait()
	e.shutdown(telShutdown)

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("error running engine: %w", err)
	}
	e.logger.Info().Msg("Livesync engine shut down")
	return nil
}

// followLifecycle forwards lifecycle events to the manager. An unload
// sends the offline ping and ends the run.
func (e *Engine) followLifecycle(ctx context.Context, stop context.CancelFunc, events <-chan lifecycle.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case lifecycle.Online:
				e.manager.SetNetworkOnline(true)
			case lifecycle.Offline:
				e.manager.SetNetworkOnline(false)
			case lifecycle.Visible:
				e.manager.SetVisible(true)
			case lifecycle.Hidden:
				e.manager.SetVisible(false)
			case lifecycle.Unload:
				e.manager.Unload()
				stop()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) shutdown(telShutdown func(context.Context) error) {
	e.manager.Close()
	e.stopRelay()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := telShutdown(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to shut down telemetry")
	}
}

func (e *Engine) stopRelay() {
	if e.relay == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.relay.Shutdown(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to shut down development relay")
	}
}
