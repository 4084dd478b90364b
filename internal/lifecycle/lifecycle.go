// Package lifecycle turns host signals into session lifecycle events:
// network reachability, visibility and process shutdown.
package lifecycle

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Kind is a lifecycle transition.
type Kind string

const (
	Visible Kind = "visible"
	Hidden  Kind = "hidden"
	Online  Kind = "online"
	Offline Kind = "offline"
	Unload  Kind = "unload"
)

// Event is one lifecycle transition.
type Event struct {
	Kind Kind
	At   time.Time
}

func newEvent(kind Kind) Event {
	return Event{Kind: kind, At: time.Now()}
}

// NetworkConfig contains network monitor configuration
type NetworkConfig struct {
	// TCP address probed to decide reachability; empty disables probing
	Addr string

	Interval time.Duration
	Timeout  time.Duration
}

// DefaultNetworkConfig returns a default network monitor configuration
func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		Addr:     "",
		Interval: 10 * time.Second,
		Timeout:  3 * time.Second,
	}
}

// NetworkMonitor probes a TCP address and reports Online and Offline on
// edges. The network is assumed reachable until a probe fails.
type NetworkMonitor struct {
	config NetworkConfig
	events chan Event
	online bool
	dial   func(ctx context.Context, network, addr string) (net.Conn, error)
	logger zerolog.Logger
}

// NewNetworkMonitor creates a monitor. Nothing is probed until Start.
func NewNetworkMonitor(config NetworkConfig) *NetworkMonitor {
	if config.Interval <= 0 {
		config.Interval = DefaultNetworkConfig().Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultNetworkConfig().Timeout
	}

	dialer := &net.Dialer{}
	return &NetworkMonitor{
		config: config,
		events: make(chan Event, 4),
		online: true,
		dial:   dialer.DialContext,
		logger: log.With().Str("component", "network-monitor").Logger(),
	}
}

// Events returns the channel edges are delivered on.
func (m *NetworkMonitor) Events() <-chan Event {
	return m.events
}

// Start probes until ctx is cancelled.
func (m *NetworkMonitor) Start(ctx context.Context) error {
	if m.config.Addr == "" {
		m.logger.Debug().Msg("No probe address configured, network monitor idle")
		<-ctx.Done()
		return nil
	}

	m.logger.Info().Str("addr", m.config.Addr).Dur("interval", m.config.Interval).Msg("Starting network monitor")

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		m.check(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			m.logger.Info().Msg("Context canceled, stopping network monitor")
			return nil
		}
	}
}

func (m *NetworkMonitor) check(ctx context.Context) {
	online := m.Probe(ctx)
	if online == m.online || ctx.Err() != nil {
		return
	}
	m.online = online

	kind := Offline
	if online {
		kind = Online
	}
	m.logger.Info().Str("state", string(kind)).Msg("Network reachability changed")

	select {
	case m.events <- newEvent(kind):
	case <-ctx.Done():
	}
}

// Probe reports whether the configured address accepts a TCP connection.
func (m *NetworkMonitor) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	conn, err := m.dial(ctx, "tcp", m.config.Addr)
	if err != nil {
		m.logger.Debug().Err(err).Msg("Network probe failed")
		return false
	}
	conn.Close()
	return true
}

// NotifyUnload delivers a single Unload event when the process receives
// SIGINT or SIGTERM (or the given signals). The channel is closed after
// the event or when ctx is cancelled.
func NotifyUnload(ctx context.Context, signals ...os.Signal) <-chan Event {
	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, signals...)

	out := make(chan Event, 1)
	go func() {
		defer close(out)
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			out <- newEvent(Unload)
		case <-ctx.Done():
		}
	}()
	return out
}

// Merge fans several event channels into one. The result closes when every
// input is closed or ctx is cancelled.
func Merge(ctx context.Context, inputs ...<-chan Event) <-chan Event {
	out := make(chan Event)
	done := make(chan struct{}, len(inputs))

	for _, in := range inputs {
		go func(in <-chan Event) {
			defer func() { done <- struct{}{} }()
			for {
				select {
				case ev, ok := <-in:
					if !ok {
						return
					}
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}(in)
	}

	go func() {
		for range inputs {
			<-done
		}
		close(out)
	}()
	return out
}
