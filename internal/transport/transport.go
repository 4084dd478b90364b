// Package transport owns the websocket connection to the realtime backend:
// handshake, heartbeats, outbound queueing and automatic reconnects.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mouldrestoration/livesync/internal/metrics"
	"github.com/mouldrestoration/livesync/pkg/proto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

var (
	// ErrNotConnected is returned by Send while no socket is open.
	ErrNotConnected = errors.New("transport not connected")

	// ErrClosed is returned when Close interrupts a dial.
	ErrClosed = errors.New("transport closed")

	// ErrSendBufferFull is returned when the outbound queue is full.
	ErrSendBufferFull = errors.New("transport send buffer full")

	errHeartbeatTimeout = errors.New("heartbeat timeout")
)

// Event reports a lifecycle change the owner did not initiate.
type Event int

const (
	// EventOpen follows a successful automatic reconnect.
	EventOpen Event = iota
	// EventClosed follows an unexpected close.
	EventClosed
	// EventReconnecting is reported once before reconnect attempts start.
	EventReconnecting
	// EventFailed is reported when every reconnect attempt failed.
	EventFailed
)

func (e Event) String() string {
	switch e {
	case EventOpen:
		return "open"
	case EventClosed:
		return "closed"
	case EventReconnecting:
		return "reconnecting"
	case EventFailed:
		return "failed"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Callbacks receive inbound messages and lifecycle events. They run on
// transport goroutines and must not block.
type Callbacks struct {
	OnMessage func(env *proto.Envelope)
	OnEvent   func(ev Event, err error)
}

// Config contains transport configuration
type Config struct {
	// Websocket endpoint; http(s) schemes are converted to ws(s)
	URL string

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// Heartbeat send interval and the silence after which the socket is dropped
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// Outbound frame queue length
	SendBuffer int

	// Automatic reconnect schedule; zero attempts disables reconnects
	ReconnectAttempts  int
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration

	// Dial circuit breaker
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
}

// DefaultConfig returns a default transport configuration
func DefaultConfig() Config {
	return Config{
		URL:                "ws://localhost:3001/ws",
		HandshakeTimeout:   10 * time.Second,
		WriteTimeout:       10 * time.Second,
		HeartbeatInterval:  15 * time.Second,
		HeartbeatTimeout:   30 * time.Second,
		SendBuffer:         64,
		ReconnectAttempts:  5,
		ReconnectBaseDelay: time.Second,
		ReconnectMaxDelay:  30 * time.Second,
		BreakerMaxFailures: 5,
		BreakerOpenTimeout: 30 * time.Second,
	}
}

// Option configures a Handle
type Option func(*Handle)

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(h *Handle) {
		h.dialer = d
	}
}

// WithHeader adds headers sent with every handshake.
func WithHeader(header http.Header) Option {
	return func(h *Handle) {
		for k, vs := range header {
			for _, v := range vs {
				h.header.Add(k, v)
			}
		}
	}
}

// Handle is a single reusable connection to the backend. It may be
// connected, closed and connected again.
type Handle struct {
	config    Config
	callbacks Callbacks
	dialer    *websocket.Dialer
	header    http.Header
	breaker   *gobreaker.CircuitBreaker
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	mu           sync.Mutex
	session      *session
	gen          uint64 // bumped by Close; dials from an older generation are discarded
	closed       bool
	token        string
	reconnecting *reconnectRun
	draining     []*session // closed by Close, possibly still flushing
}

// New creates a handle. Nothing is dialed until Connect.
func New(config Config, callbacks Callbacks, opts ...Option) *Handle {
	defaults := DefaultConfig()
	if config.URL == "" {
		config.URL = defaults.URL
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if config.HeartbeatTimeout <= 0 {
		config.HeartbeatTimeout = defaults.HeartbeatTimeout
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = defaults.SendBuffer
	}
	if config.ReconnectBaseDelay <= 0 {
		config.ReconnectBaseDelay = defaults.ReconnectBaseDelay
	}
	if config.ReconnectMaxDelay <= 0 {
		config.ReconnectMaxDelay = defaults.ReconnectMaxDelay
	}
	if config.BreakerMaxFailures == 0 {
		config.BreakerMaxFailures = defaults.BreakerMaxFailures
	}
	if config.BreakerOpenTimeout <= 0 {
		config.BreakerOpenTimeout = defaults.BreakerOpenTimeout
	}

	logger := log.With().Str("component", "transport").Logger()
	m := metrics.GetMetrics()

	h := &Handle{
		config:    config,
		callbacks: callbacks,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
		header:  http.Header{},
		logger:  logger,
		metrics: m,
	}

	h.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "websocket-dial",
		MaxRequests: 1,
		Timeout:     config.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.BreakerState.Set(float64(to))
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Dial circuit breaker state changed")
		},
	})

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Connect dials the backend, authenticating with token. It returns nil
// immediately when a socket is already open.
func (h *Handle) Connect(ctx context.Context, token string) error {
	h.mu.Lock()
	if h.session != nil {
		h.mu.Unlock()
		return nil
	}
	h.stopReconnectLocked()
	h.closed = false
	h.token = token
	gen := h.gen
	h.mu.Unlock()

	return h.dial(ctx, gen, token)
}

// Close closes the socket with a normal closure and cancels any pending
// reconnect. Queued frames are flushed in the background; use Wait to
// block until that is done. No events are reported for an intentional
// close.
func (h *Handle) Close() {
	h.mu.Lock()
	h.closed = true
	h.gen++
	h.stopReconnectLocked()
	s := h.session
	h.session = nil
	if s != nil {
		pending := h.draining[:0]
		for _, d := range h.draining {
			if !d.stopped() {
				pending = append(pending, d)
			}
		}
		h.draining = append(pending, s)
	}
	h.mu.Unlock()

	if s != nil {
		s.shutdown(true)
		h.logger.Debug().Msg("Websocket closing")
	}
}

// Wait blocks until every socket closed by Close has flushed and closed,
// or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	h.mu.Lock()
	pending := h.draining
	h.draining = nil
	h.mu.Unlock()

	for _, s := range pending {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// IsOpen reports whether a socket is currently open.
func (h *Handle) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session != nil
}

// Send queues env for delivery. It never blocks.
func (h *Handle) Send(env *proto.Envelope) error {
	h.mu.Lock()
	s := h.session
	h.mu.Unlock()

	if s == nil {
		h.metrics.FramesDroppedTotal.WithLabelValues("not_connected").Inc()
		return ErrNotConnected
	}

	frame, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	select {
	case <-s.done:
		h.metrics.FramesDroppedTotal.WithLabelValues("not_connected").Inc()
		return ErrNotConnected
	default:
	}

	select {
	case s.send <- outbound{topic: env.Type, frame: frame}:
		return nil
	default:
		h.metrics.FramesDroppedTotal.WithLabelValues("buffer_full").Inc()
		return ErrSendBufferFull
	}
}

func (h *Handle) endpoint(token string) (string, error) {
	u, err := url.Parse(h.config.URL)
	if err != nil {
		return "", fmt.Errorf("invalid websocket url: %w", err)
	}

	// Convert to WebSocket scheme
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (h *Handle) dial(ctx context.Context, gen uint64, token string) error {
	endpoint, err := h.endpoint(token)
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := h.breaker.Execute(func() (interface{}, error) {
		conn, _, err := h.dialer.DialContext(ctx, endpoint, h.header)
		return conn, err
	})
	h.metrics.ConnectDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("failed to connect to websocket: %w", err)
	}
	conn := res.(*websocket.Conn)

	h.mu.Lock()
	if h.gen != gen || h.closed {
		h.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	if h.session != nil {
		// Another dial won the race
		h.mu.Unlock()
		conn.Close()
		return nil
	}
	s := newSession(conn, h.config.SendBuffer)
	h.session = s
	h.mu.Unlock()

	go h.readPump(s)
	go h.writePump(s)

	h.logger.Debug().Msg("Websocket connected")
	return nil
}

// drop tears down a session that ended without Close and schedules a
// reconnect unless the peer closed normally.
func (h *Handle) drop(s *session, cause error) {
	h.mu.Lock()
	current := h.session == s
	if current {
		h.session = nil
	}
	closed := h.closed
	h.mu.Unlock()

	s.shutdown(false)
	if !current || closed {
		return
	}

	h.logger.Warn().Err(cause).Msg("Websocket closed unexpectedly")
	h.emit(EventClosed, cause)

	if websocket.IsCloseError(cause, websocket.CloseNormalClosure) || h.config.ReconnectAttempts <= 0 {
		return
	}
	h.startReconnect()
}

func (h *Handle) emit(ev Event, err error) {
	if h.callbacks.OnEvent != nil {
		h.callbacks.OnEvent(ev, err)
	}
}

func (h *Handle) readPump(s *session) {
	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			h.drop(s, err)
			return
		}
		s.touch()

		env, err := proto.ParseEnvelope(frame)
		if err != nil {
			h.metrics.MessagesInvalidTotal.Inc()
			h.logger.Debug().Err(err).Msg("Dropping malformed frame")
			continue
		}

		// Heartbeat acks only refresh liveness
		if isHeartbeat(env) {
			continue
		}

		if h.callbacks.OnMessage != nil {
			h.callbacks.OnMessage(env)
		}
	}
}

func (h *Handle) writePump(s *session) {
	ticker := time.NewTicker(h.config.HeartbeatInterval)
	defer ticker.Stop()
	defer close(s.flushed)

	for {
		select {
		case out := <-s.send:
			if err := s.write(out.frame, h.config.WriteTimeout); err != nil {
				h.drop(s, err)
				return
			}
			h.metrics.FramesSentTotal.WithLabelValues(string(out.topic)).Inc()

		case <-ticker.C:
			if s.silence() > h.config.HeartbeatTimeout {
				h.metrics.HeartbeatTimeoutsTotal.Inc()
				h.drop(s, errHeartbeatTimeout)
				return
			}
			if err := s.write(heartbeatFrame(), h.config.WriteTimeout); err != nil {
				h.drop(s, err)
				return
			}
			h.metrics.FramesSentTotal.WithLabelValues(string(proto.TopicSystemStatus)).Inc()

		case <-s.closing:
			s.flush(h.config.WriteTimeout)
			return

		case <-s.done:
			return
		}
	}
}

func isHeartbeat(env *proto.Envelope) bool {
	if env.Type != proto.TopicSystemStatus {
		return false
	}
	var status proto.SystemStatusMessage
	if err := env.Decode(&status); err != nil {
		return false
	}
	return status.IsHeartbeat()
}

func heartbeatFrame() []byte {
	env, err := proto.NewEnvelope(proto.TopicSystemStatus, proto.SystemStatusMessage{
		Component: proto.ComponentHeartbeat,
		Status:    proto.StatusHealthy,
	})
	if err != nil {
		return nil
	}
	frame, _ := json.Marshal(env)
	return frame
}
