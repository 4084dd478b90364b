// Package realtime is the synchronization context: it owns the transport,
// routes inbound messages to presence, notification and alert handling,
// and exposes snapshots and actions to the rendering layer.
package realtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mouldrestoration/livesync/internal/activity"
	"github.com/mouldrestoration/livesync/internal/alert"
	"github.com/mouldrestoration/livesync/internal/auth"
	"github.com/mouldrestoration/livesync/internal/metrics"
	"github.com/mouldrestoration/livesync/internal/notification"
	"github.com/mouldrestoration/livesync/internal/presence"
	"github.com/mouldrestoration/livesync/internal/registry"
	"github.com/mouldrestoration/livesync/internal/telemetry"
	"github.com/mouldrestoration/livesync/internal/transport"
	"github.com/mouldrestoration/livesync/pkg/proto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// closeFlushTimeout bounds how long Close waits for the transport to flush.
const closeFlushTimeout = 2 * time.Second

// Transport is the connection the manager drives.
type Transport interface {
	Connect(ctx context.Context, token string) error
	Send(env *proto.Envelope) error
	Close()
	Wait(ctx context.Context) error
}

// TransportFactory builds the manager's single transport.
type TransportFactory func(config transport.Config, callbacks transport.Callbacks) Transport

func newTransport(config transport.Config, callbacks transport.Callbacks) Transport {
	return transport.New(config, callbacks)
}

// Config contains manager configuration
type Config struct {
	// Feature flag; when false the manager never touches the network
	Enabled bool

	// Path reported in activity pings until Navigate is called
	InitialPath string

	// Disconnect after being hidden this long; zero keeps the connection
	HiddenDisconnectAfter time.Duration

	// Length of the event loop queue
	EventBuffer int

	Transport    transport.Config
	Notification notification.Config
}

// DefaultConfig returns a default manager configuration
func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		InitialPath:  "/",
		EventBuffer:  256,
		Transport:    transport.DefaultConfig(),
		Notification: notification.DefaultConfig(),
	}
}

// Option configures a Manager
type Option func(*Manager)

// WithTransport replaces the transport factory.
func WithTransport(factory TransportFactory) Option {
	return func(m *Manager) {
		m.factory = factory
	}
}

// WithAlertSink sets where alerts are delivered.
func WithAlertSink(sink alert.Sink) Option {
	return func(m *Manager) {
		m.alerts = sink
	}
}

// WithChime sets the urgent-notification sound.
func WithChime(chime notification.Chime) Option {
	return func(m *Manager) {
		m.chime = chime
	}
}

// Manager owns every piece of session state. All state is mutated on a
// single event loop goroutine; public methods post work to the loop.
//
// Handlers registered with Subscribe run in dispatch order on a separate
// goroutine, after the built-in handlers have seen the message, and may
// call any Manager method.
type Manager struct {
	config    Config
	sessionID string
	factory   TransportFactory
	transport Transport
	registry  *registry.Registry
	presence  *presence.Tracker
	counter   *notification.Counter
	activity  *activity.Broadcaster
	alerts    alert.Sink
	chime     notification.Chime
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	// Owned by the event loop
	state       State
	principal   auth.Principal
	path        string
	visible     bool
	online      bool
	attempt     uint64        // bumped per connect and per teardown; stale dial results are ignored
	connectDone chan struct{} // closed when the pending connect settles
	closedByUs  bool          // the transport was closed on purpose; ignore its reconnect events
	suspended   bool          // torn down while hidden; reconnect when visible again
	hiddenGen   uint64
	hiddenTimer *time.Timer
	subs        []*registry.Subscription
	watchers    map[int]chan Snapshot
	nextWatcher int
	closing     bool // events queued behind Close are skipped
	offline     bool // an offline ping already went out on this connection

	snapshot  atomic.Pointer[Snapshot]
	events    chan func()
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup

	handlerMu    sync.Mutex
	handlerQueue []queuedHandler
	handlerWake  chan struct{}
}

// queuedHandler is one subscriber call waiting to run off the loop.
type queuedHandler struct {
	sub     *registry.Subscription
	env     *proto.Envelope
	handler registry.Handler
}

// New creates a manager and starts its event loop. The manager starts
// disconnected; call SetPrincipal or Connect to go online.
func New(config Config, opts ...Option) (*Manager, error) {
	defaults := DefaultConfig()
	if config.InitialPath == "" {
		config.InitialPath = defaults.InitialPath
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = defaults.EventBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:    config,
		sessionID: uuid.NewString(),
		factory:   newTransport,
		registry:  registry.New(),
		logger:    log.With().Str("component", "realtime").Logger(),
		metrics:   metrics.GetMetrics(),
		state:     StateDisconnected,
		path:      config.InitialPath,
		visible:   true,
		online:    true,
		watchers:  make(map[int]chan Snapshot),
		events:    make(chan func(), config.EventBuffer),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,

		handlerWake: make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(m)
	}
	if m.alerts == nil {
		m.alerts = alert.NewLogSink()
	}

	counter, err := notification.NewCounter(config.Notification, alert.SinkFunc(m.raise), m.chime)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create notification counter: %w", err)
	}
	m.counter = counter
	m.presence = presence.NewTracker("")
	m.activity = activity.New(link{m})

	if config.Enabled {
		m.transport = m.factory(config.Transport, transport.Callbacks{
			OnMessage: m.onMessage,
			OnEvent:   m.onTransportEvent,
		})
		m.registerHandlers()
	} else {
		m.logger.Info().Msg("Realtime updates disabled")
	}

	m.setStateGauge()
	m.refresh()

	m.wg.Add(1)
	go m.run()
	// A subscriber may call Close, so this goroutine is not waited on
	go m.runHandlers()

	return m, nil
}

// SessionID identifies this manager in outbound envelopes.
func (m *Manager) SessionID() string {
	return m.sessionID
}

// Enabled reports whether the feature flag was on at construction.
func (m *Manager) Enabled() bool {
	return m.config.Enabled
}

func (m *Manager) run() {
	defer m.wg.Done()

	for {
		select {
		case fn := <-m.events:
			m.metrics.EventQueueSize.Set(float64(len(m.events)))
			m.apply(fn)
		case <-m.done:
			return
		}
	}
}

// apply runs one event and publishes the resulting snapshot.
func (m *Manager) apply(fn func()) {
	if m.closing {
		return
	}
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				m.logger.Error().Interface("panic", rec).Msg("Event panicked")
			}
		}()
		fn()
	}()
	m.refresh()
}

// post queues fn on the loop. It returns false once the manager is closed.
func (m *Manager) post(fn func()) bool {
	select {
	case m.events <- fn:
		return true
	case <-m.done:
		return false
	}
}

// do runs fn on the loop and waits for it. The snapshot is republished
// before do returns so callers read their own writes.
func (m *Manager) do(fn func()) bool {
	ran := make(chan struct{})
	if !m.post(func() {
		defer close(ran)
		fn()
		m.refresh()
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-m.done:
		return false
	}
}

// Close disconnects, releases every subscription and stops the loop.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.logger.Info().Msg("Shutting down realtime manager")

		m.do(func() {
			m.disconnect()
			m.closing = true
			m.stopHiddenTimer()
			for _, sub := range m.subs {
				sub.Unsubscribe()
			}
			m.subs = nil
			m.registry.Clear()
			for id, ch := range m.watchers {
				close(ch)
				delete(m.watchers, id)
			}
		})

		m.cancel()
		close(m.done)
		m.wg.Wait()

		// Let the offline ping and close frame reach the wire
		if m.transport != nil {
			ctx, cancel := context.WithTimeout(context.Background(), closeFlushTimeout)
			defer cancel()
			if err := m.transport.Wait(ctx); err != nil {
				m.logger.Debug().Err(err).Msg("Gave up waiting for the connection to close")
			}
		}
	})
}

// Connect opens the connection and waits until the handshake settles or
// ctx is done. Failures are reported through ConnectionState, never
// returned. Calling Connect while connected or connecting is a no-op.
func (m *Manager) Connect(ctx context.Context) {
	if !m.config.Enabled {
		return
	}

	var wait <-chan struct{}
	m.do(func() {
		wait = m.connect(ctx)
	})
	if wait == nil {
		return
	}

	select {
	case <-wait:
	case <-ctx.Done():
	case <-m.done:
	}
}

// Disconnect sends an offline ping when connected and closes the
// connection. It is a no-op while disconnected.
func (m *Manager) Disconnect() {
	if !m.config.Enabled {
		return
	}
	m.do(m.disconnect)
}

// SetPrincipal reacts to the authenticated principal changing: signing in
// connects, signing out disconnects, switching users reconnects.
func (m *Manager) SetPrincipal(p auth.Principal) {
	m.do(func() {
		m.setPrincipal(p)
	})
}

// WatchPrincipal applies every principal received on ch until ch is closed
// or ctx is done.
func (m *Manager) WatchPrincipal(ctx context.Context, ch <-chan auth.Principal) error {
	for {
		select {
		case p, ok := <-ch:
			if !ok {
				return nil
			}
			m.SetPrincipal(p)
		case <-ctx.Done():
			return nil
		case <-m.done:
			return nil
		}
	}
}

// SendUserActivity publishes an activity ping. It is dropped while not
// connected.
func (m *Manager) SendUserActivity(action proto.ActivityAction, page string) {
	if !m.config.Enabled {
		return
	}
	if !action.Valid() {
		m.logger.Warn().Str("action", string(action)).Msg("Ignoring unknown activity action")
		return
	}
	m.do(func() {
		m.activity.Send(action, page)
	})
}

// MarkNotificationAsRead tells the backend a notification was read and
// decrements the unread count without waiting for confirmation.
func (m *Manager) MarkNotificationAsRead(id string) {
	if !m.config.Enabled {
		return
	}
	m.do(func() {
		if m.state == StateConnected {
			req := proto.NotificationReadRequest{Action: proto.NotificationRead, NotificationID: id}
			if err := m.publish(proto.TopicNotification, req); err != nil {
				m.logger.Debug().Err(err).Str("notification_id", id).Msg("Failed to send read receipt")
			}
		}
		m.counter.MarkRead(id)
	})
}

// RequestCalendarSync asks the backend to sync a calendar. The outcome
// arrives later as a calendar-sync message.
func (m *Manager) RequestCalendarSync(provider proto.CalendarProvider) {
	if !m.config.Enabled {
		return
	}
	if !provider.Valid() {
		m.logger.Warn().Str("provider", string(provider)).Msg("Ignoring sync request for unknown provider")
		return
	}
	m.do(func() {
		if m.state != StateConnected {
			m.logger.Debug().Str("provider", string(provider)).Msg("Not connected, dropping sync request")
			return
		}
		req := proto.CalendarSyncMessage{Action: proto.SyncActionRequest, Provider: provider}
		if err := m.publish(proto.TopicCalendarSync, req); err != nil {
			m.logger.Debug().Err(err).Str("provider", string(provider)).Msg("Failed to send sync request")
		}
	})
}

// Navigate records the current page and announces it while connected.
func (m *Manager) Navigate(path string) {
	m.do(func() {
		m.path = path
		if m.config.Enabled {
			m.activity.Navigated(path)
		}
	})
}

// SetVisible reports the rendering layer being shown or hidden.
func (m *Manager) SetVisible(visible bool) {
	if !m.config.Enabled {
		return
	}
	m.do(func() {
		m.setVisible(visible)
	})
}

// SetNetworkOnline reports network reachability changes.
func (m *Manager) SetNetworkOnline(online bool) {
	if !m.config.Enabled {
		return
	}
	m.do(func() {
		m.setNetworkOnline(online)
	})
}

// Unload sends a best-effort offline ping before the session ends.
func (m *Manager) Unload() {
	if !m.config.Enabled {
		return
	}
	m.do(func() {
		if !m.offline {
			m.offline = m.activity.Leaving()
		}
	})
}

// Subscribe registers an extra handler for topic. Handlers run off the
// event loop, in dispatch order, once the built-in handlers are done with
// the message. It returns nil after Close.
func (m *Manager) Subscribe(topic proto.Topic, handler registry.Handler) *registry.Subscription {
	var sub *registry.Subscription
	ok := m.do(func() {
		// Dispatch runs on the loop too, so sub is set before the first call
		sub = m.registry.Subscribe(topic, func(env *proto.Envelope) {
			m.queueHandler(queuedHandler{sub: sub, env: env, handler: handler})
		})
	})
	if !ok {
		return nil
	}
	return sub
}

// queueHandler hands a subscriber call to runHandlers. It never blocks
// the loop.
func (m *Manager) queueHandler(q queuedHandler) {
	m.handlerMu.Lock()
	m.handlerQueue = append(m.handlerQueue, q)
	m.handlerMu.Unlock()

	select {
	case m.handlerWake <- struct{}{}:
	default:
	}
}

func (m *Manager) nextHandler() (queuedHandler, bool) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()

	if len(m.handlerQueue) == 0 {
		return queuedHandler{}, false
	}
	q := m.handlerQueue[0]
	m.handlerQueue[0] = queuedHandler{}
	m.handlerQueue = m.handlerQueue[1:]
	return q, true
}

func (m *Manager) runHandlers() {
	for {
		select {
		case <-m.handlerWake:
		case <-m.done:
			return
		}
		for {
			q, ok := m.nextHandler()
			if !ok {
				break
			}
			m.invokeHandler(q)
		}
	}
}

// invokeHandler runs one subscriber call unless it was unsubscribed while
// the call was queued.
func (m *Manager) invokeHandler(q queuedHandler) {
	if !q.sub.Active() {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			m.metrics.HandlerPanicsTotal.WithLabelValues(string(q.env.Type)).Inc()
			m.logger.Error().
				Str("subscription_id", q.sub.ID).
				Str("topic", string(q.env.Type)).
				Interface("panic", rec).
				Msg("Subscriber panicked")
		}
	}()
	q.handler(q.env)
}

// connect starts a handshake and returns a channel closed when it settles.
func (m *Manager) connect(ctx context.Context) <-chan struct{} {
	switch m.state {
	case StateConnected:
		return nil
	case StateConnecting:
		return m.connectDone
	}
	if !m.transition(StateConnecting) {
		return nil
	}

	m.attempt++
	gen := m.attempt
	done := make(chan struct{})
	m.connectDone = done
	m.closedByUs = false
	m.suspended = false
	token := m.principal.Token

	go func() {
		// The caller's ctx only bounds its wait in Connect; the handshake
		// lives as long as the manager.
		_, span := telemetry.StartSpan(ctx, "realtime.connect")
		defer span.End()
		dialCtx := trace.ContextWithSpan(m.ctx, span)

		err := m.transport.Connect(dialCtx, token)
		if err != nil {
			telemetry.MarkSpanError(dialCtx, err)
		}
		m.post(func() {
			m.finishConnect(gen, done, err)
		})
	}()

	return done
}

func (m *Manager) finishConnect(gen uint64, done chan struct{}, err error) {
	defer func() {
		m.refresh()
		close(done)
	}()
	if m.connectDone == done {
		m.connectDone = nil
	}

	if gen != m.attempt || m.state != StateConnecting {
		m.metrics.ConnectAttemptsTotal.WithLabelValues("stale").Inc()
		return
	}

	if err != nil {
		m.metrics.ConnectAttemptsTotal.WithLabelValues("failure").Inc()
		m.logger.Warn().Err(err).Msg("Realtime connection failed, continuing without live updates")
		m.transition(StateError)
		return
	}

	m.metrics.ConnectAttemptsTotal.WithLabelValues("success").Inc()
	m.transition(StateConnected)
	m.raise(alert.Connected())
	m.offline = false
	m.activity.Connected(m.path)
}

// disconnect announces the session leaving and tears the connection down.
func (m *Manager) disconnect() {
	if m.state == StateDisconnected {
		// Still stop a transport reconnecting on its own
		if m.transport != nil && !m.closedByUs {
			m.closedByUs = true
			m.transport.Close()
		}
		return
	}
	if m.state == StateConnected && !m.offline {
		m.activity.Leaving()
	}
	m.offline = false
	m.teardown()
}

// teardown closes the transport without announcing anything.
func (m *Manager) teardown() {
	m.attempt++
	m.closedByUs = true
	if m.transport != nil {
		m.transport.Close()
	}
	m.transition(StateDisconnected)
}

func (m *Manager) setPrincipal(p auth.Principal) {
	prev := m.principal
	switched := prev.ID != p.ID

	// The offline ping goes out under the previous identity
	if m.config.Enabled && prev.Authenticated() && (!p.Authenticated() || switched) {
		m.logger.Info().Str("principal_id", prev.ID).Msg("Principal signed out")
		m.disconnect()
	}

	m.principal = p
	m.presence.SetSelf(p.ID)

	if m.config.Enabled && p.Authenticated() && (!prev.Authenticated() || switched) {
		m.logger.Info().Str("principal_id", p.ID).Msg("Principal signed in")
		m.autoConnect()
	}
}

// autoConnect connects for a trigger other than an explicit Connect call.
func (m *Manager) autoConnect() {
	if !m.online {
		m.logger.Debug().Msg("Network offline, deferring connect")
		return
	}
	m.connect(m.ctx)
}

func (m *Manager) setNetworkOnline(online bool) {
	if online == m.online {
		return
	}
	m.online = online

	if !online {
		m.logger.Info().Msg("Network lost")
		if m.state == StateConnected || m.state == StateConnecting {
			m.teardown()
		}
		return
	}

	m.logger.Info().Msg("Network regained")
	if m.principal.Authenticated() && m.state != StateConnected && m.state != StateConnecting {
		m.connect(m.ctx)
	}
}

func (m *Manager) setVisible(visible bool) {
	if visible == m.visible {
		return
	}
	m.visible = visible

	if !visible {
		if m.activity.Visibility(false, m.path) {
			m.offline = true
		}
		m.armHiddenTimer()
		return
	}

	m.stopHiddenTimer()
	if m.suspended && m.principal.Authenticated() {
		m.suspended = false
		m.autoConnect()
		return
	}
	if m.activity.Visibility(true, m.path) {
		m.offline = false
	}
}

func (m *Manager) armHiddenTimer() {
	if m.config.HiddenDisconnectAfter <= 0 {
		return
	}
	m.stopHiddenTimer()
	gen := m.hiddenGen
	m.hiddenTimer = time.AfterFunc(m.config.HiddenDisconnectAfter, func() {
		m.post(func() {
			m.hiddenExpired(gen)
		})
	})
}

func (m *Manager) stopHiddenTimer() {
	m.hiddenGen++
	if m.hiddenTimer != nil {
		m.hiddenTimer.Stop()
		m.hiddenTimer = nil
	}
}

func (m *Manager) hiddenExpired(gen uint64) {
	if gen != m.hiddenGen || m.visible {
		return
	}
	if m.state == StateConnected || m.state == StateConnecting {
		m.logger.Info().Dur("after", m.config.HiddenDisconnectAfter).Msg("Hidden too long, disconnecting")
		// The offline ping went out when the session was hidden
		m.teardown()
		m.suspended = true
	}
}

// transition moves the state machine and reports whether the move was
// allowed. Presence is cleared whenever the connection is lost.
func (m *Manager) transition(to State) bool {
	from := m.state
	if from == to {
		return true
	}
	if !canTransition(from, to) {
		m.logger.Warn().Str("from", string(from)).Str("to", string(to)).Msg("Ignoring invalid state transition")
		return false
	}

	m.state = to
	m.metrics.StateTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	m.setStateGauge()
	m.logger.Info().Str("from", string(from)).Str("to", string(to)).Msg("Connection state changed")

	if to == StateDisconnected || to == StateError {
		m.presence.Clear()
	}
	return true
}

func (m *Manager) setStateGauge() {
	for _, s := range States {
		v := 0.0
		if s == m.state {
			v = 1
		}
		m.metrics.ConnectionState.WithLabelValues(string(s)).Set(v)
	}
}

// publish stamps and sends one outbound message.
func (m *Manager) publish(topic proto.Topic, data any) error {
	if m.transport == nil {
		return transport.ErrNotConnected
	}
	env, err := proto.NewEnvelope(topic, data)
	if err != nil {
		return err
	}
	env.UserID = m.principal.ID
	env.SessionID = m.sessionID
	return m.transport.Send(env)
}

// raise delivers an alert. Sinks must not block.
func (m *Manager) raise(a alert.Alert) {
	m.metrics.AlertsTotal.WithLabelValues(string(a.Variant)).Inc()
	m.alerts.Alert(a)
}

// link exposes loop-owned state to the activity broadcaster. Only used
// from the loop.
type link struct {
	m *Manager
}

func (l link) Connected() bool {
	return l.m.state == StateConnected
}

func (l link) PrincipalID() string {
	return l.m.principal.ID
}

func (l link) Publish(topic proto.Topic, data any) error {
	return l.m.publish(topic, data)
}
