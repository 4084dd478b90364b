package realtime

import (
	"github.com/mouldrestoration/livesync/internal/alert"
	"github.com/mouldrestoration/livesync/internal/registry"
	"github.com/mouldrestoration/livesync/internal/transport"
	"github.com/mouldrestoration/livesync/pkg/proto"
)

// registerHandlers wires the built-in topic handlers. They run on the loop.
func (m *Manager) registerHandlers() {
	m.subs = append(m.subs,
		m.registry.Subscribe(proto.TopicNotification, m.decoded(m.handleNotification)),
		m.registry.Subscribe(proto.TopicBookingUpdate, m.decoded(m.handleBookingUpdate)),
		m.registry.Subscribe(proto.TopicUserActivity, m.decoded(m.handleUserActivity)),
		m.registry.Subscribe(proto.TopicCalendarSync, m.decoded(m.handleCalendarSync)),
		m.registry.Subscribe(proto.TopicSystemStatus, m.decoded(m.handleSystemStatus)),
	)
}

// decoded adapts a typed handler, logging and dropping payloads that do
// not decode.
func (m *Manager) decoded(handle func(env *proto.Envelope) error) registry.Handler {
	return func(env *proto.Envelope) {
		if err := handle(env); err != nil {
			m.metrics.MessagesInvalidTotal.Inc()
			m.logger.Debug().Err(err).Str("topic", string(env.Type)).Msg("Ignoring malformed message")
		}
	}
}

// onMessage is called from the transport read goroutine.
func (m *Manager) onMessage(env *proto.Envelope) {
	m.post(func() {
		// Frames still in flight when the connection was torn down
		if m.state == StateDisconnected || m.state == StateError {
			return
		}
		m.metrics.MessagesReceivedTotal.WithLabelValues(string(env.Type)).Inc()
		m.registry.Dispatch(env)
	})
}

// onTransportEvent is called from transport goroutines.
func (m *Manager) onTransportEvent(ev transport.Event, err error) {
	m.post(func() {
		m.handleTransportEvent(ev, err)
	})
}

func (m *Manager) handleTransportEvent(ev transport.Event, err error) {
	if m.closedByUs {
		return
	}

	switch ev {
	case transport.EventClosed:
		if m.state == StateConnected {
			m.logger.Warn().Err(err).Msg("Connection lost")
			m.transition(StateDisconnected)
		}

	case transport.EventReconnecting:
		if m.state == StateDisconnected || m.state == StateError {
			m.transition(StateConnecting)
		}

	case transport.EventOpen:
		if m.state == StateConnecting && m.connectDone == nil {
			m.transition(StateConnected)
			m.offline = false
			m.activity.Connected(m.path)
		}

	case transport.EventFailed:
		if m.state == StateConnecting && m.connectDone == nil {
			m.logger.Warn().Err(err).Msg("Reconnect failed, continuing without live updates")
			m.transition(StateError)
		}
	}
}

func (m *Manager) handleNotification(env *proto.Envelope) error {
	var msg proto.NotificationMessage
	if err := env.Decode(&msg); err != nil {
		return err
	}
	m.counter.Apply(msg)
	return nil
}

func (m *Manager) handleBookingUpdate(env *proto.Envelope) error {
	var msg proto.BookingUpdateMessage
	if err := env.Decode(&msg); err != nil {
		return err
	}
	if a, ok := alert.ForBooking(msg); ok {
		m.raise(a)
	}
	return nil
}

func (m *Manager) handleUserActivity(env *proto.Envelope) error {
	var msg proto.UserActivityMessage
	if err := env.Decode(&msg); err != nil {
		return err
	}
	m.presence.Apply(msg)
	return nil
}

func (m *Manager) handleCalendarSync(env *proto.Envelope) error {
	var msg proto.CalendarSyncMessage
	if err := env.Decode(&msg); err != nil {
		return err
	}
	if a, ok := alert.ForCalendarSync(msg); ok {
		m.raise(a)
	}
	return nil
}

func (m *Manager) handleSystemStatus(env *proto.Envelope) error {
	var msg proto.SystemStatusMessage
	if err := env.Decode(&msg); err != nil {
		return err
	}

	if msg.Component == proto.ComponentWebsocket {
		// Healthy needs no action: the transport drives the connected state
		if msg.Status == proto.StatusDown && (m.state == StateConnected || m.state == StateConnecting) {
			m.logger.Warn().Str("message", msg.Message).Msg("Backend reported websocket down")
			m.teardown()
		}
		return nil
	}

	if a, ok := alert.ForSystemStatus(msg); ok {
		m.raise(a)
	}
	return nil
}
