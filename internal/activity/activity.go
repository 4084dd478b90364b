// Package activity announces the local user's presence to other sessions.
package activity

import (
	"github.com/mouldrestoration/livesync/internal/metrics"
	"github.com/mouldrestoration/livesync/pkg/proto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Link is the connection the broadcaster publishes through.
type Link interface {
	// Connected reports whether pings can be delivered now.
	Connected() bool
	// PrincipalID returns the local user id.
	PrincipalID() string
	// Publish sends data on topic.
	Publish(topic proto.Topic, data any) error
}

// Broadcaster sends user-activity pings. Pings are dropped, never queued,
// while the link is not connected.
type Broadcaster struct {
	link    Link
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a broadcaster publishing through link.
func New(link Link) *Broadcaster {
	return &Broadcaster{
		link:    link,
		logger:  log.With().Str("component", "activity").Logger(),
		metrics: metrics.GetMetrics(),
	}
}

// Send publishes one activity ping and reports whether it was handed to
// the link.
func (b *Broadcaster) Send(action proto.ActivityAction, page string) bool {
	if !b.link.Connected() {
		b.metrics.ActivityDropped.WithLabelValues(string(action)).Inc()
		b.logger.Debug().Str("action", string(action)).Msg("Not connected, dropping activity")
		return false
	}

	msg := proto.UserActivityMessage{
		UserID: b.link.PrincipalID(),
		Action: action,
		Page:   page,
	}
	if err := b.link.Publish(proto.TopicUserActivity, msg); err != nil {
		b.metrics.ActivityDropped.WithLabelValues(string(action)).Inc()
		b.logger.Debug().Err(err).Str("action", string(action)).Msg("Failed to send activity")
		return false
	}

	b.metrics.ActivitySentTotal.WithLabelValues(string(action)).Inc()
	return true
}

// Connected announces a new connection on path.
func (b *Broadcaster) Connected(path string) {
	b.Send(proto.ActivityOnline, path)
	b.Send(proto.ActivityViewingPage, path)
}

// Visibility announces the session being shown or hidden and reports
// whether the ping was sent.
func (b *Broadcaster) Visibility(visible bool, path string) bool {
	if visible {
		return b.Send(proto.ActivityOnline, path)
	}
	return b.Send(proto.ActivityOffline, "")
}

// Navigated announces a page change.
func (b *Broadcaster) Navigated(path string) {
	b.Send(proto.ActivityViewingPage, path)
}

// Leaving announces the session ending and reports whether the ping was
// sent.
func (b *Broadcaster) Leaving() bool {
	return b.Send(proto.ActivityOffline, "")
}
