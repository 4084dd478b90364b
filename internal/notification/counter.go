// Package notification keeps the unread notification count and raises
// alerts for new notifications.
package notification

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/mouldrestoration/livesync/internal/alert"
	"github.com/mouldrestoration/livesync/internal/metrics"
	"github.com/mouldrestoration/livesync/pkg/proto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Chime plays the urgent-notification sound.
type Chime interface {
	Play() error
}

// Config contains counter configuration
type Config struct {
	// Play the chime for URGENT notifications
	SoundEnabled bool

	// Number of locally read ids remembered to skip the server echo
	ReadCacheSize int
}

// DefaultConfig returns a default counter configuration
func DefaultConfig() Config {
	return Config{
		SoundEnabled:  true,
		ReadCacheSize: 256,
	}
}

// Counter tracks unread notifications for one session. It is not safe for
// concurrent use; the realtime manager owns it from a single goroutine.
type Counter struct {
	config Config
	unread int
	// ids marked read locally whose server echo has not arrived yet
	localReads *lru.Cache
	alerts     alert.Sink
	chime      Chime
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

// NewCounter creates a counter starting at zero.
func NewCounter(config Config, sink alert.Sink, chime Chime) (*Counter, error) {
	if config.ReadCacheSize <= 0 {
		config.ReadCacheSize = DefaultConfig().ReadCacheSize
	}

	cache, err := lru.New(config.ReadCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create read cache: %w", err)
	}

	return &Counter{
		config:     config,
		localReads: cache,
		alerts:     sink,
		chime:      chime,
		logger:     log.With().Str("component", "notification").Logger(),
		metrics:    metrics.GetMetrics(),
	}, nil
}

// Unread returns the current unread count.
func (c *Counter) Unread() int {
	return c.unread
}

// Apply folds one notification message into the count.
func (c *Counter) Apply(msg proto.NotificationMessage) {
	switch msg.Action {
	case proto.NotificationCreated:
		if msg.Notification == nil {
			c.logger.Debug().Msg("Created notification without body, ignoring")
			return
		}
		c.OnCreated(*msg.Notification)
	case proto.NotificationRead:
		c.OnRead(msg.ReadID())
	default:
		c.logger.Debug().Str("action", string(msg.Action)).Msg("Ignoring notification action")
	}
}

// OnCreated counts a new notification, raises its alert and plays the
// chime for URGENT ones.
func (c *Counter) OnCreated(n proto.Notification) {
	c.unread++
	c.metrics.UnreadNotifications.Set(float64(c.unread))

	if c.alerts != nil {
		c.alerts.Alert(alert.ForNotification(n))
	}

	if n.Priority == proto.PriorityUrgent && c.config.SoundEnabled && c.chime != nil {
		go c.playChime(n.ID)
	}
}

func (c *Counter) playChime(id string) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Debug().Interface("panic", rec).Msg("Chime panicked")
		}
	}()
	if err := c.chime.Play(); err != nil {
		c.logger.Debug().Err(err).Str("notification_id", id).Msg("Could not play notification sound")
	}
}

// OnRead applies a read reported by the server. A read already applied
// locally through MarkRead is not counted twice.
func (c *Counter) OnRead(id string) {
	if id != "" && c.localReads.Contains(id) {
		c.localReads.Remove(id)
		return
	}
	c.decrement()
}

// MarkRead applies a read initiated by the local user.
func (c *Counter) MarkRead(id string) {
	if id != "" {
		if c.localReads.Contains(id) {
			return
		}
		c.localReads.Add(id, struct{}{})
	}
	c.decrement()
}

func (c *Counter) decrement() {
	if c.unread > 0 {
		c.unread--
	}
	c.metrics.UnreadNotifications.Set(float64(c.unread))
}
