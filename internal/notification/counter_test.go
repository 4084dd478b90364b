package notification

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mouldrestoration/livesync/internal/alert"
	"github.com/mouldrestoration/livesync/pkg/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingChime struct {
	plays atomic.Int32
	err   error
}

func (c *countingChime) Play() error {
	c.plays.Add(1)
	return c.err
}

func newTestCounter(t *testing.T, chime Chime) (*Counter, *alert.Queue) {
	t.Helper()
	q := alert.NewQueue(10)
	c, err := NewCounter(DefaultConfig(), q, chime)
	require.NoError(t, err)
	return c, q
}

func created(id string, priority proto.Priority) proto.NotificationMessage {
	return proto.NotificationMessage{
		Action:       proto.NotificationCreated,
		Notification: &proto.Notification{ID: id, Title: "Title " + id, Message: "Body", Priority: priority},
	}
}

func TestCounterCreatedAndRead(t *testing.T) {
	c, q := newTestCounter(t, nil)

	c.Apply(created("n1", proto.PriorityNormal))
	c.Apply(created("n2", proto.PriorityHigh))
	assert.Equal(t, 2, c.Unread())
	assert.Equal(t, 2, q.Len())

	c.Apply(proto.NotificationMessage{Action: proto.NotificationRead, NotificationID: "n1"})
	assert.Equal(t, 1, c.Unread())
}

func TestCounterNeverNegative(t *testing.T) {
	c, _ := newTestCounter(t, nil)

	c.OnRead("n1")
	c.OnRead("")
	assert.Equal(t, 0, c.Unread())
}

func TestCounterUrgentPlaysChime(t *testing.T) {
	chime := &countingChime{err: errors.New("no device")}
	c, q := newTestCounter(t, chime)

	c.Apply(created("n1", proto.PriorityUrgent))
	c.Apply(created("n2", proto.PriorityNormal))

	assert.Eventually(t, func() bool { return chime.plays.Load() == 1 }, time.Second, 10*time.Millisecond)

	alerts := q.Drain()
	require.Len(t, alerts, 2)
	assert.Equal(t, alert.VariantDestructive, alerts[0].Variant)
	assert.Equal(t, alert.VariantDefault, alerts[1].Variant)
}

func TestCounterSoundDisabled(t *testing.T) {
	chime := &countingChime{}
	cfg := DefaultConfig()
	cfg.SoundEnabled = false
	c, err := NewCounter(cfg, nil, chime)
	require.NoError(t, err)

	c.OnCreated(proto.Notification{ID: "n1", Priority: proto.PriorityUrgent})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), chime.plays.Load())
	assert.Equal(t, 1, c.Unread())
}

func TestCounterLocalReadSkipsEcho(t *testing.T) {
	c, _ := newTestCounter(t, nil)
	c.OnCreated(proto.Notification{ID: "n1"})
	c.OnCreated(proto.Notification{ID: "n2"})

	c.MarkRead("n1")
	assert.Equal(t, 1, c.Unread())

	// Server echo of the same read
	c.OnRead("n1")
	assert.Equal(t, 1, c.Unread())

	// Reads from other sessions still count
	c.OnRead("n2")
	assert.Equal(t, 0, c.Unread())
}

func TestCounterMarkReadTwice(t *testing.T) {
	c, _ := newTestCounter(t, nil)
	c.OnCreated(proto.Notification{ID: "n1"})
	c.OnCreated(proto.Notification{ID: "n2"})

	c.MarkRead("n1")
	c.MarkRead("n1")
	assert.Equal(t, 1, c.Unread())
}

func TestCounterIgnoresUnknownAction(t *testing.T) {
	c, _ := newTestCounter(t, nil)

	c.Apply(proto.NotificationMessage{Action: "archived"})
	c.Apply(proto.NotificationMessage{Action: proto.NotificationCreated})
	assert.Equal(t, 0, c.Unread())
}
