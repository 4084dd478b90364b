package activity

import (
	"errors"
	"testing"

	"github.com/mouldrestoration/livesync/pkg/proto"
	"github.com/stretchr/testify/assert"
)

type fakeLink struct {
	connected bool
	err       error
	sent      []proto.UserActivityMessage
}

func (l *fakeLink) Connected() bool     { return l.connected }
func (l *fakeLink) PrincipalID() string { return "user-1" }

func (l *fakeLink) Publish(topic proto.Topic, data any) error {
	if l.err != nil {
		return l.err
	}
	l.sent = append(l.sent, data.(proto.UserActivityMessage))
	return nil
}

func TestSendWhileConnected(t *testing.T) {
	link := &fakeLink{connected: true}
	b := New(link)

	assert.True(t, b.Send(proto.ActivityViewingPage, "/jobs"))
	assert.Equal(t, []proto.UserActivityMessage{
		{UserID: "user-1", Action: proto.ActivityViewingPage, Page: "/jobs"},
	}, link.sent)
}

func TestSendDroppedWhileDisconnected(t *testing.T) {
	link := &fakeLink{}
	b := New(link)

	assert.False(t, b.Send(proto.ActivityOnline, "/"))
	assert.Empty(t, link.sent)

	// Reconnecting does not replay dropped pings
	link.connected = true
	b.Navigated("/calendar")
	assert.Len(t, link.sent, 1)
	assert.Equal(t, proto.ActivityViewingPage, link.sent[0].Action)
}

func TestSendPublishError(t *testing.T) {
	link := &fakeLink{connected: true, err: errors.New("buffer full")}
	b := New(link)

	assert.False(t, b.Send(proto.ActivityOnline, "/"))
}

func TestTriggers(t *testing.T) {
	link := &fakeLink{connected: true}
	b := New(link)

	b.Connected("/dashboard")
	b.Visibility(false, "/dashboard")
	b.Visibility(true, "/dashboard")
	b.Leaving()

	actions := make([]proto.ActivityAction, 0, len(link.sent))
	for _, m := range link.sent {
		actions = append(actions, m.Action)
	}
	assert.Equal(t, []proto.ActivityAction{
		proto.ActivityOnline,
		proto.ActivityViewingPage,
		proto.ActivityOffline,
		proto.ActivityOnline,
		proto.ActivityOffline,
	}, actions)
	assert.Equal(t, "/dashboard", link.sent[0].Page)
	assert.Empty(t, link.sent[2].Page)
}

func TestLeavingReportsDelivery(t *testing.T) {
	link := &fakeLink{connected: true}
	b := New(link)
	assert.True(t, b.Leaving())
	assert.True(t, b.Visibility(false, "/"))

	link.connected = false
	assert.False(t, b.Leaving())
	assert.False(t, b.Visibility(true, "/"))
}
