package presence

import (
	"testing"

	"github.com/mouldrestoration/livesync/pkg/proto"
	"github.com/stretchr/testify/assert"
)

func online(id, name, role, page string) proto.UserActivityMessage {
	return proto.UserActivityMessage{
		UserID:   id,
		Action:   proto.ActivityOnline,
		Page:     page,
		UserInfo: &proto.UserInfo{Name: name, Role: role},
	}
}

func TestTrackerOnlineUpsert(t *testing.T) {
	tr := NewTracker("self")

	assert.True(t, tr.Apply(online("u1", "Ann", "technician", "/jobs")))
	assert.True(t, tr.Apply(online("u2", "Bob", "admin", "/calendar")))
	assert.True(t, tr.Apply(online("u1", "Ann", "technician", "/leads")))

	got := tr.Snapshot()
	assert.Len(t, got, 2)
	assert.Equal(t, "u2", got[0].UserID)
	assert.Equal(t, Entry{UserID: "u1", Name: "Ann", Role: "technician", Page: "/leads"}, got[1])
}

func TestTrackerIgnoresSelf(t *testing.T) {
	tr := NewTracker("self")

	assert.False(t, tr.Apply(online("self", "Me", "admin", "/")))
	assert.Equal(t, 0, tr.Len())
}

func TestTrackerOffline(t *testing.T) {
	tr := NewTracker("self")
	tr.Apply(online("u1", "Ann", "technician", "/"))

	assert.True(t, tr.Apply(proto.UserActivityMessage{UserID: "u1", Action: proto.ActivityOffline}))
	assert.Equal(t, 0, tr.Len())

	// Unknown user offline is a no-op
	assert.False(t, tr.Apply(proto.UserActivityMessage{UserID: "u9", Action: proto.ActivityOffline}))
}

func TestTrackerDefaults(t *testing.T) {
	tr := NewTracker("self")

	assert.True(t, tr.Apply(proto.UserActivityMessage{UserID: "u1", Action: proto.ActivityOnline}))
	assert.Equal(t, []Entry{{UserID: "u1", Name: "Unknown User", Role: "User"}}, tr.Snapshot())
}

func TestTrackerViewingPageWithoutInfo(t *testing.T) {
	tr := NewTracker("self")

	changed := tr.Apply(proto.UserActivityMessage{UserID: "u1", Action: proto.ActivityViewingPage, Page: "/x"})
	assert.False(t, changed)
	assert.Equal(t, 0, tr.Len())
}

func TestTrackerIgnoresMalformed(t *testing.T) {
	tr := NewTracker("self")

	assert.False(t, tr.Apply(proto.UserActivityMessage{Action: proto.ActivityOnline}))
	assert.False(t, tr.Apply(proto.UserActivityMessage{UserID: "u1", Action: "dancing"}))
	assert.Equal(t, 0, tr.Len())
}

func TestTrackerSetSelfRemovesEntry(t *testing.T) {
	tr := NewTracker("")
	tr.Apply(online("u1", "Ann", "admin", "/"))

	tr.SetSelf("u1")
	assert.Equal(t, 0, tr.Len())
}

func TestTrackerClear(t *testing.T) {
	tr := NewTracker("self")
	tr.Apply(online("u1", "Ann", "admin", "/"))
	tr.Apply(online("u2", "Bob", "admin", "/"))

	tr.Clear()
	assert.Empty(t, tr.Snapshot())
}
