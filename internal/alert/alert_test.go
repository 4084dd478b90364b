package alert

import (
	"testing"

	"github.com/mouldrestoration/livesync/pkg/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnected(t *testing.T) {
	a := Connected()
	assert.Equal(t, "Real-time Updates Connected", a.Title)
	assert.Equal(t, "You will receive live notifications and updates.", a.Description)
	assert.Equal(t, VariantDefault, a.Variant)
	assert.False(t, a.Time.IsZero())
}

func TestForNotification(t *testing.T) {
	a := ForNotification(proto.Notification{ID: "n1", Title: "Job moved", Message: "See calendar", Priority: proto.PriorityNormal})
	assert.Equal(t, "Job moved", a.Title)
	assert.Equal(t, "See calendar", a.Description)
	assert.Equal(t, VariantDefault, a.Variant)

	urgent := ForNotification(proto.Notification{ID: "n2", Title: "Leak", Priority: proto.PriorityUrgent})
	assert.Equal(t, VariantDestructive, urgent.Variant)
}

func TestForBooking(t *testing.T) {
	tests := []struct {
		action proto.BookingAction
		title  string
	}{
		{proto.BookingCreated, "New Booking Created"},
		{proto.BookingUpdated, "Booking Updated"},
		{proto.BookingCancelled, "Booking Cancelled"},
		{proto.BookingConfirmed, "Booking Confirmed"},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			a, ok := ForBooking(proto.BookingUpdateMessage{
				Action: tt.action,
				Booking: &proto.Booking{
					Lead:            proto.Lead{FirstName: "Jane", LastName: "Doe"},
					MelbourneSuburb: "Carlton",
				},
			})
			require.True(t, ok)
			assert.Equal(t, tt.title, a.Title)
			assert.Equal(t, "Jane Doe - Carlton", a.Description)
		})
	}

	_, ok := ForBooking(proto.BookingUpdateMessage{Action: "archived", Booking: &proto.Booking{}})
	assert.False(t, ok)

	_, ok = ForBooking(proto.BookingUpdateMessage{Action: proto.BookingCreated})
	assert.False(t, ok)
}

func TestForCalendarSync(t *testing.T) {
	a, ok := ForCalendarSync(proto.CalendarSyncMessage{
		Provider: proto.ProviderGoogle,
		Status:   proto.SyncCompleted,
		Stats:    &proto.SyncStats{Imported: 3, Exported: 1, Conflicts: 0},
	})
	require.True(t, ok)
	assert.Equal(t, "Calendar Sync Completed", a.Title)
	assert.Equal(t, "google: Imported 3, Exported 1, Conflicts 0", a.Description)

	a, ok = ForCalendarSync(proto.CalendarSyncMessage{
		Provider: proto.ProviderOutlook,
		Status:   proto.SyncFailed,
		Error:    "token expired",
	})
	require.True(t, ok)
	assert.Equal(t, "Calendar Sync Failed", a.Title)
	assert.Equal(t, "outlook: token expired", a.Description)
	assert.Equal(t, VariantDestructive, a.Variant)

	_, ok = ForCalendarSync(proto.CalendarSyncMessage{Provider: proto.ProviderGoogle, Status: proto.SyncStarted})
	assert.False(t, ok)
}

func TestForSystemStatus(t *testing.T) {
	a, ok := ForSystemStatus(proto.SystemStatusMessage{Component: "database", Status: proto.StatusDown, Message: "maintenance"})
	require.True(t, ok)
	assert.Equal(t, "System Alert", a.Title)
	assert.Equal(t, "database is currently down: maintenance", a.Description)
	assert.Equal(t, VariantDestructive, a.Variant)

	_, ok = ForSystemStatus(proto.SystemStatusMessage{Component: proto.ComponentWebsocket, Status: proto.StatusDown})
	assert.False(t, ok)

	_, ok = ForSystemStatus(proto.SystemStatusMessage{Component: "database", Status: proto.StatusHealthy})
	assert.False(t, ok)
}

func TestQueue(t *testing.T) {
	q := NewQueue(2)

	q.Alert(Connected())
	q.Alert(Connected())
	q.Alert(Connected())

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 1, q.Dropped())

	drained := q.Drain()
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, q.Drain())
}

func TestMulti(t *testing.T) {
	var got []string
	m := Multi{
		SinkFunc(func(a Alert) { got = append(got, "a:"+a.Title) }),
		nil,
		SinkFunc(func(a Alert) { got = append(got, "b:"+a.Title) }),
	}

	m.Alert(Alert{Title: "x"})
	assert.Equal(t, []string{"a:x", "b:x"}, got)
}
