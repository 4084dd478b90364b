// Package alert builds user-facing alerts from realtime messages and hands
// them to sinks.
package alert

import (
	"fmt"
	"time"

	"github.com/mouldrestoration/livesync/pkg/proto"
)

// Variant selects how prominently an alert is shown.
type Variant string

const (
	VariantDefault     Variant = "default"
	VariantDestructive Variant = "destructive"
)

// Alert is a transient user-facing message.
type Alert struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Variant     Variant   `json:"variant"`
	Time        time.Time `json:"time"`
}

func newAlert(title, description string, variant Variant) Alert {
	return Alert{
		Title:       title,
		Description: description,
		Variant:     variant,
		Time:        time.Now().UTC(),
	}
}

// Connected confirms a successful connect.
func Connected() Alert {
	return newAlert("Real-time Updates Connected", "You will receive live notifications and updates.", VariantDefault)
}

// ForNotification renders a newly created notification.
func ForNotification(n proto.Notification) Alert {
	variant := VariantDefault
	if n.Priority == proto.PriorityUrgent {
		variant = VariantDestructive
	}
	return newAlert(n.Title, n.Message, variant)
}

var bookingTitles = map[proto.BookingAction]string{
	proto.BookingCreated:   "New Booking Created",
	proto.BookingUpdated:   "Booking Updated",
	proto.BookingCancelled: "Booking Cancelled",
	proto.BookingConfirmed: "Booking Confirmed",
}

// ForBooking renders a booking update. Unknown actions and updates without
// a booking produce no alert.
func ForBooking(msg proto.BookingUpdateMessage) (Alert, bool) {
	title, ok := bookingTitles[msg.Action]
	if !ok || msg.Booking == nil {
		return Alert{}, false
	}
	b := msg.Booking
	desc := fmt.Sprintf("%s %s - %s", b.Lead.FirstName, b.Lead.LastName, b.MelbourneSuburb)
	return newAlert(title, desc, VariantDefault), true
}

// ForCalendarSync renders a finished sync. Started syncs produce no alert.
func ForCalendarSync(msg proto.CalendarSyncMessage) (Alert, bool) {
	switch msg.Status {
	case proto.SyncCompleted:
		if msg.Stats == nil {
			return Alert{}, false
		}
		desc := fmt.Sprintf("%s: Imported %d, Exported %d, Conflicts %d",
			msg.Provider, msg.Stats.Imported, msg.Stats.Exported, msg.Stats.Conflicts)
		return newAlert("Calendar Sync Completed", desc, VariantDefault), true

	case proto.SyncFailed:
		if msg.Error == "" {
			return Alert{}, false
		}
		return newAlert("Calendar Sync Failed", fmt.Sprintf("%s: %s", msg.Provider, msg.Error), VariantDestructive), true
	}
	return Alert{}, false
}

// ForSystemStatus renders an outage of a backend component other than the
// websocket itself.
func ForSystemStatus(msg proto.SystemStatusMessage) (Alert, bool) {
	if msg.Status != proto.StatusDown || msg.Component == proto.ComponentWebsocket || msg.IsHeartbeat() {
		return Alert{}, false
	}
	desc := fmt.Sprintf("%s is currently down: %s", msg.Component, msg.Message)
	return newAlert("System Alert", desc, VariantDestructive), true
}
