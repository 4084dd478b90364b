package api

import (
	"context"

	"github.com/mouldrestoration/livesync/internal/alert"
	"github.com/mouldrestoration/livesync/internal/realtime"
	"github.com/mouldrestoration/livesync/pkg/proto"
)

// Session is the part of the realtime manager the control API drives.
type Session interface {
	Enabled() bool
	Snapshot() realtime.Snapshot
	Connect(ctx context.Context)
	Disconnect()
	SendUserActivity(action proto.ActivityAction, page string)
	MarkNotificationAsRead(id string)
	RequestCalendarSync(provider proto.CalendarProvider)
	Navigate(path string)
	SetVisible(visible bool)
}

// AlertSource hands out alerts raised since the last call.
type AlertSource interface {
	Drain() []alert.Alert
}
