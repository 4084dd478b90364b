// Package proto defines the wire format exchanged with the realtime backend.
package proto

import (
	"encoding/json"
	"fmt"
	"time"
)

// Topic names a category of realtime message.
type Topic string

const (
	TopicNotification  Topic = "notification"
	TopicBookingUpdate Topic = "booking-update"
	TopicUserActivity  Topic = "user-activity"
	TopicCalendarSync  Topic = "calendar-sync"
	TopicSystemStatus  Topic = "system-status"

	// Wildcard subscribers receive every message after topic subscribers.
	Wildcard Topic = "*"
)

// Topics lists every concrete topic, in a stable order.
var Topics = []Topic{
	TopicNotification,
	TopicBookingUpdate,
	TopicUserActivity,
	TopicCalendarSync,
	TopicSystemStatus,
}

// Valid reports whether t is a known concrete topic.
func (t Topic) Valid() bool {
	for _, known := range Topics {
		if t == known {
			return true
		}
	}
	return false
}

// Envelope wraps every message on the wire.
type Envelope struct {
	Type      Topic           `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	UserID    string          `json:"userId,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// NewEnvelope marshals data into an envelope stamped with the current time.
func NewEnvelope(topic Topic, data any) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", topic, err)
	}
	return &Envelope{
		Type:      topic,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the envelope payload into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("empty %s payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// ParseEnvelope decodes a raw frame.
func ParseEnvelope(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("invalid envelope: missing type")
	}
	return &env, nil
}

// Priority of a notification.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// NotificationAction is the kind of change carried by a notification message.
type NotificationAction string

const (
	NotificationCreated NotificationAction = "created"
	NotificationRead    NotificationAction = "read"
)

// Notification is a user-facing notification.
type Notification struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Priority Priority `json:"priority,omitempty"`
}

// NotificationMessage is the payload of the notification topic.
type NotificationMessage struct {
	Action         NotificationAction `json:"action"`
	Notification   *Notification      `json:"notification,omitempty"`
	NotificationID string             `json:"notificationId,omitempty"`
}

// ReadID returns the id of the notification a read message refers to.
func (m NotificationMessage) ReadID() string {
	if m.NotificationID != "" {
		return m.NotificationID
	}
	if m.Notification != nil {
		return m.Notification.ID
	}
	return ""
}

// BookingAction is the kind of change carried by a booking update.
type BookingAction string

const (
	BookingCreated   BookingAction = "created"
	BookingUpdated   BookingAction = "updated"
	BookingCancelled BookingAction = "cancelled"
	BookingConfirmed BookingAction = "confirmed"
)

// Lead is the customer a booking belongs to.
type Lead struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Booking is the subset of a booking shown in alerts.
type Booking struct {
	ID              string `json:"id,omitempty"`
	Lead            Lead   `json:"lead"`
	MelbourneSuburb string `json:"melbourneSuburb"`
}

// BookingUpdateMessage is the payload of the booking-update topic.
type BookingUpdateMessage struct {
	Action       BookingAction `json:"action"`
	Booking      *Booking      `json:"booking,omitempty"`
	TechnicianID string        `json:"technicianId,omitempty"`
}

// ActivityAction is a presence transition.
type ActivityAction string

const (
	ActivityOnline      ActivityAction = "online"
	ActivityOffline     ActivityAction = "offline"
	ActivityViewingPage ActivityAction = "viewing_page"
)

// Valid reports whether a is a known activity action.
func (a ActivityAction) Valid() bool {
	switch a {
	case ActivityOnline, ActivityOffline, ActivityViewingPage:
		return true
	}
	return false
}

// UserInfo describes a user in presence messages.
type UserInfo struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// UserActivityMessage is the payload of the user-activity topic, inbound and outbound.
type UserActivityMessage struct {
	UserID   string         `json:"userId"`
	Action   ActivityAction `json:"action"`
	Page     string         `json:"page,omitempty"`
	UserInfo *UserInfo      `json:"userInfo,omitempty"`
}

// CalendarProvider names an external calendar.
type CalendarProvider string

const (
	ProviderGoogle  CalendarProvider = "google"
	ProviderOutlook CalendarProvider = "outlook"
)

// Valid reports whether p is a supported provider.
func (p CalendarProvider) Valid() bool {
	return p == ProviderGoogle || p == ProviderOutlook
}

// SyncStatus is the progress of a calendar sync.
type SyncStatus string

const (
	SyncStarted   SyncStatus = "started"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

// SyncStats summarises a completed calendar sync.
type SyncStats struct {
	Imported  int `json:"imported"`
	Exported  int `json:"exported"`
	Conflicts int `json:"conflicts"`
}

// CalendarSyncMessage is the payload of the calendar-sync topic.
// Outbound requests carry Action "request" and a Provider only.
type CalendarSyncMessage struct {
	Action   string           `json:"action,omitempty"`
	Provider CalendarProvider `json:"provider"`
	Status   SyncStatus       `json:"status,omitempty"`
	Stats    *SyncStats       `json:"stats,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// SyncActionRequest asks the backend to start a calendar sync.
const SyncActionRequest = "request"

// Component health values carried by system-status.
const (
	ComponentWebsocket = "websocket"
	ComponentHeartbeat = "heartbeat"

	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

// SystemStatusMessage is the payload of the system-status topic.
type SystemStatusMessage struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

// IsHeartbeat reports whether the message is a liveness probe.
func (m SystemStatusMessage) IsHeartbeat() bool {
	return m.Component == ComponentHeartbeat
}

// NotificationReadRequest is sent when the local user reads a notification.
type NotificationReadRequest struct {
	Action         NotificationAction `json:"action"`
	NotificationID string             `json:"notificationId"`
}
