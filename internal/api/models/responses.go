package models

import (
	"time"

	"github.com/mouldrestoration/livesync/internal/alert"
	"github.com/mouldrestoration/livesync/internal/presence"
	"github.com/mouldrestoration/livesync/internal/realtime"
)

// OnlineUser is one entry of the presence list
type OnlineUser struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Page   string `json:"page,omitempty"`
}

// StateResponse is the rendering layer's view of the session
type StateResponse struct {
	Enabled             bool           `json:"enabled"`
	IsConnected         bool           `json:"isConnected"`
	ConnectionState     realtime.State `json:"connectionState"`
	OnlineUsers         []OnlineUser   `json:"onlineUsers"`
	UnreadNotifications int            `json:"unreadNotifications"`
}

// StateFromSnapshot converts a manager snapshot
func StateFromSnapshot(enabled bool, s realtime.Snapshot) StateResponse {
	return StateResponse{
		Enabled:             enabled,
		IsConnected:         s.IsConnected,
		ConnectionState:     s.ConnectionState,
		OnlineUsers:         onlineUsers(s.OnlineUsers),
		UnreadNotifications: s.UnreadNotifications,
	}
}

func onlineUsers(entries []presence.Entry) []OnlineUser {
	out := make([]OnlineUser, 0, len(entries))
	for _, e := range entries {
		out = append(out, OnlineUser{UserID: e.UserID, Name: e.Name, Role: e.Role, Page: e.Page})
	}
	return out
}

// AlertResponse is one drained alert
type AlertResponse struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Variant     alert.Variant `json:"variant"`
	Time        time.Time     `json:"time"`
}

// AlertsFromQueue converts drained alerts
func AlertsFromQueue(alerts []alert.Alert) []AlertResponse {
	out := make([]AlertResponse, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, AlertResponse(a))
	}
	return out
}

// HealthResponse is returned by /healthz
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
