// Package presence tracks which other users are online and what page they
// are viewing.
package presence

import (
	"github.com/mouldrestoration/livesync/pkg/proto"
)

const (
	defaultName = "Unknown User"
	defaultRole = "User"
)

// Entry is one online user.
type Entry struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Page   string `json:"page,omitempty"`
}

// Tracker keeps the presence list for one session. It is not safe for
// concurrent use; the realtime manager owns it from a single goroutine.
type Tracker struct {
	self    string
	order   []string // user ids, least recently updated first
	entries map[string]Entry
}

// NewTracker creates an empty tracker that ignores activity from self.
func NewTracker(self string) *Tracker {
	return &Tracker{
		self:    self,
		entries: make(map[string]Entry),
	}
}

// SetSelf changes the local principal id. An existing entry for the new id
// is removed.
func (t *Tracker) SetSelf(self string) {
	t.self = self
	if self != "" {
		t.remove(self)
	}
}

// Apply folds one activity message into the list and reports whether the
// list changed.
func (t *Tracker) Apply(msg proto.UserActivityMessage) bool {
	if msg.UserID == "" || msg.UserID == t.self {
		return false
	}

	switch msg.Action {
	case proto.ActivityOffline:
		return t.remove(msg.UserID)

	case proto.ActivityOnline, proto.ActivityViewingPage:
		if msg.UserInfo == nil && msg.Action == proto.ActivityViewingPage {
			return false
		}
		entry := Entry{
			UserID: msg.UserID,
			Name:   defaultName,
			Role:   defaultRole,
			Page:   msg.Page,
		}
		if msg.UserInfo != nil {
			if msg.UserInfo.Name != "" {
				entry.Name = msg.UserInfo.Name
			}
			if msg.UserInfo.Role != "" {
				entry.Role = msg.UserInfo.Role
			}
		}
		// Latest activity moves to the end
		t.remove(msg.UserID)
		t.order = append(t.order, msg.UserID)
		t.entries[msg.UserID] = entry
		return true
	}

	return false
}

func (t *Tracker) remove(userID string) bool {
	if _, ok := t.entries[userID]; !ok {
		return false
	}
	delete(t.entries, userID)
	for i, id := range t.order {
		if id == userID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

// Snapshot returns a copy of the list in update order.
func (t *Tracker) Snapshot() []Entry {
	out := make([]Entry, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.entries[id])
	}
	return out
}

// Len returns the number of online users.
func (t *Tracker) Len() int {
	return len(t.order)
}

// Clear empties the list.
func (t *Tracker) Clear() {
	t.order = nil
	t.entries = make(map[string]Entry)
}
