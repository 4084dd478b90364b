// Package auth models the signed-in principal the realtime layer connects as.
package auth

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a session token cannot be verified.
var ErrInvalidToken = errors.New("invalid session token")

// Principal is the authenticated user. The zero value is unauthenticated.
type Principal struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
	Token string `json:"-"`
}

// Authenticated reports whether p identifies a user.
func (p Principal) Authenticated() bool {
	return p.ID != ""
}

// PrincipalFromToken verifies an HS256 session token and reads the
// principal from its claims (sub or id, name, role).
func PrincipalFromToken(token, secret string) (Principal, error) {
	if token == "" {
		return Principal{}, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return Principal{}, ErrInvalidToken
	}

	p := Principal{Token: token}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		p.ID = sub
	} else if id, ok := claims["id"].(string); ok {
		p.ID = id
	}
	if p.ID == "" {
		return Principal{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	p.Name, _ = claims["name"].(string)
	p.Role, _ = claims["role"].(string)

	return p, nil
}

// Signal holds the current principal and notifies watchers when it changes.
type Signal struct {
	mu       sync.RWMutex
	current  Principal
	watchers map[int]chan Principal
	nextID   int
}

// NewSignal creates a signal holding initial.
func NewSignal(initial Principal) *Signal {
	return &Signal{
		current:  initial,
		watchers: make(map[int]chan Principal),
	}
}

// Current returns the current principal.
func (s *Signal) Current() Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set replaces the principal and notifies watchers if it changed. Slow
// watchers only see the latest value.
func (s *Signal) Set(p Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p == s.current {
		return
	}
	s.current = p
	for _, ch := range s.watchers {
		offerLatest(ch, p)
	}
}

// Watch returns a channel receiving the current principal immediately and
// every change after. Call cancel to stop watching.
func (s *Signal) Watch() (<-chan Principal, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan Principal, 1)
	ch <- s.current
	s.watchers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			close(ch)
			s.mu.Unlock()
		})
	}
	return ch, cancel
}

// offerLatest replaces any unread value in a one-slot channel.
func offerLatest(ch chan Principal, p Principal) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- p:
	default:
	}
}
