package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mouldrestoration/livesync/internal/alert"
	"github.com/mouldrestoration/livesync/internal/api"
	apierrors "github.com/mouldrestoration/livesync/internal/api/errors"
	"github.com/mouldrestoration/livesync/internal/auth"
	"github.com/mouldrestoration/livesync/internal/realtime"
	"github.com/mouldrestoration/livesync/internal/relay"
	"github.com/mouldrestoration/livesync/pkg/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stack struct {
	relay   *relay.Relay
	manager *realtime.Manager
	client  *Client
}

func newStack(t *testing.T) *stack {
	t.Helper()

	rcfg := relay.DefaultConfig()
	rcfg.Addr = "127.0.0.1:0"
	r := relay.New(rcfg)
	require.NoError(t, r.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})

	cfg := realtime.DefaultConfig()
	cfg.Enabled = true
	cfg.Transport.URL = r.URL()
	alerts := alert.NewQueue(50)
	m, err := realtime.New(cfg, realtime.WithAlertSink(alerts))
	require.NoError(t, err)
	t.Cleanup(m.Close)

	apiCfg := api.DefaultConfig()
	apiCfg.MetricsEnabled = false
	server := httptest.NewServer(api.NewAPI(apiCfg, m, alerts).Handler())
	t.Cleanup(server.Close)

	return &stack{
		relay:   r,
		manager: m,
		client:  New(server.URL, WithTimeout(5*time.Second)),
	}
}

func TestClientDrivesSession(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	health, err := s.client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)

	state, err := s.client.State(ctx)
	require.NoError(t, err)
	assert.True(t, state.Enabled)
	assert.Equal(t, realtime.StateDisconnected, state.ConnectionState)

	s.manager.SetPrincipal(auth.Principal{ID: "ann", Name: "Ann", Role: "admin", Token: "token-ann"})
	require.Eventually(t, s.manager.IsConnected, 2*time.Second, 10*time.Millisecond)

	alerts, err := s.client.Alerts(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, alerts)
	assert.Equal(t, "Real-time Updates Connected", alerts[0].Title)

	state, err = s.client.Disconnect(ctx)
	require.NoError(t, err)
	assert.False(t, state.IsConnected)

	state, err = s.client.Connect(ctx)
	require.NoError(t, err)
	assert.True(t, state.IsConnected)
	assert.Equal(t, realtime.StateConnected, state.ConnectionState)

	require.NoError(t, s.relay.Broadcast(proto.TopicNotification, proto.NotificationMessage{
		Action:       proto.NotificationCreated,
		Notification: &proto.Notification{ID: "n1", Title: "Inspection booked", Message: "Carlton"},
	}))
	require.Eventually(t, func() bool {
		state, err := s.client.State(ctx)
		return err == nil && state.UnreadNotifications == 1
	}, 2*time.Second, 10*time.Millisecond)

	state, err = s.client.MarkNotificationRead(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, 0, state.UnreadNotifications)

	require.NoError(t, s.client.RequestCalendarSync(ctx, proto.ProviderGoogle))
	require.Eventually(t, func() bool {
		return len(s.relay.ReceivedOn(proto.TopicCalendarSync)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, err = s.client.Navigate(ctx, "/bookings")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		for _, env := range s.relay.ReceivedOn(proto.TopicUserActivity) {
			var msg proto.UserActivityMessage
			if env.Decode(&msg) == nil && msg.Page == "/bookings" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	_, err = s.client.SetVisible(ctx, true)
	require.NoError(t, err)
}

func TestClientReturnsAPIErrors(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	err := s.client.RequestCalendarSync(ctx, proto.CalendarProvider("yahoo"))
	var apiErr *apierrors.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "unknown_provider", apiErr.Code)
	assert.Equal(t, http.StatusNotFound, apiErr.HTTPCode)

	err = s.client.RequestCalendarSync(ctx, proto.ProviderOutlook)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "not_connected", apiErr.Code)

	_, err = s.client.Navigate(ctx, "bookings")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, apierrors.ErrorTypeValidation, apiErr.Type)
	assert.Equal(t, "invalid_path", apiErr.Code)
}

func TestClientSendsHeaders(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Session")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"status":"ok"}}`))
	}))
	defer server.Close()

	c := New(server.URL, WithHeaders(map[string]string{"X-Session": "abc"}))
	health, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "abc", got)
}

func TestClientRejectsNonEnvelope(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, err := New(server.URL).State(context.Background())
	assert.Error(t, err)
}
