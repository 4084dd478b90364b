package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mouldrestoration/livesync/internal/alert"
	"github.com/mouldrestoration/livesync/internal/presence"
	"github.com/mouldrestoration/livesync/internal/realtime"
	"github.com/mouldrestoration/livesync/pkg/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSession records the calls the API makes
type fakeSession struct {
	mu         sync.Mutex
	enabled    bool
	snapshot   realtime.Snapshot
	connectFn  func(ctx context.Context)
	calls      []string
}

func (f *fakeSession) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeSession) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSession) Enabled() bool { return f.enabled }

func (f *fakeSession) Snapshot() realtime.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

func (f *fakeSession) setState(s realtime.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot.ConnectionState = s
	f.snapshot.IsConnected = s == realtime.StateConnected
}

func (f *fakeSession) Connect(ctx context.Context) {
	f.record("connect")
	if f.connectFn != nil {
		f.connectFn(ctx)
		return
	}
	f.setState(realtime.StateConnected)
}

func (f *fakeSession) Disconnect() {
	f.record("disconnect")
	f.setState(realtime.StateDisconnected)
}

func (f *fakeSession) SendUserActivity(action proto.ActivityAction, page string) {
	f.record("activity " + string(action) + " " + page)
}

func (f *fakeSession) MarkNotificationAsRead(id string) {
	f.record("read " + id)
}

func (f *fakeSession) RequestCalendarSync(provider proto.CalendarProvider) {
	f.record("sync " + string(provider))
}

func (f *fakeSession) Navigate(path string) {
	f.record("navigate " + path)
}

func (f *fakeSession) SetVisible(visible bool) {
	if visible {
		f.record("visible")
		return
	}
	f.record("hidden")
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Type string `json:"type"`
		Code string `json:"code"`
	} `json:"error"`
}

func setupTestAPI(t *testing.T, session *fakeSession) (*httptest.Server, *alert.Queue) {
	t.Helper()
	alerts := alert.NewQueue(10)
	a := NewAPI(DefaultConfig(), session, alerts)
	server := httptest.NewServer(a.Handler())
	t.Cleanup(server.Close)
	return server, alerts
}

func call(t *testing.T, server *httptest.Server, method, path, body string) (int, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func enabledSession() *fakeSession {
	return &fakeSession{
		enabled: true,
		snapshot: realtime.Snapshot{
			ConnectionState: realtime.StateDisconnected,
			OnlineUsers:     []presence.Entry{},
		},
	}
}

func TestHealthz(t *testing.T) {
	server, _ := setupTestAPI(t, enabledSession())

	status, env := call(t, server, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
	assert.JSONEq(t, `{"status":"ok"}`, string(env.Data))
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := setupTestAPI(t, enabledSession())

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestState(t *testing.T) {
	session := enabledSession()
	session.snapshot = realtime.Snapshot{
		IsConnected:         true,
		ConnectionState:     realtime.StateConnected,
		OnlineUsers:         []presence.Entry{{UserID: "u1", Name: "Ann", Role: "tech", Page: "/x"}},
		UnreadNotifications: 3,
	}
	server, _ := setupTestAPI(t, session)

	status, env := call(t, server, http.MethodGet, "/state", "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{
		"enabled": true,
		"isConnected": true,
		"connectionState": "connected",
		"onlineUsers": [{"userId":"u1","name":"Ann","role":"tech","page":"/x"}],
		"unreadNotifications": 3
	}`, string(env.Data))
}

func TestConnectAndDisconnect(t *testing.T) {
	session := enabledSession()
	server, _ := setupTestAPI(t, session)

	status, env := call(t, server, http.MethodPost, "/connect", "")
	require.Equal(t, http.StatusOK, status)

	var state struct {
		ConnectionState string `json:"connectionState"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &state))
	assert.Equal(t, "connected", state.ConnectionState)

	status, _ = call(t, server, http.MethodPost, "/disconnect", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"connect", "disconnect"}, session.Calls())
}

func TestConnectTimeout(t *testing.T) {
	session := enabledSession()
	session.connectFn = func(ctx context.Context) {
		session.setState(realtime.StateConnecting)
		<-ctx.Done()
	}

	cfg := DefaultConfig()
	cfg.ConnectTimeout = 20 * time.Millisecond
	server := httptest.NewServer(NewAPI(cfg, session, nil).Handler())
	defer server.Close()

	status, env := call(t, server, http.MethodPost, "/connect", "")
	assert.Equal(t, http.StatusGatewayTimeout, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "connect_timeout", env.Error.Code)
}

func TestDisabledRejectsActions(t *testing.T) {
	session := &fakeSession{snapshot: realtime.Snapshot{ConnectionState: realtime.StateDisconnected}}
	server, _ := setupTestAPI(t, session)

	status, env := call(t, server, http.MethodPost, "/connect", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "realtime_disabled", env.Error.Code)

	// Reads still work
	status, _ = call(t, server, http.MethodGet, "/state", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, session.Calls())
}

func TestActivity(t *testing.T) {
	session := enabledSession()
	server, _ := setupTestAPI(t, session)

	status, _ := call(t, server, http.MethodPost, "/activity", `{"action":"viewing_page","page":"/jobs"}`)
	assert.Equal(t, http.StatusAccepted, status)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"empty body", "", "empty_request_body"},
		{"bad json", "{", "invalid_json"},
		{"unknown action", `{"action":"dancing"}`, "invalid_value"},
		{"unknown field", `{"action":"online","mood":"happy"}`, "invalid_json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := call(t, server, http.MethodPost, "/activity", tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}

	assert.Equal(t, []string{"activity viewing_page /jobs"}, session.Calls())
}

func TestMarkRead(t *testing.T) {
	session := enabledSession()
	server, _ := setupTestAPI(t, session)

	status, _ := call(t, server, http.MethodPost, "/notifications/n-42/read", "")
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, []string{"read n-42"}, session.Calls())
}

func TestCalendarSync(t *testing.T) {
	session := enabledSession()
	server, _ := setupTestAPI(t, session)

	status, env := call(t, server, http.MethodPost, "/calendar/sync/google", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "not_connected", env.Error.Code)

	session.setState(realtime.StateConnected)

	status, env = call(t, server, http.MethodPost, "/calendar/sync/ical", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "unknown_provider", env.Error.Code)

	status, env = call(t, server, http.MethodPost, "/calendar/sync/outlook", "")
	assert.Equal(t, http.StatusAccepted, status)
	assert.JSONEq(t, `{"provider":"outlook"}`, string(env.Data))

	assert.Equal(t, []string{"sync outlook"}, session.Calls())
}

func TestNavigateAndVisibility(t *testing.T) {
	session := enabledSession()
	server, _ := setupTestAPI(t, session)

	status, _ := call(t, server, http.MethodPost, "/navigate", `{"path":"/calendar"}`)
	assert.Equal(t, http.StatusAccepted, status)

	status, env := call(t, server, http.MethodPost, "/navigate", `{"path":"calendar"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_path", env.Error.Code)

	status, _ = call(t, server, http.MethodPost, "/visibility", `{"visible":false}`)
	assert.Equal(t, http.StatusAccepted, status)

	status, env = call(t, server, http.MethodPost, "/visibility", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "required_field_missing", env.Error.Code)

	assert.Equal(t, []string{"navigate /calendar", "hidden"}, session.Calls())
}

func TestAlertsDrain(t *testing.T) {
	server, alerts := setupTestAPI(t, enabledSession())

	alerts.Alert(alert.Connected())

	_, env := call(t, server, http.MethodGet, "/alerts", "")
	var drained []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &drained))
	require.Len(t, drained, 1)
	assert.Equal(t, "Real-time Updates Connected", drained[0]["title"])

	_, env = call(t, server, http.MethodGet, "/alerts", "")
	assert.JSONEq(t, `[]`, string(env.Data))
}

func TestServeShutsDownOnCancel(t *testing.T) {
	a := NewAPI(DefaultConfig(), enabledSession(), nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
