package relay

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mouldrestoration/livesync/pkg/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRelay(t *testing.T, cfg Config) *Relay {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	r := New(cfg)
	require.NoError(t, r.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r
}

func dial(t *testing.T, r *Relay, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(r.URL()+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, topic proto.Topic, data any) {
	t.Helper()
	env, err := proto.NewEnvelope(topic, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *proto.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := proto.ParseEnvelope(frame)
	require.NoError(t, err)
	return env
}

func TestRelayHeartbeatAck(t *testing.T) {
	r := startRelay(t, DefaultConfig())
	conn := dial(t, r, "t1")

	writeEnvelope(t, conn, proto.TopicSystemStatus, proto.SystemStatusMessage{
		Component: proto.ComponentHeartbeat,
		Status:    proto.StatusHealthy,
	})

	env := readEnvelope(t, conn)
	assert.Equal(t, proto.TopicSystemStatus, env.Type)
	assert.Equal(t, 1, r.Heartbeats())
	assert.Empty(t, r.Received())
}

func TestRelayFanout(t *testing.T) {
	r := startRelay(t, DefaultConfig())
	a := dial(t, r, "a")
	b := dial(t, r, "b")

	require.Eventually(t, func() bool { return len(r.Clients()) == 2 }, 2*time.Second, 10*time.Millisecond)

	writeEnvelope(t, a, proto.TopicUserActivity, proto.UserActivityMessage{UserID: "a", Action: proto.ActivityOnline})

	env := readEnvelope(t, b)
	var msg proto.UserActivityMessage
	require.NoError(t, env.Decode(&msg))
	assert.Equal(t, "a", msg.UserID)

	require.Eventually(t, func() bool { return len(r.ReceivedOn(proto.TopicUserActivity)) == 1 }, time.Second, 10*time.Millisecond)
}

func TestRelayBroadcast(t *testing.T) {
	r := startRelay(t, DefaultConfig())

	assert.Error(t, r.Broadcast(proto.TopicNotification, proto.NotificationMessage{}))

	conn := dial(t, r, "a")
	require.Eventually(t, func() bool { return len(r.Clients()) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, r.Broadcast(proto.TopicBookingUpdate, proto.BookingUpdateMessage{Action: proto.BookingCreated}))

	env := readEnvelope(t, conn)
	assert.Equal(t, proto.TopicBookingUpdate, env.Type)
	assert.Equal(t, 1, r.Connections())
}

func TestRelayRejectsBadToken(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JWTSecret = "secret"
	r := startRelay(t, cfg)

	_, resp, err := websocket.DefaultDialer.Dial(r.URL()+"?token=bogus", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}
