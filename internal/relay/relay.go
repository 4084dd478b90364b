// Package relay is a minimal realtime backend: it accepts websocket
// sessions, answers heartbeats and fans client frames out to the other
// sessions. It backs local development and the integration tests.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/mouldrestoration/livesync/internal/auth"
	"github.com/mouldrestoration/livesync/pkg/proto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config contains relay configuration
type Config struct {
	// Listen address; use 127.0.0.1:0 for an ephemeral port
	Addr string

	// Websocket path
	Path string

	// Verify session tokens with this HS256 secret; empty accepts any token
	JWTSecret string

	// Answer client heartbeats
	HeartbeatAck bool

	// Forward client frames to every other session
	Fanout bool

	// Per-session outbound queue length
	ClientBuffer int
}

// DefaultConfig returns a default relay configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:3001",
		Path:         "/ws",
		HeartbeatAck: true,
		Fanout:       true,
		ClientBuffer: 100,
	}
}

// Client is one connected session.
type Client struct {
	ID          string
	PrincipalID string
	Token       string
	conn        *websocket.Conn
	out         chan []byte
	done        chan struct{}
	once        sync.Once
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// Relay is a running relay server.
type Relay struct {
	config      Config
	app         *fiber.App
	listener    net.Listener
	clients     map[string]*Client
	received    []*proto.Envelope
	heartbeats  int
	connections int
	mu          sync.RWMutex
	logger      zerolog.Logger
}

// New creates a relay. Call Start to begin serving.
func New(config Config) *Relay {
	defaults := DefaultConfig()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.Path == "" {
		config.Path = defaults.Path
	}
	if config.ClientBuffer <= 0 {
		config.ClientBuffer = defaults.ClientBuffer
	}

	r := &Relay{
		config:  config,
		clients: make(map[string]*Client),
		logger:  log.With().Str("component", "relay").Logger(),
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	r.registerWebSocketHandler(app)
	r.app = app

	return r
}

// Start listens on the configured address and serves in the background.
func (r *Relay) Start() error {
	ln, err := net.Listen("tcp", r.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", r.config.Addr, err)
	}
	r.listener = ln

	go func() {
		if err := r.app.Listener(ln); err != nil {
			r.logger.Debug().Err(err).Msg("Relay listener stopped")
		}
	}()

	r.logger.Info().Str("addr", ln.Addr().String()).Msg("Relay started")
	return nil
}

// URL returns the websocket URL clients should dial.
func (r *Relay) URL() string {
	addr := r.config.Addr
	if r.listener != nil {
		addr = r.listener.Addr().String()
	}
	return "ws://" + addr + r.config.Path
}

// registerWebSocketHandler registers the websocket endpoint with a Fiber app
func (r *Relay) registerWebSocketHandler(app *fiber.App) {
	// Middleware to upgrade connections to WebSocket
	app.Use(r.config.Path, func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		token := c.Query("token")
		principalID := ""
		if r.config.JWTSecret != "" {
			p, err := auth.PrincipalFromToken(token, r.config.JWTSecret)
			if err != nil {
				r.logger.Debug().Err(err).Msg("Rejecting session")
				return fiber.ErrUnauthorized
			}
			principalID = p.ID
		}
		c.Locals("token", token)
		c.Locals("principal", principalID)
		return c.Next()
	})

	app.Get(r.config.Path, websocket.New(func(c *websocket.Conn) {
		token, _ := c.Locals("token").(string)
		principalID, _ := c.Locals("principal").(string)
		r.handleClient(c, token, principalID)
	}))
}

// handleClient serves one session until it disconnects
func (r *Relay) handleClient(conn *websocket.Conn, token, principalID string) {
	client := &Client{
		ID:          generateID(),
		PrincipalID: principalID,
		Token:       token,
		conn:        conn,
		out:         make(chan []byte, r.config.ClientBuffer),
		done:        make(chan struct{}),
	}

	r.mu.Lock()
	r.clients[client.ID] = client
	r.connections++
	r.mu.Unlock()

	r.logger.Debug().Str("client_id", client.ID).Msg("Client connected")

	// Writer
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case frame := <-client.out:
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					r.logger.Debug().Err(err).Str("client_id", client.ID).Msg("WebSocket write error")
					client.close()
					conn.Close()
					return
				}
			case <-client.done:
				return
			}
		}
	}()

	// Reader
	go func() {
		defer client.close()
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				r.logger.Debug().Err(err).Str("client_id", client.ID).Msg("WebSocket read error")
				return
			}
			r.processClientFrame(client, frame)
		}
	}()

	// The handler must not return while the socket is in use
	<-client.done
	<-writerDone
	r.removeClient(client.ID)
}

// processClientFrame records a client frame and fans it out
func (r *Relay) processClientFrame(client *Client, frame []byte) {
	env, err := proto.ParseEnvelope(frame)
	if err != nil {
		r.logger.Debug().Err(err).Str("client_id", client.ID).Msg("Failed to parse client frame")
		return
	}

	if env.Type == proto.TopicSystemStatus {
		var status proto.SystemStatusMessage
		if env.Decode(&status) == nil && status.IsHeartbeat() {
			r.mu.Lock()
			r.heartbeats++
			r.mu.Unlock()
			if r.config.HeartbeatAck {
				r.enqueue(client, frame)
			}
			return
		}
	}

	r.mu.Lock()
	r.received = append(r.received, env)
	var peers []*Client
	if r.config.Fanout {
		for id, c := range r.clients {
			if id != client.ID {
				peers = append(peers, c)
			}
		}
	}
	r.mu.Unlock()

	for _, peer := range peers {
		r.enqueue(peer, frame)
	}
}

func (r *Relay) enqueue(client *Client, frame []byte) {
	select {
	case client.out <- frame:
	case <-client.done:
	default:
		r.logger.Warn().Str("client_id", client.ID).Msg("Client buffer full, dropping frame")
	}
}

// removeClient removes a client
func (r *Relay) removeClient(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[clientID]; !ok {
		return
	}
	delete(r.clients, clientID)
	r.logger.Debug().Str("client_id", clientID).Msg("Client removed")
}

// Broadcast sends a message on topic to every session.
func (r *Relay) Broadcast(topic proto.Topic, data any) error {
	env, err := proto.NewEnvelope(topic, data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return err
	}

	r.mu.RLock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	if len(clients) == 0 {
		return errors.New("no connected clients")
	}
	for _, c := range clients {
		r.enqueue(c, frame)
	}
	return nil
}

// Received returns the non-heartbeat frames clients sent, oldest first.
func (r *Relay) Received() []*proto.Envelope {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*proto.Envelope, len(r.received))
	copy(out, r.received)
	return out
}

// ReceivedOn returns the received frames for one topic.
func (r *Relay) ReceivedOn(topic proto.Topic) []*proto.Envelope {
	var out []*proto.Envelope
	for _, env := range r.Received() {
		if env.Type == topic {
			out = append(out, env)
		}
	}
	return out
}

// Heartbeats returns how many client heartbeats were seen.
func (r *Relay) Heartbeats() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.heartbeats
}

// Clients returns the currently connected sessions.
func (r *Relay) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Connections returns how many sessions were accepted in total.
func (r *Relay) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connections
}

// DropAll closes every socket without a close frame.
func (r *Relay) DropAll() {
	for _, c := range r.Clients() {
		c.conn.Close()
	}
}

// CloseAll ends every session with the given close code.
func (r *Relay) CloseAll(code int) {
	msg := websocket.FormatCloseMessage(code, "")
	for _, c := range r.Clients() {
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.conn.Close()
	}
}

// Shutdown closes every session and stops the server.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.logger.Info().Msg("Shutting down relay")

	r.CloseAll(websocket.CloseGoingAway)

	done := make(chan error, 1)
	go func() {
		done <- r.app.Shutdown()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// generateID creates a unique client ID
var generateID = func() string {
	return uuid.NewString()
}
