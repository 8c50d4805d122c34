package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/kparsons/timehub/internal/event"
	"github.com/kparsons/timehub/internal/registry"
)

// Manager owns the WebSocket connections and the room-scoped broadcast
// fan-out. A single goroutine drains the broadcast queue, which preserves
// the order in which the command processor committed mutations.
type Manager struct {
	rooms     *registry.Rooms[*Connection]
	processor CommandProcessor
	upgrader  websocket.Upgrader
	config    Config

	broadcastCh chan broadcastMessage

	mu    sync.Mutex
	conns map[*Connection]struct{}
}

// Connection is one client socket. Outbound messages pass through the
// bounded send queue; a connection that can't keep up is dropped rather than
// allowed to stall the fan-out.
type Connection struct {
	ID      string
	manager *Manager
	conn    *websocket.Conn
	send    chan []byte

	connectedAt time.Time
	done        chan struct{}
	closeOnce   sync.Once
}

// Config holds tuning for WebSocket connections and the broadcast queue.
type Config struct {
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	PingInterval       time.Duration
	MaxMessageSize     int64
	ReadBufferSize     int
	WriteBufferSize    int
	SendQueueSize      int
	BroadcastQueueSize int
	CheckOrigin        func(r *http.Request) bool
}

type broadcastMessage struct {
	sessionID string
	env       event.Envelope
}

// DefaultConfig returns the default WebSocket configuration.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:       10 * time.Second,
		ReadTimeout:        60 * time.Second,
		PingInterval:       30 * time.Second,
		MaxMessageSize:     4096,
		ReadBufferSize:     1024,
		WriteBufferSize:    1024,
		SendQueueSize:      256,
		BroadcastQueueSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins; auth is out of scope for this service.
			return true
		},
	}
}

// NewManager creates a connection manager wired to the command processor.
func NewManager(config Config, processor CommandProcessor, rooms *registry.Rooms[*Connection]) *Manager {
	return &Manager{
		rooms:     rooms,
		processor: processor,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, config.BroadcastQueueSize),
		conns:       make(map[*Connection]struct{}),
	}
}

// Start runs the broadcast loop until the context is cancelled.
func (m *Manager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-m.broadcastCh:
			m.handleBroadcast(message)
		}
	}
}

// Broadcast enqueues an event for every connection in the session's room.
// Never blocks: if the queue is full the event is dropped with a warning.
// Implements command.Broadcaster.
func (m *Manager) Broadcast(sessionID string, env event.Envelope) {
	select {
	case m.broadcastCh <- broadcastMessage{sessionID: sessionID, env: env}:
	default:
		log.Warn().Str("session_id", sessionID).Msg("broadcast queue full, dropping event")
	}
}

// HandleConnection upgrades an HTTP request to a WebSocket connection.
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		manager:     m,
		conn:        conn,
		send:        make(chan []byte, m.config.SendQueueSize),
		connectedAt: time.Now(),
		done:        make(chan struct{}),
	}

	m.mu.Lock()
	m.conns[connection] = struct{}{}
	m.mu.Unlock()

	go connection.writePump()
	go connection.readPump()

	log.Info().Str("connection_id", connection.ID).Msg("WebSocket connection established")
}

// handleBroadcast delivers one event to the session's room members.
func (m *Manager) handleBroadcast(message broadcastMessage) {
	targets := m.rooms.Snapshot(message.sessionID)
	if len(targets) == 0 {
		return
	}

	// Marshal once for the whole room.
	data, err := json.Marshal(message.env)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		if !conn.enqueue(data) {
			// Connection is slow or dead; drop it rather than block the room.
			log.Warn().
				Str("connection_id", conn.ID).
				Msg("connection send queue full, closing connection")
			conn.close()
		}
	}

	log.Debug().
		Str("event_type", string(message.env.Type)).
		Str("session_id", message.sessionID).
		Int("connections", len(targets)).
		Msg("event broadcast")
}

// Stats returns counts of active connections and non-empty rooms.
func (m *Manager) Stats() (totalConnections, activeSessions int) {
	m.mu.Lock()
	totalConnections = len(m.conns)
	m.mu.Unlock()

	return totalConnections, len(m.rooms.Counts())
}

// unregister removes the connection from its room and the connection set.
func (m *Manager) unregister(conn *Connection) {
	m.rooms.Leave(conn)

	m.mu.Lock()
	_, registered := m.conns[conn]
	delete(m.conns, conn)
	m.mu.Unlock()

	if registered {
		log.Info().
			Str("connection_id", conn.ID).
			Dur("connected_for", time.Since(conn.connectedAt)).
			Msg("connection unregistered")
	}
}

// enqueue attempts a non-blocking send; false means the connection is closed
// or its queue is full. The send channel is never closed, so a broadcast
// racing a disconnect degrades to a dropped delivery.
func (c *Connection) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// sendEvent marshals and enqueues an event for this connection only, used
// for sessionData snapshots and error notices.
func (c *Connection) sendEvent(env event.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to marshal event")
		return
	}
	if !c.enqueue(data) {
		log.Warn().Str("connection_id", c.ID).Msg("send queue full, dropping direct event")
	}
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.manager.unregister(c)
		c.conn.Close()
	})
}

// writePump drains the send queue onto the socket and keeps the connection
// alive with pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client commands off the socket and dispatches them.
func (c *Connection) readPump() {
	defer c.close()

	c.conn.SetReadLimit(c.manager.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close")
			}
			break
		}

		c.handleClientMessage(message)
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	}
}
