// Package ws streams a session's change feed over WebSocket and accepts
// mutations on the same connection.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mcoot/cryptoquiz-go/internal/api/apierr"
	"github.com/mcoot/cryptoquiz-go/internal/api/response"
	"github.com/mcoot/cryptoquiz-go/internal/feed"
	"github.com/mcoot/cryptoquiz-go/internal/model"
	"github.com/mcoot/cryptoquiz-go/internal/services/session"
)

// Reply message types
const (
	MessageResult = "result"
	MessageError  = "error"
)

// ErrClosed is returned by Serve once the manager is closed
var ErrClosed = errors.New("websocket manager closed")

// Applier applies a mutation on behalf of a connected player
type Applier interface {
	Apply(ctx context.Context, gameID model.GameID, actorID model.PlayerID, mut model.Mutation) (session.Result, error)
}

// Config holds configuration for WebSocket connections
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConfig returns default WebSocket configuration
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// CORS is enforced by the router; tokens authenticate the upgrade
		CheckOrigin: func(r *http.Request) bool { return true },
	}
}

// ClientMessage is a mutation sent by the client. ID is echoed on the reply.
type ClientMessage struct {
	ID     string `json:"id,omitempty"`
	Type   string `json:"type"`
	Choice *int   `json:"choice,omitempty"`
}

// Reply answers one ClientMessage
type Reply struct {
	Type   string                   `json:"type"`
	ID     string                   `json:"id,omitempty"`
	Result *response.MutationResult `json:"result,omitempty"`
	Error  *apierr.APIError         `json:"error,omitempty"`
}

// Stats summarises open connections
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveGames      int            `json:"active_games"`
	GameConnections  map[string]int `json:"game_connections"`
}

// Manager manages WebSocket connections per game
type Manager struct {
	connections map[model.GameID]map[*Connection]bool
	mu          sync.RWMutex

	upgrader   websocket.Upgrader
	config     Config
	subscriber feed.Subscriber
	applier    Applier
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// Connection is one client's WebSocket
type Connection struct {
	ID       string
	PlayerID model.PlayerID
	GameID   model.GameID

	conn        *websocket.Conn
	send        chan []byte
	manager     *Manager
	connectedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a new WebSocket connection manager
func NewManager(cfg Config, sub feed.Subscriber, applier Applier, logger *slog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		connections: make(map[model.GameID]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		config:     cfg,
		subscriber: sub,
		applier:    applier,
		logger:     logger.With(slog.String("component", "ws")),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Serve upgrades the request and streams gameID's events to playerID
func (m *Manager) Serve(w http.ResponseWriter, r *http.Request, gameID model.GameID, playerID model.PlayerID) error {
	if m.ctx.Err() != nil {
		return ErrClosed
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("websocket upgrade failed", slog.Any("error", err))
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	ctx, cancel := context.WithCancel(m.ctx)
	c := &Connection{
		ID:          uuid.New().String(),
		PlayerID:    playerID,
		GameID:      gameID,
		conn:        conn,
		send:        make(chan []byte, 256),
		manager:     m,
		connectedAt: time.Now(),
		ctx:         ctx,
		cancel:      cancel,
	}

	sub, err := m.subscriber.Subscribe(ctx, gameID)
	if err != nil {
		cancel()
		_ = conn.Close()
		return fmt.Errorf("subscribe to game feed: %w", err)
	}

	m.register(c)
	go c.writePump(sub)
	go c.readPump()
	return nil
}

func (m *Manager) register(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connections[c.GameID] == nil {
		m.connections[c.GameID] = make(map[*Connection]bool)
	}
	m.connections[c.GameID][c] = true

	m.logger.Info("websocket connection established",
		slog.String("connection_id", c.ID),
		slog.String("player_id", string(c.PlayerID)),
		slog.String("game_id", string(c.GameID)),
		slog.Int("game_connections", len(m.connections[c.GameID])))
}

func (m *Manager) unregister(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns, ok := m.connections[c.GameID]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(m.connections, c.GameID)
	}

	m.logger.Info("websocket connection closed",
		slog.String("connection_id", c.ID),
		slog.String("player_id", string(c.PlayerID)),
		slog.String("game_id", string(c.GameID)),
		slog.Duration("connection_duration", time.Since(c.connectedAt)))
}

// Stats returns statistics about open connections
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{GameConnections: make(map[string]int)}
	for gameID, conns := range m.connections {
		stats.TotalConnections += len(conns)
		stats.GameConnections[string(gameID)] = len(conns)
	}
	stats.ActiveGames = len(m.connections)
	return stats
}

// Close disconnects every client and refuses new ones
func (m *Manager) Close() {
	m.cancel()

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, conns := range m.connections {
		for c := range conns {
			_ = c.conn.Close()
		}
	}
}

// writePump owns every write to the socket: feed events, replies and pings
func (c *Connection) writePump(sub *feed.Subscription) {
	cfg := c.manager.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		sub.Close()
		c.cancel()
		_ = c.conn.Close()
		c.manager.unregister(c)
	}()

	var tracker response.EventTracker
	for {
		select {
		case change, ok := <-sub.C:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"))
				return
			}
			for _, ev := range tracker.Events(change) {
				if err := c.writeJSON(ev); err != nil {
					return
				}
			}

		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logError("websocket write failed", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logError("websocket ping failed", err)
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		c.logError("websocket encode failed", err)
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logError("websocket write failed", err)
		return err
	}
	return nil
}

// readPump reads client mutations until the socket closes
func (c *Connection) readPump() {
	cfg := c.manager.config
	defer func() {
		c.cancel()
		c.manager.unregister(c)
	}()

	c.conn.SetReadLimit(cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logError("unexpected websocket close", err)
			}
			return
		}
		c.handleClientMessage(message)
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	}
}

func (c *Connection) handleClientMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.reply(Reply{Type: MessageError, Error: errorOf(apierr.NewInvalidRequestError("Invalid JSON message"))})
		return
	}

	choice := -1
	if msg.Choice != nil {
		choice = *msg.Choice
	}
	mut, err := model.ParseMutation(model.MutationKind(msg.Type), choice)
	if err != nil {
		c.reply(Reply{Type: MessageError, ID: msg.ID, Error: errorOf(err)})
		return
	}

	result, err := c.manager.applier.Apply(c.ctx, c.GameID, c.PlayerID, mut)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.manager.logger.Debug("websocket mutation rejected",
				slog.String("connection_id", c.ID),
				slog.String("type", msg.Type),
				slog.Any("error", err))
		}
		c.reply(Reply{Type: MessageError, ID: msg.ID, Error: errorOf(err)})
		return
	}
	out := response.MutationResultFromSession(result)
	c.reply(Reply{Type: MessageResult, ID: msg.ID, Result: &out})
}

func (c *Connection) reply(r Reply) {
	data, err := json.Marshal(r)
	if err != nil {
		c.logError("websocket encode failed", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	default:
		c.manager.logger.Warn("websocket reply dropped - send buffer full",
			slog.String("connection_id", c.ID))
	}
}

func (c *Connection) logError(msg string, err error) {
	c.manager.logger.Error(msg,
		slog.String("connection_id", c.ID),
		slog.String("player_id", string(c.PlayerID)),
		slog.Any("error", err))
}

func errorOf(err error) *apierr.APIError {
	_, apiErr := apierr.FromError(err)
	return &apiErr
}
