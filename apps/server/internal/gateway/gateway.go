package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"crash-lite/crash"

	"crash-lite/apps/server/internal/auth"
	"crash-lite/apps/server/internal/scheduler"
	"crash-lite/apps/server/internal/wallet"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // TODO: Restrict in production
	},
}

// Connection represents one WebSocket client.
type Connection struct {
	ID       string
	UserID   uint64
	Conn     *websocket.Conn
	Send     chan []byte
	Gateway  *Gateway
	LastPing time.Time
}

// Gateway owns the WebSocket connections and fans scheduler frames out to
// them. A user may hold several connections (tabs); every one receives the
// user-targeted frames.
type Gateway struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	userConns   map[uint64]map[string]*Connection
	nextConnID  uint64

	auth      auth.Service
	scheduler *scheduler.Scheduler
}

func New(authService auth.Service) *Gateway {
	return &Gateway{
		connections: make(map[string]*Connection),
		userConns:   make(map[uint64]map[string]*Connection),
		auth:        authService,
	}
}

// SetScheduler wires the round scheduler after construction; the scheduler
// needs the gateway's push callbacks first.
func (g *Gateway) SetScheduler(s *scheduler.Scheduler) {
	g.scheduler = s
}

// welcomeFrame is the first frame of every connection. It carries the
// resolved identity and, for fresh guests, the token to persist.
type welcomeFrame struct {
	Type         string `json:"type"`
	UserID       uint64 `json:"user_id"`
	SessionToken string `json:"session_token"`
	Guest        bool   `json:"guest"`
}

// HandleWebSocket upgrades the connection and resolves its identity from
// the token query parameter. An invalid or missing token degrades to a
// fresh guest session rather than a rejection.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Gateway] Upgrade error: %v", err)
		return
	}

	token := r.URL.Query().Get("token")
	userID, _, ok := g.auth.ResolveSession(token)
	guest := false
	if !ok {
		userID, token, _ = g.auth.Guest(token)
		guest = true
		if userID == 0 {
			log.Printf("[Gateway] guest session failed, dropping connection")
			_ = conn.Close()
			return
		}
	}

	g.mu.Lock()
	g.nextConnID++
	connID := fmt.Sprintf("conn_%d", g.nextConnID)

	c := &Connection{
		ID:       connID,
		UserID:   userID,
		Conn:     conn,
		Send:     make(chan []byte, 256),
		Gateway:  g,
		LastPing: time.Now(),
	}
	g.connections[connID] = c
	if g.userConns[userID] == nil {
		g.userConns[userID] = make(map[string]*Connection)
	}
	g.userConns[userID][connID] = c
	total := len(g.connections)
	g.mu.Unlock()

	log.Printf("[Gateway] Client connected: %s (userID=%d, guest=%v), total: %d", connID, userID, guest, total)

	go c.readPump()
	go c.writePump()

	c.sendJSON(welcomeFrame{
		Type:         "welcome",
		UserID:       userID,
		SessionToken: token,
		Guest:        guest,
	})
	if g.scheduler != nil {
		c.send(g.scheduler.SnapshotFrame(userID))
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.Gateway.removeConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(65536)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		c.LastPing = time.Now()
		return nil
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Gateway] Read error: %v", err)
			}
			break
		}

		if messageType == websocket.TextMessage {
			c.handleMessage(message)
		}
	}
}

func (c *Connection) handleMessage(data []byte) {
	var env scheduler.ClientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("[Gateway] Failed to unmarshal from user %d: %v", c.UserID, err)
		c.sendError("bad_message", "invalid message format")
		return
	}

	if c.Gateway.scheduler == nil {
		c.sendError("unavailable", "game not ready")
		return
	}

	switch env.Type {
	case scheduler.ClientPlaceBet:
		c.handlePlaceBet(env)
	case scheduler.ClientCashOut:
		c.handleCashOut()
	case scheduler.ClientSnapshot:
		c.send(c.Gateway.scheduler.SnapshotFrame(c.UserID))
	default:
		log.Printf("[Gateway] Unknown message type %q from user %d", env.Type, c.UserID)
		c.sendError("bad_message", "unknown message type")
	}
}

func (c *Connection) handlePlaceBet(env scheduler.ClientEnvelope) {
	reply := c.Gateway.scheduler.PlaceBet(c.UserID, env.Amount, env.AutoCashout)
	if reply.Err != nil {
		c.sendError(errorCode(reply.Err), reply.Err.Error())
	}
	// Success frames come from the scheduler push path.
}

func (c *Connection) handleCashOut() {
	reply := c.Gateway.scheduler.CashOut(c.UserID)
	if reply.Err != nil {
		c.sendError(errorCode(reply.Err), reply.Err.Error())
	}
}

func errorCode(err error) string {
	switch {
	case crash.IsValidation(err):
		return "invalid_request"
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "rejected"
	}
}

func (c *Connection) sendError(code, msg string) {
	c.sendJSON(scheduler.ServerEnvelope{
		Type: scheduler.MsgError,
		TsMs: time.Now().UnixMilli(),
		Error: &scheduler.ErrorPayload{
			Code:    code,
			Message: msg,
		},
	})
}

func (c *Connection) sendJSON(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[Gateway] marshal failed: %v", err)
		return
	}
	c.send(data)
}

func (c *Connection) send(data []byte) {
	if data == nil {
		return
	}
	select {
	case c.Send <- data:
	default:
		// Drop if buffer full
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) removeConnection(c *Connection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.connections, c.ID)
	if conns := g.userConns[c.UserID]; conns != nil {
		delete(conns, c.ID)
		if len(conns) == 0 {
			delete(g.userConns, c.UserID)
		}
	}
	log.Printf("[Gateway] Client disconnected: %s, total: %d", c.ID, len(g.connections))
}

// SendTo pushes a frame to every connection of one user.
func (g *Gateway) SendTo(userID uint64, data []byte) {
	if data == nil {
		return
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, c := range g.userConns[userID] {
		select {
		case c.Send <- data:
		default:
			// Drop if buffer full
		}
	}
}

// Broadcast pushes a frame to all connections.
func (g *Gateway) Broadcast(data []byte) {
	if data == nil {
		return
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, c := range g.connections {
		select {
		case c.Send <- data:
		default:
			// Drop message if buffer full
		}
	}
}
