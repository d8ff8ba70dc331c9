package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ngirimana/finindex/internal/domain"
	"github.com/ngirimana/finindex/internal/session"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsSendBuffer = 4
)

// sessionState is what views learn about the signed-in user. The token is
// never sent.
type sessionState struct {
	SignedIn bool         `json:"signedIn"`
	User     *domain.User `json:"user,omitempty"`
}

func stateOf(sess session.Session, ok bool) sessionState {
	if !ok {
		return sessionState{}
	}
	user := sess.User
	return sessionState{SignedIn: true, User: &user}
}

// SessionSource is the part of the session store the hub needs.
type SessionSource interface {
	Get() (session.Session, bool)
	Subscribe(fn session.Listener) func()
}

// Hub pushes session changes to every connected view.
type Hub struct {
	logger   *slog.Logger
	sessions SessionSource
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
	unsub   func()
}

type wsClient struct {
	conn *websocket.Conn
	send chan sessionState
}

// NewHub subscribes to sessions. Close unsubscribes and drops every client.
func NewHub(logger *slog.Logger, sessions SessionSource, origins []string) *Hub {
	h := &Hub{
		logger:   logger.With("component", "ws"),
		sessions: sessions,
		clients:  make(map[*wsClient]struct{}),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: originChecker(origins)}
	h.unsub = sessions.Subscribe(func(sess session.Session, ok bool) {
		h.broadcast(stateOf(sess, ok))
	})
	return h
}

func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := allowed["*"]; ok {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

// Clients returns the number of open connections.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(state sessionState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- state:
		default:
			h.logger.Warn("dropping slow websocket client")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Serve upgrades the request and streams session states until the peer goes
// away. The current state is sent first.
func (h *Hub) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := &wsClient{conn: conn, send: make(chan sessionState, wsSendBuffer)}
	client.send <- stateOf(h.sessions.Get())

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(client)
	h.readLoop(client)
}

// readLoop only watches for the peer closing; views never send anything.
func (h *Hub) readLoop(c *wsClient) {
	defer h.remove(c)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket closed", "error", err)
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case state, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(state); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close stops listening for session changes and disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	if h.unsub != nil {
		h.unsub()
	}
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
