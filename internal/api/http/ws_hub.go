package apihttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"

	"github.com/PalomitasTime/cinema/internal/domain"
)

const (
	wsSendQueue    = 64
	wsReadLimit    = 4 << 10
	wsPingInterval = 30 * time.Second
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsMaxResolves  = 2
)

type wsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type viewerState string

const (
	stateConnected    viewerState = "connected"
	stateResolving    viewerState = "resolving"
	statePlaying      viewerState = "playing"
	stateFailed       viewerState = "failed"
	stateDisconnected viewerState = "disconnected"
)

// viewerConn is one signaling connection. Its context ends when the
// connection closes so pending resolutions stop waiting. At most
// wsMaxResolves resolutions run at once per connection.
type viewerConn struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	resolves *semaphore.Weighted
	ctx      context.Context
	cancel   context.CancelFunc

	mu        sync.Mutex
	closed    bool
	state     viewerState
	torrentID domain.TorrentID
}

func newViewerConn(ctx context.Context, id string, conn *websocket.Conn) *viewerConn {
	ctx, cancel := context.WithCancel(ctx)
	return &viewerConn{
		id:       id,
		conn:     conn,
		send:     make(chan []byte, wsSendQueue),
		resolves: semaphore.NewWeighted(wsMaxResolves),
		ctx:      ctx,
		cancel:   cancel,
		state:    stateConnected,
	}
}

// enqueue reports false when the connection is closed or its queue is full.
func (c *viewerConn) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *viewerConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.state = stateDisconnected
	close(c.send)
	c.cancel()
}

func (c *viewerConn) setState(state viewerState, id domain.TorrentID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.state = state
	if id != "" {
		c.torrentID = id
	}
}

func (c *viewerConn) currentState() viewerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// currentTorrent is the last torrent this viewer was served.
func (c *viewerConn) currentTorrent() domain.TorrentID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.torrentID
}

// acquireResolve reserves a resolution slot without blocking.
func (c *viewerConn) acquireResolve() bool {
	return c.resolves.TryAcquire(1)
}

func (c *viewerConn) releaseResolve() {
	c.resolves.Release(1)
}

// wsHub is the registry of open viewer connections.
type wsHub struct {
	mu      sync.RWMutex
	clients map[string]*viewerConn
	closed  bool
	logger  *slog.Logger
}

func newWSHub(logger *slog.Logger) *wsHub {
	return &wsHub{
		clients: make(map[string]*viewerConn),
		logger:  logger,
	}
}

func (h *wsHub) register(c *viewerConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	h.logger.Debug("ws client connected", slog.String("connId", c.id), slog.Int("total", len(h.clients)))
	return true
}

// unregister reports whether c was still registered.
func (h *wsHub) unregister(c *viewerConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return false
	}
	delete(h.clients, c.id)
	h.logger.Debug("ws client disconnected", slog.String("connId", c.id), slog.Int("total", len(h.clients)))
	return true
}

func (h *wsHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast marshals once and queues the frame on every connection. Slow
// clients are closed; their read loop unregisters them.
func (h *wsHub) Broadcast(msgType string, data interface{}) {
	payload, err := json.Marshal(wsMessage{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error("ws marshal failed", slog.String("error", err.Error()))
		return
	}

	h.mu.RLock()
	clients := make([]*viewerConn, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.enqueue(payload) {
			h.logger.Debug("ws client dropped", slog.String("connId", c.id))
			c.close()
		}
	}
}

// Send queues a frame for a single connection.
func (h *wsHub) Send(c *viewerConn, msgType string, data interface{}) {
	payload, err := json.Marshal(wsMessage{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error("ws marshal failed", slog.String("error", err.Error()))
		return
	}
	if !c.enqueue(payload) {
		h.logger.Debug("ws frame discarded", slog.String("connId", c.id), slog.String("type", msgType))
	}
}

// Close stops accepting connections and disconnects every client.
func (h *wsHub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*viewerConn, 0, len(h.clients))
	for id, c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, id)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if c.conn != nil {
			_ = c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(2*time.Second),
			)
		}
		c.close()
	}
	h.logger.Debug("ws hub stopped, all clients disconnected")
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (c *viewerConn) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
