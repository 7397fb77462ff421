package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/watchsync/roomhub/internal/auth"
	"github.com/watchsync/roomhub/internal/stats"
	"github.com/watchsync/roomhub/internal/types"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// connHandle is one live client socket, owned by the Connection Manager and
// weakly referenced from its room's members set.
type connHandle struct {
	conn     *websocket.Conn
	identity types.Identity
	roomID   string
	room     *Room
	hub      *Hub

	send chan []byte
	stop chan struct{}
	once sync.Once

	mu              sync.Mutex
	lastActivity    time.Time
	awaitingPong    bool
	pingInterval    time.Duration
	activityTimeout time.Duration

	stats stats.StatsProvider
	log   *log.Logger
}

// Manager is the connection manager: it accepts inbound upgrade
// requests, authenticates them, attaches the resulting connHandle to a
// room, and runs the per-connection reader/heartbeat activities.
type Manager struct {
	hub             *Hub
	verifier        *auth.Verifier
	upgrader        websocket.Upgrader
	pingInterval    time.Duration
	activityTimeout time.Duration
	stats           stats.StatsProvider
	log             *log.Logger
}

// DefaultPingInterval and DefaultActivityTimeout are the heartbeat
// constants: a ping every 15s, a hard timeout after 2h of silence.
const (
	DefaultPingInterval    = 15 * time.Second
	DefaultActivityTimeout = 2 * time.Hour
)

func NewManager(hub *Hub, verifier *auth.Verifier, allowedOrigins []string, pingInterval, activityTimeout time.Duration, sp stats.StatsProvider, logger *log.Logger) *Manager {
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}
	if activityTimeout <= 0 {
		activityTimeout = DefaultActivityTimeout
	}

	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}

	return &Manager{
		hub:             hub,
		verifier:        verifier,
		pingInterval:    pingInterval,
		activityTimeout: activityTimeout,
		stats:           sp,
		log:             logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				_, ok := origins[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

// ServeWS handles GET /ws. It parses roomId and token from the query
// string, verifies the token, and on any failure closes without a payload
// rather than upgrading at all.
func (m *Manager) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	token := r.URL.Query().Get("token")
	if roomID == "" || token == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	identity, err := m.verifier.Verify(token)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Printf("ws upgrade for room %q: %v", roomID, err)
		return
	}

	c := &connHandle{
		conn:            conn,
		identity:        identity,
		roomID:          roomID,
		hub:             m.hub,
		send:            make(chan []byte, 256),
		stop:            make(chan struct{}),
		lastActivity:    time.Now(),
		pingInterval:    m.pingInterval,
		activityTimeout: m.activityTimeout,
		stats:           m.stats,
		log:             m.log,
	}

	// EnsureAndJoin, not a separate Ensure followed by a member add: it
	// cancels any pending empty-grace timer and attaches c under the same
	// hub lock, so Hub.expire can't observe the room as empty in between.
	c.room = m.hub.EnsureAndJoin(roomID, Options{}, c)
	if m.stats != nil {
		m.stats.Incr(stats.ActiveConnections)
	}

	go c.writePump()
	go c.readPump()
}

// enqueue appends payload to c's outbound queue without blocking. A full
// queue means c isn't draining fast enough; the frame is dropped and
// logged rather than stalling the broadcaster.
func (c *connHandle) enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		c.log.Printf("send queue full for %s, dropping frame", c.identity.Sub)
		return false
	}
}

func (c *connHandle) markActivity() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.awaitingPong = false
	c.mu.Unlock()
}

// terminate tears c down exactly once: closes the socket, then removes it
// from its room via Hub.leave, which atomically decides whether the room
// is now empty and needs its deletion timer armed.
func (c *connHandle) terminate() {
	c.once.Do(func() {
		close(c.stop)
		c.conn.Close()

		if c.room != nil {
			c.hub.leave(c.room, c)
		}
		if c.stats != nil {
			c.stats.Decr(stats.ActiveConnections)
		}
	})
}

func (c *connHandle) readPump() {
	defer c.terminate()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.markActivity()
		return nil
	})

	for {
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			c.markActivity()
			continue
		}

		c.markActivity()

		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil || probe.Type == "" {
			continue
		}

		for _, d := range route(c, c.room, raw) {
			switch d.mode {
			case deliverToSender:
				c.enqueue(d.payload)
			case deliverToOthers:
				c.room.broadcastExcept(c, d.payload)
			case deliverToAll:
				c.room.broadcastAll(d.payload)
			}
			if c.stats != nil {
				c.stats.Incr(stats.MessagesRelayed)
			}
		}
	}
}

func (c *connHandle) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if !c.heartbeat() {
				return
			}
		case <-c.stop:
			return
		}
	}
}

// heartbeatShouldTerminate implements the first two steps of the
// three-step heartbeat rule as a pure decision, kept separate from the
// socket I/O in heartbeat so it's testable without a live connection:
// terminate on activity timeout, or if the previous ping went unanswered.
func heartbeatShouldTerminate(idle time.Duration, awaitingPong bool, activityTimeout time.Duration) bool {
	return idle > activityTimeout || awaitingPong
}

// heartbeat implements the three-step heartbeat rule: terminate on
// activity timeout, terminate if the previous ping went unanswered,
// otherwise arm awaitingPong and emit both a protocol ping and a JSON one.
func (c *connHandle) heartbeat() bool {
	c.mu.Lock()
	idle := time.Since(c.lastActivity)
	awaiting := c.awaitingPong
	c.mu.Unlock()

	if heartbeatShouldTerminate(idle, awaiting, c.activityTimeout) {
		return false
	}

	c.mu.Lock()
	c.awaitingPong = true
	c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		return false
	}

	payload := mustMarshal(OutboundFrame{Type: "ping", Ts: nowMillis()})
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return false
	}

	return true
}
