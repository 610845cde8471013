package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley/internal/audience"
	"github.com/parleyhq/parley/internal/events"
	"github.com/parleyhq/parley/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	pongWait       = 75 * time.Second
	clientSendSize = 256
)

// Hub fans emitted debate events out to connected WebSocket clients. Each
// client has its own buffered send channel and write pump; a slow client
// loses events rather than stalling the rest.
type Hub struct {
	srv     *Server
	mu      sync.Mutex
	clients map[string]*wsClient
	closed  bool
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func newHub(srv *Server) *Hub {
	return &Hub{srv: srv, clients: make(map[string]*wsClient)}
}

// Sink adapts the hub to the event emitter's drain loop.
func (h *Hub) Sink() events.Sink {
	return func(ev events.Event) { h.Broadcast(ev) }
}

// Broadcast sends one event to every connected client, at most once each.
func (h *Hub) Broadcast(ev events.Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		logging.Error("failed to encode event", map[string]interface{}{"error": err.Error()})
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, client := range h.clients {
		select {
		case client.send <- raw:
		default:
			// Buffer full: drop for this client, keep the stream live.
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*wsClient)
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) add(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	return true
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.send)
		c.conn.Close()
	})
}

func newClientID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "client-unknown"
	}
	return hex.EncodeToString(buf)
}

// downstreamMessage is what clients send to the server.
type downstreamMessage struct {
	Type    string                 `json:"type"`
	LoopID  string                 `json:"loop_id"`
	Payload map[string]interface{} `json:"payload"`
}

func (s *Server) wsUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// Non-browser clients send no Origin.
			return origin == "" || s.originAllowed(origin)
		},
	}
}

// handleWebSocket upgrades the connection, replays the active-loop
// snapshot, and then serves audience traffic until the client leaves.
func (s *Server) handleWebSocket(c *gin.Context) {
	upgrader := s.wsUpgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.LogWebSocketEvent("upgrade_failed", "", "", map[string]interface{}{"error": err.Error()})
		return
	}

	client := &wsClient{
		id:   newClientID(),
		conn: conn,
		send: make(chan []byte, clientSendSize),
	}
	if !s.hub.add(client) {
		conn.Close()
		return
	}
	conn.SetReadLimit(s.config.WSMaxMessageSize)
	logging.LogWebSocketEvent("connected", "", client.id, nil)

	go client.writePump()
	s.sendSnapshot(client)
	s.readPump(client)
}

// sendSnapshot delivers loop_list plus a sync event per active debate so a
// late joiner can render current state.
func (s *Server) sendSnapshot(client *wsClient) {
	active := s.registry.Active()
	s.sendEvent(client, events.Event{
		Kind:      events.KindLoopList,
		Data:      map[string]interface{}{"loops": active},
		Timestamp: time.Now(),
	})
	for _, loop := range active {
		s.sendEvent(client, events.Event{
			Kind:   events.KindSync,
			LoopID: loop.ID,
			Data: map[string]interface{}{
				"task":       loop.Task,
				"agents":     loop.Agents,
				"started_at": loop.StartedAt,
			},
			Timestamp: time.Now(),
		})
	}
}

func (s *Server) sendEvent(client *wsClient, ev events.Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case client.send <- raw:
	default:
	}
}

func (s *Server) sendReply(client *wsClient, reply map[string]interface{}) {
	raw, err := json.Marshal(reply)
	if err != nil {
		return
	}
	select {
	case client.send <- raw:
	default:
	}
}

func (s *Server) readPump(client *wsClient) {
	defer func() {
		s.hub.remove(client)
		s.limiter.Forget(client.id)
		client.close()
		logging.LogWebSocketEvent("disconnected", "", client.id, nil)
	}()

	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		var msg downstreamMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendReply(client, map[string]interface{}{"type": "error", "error": "malformed message"})
			continue
		}
		s.handleDownstream(client, msg, len(raw))
	}
}

func (s *Server) handleDownstream(client *wsClient, msg downstreamMessage, rawLen int) {
	switch msg.Type {
	case "get_loops":
		s.sendEvent(client, events.Event{
			Kind:      events.KindLoopList,
			Data:      map[string]interface{}{"loops": s.registry.Active()},
			Timestamp: time.Now(),
		})

	case "user_vote", "user_suggestion":
		if !s.limiter.Allow(client.id) {
			s.sendReply(client, map[string]interface{}{"type": "error", "error": "rate limit exceeded"})
			return
		}
		if msg.Payload == nil || rawLen > s.config.MaxPayloadBytes {
			s.sendReply(client, map[string]interface{}{"type": "error", "error": "payload must be an object within the size limit"})
			return
		}
		if msg.LoopID == "" || !s.registry.Contains(msg.LoopID) {
			s.sendReply(client, map[string]interface{}{"type": "error", "error": "unknown loop_id"})
			return
		}

		kind := audience.KindVote
		eventKind := events.KindUserVote
		if msg.Type == "user_suggestion" {
			kind = audience.KindSuggestion
			eventKind = events.KindUserSuggestion
		}
		s.inbox.Put(audience.Message{
			Kind:      kind,
			LoopID:    msg.LoopID,
			UserID:    client.id,
			Payload:   msg.Payload,
			Timestamp: time.Now(),
		})
		logging.LogAudienceEvent(msg.Type, msg.LoopID, map[string]interface{}{"client": client.id})

		s.sendReply(client, map[string]interface{}{"type": "ack", "of": msg.Type, "loop_id": msg.LoopID})
		summary := s.inbox.Summary(msg.LoopID)
		s.hub.Broadcast(events.Event{
			Kind:      eventKind,
			LoopID:    msg.LoopID,
			Data:      map[string]interface{}{"client": client.id},
			Timestamp: time.Now(),
		})
		s.hub.Broadcast(events.Event{
			Kind:      events.KindAudienceMetrics,
			LoopID:    msg.LoopID,
			Data:      map[string]interface{}{"summary": summary},
			Timestamp: time.Now(),
		})

	default:
		s.sendReply(client, map[string]interface{}{"type": "error", "error": "unknown message type"})
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
