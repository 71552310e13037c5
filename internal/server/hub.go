package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"withvoice/internal/domain"
)

// Event types sent on the websocket feed.
const (
	EventRecordingState = "recording.state"
	EventRecordingLevel = "recording.level"
	EventPlaybackState  = "playback.state"
	EventMaxDuration    = "recording.max_duration"
	EventFailed         = "recording.failed"
	EventSaved          = "recording.saved"
)

const (
	clientBuffer = 64
	writeTimeout = 5 * time.Second
)

// Envelope is the JSON frame written to every websocket client.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type savedPayload struct {
	Title           string               `json:"title"`
	Category        domain.VoiceCategory `json:"category"`
	MimeType        string               `json:"mimeType"`
	DurationSeconds int                  `json:"durationSeconds"`
	Size            int                  `json:"size"`
}

// Hub fans events out to websocket clients. It also serves as the
// recorder's EventSink.
type Hub struct {
	logger *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{logger: logger.Named("hub"), clients: map[*client]struct{}{}}
}

// Broadcast encodes the envelope once and queues it for every client.
// Clients that cannot keep up are disconnected.
func (h *Hub) Broadcast(env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		h.logger.Warn("failed to encode event", zap.String("type", env.Type), zap.Error(err))
		return
	}

	h.mu.Lock()
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		delete(h.clients, c)
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.logger.Debug("dropping slow websocket client")
		c.close()
	}
}

// Clients reports the number of attached websocket clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) MaxDurationReached() {
	h.Broadcast(Envelope{Type: EventMaxDuration})
}

func (h *Hub) RecordingFailed(err *domain.RecordingError) {
	h.Broadcast(Envelope{Type: EventFailed, Payload: err})
}

func (h *Hub) RecordingSaved(req domain.SaveRequest) {
	h.Broadcast(Envelope{Type: EventSaved, Payload: savedPayload{
		Title:           req.Title,
		Category:        req.Category,
		MimeType:        req.MimeType,
		DurationSeconds: req.DurationSeconds,
		Size:            len(req.AudioBytes),
	}})
}

// attach registers the connection and runs its writer until the client
// goes away. It blocks in the reader, which only watches for close frames.
func (h *Hub) attach(conn *websocket.Conn, initial ...Envelope) {
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	for _, env := range initial {
		if payload, err := json.Marshal(env); err == nil {
			c.send <- payload
		}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go c.writeLoop()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.detach(c)
}

func (h *Hub) detach(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = map[*client]struct{}{}
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

func (c *client) writeLoop() {
	defer c.conn.Close()
	for payload := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
