package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/metrics"
)

// Wire envelope shared by the hub and the websocket store client.
//
// Client to server: put, get, subscribe, unsubscribe.
// Server to client: result, change, error.
type wireMsg struct {
	Type   string          `json:"type"`
	Seq    uint64          `json:"seq,omitempty"`
	Path   string          `json:"path,omitempty"`
	Prefix string          `json:"prefix,omitempty"`
	SubID  uint64          `json:"sub_id,omitempty"`
	Kind   string          `json:"kind,omitempty"`
	Doc    json.RawMessage `json:"doc,omitempty"`
	Found  bool            `json:"found,omitempty"`
	Error  string          `json:"error,omitempty"`
}

const (
	hubWriteTimeout = 5 * time.Second
	hubSendBuffer   = 256
)

// HubConfig bounds one hub connection.
type HubConfig struct {
	ReadLimit  int64
	PingPeriod time.Duration
}

func DefaultHubConfig() HubConfig {
	return HubConfig{ReadLimit: 1 << 20, PingPeriod: 30 * time.Second}
}

// Hub serves the document store over websocket: one connection multiplexes
// puts, gets and any number of prefix subscriptions.
type Hub struct {
	store    core.SignalStore
	cfg      HubConfig
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

func NewHub(store core.SignalStore, cfg HubConfig, m *metrics.Metrics) *Hub {
	return &Hub{
		store:   store,
		cfg:     cfg,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

type hubConn struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	nextSub uint64
	subs    map[uint64]func()
}

func (c *hubConn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// trySend queues a frame without ever blocking the caller. A client too slow
// to drain its queue loses the connection, not the hub.
func (c *hubConn) trySend(data []byte) bool {
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		log.Warn().Str("module", "hub").Msg("send queue full, dropping client")
		c.close()
		return false
	}
}

func (c *hubConn) sendMsg(msg wireMsg) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("marshal frame")
		return
	}
	c.trySend(data)
}

// Handle upgrades one websocket client and serves it until disconnect.
func (h *Hub) Handle(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("upgrade failed")
		return
	}
	client := &hubConn{
		conn: ws,
		send: make(chan []byte, hubSendBuffer),
		done: make(chan struct{}),
		subs: make(map[uint64]func()),
	}
	token := c.GetString("client_token")
	h.metrics.Clients.Inc()
	log.Info().Str("module", "hub").
		Str("remote", ws.RemoteAddr().String()).
		Str("client", token).
		Msg("client connected")

	go h.writePump(client)
	h.readPump(client)

	client.close()
	client.mu.Lock()
	for id, stop := range client.subs {
		stop()
		delete(client.subs, id)
		h.metrics.Subscriptions.Dec()
	}
	client.mu.Unlock()
	h.metrics.Clients.Dec()
	log.Info().Str("module", "hub").
		Str("remote", ws.RemoteAddr().String()).
		Str("client", token).
		Msg("client disconnected")
}

func (h *Hub) writePump(c *hubConn) {
	ticker := time.NewTicker(h.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "hub").Msg("writePump set deadline")
				c.close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "hub").Msg("writePump write error")
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (h *Hub) readPump(c *hubConn) {
	c.conn.SetReadLimit(h.cfg.ReadLimit)
	for {
		select {
		case <-c.done:
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "hub").Msg("readPump read error")
				}
				return
			}
			h.handleFrame(c, data)
		}
	}
}

func (h *Hub) handleFrame(c *hubConn, data []byte) {
	var msg wireMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("bad json frame")
		return
	}

	switch msg.Type {
	case "put":
		h.handlePut(c, msg)
	case "get":
		h.handleGet(c, msg)
	case "subscribe":
		h.handleSubscribe(c, msg)
	case "unsubscribe":
		h.handleUnsubscribe(c, msg)
	default:
		c.sendMsg(wireMsg{Type: "error", Seq: msg.Seq, Error: "unknown frame type " + msg.Type})
	}
}

func (h *Hub) handlePut(c *hubConn, msg wireMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), hubWriteTimeout)
	defer cancel()
	if err := h.store.Put(ctx, msg.Path, msg.Doc); err != nil {
		c.sendMsg(wireMsg{Type: "error", Seq: msg.Seq, Error: err.Error()})
		return
	}
	h.metrics.StorePuts.WithLabelValues(recordKind(msg.Path)).Inc()
	c.sendMsg(wireMsg{Type: "result", Seq: msg.Seq})
}

func (h *Hub) handleGet(c *hubConn, msg wireMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), hubWriteTimeout)
	defer cancel()
	doc, found, err := h.store.Get(ctx, msg.Path)
	if err != nil {
		c.sendMsg(wireMsg{Type: "error", Seq: msg.Seq, Error: err.Error()})
		return
	}
	c.sendMsg(wireMsg{Type: "result", Seq: msg.Seq, Doc: doc, Found: found})
}

func (h *Hub) handleSubscribe(c *hubConn, msg wireMsg) {
	changes, stop, err := h.store.Subscribe(msg.Prefix)
	if err != nil {
		c.sendMsg(wireMsg{Type: "error", Seq: msg.Seq, Error: err.Error()})
		return
	}

	subDone := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			stop()
			close(subDone)
		})
	}

	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs[id] = cancel
	c.mu.Unlock()
	h.metrics.Subscriptions.Inc()

	// Result before the forwarder starts, so the client sees its sub id
	// before the first replayed change.
	c.sendMsg(wireMsg{Type: "result", Seq: msg.Seq, SubID: id})

	go func() {
		for {
			select {
			case <-c.done:
				return
			case <-subDone:
				return
			case change, ok := <-changes:
				if !ok {
					return
				}
				c.sendMsg(wireMsg{
					Type:  "change",
					SubID: id,
					Kind:  change.Kind.String(),
					Path:  change.Path,
					Doc:   change.Doc,
				})
			}
		}
	}()
}

func (h *Hub) handleUnsubscribe(c *hubConn, msg wireMsg) {
	c.mu.Lock()
	stop, ok := c.subs[msg.SubID]
	delete(c.subs, msg.SubID)
	c.mu.Unlock()
	if ok {
		stop()
		h.metrics.Subscriptions.Dec()
	}
	c.sendMsg(wireMsg{Type: "result", Seq: msg.Seq})
}

func recordKind(path string) string {
	switch kind, _ := parsePath(path); kind {
	case pathSession:
		return "session"
	case pathOffer:
		return "offer"
	case pathAnswer:
		return "answer"
	case pathCandidate:
		return "candidate"
	default:
		return "other"
	}
}
