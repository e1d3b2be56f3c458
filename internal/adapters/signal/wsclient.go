package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/core"
)

var ErrStoreClosed = errors.New("store connection closed")

const dialTimeout = 10 * time.Second

type wsSub struct {
	ch   chan core.Change
	done chan struct{}
	once sync.Once
}

func (s *wsSub) stop() {
	s.once.Do(func() { close(s.done) })
}

// WSStore is the SignalStore a peer uses against a remote hub. One websocket
// connection carries request/response pairs matched by sequence number plus
// any number of change streams matched by subscription id.
type WSStore struct {
	conn    *websocket.Conn
	token   string
	writeMu sync.Mutex

	mu      sync.Mutex
	seq     uint64
	pending map[uint64]chan wireMsg
	subs    map[uint64]*wsSub
	// orphans holds change frames that outran their subscribe result: the
	// server streams replayed changes right after the result frame, and the
	// read loop can process them before Subscribe has registered the sub.
	orphans map[uint64][]core.Change
	closed  bool
	done    chan struct{}
}

// DialStore connects to a hub, e.g. ws://host:8080/api/ws/store. Each dial
// presents a fresh client token in the ct cookie; the hub's token middleware
// ties the connection's log lines and records back to it.
func DialStore(ctx context.Context, url string) (*WSStore, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	token := uuid.NewString()
	header := http.Header{}
	header.Set("Cookie", (&http.Cookie{Name: "ct", Value: token}).String())
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial store %s: %w", url, err)
	}
	s := &WSStore{
		conn:    conn,
		token:   token,
		pending: make(map[uint64]chan wireMsg),
		subs:    make(map[uint64]*wsSub),
		orphans: make(map[uint64][]core.Change),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	log.Info().Str("module", "store").Str("url", url).Str("client", token).Msg("connected")
	return s, nil
}

// ClientToken is the identity this store presented on dial.
func (s *WSStore) ClientToken() string { return s.token }

// Close tears the connection down and fails every in-flight request and
// subscription.
func (s *WSStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	for seq, ch := range s.pending {
		close(ch)
		delete(s.pending, seq)
	}
	for id, sub := range s.subs {
		sub.stop()
		delete(s.subs, id)
	}
	s.orphans = nil
	s.mu.Unlock()
	return s.conn.Close()
}

func (s *WSStore) readLoop() {
	defer func() { _ = s.Close() }()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.mu.Lock()
				closed := s.closed
				s.mu.Unlock()
				if !closed {
					log.Warn().Err(err).Str("module", "store").Msg("read error")
				}
			}
			return
		}
		var msg wireMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Error().Err(err).Str("module", "store").Msg("bad frame")
			continue
		}
		switch msg.Type {
		case "result", "error":
			s.mu.Lock()
			ch, ok := s.pending[msg.Seq]
			delete(s.pending, msg.Seq)
			s.mu.Unlock()
			if ok {
				ch <- msg
			}
		case "change":
			s.deliverChange(msg)
		default:
			log.Warn().Str("module", "store").Str("type", msg.Type).Msg("unknown frame")
		}
	}
}

func (s *WSStore) deliverChange(msg wireMsg) {
	change := core.Change{Kind: parseChangeKind(msg.Kind), Path: msg.Path, Doc: msg.Doc}
	s.mu.Lock()
	sub, ok := s.subs[msg.SubID]
	if !ok {
		if !s.closed && len(s.orphans[msg.SubID]) < subBuffer {
			s.orphans[msg.SubID] = append(s.orphans[msg.SubID], change)
		}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	select {
	case sub.ch <- change:
	case <-sub.done:
	case <-s.done:
	}
}

// roundTrip sends one request and waits for its matching reply.
func (s *WSStore) roundTrip(ctx context.Context, msg wireMsg) (wireMsg, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return wireMsg{}, ErrStoreClosed
	}
	s.seq++
	msg.Seq = s.seq
	reply := make(chan wireMsg, 1)
	s.pending[msg.Seq] = reply
	s.mu.Unlock()

	if err := s.writeMsg(msg); err != nil {
		s.mu.Lock()
		delete(s.pending, msg.Seq)
		s.mu.Unlock()
		return wireMsg{}, err
	}

	select {
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, msg.Seq)
		s.mu.Unlock()
		return wireMsg{}, ctx.Err()
	case resp, ok := <-reply:
		if !ok {
			return wireMsg{}, ErrStoreClosed
		}
		if resp.Type == "error" {
			return wireMsg{}, fmt.Errorf("store %s: %s", msg.Type, resp.Error)
		}
		return resp, nil
	}
}

func (s *WSStore) writeMsg(msg wireMsg) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (s *WSStore) Put(ctx context.Context, path string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	_, err = s.roundTrip(ctx, wireMsg{Type: "put", Path: path, Doc: raw})
	return err
}

func (s *WSStore) Get(ctx context.Context, path string) (json.RawMessage, bool, error) {
	resp, err := s.roundTrip(ctx, wireMsg{Type: "get", Path: path})
	if err != nil {
		return nil, false, err
	}
	return resp.Doc, resp.Found, nil
}

func (s *WSStore) Subscribe(prefix string) (<-chan core.Change, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), hubWriteTimeout)
	defer cancel()
	resp, err := s.roundTrip(ctx, wireMsg{Type: "subscribe", Prefix: prefix})
	if err != nil {
		return nil, nil, err
	}

	sub := &wsSub{ch: make(chan core.Change, subBuffer), done: make(chan struct{})}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, ErrStoreClosed
	}
	s.subs[resp.SubID] = sub
	// Flush the replay that arrived before registration. The sends cannot
	// block: the channel is empty and the orphan buffer is capped at its
	// capacity. Holding the lock keeps the read loop from interleaving newer
	// changes ahead of the replayed ones.
	for _, change := range s.orphans[resp.SubID] {
		sub.ch <- change
	}
	delete(s.orphans, resp.SubID)
	s.mu.Unlock()

	stop := func() {
		sub.stop()
		s.mu.Lock()
		delete(s.subs, resp.SubID)
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), hubWriteTimeout)
		defer cancel()
		_, _ = s.roundTrip(ctx, wireMsg{Type: "unsubscribe", SubID: resp.SubID})
	}
	return sub.ch, stop, nil
}

func parseChangeKind(s string) core.ChangeKind {
	switch s {
	case "modified":
		return core.ChangeModified
	case "removed":
		return core.ChangeRemoved
	default:
		return core.ChangeAdded
	}
}
