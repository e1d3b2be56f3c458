package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/core"
)

const subBuffer = 256

type memSub struct {
	prefix string
	ch     chan core.Change
	done   chan struct{}
	once   sync.Once
}

func (s *memSub) stop() {
	s.once.Do(func() { close(s.done) })
}

// MemStore is the reference document store: a flat path-to-document map with
// prefix subscriptions. Subscribers first receive every existing document
// under their prefix in put order, then live changes in the order the puts
// happened.
type MemStore struct {
	mu    sync.Mutex
	docs  map[string]json.RawMessage
	order []string
	subs  []*memSub

	// OnPut, if set, observes every accepted write. Used for metrics.
	OnPut func(path string)
}

func NewMemStore() *MemStore {
	return &MemStore{docs: make(map[string]json.RawMessage)}
}

func (m *MemStore) Put(_ context.Context, path string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	m.mu.Lock()
	kind := core.ChangeAdded
	if _, exists := m.docs[path]; exists {
		kind = core.ChangeModified
	} else {
		m.order = append(m.order, path)
	}
	m.docs[path] = raw
	change := core.Change{Kind: kind, Path: path, Doc: raw}
	subs := make([]*memSub, 0, len(m.subs))
	for _, s := range m.subs {
		if strings.HasPrefix(path, s.prefix) {
			subs = append(subs, s)
		}
	}
	m.mu.Unlock()

	if m.OnPut != nil {
		m.OnPut(path)
	}
	for _, s := range subs {
		select {
		case s.ch <- change:
		case <-s.done:
		}
	}
	return nil
}

func (m *MemStore) Get(_ context.Context, path string) (json.RawMessage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.docs[path]
	return raw, ok, nil
}

func (m *MemStore) Subscribe(prefix string) (<-chan core.Change, func(), error) {
	sub := &memSub{
		prefix: prefix,
		ch:     make(chan core.Change, subBuffer),
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	// Replay under the lock so no concurrent put can slip between the
	// snapshot and the registration.
	for _, path := range m.order {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		select {
		case sub.ch <- core.Change{Kind: core.ChangeAdded, Path: path, Doc: m.docs[path]}:
		default:
			m.mu.Unlock()
			sub.stop()
			return nil, nil, fmt.Errorf("subscribe %s: replay overflow", prefix)
		}
	}
	m.subs = append(m.subs, sub)
	m.mu.Unlock()

	stop := func() {
		sub.stop()
		m.mu.Lock()
		for i, s := range m.subs {
			if s == sub {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
	}
	log.Debug().Str("module", "store").Str("prefix", prefix).Msg("subscribed")
	return sub.ch, stop, nil
}

// SubscriberCount reports the live subscriptions, for metrics.
func (m *MemStore) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
