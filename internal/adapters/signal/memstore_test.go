package signal

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dkeye/peercall/internal/core"
)

type testDoc struct {
	N int `json:"n"`
}

func recvChange(t *testing.T, ch <-chan core.Change) core.Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no change delivered")
		return core.Change{}
	}
}

func TestMemStore_PutGet(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	ctx := context.Background()

	if _, found, _ := s.Get(ctx, "sessions/x"); found {
		t.Fatal("found a document that was never put")
	}
	if err := s.Put(ctx, "sessions/x", testDoc{N: 1}); err != nil {
		t.Fatal(err)
	}
	raw, found, err := s.Get(ctx, "sessions/x")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	var d testDoc
	if err := json.Unmarshal(raw, &d); err != nil || d.N != 1 {
		t.Fatalf("doc = %s", raw)
	}
}

func TestMemStore_SubscribeReplaysInPutOrder(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	ctx := context.Background()
	paths := []string{"sessions/a", "sessions/a/offers/bob", "sessions/b"}
	for i, p := range paths {
		if err := s.Put(ctx, p, testDoc{N: i}); err != nil {
			t.Fatal(err)
		}
	}

	ch, stop, err := s.Subscribe("sessions/")
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	for _, want := range paths {
		c := recvChange(t, ch)
		if c.Path != want || c.Kind != core.ChangeAdded {
			t.Fatalf("replayed %s (%s), want added %s", c.Path, c.Kind, want)
		}
	}
}

func TestMemStore_LiveChangesAndModifiedKind(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	ctx := context.Background()
	ch, stop, err := s.Subscribe("sessions/")
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	_ = s.Put(ctx, "sessions/a", testDoc{N: 1})
	if c := recvChange(t, ch); c.Kind != core.ChangeAdded {
		t.Fatalf("first put kind = %s, want added", c.Kind)
	}
	_ = s.Put(ctx, "sessions/a", testDoc{N: 2})
	c := recvChange(t, ch)
	if c.Kind != core.ChangeModified {
		t.Fatalf("second put kind = %s, want modified", c.Kind)
	}
	var d testDoc
	_ = json.Unmarshal(c.Doc, &d)
	if d.N != 2 {
		t.Fatalf("modified doc = %s", c.Doc)
	}
}

func TestMemStore_PrefixFiltering(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	ctx := context.Background()
	ch, stop, err := s.Subscribe("sessions/a/")
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	_ = s.Put(ctx, "sessions/b/offers/x", testDoc{})
	_ = s.Put(ctx, "sessions/a/offers/x", testDoc{})

	if c := recvChange(t, ch); c.Path != "sessions/a/offers/x" {
		t.Fatalf("delivered %s, want only the matching prefix", c.Path)
	}
	select {
	case c := <-ch:
		t.Fatalf("unexpected extra change %s", c.Path)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemStore_StopUnsubscribes(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	ctx := context.Background()
	_, stop, err := s.Subscribe("sessions/")
	if err != nil {
		t.Fatal(err)
	}
	if s.SubscriberCount() != 1 {
		t.Fatalf("subscribers = %d, want 1", s.SubscriberCount())
	}
	stop()
	if s.SubscriberCount() != 0 {
		t.Fatalf("subscribers = %d after stop, want 0", s.SubscriberCount())
	}
	// A put after stop must not block on the dead subscriber.
	done := make(chan struct{})
	go func() {
		_ = s.Put(ctx, "sessions/a", testDoc{})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("put blocked on a stopped subscriber")
	}
}
