package core

import (
	"context"
	"encoding/json"
)

type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeModified
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeRemoved:
		return "removed"
	}
	return "unknown"
}

// Change is one observed document mutation delivered to a subscriber.
type Change struct {
	Kind ChangeKind
	Path string
	Doc  json.RawMessage
}

// SignalStore abstracts the store-and-forward signaling channel: an
// authenticated document store with upsert, point read and prefix
// subscription. Adapters provide in-memory and websocket-backed
// implementations; the call engine never sees the transport.
type SignalStore interface {
	// Put upserts the document at path. doc must be JSON-marshalable.
	Put(ctx context.Context, path string, doc any) error
	// Get returns the document at path, or found=false.
	Get(ctx context.Context, path string) (doc json.RawMessage, found bool, err error)
	// Subscribe delivers, in put order, every existing document under prefix
	// followed by subsequent changes. The returned stop func releases the
	// subscription; no further changes are delivered after it returns.
	Subscribe(prefix string) (ch <-chan Change, stop func(), err error)
}
