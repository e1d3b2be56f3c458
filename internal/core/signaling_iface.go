package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/peercall/internal/domain"
)

// Signaling is the typed record API over the SignalStore path layout.
// Publish methods are upserts; a failed write is reported to the caller of
// the triggering operation and must not leave a half-published session.
type Signaling interface {
	PublishSession(ctx context.Context, s domain.CallSession) error
	// UpdateSession rewrites the whole record; the store is last-writer-wins.
	UpdateSession(ctx context.Context, s domain.CallSession) error
	FetchSession(ctx context.Context, id domain.SessionID) (domain.CallSession, bool, error)

	PublishOffer(ctx context.Context, id domain.SessionID, from, to domain.ParticipantID, desc webrtc.SessionDescription) error
	PublishAnswer(ctx context.Context, id domain.SessionID, from, to domain.ParticipantID, desc webrtc.SessionDescription) error
	PublishCandidate(ctx context.Context, id domain.SessionID, from, to domain.ParticipantID, cand webrtc.ICECandidateInit) error

	// FetchOffer returns the offer addressed to receiver, if published.
	FetchOffer(ctx context.Context, id domain.SessionID, to domain.ParticipantID) (desc webrtc.SessionDescription, from domain.ParticipantID, found bool, err error)

	// Watch emits every signaling event addressed to self, in store order,
	// until ctx ends. The stop func releases the subscription.
	Watch(ctx context.Context, self domain.ParticipantID) (ch <-chan Event, stop func(), err error)
}
