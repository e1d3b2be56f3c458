package orch

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

type SignalingState int

const (
	StateStable SignalingState = iota
	StateHaveLocalOffer
	StateHaveRemoteOffer
	StateClosed
)

func (s SignalingState) String() string {
	switch s {
	case StateStable:
		return "stable"
	case StateHaveLocalOffer:
		return "have_local_offer"
	case StateHaveRemoteOffer:
		return "have_remote_offer"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Link is one negotiated connection between the local participant and one
// remote participant. It owns the signaling state machine on top of the
// transport connection; candidate ordering and attach idempotence are
// properties of this struct, not of the underlying connection.
type Link struct {
	sessionID domain.SessionID
	remoteID  domain.ParticipantID
	conn      core.MediaConnection

	mu            sync.Mutex
	state         SignalingState
	hasRemoteDesc bool
	pending       []webrtc.ICECandidateInit
	attached      map[string]struct{}
}

func newLink(sessionID domain.SessionID, remoteID domain.ParticipantID, conn core.MediaConnection) *Link {
	return &Link{
		sessionID: sessionID,
		remoteID:  remoteID,
		conn:      conn,
		state:     StateStable,
		attached:  make(map[string]struct{}),
	}
}

func (l *Link) RemoteID() domain.ParticipantID { return l.remoteID }
func (l *Link) SessionID() domain.SessionID    { return l.sessionID }

func (l *Link) State() SignalingState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// AttachedTrackCount reports how many distinct tracks are on the sender set.
func (l *Link) AttachedTrackCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.attached)
}

// attachTracks adds each track at most once, keyed by track ID. Re-invocation
// with the same tracks is a no-op.
func (l *Link) attachTracks(tracks []webrtc.TrackLocal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return ErrNoLink
	}
	for _, t := range tracks {
		if _, ok := l.attached[t.ID()]; ok {
			continue
		}
		if err := l.conn.AddLocalTrack(t); err != nil {
			return fmt.Errorf("attach track %s: %w", t.ID(), err)
		}
		l.attached[t.ID()] = struct{}{}
	}
	return nil
}

// createOffer is legal only in stable; it moves the link to haveLocalOffer.
func (l *Link) createOffer() (webrtc.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateStable {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: create offer in %s", ErrProtocolViolation, l.state)
	}
	offer, err := l.conn.CreateOffer()
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := l.conn.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	l.state = StateHaveLocalOffer
	return offer, nil
}

// createAnswer applies the remote offer and produces the local answer,
// passing through haveRemoteOffer and back to stable.
func (l *Link) createAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateStable {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: create answer in %s", ErrProtocolViolation, l.state)
	}
	if err := l.setRemoteLocked(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	l.state = StateHaveRemoteOffer
	answer, err := l.conn.CreateAnswer()
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := l.conn.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	l.state = StateStable
	return answer, nil
}

// applyAnswer is a guarded no-op unless the link is exactly haveLocalOffer:
// a duplicated or delayed answer must never be applied twice or out of order.
func (l *Link) applyAnswer(answer webrtc.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateHaveLocalOffer {
		log.Warn().
			Str("module", "orch").
			Str("session", string(l.sessionID)).
			Str("remote", string(l.remoteID)).
			Str("state", l.state.String()).
			Msg("answer ignored: link not awaiting one")
		return nil
	}
	if err := l.setRemoteLocked(answer); err != nil {
		return err
	}
	l.state = StateStable
	return nil
}

// applyCandidate queues the candidate until a remote description exists,
// then applies directly. Queued candidates drain in receipt order.
func (l *Link) applyCandidate(cand webrtc.ICECandidateInit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return nil
	}
	if !l.hasRemoteDesc {
		l.pending = append(l.pending, cand)
		return nil
	}
	if err := l.conn.AddICECandidate(cand); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

// setRemoteLocked installs the remote description and drains the pending
// candidate queue in order. Individual candidate failures are logged and
// skipped so one bad candidate cannot stall the rest.
func (l *Link) setRemoteLocked(desc webrtc.SessionDescription) error {
	if err := l.conn.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	l.hasRemoteDesc = true
	for _, cand := range l.pending {
		if err := l.conn.AddICECandidate(cand); err != nil {
			log.Warn().Err(err).
				Str("module", "orch").
				Str("session", string(l.sessionID)).
				Str("remote", string(l.remoteID)).
				Msg("queued candidate rejected")
		}
	}
	l.pending = nil
	return nil
}

// close tears the link down. Idempotent; queued candidates are discarded.
func (l *Link) close() {
	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		return
	}
	l.state = StateClosed
	l.pending = nil
	conn := l.conn
	l.mu.Unlock()

	if err := conn.Close(); err != nil {
		log.Error().Err(err).
			Str("module", "orch").
			Str("session", string(l.sessionID)).
			Str("remote", string(l.remoteID)).
			Msg("close link")
	}
}
