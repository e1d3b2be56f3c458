// Package orch owns the per-remote-participant connection lifecycle: one
// Link per (session, remote) pair, kept in an explicit table with explicit
// insert and remove.
package orch

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

// maxPreLinkCandidates bounds how many candidates are buffered for a pair
// that has no link yet.
const maxPreLinkCandidates = 64

type Key struct {
	Session domain.SessionID
	Remote  domain.ParticipantID
}

// Orchestrator is the link table. At most one non-closed Link exists per
// (session, remote); a closed entry is evicted on the next create.
type Orchestrator struct {
	factory core.ConnFactory

	mu    sync.Mutex
	links map[Key]*Link
	// preQueue holds candidates that arrived before the pair had a link,
	// e.g. trickled by the caller before the receiver answered. They are
	// adopted, in order, when the link is created.
	preQueue    map[Key][]webrtc.ICECandidateInit
	onCandidate func(Key, webrtc.ICECandidateInit)
}

func New(factory core.ConnFactory) *Orchestrator {
	return &Orchestrator{
		factory:  factory,
		links:    make(map[Key]*Link),
		preQueue: make(map[Key][]webrtc.ICECandidateInit),
	}
}

// OnLocalCandidate sets the publish hook for locally gathered candidates.
func (o *Orchestrator) OnLocalCandidate(fn func(Key, webrtc.ICECandidateInit)) {
	o.mu.Lock()
	o.onCandidate = fn
	o.mu.Unlock()
}

// CreateOrReuseLink returns the existing non-closed link for the pair
// unchanged, never replacing an active negotiation. Otherwise it evicts any
// stale closed entry and constructs a fresh link with tracks attached.
// Attachment is idempotent in both paths.
func (o *Orchestrator) CreateOrReuseLink(sessionID domain.SessionID, remoteID domain.ParticipantID, tracks []webrtc.TrackLocal) (*Link, error) {
	key := Key{Session: sessionID, Remote: remoteID}

	o.mu.Lock()
	if l, ok := o.links[key]; ok {
		if l.State() != StateClosed {
			o.mu.Unlock()
			if err := l.attachTracks(tracks); err != nil {
				return nil, err
			}
			return l, nil
		}
		delete(o.links, key)
	}
	o.mu.Unlock()

	conn, err := o.factory()
	if err != nil {
		return nil, err
	}
	l := newLink(sessionID, remoteID, conn)

	conn.OnICECandidate(func(cand webrtc.ICECandidateInit) {
		o.mu.Lock()
		fn := o.onCandidate
		o.mu.Unlock()
		if fn != nil {
			fn(key, cand)
		}
	})
	conn.OnStateChange(func(s core.ConnState) {
		// Transport loss is a local, non-fatal recovery: drop this link,
		// leave the session and its other links alone.
		if s == core.ConnDisconnected || s == core.ConnFailed {
			log.Warn().
				Str("module", "orch").
				Str("session", string(sessionID)).
				Str("remote", string(remoteID)).
				Str("state", s.String()).
				Msg("transport lost, closing link")
			o.closeIfCurrent(key, l)
		}
	})

	if err := l.attachTracks(tracks); err != nil {
		l.close()
		return nil, err
	}

	o.mu.Lock()
	if existing, ok := o.links[key]; ok && existing.State() != StateClosed {
		// Lost the race to a concurrent create; keep the winner.
		o.mu.Unlock()
		l.close()
		if err := existing.attachTracks(tracks); err != nil {
			return nil, err
		}
		return existing, nil
	}
	o.links[key] = l
	buffered := o.preQueue[key]
	delete(o.preQueue, key)
	o.mu.Unlock()

	if len(buffered) > 0 {
		l.mu.Lock()
		l.pending = append(l.pending, buffered...)
		l.mu.Unlock()
	}

	log.Info().
		Str("module", "orch").
		Str("session", string(sessionID)).
		Str("remote", string(remoteID)).
		Int("adopted_candidates", len(buffered)).
		Msg("link created")
	return l, nil
}

// CreateOffer produces and installs the local offer for the pair.
func (o *Orchestrator) CreateOffer(sessionID domain.SessionID, remoteID domain.ParticipantID) (webrtc.SessionDescription, error) {
	l, ok := o.link(sessionID, remoteID)
	if !ok {
		return webrtc.SessionDescription{}, ErrNoLink
	}
	return l.createOffer()
}

// CreateAnswer applies the remote offer and produces the local answer.
func (o *Orchestrator) CreateAnswer(sessionID domain.SessionID, remoteID domain.ParticipantID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	l, ok := o.link(sessionID, remoteID)
	if !ok {
		return webrtc.SessionDescription{}, ErrNoLink
	}
	return l.createAnswer(offer)
}

// ApplyAnswer applies a received answer. A duplicate, delayed or misdirected
// answer is ignored with a warning instead of failing the session.
func (o *Orchestrator) ApplyAnswer(sessionID domain.SessionID, remoteID domain.ParticipantID, answer webrtc.SessionDescription) error {
	l, ok := o.link(sessionID, remoteID)
	if !ok {
		log.Warn().
			Str("module", "orch").
			Str("session", string(sessionID)).
			Str("remote", string(remoteID)).
			Msg("answer ignored: no link")
		return nil
	}
	return l.applyAnswer(answer)
}

// ApplyCandidate routes a received candidate to its link, or buffers it when
// the link does not exist yet. Candidates are never dropped for ordering
// reasons.
func (o *Orchestrator) ApplyCandidate(sessionID domain.SessionID, remoteID domain.ParticipantID, cand webrtc.ICECandidateInit) error {
	key := Key{Session: sessionID, Remote: remoteID}

	o.mu.Lock()
	l, ok := o.links[key]
	if !ok {
		q := o.preQueue[key]
		if len(q) < maxPreLinkCandidates {
			o.preQueue[key] = append(q, cand)
		} else {
			log.Warn().
				Str("module", "orch").
				Str("session", string(sessionID)).
				Str("remote", string(remoteID)).
				Msg("pre-link candidate buffer full, dropping")
		}
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()
	return l.applyCandidate(cand)
}

// CloseLink closes and removes the pair's link. Idempotent.
func (o *Orchestrator) CloseLink(sessionID domain.SessionID, remoteID domain.ParticipantID) {
	key := Key{Session: sessionID, Remote: remoteID}
	o.mu.Lock()
	l, ok := o.links[key]
	if ok {
		delete(o.links, key)
	}
	delete(o.preQueue, key)
	o.mu.Unlock()
	if ok {
		l.close()
	}
}

// CloseSession closes every link belonging to the session and drops any
// buffered candidates for it.
func (o *Orchestrator) CloseSession(sessionID domain.SessionID) {
	o.mu.Lock()
	var closing []*Link
	for key, l := range o.links {
		if key.Session == sessionID {
			closing = append(closing, l)
			delete(o.links, key)
		}
	}
	for key := range o.preQueue {
		if key.Session == sessionID {
			delete(o.preQueue, key)
		}
	}
	o.mu.Unlock()
	for _, l := range closing {
		l.close()
	}
	if len(closing) > 0 {
		log.Info().
			Str("module", "orch").
			Str("session", string(sessionID)).
			Int("links", len(closing)).
			Msg("session links closed")
	}
}

// LinkCount reports how many live links the session holds.
func (o *Orchestrator) LinkCount(sessionID domain.SessionID) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for key, l := range o.links {
		if key.Session == sessionID && l.State() != StateClosed {
			n++
		}
	}
	return n
}

// State reports the pair's signaling state, if a link exists.
func (o *Orchestrator) State(sessionID domain.SessionID, remoteID domain.ParticipantID) (SignalingState, bool) {
	l, ok := o.link(sessionID, remoteID)
	if !ok {
		return StateClosed, false
	}
	return l.State(), true
}

func (o *Orchestrator) link(sessionID domain.SessionID, remoteID domain.ParticipantID) (*Link, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.links[Key{Session: sessionID, Remote: remoteID}]
	return l, ok
}

// closeIfCurrent removes l only if it is still the table entry for key, so a
// late transport callback cannot tear down a replacement link.
func (o *Orchestrator) closeIfCurrent(key Key, l *Link) {
	o.mu.Lock()
	if o.links[key] == l {
		delete(o.links, key)
	}
	o.mu.Unlock()
	l.close()
}
