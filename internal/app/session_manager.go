package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/app/orch"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
	"github.com/dkeye/peercall/internal/media"
)

const (
	// DefaultRingAckDelay is how long a caller keeps the session in ringing
	// before flipping it active.
	DefaultRingAckDelay = 2 * time.Second
	// DefaultStaleAfter is the answer window after which an observed ringing
	// session is silently marked missed.
	DefaultStaleAfter = 60 * time.Second

	writeTimeout = 5 * time.Second
)

type sessionEntry struct {
	session      domain.CallSession
	ringTimer    *time.Timer
	handle       *media.Handle
	staleHandled bool
	surfaced     bool
}

// ManagerConfig wires the session manager's collaborators.
type ManagerConfig struct {
	Self    domain.ParticipantID
	Signals core.Signaling
	Media   *media.Manager
	Links   *orch.Orchestrator
	// Topo defaults to StarTopology.
	Topo Topology
	// RingAckDelay and StaleAfter default to the package constants.
	RingAckDelay time.Duration
	StaleAfter   time.Duration
	// Clock is injectable for tests; defaults to time.Now.
	Clock func() time.Time
}

// Manager owns session state and drives the orchestrator, the media manager
// and the topology. Inbound signaling events are consumed one at a time by
// Run; every mutation happens under one mutex, so handlers never observe a
// half-applied transition.
type Manager struct {
	self    domain.ParticipantID
	signals core.Signaling
	media   *media.Manager
	links   *orch.Orchestrator
	topo    Topology

	ringAckDelay time.Duration
	staleAfter   time.Duration
	now          func() time.Time

	mu       sync.Mutex
	sessions map[domain.SessionID]*sessionEntry
	offers   map[domain.SessionID]map[domain.ParticipantID]webrtc.SessionDescription
	activeID domain.SessionID

	incoming chan domain.CallSession
}

func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		self:         cfg.Self,
		signals:      cfg.Signals,
		media:        cfg.Media,
		links:        cfg.Links,
		topo:         cfg.Topo,
		ringAckDelay: cfg.RingAckDelay,
		staleAfter:   cfg.StaleAfter,
		now:          cfg.Clock,
		sessions:     make(map[domain.SessionID]*sessionEntry),
		offers:       make(map[domain.SessionID]map[domain.ParticipantID]webrtc.SessionDescription),
		incoming:     make(chan domain.CallSession, 8),
	}
	if m.topo == nil {
		m.topo = StarTopology{}
	}
	if m.ringAckDelay <= 0 {
		m.ringAckDelay = DefaultRingAckDelay
	}
	if m.staleAfter <= 0 {
		m.staleAfter = DefaultStaleAfter
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.links.OnLocalCandidate(m.publishLocalCandidate)
	return m
}

// Incoming surfaces sessions ringing for the local participant.
func (m *Manager) Incoming() <-chan domain.CallSession { return m.incoming }

// Session returns a copy of a known session record.
func (m *Manager) Session(id domain.SessionID) (domain.CallSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[id]
	if !ok {
		return domain.CallSession{}, false
	}
	return entry.session, true
}

// StartCall acquires media, publishes the session record and one offer per
// receiver, and schedules the ring-ack activation. On media failure nothing
// is published.
func (m *Manager) StartCall(ctx context.Context, receivers []domain.ParticipantID, kind domain.CallKind) (domain.SessionID, error) {
	if len(receivers)+1 > domain.MaxParticipants {
		return "", domain.ErrTooManyParticipants
	}

	handle, err := m.media.Acquire(kind)
	if err != nil {
		return "", err
	}

	session, err := domain.NewCallSession(m.self, receivers, kind, m.now())
	if err != nil {
		m.media.Release(handle)
		return "", err
	}
	if err := m.signals.PublishSession(ctx, session); err != nil {
		m.media.Release(handle)
		return "", fmt.Errorf("%w: %w", ErrSignalingWrite, err)
	}

	m.mu.Lock()
	entry := &sessionEntry{session: session, handle: handle}
	entry.ringTimer = time.AfterFunc(m.ringAckDelay, func() { m.activateAfterRingAck(session.ID) })
	m.sessions[session.ID] = entry
	m.activeID = session.ID
	m.mu.Unlock()

	for _, remote := range m.topo.OutboundPeers(session, m.self) {
		if err := m.setupOutboundLink(ctx, session.ID, remote, handle); err != nil {
			// A failed offer aborts that single link's setup, not the call.
			log.Error().Err(err).
				Str("module", "app").
				Str("session", string(session.ID)).
				Str("remote", string(remote)).
				Msg("outbound link setup failed")
			m.links.CloseLink(session.ID, remote)
		}
	}

	log.Info().
		Str("module", "app").
		Str("session", string(session.ID)).
		Str("kind", string(kind)).
		Int("receivers", len(receivers)).
		Bool("group", session.IsGroup).
		Msg("call started")
	return session.ID, nil
}

func (m *Manager) setupOutboundLink(ctx context.Context, id domain.SessionID, remote domain.ParticipantID, handle *media.Handle) error {
	if _, err := m.links.CreateOrReuseLink(id, remote, handle.Tracks()); err != nil {
		return err
	}
	offer, err := m.links.CreateOffer(id, remote)
	if err != nil {
		return err
	}
	if err := m.signals.PublishOffer(ctx, id, m.self, remote, offer); err != nil {
		return fmt.Errorf("%w: %w", ErrSignalingWrite, err)
	}
	return nil
}

// AnswerCall answers a known ringing session: acquires media of the
// session's kind, builds the inbound link to the caller, publishes the
// answer and flips the session active.
func (m *Manager) AnswerCall(ctx context.Context, id domain.SessionID) error {
	m.mu.Lock()
	entry, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownSession
	}
	if entry.session.Status.Terminal() {
		m.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if entry.session.Status != domain.StatusRinging {
		m.mu.Unlock()
		return ErrNotRinging
	}
	session := entry.session
	m.mu.Unlock()

	caller, ok := m.topo.InboundPeer(session, m.self)
	if !ok {
		return ErrNoOffer
	}

	handle, err := m.media.Acquire(session.Kind)
	if err != nil {
		return err
	}

	offer, found := m.cachedOffer(id, caller)
	if !found {
		var fetchErr error
		offer, _, found, fetchErr = m.signals.FetchOffer(ctx, id, m.self)
		if fetchErr != nil {
			m.media.Release(handle)
			return fmt.Errorf("fetch offer: %w", fetchErr)
		}
		if !found {
			m.media.Release(handle)
			return ErrNoOffer
		}
	}

	if _, err := m.links.CreateOrReuseLink(id, caller, handle.Tracks()); err != nil {
		m.media.Release(handle)
		return err
	}
	answer, err := m.links.CreateAnswer(id, caller, offer)
	if err != nil {
		m.links.CloseLink(id, caller)
		m.media.Release(handle)
		return err
	}
	if err := m.signals.PublishAnswer(ctx, id, m.self, caller, answer); err != nil {
		m.links.CloseLink(id, caller)
		m.media.Release(handle)
		return fmt.Errorf("%w: %w", ErrSignalingWrite, err)
	}

	m.mu.Lock()
	if entry.session.Status.Terminal() {
		// Ended remotely while we were answering.
		m.mu.Unlock()
		m.links.CloseSession(id)
		m.media.Release(handle)
		return domain.ErrSessionClosed
	}
	entry.handle = handle
	_ = entry.session.Transition(domain.StatusActive, m.now())
	m.activeID = id
	session = entry.session
	m.mu.Unlock()

	if err := m.signals.UpdateSession(ctx, session); err != nil {
		return fmt.Errorf("%w: %w", ErrSignalingWrite, err)
	}
	log.Info().Str("module", "app").Str("session", string(id)).Msg("call answered")
	return nil
}

// DeclineCall marks a ringing session missed without touching media or
// creating links.
func (m *Manager) DeclineCall(ctx context.Context, id domain.SessionID) error {
	m.mu.Lock()
	entry, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownSession
	}
	if entry.session.Status.Terminal() {
		m.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if err := entry.session.Transition(domain.StatusMissed, m.now()); err != nil {
		m.mu.Unlock()
		return ErrNotRinging
	}
	session := entry.session
	delete(m.offers, id)
	m.mu.Unlock()

	if err := m.signals.UpdateSession(ctx, session); err != nil {
		return fmt.Errorf("%w: %w", ErrSignalingWrite, err)
	}
	log.Info().Str("module", "app").Str("session", string(id)).Msg("call declined")
	return nil
}

// EndCall transitions the session to ended, then always attempts all three
// cleanup actions: cancel the ring timer, close every link, release media.
func (m *Manager) EndCall(ctx context.Context, id domain.SessionID) error {
	m.mu.Lock()
	entry, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownSession
	}
	if err := entry.session.Transition(domain.StatusEnded, m.now()); err != nil {
		m.mu.Unlock()
		return err
	}
	if entry.ringTimer != nil {
		entry.ringTimer.Stop()
		entry.ringTimer = nil
	}
	handle := entry.handle
	entry.handle = nil
	session := entry.session
	if m.activeID == id {
		m.activeID = ""
	}
	delete(m.offers, id)
	m.mu.Unlock()

	m.links.CloseSession(id)
	m.media.Release(handle)
	if err := m.signals.UpdateSession(ctx, session); err != nil {
		return fmt.Errorf("%w: %w", ErrSignalingWrite, err)
	}
	log.Info().Str("module", "app").Str("session", string(id)).Msg("call ended")
	return nil
}

// SetMuted toggles the active call's microphone.
func (m *Manager) SetMuted(muted bool) {
	if h := m.activeHandle(); h != nil {
		m.media.SetAudioEnabled(h, !muted)
	}
}

// SetVideoEnabled toggles the active call's camera.
func (m *Manager) SetVideoEnabled(enabled bool) {
	if h := m.activeHandle(); h != nil {
		m.media.SetVideoEnabled(h, enabled)
	}
}

func (m *Manager) activeHandle() *media.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.sessions[m.activeID]; ok {
		return entry.handle
	}
	return nil
}

// Run consumes inbound signaling events until ctx ends or the channel
// closes. Events are handled strictly one at a time.
func (m *Manager) Run(ctx context.Context) error {
	ch, stop, err := m.signals.Watch(ctx, m.self)
	if err != nil {
		return fmt.Errorf("watch signaling: %w", err)
	}
	defer stop()

	log.Info().Str("module", "app").Str("self", string(m.self)).Msg("session manager running")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			m.handleEvent(ctx, ev)
		}
	}
}

func (m *Manager) handleEvent(ctx context.Context, ev core.Event) {
	switch e := ev.(type) {
	case core.SessionChanged:
		m.handleSessionChanged(ctx, e.Session)
	case core.OfferReceived:
		m.handleOfferReceived(e)
	case core.AnswerReceived:
		if m.terminal(e.SessionID) {
			return
		}
		if err := m.links.ApplyAnswer(e.SessionID, e.From, e.Description); err != nil {
			log.Error().Err(err).Str("module", "app").Str("session", string(e.SessionID)).Msg("apply answer")
		}
	case core.CandidateReceived:
		if m.terminal(e.SessionID) {
			return
		}
		if err := m.links.ApplyCandidate(e.SessionID, e.From, e.Candidate); err != nil {
			log.Error().Err(err).Str("module", "app").Str("session", string(e.SessionID)).Msg("apply candidate")
		}
	}
}

func (m *Manager) terminal(id domain.SessionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[id]
	return ok && entry.session.Status.Terminal()
}

func (m *Manager) handleOfferReceived(e core.OfferReceived) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.sessions[e.SessionID]; ok && entry.session.Status.Terminal() {
		return
	}
	byFrom, ok := m.offers[e.SessionID]
	if !ok {
		byFrom = make(map[domain.ParticipantID]webrtc.SessionDescription)
		m.offers[e.SessionID] = byFrom
	}
	byFrom[e.From] = e.Description
}

func (m *Manager) cachedOffer(id domain.SessionID, from domain.ParticipantID) (webrtc.SessionDescription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	desc, ok := m.offers[id][from]
	return desc, ok
}

// handleSessionChanged merges an observed session record: remote terminal
// transitions tear the call down locally, a fresh ringing session is either
// marked missed (stale) or surfaced as an incoming call.
func (m *Manager) handleSessionChanged(ctx context.Context, s domain.CallSession) {
	m.mu.Lock()
	entry, known := m.sessions[s.ID]
	if known {
		m.mergeKnownLocked(entry, s)
		return // mergeKnownLocked unlocks
	}

	if !s.Has(m.self) {
		m.mu.Unlock()
		return
	}
	entry = &sessionEntry{session: s}
	m.sessions[s.ID] = entry

	if s.CallerID == m.self || s.Status != domain.StatusRinging {
		m.mu.Unlock()
		return
	}

	if m.now().Sub(s.CreatedAt) > m.staleAfter {
		// Stale ringing record: mark missed silently, exactly once.
		entry.staleHandled = true
		_ = entry.session.Transition(domain.StatusMissed, m.now())
		session := entry.session
		m.mu.Unlock()
		if err := m.signals.UpdateSession(ctx, session); err != nil {
			log.Error().Err(err).Str("module", "app").Str("session", string(s.ID)).Msg("stale cleanup write")
		}
		log.Info().Str("module", "app").Str("session", string(s.ID)).Msg("stale ringing session marked missed")
		return
	}

	busy := m.activeID != "" && m.activeID != s.ID
	surface := !busy && !entry.surfaced
	if surface {
		entry.surfaced = true
	}
	m.mu.Unlock()

	if surface {
		select {
		case m.incoming <- s:
		default:
			log.Warn().Str("module", "app").Str("session", string(s.ID)).Msg("incoming queue full")
		}
	}
}

// mergeKnownLocked applies a remote record to a tracked session. Callers
// hold m.mu; it unlocks before any blocking cleanup.
func (m *Manager) mergeKnownLocked(entry *sessionEntry, s domain.CallSession) {
	local := entry.session.Status
	switch {
	case s.Status.Terminal() && !local.Terminal():
		// The other side ended/declined. Tear down locally without writing
		// the record back.
		entry.session = s
		if entry.ringTimer != nil {
			entry.ringTimer.Stop()
			entry.ringTimer = nil
		}
		handle := entry.handle
		entry.handle = nil
		if m.activeID == s.ID {
			m.activeID = ""
		}
		delete(m.offers, s.ID)
		m.mu.Unlock()

		m.links.CloseSession(s.ID)
		m.media.Release(handle)
		log.Info().
			Str("module", "app").
			Str("session", string(s.ID)).
			Str("status", string(s.Status)).
			Msg("session ended remotely")
	case s.Status == domain.StatusActive && local == domain.StatusRinging:
		// A receiver answered before our ring-ack timer fired.
		entry.session = s
		m.mu.Unlock()
	default:
		m.mu.Unlock()
	}
}

// activateAfterRingAck flips a still-ringing session active once the fixed
// ring-acknowledgement delay elapses. Ending the session first cancels it.
func (m *Manager) activateAfterRingAck(id domain.SessionID) {
	m.mu.Lock()
	entry, ok := m.sessions[id]
	if !ok || entry.session.Status != domain.StatusRinging {
		m.mu.Unlock()
		return
	}
	_ = entry.session.Transition(domain.StatusActive, m.now())
	session := entry.session
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := m.signals.UpdateSession(ctx, session); err != nil {
		log.Error().Err(err).Str("module", "app").Str("session", string(id)).Msg("ring-ack activation write")
		return
	}
	log.Info().Str("module", "app").Str("session", string(id)).Msg("ring-ack elapsed, session active")
}

func (m *Manager) publishLocalCandidate(key orch.Key, cand webrtc.ICECandidateInit) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := m.signals.PublishCandidate(ctx, key.Session, m.self, key.Remote, cand); err != nil {
		log.Error().Err(err).
			Str("module", "app").
			Str("session", string(key.Session)).
			Str("remote", string(key.Remote)).
			Msg("publish candidate")
	}
}
