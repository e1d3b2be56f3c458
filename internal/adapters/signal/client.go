package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

const eventBuffer = 64

// Client implements the typed signaling API on top of any SignalStore. It
// owns the path layout: callers deal in sessions, offers, answers and
// candidates and never see store paths.
type Client struct {
	store core.SignalStore
}

func NewClient(store core.SignalStore) *Client {
	return &Client{store: store}
}

func (c *Client) PublishSession(ctx context.Context, s domain.CallSession) error {
	return c.store.Put(ctx, sessionPath(s.ID), s)
}

func (c *Client) UpdateSession(ctx context.Context, s domain.CallSession) error {
	return c.store.Put(ctx, sessionPath(s.ID), s)
}

func (c *Client) FetchSession(ctx context.Context, id domain.SessionID) (domain.CallSession, bool, error) {
	raw, found, err := c.store.Get(ctx, sessionPath(id))
	if err != nil || !found {
		return domain.CallSession{}, false, err
	}
	var s domain.CallSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return domain.CallSession{}, false, fmt.Errorf("decode session %s: %w", id, err)
	}
	return s, true, nil
}

func (c *Client) PublishOffer(ctx context.Context, id domain.SessionID, from, to domain.ParticipantID, desc webrtc.SessionDescription) error {
	rec := OfferRecord{From: from, To: to, Description: desc, Timestamp: time.Now()}
	return c.store.Put(ctx, offerPath(id, to), rec)
}

func (c *Client) PublishAnswer(ctx context.Context, id domain.SessionID, from, to domain.ParticipantID, desc webrtc.SessionDescription) error {
	rec := AnswerRecord{From: from, To: to, Description: desc, Timestamp: time.Now()}
	return c.store.Put(ctx, answerPath(id, from), rec)
}

func (c *Client) PublishCandidate(ctx context.Context, id domain.SessionID, from, to domain.ParticipantID, cand webrtc.ICECandidateInit) error {
	rec := CandidateRecord{From: from, To: to, Candidate: cand, Timestamp: time.Now()}
	return c.store.Put(ctx, candidatePath(id, uuid.NewString()), rec)
}

func (c *Client) FetchOffer(ctx context.Context, id domain.SessionID, to domain.ParticipantID) (webrtc.SessionDescription, domain.ParticipantID, bool, error) {
	raw, found, err := c.store.Get(ctx, offerPath(id, to))
	if err != nil || !found {
		return webrtc.SessionDescription{}, "", false, err
	}
	var rec OfferRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return webrtc.SessionDescription{}, "", false, fmt.Errorf("decode offer %s: %w", id, err)
	}
	return rec.Description, rec.From, true, nil
}

// Watch subscribes to the whole sessions prefix and translates store changes
// into typed events, dropping everything not addressed to self. Store order
// is preserved.
func (c *Client) Watch(ctx context.Context, self domain.ParticipantID) (<-chan core.Event, func(), error) {
	changes, stopSub, err := c.store.Subscribe(sessionsPrefix)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe %s: %w", sessionsPrefix, err)
	}

	events := make(chan core.Event, eventBuffer)
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case ch, ok := <-changes:
				if !ok {
					return
				}
				ev, ok := decodeChange(ch, self)
				if !ok {
					continue
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, stopSub, nil
}

// decodeChange maps one store change onto a typed event, or reports that the
// change is not for self.
func decodeChange(ch core.Change, self domain.ParticipantID) (core.Event, bool) {
	if ch.Kind == core.ChangeRemoved {
		return nil, false
	}
	kind, id := parsePath(ch.Path)
	switch kind {
	case pathSession:
		var s domain.CallSession
		if err := json.Unmarshal(ch.Doc, &s); err != nil {
			log.Error().Err(err).Str("module", "signal").Str("path", ch.Path).Msg("bad session doc")
			return nil, false
		}
		if !s.Has(self) {
			return nil, false
		}
		return core.SessionChanged{Session: s}, true
	case pathOffer:
		var rec OfferRecord
		if err := json.Unmarshal(ch.Doc, &rec); err != nil {
			log.Error().Err(err).Str("module", "signal").Str("path", ch.Path).Msg("bad offer doc")
			return nil, false
		}
		if rec.To != self {
			return nil, false
		}
		return core.OfferReceived{SessionID: id, From: rec.From, Description: rec.Description}, true
	case pathAnswer:
		var rec AnswerRecord
		if err := json.Unmarshal(ch.Doc, &rec); err != nil {
			log.Error().Err(err).Str("module", "signal").Str("path", ch.Path).Msg("bad answer doc")
			return nil, false
		}
		if rec.To != self {
			return nil, false
		}
		return core.AnswerReceived{SessionID: id, From: rec.From, Description: rec.Description}, true
	case pathCandidate:
		var rec CandidateRecord
		if err := json.Unmarshal(ch.Doc, &rec); err != nil {
			log.Error().Err(err).Str("module", "signal").Str("path", ch.Path).Msg("bad candidate doc")
			return nil, false
		}
		if rec.To != self {
			return nil, false
		}
		return core.CandidateReceived{SessionID: id, From: rec.From, Candidate: rec.Candidate}, true
	default:
		return nil, false
	}
}
