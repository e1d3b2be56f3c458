// Package domain contains entities without logic beyond their own invariants.
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// MaxParticipants bounds a call to the caller plus four receivers.
const MaxParticipants = 5

var (
	ErrTooManyParticipants = errors.New("too many participants")
	ErrTooFewParticipants  = errors.New("too few participants")
	ErrSessionClosed       = errors.New("session closed")
	ErrBadTransition       = errors.New("illegal status transition")
)

type (
	SessionID     string
	ParticipantID string
)

type CallKind string

const (
	KindVoice CallKind = "voice"
	KindVideo CallKind = "video"
)

type CallStatus string

const (
	StatusRinging CallStatus = "ringing"
	StatusActive  CallStatus = "active"
	StatusEnded   CallStatus = "ended"
	StatusMissed  CallStatus = "missed"
)

// Terminal reports whether no further status mutation is permitted.
func (s CallStatus) Terminal() bool {
	return s == StatusEnded || s == StatusMissed
}

// CallSession is the shared call record. Participants always includes the
// caller; IsGroup is derived from the participant count and kept consistent
// by the constructor.
type CallSession struct {
	ID           SessionID       `json:"id"`
	CallerID     ParticipantID   `json:"caller_id"`
	Participants []ParticipantID `json:"participants"`
	Kind         CallKind        `json:"kind"`
	Status       CallStatus      `json:"status"`
	IsGroup      bool            `json:"is_group"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    time.Time       `json:"started_at,omitempty"`
	EndedAt      time.Time       `json:"ended_at,omitempty"`
}

// NewCallSession builds a ringing session for caller plus receivers.
// It validates the 2..MaxParticipants bound before anything is published.
func NewCallSession(caller ParticipantID, receivers []ParticipantID, kind CallKind, now time.Time) (CallSession, error) {
	if len(receivers) == 0 {
		return CallSession{}, ErrTooFewParticipants
	}
	if len(receivers)+1 > MaxParticipants {
		return CallSession{}, ErrTooManyParticipants
	}
	participants := make([]ParticipantID, 0, len(receivers)+1)
	participants = append(participants, caller)
	for _, r := range receivers {
		if r == caller {
			continue
		}
		participants = append(participants, r)
	}
	if len(participants) < 2 {
		return CallSession{}, ErrTooFewParticipants
	}
	return CallSession{
		ID:           SessionID(uuid.NewString()),
		CallerID:     caller,
		Participants: participants,
		Kind:         kind,
		Status:       StatusRinging,
		IsGroup:      len(participants) > 2,
		CreatedAt:    now,
	}, nil
}

// Has reports whether id is a participant of the session.
func (s *CallSession) Has(id ParticipantID) bool {
	for _, p := range s.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// Receivers returns every participant except the caller.
func (s *CallSession) Receivers() []ParticipantID {
	out := make([]ParticipantID, 0, len(s.Participants))
	for _, p := range s.Participants {
		if p != s.CallerID {
			out = append(out, p)
		}
	}
	return out
}

// Transition moves the session to a new status, stamping StartedAt/EndedAt.
// Legal moves: ringing→active, ringing→missed, ringing→ended, active→ended.
// A terminal session rejects every move with ErrSessionClosed.
func (s *CallSession) Transition(to CallStatus, now time.Time) error {
	if s.Status.Terminal() {
		return ErrSessionClosed
	}
	switch {
	case s.Status == StatusRinging && to == StatusActive:
		s.StartedAt = now
	case s.Status == StatusRinging && (to == StatusMissed || to == StatusEnded):
		s.EndedAt = now
	case s.Status == StatusActive && to == StatusEnded:
		s.EndedAt = now
	default:
		return ErrBadTransition
	}
	s.Status = to
	return nil
}
