package core

import (
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/peercall/internal/domain"
)

// Event is one typed inbound signaling message. The call engine consumes
// events one at a time, so handlers never race on session or link state.
type Event interface{ isEvent() }

// SessionChanged reports a new or mutated session record naming the local
// participant.
type SessionChanged struct {
	Session domain.CallSession
}

// OfferReceived carries an offer addressed to the local participant.
type OfferReceived struct {
	SessionID   domain.SessionID
	From        domain.ParticipantID
	Description webrtc.SessionDescription
}

// AnswerReceived carries an answer addressed to the local participant.
type AnswerReceived struct {
	SessionID   domain.SessionID
	From        domain.ParticipantID
	Description webrtc.SessionDescription
}

// CandidateReceived carries a remote ICE candidate addressed to the local
// participant.
type CandidateReceived struct {
	SessionID domain.SessionID
	From      domain.ParticipantID
	Candidate webrtc.ICECandidateInit
}

func (SessionChanged) isEvent()    {}
func (OfferReceived) isEvent()     {}
func (AnswerReceived) isEvent()    {}
func (CandidateReceived) isEvent() {}
