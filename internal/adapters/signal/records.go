// Package signal adapts the generic document store to the typed signaling
// interface the call engine consumes, and carries the store itself: an
// in-memory implementation served over websocket plus the matching client.
package signal

import (
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/peercall/internal/domain"
)

// Store layout. Every call document lives under sessions/{id}; the engine
// subscribes to the whole prefix and routes on the path shape.
//
//	sessions/{id}                      session record
//	sessions/{id}/offers/{receiver}    offer addressed to one receiver
//	sessions/{id}/answers/{answerer}   answer from one receiver
//	sessions/{id}/candidates/{autoId}  trickled ICE candidate
const sessionsPrefix = "sessions/"

// OfferRecord is an SDP offer addressed to a single receiver.
type OfferRecord struct {
	From        domain.ParticipantID      `json:"fromId"`
	To          domain.ParticipantID      `json:"toId"`
	Description webrtc.SessionDescription `json:"description"`
	Timestamp   time.Time                 `json:"timestamp"`
}

// AnswerRecord is an SDP answer flowing back to the offerer.
type AnswerRecord struct {
	From        domain.ParticipantID      `json:"fromId"`
	To          domain.ParticipantID      `json:"toId"`
	Description webrtc.SessionDescription `json:"description"`
	Timestamp   time.Time                 `json:"timestamp"`
}

// CandidateRecord is one trickled ICE candidate. Candidates are append-only
// under a generated id so none ever overwrites another.
type CandidateRecord struct {
	From      domain.ParticipantID    `json:"fromId"`
	To        domain.ParticipantID    `json:"toId"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
	Timestamp time.Time               `json:"timestamp"`
}

func sessionPath(id domain.SessionID) string {
	return sessionsPrefix + string(id)
}

func offerPath(id domain.SessionID, to domain.ParticipantID) string {
	return sessionsPrefix + string(id) + "/offers/" + string(to)
}

func answerPath(id domain.SessionID, from domain.ParticipantID) string {
	return sessionsPrefix + string(id) + "/answers/" + string(from)
}

func candidatePath(id domain.SessionID, autoID string) string {
	return sessionsPrefix + string(id) + "/candidates/" + autoID
}

type pathKind int

const (
	pathUnknown pathKind = iota
	pathSession
	pathOffer
	pathAnswer
	pathCandidate
)

// parsePath classifies a store path and extracts the session id.
func parsePath(path string) (pathKind, domain.SessionID) {
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] != "sessions" || parts[1] == "" {
		return pathUnknown, ""
	}
	id := domain.SessionID(parts[1])
	switch {
	case len(parts) == 2:
		return pathSession, id
	case len(parts) == 4 && parts[2] == "offers":
		return pathOffer, id
	case len(parts) == 4 && parts[2] == "answers":
		return pathAnswer, id
	case len(parts) == 4 && parts[2] == "candidates":
		return pathCandidate, id
	default:
		return pathUnknown, ""
	}
}
