package app

import "github.com/dkeye/peercall/internal/domain"

// Topology decides, for a session, which remote participants require a peer
// link and in which direction offers flow.
type Topology interface {
	// OutboundPeers lists the remotes self must offer to.
	OutboundPeers(s domain.CallSession, self domain.ParticipantID) []domain.ParticipantID
	// InboundPeer names the remote whose offer self answers, if any.
	InboundPeer(s domain.CallSession, self domain.ParticipantID) (domain.ParticipantID, bool)
}

// StarTopology centers every link on the caller: the caller offers to each
// receiver and each receiver links back to the caller only. Receivers never
// negotiate with each other, so a group call is a star, not a mesh.
type StarTopology struct{}

func (StarTopology) OutboundPeers(s domain.CallSession, self domain.ParticipantID) []domain.ParticipantID {
	if self != s.CallerID {
		return nil
	}
	return s.Receivers()
}

func (StarTopology) InboundPeer(s domain.CallSession, self domain.ParticipantID) (domain.ParticipantID, bool) {
	if self == s.CallerID || !s.Has(self) {
		return "", false
	}
	return s.CallerID, true
}
