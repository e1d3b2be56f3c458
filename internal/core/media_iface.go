package core

import "github.com/pion/webrtc/v4"

type ConnState int

const (
	ConnNew ConnState = iota
	ConnConnected
	ConnDisconnected
	ConnFailed
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnNew:
		return "new"
	case ConnConnected:
		return "connected"
	case ConnDisconnected:
		return "disconnected"
	case ConnFailed:
		return "failed"
	case ConnClosed:
		return "closed"
	}
	return "unknown"
}

// MediaConnection abstracts one underlying peer connection. The adapter owns
// the pion object; the orchestrator owns negotiation state on top of it.
type MediaConnection interface {
	// CreateOffer produces an offer requesting audio and video reception
	// capability regardless of which local tracks are attached.
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate. The connection must
	// already have a remote description.
	AddICECandidate(webrtc.ICECandidateInit) error
	// AddLocalTrack attaches a local track to the underlying connection.
	AddLocalTrack(track webrtc.TrackLocal) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback invoked when a remote track arrives.
	OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	// OnStateChange sets a callback for transport state transitions.
	OnStateChange(func(ConnState))
	Close() error
}

// ConnFactory constructs a fresh MediaConnection per peer link.
type ConnFactory func() (MediaConnection, error)
