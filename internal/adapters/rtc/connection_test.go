package rtc

import (
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/peercall/internal/core"
)

func TestCreateOffer_RequestsBothKinds(t *testing.T) {
	t.Parallel()

	c, err := NewConnection(DefaultWebRTCConfig(nil))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	// Voice call shape: one audio track, no video.
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "a", "s")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.AddLocalTrack(track); err != nil {
		t.Fatal(err)
	}

	offer, err := c.CreateOffer()
	if err != nil {
		t.Fatal(err)
	}
	if offer.Type != webrtc.SDPTypeOffer {
		t.Fatalf("type = %v", offer.Type)
	}
	if !strings.Contains(offer.SDP, "m=audio") || !strings.Contains(offer.SDP, "m=video") {
		t.Error("offer must request audio and video reception")
	}
}

func TestFactory_FreshConnectionPerLink(t *testing.T) {
	t.Parallel()

	factory := Factory(DefaultWebRTCConfig([]string{"stun:stun.example.org:3478"}))
	a, err := factory()
	if err != nil {
		t.Fatal(err)
	}
	b, err := factory()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("factory reused a connection")
	}
	_ = a.Close()
	_ = b.Close()
}

func TestMapConnState(t *testing.T) {
	t.Parallel()

	cases := map[webrtc.PeerConnectionState]core.ConnState{
		webrtc.PeerConnectionStateNew:          core.ConnNew,
		webrtc.PeerConnectionStateConnected:    core.ConnConnected,
		webrtc.PeerConnectionStateDisconnected: core.ConnDisconnected,
		webrtc.PeerConnectionStateFailed:       core.ConnFailed,
		webrtc.PeerConnectionStateClosed:       core.ConnClosed,
	}
	for in, want := range cases {
		if got := mapConnState(in); got != want {
			t.Errorf("mapConnState(%v) = %v, want %v", in, got, want)
		}
	}
}
