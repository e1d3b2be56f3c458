package signal

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

func testSession(t *testing.T, caller domain.ParticipantID, receivers ...domain.ParticipantID) domain.CallSession {
	t.Helper()
	s, err := domain.NewCallSession(caller, receivers, domain.KindVoice, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func recvEvent(t *testing.T, ch <-chan core.Event) core.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
		return nil
	}
}

func TestClient_SessionRoundTrip(t *testing.T) {
	t.Parallel()

	c := NewClient(NewMemStore())
	ctx := context.Background()
	s := testSession(t, "alice", "bob")

	if err := c.PublishSession(ctx, s); err != nil {
		t.Fatal(err)
	}
	got, found, err := c.FetchSession(ctx, s.ID)
	if err != nil || !found {
		t.Fatalf("fetch: found=%v err=%v", found, err)
	}
	if got.ID != s.ID || got.CallerID != "alice" || got.Status != domain.StatusRinging {
		t.Fatalf("fetched %+v", got)
	}

	if _, found, err := c.FetchSession(ctx, "nope"); found || err != nil {
		t.Fatalf("missing session: found=%v err=%v", found, err)
	}
}

func TestClient_OfferRoundTrip(t *testing.T) {
	t.Parallel()

	c := NewClient(NewMemStore())
	ctx := context.Background()
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}

	if err := c.PublishOffer(ctx, "s1", "alice", "bob", desc); err != nil {
		t.Fatal(err)
	}
	got, from, found, err := c.FetchOffer(ctx, "s1", "bob")
	if err != nil || !found {
		t.Fatalf("fetch offer: found=%v err=%v", found, err)
	}
	if from != "alice" || got.SDP != "v=0" {
		t.Fatalf("offer from=%s sdp=%q", from, got.SDP)
	}
	if _, _, found, _ := c.FetchOffer(ctx, "s1", "carol"); found {
		t.Fatal("offer addressed to bob visible to carol")
	}
}

func TestClient_WatchRoutesByRecipient(t *testing.T) {
	t.Parallel()

	c := NewClient(NewMemStore())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, stop, err := c.Watch(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	s := testSession(t, "alice", "bob")
	_ = c.PublishSession(ctx, s)
	_ = c.PublishOffer(ctx, s.ID, "alice", "bob", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "o"})
	// Addressed to alice, must not reach bob.
	_ = c.PublishAnswer(ctx, s.ID, "bob", "alice", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "a"})
	_ = c.PublishCandidate(ctx, s.ID, "alice", "bob", webrtc.ICECandidateInit{Candidate: "c1"})

	if ev, ok := recvEvent(t, events).(core.SessionChanged); !ok || ev.Session.ID != s.ID {
		t.Fatalf("first event = %#v, want SessionChanged", ev)
	}
	if ev, ok := recvEvent(t, events).(core.OfferReceived); !ok || ev.From != "alice" {
		t.Fatalf("second event = %#v, want OfferReceived from alice", ev)
	}
	// The answer to alice is skipped; next is the candidate.
	ev, ok := recvEvent(t, events).(core.CandidateReceived)
	if !ok || ev.Candidate.Candidate != "c1" {
		t.Fatalf("third event = %#v, want CandidateReceived c1", ev)
	}
}

func TestClient_WatchSkipsForeignSessions(t *testing.T) {
	t.Parallel()

	c := NewClient(NewMemStore())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, stop, err := c.Watch(ctx, "mallory")
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	_ = c.PublishSession(ctx, testSession(t, "alice", "bob"))
	select {
	case ev := <-events:
		t.Fatalf("non-participant received %#v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClient_WatchReplaysExistingState(t *testing.T) {
	t.Parallel()

	c := NewClient(NewMemStore())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := testSession(t, "alice", "bob")
	_ = c.PublishSession(ctx, s)
	_ = c.PublishOffer(ctx, s.ID, "alice", "bob", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "o"})

	// A late subscriber still sees the ringing session and its offer.
	events, stop, err := c.Watch(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	if _, ok := recvEvent(t, events).(core.SessionChanged); !ok {
		t.Fatal("replay must begin with the session record")
	}
	if _, ok := recvEvent(t, events).(core.OfferReceived); !ok {
		t.Fatal("replay must include the pending offer")
	}
}

func TestParsePath(t *testing.T) {
	t.Parallel()

	cases := []struct {
		path string
		kind pathKind
		id   domain.SessionID
	}{
		{"sessions/s1", pathSession, "s1"},
		{"sessions/s1/offers/bob", pathOffer, "s1"},
		{"sessions/s1/answers/bob", pathAnswer, "s1"},
		{"sessions/s1/candidates/x9", pathCandidate, "s1"},
		{"sessions/", pathUnknown, ""},
		{"rooms/s1", pathUnknown, ""},
		{"sessions/s1/other/x", pathUnknown, ""},
	}
	for _, tc := range cases {
		kind, id := parsePath(tc.path)
		if kind != tc.kind || id != tc.id {
			t.Errorf("parsePath(%q) = (%v, %q), want (%v, %q)", tc.path, kind, id, tc.kind, tc.id)
		}
	}
}
