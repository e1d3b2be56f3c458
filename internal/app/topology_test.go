package app_test

import (
	"testing"
	"time"

	"github.com/dkeye/peercall/internal/app"
	"github.com/dkeye/peercall/internal/domain"
)

func TestStarTopology(t *testing.T) {
	t.Parallel()

	s, err := domain.NewCallSession("alice", []domain.ParticipantID{"bob", "carol"}, domain.KindVoice, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	topo := app.StarTopology{}

	out := topo.OutboundPeers(s, "alice")
	if len(out) != 2 {
		t.Fatalf("caller outbound = %v, want both receivers", out)
	}
	if got := topo.OutboundPeers(s, "bob"); got != nil {
		t.Errorf("receiver outbound = %v, want none", got)
	}

	in, ok := topo.InboundPeer(s, "bob")
	if !ok || in != "alice" {
		t.Errorf("receiver inbound = %v %v, want the caller", in, ok)
	}
	if _, ok := topo.InboundPeer(s, "alice"); ok {
		t.Error("caller must have no inbound peer")
	}
	if _, ok := topo.InboundPeer(s, "mallory"); ok {
		t.Error("non-participant must have no inbound peer")
	}
}
