package rooms

import (
	"sort"
	"testing"

	"github.com/aurachat/aurad/internal/core"
	"github.com/aurachat/aurad/internal/domain"
	"github.com/aurachat/aurad/internal/registry"
)

type nopSink struct{}

func (nopSink) TrySend(core.Frame) error { return nil }
func (nopSink) Close()                   {}

func online(t *testing.T, reg *registry.Registry, id core.ConnID, uid domain.UID) {
	t.Helper()
	err := reg.Register(&registry.Connection{
		ID:       id,
		Identity: &domain.Identity{UID: uid},
		Sink:     nopSink{},
	})
	if err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
}

func ids(in []core.ConnID) []string {
	out := make([]string, len(in))
	for i, id := range in {
		out[i] = string(id)
	}
	sort.Strings(out)
	return out
}

func TestJoinRejectsDMKeys(t *testing.T) {
	r := NewRouter(registry.New())
	if err := r.Join("c1", domain.DMRoom("a", "b")); err == nil {
		t.Fatal("dm join accepted")
	}
}

func TestVoiceFanoutIsExplicitMembership(t *testing.T) {
	reg := registry.New()
	r := NewRouter(reg)
	key := domain.VoiceRoom("ch1")

	_ = r.Join("c1", key)
	_ = r.Join("c2", key)
	got := ids(r.Fanout(key))
	if len(got) != 2 || got[0] != "c1" || got[1] != "c2" {
		t.Fatalf("fanout = %v", got)
	}

	r.Leave("c1", key)
	r.Leave("c1", key) // second leave is a no-op
	if got := ids(r.Fanout(key)); len(got) != 1 || got[0] != "c2" {
		t.Fatalf("fanout after leave = %v", got)
	}
}

func TestDMFanoutResolvesLiveConnections(t *testing.T) {
	reg := registry.New()
	r := NewRouter(reg)
	online(t, reg, "c-alice", "alice")

	key := domain.DMRoom("alice", "bob")
	// bob offline: only the sender's connection remains in the set.
	if got := ids(r.Fanout(key)); len(got) != 1 || got[0] != "c-alice" {
		t.Fatalf("fanout with offline peer = %v", got)
	}

	online(t, reg, "c-bob", "bob")
	if got := ids(r.Fanout(key)); len(got) != 2 {
		t.Fatalf("fanout with both online = %v", got)
	}
}

func TestLeaveAllReturnsVoiceRooms(t *testing.T) {
	reg := registry.New()
	r := NewRouter(reg)
	_ = r.Join("c1", domain.BroadcastRoom())
	_ = r.Join("c1", domain.VoiceRoom("ch1"))
	_ = r.Join("c2", domain.VoiceRoom("ch1"))

	left := r.LeaveAll("c1")
	if len(left) != 1 || left[0] != domain.VoiceRoom("ch1") {
		t.Fatalf("LeaveAll = %v", left)
	}
	if r.IsMember("c1", domain.BroadcastRoom()) {
		t.Fatal("still in broadcast after LeaveAll")
	}
	if !r.IsMember("c2", domain.VoiceRoom("ch1")) {
		t.Fatal("LeaveAll touched another connection")
	}
	if len(r.LeaveAll("c1")) != 0 {
		t.Fatal("second LeaveAll found rooms")
	}
}

func TestEmptyVoiceRoomIsDropped(t *testing.T) {
	r := NewRouter(registry.New())
	key := domain.VoiceRoom("ch1")
	_ = r.Join("c1", key)
	r.Leave("c1", key)
	if r.MemberCount(key) != 0 {
		t.Fatal("empty voice room retained members")
	}
	// broadcast set persists even when empty
	_ = r.Join("c1", domain.BroadcastRoom())
	r.Leave("c1", domain.BroadcastRoom())
	if got := r.Fanout(domain.BroadcastRoom()); len(got) != 0 {
		t.Fatalf("broadcast fanout = %v", got)
	}
}
