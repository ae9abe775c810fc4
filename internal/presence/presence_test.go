package presence

import (
	"context"
	"errors"
	"testing"

	"github.com/aurachat/aurad/internal/core"
	"github.com/aurachat/aurad/internal/domain"
	"github.com/aurachat/aurad/internal/registry"
	"github.com/aurachat/aurad/internal/store"
)

type nopSink struct{}

func (nopSink) TrySend(core.Frame) error { return nil }
func (nopSink) Close()                   {}

func seedIdentity(t *testing.T, st store.Store, uid domain.UID, nick string) {
	t.Helper()
	err := st.CreateIdentity(context.Background(), &domain.Identity{
		UID:      uid,
		Nickname: nick,
		Email:    string(uid) + "@example.com",
		Role:     domain.RoleMember,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", uid, err)
	}
}

func TestComputeRosterJoinsLiveState(t *testing.T) {
	st := store.NewMemory()
	reg := registry.New()
	seedIdentity(t, st, "u1", "alice")
	seedIdentity(t, st, "u2", "bob")

	_ = reg.Register(&registry.Connection{
		ID:       "c1",
		Identity: &domain.Identity{UID: "u1", Nickname: "alice"},
		Status:   domain.StatusDND,
		Sink:     nopSink{},
	})
	_ = reg.SetVoiceChannel("c1", "ch1")
	_ = reg.SetMuted("c1", true)

	roster := NewAggregator(st, reg).ComputeRoster(context.Background())
	if len(roster) != 2 {
		t.Fatalf("roster size %d", len(roster))
	}

	// online connections sort first
	if roster[0].UID != "u1" || !roster[0].IsOnline {
		t.Fatalf("first entry = %+v", roster[0])
	}
	if roster[0].Status != domain.StatusDND || roster[0].VoiceChannel != "ch1" || !roster[0].Voice.Muted {
		t.Errorf("live state not joined: %+v", roster[0])
	}
	if roster[1].UID != "u2" || roster[1].IsOnline {
		t.Fatalf("offline entry = %+v", roster[1])
	}
	if roster[1].Status != "" || roster[1].VoiceChannel != "" {
		t.Error("offline entry carries live state")
	}
}

func TestComputeRosterPrefersLiveIdentityCache(t *testing.T) {
	st := store.NewMemory()
	reg := registry.New()
	seedIdentity(t, st, "u1", "stale-nick")

	_ = reg.Register(&registry.Connection{
		ID:       "c1",
		Identity: &domain.Identity{UID: "u1", Nickname: "fresh-nick"},
		Sink:     nopSink{},
	})

	roster := NewAggregator(st, reg).ComputeRoster(context.Background())
	if roster[0].Nickname != "fresh-nick" {
		t.Fatalf("nickname = %q, want live cache value", roster[0].Nickname)
	}
}

func TestComputeRosterSortOrder(t *testing.T) {
	st := store.NewMemory()
	reg := registry.New()
	seedIdentity(t, st, "u1", "Zoe")
	seedIdentity(t, st, "u2", "adam")
	seedIdentity(t, st, "u3", "Bea")

	roster := NewAggregator(st, reg).ComputeRoster(context.Background())
	got := []string{roster[0].Nickname, roster[1].Nickname, roster[2].Nickname}
	want := []string{"adam", "Bea", "Zoe"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

type failingIdentities struct {
	store.IdentityStore
}

func (failingIdentities) ListIdentities(context.Context) ([]domain.Identity, error) {
	return nil, errors.New("store down")
}

func TestComputeRosterDegradesOnStoreFailure(t *testing.T) {
	reg := registry.New()
	_ = reg.Register(&registry.Connection{
		ID:       "c1",
		Identity: &domain.Identity{UID: "u1", Nickname: "alice"},
		Sink:     nopSink{},
	})

	roster := NewAggregator(failingIdentities{}, reg).ComputeRoster(context.Background())
	if len(roster) != 1 || roster[0].UID != "u1" || !roster[0].IsOnline {
		t.Fatalf("degraded roster = %+v", roster)
	}
}
