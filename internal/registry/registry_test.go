package registry

import (
	"testing"

	"github.com/aurachat/aurad/internal/core"
	"github.com/aurachat/aurad/internal/domain"
)

type fakeSink struct {
	frames []core.Frame
	closed bool
}

func (s *fakeSink) TrySend(f core.Frame) error {
	s.frames = append(s.frames, f)
	return nil
}

func (s *fakeSink) Close() { s.closed = true }

func conn(id core.ConnID, uid domain.UID) *Connection {
	return &Connection{
		ID:       id,
		Identity: &domain.Identity{UID: uid, Nickname: string(uid)},
		Sink:     &fakeSink{},
	}
}

func TestRegisterRejectsDuplicateUID(t *testing.T) {
	r := New()
	if err := r.Register(conn("c1", "u1")); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(conn("c2", "u1")); err == nil {
		t.Fatal("second connection for the same uid accepted")
	}
	if err := r.Register(conn("c1", "u2")); err == nil {
		t.Fatal("duplicate conn id accepted")
	}
}

func TestUnregisterIdempotent(t *testing.T) {
	r := New()
	_ = r.Register(conn("c1", "u1"))

	snap, ok := r.Unregister("c1")
	if !ok || snap.UID() != "u1" {
		t.Fatalf("Unregister = (%v, %v)", snap, ok)
	}
	if _, ok := r.Unregister("c1"); ok {
		t.Fatal("second unregister reported success")
	}
	if _, ok := r.FindByUID("u1"); ok {
		t.Fatal("uid still resolvable after unregister")
	}
}

func TestOnChangeFiresPerMutation(t *testing.T) {
	r := New()
	var fired int
	r.SetOnChange(func() { fired++ })

	_ = r.Register(conn("c1", "u1"))
	_ = r.UpdateStatus("c1", domain.StatusIdle)
	_ = r.SetMuted("c1", true)
	_, _ = r.Unregister("c1")

	if fired != 4 {
		t.Fatalf("onChange fired %d times, want 4", fired)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	r := New()
	_ = r.Register(conn("c1", "u1"))

	snap := r.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot size %d", len(snap))
	}
	snap[0].Status = domain.StatusDND

	live, _ := r.FindByConn("c1")
	if live.Status == domain.StatusDND {
		t.Fatal("mutating a snapshot leaked into the registry")
	}
}

func TestSetVoiceChannelClearsSpeaking(t *testing.T) {
	r := New()
	_ = r.Register(conn("c1", "u1"))
	_ = r.SetVoiceChannel("c1", "ch1")
	_ = r.SetSpeaking("c1", true)
	_ = r.SetVoiceChannel("c1", "")

	c, _ := r.FindByConn("c1")
	if c.Voice.Speaking {
		t.Fatal("speaking flag survived leaving voice")
	}
	if c.VoiceChannel != "" {
		t.Fatalf("voice channel = %q", c.VoiceChannel)
	}
}

func TestUpdateStatusValidates(t *testing.T) {
	r := New()
	_ = r.Register(conn("c1", "u1"))
	if err := r.UpdateStatus("c1", "sleeping"); err == nil {
		t.Fatal("unknown status accepted")
	}
	if err := r.UpdateStatus("ghost", domain.StatusIdle); !domain.IsNotFound(err) {
		t.Fatalf("unknown conn error = %v, want not found", err)
	}
}

func TestUpdateIdentityCopyOnWrite(t *testing.T) {
	r := New()
	c := conn("c1", "u1")
	before := c.Identity
	_ = r.Register(c)

	_ = r.UpdateIdentity("c1", func(ident *domain.Identity) {
		ident.Nickname = "renamed"
	})
	if before.Nickname != "u1" {
		t.Fatal("update mutated the original identity pointer")
	}
	after, _ := r.FindByConn("c1")
	if after.Identity.Nickname != "renamed" {
		t.Fatalf("nickname = %q", after.Identity.Nickname)
	}
}
