package signal

import (
	"encoding/json"
	"testing"

	"github.com/aurachat/aurad/internal/core"
	"github.com/aurachat/aurad/internal/domain"
	"github.com/aurachat/aurad/internal/registry"
)

type captureSink struct {
	frames []core.Frame
}

func (s *captureSink) TrySend(f core.Frame) error {
	s.frames = append(s.frames, f)
	return nil
}

func (s *captureSink) Close() {}

func TestForwardWrapsPayloadWithSender(t *testing.T) {
	reg := registry.New()
	sink := &captureSink{}
	_ = reg.Register(&registry.Connection{
		ID:       "c-target",
		Identity: &domain.Identity{UID: "u2"},
		Sink:     sink,
	})

	payload := json.RawMessage(`{"sdp":"v=0"}`)
	NewRelay(reg).Forward("c-sender", "c-target", KindOffer, payload)

	if len(sink.frames) != 1 {
		t.Fatalf("target got %d frames", len(sink.frames))
	}
	var env struct {
		Type string          `json:"type"`
		From string          `json:"from"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(sink.frames[0], &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != "offer" || env.From != "c-sender" {
		t.Errorf("envelope = %+v", env)
	}
	if string(env.Data) != `{"sdp":"v=0"}` {
		t.Errorf("payload rewritten: %s", env.Data)
	}
}

func TestForwardDropsUnknownKind(t *testing.T) {
	reg := registry.New()
	sink := &captureSink{}
	_ = reg.Register(&registry.Connection{
		ID:       "c-target",
		Identity: &domain.Identity{UID: "u2"},
		Sink:     sink,
	})

	NewRelay(reg).Forward("c-sender", "c-target", Kind("renegotiate"), nil)
	if len(sink.frames) != 0 {
		t.Fatal("unknown kind was forwarded")
	}
}

func TestForwardSilentOnMissingTarget(t *testing.T) {
	// No panic, no error: the peer just disconnected.
	NewRelay(registry.New()).Forward("c-sender", "c-gone", KindCandidate, json.RawMessage(`{}`))
}
