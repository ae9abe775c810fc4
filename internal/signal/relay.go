// Package signal forwards WebRTC negotiation payloads between peers.
// Payloads are opaque: the relay never parses SDP or ICE content.
package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/aurachat/aurad/internal/core"
	"github.com/aurachat/aurad/internal/registry"
)

// Kind is the signaling message class.
type Kind string

const (
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
)

func (k Kind) Valid() bool {
	return k == KindOffer || k == KindAnswer || k == KindCandidate
}

// envelope is the frame delivered to the target peer: the original
// payload plus the sender's connection id.
type envelope struct {
	Type Kind            `json:"type"`
	From core.ConnID     `json:"from"`
	Data json.RawMessage `json:"data"`
}

// Relay resolves targets through the registry. Because each target
// drains one send queue, per-(sender,receiver) ordering is FIFO, and a
// slow pair never blocks unrelated relays.
type Relay struct {
	reg *registry.Registry
}

func NewRelay(reg *registry.Registry) *Relay {
	return &Relay{reg: reg}
}

// Forward sends (from, kind, payload) to the target verbatim. An absent
// target is a silent drop: the peer most likely just disconnected.
func (r *Relay) Forward(from, to core.ConnID, kind Kind, payload json.RawMessage) {
	if !kind.Valid() {
		log.Warn().Str("module", "signal").Str("kind", string(kind)).Msg("unknown signaling kind dropped")
		return
	}
	sink, ok := r.reg.SinkOf(to)
	if !ok {
		log.Debug().Str("module", "signal").Str("to", string(to)).Msg("relay target gone, dropping")
		return
	}

	frame, err := json.Marshal(envelope{Type: kind, From: from, Data: payload})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("relay marshal")
		return
	}
	if err := sink.TrySend(core.Frame(frame)); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("to", string(to)).Msg("relay send dropped")
	}
}
