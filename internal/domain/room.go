package domain

import (
	"fmt"
	"strings"
)

// RoomKind tags the three fan-out targets the router knows about.
type RoomKind int

const (
	RoomBroadcast RoomKind = iota // every authenticated connection
	RoomVoice                     // one voice channel, explicit join/leave
	RoomDM                        // a uid pair, membership computed per message
)

func (k RoomKind) String() string {
	switch k {
	case RoomBroadcast:
		return "broadcast"
	case RoomVoice:
		return "voice"
	case RoomDM:
		return "dm"
	default:
		return "unknown"
	}
}

// RoomKey addresses a fan-out target. Keys are comparable and usable as
// map keys; DM pairs are stored sorted so {a,b} and {b,a} collide.
type RoomKey struct {
	kind    RoomKind
	channel string // voice channel id, RoomVoice only
	a, b    UID    // sorted pair, RoomDM only
}

func BroadcastRoom() RoomKey {
	return RoomKey{kind: RoomBroadcast}
}

func VoiceRoom(channelID string) RoomKey {
	return RoomKey{kind: RoomVoice, channel: channelID}
}

func DMRoom(u1, u2 UID) RoomKey {
	if u2 < u1 {
		u1, u2 = u2, u1
	}
	return RoomKey{kind: RoomDM, a: u1, b: u2}
}

func (k RoomKey) Kind() RoomKind { return k.kind }

// ChannelID returns the voice channel id; empty for other kinds.
func (k RoomKey) ChannelID() string { return k.channel }

// Participants returns the sorted DM pair; zero values for other kinds.
func (k RoomKey) Participants() (UID, UID) { return k.a, k.b }

// String renders the canonical wire form: "broadcast", "voice:<id>",
// "dm:<a>:<b>".
func (k RoomKey) String() string {
	switch k.kind {
	case RoomBroadcast:
		return "broadcast"
	case RoomVoice:
		return "voice:" + k.channel
	case RoomDM:
		return "dm:" + string(k.a) + ":" + string(k.b)
	default:
		return "invalid"
	}
}

// ParseRoomKey parses the canonical wire form back into a key.
func ParseRoomKey(s string) (RoomKey, error) {
	switch {
	case s == "broadcast":
		return BroadcastRoom(), nil
	case strings.HasPrefix(s, "voice:"):
		id := strings.TrimPrefix(s, "voice:")
		if id == "" {
			return RoomKey{}, &ValidationError{Field: "room", Reason: "empty voice channel id"}
		}
		return VoiceRoom(id), nil
	case strings.HasPrefix(s, "dm:"):
		parts := strings.SplitN(strings.TrimPrefix(s, "dm:"), ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return RoomKey{}, &ValidationError{Field: "room", Reason: "malformed dm pair"}
		}
		return DMRoom(UID(parts[0]), UID(parts[1])), nil
	default:
		return RoomKey{}, &ValidationError{Field: "room", Reason: fmt.Sprintf("unknown room key %q", s)}
	}
}
