package domain

import "testing"

func TestRoomKeyCanonicalForms(t *testing.T) {
	cases := []struct {
		key  RoomKey
		want string
	}{
		{BroadcastRoom(), "broadcast"},
		{VoiceRoom("ch1"), "voice:ch1"},
		{DMRoom("alice", "bob"), "dm:alice:bob"},
		{DMRoom("bob", "alice"), "dm:alice:bob"},
	}
	for _, tc := range cases {
		if got := tc.key.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
		parsed, err := ParseRoomKey(tc.want)
		if err != nil {
			t.Fatalf("ParseRoomKey(%q): %v", tc.want, err)
		}
		if parsed != tc.key {
			t.Errorf("ParseRoomKey(%q) = %#v, want %#v", tc.want, parsed, tc.key)
		}
	}
}

func TestDMRoomPairOrderInsensitive(t *testing.T) {
	if DMRoom("u2", "u1") != DMRoom("u1", "u2") {
		t.Fatal("dm keys for the same pair must collide")
	}
}

func TestParseRoomKeyRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "voice:", "dm:", "dm:a", "dm:a:", "dm::b", "lobby", "Broadcast"} {
		if _, err := ParseRoomKey(raw); err == nil {
			t.Errorf("ParseRoomKey(%q) accepted malformed key", raw)
		}
	}
}

func TestParseRoomKeyErrorsAreValidation(t *testing.T) {
	_, err := ParseRoomKey("nope")
	if WireCode(err) != CodeBadPayload {
		t.Fatalf("wire code = %s, want %s", WireCode(err), CodeBadPayload)
	}
}
