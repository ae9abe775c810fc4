package domain

// PresenceStatus is the user-selected availability shown on the roster.
type PresenceStatus string

const (
	StatusOnline    PresenceStatus = "online"
	StatusIdle      PresenceStatus = "idle"
	StatusDND       PresenceStatus = "dnd"
	StatusInvisible PresenceStatus = "invisible"
)

func (s PresenceStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusIdle, StatusDND, StatusInvisible:
		return true
	default:
		return false
	}
}

// VoiceState carries the per-connection transient voice flags.
type VoiceState struct {
	Muted    bool `json:"muted"`
	Deafened bool `json:"deafened"`
	Speaking bool `json:"speaking"`
}
