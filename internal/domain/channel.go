package domain

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const MaxChannelNameLen = 64

var (
	ErrChannelNameEmpty   = errors.New("channel name must not be empty")
	ErrChannelNameTooLong = errors.New("channel name too long")
)

// Channel is a persisted voice/text channel record. Voice rooms are keyed
// by the channel id alone; channels are server-global.
type Channel struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy UID       `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

func (c *Channel) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrChannelNameEmpty
	}
	if utf8.RuneCountInString(c.Name) > MaxChannelNameLen {
		return ErrChannelNameTooLong
	}
	return nil
}

// ConversationSummary is the DM-list metadata record, upserted on every
// DM send.
type ConversationSummary struct {
	Key           string    `json:"key"` // canonical dm room key
	Participants  [2]UID    `json:"participants"`
	LastPreview   string    `json:"lastPreview"`
	LastSenderUID UID       `json:"lastSenderUid"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

const maxPreviewLen = 80

// NewConversationSummary builds the summary for a just-sent DM.
func NewConversationSummary(key RoomKey, msg *Message) ConversationSummary {
	a, b := key.Participants()
	preview := msg.Content
	if preview == "" && msg.File != nil {
		preview = msg.File.Name
	}
	if utf8.RuneCountInString(preview) > maxPreviewLen {
		runes := []rune(preview)
		preview = string(runes[:maxPreviewLen])
	}
	return ConversationSummary{
		Key:           key.String(),
		Participants:  [2]UID{a, b},
		LastPreview:   preview,
		LastSenderUID: msg.SenderUID,
		UpdatedAt:     msg.CreatedAt,
	}
}
