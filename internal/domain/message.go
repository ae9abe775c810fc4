package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const MaxMessageLen = 2000

var (
	ErrMessageEmpty   = errors.New("message has neither content nor file")
	ErrMessageTooLong = fmt.Errorf("message exceeds %d characters", MaxMessageLen)
)

// FileRef points at an already-uploaded file. The coordinator never
// touches the bytes, only the triple.
type FileRef struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Mime string `json:"mime"`
}

// Mention records a resolved @nickname. The matched token in Content is
// rewritten to the marker form "<@uid>".
type Mention struct {
	UID      UID    `json:"uid"`
	Nickname string `json:"nickname"`
}

// Message is the persisted chat message. The store assigns ID and
// CreatedAt; sender fields are a snapshot taken at send time.
type Message struct {
	ID              string              `json:"id"`
	Room            string              `json:"room"` // canonical RoomKey string
	SenderUID       UID                 `json:"senderUid"`
	SenderNickname  string              `json:"senderNickname"`
	SenderAvatarURL string              `json:"senderAvatarUrl"`
	Content         string              `json:"content,omitempty"`
	File            *FileRef            `json:"file,omitempty"`
	Mentions        []Mention           `json:"mentions,omitempty"`
	Reactions       map[string][]UID    `json:"reactions,omitempty"` // emoji -> reactor uids, no empty entries
	ReplyTo         string              `json:"replyTo,omitempty"`
	Edited          bool                `json:"edited"`
	CreatedAt       time.Time           `json:"createdAt"`
}

func (m *Message) Validate() error {
	if strings.TrimSpace(m.Content) == "" && m.File == nil {
		return ErrMessageEmpty
	}
	if utf8.RuneCountInString(m.Content) > MaxMessageLen {
		return ErrMessageTooLong
	}
	return nil
}

// MentionMarker renders the in-content form of a resolved mention.
func MentionMarker(uid UID) string {
	return "<@" + string(uid) + ">"
}
