package domain

import (
	"strings"
	"testing"
	"time"
)

func TestMessageValidate(t *testing.T) {
	empty := &Message{Content: "   "}
	if err := empty.Validate(); err == nil {
		t.Error("blank message without file accepted")
	}

	fileOnly := &Message{File: &FileRef{URL: "/uploads/x.png", Name: "x.png", Mime: "image/png"}}
	if err := fileOnly.Validate(); err != nil {
		t.Errorf("file-only message rejected: %v", err)
	}

	long := &Message{Content: strings.Repeat("a", MaxMessageLen+1)}
	if err := long.Validate(); err == nil {
		t.Error("overlong message accepted")
	}
}

func TestNewConversationSummaryPreview(t *testing.T) {
	key := DMRoom("a", "b")
	msg := &Message{
		SenderUID: "a",
		Content:   strings.Repeat("x", 200),
		CreatedAt: time.Now(),
	}
	sum := NewConversationSummary(key, msg)
	if sum.Key != "dm:a:b" {
		t.Errorf("key = %q", sum.Key)
	}
	if got := len([]rune(sum.LastPreview)); got != 80 {
		t.Errorf("preview length = %d, want 80", got)
	}
	if sum.LastSenderUID != "a" {
		t.Errorf("last sender = %q", sum.LastSenderUID)
	}
}

func TestNewConversationSummaryFileFallback(t *testing.T) {
	msg := &Message{SenderUID: "a", File: &FileRef{Name: "cat.png"}}
	sum := NewConversationSummary(DMRoom("a", "b"), msg)
	if sum.LastPreview != "cat.png" {
		t.Errorf("preview = %q, want file name", sum.LastPreview)
	}
}

func TestMentionMarker(t *testing.T) {
	if got := MentionMarker("u1"); got != "<@u1>" {
		t.Errorf("marker = %q", got)
	}
}
