// Package protocol defines the JSON event vocabulary spoken over the
// websocket. Every frame is an object with a "type" discriminator.
package protocol

import (
	"encoding/json"

	"github.com/aurachat/aurad/internal/core"
	"github.com/aurachat/aurad/internal/domain"
	"github.com/aurachat/aurad/internal/presence"
)

// Inbound event types (client -> server).
const (
	EvtRegister            = "register"
	EvtLogin               = "login"
	EvtResume              = "resume"
	EvtLogout              = "logout"
	EvtUpdateProfile       = "update-profile"
	EvtSetStatus           = "set-status"
	EvtCreateChannel       = "create-channel"
	EvtDeleteChannel       = "delete-channel"
	EvtChatMessage         = "chat-message"
	EvtToggleReaction      = "toggle-reaction"
	EvtDeleteMessage       = "delete-message"
	EvtEditMessage         = "edit-message"
	EvtJoinVoice           = "join-voice"
	EvtLeaveVoice          = "leave-voice"
	EvtToggleFlag          = "toggle-flag"
	EvtToggleSpeaking      = "toggle-speaking"
	EvtTyping              = "typing"
	EvtOffer               = "offer"
	EvtAnswer              = "answer"
	EvtCandidate           = "candidate"
	EvtAdminChangeRole     = "admin-change-role"
	EvtAdminKick           = "admin-kick"
	EvtAdminToggleBan      = "admin-toggle-ban"
	EvtRequestPastMessages = "request-past-messages"
)

// Outbound event types (server -> client).
const (
	EvtAuthSuccess       = "auth-success"
	EvtAuthError         = "auth-error"
	EvtLoginSuccess      = "login-success"
	EvtLoginError        = "login-error"
	EvtProfileUpdate     = "profile-update-result"
	EvtUserList          = "user-list"
	EvtSystemMessage     = "system-message"
	EvtChannelList       = "channel-list"
	EvtChannelCreated    = "channel-created"
	EvtChannelDeleted    = "channel-deleted"
	EvtPastMessages      = "past-messages"
	EvtDMHistory         = "dm-history"
	EvtReactionUpdate    = "reaction-update"
	EvtMessageDeleted    = "message-deleted"
	EvtMessageEdited     = "message-edited"
	EvtVoiceUserJoined   = "voice-user-joined"
	EvtVoiceUserLeft     = "voice-user-left"
	EvtReadyToTalk       = "ready-to-talk"
	EvtKicked            = "kicked"
	EvtResumeExpired     = "resume-expired"
	EvtTokenRefreshed    = "token-refreshed"
	EvtInitialDataLoaded = "initial-data-loaded"
)

// Envelope carries only the discriminator; handlers re-unmarshal the
// full payload once they know the type.
type Envelope struct {
	Type string `json:"type"`
}

// --- inbound payloads ---

type RegisterPayload struct {
	Nickname string `json:"nickname"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginPayload struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type ResumePayload struct {
	Token string `json:"token"`
}

type UpdateProfilePayload struct {
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"avatarUrl"`
}

type SetStatusPayload struct {
	Status domain.PresenceStatus `json:"status"`
}

type CreateChannelPayload struct {
	Name string `json:"name"`
}

type DeleteChannelPayload struct {
	ChannelID string `json:"channelId"`
}

type ChatMessagePayload struct {
	Room    string          `json:"room"`
	Content string          `json:"content"`
	File    *domain.FileRef `json:"file,omitempty"`
	ReplyTo string          `json:"replyTo,omitempty"`
}

type ToggleReactionPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type DeleteMessagePayload struct {
	MessageID string `json:"messageId"`
}

type EditMessagePayload struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

type JoinVoicePayload struct {
	ChannelID string `json:"channelId"`
}

type ToggleFlagPayload struct {
	Flag string `json:"flag"` // "mute" or "deafen"
	On   bool   `json:"on"`
}

type ToggleSpeakingPayload struct {
	On bool `json:"on"`
}

type TypingPayload struct {
	Room string `json:"room"`
}

// SignalPayload rides on offer/answer/candidate. Data stays opaque.
type SignalPayload struct {
	To   core.ConnID     `json:"to"`
	Data json.RawMessage `json:"data"`
}

type AdminChangeRolePayload struct {
	TargetUID domain.UID `json:"targetUid"`
	Role      string     `json:"role"`
}

type AdminKickPayload struct {
	TargetUID domain.UID `json:"targetUid"`
	Reason    string     `json:"reason"`
}

type AdminToggleBanPayload struct {
	TargetUID domain.UID `json:"targetUid"`
}

type PastMessagesPayload struct {
	Room  string `json:"room"`
	Limit int    `json:"limit"`
}

// --- outbound events ---

type AuthSuccessEvent struct {
	Type string `json:"type"` // auth-success
	Flow string `json:"flow"` // "register"
}

type ErrorEvent struct {
	Type    string           `json:"type"` // auth-error, login-error, system-message
	Code    domain.ErrorCode `json:"code"`
	Message string           `json:"message,omitempty"`
}

type LoginSuccessEvent struct {
	Type     string          `json:"type"` // login-success
	ConnID   core.ConnID     `json:"connId"`
	Identity domain.Identity `json:"identity"`
	Token    string          `json:"token,omitempty"`
}

type ProfileUpdateEvent struct {
	Type     string          `json:"type"` // profile-update-result
	Identity domain.Identity `json:"identity"`
}

type UserListEvent struct {
	Type  string                 `json:"type"` // user-list
	Users []presence.RosterEntry `json:"users"`
}

type SystemMessageEvent struct {
	Type string `json:"type"` // system-message
	Text string `json:"text"`
}

type ChannelListEvent struct {
	Type     string           `json:"type"` // channel-list
	Channels []domain.Channel `json:"channels"`
}

type ChannelCreatedEvent struct {
	Type    string         `json:"type"` // channel-created
	Channel domain.Channel `json:"channel"`
}

type ChannelDeletedEvent struct {
	Type      string `json:"type"` // channel-deleted
	ChannelID string `json:"channelId"`
}

type ChatMessageEvent struct {
	Type    string         `json:"type"` // chat-message
	Message domain.Message `json:"message"`
}

type PastMessagesEvent struct {
	Type     string           `json:"type"` // past-messages or dm-history
	Room     string           `json:"room"`
	Messages []domain.Message `json:"messages"`
}

type ReactionUpdateEvent struct {
	Type      string                      `json:"type"` // reaction-update
	MessageID string                      `json:"messageId"`
	Room      string                      `json:"room"`
	Reactions map[string][]domain.UID     `json:"reactions"`
}

type MessageDeletedEvent struct {
	Type      string `json:"type"` // message-deleted
	MessageID string `json:"messageId"`
	Room      string `json:"room"`
}

type MessageEditedEvent struct {
	Type      string `json:"type"` // message-edited
	MessageID string `json:"messageId"`
	Room      string `json:"room"`
	Content   string `json:"content"`
}

type TypingEvent struct {
	Type     string     `json:"type"` // typing
	Room     string     `json:"room"`
	UID      domain.UID `json:"uid"`
	Nickname string     `json:"nickname"`
}

type VoiceUserEvent struct {
	Type      string      `json:"type"` // voice-user-joined / voice-user-left
	ChannelID string      `json:"channelId"`
	ConnID    core.ConnID `json:"connId"`
	UID       domain.UID  `json:"uid"`
	Nickname  string      `json:"nickname"`
}

type ReadyToTalkEvent struct {
	Type      string        `json:"type"` // ready-to-talk
	ChannelID string        `json:"channelId"`
	PeerIDs   []core.ConnID `json:"peerIds"`
}

type KickedEvent struct {
	Type   string `json:"type"` // kicked
	Reason string `json:"reason"`
}

// ResumeExpiredEvent tells the client its auto-login token is spent.
// Not an error; the client falls back to the login form.
type ResumeExpiredEvent struct {
	Type string `json:"type"` // resume-expired
}

type TokenRefreshedEvent struct {
	Type  string `json:"type"` // token-refreshed
	Token string `json:"token"`
}

type InitialDataLoadedEvent struct {
	Type          string                       `json:"type"` // initial-data-loaded
	Channels      []domain.Channel             `json:"channels"`
	Users         []presence.RosterEntry       `json:"users"`
	Conversations []domain.ConversationSummary `json:"conversations"`
}

// Marshal encodes an outbound event as a frame. Marshalling our own
// structs cannot fail in practice; a nil frame signals a programming
// error the caller logs.
func Marshal(v any) (core.Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return core.Frame(b), nil
}
