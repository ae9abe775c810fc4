// Package dispatch runs the message pipeline: resolve sender, sanitize,
// resolve mentions, persist, fan out. It also owns reaction toggles and
// the edit/delete moderation paths.
package dispatch

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/aurachat/aurad/internal/core"
	"github.com/aurachat/aurad/internal/domain"
	"github.com/aurachat/aurad/internal/perm"
	"github.com/aurachat/aurad/internal/presence"
	"github.com/aurachat/aurad/internal/protocol"
	"github.com/aurachat/aurad/internal/registry"
	"github.com/aurachat/aurad/internal/render"
	"github.com/aurachat/aurad/internal/rooms"
	"github.com/aurachat/aurad/internal/store"
)

// Deliver sends one encoded event to a set of connections. The
// orchestrator supplies it so all outbound traffic funnels through one
// place.
type Deliver func(targets []core.ConnID, event any)

const reactionStripes = 64

// Dispatcher coordinates message flow. It holds no message state of its
// own; the store is the single source of truth.
type Dispatcher struct {
	st      store.Store
	reg     *registry.Registry
	router  *rooms.Router
	roster  *presence.Aggregator
	render  render.Inline
	deliver Deliver

	// Striped per-message locks so two toggles on the same message order
	// their broadcasts the same way the store ordered their writes.
	reactMu [reactionStripes]sync.Mutex
}

func NewDispatcher(st store.Store, reg *registry.Registry, router *rooms.Router, roster *presence.Aggregator, r render.Inline, deliver Deliver) *Dispatcher {
	return &Dispatcher{st: st, reg: reg, router: router, roster: roster, render: r, deliver: deliver}
}

// Submit runs the full inbound pipeline for one chat message and
// returns the finalized message as persisted.
func (d *Dispatcher) Submit(ctx context.Context, connID core.ConnID, roomKey string, content string, file *domain.FileRef, replyTo string) (*domain.Message, error) {
	sender, ok := d.reg.FindByConn(connID)
	if !ok || sender.Identity == nil {
		return nil, &domain.NotFoundError{Kind: "connection", Key: string(connID)}
	}

	key, err := domain.ParseRoomKey(roomKey)
	if err != nil {
		return nil, err
	}
	if err := d.authorizeRoom(connID, sender.UID(), key); err != nil {
		return nil, err
	}

	msg := &domain.Message{
		Room:            key.String(),
		SenderUID:       sender.UID(),
		SenderNickname:  sender.Identity.Nickname,
		SenderAvatarURL: sender.Identity.AvatarURL,
		Content:         d.render.RenderInline(content),
		File:            file,
		ReplyTo:         replyTo,
	}
	if err := msg.Validate(); err != nil {
		return nil, &domain.ValidationError{Field: "message", Reason: err.Error()}
	}

	msg.Content, msg.Mentions = d.resolveMentions(ctx, msg.Content)

	if err := d.st.AppendMessage(ctx, msg); err != nil {
		return nil, &domain.CollaboratorError{Op: "append message", Err: err}
	}

	if key.Kind() == domain.RoomDM {
		sum := domain.NewConversationSummary(key, msg)
		if err := d.st.UpsertConversation(ctx, sum); err != nil {
			// The message itself is persisted; the send goes through, but
			// the sender learns the conversation list may lag.
			log.Error().Err(err).Str("module", "dispatch").Str("room", msg.Room).Msg("conversation upsert failed")
			d.deliver([]core.ConnID{connID}, protocol.ErrorEvent{
				Type:    protocol.EvtSystemMessage,
				Code:    domain.CodeUnavailable,
				Message: "message sent, but your conversation list may be out of date",
			})
		}
	}

	d.deliver(d.router.Fanout(key), protocol.ChatMessageEvent{Type: protocol.EvtChatMessage, Message: *msg})
	log.Debug().Str("module", "dispatch").Str("room", msg.Room).Str("id", msg.ID).Msg("message dispatched")
	return msg, nil
}

// ToggleReaction flips uid's membership in the emoji's reactor set
// against the latest persisted state, then broadcasts the full new map.
func (d *Dispatcher) ToggleReaction(ctx context.Context, connID core.ConnID, messageID, emoji string) error {
	sender, ok := d.reg.FindByConn(connID)
	if !ok || sender.Identity == nil {
		return &domain.NotFoundError{Kind: "connection", Key: string(connID)}
	}
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return &domain.ValidationError{Field: "emoji", Reason: "empty"}
	}

	msg, err := d.st.GetMessage(ctx, messageID)
	if err != nil {
		return &domain.CollaboratorError{Op: "load message", Err: err}
	}
	if msg == nil {
		return &domain.NotFoundError{Kind: "message", Key: messageID}
	}

	mu := &d.reactMu[stripe(messageID)]
	mu.Lock()
	defer mu.Unlock()

	uid := sender.UID()
	updated, err := d.st.UpdateReactions(ctx, messageID, func(reactions map[string][]domain.UID) {
		set := reactions[emoji]
		for i, u := range set {
			if u == uid {
				set = append(set[:i], set[i+1:]...)
				if len(set) == 0 {
					delete(reactions, emoji)
				} else {
					reactions[emoji] = set
				}
				return
			}
		}
		reactions[emoji] = append(set, uid)
	})
	if err != nil {
		return &domain.CollaboratorError{Op: "update reactions", Err: err}
	}

	key, err := domain.ParseRoomKey(msg.Room)
	if err != nil {
		return err
	}
	d.deliver(d.router.Fanout(key), protocol.ReactionUpdateEvent{
		Type:      protocol.EvtReactionUpdate,
		MessageID: messageID,
		Room:      msg.Room,
		Reactions: updated,
	})
	return nil
}

// EditMessage replaces the content of the caller's own message. Nobody
// edits on behalf of others, moderators included.
func (d *Dispatcher) EditMessage(ctx context.Context, connID core.ConnID, messageID, content string) error {
	sender, ok := d.reg.FindByConn(connID)
	if !ok || sender.Identity == nil {
		return &domain.NotFoundError{Kind: "connection", Key: string(connID)}
	}
	msg, err := d.st.GetMessage(ctx, messageID)
	if err != nil {
		return &domain.CollaboratorError{Op: "load message", Err: err}
	}
	if msg == nil {
		return &domain.NotFoundError{Kind: "message", Key: messageID}
	}
	if msg.SenderUID != sender.UID() {
		return &domain.AuthorizationError{Reason: "only the sender can edit a message"}
	}

	content = d.render.RenderInline(content)
	check := *msg
	check.Content = content
	if err := check.Validate(); err != nil {
		return &domain.ValidationError{Field: "message", Reason: err.Error()}
	}

	if err := d.st.UpdateMessageContent(ctx, messageID, content); err != nil {
		return &domain.CollaboratorError{Op: "edit message", Err: err}
	}

	key, err := domain.ParseRoomKey(msg.Room)
	if err != nil {
		return err
	}
	d.deliver(d.router.Fanout(key), protocol.MessageEditedEvent{
		Type:      protocol.EvtMessageEdited,
		MessageID: messageID,
		Room:      msg.Room,
		Content:   content,
	})
	return nil
}

// DeleteMessage removes a message. The sender may always delete their
// own; otherwise the caller's role must outrank the sender's.
func (d *Dispatcher) DeleteMessage(ctx context.Context, connID core.ConnID, messageID string) error {
	actor, ok := d.reg.FindByConn(connID)
	if !ok || actor.Identity == nil {
		return &domain.NotFoundError{Kind: "connection", Key: string(connID)}
	}
	msg, err := d.st.GetMessage(ctx, messageID)
	if err != nil {
		return &domain.CollaboratorError{Op: "load message", Err: err}
	}
	if msg == nil {
		return &domain.NotFoundError{Kind: "message", Key: messageID}
	}

	if msg.SenderUID != actor.UID() {
		senderRole := domain.RoleMember
		if ident, err := d.st.GetIdentity(ctx, msg.SenderUID); err == nil && ident != nil {
			senderRole = ident.Role
		}
		if err := perm.RequireAct(actor.Identity.Role, senderRole); err != nil {
			return err
		}
	}

	if err := d.st.DeleteMessage(ctx, messageID); err != nil {
		return &domain.CollaboratorError{Op: "delete message", Err: err}
	}

	key, err := domain.ParseRoomKey(msg.Room)
	if err != nil {
		return err
	}
	d.deliver(d.router.Fanout(key), protocol.MessageDeletedEvent{
		Type:      protocol.EvtMessageDeleted,
		MessageID: messageID,
		Room:      msg.Room,
	})
	return nil
}

const defaultHistoryLimit = 50

// History returns up to limit messages for a room, oldest first. DM
// history is only visible to the two participants.
func (d *Dispatcher) History(ctx context.Context, connID core.ConnID, roomKey string, limit int) ([]domain.Message, error) {
	sender, ok := d.reg.FindByConn(connID)
	if !ok || sender.Identity == nil {
		return nil, &domain.NotFoundError{Kind: "connection", Key: string(connID)}
	}
	key, err := domain.ParseRoomKey(roomKey)
	if err != nil {
		return nil, err
	}
	if key.Kind() == domain.RoomDM {
		a, b := key.Participants()
		if sender.UID() != a && sender.UID() != b {
			return nil, &domain.AuthorizationError{Reason: "not a participant of this conversation"}
		}
	}
	if limit <= 0 || limit > 200 {
		limit = defaultHistoryLimit
	}
	msgs, err := d.st.MessagesByRoom(ctx, key.String(), limit)
	if err != nil {
		return nil, &domain.CollaboratorError{Op: "load history", Err: err}
	}
	return msgs, nil
}

// authorizeRoom checks that connID may post to key. Broadcast is open to
// every authenticated connection; voice requires current membership; DM
// requires the sender to be one of the pair.
func (d *Dispatcher) authorizeRoom(connID core.ConnID, uid domain.UID, key domain.RoomKey) error {
	switch key.Kind() {
	case domain.RoomBroadcast:
		return nil
	case domain.RoomVoice:
		if !d.router.IsMember(connID, key) {
			return &domain.AuthorizationError{Reason: "not in this voice channel"}
		}
		return nil
	case domain.RoomDM:
		a, b := key.Participants()
		if uid != a && uid != b {
			return &domain.AuthorizationError{Reason: "not a participant of this conversation"}
		}
		return nil
	default:
		return &domain.ValidationError{Field: "room", Reason: "unknown room kind"}
	}
}

// resolveMentions rewrites @nickname tokens to mention markers. The
// match is case-insensitive and exact against the current roster; the
// first roster entry that matches wins, and unmatched tokens stay as
// literal text. Each whitespace-delimited token is rewritten at its own
// position, so a short nickname never clobbers the inside of a longer
// unmatched token.
func (d *Dispatcher) resolveMentions(ctx context.Context, content string) (string, []domain.Mention) {
	if !strings.Contains(content, "@") {
		return content, nil
	}
	roster := d.roster.ComputeRoster(ctx)
	if len(roster) == 0 {
		return content, nil
	}

	var (
		b        strings.Builder
		mentions []domain.Mention
	)
	seen := make(map[domain.UID]struct{})

	for i := 0; i < len(content); {
		r, size := utf8.DecodeRuneInString(content[i:])
		if unicode.IsSpace(r) {
			b.WriteRune(r)
			i += size
			continue
		}

		j := i + size
		for j < len(content) {
			r2, s2 := utf8.DecodeRuneInString(content[j:])
			if unicode.IsSpace(r2) {
				break
			}
			j += s2
		}
		tok := content[i:j]
		i = j

		if len(tok) < 2 || tok[0] != '@' {
			b.WriteString(tok)
			continue
		}
		matched := false
		for _, entry := range roster {
			if !strings.EqualFold(entry.Nickname, tok[1:]) {
				continue
			}
			b.WriteString(domain.MentionMarker(entry.UID))
			if _, dup := seen[entry.UID]; !dup {
				seen[entry.UID] = struct{}{}
				mentions = append(mentions, domain.Mention{UID: entry.UID, Nickname: entry.Nickname})
			}
			matched = true
			break
		}
		if !matched {
			b.WriteString(tok)
		}
	}
	return b.String(), mentions
}

func stripe(id string) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() % reactionStripes)
}
