// Package app wires the collaborators together and reacts to inbound
// events. Every state transition that touches more than one collaborator
// runs through the Orchestrator so ordering stays in one place.
package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/aurachat/aurad/internal/auth"
	"github.com/aurachat/aurad/internal/core"
	"github.com/aurachat/aurad/internal/dispatch"
	"github.com/aurachat/aurad/internal/domain"
	"github.com/aurachat/aurad/internal/metrics"
	"github.com/aurachat/aurad/internal/perm"
	"github.com/aurachat/aurad/internal/presence"
	"github.com/aurachat/aurad/internal/protocol"
	"github.com/aurachat/aurad/internal/registry"
	"github.com/aurachat/aurad/internal/render"
	"github.com/aurachat/aurad/internal/rooms"
	"github.com/aurachat/aurad/internal/signal"
	"github.com/aurachat/aurad/internal/store"
	"github.com/aurachat/aurad/internal/tokens"
)

// Orchestrator coordinates auth, rooms, presence, dispatch and
// signaling. The websocket transport calls one method per inbound event.
type Orchestrator struct {
	st     store.Store
	reg    *registry.Registry
	router *rooms.Router
	roster *presence.Aggregator
	auth   *auth.Manager
	disp   *dispatch.Dispatcher
	relay  *signal.Relay
	tokens *tokens.Store
	policy Policy
}

func NewOrchestrator(st store.Store, reg *registry.Registry, router *rooms.Router, roster *presence.Aggregator, authMgr *auth.Manager, relay *signal.Relay, tok *tokens.Store, renderer render.Inline, policy Policy) *Orchestrator {
	o := &Orchestrator{
		st:     st,
		reg:    reg,
		router: router,
		roster: roster,
		auth:   authMgr,
		relay:  relay,
		tokens: tok,
		policy: policy,
	}
	o.disp = dispatch.NewDispatcher(st, reg, router, roster, renderer, o.deliver)

	// Every registry mutation yields exactly one roster broadcast.
	reg.SetOnChange(o.broadcastRoster)
	// Forced-logout runs the full disconnect cascade, not a bare unbind.
	authMgr.EvictFn = o.evict
	return o
}

// --- auth flows ---

func (o *Orchestrator) Register(ctx context.Context, connID core.ConnID, sink core.Sink, p protocol.RegisterPayload) {
	_, err := o.auth.Register(ctx, p.Nickname, p.Email, p.Password)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("register", "error").Inc()
		o.sendSink(connID, sink, protocol.ErrorEvent{Type: protocol.EvtAuthError, Code: domain.WireCode(err), Message: err.Error()})
		return
	}
	metrics.AuthAttempts.WithLabelValues("register", "ok").Inc()
	o.sendSink(connID, sink, protocol.AuthSuccessEvent{Type: protocol.EvtAuthSuccess, Flow: "register"})
}

func (o *Orchestrator) Login(ctx context.Context, connID core.ConnID, sink core.Sink, p protocol.LoginPayload) {
	ident, token, err := o.auth.Login(ctx, connID, sink, p.Email, p.Password, p.RememberMe)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("login", "error").Inc()
		o.sendSink(connID, sink, protocol.ErrorEvent{Type: protocol.EvtLoginError, Code: domain.WireCode(err)})
		return
	}
	metrics.AuthAttempts.WithLabelValues("login", "ok").Inc()
	o.finishSession(ctx, connID, sink, ident, token)
}

// Resume consumes an auto-login token. A stale token is not an auth
// failure; the client just falls back to the login form.
func (o *Orchestrator) Resume(ctx context.Context, connID core.ConnID, sink core.Sink, p protocol.ResumePayload) {
	ident, next, hit, err := o.auth.Resume(ctx, connID, sink, p.Token)
	if !hit {
		metrics.AuthAttempts.WithLabelValues("resume", "miss").Inc()
		o.sendSink(connID, sink, protocol.ResumeExpiredEvent{Type: protocol.EvtResumeExpired})
		return
	}
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("resume", "error").Inc()
		o.sendSink(connID, sink, protocol.ErrorEvent{Type: protocol.EvtLoginError, Code: domain.WireCode(err)})
		return
	}
	metrics.AuthAttempts.WithLabelValues("resume", "ok").Inc()
	o.finishSession(ctx, connID, sink, ident, "")
	o.sendSink(connID, sink, protocol.TokenRefreshedEvent{Type: protocol.EvtTokenRefreshed, Token: next})
}

// finishSession runs the shared post-auth path: broadcast-room
// membership, login-success, then the initial data load.
func (o *Orchestrator) finishSession(ctx context.Context, connID core.ConnID, sink core.Sink, ident *domain.Identity, token string) {
	if err := o.router.Join(connID, domain.BroadcastRoom()); err != nil {
		log.Error().Err(err).Str("module", "app").Str("conn", string(connID)).Msg("broadcast join failed")
	}
	o.sendSink(connID, sink, protocol.LoginSuccessEvent{
		Type:     protocol.EvtLoginSuccess,
		ConnID:   connID,
		Identity: *ident,
		Token:    token,
	})

	channels, err := o.st.ListChannels(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "app").Msg("list channels for initial load")
	}
	convs, err := o.st.ConversationsOf(ctx, ident.UID)
	if err != nil {
		log.Error().Err(err).Str("module", "app").Msg("list conversations for initial load")
	}
	o.sendSink(connID, sink, protocol.InitialDataLoadedEvent{
		Type:          protocol.EvtInitialDataLoaded,
		Channels:      channels,
		Users:         o.roster.ComputeRoster(ctx),
		Conversations: convs,
	})
}

func (o *Orchestrator) Logout(connID core.ConnID) {
	o.auth.Logout(connID)
	o.Disconnect(connID)
}

// Disconnect is the single teardown path, used for socket loss, logout,
// kicks and eviction. Room cascade runs synchronously before the
// registry entry goes away, so no fan-out computed afterwards can still
// include the dying connection.
func (o *Orchestrator) Disconnect(connID core.ConnID) {
	conn, ok := o.reg.FindByConn(connID)

	left := o.router.LeaveAll(connID)
	for _, key := range left {
		evt := protocol.VoiceUserEvent{
			Type:      protocol.EvtVoiceUserLeft,
			ChannelID: key.ChannelID(),
			ConnID:    connID,
		}
		if ok && conn.Identity != nil {
			evt.UID = conn.UID()
			evt.Nickname = conn.Identity.Nickname
		}
		o.deliver(o.router.Fanout(key), evt)
	}

	// Unregister fires the roster broadcast; callers never re-broadcast.
	o.reg.Unregister(connID)
}

func (o *Orchestrator) UpdateProfile(ctx context.Context, connID core.ConnID, p protocol.UpdateProfilePayload) {
	ident, err := o.auth.UpdateProfile(ctx, connID, p.Nickname, p.AvatarURL)
	if err != nil {
		o.fail(connID, err)
		return
	}
	o.sendTo(connID, protocol.ProfileUpdateEvent{Type: protocol.EvtProfileUpdate, Identity: *ident})
}

func (o *Orchestrator) SetStatus(connID core.ConnID, p protocol.SetStatusPayload) {
	if err := o.reg.UpdateStatus(connID, p.Status); err != nil {
		o.fail(connID, err)
	}
}

// --- channels ---

func (o *Orchestrator) CreateChannel(ctx context.Context, connID core.ConnID, p protocol.CreateChannelPayload) {
	actor, err := o.requireRole(connID, domain.RoleAdmin)
	if err != nil {
		o.fail(connID, err)
		return
	}
	ch := &domain.Channel{
		ID:        uuid.NewString(),
		Name:      p.Name,
		CreatedBy: actor.UID(),
		CreatedAt: time.Now().UTC(),
	}
	if err := ch.Validate(); err != nil {
		o.fail(connID, &domain.ValidationError{Field: "channel", Reason: err.Error()})
		return
	}
	if err := o.st.CreateChannel(ctx, ch); err != nil {
		o.fail(connID, &domain.CollaboratorError{Op: "create channel", Err: err})
		return
	}
	o.broadcast(protocol.ChannelCreatedEvent{Type: protocol.EvtChannelCreated, Channel: *ch})
	o.broadcastChannelList(ctx)
	log.Info().Str("module", "app").Str("channel", ch.ID).Str("by", string(actor.UID())).Msg("channel created")
}

func (o *Orchestrator) DeleteChannel(ctx context.Context, connID core.ConnID, p protocol.DeleteChannelPayload) {
	if _, err := o.requireRole(connID, domain.RoleAdmin); err != nil {
		o.fail(connID, err)
		return
	}
	ch, err := o.st.GetChannel(ctx, p.ChannelID)
	if err != nil {
		o.fail(connID, &domain.CollaboratorError{Op: "load channel", Err: err})
		return
	}
	if ch == nil {
		o.fail(connID, &domain.NotFoundError{Kind: "channel", Key: p.ChannelID})
		return
	}

	// Empty the voice room before the record goes away.
	key := domain.VoiceRoom(ch.ID)
	for _, member := range o.router.Fanout(key) {
		o.router.Leave(member, key)
		_ = o.reg.SetVoiceChannel(member, "")
		o.sendTo(member, protocol.VoiceUserEvent{Type: protocol.EvtVoiceUserLeft, ChannelID: ch.ID, ConnID: member})
	}

	if err := o.st.DeleteChannel(ctx, ch.ID); err != nil {
		o.fail(connID, &domain.CollaboratorError{Op: "delete channel", Err: err})
		return
	}
	o.broadcast(protocol.ChannelDeletedEvent{Type: protocol.EvtChannelDeleted, ChannelID: ch.ID})
	o.broadcastChannelList(ctx)
}

func (o *Orchestrator) broadcastChannelList(ctx context.Context) {
	channels, err := o.st.ListChannels(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "app").Msg("list channels")
		return
	}
	o.broadcast(protocol.ChannelListEvent{Type: protocol.EvtChannelList, Channels: channels})
}

// --- messaging ---

func (o *Orchestrator) ChatMessage(ctx context.Context, connID core.ConnID, p protocol.ChatMessagePayload) {
	msg, err := o.disp.Submit(ctx, connID, p.Room, p.Content, p.File, p.ReplyTo)
	if err != nil {
		o.fail(connID, err)
		return
	}
	key, _ := domain.ParseRoomKey(msg.Room)
	metrics.MessagesDispatched.WithLabelValues(key.Kind().String()).Inc()
}

func (o *Orchestrator) ToggleReaction(ctx context.Context, connID core.ConnID, p protocol.ToggleReactionPayload) {
	if err := o.disp.ToggleReaction(ctx, connID, p.MessageID, p.Emoji); err != nil {
		o.fail(connID, err)
	}
}

func (o *Orchestrator) EditMessage(ctx context.Context, connID core.ConnID, p protocol.EditMessagePayload) {
	if err := o.disp.EditMessage(ctx, connID, p.MessageID, p.Content); err != nil {
		o.fail(connID, err)
	}
}

func (o *Orchestrator) DeleteMessage(ctx context.Context, connID core.ConnID, p protocol.DeleteMessagePayload) {
	if err := o.disp.DeleteMessage(ctx, connID, p.MessageID); err != nil {
		o.fail(connID, err)
	}
}

func (o *Orchestrator) PastMessages(ctx context.Context, connID core.ConnID, p protocol.PastMessagesPayload) {
	msgs, err := o.disp.History(ctx, connID, p.Room, p.Limit)
	if err != nil {
		o.fail(connID, err)
		return
	}
	key, err := domain.ParseRoomKey(p.Room)
	if err != nil {
		o.fail(connID, err)
		return
	}
	evtType := protocol.EvtPastMessages
	if key.Kind() == domain.RoomDM {
		evtType = protocol.EvtDMHistory
	}
	o.sendTo(connID, protocol.PastMessagesEvent{Type: evtType, Room: key.String(), Messages: msgs})
}

func (o *Orchestrator) Typing(connID core.ConnID, p protocol.TypingPayload) {
	conn, ok := o.reg.FindByConn(connID)
	if !ok || conn.Identity == nil {
		return
	}
	key, err := domain.ParseRoomKey(p.Room)
	if err != nil {
		return
	}
	evt := protocol.TypingEvent{Type: protocol.EvtTyping, Room: key.String(), UID: conn.UID(), Nickname: conn.Identity.Nickname}
	// Typing never echoes back to the typist.
	for _, id := range o.router.Fanout(key) {
		if id != connID {
			o.sendTo(id, evt)
		}
	}
}

// --- voice ---

func (o *Orchestrator) JoinVoice(ctx context.Context, connID core.ConnID, p protocol.JoinVoicePayload) {
	conn, ok := o.reg.FindByConn(connID)
	if !ok || conn.Identity == nil {
		return
	}
	ch, err := o.st.GetChannel(ctx, p.ChannelID)
	if err != nil {
		o.fail(connID, &domain.CollaboratorError{Op: "load channel", Err: err})
		return
	}
	if ch == nil {
		o.fail(connID, &domain.NotFoundError{Kind: "channel", Key: p.ChannelID})
		return
	}

	// At most one voice room per connection.
	if conn.VoiceChannel != "" && conn.VoiceChannel != ch.ID {
		o.leaveVoice(connID, conn)
	}

	key := domain.VoiceRoom(ch.ID)
	peers := o.router.Fanout(key)
	if err := o.router.Join(connID, key); err != nil {
		o.fail(connID, err)
		return
	}
	_ = o.reg.SetVoiceChannel(connID, ch.ID)

	o.sendTo(connID, protocol.ReadyToTalkEvent{Type: protocol.EvtReadyToTalk, ChannelID: ch.ID, PeerIDs: peers})
	joined := protocol.VoiceUserEvent{
		Type:      protocol.EvtVoiceUserJoined,
		ChannelID: ch.ID,
		ConnID:    connID,
		UID:       conn.UID(),
		Nickname:  conn.Identity.Nickname,
	}
	o.deliver(peers, joined)
}

func (o *Orchestrator) LeaveVoice(connID core.ConnID) {
	conn, ok := o.reg.FindByConn(connID)
	if !ok || conn.VoiceChannel == "" {
		return
	}
	o.leaveVoice(connID, conn)
}

func (o *Orchestrator) leaveVoice(connID core.ConnID, conn registry.Connection) {
	key := domain.VoiceRoom(conn.VoiceChannel)
	o.router.Leave(connID, key)
	_ = o.reg.SetVoiceChannel(connID, "")

	evt := protocol.VoiceUserEvent{Type: protocol.EvtVoiceUserLeft, ChannelID: key.ChannelID(), ConnID: connID}
	if conn.Identity != nil {
		evt.UID = conn.UID()
		evt.Nickname = conn.Identity.Nickname
	}
	o.deliver(o.router.Fanout(key), evt)
}

func (o *Orchestrator) ToggleFlag(connID core.ConnID, p protocol.ToggleFlagPayload) {
	var err error
	switch p.Flag {
	case "mute":
		err = o.reg.SetMuted(connID, p.On)
	case "deafen":
		err = o.reg.SetDeafened(connID, p.On)
	default:
		err = &domain.ValidationError{Field: "flag", Reason: "unknown flag " + p.Flag}
	}
	if err != nil {
		o.fail(connID, err)
	}
}

func (o *Orchestrator) ToggleSpeaking(connID core.ConnID, p protocol.ToggleSpeakingPayload) {
	_ = o.reg.SetSpeaking(connID, p.On)
}

// Signal relays one negotiation payload. Both ends must share a voice
// room; anything else is dropped without a reply, matching the relay's
// silent-drop contract.
func (o *Orchestrator) Signal(connID core.ConnID, kind signal.Kind, p protocol.SignalPayload) {
	from, ok := o.reg.FindByConn(connID)
	if !ok || from.VoiceChannel == "" {
		return
	}
	to, ok := o.reg.FindByConn(p.To)
	if !ok || to.VoiceChannel != from.VoiceChannel {
		return
	}
	o.relay.Forward(connID, p.To, kind, p.Data)
	metrics.SignalsRelayed.WithLabelValues(string(kind)).Inc()
}

// --- admin ---

func (o *Orchestrator) ChangeRole(ctx context.Context, connID core.ConnID, p protocol.AdminChangeRolePayload) {
	actor, target, err := o.moderationPair(ctx, connID, p.TargetUID)
	if err != nil {
		o.fail(connID, err)
		return
	}
	newRole := domain.ParseRole(p.Role)
	if !newRole.Valid() {
		o.fail(connID, &domain.ValidationError{Field: "role", Reason: "unknown role " + p.Role})
		return
	}
	if err := perm.RequireAssign(actor.Identity.Role, newRole); err != nil {
		o.fail(connID, err)
		return
	}

	if err := o.st.SetIdentityRole(ctx, target.UID, newRole); err != nil {
		o.fail(connID, &domain.CollaboratorError{Op: "set role", Err: err})
		return
	}
	o.refreshCachedIdentity(target.UID, func(ident *domain.Identity) { ident.Role = newRole })
	o.broadcast(protocol.SystemMessageEvent{
		Type: protocol.EvtSystemMessage,
		Text: target.Nickname + " is now " + newRole.String(),
	})
	log.Info().Str("module", "app").Str("target", string(target.UID)).Str("role", newRole.String()).Msg("role changed")
}

func (o *Orchestrator) Kick(ctx context.Context, connID core.ConnID, p protocol.AdminKickPayload) {
	_, target, err := o.moderationPair(ctx, connID, p.TargetUID)
	if err != nil {
		o.fail(connID, err)
		return
	}
	conn, ok := o.reg.FindByUID(target.UID)
	if !ok {
		o.fail(connID, &domain.NotFoundError{Kind: "connection", Key: string(target.UID)})
		return
	}

	reason := p.Reason
	if reason == "" {
		reason = "kicked by a moderator"
	}
	o.sendTo(conn.ID, protocol.KickedEvent{Type: protocol.EvtKicked, Reason: reason})
	o.Disconnect(conn.ID)
	if conn.Sink != nil {
		conn.Sink.Close()
	}
	o.broadcast(protocol.SystemMessageEvent{Type: protocol.EvtSystemMessage, Text: target.Nickname + " was kicked"})
}

func (o *Orchestrator) ToggleBan(ctx context.Context, connID core.ConnID, p protocol.AdminToggleBanPayload) {
	_, target, err := o.moderationPair(ctx, connID, p.TargetUID)
	if err != nil {
		o.fail(connID, err)
		return
	}
	banned := !target.Banned
	if err := o.st.SetIdentityBanned(ctx, target.UID, banned); err != nil {
		o.fail(connID, &domain.CollaboratorError{Op: "set banned", Err: err})
		return
	}

	if banned {
		// A ban ends the live session and every resume token.
		o.tokens.RevokeAll(target.UID)
		if conn, ok := o.reg.FindByUID(target.UID); ok {
			o.sendTo(conn.ID, protocol.KickedEvent{Type: protocol.EvtKicked, Reason: "banned"})
			o.Disconnect(conn.ID)
			if conn.Sink != nil {
				conn.Sink.Close()
			}
		}
		o.broadcast(protocol.SystemMessageEvent{Type: protocol.EvtSystemMessage, Text: target.Nickname + " was banned"})
	} else {
		o.broadcast(protocol.SystemMessageEvent{Type: protocol.EvtSystemMessage, Text: target.Nickname + " was unbanned"})
	}
	o.refreshCachedIdentity(target.UID, func(ident *domain.Identity) { ident.Banned = banned })
	// Offline targets change no registry state; broadcast the roster so
	// the badge flips everywhere anyway.
	o.broadcastRoster()
}

// moderationPair loads actor and target and enforces the strict rank
// check shared by every moderation action.
func (o *Orchestrator) moderationPair(ctx context.Context, connID core.ConnID, targetUID domain.UID) (registry.Connection, *domain.Identity, error) {
	actor, ok := o.reg.FindByConn(connID)
	if !ok || actor.Identity == nil {
		return registry.Connection{}, nil, &domain.NotFoundError{Kind: "connection", Key: string(connID)}
	}
	target, err := o.st.GetIdentity(ctx, targetUID)
	if err != nil {
		return registry.Connection{}, nil, &domain.CollaboratorError{Op: "load identity", Err: err}
	}
	if target == nil {
		return registry.Connection{}, nil, &domain.NotFoundError{Kind: "identity", Key: string(targetUID)}
	}
	if err := perm.RequireAct(actor.Identity.Role, target.Role); err != nil {
		return registry.Connection{}, nil, err
	}
	return actor, target, nil
}

func (o *Orchestrator) requireRole(connID core.ConnID, min domain.Role) (registry.Connection, error) {
	conn, ok := o.reg.FindByConn(connID)
	if !ok || conn.Identity == nil {
		return registry.Connection{}, &domain.NotFoundError{Kind: "connection", Key: string(connID)}
	}
	if perm.Level(conn.Identity.Role) < perm.Level(min) {
		return registry.Connection{}, &domain.AuthorizationError{Reason: "requires " + min.String()}
	}
	return conn, nil
}

// refreshCachedIdentity applies fn to the live cache when the target is
// online. The store was already written; this only syncs the snapshot.
func (o *Orchestrator) refreshCachedIdentity(uid domain.UID, fn func(*domain.Identity)) {
	if conn, ok := o.reg.FindByUID(uid); ok {
		_ = o.reg.UpdateIdentity(conn.ID, fn)
	}
}

// evict implements forced logout when the same identity signs in again.
func (o *Orchestrator) evict(old registry.Connection) {
	if old.Sink != nil {
		o.sendTo(old.ID, protocol.KickedEvent{Type: protocol.EvtKicked, Reason: "signed in from another connection"})
	}
	o.Disconnect(old.ID)
	if old.Sink != nil {
		old.Sink.Close()
	}
}

// --- outbound plumbing ---

// broadcastRoster recomputes and fans out the user list. Installed as
// the registry change hook; one mutation, one broadcast.
func (o *Orchestrator) broadcastRoster() {
	roster := o.roster.ComputeRoster(context.Background())
	o.broadcast(protocol.UserListEvent{Type: protocol.EvtUserList, Users: roster})
	metrics.RosterBroadcasts.Inc()
}

func (o *Orchestrator) broadcast(event any) {
	o.deliver(o.router.Fanout(domain.BroadcastRoom()), event)
}

// deliver encodes once and sends to every target. Full queues drop the
// frame for that target only; the policy decides when a persistently
// slow connection gets disconnected instead.
func (o *Orchestrator) deliver(targets []core.ConnID, event any) {
	frame, err := protocol.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("module", "app").Msg("event marshal")
		return
	}
	var res core.PublishResult
	for _, id := range targets {
		sink, ok := o.reg.SinkOf(id)
		if !ok {
			continue
		}
		if err := sink.TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, id)
			metrics.FramesDropped.Inc()
			continue
		}
		res.SentTo++
		if o.policy != nil {
			o.policy.OnDelivered(id)
		}
	}
	for _, slow := range res.Dropped {
		log.Debug().Str("module", "app").Str("conn", string(slow)).Msg("frame dropped, queue full")
		if o.policy != nil && o.policy.OnBackPressure(slow) == KickConn {
			log.Warn().Str("module", "app").Str("conn", string(slow)).Msg("disconnecting persistently slow connection")
			if sink, ok := o.reg.SinkOf(slow); ok {
				o.Disconnect(slow)
				sink.Close()
			}
		}
	}
}

func (o *Orchestrator) sendTo(id core.ConnID, event any) {
	o.deliver([]core.ConnID{id}, event)
}

// fail reports an operation error back to the originating connection
// only; errors never fan out.
func (o *Orchestrator) fail(id core.ConnID, err error) {
	log.Debug().Err(err).Str("module", "app").Str("conn", string(id)).Msg("operation failed")
	o.sendTo(id, protocol.ErrorEvent{
		Type:    protocol.EvtSystemMessage,
		Code:    domain.WireCode(err),
		Message: err.Error(),
	})
}

// sendSink replies on a sink that may not be registered yet (pre-auth
// traffic).
func (o *Orchestrator) sendSink(id core.ConnID, sink core.Sink, event any) {
	frame, err := protocol.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("module", "app").Msg("event marshal")
		return
	}
	if err := sink.TrySend(frame); err != nil {
		metrics.FramesDropped.Inc()
		log.Debug().Str("module", "app").Str("conn", string(id)).Msg("pre-auth frame dropped")
	}
}
