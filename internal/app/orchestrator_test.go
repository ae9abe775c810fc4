package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/aurachat/aurad/internal/auth"
	"github.com/aurachat/aurad/internal/authprovider"
	"github.com/aurachat/aurad/internal/core"
	"github.com/aurachat/aurad/internal/domain"
	"github.com/aurachat/aurad/internal/presence"
	"github.com/aurachat/aurad/internal/protocol"
	"github.com/aurachat/aurad/internal/registry"
	"github.com/aurachat/aurad/internal/render"
	"github.com/aurachat/aurad/internal/rooms"
	"github.com/aurachat/aurad/internal/signal"
	"github.com/aurachat/aurad/internal/store"
	"github.com/aurachat/aurad/internal/tokens"
)

type fakeSink struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
	full   bool
}

func (s *fakeSink) TrySend(f core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return fmt.Errorf("backpressure")
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *fakeSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSink) events(t *testing.T) []string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.frames))
	for _, f := range s.frames {
		var env protocol.Envelope
		if err := json.Unmarshal(f, &env); err != nil {
			t.Fatalf("bad frame %s: %v", f, err)
		}
		out = append(out, env.Type)
	}
	return out
}

func (s *fakeSink) has(t *testing.T, evtType string) bool {
	for _, e := range s.events(t) {
		if e == evtType {
			return true
		}
	}
	return false
}

func (s *fakeSink) last(t *testing.T, evtType string, v any) {
	t.Helper()
	s.mu.Lock()
	frames := append([]core.Frame(nil), s.frames...)
	s.mu.Unlock()
	for i := len(frames) - 1; i >= 0; i-- {
		var env protocol.Envelope
		_ = json.Unmarshal(frames[i], &env)
		if env.Type == evtType {
			if err := json.Unmarshal(frames[i], v); err != nil {
				t.Fatalf("decode %s: %v", evtType, err)
			}
			return
		}
	}
	t.Fatalf("no %s frame; got %v", evtType, s.events(t))
}

type fixture struct {
	orch *Orchestrator
	st   *store.Memory
	reg  *registry.Registry
	rtr  *rooms.Router
	tok  *tokens.Store
}

func newFixture() *fixture {
	st := store.NewMemory()
	reg := registry.New()
	rtr := rooms.NewRouter(reg)
	tok := tokens.NewStore()
	roster := presence.NewAggregator(st, reg)
	mgr := auth.NewManager(authprovider.NewMemory(), st, reg, tok)
	orch := NewOrchestrator(st, reg, rtr, roster, mgr, signal.NewRelay(reg), tok, render.NewSanitizer(), nil)
	return &fixture{orch: orch, st: st, reg: reg, rtr: rtr, tok: tok}
}

// signup registers and logs in one user on a fresh sink.
func (f *fixture) signup(t *testing.T, connID core.ConnID, nick string) *fakeSink {
	t.Helper()
	ctx := context.Background()
	sink := &fakeSink{}
	email := nick + "@example.com"
	f.orch.Register(ctx, connID, sink, protocol.RegisterPayload{Nickname: nick, Email: email, Password: "pw"})
	if !sink.has(t, protocol.EvtAuthSuccess) {
		t.Fatalf("register %s failed: %v", nick, sink.events(t))
	}
	f.orch.Login(ctx, connID, sink, protocol.LoginPayload{Email: email, Password: "pw"})
	if !sink.has(t, protocol.EvtLoginSuccess) {
		t.Fatalf("login %s failed: %v", nick, sink.events(t))
	}
	return sink
}

func (f *fixture) uidOf(t *testing.T, connID core.ConnID) domain.UID {
	t.Helper()
	conn, ok := f.reg.FindByConn(connID)
	if !ok {
		t.Fatalf("connection %s not registered", connID)
	}
	return conn.UID()
}

func (f *fixture) makeChannel(t *testing.T, name string) string {
	t.Helper()
	ch := &domain.Channel{Name: name}
	if err := f.st.CreateChannel(context.Background(), ch); err != nil {
		t.Fatalf("create channel: %v", err)
	}
	return ch.ID
}

func TestLoginFlowDeliversInitialData(t *testing.T) {
	f := newFixture()
	alice := f.signup(t, "c-alice", "alice")

	var loaded protocol.InitialDataLoadedEvent
	alice.last(t, protocol.EvtInitialDataLoaded, &loaded)
	if len(loaded.Users) != 1 || loaded.Users[0].Nickname != "alice" {
		t.Errorf("initial roster = %+v", loaded.Users)
	}

	// a second login broadcasts the refreshed roster to everyone in the room
	f.signup(t, "c-bob", "bob")
	var users protocol.UserListEvent
	alice.last(t, protocol.EvtUserList, &users)
	if len(users.Users) != 2 {
		t.Errorf("broadcast roster = %+v", users.Users)
	}
}

func TestLoginErrorForBadCredentials(t *testing.T) {
	f := newFixture()
	sink := &fakeSink{}
	f.orch.Login(context.Background(), "c1", sink, protocol.LoginPayload{Email: "nobody@example.com", Password: "pw"})

	var errEvt protocol.ErrorEvent
	sink.last(t, protocol.EvtLoginError, &errEvt)
	if errEvt.Code != domain.CodeInvalidCredentials {
		t.Errorf("code = %s", errEvt.Code)
	}
}

func TestSecondLoginEvictsFirstWithKickedNotice(t *testing.T) {
	f := newFixture()
	first := f.signup(t, "c1", "alice")

	second := &fakeSink{}
	f.orch.Login(context.Background(), "c2", second, protocol.LoginPayload{Email: "alice@example.com", Password: "pw"})

	if !second.has(t, protocol.EvtLoginSuccess) {
		t.Fatalf("second login failed: %v", second.events(t))
	}
	if !first.has(t, protocol.EvtKicked) {
		t.Fatalf("evicted connection got no kicked notice: %v", first.events(t))
	}
	first.mu.Lock()
	closed := first.closed
	first.mu.Unlock()
	if !closed {
		t.Error("evicted sink not closed")
	}
	if _, ok := f.reg.FindByConn("c1"); ok {
		t.Error("evicted connection still registered")
	}
}

func TestRememberMeResumeFlow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sink := &fakeSink{}
	f.orch.Register(ctx, "c1", sink, protocol.RegisterPayload{Nickname: "alice", Email: "a@example.com", Password: "pw"})
	f.orch.Login(ctx, "c1", sink, protocol.LoginPayload{Email: "a@example.com", Password: "pw", RememberMe: true})

	var success protocol.LoginSuccessEvent
	sink.last(t, protocol.EvtLoginSuccess, &success)
	if success.Token == "" {
		t.Fatal("rememberMe login issued no token")
	}

	f.orch.Disconnect("c1")

	resumed := &fakeSink{}
	f.orch.Resume(ctx, "c2", resumed, protocol.ResumePayload{Token: success.Token})
	if !resumed.has(t, protocol.EvtLoginSuccess) || !resumed.has(t, protocol.EvtTokenRefreshed) {
		t.Fatalf("resume events = %v", resumed.events(t))
	}

	var refreshed protocol.TokenRefreshedEvent
	resumed.last(t, protocol.EvtTokenRefreshed, &refreshed)
	if refreshed.Token == success.Token || refreshed.Token == "" {
		t.Error("resume did not rotate the token")
	}

	// the old token is spent
	f.orch.Disconnect("c2")
	third := &fakeSink{}
	f.orch.Resume(ctx, "c3", third, protocol.ResumePayload{Token: success.Token})
	if third.has(t, protocol.EvtLoginSuccess) {
		t.Fatal("stale token resumed a session")
	}
	// A miss is not a failure: the client gets a fall-through signal,
	// never an error banner.
	if !third.has(t, protocol.EvtResumeExpired) || third.has(t, protocol.EvtLoginError) {
		t.Fatalf("stale resume events = %v", third.events(t))
	}
}

func TestStaleSocketTeardownLeavesReloginAlive(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.signup(t, "c-old", "alice")

	// Same account comes back on a new transport session; the old
	// connection is evicted.
	relogin := &fakeSink{}
	f.orch.Login(ctx, "c-new", relogin, protocol.LoginPayload{Email: "alice@example.com", Password: "pw"})
	if !relogin.has(t, protocol.EvtLoginSuccess) {
		t.Fatalf("relogin events = %v", relogin.events(t))
	}

	// The evicted socket's read loop still runs its deferred teardown.
	// It must only tear down its own session.
	f.orch.Disconnect("c-old")

	if _, ok := f.reg.FindByConn("c-new"); !ok {
		t.Fatal("stale socket teardown unregistered the live session")
	}
	uid := f.uidOf(t, "c-new")
	if live, ok := f.reg.FindByUID(uid); !ok || live.ID != "c-new" {
		t.Fatalf("live connection for %s = %+v", uid, live)
	}
}

func TestVoiceJoinHandshake(t *testing.T) {
	f := newFixture()
	alice := f.signup(t, "c-alice", "alice")
	bob := f.signup(t, "c-bob", "bob")
	chID := f.makeChannel(t, "General")
	ctx := context.Background()

	f.orch.JoinVoice(ctx, "c-alice", protocol.JoinVoicePayload{ChannelID: chID})
	var ready protocol.ReadyToTalkEvent
	alice.last(t, protocol.EvtReadyToTalk, &ready)
	if len(ready.PeerIDs) != 0 {
		t.Errorf("first joiner peers = %v", ready.PeerIDs)
	}

	f.orch.JoinVoice(ctx, "c-bob", protocol.JoinVoicePayload{ChannelID: chID})
	bob.last(t, protocol.EvtReadyToTalk, &ready)
	if len(ready.PeerIDs) != 1 || ready.PeerIDs[0] != "c-alice" {
		t.Errorf("second joiner peers = %v", ready.PeerIDs)
	}
	var joined protocol.VoiceUserEvent
	alice.last(t, protocol.EvtVoiceUserJoined, &joined)
	if joined.ConnID != "c-bob" || joined.Nickname != "bob" {
		t.Errorf("joined event = %+v", joined)
	}

	conn, _ := f.reg.FindByConn("c-bob")
	if conn.VoiceChannel != chID {
		t.Error("voice channel not recorded in registry")
	}
}

func TestDisconnectCascadesVoiceLeave(t *testing.T) {
	f := newFixture()
	alice := f.signup(t, "c-alice", "alice")
	f.signup(t, "c-bob", "bob")
	chID := f.makeChannel(t, "General")
	ctx := context.Background()

	f.orch.JoinVoice(ctx, "c-alice", protocol.JoinVoicePayload{ChannelID: chID})
	f.orch.JoinVoice(ctx, "c-bob", protocol.JoinVoicePayload{ChannelID: chID})

	f.orch.Disconnect("c-bob")

	var left protocol.VoiceUserEvent
	alice.last(t, protocol.EvtVoiceUserLeft, &left)
	if left.ConnID != "c-bob" || left.ChannelID != chID {
		t.Errorf("left event = %+v", left)
	}
	if f.rtr.IsMember("c-bob", domain.VoiceRoom(chID)) {
		t.Error("disconnected connection still in voice room")
	}
	if _, ok := f.reg.FindByConn("c-bob"); ok {
		t.Error("disconnected connection still registered")
	}

	// teardown is idempotent
	f.orch.Disconnect("c-bob")
}

func TestSignalRequiresSharedVoiceRoom(t *testing.T) {
	f := newFixture()
	f.signup(t, "c-alice", "alice")
	bob := f.signup(t, "c-bob", "bob")
	chID := f.makeChannel(t, "General")
	ctx := context.Background()

	payload := protocol.SignalPayload{To: "c-bob", Data: json.RawMessage(`{"sdp":"v=0"}`)}

	// neither side in voice yet: dropped
	f.orch.Signal("c-alice", signal.KindOffer, payload)
	if bob.has(t, "offer") {
		t.Fatal("signal relayed outside a voice room")
	}

	f.orch.JoinVoice(ctx, "c-alice", protocol.JoinVoicePayload{ChannelID: chID})
	f.orch.JoinVoice(ctx, "c-bob", protocol.JoinVoicePayload{ChannelID: chID})
	f.orch.Signal("c-alice", signal.KindOffer, payload)
	if !bob.has(t, "offer") {
		t.Fatalf("offer not relayed: %v", bob.events(t))
	}
}

func TestChannelCreateRequiresAdmin(t *testing.T) {
	f := newFixture()
	founder := f.signup(t, "c-founder", "founder") // first signup is the founder
	member := f.signup(t, "c-member", "member")
	ctx := context.Background()

	f.orch.CreateChannel(ctx, "c-member", protocol.CreateChannelPayload{Name: "Nope"})
	var errEvt protocol.ErrorEvent
	member.last(t, protocol.EvtSystemMessage, &errEvt)
	if errEvt.Code != domain.CodeForbidden {
		t.Fatalf("member create code = %s", errEvt.Code)
	}

	f.orch.CreateChannel(ctx, "c-founder", protocol.CreateChannelPayload{Name: "Lounge"})
	if !founder.has(t, protocol.EvtChannelCreated) || !member.has(t, protocol.EvtChannelCreated) {
		t.Fatal("channel-created not broadcast")
	}
	channels, _ := f.st.ListChannels(ctx)
	if len(channels) != 1 || channels[0].Name != "Lounge" {
		t.Fatalf("channels = %+v", channels)
	}
}

func TestDeleteChannelEmptiesVoiceRoom(t *testing.T) {
	f := newFixture()
	f.signup(t, "c-founder", "founder")
	member := f.signup(t, "c-member", "member")
	chID := f.makeChannel(t, "Doomed")
	ctx := context.Background()

	f.orch.JoinVoice(ctx, "c-member", protocol.JoinVoicePayload{ChannelID: chID})
	f.orch.DeleteChannel(ctx, "c-founder", protocol.DeleteChannelPayload{ChannelID: chID})

	if !member.has(t, protocol.EvtVoiceUserLeft) || !member.has(t, protocol.EvtChannelDeleted) {
		t.Fatalf("member events = %v", member.events(t))
	}
	conn, _ := f.reg.FindByConn("c-member")
	if conn.VoiceChannel != "" {
		t.Error("voice channel survived deletion")
	}
}

func TestKickDisconnectsAndAnnounces(t *testing.T) {
	f := newFixture()
	founder := f.signup(t, "c-founder", "founder")
	member := f.signup(t, "c-member", "member")
	ctx := context.Background()

	f.orch.Kick(ctx, "c-founder", protocol.AdminKickPayload{TargetUID: f.uidOf(t, "c-member"), Reason: "spam"})

	var kicked protocol.KickedEvent
	member.last(t, protocol.EvtKicked, &kicked)
	if kicked.Reason != "spam" {
		t.Errorf("reason = %q", kicked.Reason)
	}
	if _, ok := f.reg.FindByConn("c-member"); ok {
		t.Error("kicked connection still registered")
	}
	if !founder.has(t, protocol.EvtSystemMessage) {
		t.Error("kick not announced")
	}
}

func TestKickRequiresRank(t *testing.T) {
	f := newFixture()
	f.signup(t, "c-founder", "founder")
	member := f.signup(t, "c-member", "member")
	ctx := context.Background()

	f.orch.Kick(ctx, "c-member", protocol.AdminKickPayload{TargetUID: f.uidOf(t, "c-founder")})
	var errEvt protocol.ErrorEvent
	member.last(t, protocol.EvtSystemMessage, &errEvt)
	if errEvt.Code != domain.CodeForbidden {
		t.Fatalf("member kicking founder code = %s", errEvt.Code)
	}
	if _, ok := f.reg.FindByConn("c-founder"); !ok {
		t.Fatal("founder was disconnected")
	}
}

func TestBanEvictsAndRevokesTokens(t *testing.T) {
	f := newFixture()
	f.signup(t, "c-founder", "founder")

	ctx := context.Background()
	sink := &fakeSink{}
	f.orch.Register(ctx, "c-member", sink, protocol.RegisterPayload{Nickname: "member", Email: "m@example.com", Password: "pw"})
	f.orch.Login(ctx, "c-member", sink, protocol.LoginPayload{Email: "m@example.com", Password: "pw", RememberMe: true})
	targetUID := f.uidOf(t, "c-member")

	f.orch.ToggleBan(ctx, "c-founder", protocol.AdminToggleBanPayload{TargetUID: targetUID})

	if !sink.has(t, protocol.EvtKicked) {
		t.Fatalf("banned user events = %v", sink.events(t))
	}
	if _, ok := f.reg.FindByConn("c-member"); ok {
		t.Error("banned connection still registered")
	}
	if f.tok.Count() != 0 {
		t.Error("ban left auto-login tokens alive")
	}
	ident, _ := f.st.GetIdentity(ctx, targetUID)
	if !ident.Banned {
		t.Error("ban not persisted")
	}

	// toggling again unbans
	f.orch.ToggleBan(ctx, "c-founder", protocol.AdminToggleBanPayload{TargetUID: targetUID})
	ident, _ = f.st.GetIdentity(ctx, targetUID)
	if ident.Banned {
		t.Error("unban not persisted")
	}
}

func TestChangeRolePersistsAndRefreshesCache(t *testing.T) {
	f := newFixture()
	f.signup(t, "c-founder", "founder")
	f.signup(t, "c-member", "member")
	ctx := context.Background()
	targetUID := f.uidOf(t, "c-member")

	f.orch.ChangeRole(ctx, "c-founder", protocol.AdminChangeRolePayload{TargetUID: targetUID, Role: "admin"})

	ident, _ := f.st.GetIdentity(ctx, targetUID)
	if ident.Role != domain.RoleAdmin {
		t.Fatalf("persisted role = %s", ident.Role)
	}
	conn, _ := f.reg.FindByConn("c-member")
	if conn.Identity.Role != domain.RoleAdmin {
		t.Error("registry cache not refreshed")
	}

	// founder rank is never assignable
	f.orch.ChangeRole(ctx, "c-founder", protocol.AdminChangeRolePayload{TargetUID: targetUID, Role: "founder"})
	ident, _ = f.st.GetIdentity(ctx, targetUID)
	if ident.Role == domain.RoleFounder {
		t.Error("founder role was assigned")
	}
}

func TestTypingExcludesSender(t *testing.T) {
	f := newFixture()
	alice := f.signup(t, "c-alice", "alice")
	bob := f.signup(t, "c-bob", "bob")

	before := len(alice.events(t))
	f.orch.Typing("c-alice", protocol.TypingPayload{Room: "broadcast"})

	if !bob.has(t, protocol.EvtTyping) {
		t.Fatalf("peer got no typing event: %v", bob.events(t))
	}
	for _, e := range alice.events(t)[before:] {
		if e == protocol.EvtTyping {
			t.Fatal("typing echoed to the sender")
		}
	}
}

func TestSetStatusBroadcastsRoster(t *testing.T) {
	f := newFixture()
	f.signup(t, "c-alice", "alice")
	bob := f.signup(t, "c-bob", "bob")

	f.orch.SetStatus("c-alice", protocol.SetStatusPayload{Status: domain.StatusDND})

	var users protocol.UserListEvent
	bob.last(t, protocol.EvtUserList, &users)
	for _, u := range users.Users {
		if u.Nickname == "alice" && u.Status != domain.StatusDND {
			t.Errorf("alice status = %s", u.Status)
		}
	}
}

func TestChatMessageEndToEnd(t *testing.T) {
	f := newFixture()
	f.signup(t, "c-alice", "alice")
	bob := f.signup(t, "c-bob", "bob")
	ctx := context.Background()

	f.orch.ChatMessage(ctx, "c-alice", protocol.ChatMessagePayload{Room: "broadcast", Content: "hi @bob"})

	var evt protocol.ChatMessageEvent
	bob.last(t, protocol.EvtChatMessage, &evt)
	if evt.Message.Content != "hi <@"+string(f.uidOf(t, "c-bob"))+">" {
		t.Errorf("content = %q", evt.Message.Content)
	}

	f.orch.PastMessages(ctx, "c-bob", protocol.PastMessagesPayload{Room: "broadcast", Limit: 10})
	var hist protocol.PastMessagesEvent
	bob.last(t, protocol.EvtPastMessages, &hist)
	if len(hist.Messages) != 1 {
		t.Errorf("history = %+v", hist.Messages)
	}
}
