package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/aurachat/aurad/internal/app"
	"github.com/aurachat/aurad/internal/core"
	"github.com/aurachat/aurad/internal/domain"
	"github.com/aurachat/aurad/internal/metrics"
	"github.com/aurachat/aurad/internal/protocol"
	"github.com/aurachat/aurad/internal/registry"
	"github.com/aurachat/aurad/internal/signal"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Controller upgrades HTTP requests and runs the per-connection event
// loop. Pre-auth connections may only register, login or resume.
type Controller struct {
	Orch *app.Orchestrator
	Reg  *registry.Registry

	// BaseContext scopes event handling to the server lifetime. The
	// upgrade request's context dies as soon as Handle returns, long
	// before the event loop does, so it must never reach a handler.
	BaseContext context.Context

	// EventRate caps inbound events per connection. Zero means the
	// default of 20 events/s with a burst of 40.
	EventRate  rate.Limit
	EventBurst int
}

func (ctl *Controller) baseContext() context.Context {
	if ctl.BaseContext != nil {
		return ctl.BaseContext
	}
	return context.Background()
}

func (ctl *Controller) rateLimiter() *rate.Limiter {
	r, b := ctl.EventRate, ctl.EventBurst
	if r == 0 {
		r = 20
	}
	if b == 0 {
		b = 40
	}
	return rate.NewLimiter(r, b)
}

// Handle is the gin endpoint. Every upgrade gets a fresh connection id:
// a reconnect is a new transport session, and reusing an id would let a
// half-dead socket's teardown unregister its successor.
func (ctl *Controller) Handle(c *gin.Context) {
	connID := core.ConnID(uuid.NewString())
	sock, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("module", "ws").Msg("upgrade failed")
		return
	}
	log.Info().Str("module", "ws").
		Str("conn", string(connID)).
		Str("client", c.GetString("client_token")).
		Msg("connection opened")
	metrics.ConnectionsActive.Inc()

	conn := NewConn(connID, sock)
	go conn.writePump()
	go ctl.readPump(ctl.baseContext(), conn)
}

func (ctl *Controller) readPump(ctx context.Context, conn *Conn) {
	defer func() {
		metrics.ConnectionsActive.Dec()
		ctl.Orch.Disconnect(conn.id)
		conn.Close()
		log.Info().Str("module", "ws").Str("conn", string(conn.id)).Msg("connection closed")
	}()

	conn.sock.SetReadLimit(maxMessageSize)
	_ = conn.sock.SetReadDeadline(time.Now().Add(pongWait))
	conn.sock.SetPongHandler(func(string) error {
		return conn.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := ctl.rateLimiter()
	for {
		_, data, err := conn.sock.ReadMessage()
		if err != nil {
			return
		}
		if !limiter.Allow() {
			log.Debug().Str("module", "ws").Str("conn", string(conn.id)).Msg("event rate exceeded, dropping")
			continue
		}
		ctl.dispatch(ctx, conn, data)
	}
}

// dispatch decodes the envelope and routes to the orchestrator. Bad
// JSON and unknown types are logged and dropped; the connection stays
// up.
func (ctl *Controller) dispatch(ctx context.Context, conn *Conn, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Debug().Err(err).Str("module", "ws").Str("conn", string(conn.id)).Msg("bad envelope")
		return
	}

	_, authed := ctl.Reg.FindByConn(conn.id)
	if !authed {
		switch env.Type {
		case protocol.EvtRegister, protocol.EvtLogin, protocol.EvtResume:
		default:
			ctl.reject(conn, domain.CodeForbidden)
			return
		}
	}

	switch env.Type {
	case protocol.EvtRegister:
		var p protocol.RegisterPayload
		if decode(conn, data, &p) {
			ctl.Orch.Register(ctx, conn.id, conn, p)
		}
	case protocol.EvtLogin:
		var p protocol.LoginPayload
		if decode(conn, data, &p) {
			ctl.Orch.Login(ctx, conn.id, conn, p)
		}
	case protocol.EvtResume:
		var p protocol.ResumePayload
		if decode(conn, data, &p) {
			ctl.Orch.Resume(ctx, conn.id, conn, p)
		}
	case protocol.EvtLogout:
		ctl.Orch.Logout(conn.id)
	case protocol.EvtUpdateProfile:
		var p protocol.UpdateProfilePayload
		if decode(conn, data, &p) {
			ctl.Orch.UpdateProfile(ctx, conn.id, p)
		}
	case protocol.EvtSetStatus:
		var p protocol.SetStatusPayload
		if decode(conn, data, &p) {
			ctl.Orch.SetStatus(conn.id, p)
		}
	case protocol.EvtCreateChannel:
		var p protocol.CreateChannelPayload
		if decode(conn, data, &p) {
			ctl.Orch.CreateChannel(ctx, conn.id, p)
		}
	case protocol.EvtDeleteChannel:
		var p protocol.DeleteChannelPayload
		if decode(conn, data, &p) {
			ctl.Orch.DeleteChannel(ctx, conn.id, p)
		}
	case protocol.EvtChatMessage:
		var p protocol.ChatMessagePayload
		if decode(conn, data, &p) {
			ctl.Orch.ChatMessage(ctx, conn.id, p)
		}
	case protocol.EvtToggleReaction:
		var p protocol.ToggleReactionPayload
		if decode(conn, data, &p) {
			ctl.Orch.ToggleReaction(ctx, conn.id, p)
		}
	case protocol.EvtDeleteMessage:
		var p protocol.DeleteMessagePayload
		if decode(conn, data, &p) {
			ctl.Orch.DeleteMessage(ctx, conn.id, p)
		}
	case protocol.EvtEditMessage:
		var p protocol.EditMessagePayload
		if decode(conn, data, &p) {
			ctl.Orch.EditMessage(ctx, conn.id, p)
		}
	case protocol.EvtJoinVoice:
		var p protocol.JoinVoicePayload
		if decode(conn, data, &p) {
			ctl.Orch.JoinVoice(ctx, conn.id, p)
		}
	case protocol.EvtLeaveVoice:
		ctl.Orch.LeaveVoice(conn.id)
	case protocol.EvtToggleFlag:
		var p protocol.ToggleFlagPayload
		if decode(conn, data, &p) {
			ctl.Orch.ToggleFlag(conn.id, p)
		}
	case protocol.EvtToggleSpeaking:
		var p protocol.ToggleSpeakingPayload
		if decode(conn, data, &p) {
			ctl.Orch.ToggleSpeaking(conn.id, p)
		}
	case protocol.EvtTyping:
		var p protocol.TypingPayload
		if decode(conn, data, &p) {
			ctl.Orch.Typing(conn.id, p)
		}
	case protocol.EvtOffer, protocol.EvtAnswer, protocol.EvtCandidate:
		var p protocol.SignalPayload
		if decode(conn, data, &p) {
			ctl.Orch.Signal(conn.id, signal.Kind(env.Type), p)
		}
	case protocol.EvtAdminChangeRole:
		var p protocol.AdminChangeRolePayload
		if decode(conn, data, &p) {
			ctl.Orch.ChangeRole(ctx, conn.id, p)
		}
	case protocol.EvtAdminKick:
		var p protocol.AdminKickPayload
		if decode(conn, data, &p) {
			ctl.Orch.Kick(ctx, conn.id, p)
		}
	case protocol.EvtAdminToggleBan:
		var p protocol.AdminToggleBanPayload
		if decode(conn, data, &p) {
			ctl.Orch.ToggleBan(ctx, conn.id, p)
		}
	case protocol.EvtRequestPastMessages:
		var p protocol.PastMessagesPayload
		if decode(conn, data, &p) {
			ctl.Orch.PastMessages(ctx, conn.id, p)
		}
	default:
		log.Debug().Str("module", "ws").Str("type", env.Type).Msg("unknown event type")
	}
}

func decode(conn *Conn, data []byte, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		log.Debug().Err(err).Str("module", "ws").Str("conn", string(conn.id)).Msg("bad payload")
		reject(conn, domain.CodeBadPayload)
		return false
	}
	return true
}

func (ctl *Controller) reject(conn *Conn, code domain.ErrorCode) {
	reject(conn, code)
}

func reject(conn *Conn, code domain.ErrorCode) {
	frame, err := protocol.Marshal(protocol.ErrorEvent{Type: protocol.EvtSystemMessage, Code: code})
	if err != nil {
		return
	}
	_ = conn.TrySend(frame)
}
