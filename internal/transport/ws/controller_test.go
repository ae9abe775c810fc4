package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/aurachat/aurad/internal/app"
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

// ctxStore fails like database/sql does once the context is dead. The
// in-memory store ignores contexts, which would hide a handler running
// under the already-canceled upgrade request context.
type ctxStore struct {
	store.Store
}

func (g ctxStore) CountIdentities(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return g.Store.CountIdentities(ctx)
}

func (g ctxStore) CreateIdentity(ctx context.Context, ident *domain.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.Store.CreateIdentity(ctx, ident)
}

func newTestServer(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := ctxStore{store.NewMemory()}
	reg := registry.New()
	rtr := rooms.NewRouter(reg)
	tok := tokens.NewStore()
	roster := presence.NewAggregator(st, reg)
	mgr := auth.NewManager(authprovider.NewMemory(), st, reg, tok)
	orch := app.NewOrchestrator(st, reg, rtr, roster, mgr, signal.NewRelay(reg), tok, render.NewSanitizer(), nil)

	r := gin.New()
	r.GET("/ws", (&Controller{Orch: orch, Reg: reg}).Handle)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, reg
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

type wireEvent struct {
	Type    string      `json:"type"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	ConnID  core.ConnID `json:"connId"`
}

// readUntil skips unrelated frames (roster broadcasts and the like)
// until one of the wanted type arrives.
func readUntil(t *testing.T, c *websocket.Conn, evtType string) wireEvent {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var evt wireEvent
		if err := c.ReadJSON(&evt); err != nil {
			t.Fatalf("waiting for %s: %v", evtType, err)
		}
		if evt.Type == evtType {
			return evt
		}
		if evt.Type == protocol.EvtAuthError || evt.Type == protocol.EvtLoginError {
			t.Fatalf("waiting for %s, got %+v", evtType, evt)
		}
	}
}

func registerAndLogin(t *testing.T, c *websocket.Conn, nick string) core.ConnID {
	t.Helper()
	email := nick + "@example.com"
	if err := c.WriteJSON(map[string]string{
		"type": protocol.EvtRegister, "nickname": nick, "email": email, "password": "pw",
	}); err != nil {
		t.Fatalf("send register: %v", err)
	}
	readUntil(t, c, protocol.EvtAuthSuccess)
	if err := c.WriteJSON(map[string]string{
		"type": protocol.EvtLogin, "email": email, "password": "pw",
	}); err != nil {
		t.Fatalf("send login: %v", err)
	}
	return readUntil(t, c, protocol.EvtLoginSuccess).ConnID
}

func TestEventsOutliveUpgradeRequest(t *testing.T) {
	srv, _ := newTestServer(t)
	c := dialWS(t, srv)

	// net/http cancels the upgrade request's context as soon as Handle
	// returns; every event arrives after that.
	time.Sleep(20 * time.Millisecond)

	registerAndLogin(t, c, "alice")
}

func TestEachUpgradeGetsDistinctConnID(t *testing.T) {
	srv, reg := newTestServer(t)
	c1 := dialWS(t, srv)
	c2 := dialWS(t, srv)

	id1 := registerAndLogin(t, c1, "alice")
	id2 := registerAndLogin(t, c2, "bob")

	if id1 == "" || id1 == id2 {
		t.Fatalf("conn ids not distinct: %q vs %q", id1, id2)
	}
	if reg.Count() != 2 {
		t.Fatalf("registered connections = %d, want 2", reg.Count())
	}
}
