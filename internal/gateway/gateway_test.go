package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/demolab/sessionbroker/internal/invite"
	"github.com/demolab/sessionbroker/internal/kv"
	"github.com/demolab/sessionbroker/internal/queue"
)

type allowAllLimiter struct{}

func (allowAllLimiter) Allow(string, time.Time) bool { return true }

type fakeGuard struct{}

func (fakeGuard) Allow(string, time.Time) bool   { return true }
func (fakeGuard) Blocked(string, time.Time) bool { return false }

type fakeSupervisor struct {
	active bool
}

func (f *fakeSupervisor) Disconnect(string)                 {}
func (f *fakeSupervisor) Reconnect(string, string) error    { return nil }
func (f *fakeSupervisor) HasActiveSession() bool            { return f.active }

type fakePromoter struct {
	active bool
}

func (p *fakePromoter) HasActiveSession() bool          { return p.active }
func (p *fakePromoter) IsActiveClient(string) bool      { return false }
func (p *fakePromoter) PromoteDirect(clientID string)   { p.active = true }

func newTestGateway(t *testing.T) (*Gateway, *httptest.Server) {
	t.Helper()
	invites := invite.New(kv.NewMemory(), fakeGuard{})
	gw := New(Config{IdleTimeout: time.Minute}, allowAllLimiter{}, invites)

	promoter := &fakePromoter{active: true} // force queueing path for deterministic tests
	q := queue.New(queue.Config{Capacity: 5, AverageSessionMins: 10}, promoter, gw)
	gw.SetQueue(q)
	gw.SetSupervisor(&fakeSupervisor{})

	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)
	return gw, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + srv.URL[len("http"):]
	c, _, err := websocket.Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func readEvent(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func TestConnectReceivesStatusEvent(t *testing.T) {
	_, srv := newTestGateway(t)
	c := dial(t, srv)

	msg := readEvent(t, c)
	if msg["type"] != "status" {
		t.Fatalf("expected status event, got %+v", msg)
	}
}

func TestJoinQueueWithInvalidInviteReportsInviteInvalid(t *testing.T) {
	_, srv := newTestGateway(t)
	c := dial(t, srv)
	readEvent(t, c) // status

	req := map[string]string{"type": "join_queue", "inviteToken": "not-a-real-token-xyz"}
	data, _ := json.Marshal(req)
	if err := c.Write(context.Background(), websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	msg := readEvent(t, c)
	if msg["type"] != "invite_invalid" {
		t.Fatalf("expected invite_invalid, got %+v", msg)
	}
	if msg["reason"] != "not_found" {
		t.Fatalf("expected reason not_found, got %+v", msg)
	}
}

func TestJoinQueueWithValidInviteEnqueues(t *testing.T) {
	gw, srv := newTestGateway(t)
	ctx := context.Background()

	inv, err := gw.invites.Generate(ctx, time.Hour, 1, "", "", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	c := dial(t, srv)
	readEvent(t, c) // status

	req := map[string]string{"type": "join_queue", "inviteToken": inv.Token}
	data, _ := json.Marshal(req)
	if err := c.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	msg := readEvent(t, c)
	if msg["type"] != "queue_position" {
		t.Fatalf("expected queue_position, got %+v", msg)
	}
	if msg["position"] != float64(1) {
		t.Fatalf("expected position 1, got %+v", msg["position"])
	}
}

func TestHeartbeatIsAcknowledged(t *testing.T) {
	_, srv := newTestGateway(t)
	c := dial(t, srv)
	readEvent(t, c) // status

	req := map[string]string{"type": "heartbeat"}
	data, _ := json.Marshal(req)
	if err := c.Write(context.Background(), websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	msg := readEvent(t, c)
	if msg["type"] != "heartbeat_ack" {
		t.Fatalf("expected heartbeat_ack, got %+v", msg)
	}
}

func TestUnknownMessageTypeReturnsErrorWithoutDisconnect(t *testing.T) {
	_, srv := newTestGateway(t)
	c := dial(t, srv)
	readEvent(t, c) // status

	req := map[string]string{"type": "bogus"}
	data, _ := json.Marshal(req)
	if err := c.Write(context.Background(), websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	msg := readEvent(t, c)
	if msg["type"] != "error" {
		t.Fatalf("expected error event, got %+v", msg)
	}

	// Connection must still be usable afterward.
	req2 := map[string]string{"type": "heartbeat"}
	data2, _ := json.Marshal(req2)
	if err := c.Write(context.Background(), websocket.MessageText, data2); err != nil {
		t.Fatalf("write after error: %v", err)
	}
	msg2 := readEvent(t, c)
	if msg2["type"] != "heartbeat_ack" {
		t.Fatalf("expected connection to survive bad message, got %+v", msg2)
	}
}
