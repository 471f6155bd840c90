// Package gateway implements the Client Gateway: the WebSocket control
// channel clients use to join the admission queue, receive lifecycle
// events, and keep their connection alive with heartbeats.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/demolab/sessionbroker/internal/domain"
	"github.com/demolab/sessionbroker/internal/identity"
	"github.com/demolab/sessionbroker/internal/invite"
	"github.com/demolab/sessionbroker/internal/queue"
)

// ConnLimiter decides whether a new connection from an address is allowed.
// Satisfied by *ratelimit.Limiter.
type ConnLimiter interface {
	Allow(key string, now time.Time) bool
}

// Supervisor is the narrow slice of the Session Supervisor the Gateway
// needs for disconnect/reconnect handling.
type Supervisor interface {
	Disconnect(clientID string)
	Reconnect(newClientID, sessionToken string) error
	HasActiveSession() bool
}

// Config bounds the Gateway's connection lifecycle.
type Config struct {
	IdleTimeout    time.Duration
	OriginPatterns []string
	IsDevelopment  bool
}

// inboundMessage is the shape of every JSON frame a client may send.
type inboundMessage struct {
	Type        string `json:"type"`
	InviteToken string `json:"inviteToken,omitempty"`
	SessionToken string `json:"sessionToken,omitempty"`
}

// conn is one live client connection.
type conn struct {
	id         string
	ws         *websocket.Conn
	remoteAddr string
	userAgent  string

	writeMu sync.Mutex

	mu          sync.Mutex
	inviteToken string
	idleTimer   *time.Timer
	cancel      context.CancelFunc
}

// Gateway accepts client WebSocket connections and routes their messages to
// the Queue Manager and Session Supervisor.
type Gateway struct {
	cfg        Config
	limiter    ConnLimiter
	invites    *invite.Store
	queue      *queue.Manager
	supervisor Supervisor

	mu    sync.RWMutex
	conns map[string]*conn
}

// New constructs a Gateway. queue and supervisor are expected to be wired
// immediately after construction via SetQueue/SetSupervisor, since they in
// turn depend on the Gateway as their Emitter/ClientLookup.
func New(cfg Config, limiter ConnLimiter, invites *invite.Store) *Gateway {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	if len(cfg.OriginPatterns) == 0 {
		cfg.OriginPatterns = []string{"*"}
	}
	return &Gateway{
		cfg:     cfg,
		limiter: limiter,
		invites: invites,
		conns:   make(map[string]*conn),
	}
}

func (g *Gateway) SetQueue(q *queue.Manager)         { g.queue = q }
func (g *Gateway) SetSupervisor(s Supervisor)        { g.supervisor = s }

// ServeHTTP upgrades the request to a WebSocket and runs the client's
// message loop until it disconnects.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	remoteAddr := identity.RemoteAddr(r)

	if g.limiter != nil && !g.limiter.Allow(remoteAddr, time.Now()) {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.cfg.OriginPatterns,
	})
	if err != nil {
		slog.Error("gateway: accept failed", "error", err)
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "connection ended")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &conn{
		id:         uuid.NewString(),
		ws:         ws,
		remoteAddr: remoteAddr,
		userAgent:  identity.UserAgent(r),
		cancel:     cancel,
	}
	g.register(c)
	defer g.unregister(c)

	c.mu.Lock()
	c.idleTimer = time.AfterFunc(g.cfg.IdleTimeout, func() { c.cancel() })
	c.mu.Unlock()

	if resumeToken := r.URL.Query().Get("session_token"); resumeToken != "" && g.supervisor != nil {
		if err := g.supervisor.Reconnect(c.id, resumeToken); err != nil {
			slog.Info("gateway: reconnect rejected", "client_id", c.id, "error", err)
		}
	}

	queueSize := 0
	if g.queue != nil {
		queueSize = g.queue.Size()
	}
	sessionActive := g.supervisor != nil && g.supervisor.HasActiveSession()
	g.writeEvent(c, domain.StatusEvent{
		Type:          domain.EventStatus,
		QueueSize:     queueSize,
		SessionActive: sessionActive,
	})

	g.readLoop(ctx, c)

	if g.queue != nil {
		g.queue.RemoveIfPresent(c.id)
	}
	if g.supervisor != nil {
		g.supervisor.Disconnect(c.id)
	}
}

func (g *Gateway) readLoop(ctx context.Context, c *conn) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 {
				slog.Debug("gateway: read error", "client_id", c.id, "error", err)
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			g.writeEvent(c, domain.ErrorEvent{Type: domain.EventError, Message: "malformed message"})
			continue
		}

		g.resetIdleTimer(c)

		switch msg.Type {
		case "join_queue":
			g.handleJoinQueue(c, msg.InviteToken)
		case "leave_queue":
			if g.queue != nil {
				g.queue.Leave(c.id)
			}
		case "heartbeat":
			g.writeEvent(c, domain.HeartbeatAckEvent{Type: domain.EventHeartbeatAck})
		default:
			g.writeEvent(c, domain.ErrorEvent{Type: domain.EventError, Message: "unknown message type"})
		}
	}
}

func (g *Gateway) handleJoinQueue(c *conn, inviteToken string) {
	inv, err := g.invites.Validate(context.Background(), inviteToken, c.remoteAddr)
	if err != nil {
		var verr *invite.ValidationError
		if errors.As(err, &verr) {
			g.writeEvent(c, domain.InviteInvalidEvent{
				Type:    domain.EventInviteInvalid,
				Reason:  string(verr.Reason),
				Message: verr.Message,
			})
			return
		}
		slog.Error("gateway: invite validation error", "client_id", c.id, "error", err)
		g.writeEvent(c, domain.ErrorEvent{Type: domain.EventError, Message: "internal error"})
		return
	}

	c.mu.Lock()
	c.inviteToken = inv.Token
	c.mu.Unlock()

	if g.queue == nil {
		return
	}
	_, err = g.queue.Enqueue(c.id)
	switch {
	case err == nil:
		return
	case errors.Is(err, queue.ErrAlreadyActive), errors.Is(err, queue.ErrAlreadyQueued):
		g.writeEvent(c, domain.ErrorEvent{Type: domain.EventError, Message: "Already in queue"})
	case errors.Is(err, queue.ErrQueueFull):
		// queue.Enqueue already emitted queue_full via the Emitter.
	default:
		slog.Error("gateway: enqueue failed", "client_id", c.id, "error", err)
	}
}

func (g *Gateway) resetIdleTimer(c *conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idleTimer != nil {
		c.idleTimer.Reset(g.cfg.IdleTimeout)
	}
}

func (g *Gateway) register(c *conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[c.id] = c
}

func (g *Gateway) unregister(c *conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.conns[c.id]; ok && existing == c {
		delete(g.conns, c.id)
	}
	c.mu.Lock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.mu.Unlock()
}

func (g *Gateway) lookup(clientID string) *conn {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.conns[clientID]
}

func (g *Gateway) writeEvent(c *conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("gateway: encode event failed", "error", err)
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.Write(context.Background(), websocket.MessageText, data); err != nil {
		slog.Debug("gateway: write failed", "client_id", c.id, "error", err)
	}
}

// --- queue.Emitter ---

func (g *Gateway) EmitQueuePosition(clientID string, position, queueSize, estimatedWaitMin int) {
	c := g.lookup(clientID)
	if c == nil {
		return
	}
	g.writeEvent(c, domain.QueuePositionEvent{
		Type:             domain.EventQueuePosition,
		Position:         position,
		EstimatedWaitMin: estimatedWaitMin,
		QueueSize:        queueSize,
	})
}

func (g *Gateway) EmitQueueFull(clientID string) {
	c := g.lookup(clientID)
	if c == nil {
		return
	}
	g.writeEvent(c, domain.QueueFullEvent{Type: domain.EventQueueFull, Message: "queue is full"})
}

func (g *Gateway) EmitLeftQueue(clientID string) {
	c := g.lookup(clientID)
	if c == nil {
		return
	}
	g.writeEvent(c, domain.LeftQueueEvent{Type: domain.EventLeftQueue})
}

// --- supervisor.Emitter ---

func (g *Gateway) EmitSessionStarting(clientID, terminalURL string, expiresAt time.Time, sessionToken string) {
	c := g.lookup(clientID)
	if c == nil {
		return
	}
	g.writeEvent(c, domain.SessionStartingEvent{
		Type:         domain.EventSessionStarting,
		TerminalURL:  terminalURL,
		ExpiresAt:    expiresAt.Unix(),
		SessionToken: sessionToken,
	})
}

func (g *Gateway) EmitSessionWarning(clientID string, minutesRemaining int) {
	c := g.lookup(clientID)
	if c == nil {
		return
	}
	g.writeEvent(c, domain.SessionWarningEvent{Type: domain.EventSessionWarning, MinutesRemaining: minutesRemaining})
}

func (g *Gateway) EmitSessionEnded(clientID, reason string) {
	c := g.lookup(clientID)
	if c == nil {
		return
	}
	g.writeEvent(c, domain.SessionEndedEvent{
		Type:               domain.EventSessionEnded,
		Reason:             reason,
		ClearSessionCookie: true,
	})
}

func (g *Gateway) EmitError(clientID, message string) {
	c := g.lookup(clientID)
	if c == nil {
		return
	}
	g.writeEvent(c, domain.ErrorEvent{Type: domain.EventError, Message: message})
}

// --- supervisor.ClientLookup ---

func (g *Gateway) InviteToken(clientID string) string {
	c := g.lookup(clientID)
	if c == nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inviteToken
}

func (g *Gateway) RemoteAddr(clientID string) string {
	c := g.lookup(clientID)
	if c == nil {
		return ""
	}
	return c.remoteAddr
}

func (g *Gateway) UserAgent(clientID string) string {
	c := g.lookup(clientID)
	if c == nil {
		return ""
	}
	return c.userAgent
}
