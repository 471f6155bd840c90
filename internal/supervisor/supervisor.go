// Package supervisor owns the single active-session slot. It is the heart
// of the broker: at most one terminal session exists at any instant, and
// this package is the only place allowed to create or destroy one.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/demolab/sessionbroker/internal/domain"
	"github.com/demolab/sessionbroker/internal/kv"
	"github.com/demolab/sessionbroker/internal/sessiontoken"
)

// State is the global singleton slot's state machine position.
type State int

const (
	Idle State = iota
	Starting
	Active
	Ending
	DisconnectedGrace
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Ending:
		return "ending"
	case DisconnectedGrace:
		return "disconnected_grace"
	default:
		return "unknown"
	}
}

// ErrNotIdle is returned by Promote when the singleton slot is already
// occupied.
var ErrNotIdle = errors.New("supervisor: slot is not idle")

// ErrReconnectInFlight is returned by Reconnect when a second concurrent
// reconnect attempt arrives during the grace window.
var ErrReconnectInFlight = errors.New("supervisor: a reconnect attempt is already in progress")

// ErrTokenMismatch is returned by Reconnect when the presented token does
// not match the session currently in DisconnectedGrace.
var ErrTokenMismatch = errors.New("supervisor: session token does not match")

// Credentials are the secrets written to the per-session credential file.
// Each field is written as one key=value line under its upper-snake-case
// name (IssueTrackerAPIToken as ISSUE_TRACKER_API_TOKEN, and so on).
type Credentials struct {
	IssueTrackerAPIToken string
	IssueTrackerEmail    string
	IssueTrackerSiteURL  string
	ModelProviderToken   string
}

func (c Credentials) lines() []string {
	return []string{
		"ISSUE_TRACKER_API_TOKEN=" + c.IssueTrackerAPIToken,
		"ISSUE_TRACKER_EMAIL=" + c.IssueTrackerEmail,
		"ISSUE_TRACKER_SITE_URL=" + c.IssueTrackerSiteURL,
		"MODEL_PROVIDER_TOKEN=" + c.ModelProviderToken,
	}
}

// CredentialSource supplies the secret bundle for a freshly promoted
// session. Kept behind an interface so the Supervisor never holds secrets
// longer than the single write it performs.
type CredentialSource interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// Sandbox launches and reaps the containerized environment the terminal
// multiplexer runs against.
type Sandbox interface {
	Launch(ctx context.Context, sessionID, credentialPath string) (containerID string, err error)
	Stop(ctx context.Context, containerID string) error
}

// TerminalHandle is a running terminal multiplexer child process.
type TerminalHandle interface {
	// Terminate sends a graceful termination signal; it does not block
	// until exit.
	Terminate() error
	// Kill force-kills the process; used by the hard-kill backstop.
	Kill() error
	// Done is closed when the process has exited, for any reason.
	Done() <-chan struct{}
}

// TerminalLauncher spawns the terminal multiplexer as a child process
// pointed at the given containerized sandbox.
type TerminalLauncher interface {
	Spawn(ctx context.Context, sessionID, containerID, credentialPath string, timeoutMinutes int) (TerminalHandle, error)
}

// Emitter delivers session lifecycle events to a connected client by ID.
// Implementations skip silently if the client has since disconnected.
type Emitter interface {
	EmitSessionStarting(clientID, terminalURL string, expiresAt time.Time, sessionToken string)
	EmitSessionWarning(clientID string, minutesRemaining int)
	EmitSessionEnded(clientID, reason string)
	EmitError(clientID, message string)
}

// InviteConsumer records a completed session's usage against its source
// invite, if any.
type InviteConsumer interface {
	Consume(ctx context.Context, token string, summary domain.SessionSummary) error
}

// QueuePopper hands the Supervisor the next queued client on vacancy.
type QueuePopper interface {
	PopHead() (clientID string, enqueuedAt time.Time)
}

// ClientLookup resolves per-client details the Supervisor needs at
// promotion time but does not itself own; the Gateway implements this.
type ClientLookup interface {
	InviteToken(clientID string) string
	RemoteAddr(clientID string) string
	UserAgent(clientID string) string
}

// ResetHook triggers the external data-reset process after a session ends.
// inviteToken may be empty; implementations attach a failure note to that
// invite's audit trail when it is not.
type ResetHook interface {
	Trigger(ctx context.Context, sessionID, inviteToken string)
}

// Config bounds session lifetime and the credential file location.
type Config struct {
	SessionTimeout   time.Duration
	WarningLead      time.Duration
	HardKillGrace    time.Duration
	ReconnectGrace   time.Duration
	CredentialDir    string
}

// activeSession is the in-memory record for the occupied singleton slot.
type activeSession struct {
	clientID     string
	sessionID    string
	sessionToken string
	inviteToken  string
	remoteAddr   string
	userAgent    string

	containerID    string
	terminal       TerminalHandle
	credentialPath string
	cleanupCred    func()

	startTime   time.Time
	hardExpiry  time.Time
	queueWait   time.Duration
	errorsSeen  []string

	warningTimer   *time.Timer
	softTimer      *time.Timer
	hardKillTimer  *time.Timer
	graceTimer     *time.Timer
}

func (s *activeSession) cancelTimers() {
	for _, t := range []*time.Timer{s.warningTimer, s.softTimer, s.hardKillTimer, s.graceTimer} {
		if t != nil {
			t.Stop()
		}
	}
}

// Supervisor is the Session Supervisor singleton.
type Supervisor struct {
	cfg Config

	creds     CredentialSource
	sandbox   Sandbox
	terminals TerminalLauncher
	emitter   Emitter
	invites   InviteConsumer
	queue     QueuePopper
	reset     ResetHook
	clients   ClientLookup
	tokens    *sessiontoken.Minter
	kv        kv.Store

	mu           sync.Mutex
	state        State
	session      *activeSession
	reconnecting bool
}

// New constructs a Supervisor. queue, emitter, invites, and reset may be nil
// at construction time and wired later via the Set* methods if the object
// graph requires it.
func New(cfg Config, creds CredentialSource, sandbox Sandbox, terminals TerminalLauncher, tokens *sessiontoken.Minter, store kv.Store) *Supervisor {
	if cfg.WarningLead <= 0 {
		cfg.WarningLead = 5 * time.Minute
	}
	if cfg.HardKillGrace <= 0 {
		cfg.HardKillGrace = 5 * time.Minute
	}
	if cfg.ReconnectGrace <= 0 {
		cfg.ReconnectGrace = 10 * time.Second
	}
	return &Supervisor{
		cfg:       cfg,
		creds:     creds,
		sandbox:   sandbox,
		terminals: terminals,
		tokens:    tokens,
		kv:        store,
		state:     Idle,
	}
}

func (s *Supervisor) SetEmitter(e Emitter)               { s.emitter = e }
func (s *Supervisor) SetInviteConsumer(i InviteConsumer) { s.invites = i }
func (s *Supervisor) SetQueue(q QueuePopper)             { s.queue = q }
func (s *Supervisor) SetResetHook(r ResetHook)           { s.reset = r }
func (s *Supervisor) SetClientLookup(c ClientLookup)     { s.clients = c }

// HasActiveSession reports whether the singleton slot is occupied in any
// non-Idle state. Satisfies queue.Promoter.
func (s *Supervisor) HasActiveSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != Idle
}

// IsActiveClient reports whether clientID currently owns the slot.
// Satisfies queue.Promoter.
func (s *Supervisor) IsActiveClient(clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil && s.session.clientID == clientID
}

// ValidateSessionToken reports whether token HMAC-verifies under the
// process secret, names the session currently holding the singleton slot,
// AND remoteAddr matches the address recorded when that session was
// promoted. The session record exists only from the moment its terminal is
// running (Active or DisconnectedGrace) until End tears it down, so a
// session that is still Starting never validates. There is no pending-token
// map: queued clients hold no session token. It is the mechanism behind
// the cookie-set and session-validation HTTP endpoints.
func (s *Supervisor) ValidateSessionToken(token, remoteAddr string) (sessionID string, ok bool) {
	verifiedID, err := s.tokens.Verify(token)
	if err != nil {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || s.state == Idle {
		return "", false
	}
	if s.session.sessionID != verifiedID || s.session.remoteAddr != remoteAddr {
		return "", false
	}
	return s.session.sessionID, true
}

// PromoteDirect asks the Supervisor to start a session for clientID outside
// the normal pop-from-queue path, used by the Queue Manager's skip-the-line
// admission rule. It discards errors by design: a failed direct promotion
// still leaves the client connected and able to retry a join_queue.
func (s *Supervisor) PromoteDirect(clientID string) {
	go func() {
		invite, remoteAddr, userAgent := s.resolveClient(clientID)
		if err := s.Promote(context.Background(), clientID, invite, remoteAddr, userAgent, 0); err != nil {
			slog.Error("direct promotion failed", "client_id", clientID, "error", err)
		}
	}()
}

func (s *Supervisor) resolveClient(clientID string) (inviteToken, remoteAddr, userAgent string) {
	if s.clients == nil {
		return "", "", ""
	}
	return s.clients.InviteToken(clientID), s.clients.RemoteAddr(clientID), s.clients.UserAgent(clientID)
}

// Promote runs the promotion protocol for clientID. inviteToken may be
// empty if no invite was required. queueWait is recorded in the eventual
// session summary for audit purposes.
func (s *Supervisor) Promote(ctx context.Context, clientID, inviteToken, remoteAddr, userAgent string, queueWait time.Duration) error {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return ErrNotIdle
	}
	s.state = Starting
	s.mu.Unlock()

	sessionID := newID()
	now := time.Now()
	hardExpiry := now.Add(s.cfg.SessionTimeout)
	token := s.tokens.Mint(sessionID, hardExpiry)

	credPath, cleanup, err := s.writeCredentialFile(ctx, sessionID)
	if err != nil {
		s.abortToIdle(clientID, fmt.Errorf("supervisor: write credentials: %w", err))
		return err
	}

	containerID, err := s.sandbox.Launch(ctx, sessionID, credPath)
	if err != nil {
		cleanup()
		s.abortToIdle(clientID, fmt.Errorf("supervisor: launch sandbox: %w", err))
		return err
	}

	terminal, err := s.terminals.Spawn(ctx, sessionID, containerID, credPath, int(s.cfg.SessionTimeout.Minutes()))
	if err != nil {
		_ = s.sandbox.Stop(ctx, containerID)
		cleanup()
		s.abortToIdle(clientID, fmt.Errorf("supervisor: spawn terminal: %w", err))
		return err
	}

	sess := &activeSession{
		clientID:       clientID,
		sessionID:      sessionID,
		sessionToken:   token,
		inviteToken:    inviteToken,
		remoteAddr:     remoteAddr,
		userAgent:      userAgent,
		containerID:    containerID,
		terminal:       terminal,
		credentialPath: credPath,
		cleanupCred:    cleanup,
		startTime:      now,
		hardExpiry:     hardExpiry,
		queueWait:      queueWait,
	}

	s.mu.Lock()
	s.session = sess
	s.state = Active
	s.armTimersLocked(sess)
	s.mu.Unlock()

	s.recordResumeHint(ctx, sess)

	if s.emitter != nil {
		s.emitter.EmitSessionStarting(clientID, terminalURL(sessionID), hardExpiry, token)
	}

	go s.watchTerminalExit(sess)

	return nil
}

func (s *Supervisor) abortToIdle(clientID string, cause error) {
	s.mu.Lock()
	s.state = Idle
	s.mu.Unlock()

	if s.emitter != nil {
		s.emitter.EmitError(clientID, "session failed to start")
	}
	slog.Error("promotion failed", "client_id", clientID, "error", cause)
	s.promoteNextIfAny()
}

func (s *Supervisor) armTimersLocked(sess *activeSession) {
	warnAt := time.Until(sess.hardExpiry.Add(-s.cfg.WarningLead))
	if warnAt < 0 {
		warnAt = 0
	}
	sess.warningTimer = time.AfterFunc(warnAt, func() { s.onWarning(sess) })

	sess.softTimer = time.AfterFunc(time.Until(sess.hardExpiry), func() { s.onSoftTimeout(sess) })

	hardKillAt := time.Until(sess.hardExpiry.Add(s.cfg.HardKillGrace))
	sess.hardKillTimer = time.AfterFunc(hardKillAt, func() { s.onHardKill(sess) })
}

func (s *Supervisor) onWarning(sess *activeSession) {
	s.mu.Lock()
	current := s.session
	s.mu.Unlock()
	if current != sess || s.emitter == nil {
		return
	}
	remaining := int(time.Until(sess.hardExpiry).Minutes())
	if remaining < 0 {
		remaining = 0
	}
	s.emitter.EmitSessionWarning(sess.clientID, remaining)
}

func (s *Supervisor) onSoftTimeout(sess *activeSession) {
	s.End(context.Background(), domain.EndReasonTimeout)
}

func (s *Supervisor) onHardKill(sess *activeSession) {
	s.mu.Lock()
	current := s.session
	s.mu.Unlock()
	if current == sess {
		_ = sess.terminal.Kill()
	}
}

// watchTerminalExit ends the session with container_exit if the terminal
// child dies on its own, without having gone through End already.
func (s *Supervisor) watchTerminalExit(sess *activeSession) {
	<-sess.terminal.Done()
	s.mu.Lock()
	stillCurrent := s.session == sess && s.state != Ending
	s.mu.Unlock()
	if stillCurrent {
		s.End(context.Background(), domain.EndReasonContainerExit)
	}
}

// Disconnect is called by the Gateway when the client owning the active
// session loses its connection. Per spec it does not end the session
// immediately; it enters DisconnectedGrace and arms a reconnect window.
func (s *Supervisor) Disconnect(clientID string) {
	s.mu.Lock()
	if s.session == nil || s.session.clientID != clientID || s.state != Active {
		s.mu.Unlock()
		return
	}
	sess := s.session
	s.state = DisconnectedGrace
	sess.graceTimer = time.AfterFunc(s.cfg.ReconnectGrace, func() { s.onGraceExpired(sess) })
	s.mu.Unlock()
}

func (s *Supervisor) onGraceExpired(sess *activeSession) {
	s.mu.Lock()
	stillGrace := s.session == sess && s.state == DisconnectedGrace
	s.mu.Unlock()
	if stillGrace {
		s.End(context.Background(), domain.EndReasonDisconnected)
	}
}

// Reconnect rebinds the active session to a new client connection if token
// matches the session currently in DisconnectedGrace. A single-flight guard
// rejects a second concurrent attempt.
func (s *Supervisor) Reconnect(newClientID, token string) error {
	s.mu.Lock()
	if s.reconnecting {
		s.mu.Unlock()
		return ErrReconnectInFlight
	}
	s.reconnecting = true
	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()
	s.mu.Unlock()

	verifiedID, err := s.tokens.Verify(token)
	if err != nil {
		return ErrTokenMismatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil || s.state != DisconnectedGrace {
		return ErrTokenMismatch
	}
	if s.session.sessionID != verifiedID {
		return ErrTokenMismatch
	}

	s.session.clientID = newClientID
	if s.session.graceTimer != nil {
		s.session.graceTimer.Stop()
	}
	s.state = Active
	return nil
}

// End runs the termination protocol for the currently active session, if
// any. Re-entrant calls while already Ending are no-ops.
func (s *Supervisor) End(ctx context.Context, reason string) {
	s.mu.Lock()
	if s.state == Idle || s.state == Ending || s.session == nil {
		s.mu.Unlock()
		return
	}
	sess := s.session
	s.state = Ending
	sess.cancelTimers()
	s.mu.Unlock()

	_ = sess.terminal.Terminate()

	sess.cleanupCred()
	_ = s.sandbox.Stop(ctx, sess.containerID)

	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()

	if sess.inviteToken != "" && s.invites != nil {
		summary := domain.SessionSummary{
			SessionID:  sess.sessionID,
			ClientID:   sess.clientID,
			StartTime:  sess.startTime,
			EndTime:    time.Now(),
			EndReason:  reason,
			QueueWait:  sess.queueWait,
			RemoteAddr: sess.remoteAddr,
			UserAgent:  sess.userAgent,
			Errors:     sess.errorsSeen,
		}
		if err := s.invites.Consume(ctx, sess.inviteToken, summary); err != nil {
			slog.Error("invite consume failed", "session_id", sess.sessionID, "error", err)
		}
	}

	if err := s.kv.Delete(ctx, resumeHintKey(sess.clientID)); err != nil {
		slog.Error("resume hint cleanup failed", "client_id", sess.clientID, "error", err)
	}

	if s.emitter != nil {
		s.emitter.EmitSessionEnded(sess.clientID, reason)
	}

	if s.reset != nil {
		go s.reset.Trigger(context.Background(), sess.sessionID, sess.inviteToken)
	}

	s.mu.Lock()
	s.state = Idle
	s.mu.Unlock()

	s.promoteNextIfAny()
}

// Shutdown ends any active session with reason=shutdown. Called once, from
// the operator-initiated graceful-shutdown path.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.End(ctx, domain.EndReasonShutdown)
}

func (s *Supervisor) promoteNextIfAny() {
	if s.queue == nil {
		return
	}
	next, enqueuedAt := s.queue.PopHead()
	if next == "" {
		return
	}
	wait := time.Since(enqueuedAt)
	go func() {
		invite, remoteAddr, userAgent := s.resolveClient(next)
		if err := s.Promote(context.Background(), next, invite, remoteAddr, userAgent, wait); err != nil {
			slog.Error("auto-promotion from queue failed", "client_id", next, "error", err)
		}
	}()
}

func (s *Supervisor) recordResumeHint(ctx context.Context, sess *activeSession) {
	hint := struct {
		ClientID  string    `json:"client_id"`
		SessionID string    `json:"session_id"`
		StartedAt time.Time `json:"started_at"`
		ExpiresAt time.Time `json:"expires_at"`
	}{sess.clientID, sess.sessionID, sess.startTime, sess.hardExpiry}

	raw, err := json.Marshal(hint)
	if err != nil {
		slog.Error("encode resume hint", "error", err)
		return
	}
	ttl := time.Until(sess.hardExpiry)
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := s.kv.Set(ctx, resumeHintKey(sess.clientID), raw, ttl); err != nil {
		slog.Error("record resume hint", "error", err)
	}
}

func resumeHintKey(clientID string) string {
	return "session:" + clientID
}

func (s *Supervisor) writeCredentialFile(ctx context.Context, sessionID string) (path string, cleanup func(), err error) {
	creds, err := s.creds.Credentials(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("fetch credentials: %w", err)
	}

	if err := os.MkdirAll(s.cfg.CredentialDir, 0o700); err != nil {
		return "", nil, fmt.Errorf("ensure credential dir: %w", err)
	}

	path = filepath.Join(s.cfg.CredentialDir, sessionID+".env")
	content := ""
	for _, line := range creds.lines() {
		content += line + "\n"
	}

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", nil, fmt.Errorf("write credential file: %w", err)
	}

	var once sync.Once
	cleanup = func() {
		once.Do(func() {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				slog.Error("credential file cleanup failed", "path", path, "error", err)
			}
		})
	}
	return path, cleanup, nil
}

func terminalURL(sessionID string) string {
	return "/terminal/" + sessionID
}

func newID() string {
	return uuid.NewString()
}
