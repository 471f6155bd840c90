// Package invite implements the Invite Store: generation, validation with a
// strict ordered check list, audit-on-consume, and operator revocation. All
// records are persisted through a kv.Store so the broker can restart without
// losing invite state.
package invite

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/demolab/sessionbroker/internal/domain"
	"github.com/demolab/sessionbroker/internal/kv"
)

// AuditRetention is added to an invite's TTL on every consume so usage
// history survives the invite's own expiration.
const AuditRetention = 30 * 24 * time.Hour

// MinTokenLength is the minimum acceptable length for a token, custom or
// generated. Anything shorter is rejected as malformed without ever
// touching the store.
const MinTokenLength = 10

const keyPrefix = "invite:"

// Reason is a closed-set validation failure reason, mirroring the gateway's
// invite_invalid event reasons in internal/domain/events.go.
type Reason string

const (
	ReasonMissing     Reason = domain.InviteReasonMissing
	ReasonInvalid     Reason = domain.InviteReasonInvalid
	ReasonNotFound    Reason = domain.InviteReasonNotFound
	ReasonRevoked     Reason = domain.InviteReasonRevoked
	ReasonUsed        Reason = domain.InviteReasonUsed
	ReasonExpired     Reason = domain.InviteReasonExpired
	ReasonRateLimited Reason = domain.InviteReasonRateLimited
)

// ValidationError reports why a token failed validation.
type ValidationError struct {
	Reason  Reason
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invite: %s: %s", e.Reason, e.Message)
}

func fail(reason Reason, msg string) *ValidationError {
	return &ValidationError{Reason: reason, Message: msg}
}

// BruteForceGuard records failed validation attempts per remote address and
// reports when an address should be short-circuited. It is satisfied by
// *ratelimit.Limiter. Blocked is a read-only check used for the pre-lookup
// gate; Allow is the recording call, made exactly once per failing
// Validate outcome.
type BruteForceGuard interface {
	Allow(key string, now time.Time) bool
	Blocked(key string, now time.Time) bool
}

// Store is the Invite Store. The zero value is not usable; construct with
// New.
type Store struct {
	kv    kv.Store
	guard BruteForceGuard
}

// New returns a Store persisting through backing and consulting guard for
// brute-force protection on validation failures.
func New(backing kv.Store, guard BruteForceGuard) *Store {
	return &Store{kv: backing, guard: guard}
}

// Generate creates a new invite with a fresh high-entropy token (or the
// supplied custom token, if non-empty) and persists it. Returns an error if
// a custom token collides with any record still present in the store,
// whatever its status.
func (s *Store) Generate(ctx context.Context, expiresIn time.Duration, maxUses int, label, customToken, creatorID string) (*domain.Invite, error) {
	if maxUses < 1 {
		maxUses = 1
	}

	token := customToken
	if token == "" {
		t, err := randomToken()
		if err != nil {
			return nil, fmt.Errorf("invite: generate token: %w", err)
		}
		token = t
	} else if len(token) < MinTokenLength {
		return nil, fmt.Errorf("invite: custom token shorter than %d bytes", MinTokenLength)
	} else if existing, err := s.load(ctx, token); err == nil && existing != nil {
		return nil, fmt.Errorf("invite: custom token %q collides with an existing %s invite", token, existing.Status)
	}

	now := time.Now()
	inv := &domain.Invite{
		Token:     token,
		CreatedAt: now,
		ExpiresAt: now.Add(expiresIn),
		Status:    domain.InviteStatusPending,
		MaxUses:   maxUses,
		Label:     label,
		CreatorID: creatorID,
	}

	if err := s.save(ctx, inv, expiresIn); err != nil {
		return nil, err
	}
	if err := s.addToIndex(ctx, token); err != nil {
		return nil, fmt.Errorf("invite: update index: %w", err)
	}
	return inv, nil
}

// Validate runs the exact ordered check list from the invite policy:
// malformed -> not found -> revoked -> used/cap-reached -> expired (with
// state-fix) -> OK. remoteAddr is consulted for brute-force short-circuit
// before any store lookup (a read-only check, so the short-circuit itself
// is not recorded as an attempt), and every failing outcome records
// exactly one attempt against remoteAddr.
func (s *Store) Validate(ctx context.Context, token, remoteAddr string) (*domain.Invite, error) {
	now := time.Now()

	if token == "" {
		s.recordFailure(remoteAddr, now)
		return nil, fail(ReasonMissing, "no invite token supplied")
	}
	if len(token) < MinTokenLength || !isTokenShape(token) {
		s.recordFailure(remoteAddr, now)
		return nil, fail(ReasonInvalid, "token is malformed")
	}

	if s.guard != nil && s.guard.Blocked(remoteAddr, now) {
		return nil, fail(ReasonRateLimited, "too many failed attempts from this address")
	}

	inv, err := s.load(ctx, token)
	if err != nil {
		s.recordFailure(remoteAddr, now)
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fail(ReasonNotFound, "no such invite")
		}
		return nil, fmt.Errorf("invite: validate: %w", err)
	}

	if inv.Status == domain.InviteStatusRevoked {
		s.recordFailure(remoteAddr, now)
		return nil, fail(ReasonRevoked, "invite has been revoked")
	}

	if inv.Status == domain.InviteStatusUsed || inv.AtCapacity() {
		s.recordFailure(remoteAddr, now)
		return nil, fail(ReasonUsed, "invite has already been used")
	}

	if inv.Expired(now) {
		inv.Status = domain.InviteStatusExpired
		remaining := ttlRemaining(inv, now)
		if err := s.save(ctx, inv, remaining); err != nil {
			return nil, fmt.Errorf("invite: persist expired state: %w", err)
		}
		s.recordFailure(remoteAddr, now)
		return nil, fail(ReasonExpired, "invite has expired")
	}

	return inv, nil
}

// Consume appends an audit record for a completed session, increments the
// use count, flips status to Used at capacity, and extends the record's TTL
// so the audit trail outlives the invite's own expiration.
func (s *Store) Consume(ctx context.Context, token string, summary domain.SessionSummary) error {
	inv, err := s.load(ctx, token)
	if err != nil {
		return fmt.Errorf("invite: consume: %w", err)
	}

	inv.Audit = append(inv.Audit, domain.UsageRecord{
		SessionID:   summary.SessionID,
		ClientID:    summary.ClientID,
		StartTime:   summary.StartTime,
		EndTime:     summary.EndTime,
		EndReason:   summary.EndReason,
		QueueWaitMS: summary.QueueWait.Milliseconds(),
		RemoteAddr:  summary.RemoteAddr,
		UserAgent:   summary.UserAgent,
		Errors:      summary.Errors,
	})
	inv.UseCount++
	if inv.AtCapacity() {
		inv.Status = domain.InviteStatusUsed
	}

	ttl := ttlRemaining(inv, time.Now()) + AuditRetention
	return s.save(ctx, inv, ttl)
}

// AppendError attaches message to the most recently recorded audit entry
// for token. Used when an asynchronous follow-up to a session (the
// data-reset hook) fails after the session's own audit record has already
// been written.
func (s *Store) AppendError(ctx context.Context, token, message string) error {
	inv, err := s.load(ctx, token)
	if err != nil {
		return fmt.Errorf("invite: append error: %w", err)
	}
	if len(inv.Audit) == 0 {
		return fmt.Errorf("invite: append error: no audit record to attach to")
	}
	last := &inv.Audit[len(inv.Audit)-1]
	last.Errors = append(last.Errors, message)

	ttl := ttlRemaining(inv, time.Now())
	if inv.Status == domain.InviteStatusUsed {
		ttl += AuditRetention
	}
	return s.save(ctx, inv, ttl)
}

// Revoke flips status to Revoked, preserving the record's remaining TTL.
func (s *Store) Revoke(ctx context.Context, token string) error {
	inv, err := s.load(ctx, token)
	if err != nil {
		return fmt.Errorf("invite: revoke: %w", err)
	}
	inv.Status = domain.InviteStatusRevoked
	ttl := ttlRemaining(inv, time.Now())
	return s.save(ctx, inv, ttl)
}

// Info returns the current record for token, or kv.ErrNotFound.
func (s *Store) Info(ctx context.Context, token string) (*domain.Invite, error) {
	return s.load(ctx, token)
}

// indexKey holds the full set of tokens ever generated, so the operator CLI
// can list and filter without the KV store needing a native scan. Entries
// are never removed from the index even once the underlying record expires;
// List silently skips tokens whose record has fallen out of the store.
const indexKey = keyPrefix + "index"

// indexTTL is generous relative to any single invite's TTL so the index
// outlives every record it references.
const indexTTL = 365 * 24 * time.Hour

func (s *Store) addToIndex(ctx context.Context, token string) error {
	tokens, err := s.loadIndex(ctx)
	if err != nil {
		return err
	}
	for _, t := range tokens {
		if t == token {
			return nil
		}
	}
	tokens = append(tokens, token)
	return s.saveIndex(ctx, tokens)
}

func (s *Store) loadIndex(ctx context.Context) ([]string, error) {
	raw, err := s.kv.Get(ctx, indexKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("invite: load index: %w", err)
	}
	var tokens []string
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, fmt.Errorf("invite: decode index: %w", err)
	}
	return tokens, nil
}

func (s *Store) saveIndex(ctx context.Context, tokens []string) error {
	raw, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("invite: encode index: %w", err)
	}
	if err := s.kv.Set(ctx, indexKey, raw, indexTTL); err != nil {
		return fmt.Errorf("invite: persist index: %w", err)
	}
	return nil
}

// List returns every tracked invite whose status matches filter, or every
// invite if filter is empty.
func (s *Store) List(ctx context.Context, filter domain.InviteStatus) ([]*domain.Invite, error) {
	tokens, err := s.loadIndex(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.Invite, 0, len(tokens))
	for _, tok := range tokens {
		inv, err := s.load(ctx, tok)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("invite: list load %s: %w", tok, err)
		}
		if filter == "" || inv.Status == filter {
			out = append(out, inv)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) recordFailure(remoteAddr string, now time.Time) {
	if s.guard != nil {
		s.guard.Allow(remoteAddr, now)
	}
}

func (s *Store) load(ctx context.Context, token string) (*domain.Invite, error) {
	raw, err := s.kv.Get(ctx, keyPrefix+token)
	if err != nil {
		return nil, err
	}
	var inv domain.Invite
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, fmt.Errorf("invite: decode record: %w", err)
	}
	return &inv, nil
}

func (s *Store) save(ctx context.Context, inv *domain.Invite, ttl time.Duration) error {
	raw, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("invite: encode record: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := s.kv.Set(ctx, keyPrefix+inv.Token, raw, ttl); err != nil {
		return fmt.Errorf("invite: persist record: %w", err)
	}
	return nil
}

func ttlRemaining(inv *domain.Invite, now time.Time) time.Duration {
	d := inv.ExpiresAt.Sub(now)
	if d <= 0 {
		return time.Minute
	}
	return d
}

func isTokenShape(token string) bool {
	for _, r := range token {
		if r == ' ' || r == '\n' || r == '\t' {
			return false
		}
	}
	return !strings.ContainsAny(token, "\x00")
}

func randomToken() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
