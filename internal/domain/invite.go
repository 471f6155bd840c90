package domain

import "time"

// InviteStatus is the lifecycle state of an invite token.
type InviteStatus string

const (
	InviteStatusPending InviteStatus = "pending"
	InviteStatusUsed    InviteStatus = "used"
	InviteStatusExpired InviteStatus = "expired"
	InviteStatusRevoked InviteStatus = "revoked"
)

// UsageRecord is a single append-only audit entry recorded when a session
// that consumed this invite ends.
type UsageRecord struct {
	SessionID    string    `json:"session_id"`
	ClientID     string    `json:"client_id"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	EndReason    string    `json:"end_reason"`
	QueueWaitMS  int64     `json:"queue_wait_ms"`
	RemoteAddr   string    `json:"remote_address"`
	UserAgent    string    `json:"user_agent"`
	Errors       []string  `json:"errors,omitempty"`
}

// Invite is the persisted record for a single invite token.
type Invite struct {
	Token      string        `json:"token"`
	CreatedAt  time.Time     `json:"created_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
	Status     InviteStatus  `json:"status"`
	MaxUses    int           `json:"max_uses"`
	UseCount   int           `json:"use_count"`
	Label      string        `json:"label,omitempty"`
	CreatorID  string        `json:"creator_id,omitempty"`
	Audit      []UsageRecord `json:"audit,omitempty"`
}

// Expired reports whether the invite's expiration instant has passed.
func (i *Invite) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// AtCapacity reports whether the invite has been consumed its maximum
// number of times.
func (i *Invite) AtCapacity() bool {
	return i.UseCount >= i.MaxUses
}

// SessionSummary is what a Supervisor hands to the Invite Store on
// session end; it is converted into a UsageRecord by the invite package.
type SessionSummary struct {
	SessionID   string
	ClientID    string
	StartTime   time.Time
	EndTime     time.Time
	EndReason   string
	QueueWait   time.Duration
	RemoteAddr  string
	UserAgent   string
	Errors      []string
}
