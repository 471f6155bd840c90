// Package queue implements the FIFO admission waitlist: clients that cannot
// be promoted to the active session immediately wait here in enqueue order.
package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrQueueFull is returned by Enqueue when the queue is already at its
// configured capacity.
var ErrQueueFull = errors.New("queue: full")

// ErrAlreadyQueued is returned by Enqueue when the client is already
// present in the queue.
var ErrAlreadyQueued = errors.New("queue: client already queued")

// ErrAlreadyActive is returned by Enqueue when the caller already holds the
// active session slot.
var ErrAlreadyActive = errors.New("queue: client already holds the active session")

// Promoter is the narrow view of the Session Supervisor the Queue Manager
// needs: whether a session is currently running, and a request to start one
// directly for a client that finds the system idle on enqueue. Queue and
// Supervisor reference each other only through client IDs and this
// interface, never through direct pointers, to avoid a construction cycle.
type Promoter interface {
	// HasActiveSession reports whether the singleton slot is occupied
	// (Starting, Active, DisconnectedGrace, or Ending).
	HasActiveSession() bool
	// IsActiveClient reports whether clientID is the current owner of the
	// singleton slot, so Enqueue can reject a redundant join_queue from it.
	IsActiveClient(clientID string) bool
	// PromoteDirect asks the Supervisor to start a session for clientID,
	// bypassing the queue entirely. Called only when the queue is empty and
	// no session is active.
	PromoteDirect(clientID string)
}

// Emitter delivers outbound events to a connected client by ID. Lookups for
// a client that has since disconnected are expected to be silently skipped
// by the implementation.
type Emitter interface {
	EmitQueuePosition(clientID string, position, queueSize, estimatedWaitMin int)
	EmitQueueFull(clientID string)
	EmitLeftQueue(clientID string)
}

// entry is one queued client.
type entry struct {
	clientID   string
	enqueuedAt time.Time
}

// Config bounds the queue and controls its wait-time estimate.
type Config struct {
	Capacity            int
	AverageSessionMins  int
}

// Manager is the Queue Manager. All mutating operations are serialized by
// mu so enqueue/leave/pop are atomic relative to position broadcast.
type Manager struct {
	cfg      Config
	promoter Promoter
	emitter  Emitter

	mu      sync.Mutex
	entries []entry
}

// New returns a Manager. promoter and emitter may be set after construction
// via SetPromoter/SetEmitter if wiring requires it (main.go constructs the
// Supervisor and Queue Manager with a cyclic dependency on each other).
func New(cfg Config, promoter Promoter, emitter Emitter) *Manager {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 50
	}
	if cfg.AverageSessionMins <= 0 {
		cfg.AverageSessionMins = 15
	}
	return &Manager{cfg: cfg, promoter: promoter, emitter: emitter}
}

// SetPromoter wires the Supervisor after both are constructed.
func (m *Manager) SetPromoter(p Promoter) { m.promoter = p }

// SetEmitter wires the Gateway after both are constructed.
func (m *Manager) SetEmitter(e Emitter) { m.emitter = e }

// Enqueue runs the admission decision algorithm: if no session is active and
// the queue is empty, the client skips the queue entirely and is promoted
// directly. Otherwise it is appended at the tail and positions are
// broadcast. Returns the 1-based position, or 0 if the client was promoted
// directly rather than queued.
func (m *Manager) Enqueue(clientID string) (position int, err error) {
	if m.promoter != nil && m.promoter.IsActiveClient(clientID) {
		return 0, ErrAlreadyActive
	}

	m.mu.Lock()

	for _, e := range m.entries {
		if e.clientID == clientID {
			m.mu.Unlock()
			return 0, ErrAlreadyQueued
		}
	}

	if m.promoter != nil && !m.promoter.HasActiveSession() && len(m.entries) == 0 {
		m.mu.Unlock()
		m.promoter.PromoteDirect(clientID)
		return 0, nil
	}

	if len(m.entries) >= m.cfg.Capacity {
		m.mu.Unlock()
		if m.emitter != nil {
			m.emitter.EmitQueueFull(clientID)
		}
		return 0, ErrQueueFull
	}

	m.entries = append(m.entries, entry{clientID: clientID, enqueuedAt: time.Now()})
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.broadcast(snapshot)

	for i, e := range snapshot {
		if e.clientID == clientID {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("queue: enqueued client %s vanished before broadcast", clientID)
}

// Leave removes clientID from the queue; it is a no-op if the client is not
// present.
func (m *Manager) Leave(clientID string) {
	m.mu.Lock()
	removed := m.removeLocked(clientID)
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	if removed {
		if m.emitter != nil {
			m.emitter.EmitLeftQueue(clientID)
		}
		m.broadcast(snapshot)
	}
}

// RemoveIfPresent is the disconnect-path equivalent of Leave: it removes the
// client without emitting left_queue (the client is already gone).
func (m *Manager) RemoveIfPresent(clientID string) {
	m.mu.Lock()
	removed := m.removeLocked(clientID)
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	if removed {
		m.broadcast(snapshot)
	}
}

func (m *Manager) removeLocked(clientID string) bool {
	for i, e := range m.entries {
		if e.clientID == clientID {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return true
		}
	}
	return false
}

// PeekHead returns the client ID at the head of the queue, or "" if empty.
// Inspection only; does not mutate the queue.
func (m *Manager) PeekHead() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return ""
	}
	return m.entries[0].clientID
}

// PopHead removes and returns the client ID at the head of the queue and
// the time it was enqueued, or ("", zero time) if empty. Reserved for the
// Supervisor on promotion. The enqueue time is returned here rather than
// through a separate EnqueuedAt lookup, since the entry no longer exists
// in the queue for such a lookup to find once it has been popped.
func (m *Manager) PopHead() (clientID string, enqueuedAt time.Time) {
	m.mu.Lock()
	if len(m.entries) == 0 {
		m.mu.Unlock()
		return "", time.Time{}
	}
	head := m.entries[0]
	m.entries = m.entries[1:]
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.broadcast(snapshot)
	return head.clientID, head.enqueuedAt
}

// Size returns the current queue length.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Manager) snapshotLocked() []entry {
	out := make([]entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// broadcast emits a fresh queue_position to every still-queued client with
// its new 1-based position. Called after every mutation.
func (m *Manager) broadcast(snapshot []entry) {
	if m.emitter == nil {
		return
	}
	size := len(snapshot)
	for i, e := range snapshot {
		position := i + 1
		wait := position * m.cfg.AverageSessionMins
		m.emitter.EmitQueuePosition(e.clientID, position, size, wait)
	}
}
