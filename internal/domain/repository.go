package domain

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors surfaced across layer boundaries.
var (
	// ErrTooManyActivities means the OS refused a registration because the
	// cap on concurrently monitored activities was reached. Recoverable:
	// the caller may clear all registrations and retry.
	ErrTooManyActivities = errors.New("too many monitored activities")

	// ErrLimitNotFound means no time limit exists with the given ID.
	ErrLimitNotFound = errors.New("time limit not found")

	// ErrBadTokenSet means a stored token-set blob failed to decode.
	// Callers in the background path treat it as an empty set.
	ErrBadTokenSet = errors.New("malformed token set")
)

// SharedState is the shared, persistent, string-keyed store that is the
// sole communication medium between the two processes. There are no
// cross-key transactions: every write is an independent, idempotent
// single-key operation and the store may be read by the peer process
// between any two of them.
//
// Getters return ok=false when the key is absent.
type SharedState interface {
	GetString(key string) (value string, ok bool, err error)
	SetString(key, value string) error

	GetInt(key string) (value int, ok bool, err error)
	SetInt(key string, value int) error

	GetBool(key string) (value bool, ok bool, err error)
	SetBool(key string, value bool) error

	GetTime(key string) (value time.Time, ok bool, err error)
	SetTime(key string, value time.Time) error

	// GetTokenSet returns ErrBadTokenSet (wrapped) on decode failure.
	GetTokenSet(key string) (value TokenSet, ok bool, err error)
	SetTokenSet(key string, value TokenSet) error

	// Delete removes a key. Deleting an absent key is a no-op.
	Delete(key string) error
}

// ShieldAPI is the OS-level shield collaborator. Tokens are passed through
// opaquely; the OS side decides what blocking them means.
type ShieldAPI interface {
	// SetShielded replaces the full shielded set. Passing two empty sets
	// removes all shielding. Must be safe to call repeatedly with the
	// same sets.
	SetShielded(appTokens, categoryTokens TokenSet) error
}

// MonitorScheduler registers threshold-watch requests with the OS.
// Only the callback contract is owned by this system; registration
// bookkeeping exists so the foreground process can re-register after
// budgets change.
type MonitorScheduler interface {
	// Register watches an activity for the given threshold events,
	// replacing any previous registration for that activity. Returns
	// ErrTooManyActivities when the concurrent-activity cap is hit.
	Register(activity string, events []ThresholdEvent) error

	// Unregister stops watching an activity. Unknown activities are a no-op.
	Unregister(activity string) error

	// ClearAll drops every registration.
	ClearAll() error

	// List returns current registrations, for status and tests.
	List() ([]Registration, error)
}

// Notifier is the fire-and-forget cross-process wake signal. Delivery is
// not guaranteed and the payload carries only an event name; it exists to
// wake the UI promptly and must never be the sole signal of a state change.
type Notifier interface {
	Notify(event string)
}

// LimitRepository provides durable TimeLimit storage. Written only by the
// foreground process; the background handler sees limits indirectly via
// shared-state projections.
type LimitRepository interface {
	Create(ctx context.Context, limit *TimeLimit) error
	Update(ctx context.Context, limit *TimeLimit) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*TimeLimit, error)
	ListAll(ctx context.Context) ([]TimeLimit, error)
	ListActive(ctx context.Context) ([]TimeLimit, error)
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByName returns PIDs of processes matching the pattern.
	FindByName(pattern string) ([]int, error)

	// Kill terminates a process by PID (SIGKILL).
	Kill(pid int) error

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}
