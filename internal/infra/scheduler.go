package infra

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/quietloop/shieldd/internal/domain"
)

// MaxMonitoredActivities caps how many activities may be watched at once.
// The platform enforces a hard limit; exceeding it surfaces as a
// recoverable error so the caller can clear registrations and retry.
const MaxMonitoredActivities = 20

// StoreScheduler implements domain.MonitorScheduler, persisting
// registrations in the shared database so the foreground process can
// inspect and re-register them after budgets change.
type StoreScheduler struct {
	db  *sql.DB
	now func() time.Time
}

// NewStoreScheduler creates a scheduler on an open database.
func NewStoreScheduler(d *Database) *StoreScheduler {
	return &StoreScheduler{db: d.db, now: time.Now}
}

// Register watches an activity for the given threshold events, replacing
// any previous registration for that activity.
func (s *StoreScheduler) Register(activity string, events []domain.ThresholdEvent) error {
	var existing int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM monitor_registrations WHERE activity != ?`, activity,
	).Scan(&existing)
	if err != nil {
		return fmt.Errorf("failed to count registrations: %w", err)
	}
	if existing >= MaxMonitoredActivities {
		return fmt.Errorf("%w: %d already registered", domain.ErrTooManyActivities, existing)
	}

	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("failed to encode threshold events: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO monitor_registrations (activity, events, registered_at) VALUES (?, ?, ?)
		 ON CONFLICT(activity) DO UPDATE SET events = excluded.events, registered_at = excluded.registered_at`,
		activity, string(data), s.now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to register activity %s: %w", activity, err)
	}
	return nil
}

// Unregister stops watching an activity.
func (s *StoreScheduler) Unregister(activity string) error {
	_, err := s.db.Exec(`DELETE FROM monitor_registrations WHERE activity = ?`, activity)
	if err != nil {
		return fmt.Errorf("failed to unregister activity %s: %w", activity, err)
	}
	return nil
}

// ClearAll drops every registration.
func (s *StoreScheduler) ClearAll() error {
	_, err := s.db.Exec(`DELETE FROM monitor_registrations`)
	if err != nil {
		return fmt.Errorf("failed to clear registrations: %w", err)
	}
	return nil
}

// List returns current registrations ordered by activity name.
func (s *StoreScheduler) List() ([]domain.Registration, error) {
	rows, err := s.db.Query(
		`SELECT activity, events, registered_at FROM monitor_registrations ORDER BY activity`)
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations: %w", err)
	}
	defer rows.Close()

	var out []domain.Registration
	for rows.Next() {
		var reg domain.Registration
		var eventsJSON, registeredAt string
		if err := rows.Scan(&reg.Activity, &eventsJSON, &registeredAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(eventsJSON), &reg.Events); err != nil {
			return nil, fmt.Errorf("malformed events for activity %s: %w", reg.Activity, err)
		}
		if t, err := time.Parse(time.RFC3339Nano, registeredAt); err == nil {
			reg.RegisteredAt = t
		}
		out = append(out, reg)
	}
	return out, rows.Err()
}

// IsRegistrationFull reports whether an error is the recoverable
// over-registration condition.
func IsRegistrationFull(err error) bool {
	return errors.Is(err, domain.ErrTooManyActivities)
}

// Ensure StoreScheduler implements domain.MonitorScheduler.
var _ domain.MonitorScheduler = (*StoreScheduler)(nil)
