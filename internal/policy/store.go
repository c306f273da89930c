// Package policy implements durable storage for per-app/category time limits.
// Limits are created and edited only by the foreground process; the
// background handler sees them indirectly through shared-state projections.
package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quietloop/shieldd/internal/domain"
	"github.com/quietloop/shieldd/internal/infra"
)

// LimitStore implements domain.LimitRepository on the shared encrypted
// database.
type LimitStore struct {
	db *sql.DB
}

// NewLimitStore creates a limit store on an open database.
func NewLimitStore(d *infra.Database) *LimitStore {
	return &LimitStore{db: d.DB()}
}

// Create inserts a new limit. A missing ID is generated; CreatedAt is
// stamped if zero.
func (s *LimitStore) Create(ctx context.Context, limit *domain.TimeLimit) error {
	if limit.ID == "" {
		limit.ID = uuid.NewString()
	}
	if limit.CreatedAt.IsZero() {
		limit.CreatedAt = time.Now()
	}

	scheduleJSON, err := encodeSchedule(limit.Schedule)
	if err != nil {
		return err
	}
	appsJSON, catsJSON, err := encodeTokens(limit)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO time_limits
		 (id, display_name, kind, daily_budget_minutes, schedule, is_active, app_tokens, category_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		limit.ID, limit.DisplayName, string(limit.Kind), limit.DailyBudgetMinutes,
		scheduleJSON, boolToInt(limit.IsActive), appsJSON, catsJSON,
		limit.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to create limit %s: %w", limit.ID, err)
	}
	return nil
}

// Update rewrites an existing limit.
func (s *LimitStore) Update(ctx context.Context, limit *domain.TimeLimit) error {
	scheduleJSON, err := encodeSchedule(limit.Schedule)
	if err != nil {
		return err
	}
	appsJSON, catsJSON, err := encodeTokens(limit)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE time_limits
		 SET display_name = ?, kind = ?, daily_budget_minutes = ?, schedule = ?,
		     is_active = ?, app_tokens = ?, category_tokens = ?
		 WHERE id = ?`,
		limit.DisplayName, string(limit.Kind), limit.DailyBudgetMinutes, scheduleJSON,
		boolToInt(limit.IsActive), appsJSON, catsJSON, limit.ID)
	if err != nil {
		return fmt.Errorf("failed to update limit %s: %w", limit.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrLimitNotFound
	}
	return nil
}

// Delete removes a limit by ID.
func (s *LimitStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM time_limits WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete limit %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrLimitNotFound
	}
	return nil
}

// GetByID returns a single limit.
func (s *LimitStore) GetByID(ctx context.Context, id string) (*domain.TimeLimit, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, kind, daily_budget_minutes, schedule, is_active,
		        app_tokens, category_tokens, created_at
		 FROM time_limits WHERE id = ?`, id)

	limit, err := scanLimit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrLimitNotFound
	}
	if err != nil {
		return nil, err
	}
	return limit, nil
}

// ListAll returns every limit ordered by creation time.
func (s *LimitStore) ListAll(ctx context.Context) ([]domain.TimeLimit, error) {
	return s.list(ctx, `SELECT id, display_name, kind, daily_budget_minutes, schedule, is_active,
		app_tokens, category_tokens, created_at FROM time_limits ORDER BY created_at`)
}

// ListActive returns limits with the active flag set.
func (s *LimitStore) ListActive(ctx context.Context) ([]domain.TimeLimit, error) {
	return s.list(ctx, `SELECT id, display_name, kind, daily_budget_minutes, schedule, is_active,
		app_tokens, category_tokens, created_at FROM time_limits WHERE is_active = 1 ORDER BY created_at`)
}

func (s *LimitStore) list(ctx context.Context, query string) ([]domain.TimeLimit, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list limits: %w", err)
	}
	defer rows.Close()

	var out []domain.TimeLimit
	for rows.Next() {
		limit, err := scanLimit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *limit)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLimit(row rowScanner) (*domain.TimeLimit, error) {
	var (
		limit                      domain.TimeLimit
		kind                       string
		scheduleJSON               sql.NullString
		isActive                   int
		appsJSON, catsJSON, created string
	)

	err := row.Scan(&limit.ID, &limit.DisplayName, &kind, &limit.DailyBudgetMinutes,
		&scheduleJSON, &isActive, &appsJSON, &catsJSON, &created)
	if err != nil {
		return nil, err
	}

	limit.Kind = domain.LimitKind(kind)
	limit.IsActive = isActive != 0

	if scheduleJSON.Valid && scheduleJSON.String != "" {
		var window domain.ScheduleWindow
		if err := json.Unmarshal([]byte(scheduleJSON.String), &window); err != nil {
			return nil, fmt.Errorf("malformed schedule for limit %s: %w", limit.ID, err)
		}
		limit.Schedule = &window
	}

	if err := json.Unmarshal([]byte(appsJSON), &limit.AppTokens); err != nil {
		return nil, fmt.Errorf("malformed app tokens for limit %s: %w", limit.ID, err)
	}
	if err := json.Unmarshal([]byte(catsJSON), &limit.CategoryTokens); err != nil {
		return nil, fmt.Errorf("malformed category tokens for limit %s: %w", limit.ID, err)
	}

	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		limit.CreatedAt = t
	}

	return &limit, nil
}

func encodeSchedule(w *domain.ScheduleWindow) (sql.NullString, error) {
	if w == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(w)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode schedule: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func encodeTokens(limit *domain.TimeLimit) (apps, cats string, err error) {
	appTokens := limit.AppTokens
	if appTokens == nil {
		appTokens = domain.NewTokenSet()
	}
	catTokens := limit.CategoryTokens
	if catTokens == nil {
		catTokens = domain.NewTokenSet()
	}

	appData, err := json.Marshal(appTokens)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode app tokens: %w", err)
	}
	catData, err := json.Marshal(catTokens)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode category tokens: %w", err)
	}
	return string(appData), string(catData), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure LimitStore implements domain.LimitRepository.
var _ domain.LimitRepository = (*LimitStore)(nil)
