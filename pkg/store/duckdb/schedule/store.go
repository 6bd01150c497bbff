package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/de-tools/identity-atlas/pkg/models/store"
	"github.com/de-tools/identity-atlas/pkg/store/duckdb"
)

var ErrNotFound = errors.New("schedule not found")

// Store persists recurring audit schedules so they survive a restart.
type Store interface {
	List(ctx context.Context) ([]*store.Schedule, error)
	Save(ctx context.Context, profile, platform string, interval time.Duration) (*store.Schedule, error)
	Delete(ctx context.Context, profile string) error
	Progress(ctx context.Context, profile, runID string, at time.Time, runErr error) error
}

type defaultStore struct {
	db *sql.DB
}

func NewStore(db *sql.DB) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	return &defaultStore{
		db: db,
	}, nil
}

const selectSchedules = `
	SELECT profile, platform, interval_seconds, created_at, last_run_at, last_run_id, error
	FROM audit_schedules`

func (s *defaultStore) List(ctx context.Context) ([]*store.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, selectSchedules+` ORDER BY profile`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	schedules := []*store.Schedule{}
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}

// Save creates the schedule for a profile or replaces its platform and
// interval. Run progress is reset.
func (s *defaultStore) Save(
	ctx context.Context,
	profile, platform string,
	interval time.Duration,
) (*store.Schedule, error) {
	var sched *store.Schedule
	err := duckdb.InTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE audit_schedules
			SET platform = ?, interval_seconds = ?, last_run_at = NULL, last_run_id = NULL, error = NULL
			WHERE profile = ?`,
			platform, int64(interval/time.Second), profile,
		)
		if err != nil {
			return fmt.Errorf("update schedule %s: %w", profile, err)
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO audit_schedules (profile, platform, interval_seconds) VALUES (?, ?, ?)`,
				profile, platform, int64(interval/time.Second),
			)
			if err != nil {
				return fmt.Errorf("insert schedule %s: %w", profile, err)
			}
		}

		sched, err = scanSchedule(tx.QueryRowContext(ctx, selectSchedules+` WHERE profile = ?`, profile))
		return err
	})
	if err != nil {
		return nil, err
	}
	return sched, nil
}

func (s *defaultStore) Delete(ctx context.Context, profile string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_schedules WHERE profile = ?`, profile)
	if err != nil {
		return fmt.Errorf("delete schedule %s: %w", profile, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, profile)
	}
	return nil
}

// Progress records the outcome of the latest scheduled run.
func (s *defaultStore) Progress(ctx context.Context, profile, runID string, at time.Time, runErr error) error {
	var lastRunID, lastErr sql.NullString
	if runID != "" {
		lastRunID = sql.NullString{String: runID, Valid: true}
	}
	if runErr != nil {
		lastErr = sql.NullString{String: runErr.Error(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE audit_schedules SET last_run_at = ?, last_run_id = ?, error = ? WHERE profile = ?`,
		at.UTC(), lastRunID, lastErr, profile,
	)
	if err != nil {
		return fmt.Errorf("record progress for %s: %w", profile, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row scanner) (*store.Schedule, error) {
	var (
		sched     store.Schedule
		seconds   int64
		lastRunAt sql.NullTime
		lastRunID sql.NullString
		lastErr   sql.NullString
	)
	err := row.Scan(&sched.Profile, &sched.Platform, &seconds, &sched.CreatedAt, &lastRunAt, &lastRunID, &lastErr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan schedule: %w", err)
	}

	sched.Interval = time.Duration(seconds) * time.Second
	sched.CreatedAt = sched.CreatedAt.UTC()
	if lastRunAt.Valid {
		at := lastRunAt.Time.UTC()
		sched.LastRunAt = &at
	}
	if lastRunID.Valid {
		sched.LastRunID = &lastRunID.String
	}
	if lastErr.Valid {
		sched.Error = &lastErr.String
	}
	return &sched, nil
}
