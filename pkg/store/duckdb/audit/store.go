package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/de-tools/identity-atlas/pkg/adapters"
	"github.com/de-tools/identity-atlas/pkg/models/api"
	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/de-tools/identity-atlas/pkg/models/store"
	"github.com/de-tools/identity-atlas/pkg/store/duckdb"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("audit run not found")

// Store keeps the history of audit runs. Write makes it usable as a report writer.
type Store interface {
	Write(ctx context.Context, report domain.AuditReport) error
	List(ctx context.Context, limit int) ([]store.AuditRun, error)
	Get(ctx context.Context, runID string) (api.AuditReport, error)
	Findings(ctx context.Context, runID string) ([]store.AuditFinding, error)
}

type auditStore struct {
	db *sql.DB
}

func NewStore(db *sql.DB) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	return &auditStore{db: db}, nil
}

func (s *auditStore) Write(ctx context.Context, report domain.AuditReport) error {
	run, findings := adapters.MapAuditReportDomainToStore(report)
	doc, err := json.Marshal(adapters.MapAuditReportDomainToApi(report))
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	return duckdb.InTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO audit_runs (
				run_id, started_at, total_accounts, active_accounts,
				critical_findings, high_findings, report
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.RunID,
			run.StartedAt,
			run.TotalAccounts,
			run.ActiveAccounts,
			run.CriticalFindings,
			run.HighFindings,
			string(doc),
		)
		if err != nil {
			return fmt.Errorf("insert run %s: %w", run.RunID, err)
		}

		if len(findings) == 0 {
			return nil
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO audit_findings (run_id, identity_id, rule, severity, description)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, f := range findings {
			if _, err := stmt.ExecContext(ctx, f.RunID, f.IdentityID, f.Rule, f.Severity, f.Description); err != nil {
				return fmt.Errorf("insert finding: %w", err)
			}
		}
		return nil
	})
}

// List returns the most recent runs first. A non-positive limit returns all runs.
func (s *auditStore) List(ctx context.Context, limit int) ([]store.AuditRun, error) {
	query := `
		SELECT run_id, started_at, total_accounts, active_accounts, critical_findings, high_findings
		FROM audit_runs
		ORDER BY started_at DESC, run_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []store.AuditRun{}
	for rows.Next() {
		var run store.AuditRun
		if err := rows.Scan(
			&run.RunID,
			&run.StartedAt,
			&run.TotalAccounts,
			&run.ActiveAccounts,
			&run.CriticalFindings,
			&run.HighFindings,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.StartedAt = run.StartedAt.UTC()
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *auditStore) Get(ctx context.Context, runID string) (api.AuditReport, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT CAST(report AS VARCHAR) FROM audit_runs WHERE run_id = ?`, runID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return api.AuditReport{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return api.AuditReport{}, fmt.Errorf("get run %s: %w", runID, err)
	}

	var report api.AuditReport
	if err := json.Unmarshal([]byte(doc), &report); err != nil {
		return api.AuditReport{}, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return report, nil
}

func (s *auditStore) Findings(ctx context.Context, runID string) ([]store.AuditFinding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, identity_id, rule, severity, COALESCE(description, '')
		FROM audit_findings
		WHERE run_id = ?
		ORDER BY identity_id, rule`, runID)
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	defer rows.Close()

	findings := []store.AuditFinding{}
	for rows.Next() {
		var f store.AuditFinding
		if err := rows.Scan(&f.RunID, &f.IdentityID, &f.Rule, &f.Severity, &f.Description); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}
