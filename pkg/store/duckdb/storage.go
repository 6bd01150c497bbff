package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"

	"github.com/marcboeker/go-duckdb/v2"
)

const AuditRunsSchema = `
	CREATE TABLE IF NOT EXISTS audit_runs (
		run_id VARCHAR PRIMARY KEY,
		started_at TIMESTAMP NOT NULL,
		total_accounts INTEGER NOT NULL,
		active_accounts INTEGER NOT NULL,
		critical_findings INTEGER NOT NULL,
		high_findings INTEGER NOT NULL,
		report JSON NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
`
const AuditFindingsSchema = `
	CREATE TABLE IF NOT EXISTS audit_findings (
		run_id VARCHAR NOT NULL,
		identity_id VARCHAR NOT NULL,
		rule VARCHAR NOT NULL,
		severity VARCHAR NOT NULL,
		description VARCHAR
	);
`
const AuditSchedulesSchema = `
	CREATE TABLE IF NOT EXISTS audit_schedules (
		profile VARCHAR PRIMARY KEY,
		platform VARCHAR NOT NULL,
		interval_seconds BIGINT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_run_at TIMESTAMP,
		last_run_id VARCHAR,
		error VARCHAR
	);
`

var bootQueries = []string{
	AuditRunsSchema,
	AuditFindingsSchema,
	AuditSchedulesSchema,
}

type Settings struct {
	DbPath string
}

func NewDB(settings Settings) (*sql.DB, error) {
	c, err := duckdb.NewConnector(fmt.Sprintf("%s?threads=4", settings.DbPath), func(exec driver.ExecerContext) error {
		for _, query := range bootQueries {
			_, err := exec.ExecContext(context.Background(), query, nil)
			if err != nil {
				return fmt.Errorf("failed to run boot query: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb at %s: %w", settings.DbPath, err)
	}

	return sql.OpenDB(c), nil
}
