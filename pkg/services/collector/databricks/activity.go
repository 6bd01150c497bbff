package databricks

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/databricks/databricks-sql-go"
	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/rs/zerolog"
)

const defaultActivityLookback = 180 * 24 * time.Hour

// ActivitySource reports the last time each principal acted in the workspace,
// keyed by application id.
type ActivitySource interface {
	LastActivity(ctx context.Context, since time.Time) (map[string]time.Time, error)
}

type auditLogActivity struct {
	db *sql.DB
}

// NewAuditLogActivity reads principal activity from the system.access.audit
// table. Service principal events carry the application id in
// user_identity.email.
func NewAuditLogActivity(db *sql.DB) ActivitySource {
	return &auditLogActivity{db: db}
}

func (a *auditLogActivity) LastActivity(ctx context.Context, since time.Time) (map[string]time.Time, error) {
	logger := zerolog.Ctx(ctx)

	query := `
        SELECT
            user_identity.email AS principal,
            MAX(event_time) AS last_seen
        FROM
            system.access.audit
        WHERE
            event_time >= ?
            AND user_identity.email IS NOT NULL
        GROUP BY
            user_identity.email
        `

	rows, err := a.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query audit log failed: %w", err)
	}
	defer rows.Close()

	out := map[string]time.Time{}
	for rows.Next() {
		var principal string
		var lastSeen sql.NullTime
		if err := rows.Scan(&principal, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan audit log row failed: %w", err)
		}
		if lastSeen.Valid {
			out[principal] = lastSeen.Time.UTC()
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read audit log failed: %w", err)
	}

	logger.Debug().
		Int("principals", len(out)).
		Time("since", since).
		Msg("retrieved principal activity")
	return out, nil
}

// openWarehouse connects to a SQL warehouse with a personal access token.
func openWarehouse(cfg Config) (*sql.DB, error) {
	host := strings.TrimPrefix(strings.TrimPrefix(cfg.Host, "https://"), "http://")
	host = strings.TrimSuffix(host, "/")
	httpPath := cfg.HTTPPath
	if !strings.HasPrefix(httpPath, "/") {
		httpPath = "/" + httpPath
	}

	dsn := fmt.Sprintf("token:%s@%s%s", cfg.Token, host, httpPath)
	params := url.Values{}
	params.Set("catalog", "system")
	dsn = dsn + "?" + params.Encode()

	db, err := sql.Open("databricks", dsn)
	if err != nil {
		return nil, domain.NewConfigurationError("databricks collector", fmt.Errorf("failed to connect to warehouse: %w", err))
	}
	return db, nil
}
