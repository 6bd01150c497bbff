package snowflake

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/rs/zerolog"
	sf "github.com/snowflakedb/gosnowflake"
)

const source = "snowflake"

const usersQuery = `
	SELECT
		name,
		login_name,
		email,
		disabled,
		last_success_login
	FROM snowflake.account_usage.users
	WHERE deleted_on IS NULL
	ORDER BY name
`

const grantsQuery = `
	SELECT
		grantee_name,
		role
	FROM snowflake.account_usage.grants_to_users
	WHERE deleted_on IS NULL
`

// systemAdminRoles are reported with an .admin suffix so admin-role rules see them.
var systemAdminRoles = map[string]bool{
	"ACCOUNTADMIN":  true,
	"ORGADMIN":      true,
	"SECURITYADMIN": true,
	"SYSADMIN":      true,
	"USERADMIN":     true,
}

// Collector reads users and their granted roles from the ACCOUNT_USAGE share.
type Collector struct {
	db *sql.DB
}

func NewCollector(db *sql.DB) *Collector {
	return &Collector{db: db}
}

func (c *Collector) Collect(ctx context.Context) ([]domain.Identity, error) {
	roles, err := c.grants(ctx)
	if err != nil {
		return nil, classify("query user grants", err)
	}

	rows, err := c.db.QueryContext(ctx, usersQuery)
	if err != nil {
		return nil, classify("query users", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to close users result set")
		}
	}()

	var identities []domain.Identity
	for rows.Next() {
		var (
			name       string
			loginName  sql.NullString
			email      sql.NullString
			disabled   sql.NullBool
			lastSignIn sql.NullTime
		)
		if err := rows.Scan(&name, &loginName, &email, &disabled, &lastSignIn); err != nil {
			return nil, &domain.CollectionError{Source: source, Reason: domain.ReasonInvalid, Err: fmt.Errorf("failed to scan user row: %w", err)}
		}

		status := domain.StatusUnknown
		if disabled.Valid {
			status = domain.StatusActive
			if disabled.Bool {
				status = domain.StatusDisabled
			}
		}

		var lastUsed *time.Time
		if lastSignIn.Valid {
			t := lastSignIn.Time.UTC()
			lastUsed = &t
		}

		contact := email.String
		if contact == "" {
			contact = loginName.String
		}

		identity, err := domain.NewIdentity(name, name, contact, status, roles[name], lastUsed)
		if err != nil {
			return nil, &domain.CollectionError{Source: source, Reason: domain.ReasonInvalid, Err: err}
		}
		identities = append(identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("read users", err)
	}

	return identities, nil
}

func (c *Collector) grants(ctx context.Context) (map[string][]string, error) {
	rows, err := c.db.QueryContext(ctx, grantsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string][]string{}
	for rows.Next() {
		var grantee, role string
		if err := rows.Scan(&grantee, &role); err != nil {
			return nil, err
		}
		out[grantee] = append(out[grantee], RoleName(role))
	}
	for grantee := range out {
		sort.Strings(out[grantee])
	}
	return out, rows.Err()
}

// RoleName maps a Snowflake role to a roles/snowflake.<role> identifier.
func RoleName(role string) string {
	upper := strings.ToUpper(role)
	name := "roles/snowflake." + strings.ToLower(role)
	if systemAdminRoles[upper] {
		name += ".admin"
	}
	return name
}

func classify(op string, err error) error {
	wrapped := fmt.Errorf("failed to %s: %w", op, err)

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewCancelledError(source, wrapped)
	}

	var sfErr *sf.SnowflakeError
	if errors.As(err, &sfErr) {
		switch sfErr.Number {
		case sf.ErrCodeFailedToConnect, sf.ErrCodeServiceUnavailable:
			return domain.NewCollectionError(source, wrapped)
		}
		// Authentication failures, missing objects and insufficient privileges
		// all surface as SQL errors that a retry will not fix.
		return domain.NewConfigurationError("snowflake collector", wrapped)
	}
	return domain.NewCollectionError(source, wrapped)
}
