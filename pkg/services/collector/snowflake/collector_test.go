package snowflake

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/de-tools/identity-atlas/pkg/models/domain"
	sf "github.com/snowflakedb/gosnowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Collect(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	lastLogin := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM snowflake\.account_usage\.grants_to_users`).
		WillReturnRows(sqlmock.NewRows([]string{"grantee_name", "role"}).
			AddRow("ETL_SVC", "SYSADMIN").
			AddRow("ETL_SVC", "ANALYST").
			AddRow("BI_SVC", "REPORTING"))
	mock.ExpectQuery(`FROM snowflake\.account_usage\.users`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "login_name", "email", "disabled", "last_success_login"}).
			AddRow("BI_SVC", "bi_svc", nil, true, nil).
			AddRow("ETL_SVC", "etl_svc", "etl@example.com", false, lastLogin).
			AddRow("LEGACY", nil, nil, nil, nil))

	identities, err := NewCollector(db).Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, identities, 3)

	bi := identities[0]
	assert.Equal(t, "BI_SVC", bi.ID)
	assert.Equal(t, "bi_svc", bi.Email)
	assert.Equal(t, domain.StatusDisabled, bi.Status)
	assert.Equal(t, []string{"roles/snowflake.reporting"}, bi.Roles)
	assert.Nil(t, bi.LastUsed)

	etl := identities[1]
	assert.Equal(t, "etl@example.com", etl.Email)
	assert.Equal(t, domain.StatusActive, etl.Status)
	assert.Equal(t, []string{"roles/snowflake.analyst", "roles/snowflake.sysadmin.admin"}, etl.Roles)
	require.NotNil(t, etl.LastUsed)
	assert.True(t, lastLogin.Equal(*etl.LastUsed))

	assert.Equal(t, domain.StatusUnknown, identities[2].Status)
	assert.Empty(t, identities[2].Roles)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCollector_Errors(t *testing.T) {
	t.Run("insufficient privileges", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`grants_to_users`).WillReturnError(&sf.SnowflakeError{Number: 2003, Message: "Object does not exist or not authorized"})

		_, err = NewCollector(db).Collect(context.Background())
		assert.True(t, domain.IsConfiguration(err))
	})

	t.Run("connection failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`grants_to_users`).WillReturnError(&sf.SnowflakeError{Number: sf.ErrCodeFailedToConnect, Message: "failed to connect"})

		_, err = NewCollector(db).Collect(context.Background())
		assert.True(t, domain.IsRetryable(err))
	})

	t.Run("malformed row", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`grants_to_users`).WillReturnRows(sqlmock.NewRows([]string{"grantee_name", "role"}))
		mock.ExpectQuery(`account_usage\.users`).
			WillReturnRows(sqlmock.NewRows([]string{"name", "login_name", "email", "disabled", "last_success_login"}).
				AddRow("X", "x", nil, "not-a-bool", nil))

		_, err = NewCollector(db).Collect(context.Background())
		var collErr *domain.CollectionError
		require.ErrorAs(t, err, &collErr)
		assert.Equal(t, domain.ReasonInvalid, collErr.Reason)
	})
}

func TestRoleName(t *testing.T) {
	assert.Equal(t, "roles/snowflake.accountadmin.admin", RoleName("ACCOUNTADMIN"))
	assert.Equal(t, "roles/snowflake.loader", RoleName("LOADER"))
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snowflake.yaml")
	content := `account: "xy12345.eu-west-1"
user: "auditor"
password: "secret"
role: "SECURITY_AUDITOR"`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "xy12345.eu-west-1", cfg.Account)
	assert.Equal(t, "auditor", cfg.User)
	assert.Equal(t, "SECURITY_AUDITOR", cfg.Role)
}

func TestOpen_RequiresAccount(t *testing.T) {
	_, err := Open(Config{User: "auditor"})
	assert.True(t, domain.IsConfiguration(err))
}
