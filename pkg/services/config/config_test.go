package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettings_Defaults(t *testing.T) {
	s, err := LoadSettings("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings().Workers, s.Workers)
	assert.Equal(t, 90*24*time.Hour, s.StalenessThreshold())
	assert.Equal(t, 60*time.Second, s.CollectTimeout)
	assert.Equal(t, "fixture", s.Platform)
}

func TestLoadSettings_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atlas.yaml")
	content := `staleness_days: 30
workers: 8
collect_timeout: 2m
rules:
  - admin-role-grant
  - stale-credential
platform: gcp
profile: prod
output:
  path: out/report.json
  duckdb_path: atlas.db
cache:
  redis_addr: localhost:6379
  ttl: 5m`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("ATLAS_WORKERS", "2")

	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, 30, s.StalenessDays)
	assert.Equal(t, 2, s.Workers)
	assert.Equal(t, 2*time.Minute, s.CollectTimeout)
	assert.Equal(t, []string{"admin-role-grant", "stale-credential"}, s.Rules)
	assert.Equal(t, "gcp", s.Platform)
	assert.Equal(t, "prod", s.Profile)
	assert.Equal(t, "out/report.json", s.Output.Path)
	assert.Equal(t, "atlas.db", s.Output.DuckDBPath)
	assert.Equal(t, "localhost:6379", s.Cache.RedisAddr)
	assert.Equal(t, 5*time.Minute, s.Cache.TTL)
}

func TestLoadSettings_Invalid(t *testing.T) {
	tests := map[string]string{
		"zero workers":       "workers: 0",
		"negative days":      "staleness_days: -1",
		"key without bucket": "output:\n  s3_key: reports/latest.json",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "atlas.yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

			_, err := LoadSettings(path)
			assert.True(t, domain.IsConfiguration(err))
		})
	}

	_, err := LoadSettings(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, domain.IsConfiguration(err))
}

const profiles = `
[prod-gcp]
project = acme-prod

[ci-cluster]
kubeconfig = /etc/kube/ci.yaml
namespace = ci

[warehouse]
platform = Snowflake
account = xy12345
user = auditor

[empty]
`

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	reg, err := NewRegistry([]byte(profiles))
	require.NoError(t, err)

	all, err := reg.GetProfiles(ctx)
	require.NoError(t, err)
	names := []string{}
	for _, p := range all {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"ci-cluster", "prod-gcp", "warehouse"}, names)

	gcp, err := reg.GetProfile(ctx, "prod-gcp")
	require.NoError(t, err)
	assert.Equal(t, "gcp", gcp.Platform)
	assert.Equal(t, "acme-prod", gcp.Get("project"))

	k8s, err := reg.GetProfile(ctx, "ci-cluster")
	require.NoError(t, err)
	assert.Equal(t, "kubernetes", k8s.Platform)

	wh, err := reg.GetProfile(ctx, "warehouse")
	require.NoError(t, err)
	assert.Equal(t, "snowflake", wh.Platform)
	assert.Equal(t, "default", wh.GetOr("database", "default"))

	_, err = wh.Require("password")
	assert.True(t, domain.IsConfiguration(err))

	_, err = reg.GetProfile(ctx, "empty")
	assert.True(t, domain.IsConfiguration(err))
	_, err = reg.GetProfile(ctx, "missing")
	assert.True(t, domain.IsConfiguration(err))
}
