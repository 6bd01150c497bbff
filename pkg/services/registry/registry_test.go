package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/de-tools/identity-atlas/pkg/services/collector"
	"github.com/de-tools/identity-atlas/pkg/services/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, config.Profile) (collector.Collector, error) {
	return collector.NewFixture(), nil
}

func TestRegistry_Register(t *testing.T) {
	r, err := NewRegistry(nil)
	require.NoError(t, err)

	require.NoError(t, r.Register("b", noop))
	require.NoError(t, r.Register("a", noop))
	assert.ErrorContains(t, r.Register("a", noop), "already registered")
	assert.Error(t, r.Register("", noop))
	assert.Error(t, r.Register("c", nil))

	assert.Equal(t, []string{"a", "b"}, r.ListPlatforms())
}

func TestRegistry_Create(t *testing.T) {
	ctx := context.Background()
	broken := func(context.Context, config.Profile) (collector.Collector, error) {
		return nil, errors.New("bad credentials")
	}
	r, err := NewRegistry(map[string]Factory{"ok": noop, "broken": broken})
	require.NoError(t, err)

	c, err := r.Create(ctx, "ok", config.Profile{})
	require.NoError(t, err)
	assert.NotNil(t, c)

	_, err = r.Create(ctx, "missing", config.Profile{})
	assert.True(t, domain.IsConfiguration(err))

	_, err = r.Create(ctx, "broken", config.Profile{})
	assert.True(t, domain.IsConfiguration(err))
	assert.ErrorContains(t, err, "bad credentials")
}

func TestDefault(t *testing.T) {
	r := Default()
	assert.Equal(t, []string{
		PlatformAWS,
		PlatformAzure,
		PlatformDatabricks,
		PlatformFixture,
		PlatformGCP,
		PlatformKubernetes,
		PlatformSnapshot,
		PlatformSnowflake,
	}, r.ListPlatforms())

	c, err := r.Create(context.Background(), PlatformFixture, config.Profile{})
	require.NoError(t, err)
	identities, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, identities, 2)
}

func TestFactories_RequireKeys(t *testing.T) {
	ctx := context.Background()
	empty := config.NewProfile("empty", "", nil)

	for name, factory := range map[string]Factory{
		PlatformSnapshot:   SnapshotFactory,
		PlatformGCP:        GCPFactory,
		PlatformAzure:      AzureFactory,
		PlatformDatabricks: DatabricksFactory,
		PlatformSnowflake:  SnowflakeFactory,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := factory(ctx, empty)
			assert.True(t, domain.IsConfiguration(err), "%v", err)
		})
	}
}

func TestDatabricksFactory_InvalidActivityDays(t *testing.T) {
	profile := config.NewProfile("ws", PlatformDatabricks, map[string]string{
		"host":          "https://dbc-123.cloud.databricks.com",
		"token":         "dapi",
		"http_path":     "/sql/1.0/warehouses/abc",
		"activity_days": "soon",
	})

	_, err := DatabricksFactory(context.Background(), profile)
	assert.True(t, domain.IsConfiguration(err))
	assert.ErrorContains(t, err, "activity_days")
}
