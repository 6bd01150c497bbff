package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/de-tools/identity-atlas/pkg/services/collector"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCollector struct{ mock.Mock }

func (m *mockCollector) Collect(ctx context.Context) ([]domain.Identity, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Identity), args.Error(1)
}

func setup(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestCollector_ReadThrough(t *testing.T) {
	ctx := context.Background()
	srv, client := setup(t)

	upstream := new(mockCollector)
	upstream.On("Collect", mock.Anything).Return(collector.SampleIdentities(), nil).Once()

	c, err := NewCollector(client, upstream, Settings{Key: "gcp:prod", TTL: time.Minute})
	require.NoError(t, err)

	first, err := c.Collect(ctx)
	require.NoError(t, err)
	second, err := c.Collect(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, srv.Exists("atlas:identities:gcp:prod"))
	assert.Equal(t, time.Minute, srv.TTL("atlas:identities:gcp:prod"))
	upstream.AssertExpectations(t)
}

func TestCollector_ExpiredEntryCollectsAgain(t *testing.T) {
	ctx := context.Background()
	srv, client := setup(t)

	upstream := new(mockCollector)
	upstream.On("Collect", mock.Anything).Return(collector.SampleIdentities(), nil).Twice()

	c, err := NewCollector(client, upstream, Settings{Key: "gcp:prod", TTL: time.Minute})
	require.NoError(t, err)

	_, err = c.Collect(ctx)
	require.NoError(t, err)
	srv.FastForward(2 * time.Minute)
	_, err = c.Collect(ctx)
	require.NoError(t, err)

	upstream.AssertExpectations(t)
}

func TestCollector_UpstreamErrorIsNotCached(t *testing.T) {
	ctx := context.Background()
	srv, client := setup(t)

	collectErr := domain.NewCollectionError("gcp", assert.AnError)
	upstream := new(mockCollector)
	upstream.On("Collect", mock.Anything).Return(nil, collectErr).Once()

	c, err := NewCollector(client, upstream, Settings{Key: "gcp:prod"})
	require.NoError(t, err)

	_, err = c.Collect(ctx)
	assert.Same(t, collectErr, err)
	assert.False(t, srv.Exists("atlas:identities:gcp:prod"))
}

func TestCollector_RedisDownFallsBack(t *testing.T) {
	ctx := context.Background()
	srv, client := setup(t)
	srv.Close()

	upstream := new(mockCollector)
	upstream.On("Collect", mock.Anything).Return(collector.SampleIdentities(), nil).Once()

	c, err := NewCollector(client, upstream, Settings{Key: "gcp:prod"})
	require.NoError(t, err)

	identities, err := c.Collect(ctx)
	require.NoError(t, err)
	assert.Len(t, identities, 2)
}

func TestCollector_Invalidate(t *testing.T) {
	ctx := context.Background()
	srv, client := setup(t)

	upstream := new(mockCollector)
	upstream.On("Collect", mock.Anything).Return(collector.SampleIdentities(), nil)

	c, err := NewCollector(client, upstream, Settings{Key: "k"})
	require.NoError(t, err)
	_, err = c.Collect(ctx)
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(ctx))
	assert.False(t, srv.Exists("atlas:identities:k"))
}
