package audit

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/de-tools/identity-atlas/pkg/services/collector"
	"github.com/de-tools/identity-atlas/pkg/services/config"
	"github.com/de-tools/identity-atlas/pkg/services/registry"
	"github.com/de-tools/identity-atlas/pkg/services/rules"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockWriter struct{ mock.Mock }

func (m *mockWriter) Write(ctx context.Context, report domain.AuditReport) error {
	return m.Called(ctx, report).Error(0)
}

func countingRegistry(t *testing.T, calls *atomic.Int32) registry.Registry {
	t.Helper()
	r, err := registry.NewRegistry(map[string]registry.Factory{
		"counting": func(context.Context, config.Profile) (collector.Collector, error) {
			return collector.Func(func(context.Context) ([]domain.Identity, error) {
				calls.Add(1)
				return collector.SampleIdentities(), nil
			}), nil
		},
	})
	require.NoError(t, err)
	return r
}

func TestService_Run(t *testing.T) {
	var calls atomic.Int32
	w := new(mockWriter)
	w.On("Write", mock.Anything, mock.MatchedBy(func(r domain.AuditReport) bool {
		return len(r.Items) == 2
	})).Return(nil).Once()

	settings := config.DefaultSettings()
	settings.Platform = "counting"
	svc, err := NewService(Dependencies{Registry: countingRegistry(t, &calls), Writer: w}, settings, false)
	require.NoError(t, err)

	report, err := svc.Run(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Summary.TotalAccounts)
	// The sample accounts hold a broad viewer grant and a compute admin grant.
	assert.Equal(t, 1, report.Summary.HighFindings)
	assert.Equal(t, 1, report.Summary.CriticalFindings)
	w.AssertExpectations(t)
}

func TestService_RuleSelection(t *testing.T) {
	r := registry.Default()
	settings := config.DefaultSettings()

	builtin, err := NewService(Dependencies{Registry: r}, settings, false)
	require.NoError(t, err)
	assert.Len(t, builtin.Rules(), 3)

	extended, err := NewService(Dependencies{Registry: r}, settings, true)
	require.NoError(t, err)
	assert.Len(t, extended.Rules(), 7)

	settings.Rules = []string{rules.PrimitiveRoleGrantName}
	selected, err := NewService(Dependencies{Registry: r}, settings, true)
	require.NoError(t, err)
	require.Len(t, selected.Rules(), 1)
	assert.Equal(t, rules.PrimitiveRoleGrantName, selected.Rules()[0].Name)

	settings.Rules = []string{rules.PrimitiveRoleGrantName, rules.PrimitiveRoleGrantName}
	_, err = NewService(Dependencies{Registry: r}, settings, false)
	assert.True(t, domain.IsConfiguration(err))

	settings.Rules = []string{"unknown"}
	_, err = NewService(Dependencies{Registry: r}, settings, false)
	assert.True(t, domain.IsConfiguration(err))
}

func TestService_ProfileSelectsPlatform(t *testing.T) {
	profiles, err := config.NewRegistry([]byte("[dry-run]\nplatform = fixture\n"))
	require.NoError(t, err)

	settings := config.DefaultSettings()
	settings.Platform = "gcp"
	svc, err := NewService(Dependencies{Registry: registry.Default(), Profiles: profiles}, settings, false)
	require.NoError(t, err)

	report, err := svc.Run(context.Background(), Request{Profile: "dry-run"})
	require.NoError(t, err)
	assert.Len(t, report.Items, 2)

	_, err = svc.Run(context.Background(), Request{Profile: "missing"})
	assert.True(t, domain.IsConfiguration(err))

	_, err = svc.Run(context.Background(), Request{Platform: "mainframe"})
	assert.True(t, domain.IsConfiguration(err))
}

func TestService_CachesCollectedIdentities(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var calls atomic.Int32
	settings := config.DefaultSettings()
	settings.Platform = "counting"
	svc, err := NewService(Dependencies{Registry: countingRegistry(t, &calls), Cache: client}, settings, false)
	require.NoError(t, err)

	first, err := svc.Run(context.Background(), Request{})
	require.NoError(t, err)
	second, err := svc.Run(context.Background(), Request{})
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	require.Len(t, second.Items, len(first.Items))
	for i := range first.Items {
		assert.Equal(t, first.Items[i].Identity.ID, second.Items[i].Identity.ID)
		assert.Equal(t, first.Items[i].Identity.Roles, second.Items[i].Identity.Roles)
	}
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestService_WriterFailureKeepsReport(t *testing.T) {
	var calls atomic.Int32
	w := new(mockWriter)
	w.On("Write", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	settings := config.DefaultSettings()
	settings.Platform = "counting"
	svc, err := NewService(Dependencies{Registry: countingRegistry(t, &calls), Writer: w}, settings, false)
	require.NoError(t, err)

	report, err := svc.Run(context.Background(), Request{})
	assert.ErrorContains(t, err, "disk full")
	assert.ErrorIs(t, err, ErrReportNotWritten)
	assert.Len(t, report.Items, 2)
}
