package audit

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/de-tools/identity-atlas/pkg/services/collector"
	"github.com/de-tools/identity-atlas/pkg/services/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var runStart = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type mockCollector struct{ mock.Mock }

func (m *mockCollector) Collect(ctx context.Context) ([]domain.Identity, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Identity), args.Error(1)
}

func builtinEngine(t *testing.T) *rules.Engine {
	t.Helper()
	engine, err := rules.NewEngine(rules.Builtin(rules.DefaultSettings())...)
	require.NoError(t, err)
	return engine
}

func newTestOrchestrator(t *testing.T, c collector.Collector, settings Settings) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(c, builtinEngine(t), settings,
		WithClock(func() time.Time { return runStart }),
		WithRunID("run-test"),
	)
	require.NoError(t, err)
	return o
}

func TestOrchestrator_Run(t *testing.T) {
	now := runStart
	identities := []domain.Identity{
		{ID: "sa-2", Name: "viewer", Status: domain.StatusActive, Roles: []string{"roles/viewer", "roles/storage.objectViewer"}, LastUsed: &now},
		{ID: "sa-1", Name: "admin", Status: domain.StatusActive, Roles: []string{"roles/compute.admin"}},
		{ID: "sa-3", Name: "old", Status: domain.StatusDisabled},
	}

	o := newTestOrchestrator(t, collector.NewFixture(identities...), DefaultSettings())
	assert.Equal(t, StateIdle, o.State())

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, o.State())
	assert.NoError(t, o.Err())

	assert.Equal(t, "run-test", report.RunID)
	assert.True(t, runStart.Equal(report.Timestamp))
	require.Len(t, report.Items, 3)
	assert.Equal(t, "sa-1", report.Items[0].Identity.ID)
	assert.Equal(t, "sa-2", report.Items[1].Identity.ID)
	assert.Equal(t, "sa-3", report.Items[2].Identity.ID)

	assert.Equal(t, []string{rules.AdminRoleGrantName, rules.StaleCredentialName}, names(report.Items[0].Findings))
	assert.Equal(t, []string{rules.BroadViewerRoleName}, names(report.Items[1].Findings))
	assert.Equal(t, []string{rules.StaleCredentialName}, names(report.Items[2].Findings))

	assert.Equal(t, 3, report.Summary.TotalAccounts)
	assert.Equal(t, 2, report.Summary.ActiveAccounts)
	assert.Equal(t, 1, report.Summary.CriticalFindings)
	assert.Equal(t, 1, report.Summary.HighFindings)
	assert.Equal(t, domain.Summarize(report.Items), report.Summary)
}

func TestOrchestrator_RunsOnce(t *testing.T) {
	o := newTestOrchestrator(t, collector.NewFixture(), DefaultSettings())

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRun)
	assert.Equal(t, StateDone, o.State())
}

func TestOrchestrator_CollectionErrorFailsRun(t *testing.T) {
	collErr := domain.NewCollectionError("gcp", errors.New("connection reset"))
	m := new(mockCollector)
	m.On("Collect", mock.Anything).Return(nil, collErr).Once()

	o := newTestOrchestrator(t, m, DefaultSettings())
	report, err := o.Run(context.Background())

	assert.Same(t, collErr, err)
	assert.Equal(t, StateFailed, o.State())
	assert.Same(t, collErr, o.Err())
	assert.Empty(t, report.Items)
	assert.Empty(t, report.RunID)
	m.AssertExpectations(t)
}

func TestOrchestrator_ErrorClassification(t *testing.T) {
	cfgErr := domain.NewConfigurationError("gcp collector", errors.New("permission denied"))

	tests := []struct {
		name      string
		collect   collector.Func
		check     func(t *testing.T, err error)
		timeout   time.Duration
		cancelCtx bool
	}{
		{
			name: "configuration error is returned unchanged",
			collect: func(context.Context) ([]domain.Identity, error) {
				return nil, cfgErr
			},
			check: func(t *testing.T, err error) {
				assert.Same(t, cfgErr, err)
			},
		},
		{
			name: "unclassified error becomes transient",
			collect: func(context.Context) ([]domain.Identity, error) {
				return nil, errors.New("EOF")
			},
			check: func(t *testing.T, err error) {
				assert.True(t, domain.IsRetryable(err))
			},
		},
		{
			name:    "collector timeout is a cancellation",
			timeout: 10 * time.Millisecond,
			collect: func(ctx context.Context) ([]domain.Identity, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
			check: func(t *testing.T, err error) {
				assert.True(t, domain.IsCancelled(err))
				assert.False(t, domain.IsRetryable(err))
				assert.ErrorIs(t, err, context.DeadlineExceeded)
			},
		},
		{
			name:      "caller cancellation",
			cancelCtx: true,
			collect: func(ctx context.Context) ([]domain.Identity, error) {
				return nil, fmt.Errorf("request aborted: %w", ctx.Err())
			},
			check: func(t *testing.T, err error) {
				var collErr *domain.CollectionError
				require.ErrorAs(t, err, &collErr)
				assert.Equal(t, domain.ReasonCancelled, collErr.Reason)
				assert.ErrorIs(t, err, domain.ErrCancelled)
			},
		},
		{
			name: "duplicate identity ids are invalid data",
			collect: func(context.Context) ([]domain.Identity, error) {
				return []domain.Identity{{ID: "a", Status: domain.StatusActive}, {ID: "a", Status: domain.StatusActive}}, nil
			},
			check: func(t *testing.T, err error) {
				var collErr *domain.CollectionError
				require.ErrorAs(t, err, &collErr)
				assert.Equal(t, domain.ReasonInvalid, collErr.Reason)
				assert.False(t, domain.IsRetryable(err))
			},
		},
		{
			name: "empty identity id is invalid data",
			collect: func(context.Context) ([]domain.Identity, error) {
				return []domain.Identity{{ID: "", Status: domain.StatusActive}}, nil
			},
			check: func(t *testing.T, err error) {
				var collErr *domain.CollectionError
				require.ErrorAs(t, err, &collErr)
				assert.Equal(t, domain.ReasonInvalid, collErr.Reason)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tt.cancelCtx {
				cancel()
			}

			o := newTestOrchestrator(t, tt.collect, Settings{CollectTimeout: tt.timeout})
			_, err := o.Run(ctx)

			require.Error(t, err)
			assert.Equal(t, StateFailed, o.State())
			tt.check(t, err)
		})
	}
}

func TestOrchestrator_DeterministicUnderConcurrency(t *testing.T) {
	var identities []domain.Identity
	for i := 0; i < 200; i++ {
		identities = append(identities, domain.Identity{
			ID:     fmt.Sprintf("sa-%03d", (i*37)%200),
			Status: domain.StatusActive,
			Roles:  []string{"roles/viewer", "roles/compute.admin"},
		})
	}

	var reference []domain.AuditItem
	for _, workers := range []int{1, 3, 16} {
		o := newTestOrchestrator(t, collector.NewFixture(identities...), Settings{Workers: workers})
		report, err := o.Run(context.Background())
		require.NoError(t, err)
		require.Len(t, report.Items, 200)

		for i := 1; i < len(report.Items); i++ {
			assert.Less(t, report.Items[i-1].Identity.ID, report.Items[i].Identity.ID)
		}
		if reference == nil {
			reference = report.Items
			continue
		}
		assert.Equal(t, reference, report.Items, "workers=%d", workers)
	}
}

func TestOrchestrator_FailingRuleDoesNotFailRun(t *testing.T) {
	broken := rules.Rule{
		Name: "broken",
		Check: func(rules.Env, domain.Identity) ([]domain.AuditFinding, error) {
			return nil, errors.New("lookup failed")
		},
	}
	engine, err := rules.NewEngine(broken, rules.AdminRoleGrant())
	require.NoError(t, err)

	identities := []domain.Identity{
		{ID: "a", Status: domain.StatusActive, Roles: []string{"roles/compute.admin"}},
		{ID: "b", Status: domain.StatusActive},
	}
	o, err := NewOrchestrator(collector.NewFixture(identities...), engine, DefaultSettings())
	require.NoError(t, err)

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Summary.HighFindings)
	assert.Equal(t, 1, report.Summary.CriticalFindings)
	assert.NotEmpty(t, report.RunID)
}

func TestNewOrchestrator_Validation(t *testing.T) {
	_, err := NewOrchestrator(nil, builtinEngine(t), DefaultSettings())
	assert.True(t, domain.IsConfiguration(err))

	_, err = NewOrchestrator(collector.NewFixture(), nil, DefaultSettings())
	assert.True(t, domain.IsConfiguration(err))
}

func TestRunWithRetry(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

	t.Run("retries transient failures", func(t *testing.T) {
		var calls atomic.Int32
		flaky := collector.Func(func(context.Context) ([]domain.Identity, error) {
			if calls.Add(1) < 3 {
				return nil, domain.NewCollectionError("gcp", errors.New("503"))
			}
			return collector.SampleIdentities(), nil
		})

		report, err := RunWithRetry(context.Background(), func() (*Orchestrator, error) {
			return newTestOrchestrator(t, flaky, DefaultSettings()), nil
		}, policy)

		require.NoError(t, err)
		assert.Len(t, report.Items, 2)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		var calls atomic.Int32
		down := collector.Func(func(context.Context) ([]domain.Identity, error) {
			calls.Add(1)
			return nil, domain.NewCollectionError("gcp", errors.New("503"))
		})

		_, err := RunWithRetry(context.Background(), func() (*Orchestrator, error) {
			return newTestOrchestrator(t, down, DefaultSettings()), nil
		}, policy)

		assert.True(t, domain.IsRetryable(err))
		assert.Equal(t, int32(4), calls.Load())
	})

	t.Run("cancellation during backoff is a cancelled error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var calls atomic.Int32
		down := collector.Func(func(context.Context) ([]domain.Identity, error) {
			if calls.Add(1) == 1 {
				time.AfterFunc(10*time.Millisecond, cancel)
			}
			return nil, domain.NewCollectionError("gcp", errors.New("503"))
		})

		slow := RetryPolicy{MaxRetries: 3, InitialInterval: time.Hour, MaxInterval: time.Hour}
		_, err := RunWithRetry(ctx, func() (*Orchestrator, error) {
			return newTestOrchestrator(t, down, DefaultSettings()), nil
		}, slow)

		require.Error(t, err)
		assert.True(t, domain.IsCancelled(err))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("configuration errors are not retried", func(t *testing.T) {
		var calls atomic.Int32
		misconfigured := collector.Func(func(context.Context) ([]domain.Identity, error) {
			calls.Add(1)
			return nil, domain.NewConfigurationError("gcp collector", errors.New("403"))
		})

		_, err := RunWithRetry(context.Background(), func() (*Orchestrator, error) {
			return newTestOrchestrator(t, misconfigured, DefaultSettings()), nil
		}, policy)

		assert.True(t, domain.IsConfiguration(err))
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestOrchestrator_FindingsOrderedByRuleName(t *testing.T) {
	selected, err := rules.Select(rules.DefaultSettings(), []string{rules.StaleCredentialName, rules.AdminRoleGrantName})
	require.NoError(t, err)
	engine, err := rules.NewEngine(selected...)
	require.NoError(t, err)

	o, err := NewOrchestrator(
		collector.NewFixture(domain.Identity{ID: "sa-1", Name: "admin", Status: domain.StatusActive, Roles: []string{"roles/compute.admin"}}),
		engine, DefaultSettings(),
		WithClock(func() time.Time { return runStart }),
	)
	require.NoError(t, err)

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Items, 1)
	assert.Equal(t, []string{rules.AdminRoleGrantName, rules.StaleCredentialName}, names(report.Items[0].Findings))
}

func names(findings []domain.AuditFinding) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.RuleName)
	}
	return out
}
