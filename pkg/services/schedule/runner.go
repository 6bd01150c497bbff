package schedule

import (
	"context"
	"time"

	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/de-tools/identity-atlas/pkg/models/store"
	"github.com/de-tools/identity-atlas/pkg/services/audit"
	schedulestore "github.com/de-tools/identity-atlas/pkg/store/duckdb/schedule"
	"github.com/rs/zerolog"
)

type Auditor interface {
	Run(ctx context.Context, req audit.Request) (domain.AuditReport, error)
}

type RunnerProgress struct {
	Runs      int64
	LastRunID string
	LastRunAt time.Time
	Err       error
}

// Runner audits one profile on a fixed interval until its context is
// cancelled. The first audit starts immediately.
type Runner struct {
	schedule *store.Schedule
	auditor  Auditor
	store    schedulestore.Store
	clock    func() time.Time
	done     chan struct{}
	progress chan RunnerProgress
}

func NewRunner(sched *store.Schedule, auditor Auditor, store schedulestore.Store) *Runner {
	return &Runner{
		schedule: sched,
		auditor:  auditor,
		store:    store,
		clock:    time.Now,
		done:     make(chan struct{}),
		progress: make(chan RunnerProgress, 100),
	}
}

func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Progress reports every completed run. Updates are dropped when nobody reads.
func (r *Runner) Progress() <-chan RunnerProgress {
	return r.progress
}

func (r *Runner) Run(ctx context.Context) {
	logger := zerolog.Ctx(ctx).With().
		Str("profile", r.schedule.Profile).
		Str("platform", r.schedule.Platform).
		Logger()
	ctx = logger.WithContext(ctx)
	defer close(r.done)
	defer close(r.progress)

	interval := r.schedule.Interval
	if interval <= 0 {
		interval = DefaultSettings().MinInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var runs int64
	for {
		report, err := r.auditor.Run(ctx, audit.Request{
			Platform: r.schedule.Platform,
			Profile:  r.schedule.Profile,
		})
		if ctx.Err() != nil {
			logger.Info().Msg("scheduled audits stopped")
			return
		}

		runs++
		at := r.clock()
		if err != nil {
			logger.Error().Err(err).Msg("scheduled audit failed")
		} else {
			logger.Info().Str("run_id", report.RunID).Msg("scheduled audit completed")
		}
		if storeErr := r.store.Progress(ctx, r.schedule.Profile, report.RunID, at, err); storeErr != nil {
			logger.Error().Err(storeErr).Msg("failed to record schedule progress")
		}

		select {
		case r.progress <- RunnerProgress{Runs: runs, LastRunID: report.RunID, LastRunAt: at, Err: err}:
		default:
		}

		select {
		case <-ctx.Done():
			logger.Info().Msg("scheduled audits stopped")
			return
		case <-ticker.C:
		}
	}
}
