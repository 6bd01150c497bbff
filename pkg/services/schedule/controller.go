package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/de-tools/identity-atlas/pkg/models/store"
	schedulestore "github.com/de-tools/identity-atlas/pkg/store/duckdb/schedule"
	"github.com/rs/zerolog"
)

var ErrNotScheduled = errors.New("profile is not scheduled")

type Controller interface {
	Start(ctx context.Context, profile, platform string, interval time.Duration) (*store.Schedule, error)
	Cancel(ctx context.Context, profile string) error
	List(ctx context.Context) ([]*store.Schedule, error)
}

type Settings struct {
	MinInterval time.Duration
}

func DefaultSettings() Settings {
	return Settings{MinInterval: time.Minute}
}

type scheduleDescriptor struct {
	cancelFunc context.CancelFunc
	schedule   *store.Schedule
	runner     *Runner
}

type DefaultController struct {
	auditor  Auditor
	store    schedulestore.Store
	settings Settings

	// opMu serializes Init, Start, Cancel and Shutdown.
	opMu sync.Mutex

	mu        sync.Mutex
	baseCtx   context.Context
	schedules map[string]scheduleDescriptor
}

func NewController(auditor Auditor, store schedulestore.Store, settings Settings) *DefaultController {
	return &DefaultController{
		auditor:   auditor,
		store:     store,
		settings:  settings,
		schedules: make(map[string]scheduleDescriptor),
	}
}

// Init resumes every persisted schedule. Runners live until ctx is cancelled
// or Shutdown is called.
func (ctrl *DefaultController) Init(ctx context.Context) error {
	ctrl.opMu.Lock()
	defer ctrl.opMu.Unlock()

	ctrl.mu.Lock()
	ctrl.baseCtx = ctx
	ctrl.mu.Unlock()

	schedules, err := ctrl.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}

	for _, sched := range schedules {
		ctrl.startRunner(ctx, sched)
	}
	zerolog.Ctx(ctx).Info().Int("schedules", len(schedules)).Msg("resumed scheduled audits")
	return nil
}

// Start schedules recurring audits for a profile, replacing any running
// schedule for the same profile.
func (ctrl *DefaultController) Start(
	ctx context.Context,
	profile, platform string,
	interval time.Duration,
) (*store.Schedule, error) {
	if profile == "" {
		return nil, domain.NewConfigurationError("schedule audit", fmt.Errorf("profile is required"))
	}
	if interval <= 0 || interval < ctrl.settings.MinInterval {
		return nil, domain.NewConfigurationError("schedule audit",
			fmt.Errorf("interval %s is shorter than the minimum %s", interval, ctrl.settings.MinInterval))
	}

	ctrl.opMu.Lock()
	defer ctrl.opMu.Unlock()

	sched, err := ctrl.store.Save(ctx, profile, platform, interval)
	if err != nil {
		return nil, fmt.Errorf("failed to save schedule: %w", err)
	}
	// Keep the configured interval; the store only has second precision.
	sched.Interval = interval

	ctrl.startRunner(ctx, sched)
	return sched, nil
}

func (ctrl *DefaultController) Cancel(ctx context.Context, profile string) error {
	ctrl.opMu.Lock()
	defer ctrl.opMu.Unlock()

	stopped := ctrl.stopRunner(profile)

	err := ctrl.store.Delete(ctx, profile)
	if errors.Is(err, schedulestore.ErrNotFound) {
		if stopped {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrNotScheduled, profile)
	}
	return err
}

func (ctrl *DefaultController) List(ctx context.Context) ([]*store.Schedule, error) {
	return ctrl.store.List(ctx)
}

// Shutdown stops every runner and waits for in-flight audits to return.
func (ctrl *DefaultController) Shutdown() {
	ctrl.opMu.Lock()
	defer ctrl.opMu.Unlock()

	ctrl.mu.Lock()
	profiles := make([]string, 0, len(ctrl.schedules))
	for profile := range ctrl.schedules {
		profiles = append(profiles, profile)
	}
	ctrl.mu.Unlock()

	for _, profile := range profiles {
		ctrl.stopRunner(profile)
	}
}

// startRunner replaces the profile's runner and waits for the previous one
// to exit.
func (ctrl *DefaultController) startRunner(ctx context.Context, sched *store.Schedule) {
	ctrl.mu.Lock()
	parent := ctrl.baseCtx
	if parent == nil {
		// Request contexts end with the request; the runner must outlive it.
		parent = context.WithoutCancel(ctx)
	}
	runCtx, cancel := context.WithCancel(parent)

	runner := NewRunner(sched, ctrl.auditor, ctrl.store)
	previous, replaced := ctrl.schedules[sched.Profile]
	ctrl.schedules[sched.Profile] = scheduleDescriptor{
		cancelFunc: cancel,
		schedule:   sched,
		runner:     runner,
	}
	go runner.Run(runCtx)
	ctrl.mu.Unlock()

	if replaced {
		previous.cancelFunc()
		<-previous.runner.Done()
	}
}

func (ctrl *DefaultController) stopRunner(profile string) bool {
	ctrl.mu.Lock()
	desc, ok := ctrl.schedules[profile]
	delete(ctrl.schedules, profile)
	ctrl.mu.Unlock()

	if !ok {
		return false
	}
	desc.cancelFunc()
	<-desc.runner.Done()
	return true
}
