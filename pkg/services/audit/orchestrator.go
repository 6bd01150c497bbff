package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/de-tools/identity-atlas/pkg/services/collector"
	"github.com/de-tools/identity-atlas/pkg/services/rules"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type State int

const (
	StateIdle State = iota
	StateCollecting
	StateEvaluating
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	case StateEvaluating:
		return "evaluating"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrAlreadyRun is returned when Run is called on an orchestrator that left Idle.
var ErrAlreadyRun = errors.New("audit run already started")

const collectorSource = "collector"

type Settings struct {
	// Workers bounds concurrent identity evaluations (default: 4)
	Workers int
	// CollectTimeout bounds the collector call (default: 60s)
	CollectTimeout time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		Workers:        4,
		CollectTimeout: 60 * time.Second,
	}
}

type Option func(*Orchestrator)

// WithClock replaces time.Now as the source of the run start time.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithRunID(id string) Option {
	return func(o *Orchestrator) { o.runID = id }
}

// Orchestrator drives exactly one audit run:
// Idle -> Collecting -> Evaluating -> Done, or Idle -> Collecting -> Failed.
type Orchestrator struct {
	collector collector.Collector
	engine    *rules.Engine
	settings  Settings
	now       func() time.Time
	runID     string

	mu    sync.Mutex
	state State
	err   error
}

func NewOrchestrator(c collector.Collector, engine *rules.Engine, settings Settings, opts ...Option) (*Orchestrator, error) {
	if c == nil {
		return nil, domain.NewConfigurationError("build orchestrator", fmt.Errorf("collector is required"))
	}
	if engine == nil {
		return nil, domain.NewConfigurationError("build orchestrator", fmt.Errorf("rule engine is required"))
	}
	defaults := DefaultSettings()
	if settings.Workers <= 0 {
		settings.Workers = defaults.Workers
	}
	if settings.CollectTimeout <= 0 {
		settings.CollectTimeout = defaults.CollectTimeout
	}

	o := &Orchestrator{
		collector: c,
		engine:    engine,
		settings:  settings,
		now:       time.Now,
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}
	return o, nil
}

func (o *Orchestrator) RunID() string {
	return o.runID
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Err returns the error that moved the run to Failed, if any.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

func (o *Orchestrator) transition(ctx context.Context, from, to State) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != from {
		return false
	}
	o.state = to
	zerolog.Ctx(ctx).Debug().Str("run_id", o.runID).Stringer("from", from).Stringer("to", to).Msg("audit state changed")
	return true
}

func (o *Orchestrator) fail(ctx context.Context, err error) error {
	o.mu.Lock()
	o.state = StateFailed
	o.err = err
	o.mu.Unlock()

	zerolog.Ctx(ctx).Error().Err(err).Str("run_id", o.runID).Bool("retryable", domain.IsRetryable(err)).Msg("audit run failed")
	return err
}

// Run collects identities once, evaluates every identity against the rule
// set and assembles the report. A failed run returns no report; collector
// errors that are already classified are returned unchanged.
func (o *Orchestrator) Run(ctx context.Context) (domain.AuditReport, error) {
	if !o.transition(ctx, StateIdle, StateCollecting) {
		return domain.AuditReport{}, ErrAlreadyRun
	}
	startedAt := o.now().UTC()
	logger := zerolog.Ctx(ctx).With().Str("run_id", o.runID).Logger()

	identities, err := o.collect(ctx)
	if err != nil {
		return domain.AuditReport{}, o.fail(ctx, err)
	}

	o.transition(ctx, StateCollecting, StateEvaluating)
	items := o.evaluate(ctx, rules.Env{Now: startedAt}, identities)

	report, err := domain.NewAuditReport(o.runID, startedAt, items)
	if err != nil {
		return domain.AuditReport{}, o.fail(ctx, &domain.CollectionError{Source: collectorSource, Reason: domain.ReasonInvalid, Err: err})
	}

	o.transition(ctx, StateEvaluating, StateDone)
	logger.Info().
		Int("identities", report.Summary.TotalAccounts).
		Int("findings", report.Summary.TotalFindings()).
		Dur("elapsed", o.now().Sub(startedAt)).
		Msg("audit run completed")
	return report, nil
}

func (o *Orchestrator) collect(ctx context.Context) ([]domain.Identity, error) {
	cctx, cancel := context.WithTimeout(ctx, o.settings.CollectTimeout)
	defer cancel()

	identities, err := o.collector.Collect(cctx)
	if err != nil {
		return nil, classifyCollectError(cctx, err)
	}

	seen := make(map[string]struct{}, len(identities))
	owned := make([]domain.Identity, 0, len(identities))
	for _, identity := range identities {
		if err := identity.Validate(); err != nil {
			return nil, &domain.CollectionError{Source: collectorSource, Reason: domain.ReasonInvalid, Err: err}
		}
		if _, dup := seen[identity.ID]; dup {
			return nil, &domain.CollectionError{
				Source: collectorSource,
				Reason: domain.ReasonInvalid,
				Err:    fmt.Errorf("duplicate identity id %q", identity.ID),
			}
		}
		seen[identity.ID] = struct{}{}
		owned = append(owned, identity.Clone())
	}
	return owned, nil
}

func classifyCollectError(ctx context.Context, err error) error {
	var collErr *domain.CollectionError
	if errors.As(err, &collErr) || domain.IsConfiguration(err) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewCancelledError(collectorSource, err)
	}
	return domain.NewCollectionError(collectorSource, err)
}

// evaluate fans identities out to at most Workers goroutines. Each result
// lands in the slot of its input index; the report sorts by id afterwards.
func (o *Orchestrator) evaluate(ctx context.Context, env rules.Env, identities []domain.Identity) []domain.AuditItem {
	items := make([]domain.AuditItem, len(identities))

	var g errgroup.Group
	g.SetLimit(o.settings.Workers)
	for i, identity := range identities {
		g.Go(func() error {
			items[i] = domain.AuditItem{
				Identity: identity,
				Findings: o.engine.Evaluate(ctx, env, identity),
			}
			return nil
		})
	}
	_ = g.Wait()

	return items
}
