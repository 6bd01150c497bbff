package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/de-tools/identity-atlas/pkg/runtime/export"
	"github.com/de-tools/identity-atlas/pkg/services/collector"
	"github.com/de-tools/identity-atlas/pkg/services/collector/cache"
	"github.com/de-tools/identity-atlas/pkg/services/config"
	"github.com/de-tools/identity-atlas/pkg/services/registry"
	"github.com/de-tools/identity-atlas/pkg/services/rules"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrReportNotWritten marks a completed run whose report could not be
// persisted. Run returns the report alongside it.
var ErrReportNotWritten = errors.New("report not written")

// Request selects what to audit. Empty fields fall back to the settings.
type Request struct {
	Platform string
	Profile  string
	Retries  uint64
}

type Dependencies struct {
	Registry registry.Registry
	// Profiles is optional; without it every platform gets an empty profile.
	Profiles config.Registry
	// Cache is optional; when set collected identities are cached in Redis.
	Cache  redis.Cmdable
	Writer export.Writer
}

// Service runs complete audits: it resolves the collector for a platform
// profile, runs the orchestrator with retries and hands the report to the
// configured writers.
type Service struct {
	deps     Dependencies
	settings config.Settings
	rules    []rules.Rule
}

// NewService validates the rule selection up front so a bad configuration
// fails before any collection starts.
func NewService(deps Dependencies, settings config.Settings, extended bool) (*Service, error) {
	if deps.Registry == nil {
		return nil, domain.NewConfigurationError("build audit service", fmt.Errorf("collector registry is required"))
	}
	if err := settings.Validate(); err != nil {
		return nil, domain.NewConfigurationError("build audit service", err)
	}

	ruleSettings := rules.Settings{StalenessThreshold: settings.StalenessThreshold()}
	var selected []rules.Rule
	switch {
	case len(settings.Rules) > 0:
		var err error
		if selected, err = rules.Select(ruleSettings, settings.Rules); err != nil {
			return nil, err
		}
	case extended:
		selected = rules.Extended(ruleSettings)
	default:
		selected = rules.Builtin(ruleSettings)
	}
	if _, err := rules.NewEngine(selected...); err != nil {
		return nil, err
	}

	return &Service{deps: deps, settings: settings, rules: selected}, nil
}

func (s *Service) Rules() []rules.Rule {
	return append([]rules.Rule(nil), s.rules...)
}

func (s *Service) Platforms() []string {
	return s.deps.Registry.ListPlatforms()
}

func (s *Service) Run(ctx context.Context, req Request) (domain.AuditReport, error) {
	c, platform, err := s.collector(ctx, req)
	if err != nil {
		return domain.AuditReport{}, err
	}
	logger := zerolog.Ctx(ctx).With().Str("platform", platform).Str("profile", req.Profile).Logger()
	ctx = logger.WithContext(ctx)

	engine, err := rules.NewEngine(s.rules...)
	if err != nil {
		return domain.AuditReport{}, err
	}
	orchestratorSettings := Settings{Workers: s.settings.Workers, CollectTimeout: s.settings.CollectTimeout}

	policy := DefaultRetryPolicy()
	policy.MaxRetries = req.Retries

	report, err := RunWithRetry(ctx, func() (*Orchestrator, error) {
		return NewOrchestrator(c, engine, orchestratorSettings)
	}, policy)
	if err != nil {
		return domain.AuditReport{}, err
	}

	if s.deps.Writer != nil {
		if err := s.deps.Writer.Write(ctx, report); err != nil {
			return report, fmt.Errorf("%w: failed to write report %s: %w", ErrReportNotWritten, report.RunID, err)
		}
	}
	return report, nil
}

func (s *Service) collector(ctx context.Context, req Request) (collector.Collector, string, error) {
	profileName := req.Profile
	if profileName == "" {
		profileName = s.settings.Profile
	}

	profile := config.NewProfile(profileName, "", nil)
	if s.deps.Profiles != nil && profileName != "" {
		var err error
		if profile, err = s.deps.Profiles.GetProfile(ctx, profileName); err != nil {
			return nil, "", err
		}
	}

	platform := req.Platform
	if platform == "" {
		platform = profile.Platform
	}
	if platform == "" {
		platform = s.settings.Platform
	}

	c, err := s.deps.Registry.Create(ctx, platform, profile)
	if err != nil {
		return nil, platform, err
	}

	if s.deps.Cache != nil {
		c, err = cache.NewCollector(s.deps.Cache, c, cache.Settings{
			Key: platform + ":" + profileName,
			TTL: s.settings.Cache.TTL,
		})
		if err != nil {
			return nil, platform, err
		}
	}
	return c, platform, nil
}
