package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/de-tools/identity-atlas/pkg/services/collector"
	"github.com/de-tools/identity-atlas/pkg/services/config"
)

// Factory builds a collector from the connection settings of a profile.
type Factory func(ctx context.Context, profile config.Profile) (collector.Collector, error)

// Registry manages platform collector factories
type Registry interface {
	// Register adds a new platform collector factory
	Register(platform string, factory Factory) error
	// Create instantiates a collector for the platform using the given profile
	Create(ctx context.Context, platform string, profile config.Profile) (collector.Collector, error)
	// ListPlatforms returns the registered platforms in name order
	ListPlatforms() []string
}

type registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry(factories map[string]Factory) (Registry, error) {
	r := &registry{factories: make(map[string]Factory)}
	for platform, factory := range factories {
		if err := r.Register(platform, factory); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *registry) Register(platform string, factory Factory) error {
	if platform == "" {
		return fmt.Errorf("platform name cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[platform]; exists {
		return fmt.Errorf("platform %q is already registered", platform)
	}

	r.factories[platform] = factory
	return nil
}

func (r *registry) Create(ctx context.Context, platform string, profile config.Profile) (collector.Collector, error) {
	r.mu.RLock()
	factory, exists := r.factories[platform]
	r.mu.RUnlock()

	if !exists {
		return nil, domain.NewConfigurationError("create collector", fmt.Errorf("platform %q is not registered", platform))
	}

	c, err := factory(ctx, profile)
	if err != nil {
		if domain.IsConfiguration(err) {
			return nil, err
		}
		return nil, domain.NewConfigurationError("create collector", fmt.Errorf("platform %s: %w", platform, err))
	}
	return c, nil
}

func (r *registry) ListPlatforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	platforms := make([]string, 0, len(r.factories))
	for platform := range r.factories {
		platforms = append(platforms, platform)
	}
	sort.Strings(platforms)
	return platforms
}
