package collector

import (
	"context"

	"github.com/de-tools/identity-atlas/pkg/models/domain"
)

// Collector fetches the identities to audit from a data source.
//
// Implementations return a CollectionError for failures worth retrying and a
// ConfigurationError for failures an operator has to fix. The returned slice
// and everything it references belong to the caller.
type Collector interface {
	Collect(ctx context.Context) ([]domain.Identity, error)
}

// Func adapts a plain function to the Collector interface.
type Func func(ctx context.Context) ([]domain.Identity, error)

func (f Func) Collect(ctx context.Context) ([]domain.Identity, error) {
	return f(ctx)
}

func CloneAll(identities []domain.Identity) []domain.Identity {
	out := make([]domain.Identity, len(identities))
	for i, identity := range identities {
		out[i] = identity.Clone()
	}
	return out
}
