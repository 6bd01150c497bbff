package collector

import (
	"context"
	"time"

	"github.com/de-tools/identity-atlas/pkg/models/domain"
)

// Fixture serves a fixed list of identities. It backs tests and the
// "fixture" platform used for dry runs.
type Fixture struct {
	identities []domain.Identity
}

func NewFixture(identities ...domain.Identity) *Fixture {
	return &Fixture{identities: CloneAll(identities)}
}

func (f *Fixture) Collect(ctx context.Context) ([]domain.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewCancelledError("fixture", err)
	}
	return CloneAll(f.identities), nil
}

// SampleIdentities returns the two service accounts of the reference project.
func SampleIdentities() []domain.Identity {
	lastUsed := func(s string) *time.Time {
		t, _ := time.Parse(time.RFC3339, s)
		return &t
	}
	return []domain.Identity{
		{
			ID:       "service-account-1",
			Name:     "default-service-account",
			Email:    "default-service-account@project.iam.gserviceaccount.com",
			Status:   domain.StatusActive,
			Roles:    []string{"roles/viewer", "roles/storage.objectViewer"},
			LastUsed: lastUsed("2024-03-15T10:30:00Z"),
		},
		{
			ID:       "service-account-2",
			Name:     "compute-engine-service-account",
			Email:    "compute-engine@project.iam.gserviceaccount.com",
			Status:   domain.StatusActive,
			Roles:    []string{"roles/compute.admin"},
			LastUsed: lastUsed("2024-03-15T11:45:00Z"),
		},
	}
}
