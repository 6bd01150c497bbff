package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/de-tools/identity-atlas/pkg/adapters"
	"github.com/de-tools/identity-atlas/pkg/models/api"
	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/rs/zerolog"
)

// Collector replays the identities of a previously persisted report file, so
// a run can be re-evaluated with a different rule set without touching the
// provider again.
type Collector struct {
	path string
}

func NewCollector(path string) (*Collector, error) {
	if path == "" {
		return nil, domain.NewConfigurationError("snapshot collector", fmt.Errorf("snapshot path is required"))
	}
	return &Collector{path: path}, nil
}

func (c *Collector) Collect(ctx context.Context) ([]domain.Identity, error) {
	logger := zerolog.Ctx(ctx)

	if err := ctx.Err(); err != nil {
		return nil, domain.NewCancelledError("snapshot", err)
	}

	raw, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.NewConfigurationError("snapshot collector", fmt.Errorf("snapshot %s does not exist", c.path))
	}
	if err != nil {
		return nil, domain.NewCollectionError("snapshot", fmt.Errorf("failed to read %s: %w", c.path, err))
	}

	identities, err := Decode(raw)
	if err != nil {
		return nil, domain.NewConfigurationError("snapshot collector", fmt.Errorf("%s: %w", c.path, err))
	}

	logger.Debug().
		Str("path", c.path).
		Int("identities", len(identities)).
		Msg("loaded identities from snapshot")

	return identities, nil
}

// item is a report item plus the identity attributes the report document
// does not carry. Reports written by the exporters decode with those
// attributes left at zero.
type item struct {
	api.AuditItem
	UserManagedKeys int `json:"user_managed_keys,omitempty"`
}

type document struct {
	Items []item `json:"items"`
}

// Decode reads the identities out of a report document.
func Decode(raw []byte) ([]domain.Identity, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}

	identities := make([]domain.Identity, 0, len(doc.Items))
	for _, it := range doc.Items {
		identity, err := adapters.MapAuditItemApiToDomainIdentity(it.AuditItem)
		if err != nil {
			return nil, err
		}
		identity.UserManagedKeys = it.UserManagedKeys
		identities = append(identities, identity)
	}
	return identities, nil
}

// Encode writes identities in the report item shape without findings.
func Encode(identities []domain.Identity) ([]byte, error) {
	doc := document{Items: make([]item, 0, len(identities))}
	for _, identity := range identities {
		doc.Items = append(doc.Items, item{
			AuditItem:       adapters.MapAuditItemDomainToApi(domain.AuditItem{Identity: identity}),
			UserManagedKeys: identity.UserManagedKeys,
		})
	}
	return json.Marshal(doc)
}
