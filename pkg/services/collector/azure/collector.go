package azure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/rs/zerolog"
)

const source = "azure"

// builtinRoles folds the Azure built-in roles onto the role vocabulary the
// rule set understands.
var builtinRoles = map[string]string{
	"Owner":                     "roles/owner",
	"Contributor":               "roles/editor",
	"Reader":                    "roles/viewer",
	"User Access Administrator": "roles/azure.admin",
}

// Collector groups the role assignments of a subscription by principal.
// ARM exposes neither enablement nor sign-in activity, so every identity
// reports an unknown status and no last-used time.
type Collector struct {
	src Source
	// PrincipalTypes restricts the collected principals, e.g. "ServicePrincipal".
	// Empty means all principal types.
	PrincipalTypes []string
}

func NewCollector(src Source) *Collector {
	return &Collector{src: src}
}

func (c *Collector) Collect(ctx context.Context) ([]domain.Identity, error) {
	logger := zerolog.Ctx(ctx)

	names, err := c.src.ListRoleNames(ctx)
	if err != nil {
		return nil, classify("list role definitions", err)
	}
	assignments, err := c.src.ListAssignments(ctx)
	if err != nil {
		return nil, classify("list role assignments", err)
	}

	type principal struct {
		kind  string
		roles map[string]struct{}
	}
	principals := map[string]*principal{}
	for _, a := range assignments {
		if a.PrincipalID == "" || !c.wanted(a.PrincipalType) {
			continue
		}
		p, ok := principals[a.PrincipalID]
		if !ok {
			p = &principal{kind: a.PrincipalType, roles: map[string]struct{}{}}
			principals[a.PrincipalID] = p
		}
		role, known := names[a.RoleDefinitionID]
		if !known {
			logger.Warn().Str("role_definition", a.RoleDefinitionID).Msg("role definition not found, using its id")
			role = path.Base(a.RoleDefinitionID)
		}
		p.roles[RoleName(role)] = struct{}{}
	}

	ids := make([]string, 0, len(principals))
	for id := range principals {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	identities := make([]domain.Identity, 0, len(ids))
	for _, id := range ids {
		p := principals[id]
		roles := make([]string, 0, len(p.roles))
		for r := range p.roles {
			roles = append(roles, r)
		}
		sort.Strings(roles)

		name := id
		if p.kind != "" {
			name = p.kind + "/" + id
		}
		identity, err := domain.NewIdentity(id, name, "", domain.StatusUnknown, roles, nil)
		if err != nil {
			return nil, &domain.CollectionError{Source: source, Reason: domain.ReasonInvalid, Err: err}
		}
		identities = append(identities, identity)
	}

	logger.Debug().Int("assignments", len(assignments)).Int("principals", len(identities)).Msg("collected role assignments")
	return identities, nil
}

func (c *Collector) wanted(kind string) bool {
	if len(c.PrincipalTypes) == 0 {
		return true
	}
	for _, k := range c.PrincipalTypes {
		if strings.EqualFold(k, kind) {
			return true
		}
	}
	return false
}

// RoleName maps an Azure role display name to a "roles/..." identifier.
// Custom and service roles become roles/azure.<name>, with names like
// "Storage Account Contributor" turned into "storageAccountContributor".
func RoleName(display string) string {
	if r, ok := builtinRoles[display]; ok {
		return r
	}
	words := strings.Fields(display)
	var b strings.Builder
	for i, w := range words {
		if i == 0 {
			b.WriteString(strings.ToLower(w[:1]) + w[1:])
			continue
		}
		b.WriteString(strings.ToUpper(w[:1]) + w[1:])
	}
	if strings.HasSuffix(display, "Administrator") || strings.HasSuffix(display, "Admin") {
		return "roles/azure." + b.String() + ".admin"
	}
	return "roles/azure." + b.String()
}

func classify(op string, err error) error {
	wrapped := fmt.Errorf("failed to %s: %w", op, err)

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewCancelledError(source, wrapped)
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return domain.NewConfigurationError("azure collector", wrapped)
		}
	}
	return domain.NewCollectionError(source, wrapped)
}
