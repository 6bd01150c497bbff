package databricks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/databricks/databricks-sdk-go"
	"github.com/databricks/databricks-sdk-go/apierr"
	"github.com/databricks/databricks-sdk-go/service/iam"
	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/rs/zerolog"
)

const (
	source     = "databricks"
	adminGroup = "admins"
)

type Config struct {
	Host  string `mapstructure:"host"`
	Token string `mapstructure:"token"`

	// HTTPPath of a SQL warehouse. When set, last-used times are read from
	// the workspace audit log.
	HTTPPath         string        `mapstructure:"http_path"`
	ActivityLookback time.Duration `mapstructure:"activity_lookback"`
}

// ServicePrincipalLister is satisfied by the workspace client's ServicePrincipals API.
type ServicePrincipalLister interface {
	ListAll(ctx context.Context, request iam.ListServicePrincipalsRequest) ([]iam.ServicePrincipal, error)
}

// Collector audits the service principals of a Databricks workspace. Workspace
// group membership and entitlements become roles. The SCIM API has no usage
// data, so last-used is only set when an Activity source is configured.
type Collector struct {
	principals ServicePrincipalLister
	now        func() time.Time

	// Activity supplies last-used times; nil leaves them unset.
	Activity ActivitySource
	// ActivityLookback bounds the activity scan (default 180 days).
	ActivityLookback time.Duration
}

func NewCollector(principals ServicePrincipalLister) *Collector {
	return &Collector{principals: principals, now: time.Now}
}

func NewFromConfig(cfg Config) (*Collector, error) {
	if cfg.Host == "" {
		return nil, domain.NewConfigurationError("databricks collector", fmt.Errorf("workspace host is required"))
	}
	client, err := databricks.NewWorkspaceClient(&databricks.Config{
		Host:  cfg.Host,
		Token: cfg.Token,
	})
	if err != nil {
		return nil, domain.NewConfigurationError("databricks collector", fmt.Errorf("failed to create workspace client: %w", err))
	}
	c := NewCollector(client.ServicePrincipals)

	if cfg.HTTPPath != "" {
		db, err := openWarehouse(cfg)
		if err != nil {
			return nil, err
		}
		c.Activity = NewAuditLogActivity(db)
		c.ActivityLookback = cfg.ActivityLookback
	}
	return c, nil
}

func (c *Collector) Collect(ctx context.Context) ([]domain.Identity, error) {
	principals, err := c.principals.ListAll(ctx, iam.ListServicePrincipalsRequest{})
	if err != nil {
		return nil, classify("list service principals", err)
	}

	lastUsed, err := c.lastActivity(ctx)
	if err != nil {
		return nil, classify("query principal activity", err)
	}

	identities := make([]domain.Identity, 0, len(principals))
	for _, sp := range principals {
		status := domain.StatusDisabled
		if sp.Active {
			status = domain.StatusActive
		}
		name := sp.DisplayName
		if name == "" {
			name = sp.ApplicationId
		}

		var used *time.Time
		if t, ok := lastUsed[sp.ApplicationId]; ok {
			used = &t
		}

		identity, err := domain.NewIdentity(sp.Id, name, sp.ApplicationId, status, Roles(sp), used)
		if err != nil {
			return nil, &domain.CollectionError{Source: source, Reason: domain.ReasonInvalid, Err: err}
		}
		identities = append(identities, identity)
	}

	zerolog.Ctx(ctx).Debug().Int("service_principals", len(identities)).Msg("collected service principals")
	return identities, nil
}

func (c *Collector) lastActivity(ctx context.Context) (map[string]time.Time, error) {
	if c.Activity == nil {
		return nil, nil
	}
	lookback := c.ActivityLookback
	if lookback <= 0 {
		lookback = defaultActivityLookback
	}
	return c.Activity.LastActivity(ctx, c.now().Add(-lookback))
}

// Roles derives role identifiers from a principal's groups, entitlements and
// account roles. Membership of the admins group is reported as
// roles/databricks.admin.
func Roles(sp iam.ServicePrincipal) []string {
	set := map[string]struct{}{}
	for _, g := range sp.Groups {
		if strings.EqualFold(g.Display, adminGroup) {
			set["roles/databricks.admin"] = struct{}{}
			continue
		}
		if g.Display != "" {
			set["roles/databricks.group."+g.Display] = struct{}{}
		}
	}
	for _, e := range sp.Entitlements {
		if e.Value != "" {
			set["roles/databricks."+e.Value] = struct{}{}
		}
	}
	for _, r := range sp.Roles {
		if r.Value != "" {
			set["roles/databricks.role."+r.Value] = struct{}{}
		}
	}

	roles := make([]string, 0, len(set))
	for r := range set {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}

func classify(op string, err error) error {
	wrapped := fmt.Errorf("failed to %s: %w", op, err)

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewCancelledError(source, wrapped)
	}

	var apiErr *apierr.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusBadRequest:
			return domain.NewConfigurationError("databricks collector", wrapped)
		}
	}
	return domain.NewCollectionError(source, wrapped)
}
