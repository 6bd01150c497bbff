package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/rs/zerolog"
	"google.golang.org/api/cloudresourcemanager/v1"
	iam "google.golang.org/api/iam/v1"
	"google.golang.org/api/option"
	"google.golang.org/api/policyanalyzer/v1"
)

const (
	source                 = "gcp"
	serviceAccountMember   = "serviceAccount:"
	lastAuthenticationType = "serviceAccountLastAuthentication"
	userManagedKeyType     = "USER_MANAGED"
)

type Config struct {
	ProjectID       string
	CredentialsFile string
	// SkipActivity disables the Policy Analyzer lookup for projects where the
	// API is not enabled; every identity then reports no last-used time.
	SkipActivity bool
}

// Collector lists the service accounts of a project together with the
// project-level roles bound to them.
type Collector struct {
	cfg      Config
	iam      *iam.Service
	crm      *cloudresourcemanager.Service
	activity *policyanalyzer.Service
}

func NewCollector(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Collector, error) {
	if cfg.ProjectID == "" {
		return nil, domain.NewConfigurationError("gcp collector", fmt.Errorf("project id is required"))
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	iamSvc, err := iam.NewService(ctx, opts...)
	if err != nil {
		return nil, domain.NewConfigurationError("gcp collector", fmt.Errorf("failed to create iam client: %w", err))
	}
	crmSvc, err := cloudresourcemanager.NewService(ctx, opts...)
	if err != nil {
		return nil, domain.NewConfigurationError("gcp collector", fmt.Errorf("failed to create resource manager client: %w", err))
	}
	activitySvc, err := policyanalyzer.NewService(ctx, opts...)
	if err != nil {
		return nil, domain.NewConfigurationError("gcp collector", fmt.Errorf("failed to create policy analyzer client: %w", err))
	}

	return &Collector{cfg: cfg, iam: iamSvc, crm: crmSvc, activity: activitySvc}, nil
}

func (c *Collector) Collect(ctx context.Context) ([]domain.Identity, error) {
	logger := zerolog.Ctx(ctx).With().Str("project", c.cfg.ProjectID).Logger()

	var accounts []*iam.ServiceAccount
	err := c.iam.Projects.ServiceAccounts.List("projects/"+c.cfg.ProjectID).
		Pages(ctx, func(resp *iam.ListServiceAccountsResponse) error {
			accounts = append(accounts, resp.Accounts...)
			return nil
		})
	if err != nil {
		return nil, classify("list service accounts", err)
	}
	logger.Debug().Int("service_accounts", len(accounts)).Msg("listed service accounts")

	policy, err := c.crm.Projects.GetIamPolicy(c.cfg.ProjectID, &cloudresourcemanager.GetIamPolicyRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify("get project iam policy", err)
	}
	roles := rolesByMember(policy)

	lastUsed := map[string]time.Time{}
	if !c.cfg.SkipActivity {
		lastUsed, err = c.lastAuthentication(ctx)
		if err != nil {
			return nil, classify("query service account activity", err)
		}
	}

	identities := make([]domain.Identity, 0, len(accounts))
	for _, sa := range accounts {
		status := domain.StatusActive
		if sa.Disabled {
			status = domain.StatusDisabled
		}

		var used *time.Time
		if t, ok := lastUsed[sa.Email]; ok {
			used = &t
		}

		id := sa.UniqueId
		if id == "" {
			id = sa.Email
		}
		name := sa.DisplayName
		if name == "" {
			name = strings.SplitN(sa.Email, "@", 2)[0]
		}

		identity, err := domain.NewIdentity(id, name, sa.Email, status, roles[serviceAccountMember+sa.Email], used)
		if err != nil {
			return nil, &domain.CollectionError{Source: source, Reason: domain.ReasonInvalid, Err: err}
		}
		identity.UserManagedKeys, err = c.userManagedKeys(ctx, sa)
		if err != nil {
			return nil, classify(fmt.Sprintf("list keys of %s", sa.Email), err)
		}
		identities = append(identities, identity)
	}

	return identities, nil
}

func (c *Collector) userManagedKeys(ctx context.Context, sa *iam.ServiceAccount) (int, error) {
	name := sa.Name
	if name == "" {
		name = fmt.Sprintf("projects/%s/serviceAccounts/%s", c.cfg.ProjectID, sa.Email)
	}
	resp, err := c.iam.Projects.ServiceAccounts.Keys.List(name).
		KeyTypes(userManagedKeyType).
		Context(ctx).
		Do()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, key := range resp.Keys {
		if key.KeyType == "" || key.KeyType == userManagedKeyType {
			count++
		}
	}
	return count, nil
}

// lastAuthentication maps service account emails to the last time they
// authenticated, as observed by Policy Analyzer.
func (c *Collector) lastAuthentication(ctx context.Context) (map[string]time.Time, error) {
	logger := zerolog.Ctx(ctx)
	parent := fmt.Sprintf("projects/%s/locations/global/activityTypes/%s", c.cfg.ProjectID, lastAuthenticationType)

	out := map[string]time.Time{}
	err := c.activity.Projects.Locations.ActivityTypes.Activities.Query(parent).
		Pages(ctx, func(resp *policyanalyzer.GoogleCloudPolicyanalyzerV1QueryActivityResponse) error {
			for _, a := range resp.Activities {
				email, at, ok := parseActivity(a)
				if !ok {
					logger.Warn().Str("resource", a.FullResourceName).Msg("skipping unreadable activity record")
					continue
				}
				if prev, seen := out[email]; !seen || at.After(prev) {
					out[email] = at
				}
			}
			return nil
		})
	return out, err
}

type activityPayload struct {
	LastAuthenticatedTime string `json:"lastAuthenticatedTime"`
	ServiceAccount        struct {
		FullResourceName string `json:"fullResourceName"`
	} `json:"serviceAccount"`
}

func parseActivity(a *policyanalyzer.GoogleCloudPolicyanalyzerV1Activity) (string, time.Time, bool) {
	var payload activityPayload
	if err := json.Unmarshal(a.Activity, &payload); err != nil {
		return "", time.Time{}, false
	}

	resource := payload.ServiceAccount.FullResourceName
	if resource == "" {
		resource = a.FullResourceName
	}
	email := resource[strings.LastIndex(resource, "/")+1:]

	at, err := domain.ParseTimestamp(payload.LastAuthenticatedTime)
	if err != nil || at == nil || email == "" {
		return "", time.Time{}, false
	}
	return email, *at, true
}

func rolesByMember(policy *cloudresourcemanager.Policy) map[string][]string {
	out := map[string][]string{}
	if policy == nil {
		return out
	}
	for _, binding := range policy.Bindings {
		for _, member := range binding.Members {
			out[member] = append(out[member], binding.Role)
		}
	}
	for member := range out {
		sort.Strings(out[member])
	}
	return out
}
