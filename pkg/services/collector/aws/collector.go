package aws

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/smithy-go"
	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/rs/zerolog"
)

const source = "aws"

// API is the subset of the IAM client the collector uses.
type API interface {
	iam.ListRolesAPIClient
	iam.ListAttachedRolePoliciesAPIClient
	GetRole(ctx context.Context, params *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error)
}

// managedPolicies folds the AWS job-function policies onto the role vocabulary
// the rule set understands.
var managedPolicies = map[string]string{
	"AdministratorAccess": "roles/aws.admin",
	"IAMFullAccess":       "roles/aws.iam.admin",
	"PowerUserAccess":     "roles/editor",
	"ReadOnlyAccess":      "roles/viewer",
	"ViewOnlyAccess":      "roles/aws.viewer",
}

// Collector audits IAM roles: each role becomes an identity whose grants are
// its attached managed policies, mapped by RoleName.
type Collector struct {
	client API
	// PathPrefix limits collection to roles under an IAM path, e.g. "/service-role/".
	PathPrefix string
}

func NewCollector(client API) *Collector {
	return &Collector{client: client}
}

func NewFromConfig(cfg awssdk.Config) *Collector {
	return NewCollector(iam.NewFromConfig(cfg))
}

func (c *Collector) Collect(ctx context.Context) ([]domain.Identity, error) {
	logger := zerolog.Ctx(ctx)

	input := &iam.ListRolesInput{}
	if c.PathPrefix != "" {
		input.PathPrefix = awssdk.String(c.PathPrefix)
	}

	var identities []domain.Identity
	roles := iam.NewListRolesPaginator(c.client, input)
	for roles.HasMorePages() {
		page, err := roles.NextPage(ctx)
		if err != nil {
			return nil, classify("list roles", err)
		}

		for _, role := range page.Roles {
			name := awssdk.ToString(role.RoleName)

			policies, err := c.attachedPolicies(ctx, name)
			if err != nil {
				return nil, err
			}
			lastUsed, err := c.lastUsed(ctx, name)
			if err != nil {
				return nil, err
			}

			identity, err := domain.NewIdentity(
				awssdk.ToString(role.RoleId),
				name,
				awssdk.ToString(role.Arn),
				domain.StatusActive,
				policies,
				lastUsed,
			)
			if err != nil {
				return nil, &domain.CollectionError{Source: source, Reason: domain.ReasonInvalid, Err: err}
			}
			identities = append(identities, identity)
		}
	}

	logger.Debug().Int("roles", len(identities)).Msg("collected iam roles")
	return identities, nil
}

func (c *Collector) attachedPolicies(ctx context.Context, roleName string) ([]string, error) {
	var roles []string
	pages := iam.NewListAttachedRolePoliciesPaginator(c.client, &iam.ListAttachedRolePoliciesInput{
		RoleName: awssdk.String(roleName),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, classify(fmt.Sprintf("list policies of role %s", roleName), err)
		}
		for _, p := range page.AttachedPolicies {
			roles = append(roles, RoleName(awssdk.ToString(p.PolicyArn)))
		}
	}
	sort.Strings(roles)
	return roles, nil
}

// RoleName maps a managed policy ARN to a role. Service-wide FullAccess and
// ReadOnlyAccess policies become that service's admin and viewer roles; any
// other policy maps to roles/aws.policy.<name>.
func RoleName(policyArn string) string {
	name := policyArn
	if i := strings.LastIndex(policyArn, "/"); i >= 0 {
		name = policyArn[i+1:]
	}
	if name == "" {
		return "roles/aws.policy"
	}
	awsManaged := strings.HasPrefix(policyArn, "arn:aws:iam::aws:policy/")
	if awsManaged {
		if r, ok := managedPolicies[name]; ok {
			return r
		}
		if svc, ok := strings.CutSuffix(name, "FullAccess"); ok && svc != "" {
			return "roles/aws." + lowerFirst(svc) + ".admin"
		}
		if svc, ok := strings.CutSuffix(name, "ReadOnlyAccess"); ok && svc != "" {
			return "roles/aws." + lowerFirst(svc) + ".viewer"
		}
	}
	return "roles/aws.policy." + name
}

func lowerFirst(s string) string {
	return strings.ToLower(s[:1]) + s[1:]
}

// lastUsed is only reported by GetRole; ListRoles leaves RoleLastUsed empty.
func (c *Collector) lastUsed(ctx context.Context, roleName string) (*time.Time, error) {
	out, err := c.client.GetRole(ctx, &iam.GetRoleInput{RoleName: awssdk.String(roleName)})
	if err != nil {
		return nil, classify(fmt.Sprintf("get role %s", roleName), err)
	}
	if out.Role == nil || out.Role.RoleLastUsed == nil || out.Role.RoleLastUsed.LastUsedDate == nil {
		return nil, nil
	}
	t := out.Role.RoleLastUsed.LastUsedDate.UTC()
	return &t, nil
}

func classify(op string, err error) error {
	wrapped := fmt.Errorf("failed to %s: %w", op, err)

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewCancelledError(source, wrapped)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "AccessDeniedException", "InvalidClientTokenId", "ExpiredToken", "NoSuchEntity":
			return domain.NewConfigurationError("aws collector", wrapped)
		}
	}
	return domain.NewCollectionError(source, wrapped)
}
