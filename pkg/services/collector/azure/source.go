package azure

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v2"
)

// Assignment is one role assignment of a principal within the subscription.
type Assignment struct {
	PrincipalID      string
	PrincipalType    string
	RoleDefinitionID string
}

// Source lists the raw authorization data of a subscription.
type Source interface {
	ListAssignments(ctx context.Context) ([]Assignment, error)
	// ListRoleNames maps role definition ids to their display names.
	ListRoleNames(ctx context.Context) (map[string]string, error)
}

type armSource struct {
	subscriptionID string
	assignments    *armauthorization.RoleAssignmentsClient
	definitions    *armauthorization.RoleDefinitionsClient
}

func NewARMSource(subscriptionID string, cred azcore.TokenCredential) (Source, error) {
	assignments, err := armauthorization.NewRoleAssignmentsClient(subscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create role assignments client: %w", err)
	}
	definitions, err := armauthorization.NewRoleDefinitionsClient(cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create role definitions client: %w", err)
	}
	return &armSource{subscriptionID: subscriptionID, assignments: assignments, definitions: definitions}, nil
}

// NewCLISource authenticates with the Azure CLI login of the current user.
func NewCLISource(subscriptionID, tenantID string) (Source, error) {
	cred, err := azidentity.NewAzureCLICredential(&azidentity.AzureCLICredentialOptions{TenantID: tenantID})
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure CLI credential: %w", err)
	}
	return NewARMSource(subscriptionID, cred)
}

func (s *armSource) ListAssignments(ctx context.Context) ([]Assignment, error) {
	var out []Assignment
	pager := s.assignments.NewListForSubscriptionPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, ra := range page.Value {
			if ra == nil || ra.Properties == nil {
				continue
			}
			a := Assignment{
				PrincipalID:      deref(ra.Properties.PrincipalID),
				RoleDefinitionID: deref(ra.Properties.RoleDefinitionID),
			}
			if ra.Properties.PrincipalType != nil {
				a.PrincipalType = string(*ra.Properties.PrincipalType)
			}
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *armSource) ListRoleNames(ctx context.Context) (map[string]string, error) {
	names := map[string]string{}
	pager := s.definitions.NewListPager("/subscriptions/"+s.subscriptionID, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, def := range page.Value {
			if def == nil || def.ID == nil || def.Properties == nil {
				continue
			}
			names[*def.ID] = deref(def.Properties.RoleName)
		}
	}
	return names, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
