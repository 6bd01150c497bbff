package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/rs/zerolog"
	rbacv1 "k8s.io/api/rbac/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8s "k8s.io/client-go/kubernetes"
)

const source = "kubernetes"

var wellKnownRoles = map[string]string{
	"cluster-admin": "roles/kubernetes.cluster.admin",
	"admin":         "roles/kubernetes.admin",
	"edit":          "roles/kubernetes.editor",
	"view":          "roles/kubernetes.viewer",
}

// Collector audits ServiceAccounts and the roles bound to them through
// RoleBindings and ClusterRoleBindings. The API server keeps no record of
// token use, so last-used is never set.
type Collector struct {
	client k8s.Interface
	// Namespace limits collection to one namespace; empty means all.
	namespace string
}

func NewCollector(client k8s.Interface, namespace string) *Collector {
	return &Collector{client: client, namespace: namespace}
}

func (c *Collector) Collect(ctx context.Context) ([]domain.Identity, error) {
	logger := zerolog.Ctx(ctx)

	accounts, err := c.client.CoreV1().ServiceAccounts(c.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, classify("list service accounts", err)
	}

	roles := map[string]map[string]struct{}{}
	bind := func(subjects []rbacv1.Subject, bindingNamespace, role string) {
		for _, s := range subjects {
			if s.Kind != rbacv1.ServiceAccountKind {
				continue
			}
			ns := s.Namespace
			if ns == "" {
				ns = bindingNamespace
			}
			key := ns + "/" + s.Name
			if roles[key] == nil {
				roles[key] = map[string]struct{}{}
			}
			roles[key][role] = struct{}{}
		}
	}

	roleBindings, err := c.client.RbacV1().RoleBindings(c.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, classify("list role bindings", err)
	}
	for _, rb := range roleBindings.Items {
		bind(rb.Subjects, rb.Namespace, RoleName(rb.RoleRef))
	}

	clusterBindings, err := c.client.RbacV1().ClusterRoleBindings().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, classify("list cluster role bindings", err)
	}
	for _, crb := range clusterBindings.Items {
		bind(crb.Subjects, "", RoleName(crb.RoleRef))
	}

	identities := make([]domain.Identity, 0, len(accounts.Items))
	for _, sa := range accounts.Items {
		key := sa.Namespace + "/" + sa.Name

		granted := make([]string, 0, len(roles[key]))
		for r := range roles[key] {
			granted = append(granted, r)
		}
		sort.Strings(granted)

		email := fmt.Sprintf("system:serviceaccount:%s:%s", sa.Namespace, sa.Name)
		identity, err := domain.NewIdentity(key, sa.Name, email, domain.StatusActive, granted, nil)
		if err != nil {
			return nil, &domain.CollectionError{Source: source, Reason: domain.ReasonInvalid, Err: err}
		}
		identities = append(identities, identity)
	}

	logger.Debug().
		Int("service_accounts", len(identities)).
		Int("role_bindings", len(roleBindings.Items)).
		Int("cluster_role_bindings", len(clusterBindings.Items)).
		Msg("collected service accounts")
	return identities, nil
}

// RoleName maps a binding's role reference to a roles/kubernetes.* identifier.
func RoleName(ref rbacv1.RoleRef) string {
	if ref.Kind == "ClusterRole" {
		if r, ok := wellKnownRoles[ref.Name]; ok {
			return r
		}
		return "roles/kubernetes.clusterrole." + ref.Name
	}
	return "roles/kubernetes.role." + ref.Name
}

func classify(op string, err error) error {
	wrapped := fmt.Errorf("failed to %s: %w", op, err)

	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return domain.NewCancelledError(source, wrapped)
	case apierrors.IsForbidden(err), apierrors.IsUnauthorized(err), apierrors.IsNotFound(err):
		return domain.NewConfigurationError("kubernetes collector", wrapped)
	}
	return domain.NewCollectionError(source, wrapped)
}
