package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type fakeGoogle struct {
	accounts   any
	policy     any
	activities any
	keys       map[string]any // key list responses by service account email
	failWith   int
}

func (f *fakeGoogle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if f.failWith != 0 {
		w.WriteHeader(f.failWith)
		_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":"failure"}}`, f.failWith)
		return
	}

	var body any
	switch {
	case strings.HasSuffix(r.URL.Path, "/serviceAccounts"):
		body = f.accounts
	case strings.HasSuffix(r.URL.Path, ":getIamPolicy"):
		body = f.policy
	case strings.HasSuffix(r.URL.Path, "/activities:query"):
		body = f.activities
	case strings.HasSuffix(r.URL.Path, "/keys"):
		account := strings.TrimSuffix(r.URL.Path, "/keys")
		body = f.keys[account[strings.LastIndex(account, "/")+1:]]
		if body == nil {
			body = map[string]any{}
		}
	default:
		http.NotFound(w, r)
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

func newTestCollector(t *testing.T, fake *fakeGoogle, cfg Config) *Collector {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := NewCollector(context.Background(), cfg,
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return c
}

func TestCollector_Collect(t *testing.T) {
	fake := &fakeGoogle{
		accounts: map[string]any{
			"accounts": []map[string]any{
				{
					"name":        "projects/demo/serviceAccounts/default@demo.iam.gserviceaccount.com",
					"email":       "default@demo.iam.gserviceaccount.com",
					"uniqueId":    "1001",
					"displayName": "default-service-account",
				},
				{
					"name":     "projects/demo/serviceAccounts/compute@demo.iam.gserviceaccount.com",
					"email":    "compute@demo.iam.gserviceaccount.com",
					"uniqueId": "1002",
					"disabled": true,
				},
			},
		},
		policy: map[string]any{
			"bindings": []map[string]any{
				{"role": "roles/viewer", "members": []string{"serviceAccount:default@demo.iam.gserviceaccount.com", "user:dev@example.com"}},
				{"role": "roles/storage.objectViewer", "members": []string{"serviceAccount:default@demo.iam.gserviceaccount.com"}},
				{"role": "roles/compute.admin", "members": []string{"serviceAccount:compute@demo.iam.gserviceaccount.com"}},
			},
		},
		activities: map[string]any{
			"activities": []map[string]any{
				{
					"fullResourceName": "//iam.googleapis.com/projects/demo/serviceAccounts/default@demo.iam.gserviceaccount.com",
					"activityType":     "serviceAccountLastAuthentication",
					"activity": map[string]any{
						"lastAuthenticatedTime": "2024-03-15T10:30:00Z",
						"serviceAccount": map[string]any{
							"fullResourceName": "//iam.googleapis.com/projects/demo/serviceAccounts/default@demo.iam.gserviceaccount.com",
						},
					},
				},
			},
		},
		keys: map[string]any{
			"default@demo.iam.gserviceaccount.com": map[string]any{
				"keys": []map[string]any{
					{"name": "projects/demo/serviceAccounts/default@demo.iam.gserviceaccount.com/keys/k1", "keyType": "USER_MANAGED"},
					{"name": "projects/demo/serviceAccounts/default@demo.iam.gserviceaccount.com/keys/k2", "keyType": "USER_MANAGED"},
				},
			},
		},
	}

	c := newTestCollector(t, fake, Config{ProjectID: "demo"})
	identities, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, identities, 2)

	def := identities[0]
	assert.Equal(t, "1001", def.ID)
	assert.Equal(t, "default-service-account", def.Name)
	assert.Equal(t, domain.StatusActive, def.Status)
	assert.Equal(t, []string{"roles/storage.objectViewer", "roles/viewer"}, def.Roles)
	require.NotNil(t, def.LastUsed)
	assert.True(t, time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC).Equal(*def.LastUsed))
	assert.Equal(t, 2, def.UserManagedKeys)

	compute := identities[1]
	assert.Equal(t, "compute", compute.Name)
	assert.Equal(t, domain.StatusDisabled, compute.Status)
	assert.Equal(t, []string{"roles/compute.admin"}, compute.Roles)
	assert.Nil(t, compute.LastUsed)
	assert.Zero(t, compute.UserManagedKeys)
}

func TestCollector_SkipActivity(t *testing.T) {
	fake := &fakeGoogle{
		accounts: map[string]any{"accounts": []map[string]any{{"email": "a@demo.iam.gserviceaccount.com", "uniqueId": "1"}}},
		policy:   map[string]any{},
	}

	c := newTestCollector(t, fake, Config{ProjectID: "demo", SkipActivity: true})
	identities, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, identities, 1)
	assert.Empty(t, identities[0].Roles)
	assert.Nil(t, identities[0].LastUsed)
}

func TestCollector_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		configErr bool
		retryable bool
	}{
		{name: "permission denied", status: http.StatusForbidden, configErr: true},
		{name: "unauthenticated", status: http.StatusUnauthorized, configErr: true},
		{name: "server error", status: http.StatusInternalServerError, retryable: true},
		{name: "rate limited", status: http.StatusTooManyRequests, retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCollector(t, &fakeGoogle{failWith: tt.status}, Config{ProjectID: "demo", SkipActivity: true})

			_, err := c.Collect(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.configErr, domain.IsConfiguration(err))
			assert.Equal(t, tt.retryable, domain.IsRetryable(err))
		})
	}
}

func TestNewCollector_RequiresProject(t *testing.T) {
	_, err := NewCollector(context.Background(), Config{}, option.WithoutAuthentication())
	assert.True(t, domain.IsConfiguration(err))
}
