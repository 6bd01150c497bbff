package registry

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/de-tools/identity-atlas/pkg/services/collector"
	"github.com/de-tools/identity-atlas/pkg/services/collector/aws"
	"github.com/de-tools/identity-atlas/pkg/services/collector/azure"
	"github.com/de-tools/identity-atlas/pkg/services/collector/databricks"
	"github.com/de-tools/identity-atlas/pkg/services/collector/gcp"
	"github.com/de-tools/identity-atlas/pkg/services/collector/kubernetes"
	"github.com/de-tools/identity-atlas/pkg/services/collector/snapshot"
	"github.com/de-tools/identity-atlas/pkg/services/collector/snowflake"
	"github.com/de-tools/identity-atlas/pkg/services/config"
)

const (
	PlatformFixture    = "fixture"
	PlatformSnapshot   = "snapshot"
	PlatformGCP        = "gcp"
	PlatformAWS        = "aws"
	PlatformAzure      = "azure"
	PlatformDatabricks = "databricks"
	PlatformSnowflake  = "snowflake"
	PlatformKubernetes = "kubernetes"
)

// Default returns a registry with every supported platform.
func Default() Registry {
	r, err := NewRegistry(map[string]Factory{
		PlatformFixture:    FixtureFactory,
		PlatformSnapshot:   SnapshotFactory,
		PlatformGCP:        GCPFactory,
		PlatformAWS:        AWSFactory,
		PlatformAzure:      AzureFactory,
		PlatformDatabricks: DatabricksFactory,
		PlatformSnowflake:  SnowflakeFactory,
		PlatformKubernetes: KubernetesFactory,
	})
	if err != nil {
		panic(err)
	}
	return r
}

func FixtureFactory(_ context.Context, _ config.Profile) (collector.Collector, error) {
	return collector.NewFixture(collector.SampleIdentities()...), nil
}

func SnapshotFactory(_ context.Context, profile config.Profile) (collector.Collector, error) {
	path, err := profile.Require("fixture")
	if err != nil {
		return nil, err
	}
	return snapshot.NewCollector(path)
}

func GCPFactory(ctx context.Context, profile config.Profile) (collector.Collector, error) {
	project, err := profile.Require("project")
	if err != nil {
		return nil, err
	}
	return gcp.NewCollector(ctx, gcp.Config{
		ProjectID:       project,
		CredentialsFile: profile.Get("credentials_file"),
		SkipActivity:    isTrue(profile.Get("skip_activity")),
	})
}

func AWSFactory(ctx context.Context, profile config.Profile) (collector.Collector, error) {
	cfg, err := aws.LoadConfig(ctx, profile.Get("aws_profile"), profile.Get("region"))
	if err != nil {
		return nil, err
	}
	c := aws.NewFromConfig(*cfg)
	c.PathPrefix = profile.Get("path_prefix")
	return c, nil
}

func AzureFactory(_ context.Context, profile config.Profile) (collector.Collector, error) {
	subscription, err := profile.Require("subscription")
	if err != nil {
		return nil, err
	}
	src, err := azure.NewCLISource(subscription, profile.Get("tenant"))
	if err != nil {
		return nil, err
	}
	c := azure.NewCollector(src)
	if types := profile.Get("principal_types"); types != "" {
		c.PrincipalTypes = splitList(types)
	}
	return c, nil
}

func DatabricksFactory(_ context.Context, profile config.Profile) (collector.Collector, error) {
	cfg := databricks.Config{
		Host:     profile.Get("host"),
		Token:    profile.Get("token"),
		HTTPPath: profile.Get("http_path"),
	}
	if days := profile.Get("activity_days"); days != "" {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return nil, domain.NewConfigurationError("databricks collector", fmt.Errorf("invalid activity_days %q", days))
		}
		cfg.ActivityLookback = time.Duration(n) * 24 * time.Hour
	}
	return databricks.NewFromConfig(cfg)
}

// SnowflakeFactory reads connection fields from the profile, or from a
// standalone file named by snowflake_config.
func SnowflakeFactory(_ context.Context, profile config.Profile) (collector.Collector, error) {
	cfg := snowflake.Config{
		Account:   profile.Get("account"),
		User:      profile.Get("user"),
		Password:  profile.Get("password"),
		Database:  profile.Get("database"),
		Warehouse: profile.Get("warehouse"),
		Role:      profile.Get("role"),
	}
	if path := profile.Get("snowflake_config"); path != "" {
		loaded, err := snowflake.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}
	db, err := snowflake.Open(cfg)
	if err != nil {
		return nil, err
	}
	return snowflake.NewCollector(db), nil
}

func KubernetesFactory(_ context.Context, profile config.Profile) (collector.Collector, error) {
	return kubernetes.NewFromKubeconfig(profile.Get("kubeconfig"), profile.Get("context"), profile.Get("namespace"))
}

func isTrue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
