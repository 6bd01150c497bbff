package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/de-tools/identity-atlas/pkg/models/domain"
)

const (
	DefaultRegion = "us-east-1" // IAM is global; the region only selects the STS endpoint
)

func LoadConfig(ctx context.Context, profile, region string) (*awssdk.Config, error) {
	if region == "" {
		region = DefaultRegion
	}

	opts := []func(*config.LoadOptions) error{config.WithDefaultRegion(region)}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, domain.NewConfigurationError("aws collector", fmt.Errorf("unable to load AWS SDK config: %w", err))
	}

	// Test the credentials
	_, err = awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		return nil, domain.NewConfigurationError("aws collector", fmt.Errorf("invalid AWS credentials for profile %s: %w", profile, err))
	}

	return &awsCfg, nil
}
