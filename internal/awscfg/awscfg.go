// Package awscfg loads the shared AWS SDK configuration used by the
// DynamoDB, SNS and Secrets Manager clients.
package awscfg

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// Config holds connection parameters common to every AWS service client.
type Config struct {
	Region string

	// Endpoint points at LocalStack during development. When set, static
	// test credentials are used.
	Endpoint string

	// Timeout is the HTTP client timeout. Zero keeps the SDK default.
	Timeout time.Duration
}

// Load resolves an aws.Config from cfg and the default provider chain.
func Load(ctx context.Context, cfg Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	if cfg.Endpoint != "" {
		opts = append(opts,
			awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider("test", "test", ""),
			),
		)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}

	if cfg.Timeout > 0 {
		awsCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return awsCfg, nil
}

// BaseEndpoint returns a pointer suitable for service Options.BaseEndpoint,
// or nil when no override is configured.
func BaseEndpoint(endpoint string) *string {
	if endpoint == "" {
		return nil
	}
	return aws.String(endpoint)
}
