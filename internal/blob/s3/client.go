// Package s3blob moves settled window reports to S3-compatible object
// storage (AWS S3, MinIO, R2). Archival is cold-path bookkeeping; nothing in
// the trading loop waits on it.
package s3blob

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config holds the object store connection parameters.
type Config struct {
	// Endpoint overrides the S3 endpoint for compatible providers. Empty
	// means standard AWS S3. A bare host gets a scheme from UseSSL.
	Endpoint string
	Region   string
	Bucket   string

	AccessKey string
	SecretKey string

	// UseSSL picks https for a scheme-less Endpoint.
	UseSSL bool
	// ForcePathStyle addresses the bucket in the path instead of the
	// subdomain. MinIO and most self-hosted stores need it.
	ForcePathStyle bool
}

// Client bundles the SDK client with the bucket every upload targets.
type Client struct {
	s3     *s3.Client
	bucket string
}

// New builds a Client for the configured store. Credentials are static; the
// bot never runs with instance-profile auth.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3blob: bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3blob: region is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(withScheme(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Client{s3: client, bucket: cfg.Bucket}, nil
}

// Close exists so the wiring can treat every backend uniformly; the SDK's
// HTTP client needs no teardown.
func (c *Client) Close() error { return nil }

// withScheme prepends http:// or https:// to a scheme-less endpoint.
func withScheme(endpoint string, useSSL bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
