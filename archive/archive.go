// Package archive uploads run artifacts to S3-compatible object storage.
// Uploads happen after merge; a failed upload never invalidates the
// local artifacts.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config holds object storage settings for archival.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string
	// Prefix is the key prefix within the bucket (optional).
	Prefix string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. Cloudflare R2, MinIO). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing (bucket in path, not
	// subdomain). Required by most S3-compatible providers.
	UsePathStyle bool
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("archive bucket is required")
	}
	return nil
}

// putObjectAPI is the slice of the S3 client the uploader needs.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader copies run artifacts into a bucket under per-run keys.
type Uploader struct {
	client putObjectAPI
	config Config
}

// New creates an uploader against the configured bucket.
// Uses the AWS SDK default credential chain (env vars, shared config,
// IAM role).
func New(ctx context.Context, cfg Config) (*Uploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Uploader{client: s3.NewFromConfig(awsConfig, s3Opts...), config: cfg}, nil
}

// NewWithClient creates an uploader over an existing S3 client.
func NewWithClient(client putObjectAPI, cfg Config) (*Uploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Uploader{client: client, config: cfg}, nil
}

// Key returns the object key for a run artifact.
func (u *Uploader) Key(runID, filename string) string {
	if u.config.Prefix == "" {
		return path.Join(runID, filename)
	}
	return path.Join(u.config.Prefix, runID, filename)
}

// UploadFile uploads one local file under the run's key prefix.
func (u *Uploader) UploadFile(ctx context.Context, runID, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("archive: open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	key := u.Key(runID, filepath.Base(localPath))
	contentType := contentTypeFor(localPath)

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &u.config.Bucket,
		Key:         &key,
		Body:        f,
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	return nil
}

// UploadAll uploads every path under the run's key prefix, stopping at
// the first failure.
func (u *Uploader) UploadAll(ctx context.Context, runID string, paths []string) error {
	for _, p := range paths {
		if err := u.UploadFile(ctx, runID, p); err != nil {
			return err
		}
	}
	return nil
}

func contentTypeFor(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
