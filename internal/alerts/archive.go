package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"lattice-siem/internal/engine"
)

// ArchiveConfig holds the S3 archival configuration.
type ArchiveConfig struct {
	// Enabled toggles alert archival.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Region is the AWS region.
	Region string `json:"region" yaml:"region"`

	// Bucket is the S3 bucket name.
	Bucket string `json:"bucket" yaml:"bucket"`

	// Prefix is the key prefix for all archived alerts.
	Prefix string `json:"prefix" yaml:"prefix"`

	// Endpoint is an optional custom endpoint (for S3-compatible storage).
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// AccessKeyID for static credentials (optional, uses IAM if not set).
	AccessKeyID string `json:"access_key_id,omitempty" yaml:"access_key_id,omitempty"`

	// SecretAccessKey for static credentials.
	SecretAccessKey string `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty"`

	// StorageClass for archived objects.
	StorageClass string `json:"storage_class" yaml:"storage_class"`

	// UsePathStyle forces path-style addressing (for MinIO, etc.).
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`

	// RetryMaxAttempts for failed uploads.
	RetryMaxAttempts int `json:"retry_max_attempts" yaml:"retry_max_attempts"`
}

// DefaultArchiveConfig returns an ArchiveConfig with sensible defaults.
func DefaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		Enabled:          false,
		Region:           "us-east-1",
		Bucket:           "lattice-siem-archive",
		Prefix:           "alerts/",
		StorageClass:     "INTELLIGENT_TIERING",
		RetryMaxAttempts: 3,
	}
}

// Validate checks if the configuration is valid.
func (c *ArchiveConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Region == "" {
		return errors.New("archive: region is required")
	}
	if c.Bucket == "" {
		return errors.New("archive: bucket is required")
	}
	return nil
}

func (c *ArchiveConfig) storageClass() types.StorageClass {
	switch strings.ToUpper(c.StorageClass) {
	case "STANDARD":
		return types.StorageClassStandard
	case "STANDARD_IA":
		return types.StorageClassStandardIa
	case "ONEZONE_IA":
		return types.StorageClassOnezoneIa
	case "INTELLIGENT_TIERING":
		return types.StorageClassIntelligentTiering
	case "GLACIER":
		return types.StorageClassGlacier
	case "DEEP_ARCHIVE":
		return types.StorageClassDeepArchive
	case "GLACIER_IR":
		return types.StorageClassGlacierIr
	default:
		return types.StorageClassStandard
	}
}

// S3Archiver writes each fired alert to S3 as a JSON object keyed by
// fire date: <prefix>YYYY/MM/DD/<alert-id>.json.
type S3Archiver struct {
	client *s3.Client
	config ArchiveConfig
}

// NewS3Archiver creates an archiver for cold alert retention.
func NewS3Archiver(ctx context.Context, cfg ArchiveConfig) (*S3Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}

	if cfg.RetryMaxAttempts > 0 {
		opts = append(opts, awsconfig.WithRetryMaxAttempts(cfg.RetryMaxAttempts))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	a := &S3Archiver{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		config: cfg,
	}

	slog.Info("s3 alert archiver initialized",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"storage_class", cfg.StorageClass,
	)

	return a, nil
}

// Archive uploads one alert as a JSON object.
func (a *S3Archiver) Archive(ctx context.Context, alert *engine.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("archive: failed to marshal alert: %w", err)
	}

	key := a.objectKey(alert)

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(a.config.Bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String("application/json"),
		StorageClass: a.config.storageClass(),
	})
	if err != nil {
		return fmt.Errorf("archive: failed to upload alert %s: %w", alert.ID, err)
	}

	slog.Debug("archived alert",
		"key", key,
		"size", len(data),
	)

	return nil
}

func (a *S3Archiver) objectKey(alert *engine.Alert) string {
	ts := alert.Timestamp.UTC()
	return fmt.Sprintf("%s%04d/%02d/%02d/%s.json",
		a.config.Prefix, ts.Year(), int(ts.Month()), ts.Day(), alert.ID)
}
