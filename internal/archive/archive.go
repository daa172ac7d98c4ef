// Package archive uploads upgrade transcripts to S3-compatible object storage.
package archive

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
	"upgrader/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archiver stores transcripts and returns the object key.
type Archiver interface {
	Store(ctx context.Context, runID, transcript string) (string, error)
}

// Config for the object store. An empty Endpoint disables archiving.
type Config struct {
	Endpoint  string `validate:"required,hostname_port"`
	AccessKey string `validate:"required"`
	SecretKey string `validate:"required"`
	Bucket    string `validate:"required,min=3,max=63"`
	Region    string
	UseSSL    bool
	Prefix    string
}

// LoadConfigFromEnv loads archive configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		Endpoint:  config.GetEnv("ARCHIVE_ENDPOINT", ""),
		AccessKey: config.GetEnv("ARCHIVE_ACCESS_KEY", ""),
		SecretKey: config.GetSecretFile(config.GetEnv("ARCHIVE_SECRET_KEY_FILE", "")),
		Bucket:    config.GetEnv("ARCHIVE_BUCKET", "upgrader"),
		Region:    config.GetEnv("ARCHIVE_REGION", ""),
		UseSSL:    config.GetBoolEnv("ARCHIVE_USE_SSL", true),
		Prefix:    config.GetEnv("ARCHIVE_PREFIX", "upgrades/"),
	}
}

// Enabled reports whether an endpoint is configured.
func (c Config) Enabled() bool {
	return c.Endpoint != ""
}

// MinIO is an Archiver backed by minio-go.
type MinIO struct {
	client *minio.Client
	bucket string
	prefix string
}

// New connects to the object store and creates the bucket if it is missing.
func New(ctx context.Context, cfg Config) (*MinIO, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &MinIO{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Key returns the object key for a run's transcript.
func Key(prefix, runID string) string {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + runID + ".log"
}

func (m *MinIO) Store(ctx context.Context, runID, transcript string) (string, error) {
	key := Key(m.prefix, runID)
	_, err := m.client.PutObject(ctx, m.bucket, key, strings.NewReader(transcript), int64(len(transcript)),
		minio.PutObjectOptions{
			ContentType:  "text/plain; charset=utf-8",
			UserMetadata: map[string]string{"run-id": runID},
		})
	if err != nil {
		return "", fmt.Errorf("upload transcript %s: %w", key, err)
	}
	return key, nil
}

// Ready verifies the bucket is reachable.
func (m *MinIO) Ready(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("bucket %s missing", m.bucket)
	}
	return nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

var _ Archiver = (*MinIO)(nil)
