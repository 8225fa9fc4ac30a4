// Package storage stages oversized report artifacts in S3 so
// notifications can link to them instead of attaching them.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// objectAPI is the slice of the S3 client the uploader needs.
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// presignAPI issues time-limited GET URLs for uploaded objects.
type presignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Config holds the credentials and destination for report staging.
type Config struct {
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// LinkTTL bounds how long a staged report stays reachable.
	LinkTTL time.Duration
}

// Uploader puts report artifacts into a bucket and hands back a
// presigned link.
type Uploader struct {
	client  objectAPI
	presign presignAPI
	bucket  string
	linkTTL time.Duration
	logger  *slog.Logger
}

// New builds an Uploader from static credentials.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage: bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	ttl := cfg.LinkTTL
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &Uploader{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		linkTTL: ttl,
		logger:  logger.With(slog.String("component", "storage")),
	}, nil
}

// Stage uploads the file at artifactPath under reports/<task>/<base>
// and returns a presigned URL for it.
func (u *Uploader) Stage(ctx context.Context, taskName, artifactPath string) (string, error) {
	data, err := os.ReadFile(artifactPath)
	if err != nil {
		return "", fmt.Errorf("reading artifact for upload: %w", err)
	}

	key := path.Join("reports", taskName, path.Base(artifactPath))
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return "", fmt.Errorf("uploading report to s3: %w", err)
	}

	req, err := u.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	}, func(o *s3.PresignOptions) {
		o.Expires = u.linkTTL
	})
	if err != nil {
		return "", fmt.Errorf("presigning report url: %w", err)
	}

	u.logger.Info("report staged",
		slog.String("task", taskName),
		slog.String("key", key),
		slog.Int("bytes", len(data)),
	)
	return req.URL, nil
}
