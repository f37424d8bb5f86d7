package archive

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/config"
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/store"
)

// s3Archiver implements Archiver for S3-compatible storage.
type s3Archiver struct {
	log    logrus.FieldLogger
	cfg    *config.S3ArchiveConfig
	client *s3.Client
}

// Ensure interface compliance.
var _ Archiver = (*s3Archiver)(nil)

// NewS3Archiver creates a new S3 archiver from the given configuration.
func NewS3Archiver(
	log logrus.FieldLogger,
	cfg *config.S3ArchiveConfig,
) (Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	return &s3Archiver{
		log:    log.WithField("component", "s3-archiver"),
		cfg:    cfg,
		client: newS3Client(cfg),
	}, nil
}

func newS3Client(cfg *config.S3ArchiveConfig) *s3.Client {
	return s3.New(s3.Options{}, func(o *s3.Options) {
		if cfg.Region != "" {
			o.Region = cfg.Region
		} else {
			o.Region = "us-east-1"
		}

		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}

		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}

		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)
		}
	})
}

// Preflight verifies S3 connectivity by writing a small test object.
func (a *s3Archiver) Preflight(ctx context.Context) error {
	content := fmt.Sprintf("itproduct-scraper write test: %s", time.Now().UTC().Format(time.RFC3339))

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(strings.TrimRight(a.prefix(), "/") + "/.write-test"),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("writing test object to s3://%s: %w", a.cfg.Bucket, err)
	}

	return nil
}

// Archive uploads the run report as a single JSON object.
func (a *s3Archiver) Archive(ctx context.Context, run *store.RunRecord) error {
	data, err := NewReport(run, time.Now()).marshal()
	if err != nil {
		return err
	}

	key := reportKey(a.prefix(), run)

	if _, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return fmt.Errorf("uploading report to s3://%s/%s: %w", a.cfg.Bucket, key, err)
	}

	a.log.WithFields(logrus.Fields{
		"run_id": run.ID,
		"bucket": a.cfg.Bucket,
		"key":    key,
		"size":   units.HumanSize(float64(len(data))),
	}).Info("Run report archived")

	return nil
}

func (a *s3Archiver) prefix() string {
	if a.cfg.Prefix == "" {
		return defaultPrefix
	}

	return a.cfg.Prefix
}
