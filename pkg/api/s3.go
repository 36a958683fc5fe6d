package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/driftwatch/driftwatch/pkg/config"
)

// s3Presigner generates presigned PUT URLs for artifact uploads.
type s3Presigner struct {
	log           logrus.FieldLogger
	cfg           *config.S3Config
	presignClient *s3.PresignClient
	expiry        time.Duration
}

// newS3Presigner creates an S3 presigner from the given configuration.
func newS3Presigner(
	log logrus.FieldLogger,
	cfg *config.S3Config,
	expiry time.Duration,
) (*s3Presigner, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	client := newS3Client(cfg)

	return &s3Presigner{
		log:           log.WithField("component", "s3-presigner"),
		cfg:           cfg,
		presignClient: s3.NewPresignClient(client),
		expiry:        expiry,
	}, nil
}

// PresignUpload returns a presigned PUT URL for the given object key.
func (p *s3Presigner) PresignUpload(
	ctx context.Context,
	key string,
	size int64,
) (string, error) {
	result, err := p.presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.cfg.Bucket),
		Key:           aws.String(key),
		ContentLength: aws.Int64(size),
	}, s3.WithPresignExpires(p.expiry))
	if err != nil {
		return "", fmt.Errorf("presigning upload for %q: %w", key, err)
	}

	return result.URL, nil
}

// artifactKey builds the object key for one uploaded artifact. The file
// name is sanitized to a single path element.
func artifactKey(projectSlug, runID, fileName string) string {
	base := fileName
	if idx := strings.LastIndexAny(base, "/\\"); idx >= 0 {
		base = base[idx+1:]
	}

	return fmt.Sprintf("artifacts/%s/%s/%s", projectSlug, runID, base)
}

// newS3Client constructs an S3 client from the artifacts storage config.
func newS3Client(cfg *config.S3Config) *s3.Client {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = "us-east-1"
			}

			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			if cfg.AccessKey != "" && cfg.SecretKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKey, cfg.SecretKey, "",
				)
			}
		},
	}

	return s3.New(s3.Options{}, opts...)
}
