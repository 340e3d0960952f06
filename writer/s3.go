package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	appconfig "digitflow/config"
	"digitflow/logger"
	"digitflow/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// objectPutter is the subset of the S3 client the writers use.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client builds a client honouring static credentials, a custom endpoint
// and path-style addressing.
func NewS3Client(ctx context.Context, cfg appconfig.S3Config) (*s3.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

// S3Sink keeps one JSON object per symbol under the configured prefix.
type S3Sink struct {
	bucket  string
	prefix  string
	version string
	client  objectPutter
	log     *logger.Log
}

func NewS3Sink(cfg *appconfig.Config, client objectPutter) (*S3Sink, error) {
	if cfg.Storage.S3.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket not configured")
	}
	if client == nil {
		return nil, fmt.Errorf("nil s3 client")
	}
	s := &S3Sink{
		bucket:  cfg.Storage.S3.Bucket,
		prefix:  strings.Trim(cfg.Storage.S3.Prefix, "/"),
		version: cfg.App.Version,
		client:  client,
		log:     logger.GetLogger(),
	}
	s.log.WithComponent("s3_sink").WithFields(logger.Fields{
		"bucket": s.bucket,
		"prefix": s.prefix,
	}).Debug("s3 sink initialized")
	return s, nil
}

func (s *S3Sink) Name() string { return "s3" }

func (s *S3Sink) Key(symbol string) string {
	return path.Join(s.prefix, symbol+".json")
}

func (s *S3Sink) Write(ctx context.Context, rec models.MarketRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.Key(rec.Symbol)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"status":            string(rec.Status),
			"digitflow-version": s.version,
		},
	})
	if err != nil {
		return classifyS3Error(fmt.Errorf("put %s: %w", rec.Symbol, err))
	}
	return nil
}

func (s *S3Sink) Close() error { return nil }

func classifyS3Error(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "AllAccessDisabled", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
	}
	return err
}
