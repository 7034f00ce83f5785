package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/streamdl/internal/utils"
)

// S3Backend maps buckets to S3 buckets and piece ids to object keys.
type S3Backend struct {
	client     *s3.Client
	downloader *manager.Downloader
	uploader   *manager.Uploader
}

// NewS3Backend loads the shared AWS config for profile. A non-empty endpoint
// targets an S3-compatible service with path-style addressing.
func NewS3Backend(ctx context.Context, profile, endpoint string) (*S3Backend, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithSharedConfigProfile(profile),
		config.WithRetryMode(aws.RetryModeAdaptive),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: error loading AWS config: %v", utils.ErrStorage, err)
	}
	return NewS3BackendFromConfig(cfg, endpoint), nil
}

func NewS3BackendFromConfig(cfg aws.Config, endpoint string) *S3Backend {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Backend{
		client:     client,
		downloader: manager.NewDownloader(client),
		uploader:   manager.NewUploader(client),
	}
}

func (b *S3Backend) Read(ctx context.Context, bucket, id string) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(nil)
	n, err := b.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %w: s3://%s/%s", utils.ErrStorage, utils.ErrNotFound, bucket, id)
		}
		return nil, fmt.Errorf("%w: error getting object s3://%s/%s: %v", utils.ErrStorage, bucket, id, err)
	}
	log.Debug().Str("op", "storage/s3").Str("bucket", bucket).Str("key", id).Int64("bytes", n).Msg("piece read")
	return buf.Bytes()[:n], nil
}

func (b *S3Backend) Write(ctx context.Context, bucket, id string, data []byte) error {
	_, err := b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(id),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("%w: error putting object s3://%s/%s: %v", utils.ErrStorage, bucket, id, err)
	}
	log.Debug().Str("op", "storage/s3").Str("bucket", bucket).Str("key", id).Int("bytes", len(data)).Msg("piece written")
	return nil
}
