package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"channel_sync/models"
)

// S3Config holds configuration for S3-compatible storage
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for MinIO, R2, etc.
	AccessKeyID     string
	SecretAccessKey models.Secret
}

// Archiver keeps a copy of the raw payloads a sync fetched (feeds, API
// responses, pages) so parsing failures can be replayed.
type Archiver interface {
	Archive(ctx context.Context, channel models.ChannelID, method models.SyncMethod, data []byte) error
}

// NoopArchiver discards payloads. It is used when no bucket is configured.
type NoopArchiver struct{}

func (NoopArchiver) Archive(context.Context, models.ChannelID, models.SyncMethod, []byte) error {
	return nil
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes zstd-compressed payloads to
// {channel}/{method}/{yyyy}/{mm}/{dd}/{uuid}.zst.
type S3Archiver struct {
	client putObjectAPI
	bucket string
	enc    *zstd.Encoder
	now    func() time.Time
}

func NewS3Archiver(ctx context.Context, cfg S3Config) (*S3Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey.Reveal(), ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return newS3Archiver(client, cfg.Bucket)
}

func newS3Archiver(client putObjectAPI, bucket string) (*S3Archiver, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &S3Archiver{
		client: client,
		bucket: bucket,
		enc:    enc,
		now:    time.Now,
	}, nil
}

func (a *S3Archiver) Key(channel models.ChannelID, method models.SyncMethod) string {
	t := a.now().UTC()
	return fmt.Sprintf("%s/%s/%04d/%02d/%02d/%s.zst", channel, method, t.Year(), t.Month(), t.Day(), uuid.NewString())
}

func (a *S3Archiver) Archive(ctx context.Context, channel models.ChannelID, method models.SyncMethod, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	compressed := a.enc.EncodeAll(data, make([]byte, 0, len(data)/2))

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(a.Key(channel, method)),
		Body:            bytes.NewReader(compressed),
		ContentType:     aws.String("application/zstd"),
		ContentEncoding: aws.String("zstd"),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}
