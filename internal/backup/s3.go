package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrUploadDisabled indicates no bucket is configured.
var ErrUploadDisabled = errors.New("backup: object storage not configured")

// ObjectStore is the part of the S3 client the uploader uses.
type ObjectStore interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config points at an S3-compatible bucket such as R2 or MinIO.
type S3Config struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Prefix    string
}

// S3Uploader stores archives as <prefix>/<timestamp>.json.
type S3Uploader struct {
	client ObjectStore
	bucket string
	prefix string
}

// NewS3Uploader builds a client with static credentials and an optional
// custom endpoint.
func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, ErrUploadDisabled
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("backup: configure s3: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3UploaderWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3UploaderWithClient wraps an existing client.
func NewS3UploaderWithClient(client ObjectStore, bucket, prefix string) *S3Uploader {
	return &S3Uploader{client: client, bucket: bucket, prefix: prefix}
}

// Key is the object key the archive is stored under.
func (u *S3Uploader) Key(a Archive) string {
	return path.Join(u.prefix, a.CreatedAt.UTC().Format("20060102T150405Z")+".json")
}

// Upload encodes and stores the archive, returning its key.
func (u *S3Uploader) Upload(ctx context.Context, a Archive) (string, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, a); err != nil {
		return "", fmt.Errorf("backup: encode: %w", err)
	}
	key := u.Key(a)
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("backup: upload %s: %w", key, err)
	}
	return key, nil
}

// Download fetches and decodes the archive stored under key.
func (u *S3Uploader) Download(ctx context.Context, key string) (Archive, error) {
	out, err := u.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Archive{}, fmt.Errorf("backup: download %s: %w", key, err)
	}
	defer out.Body.Close()
	return Decode(out.Body)
}
