package delivery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"meterrelay/internal/model"
)

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	KeyPrefix       string
	Timeout         time.Duration
}

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Transport uploads to an S3-compatible bucket under
// {prefix}/{dest}/{filename}.
type S3Transport struct {
	client  s3API
	bucket  string
	prefix  string
	timeout time.Duration
}

func NewS3Transport(ctx context.Context, cfg S3Config) (*S3Transport, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, model.NewFault(model.ErrConfiguration, "s3", errors.New("s3 bucket is required"))
	}
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, model.NewFault(model.ErrConfiguration, "s3", fmt.Errorf("failed to create aws config: %w", err))
	}

	client := s3.NewFromConfig(awsCfg, func(options *s3.Options) {
		if cfg.Endpoint != "" {
			options.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		options.UsePathStyle = cfg.UsePathStyle
	})

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &S3Transport{
		client:  client,
		bucket:  strings.TrimSpace(cfg.Bucket),
		prefix:  strings.Trim(cfg.KeyPrefix, "/"),
		timeout: timeout,
	}, nil
}

func (t *S3Transport) Name() string { return "s3" }

func (t *S3Transport) Check(ctx context.Context) error {
	if t.client == nil || t.bucket == "" {
		return model.NewFault(model.ErrConfiguration, "s3 check", errors.New("s3 client not configured"))
	}
	return nil
}

func (t *S3Transport) key(localPath, dest string) string {
	return path.Join(t.prefix, strings.Trim(dest, "/"), filepath.Base(localPath))
}

func (t *S3Transport) Copy(ctx context.Context, localPath, dest string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return model.NewFault(model.ErrTransport, "s3 put", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return model.NewFault(model.ErrTransport, "s3 put", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	key := t.key(localPath, dest)
	_, err = t.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(t.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("image/jpeg"),
	})
	if err != nil {
		return model.NewFault(model.ErrTransport, "s3 put", fmt.Errorf("put object %s failed: %w", key, err))
	}
	return nil
}

func (t *S3Transport) Verify(ctx context.Context, localPath, dest string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	key := t.key(localPath, dest)
	if _, err := t.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return model.NewFault(model.ErrTransport, "s3 head", fmt.Errorf("%w: %s: %v", errNotVerified, key, err))
	}
	return nil
}
