package storage

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sethvargo/go-envconfig"
)

// S3Config locates an S3-compatible staging bucket. The tagged fields are read from
// S3_* environment variables by S3ConfigFromEnv; Bucket and Prefix come from the run config.
type S3Config struct {
	Endpoint       string `env:"S3_ENDPOINT,required"`
	AccessKey      string `env:"S3_ACCESS_KEY,required"`
	SecretKey      string `env:"S3_SECRET_KEY,required"`
	Region         string `env:"S3_REGION,default=us-east-1"`
	DisableTLS     bool   `env:"S3_DISABLE_TLS,default=false"`
	ForcePathStyle bool   `env:"S3_FORCE_PATH_STYLE,default=true"`
	Bucket         string
	Prefix         string
}

// S3ConfigFromEnv reads the endpoint and credentials from the environment. A bare
// host:port endpoint gets an https scheme, or http when S3_DISABLE_TLS is set.
func S3ConfigFromEnv(ctx context.Context, bucket, prefix string) (S3Config, error) {
	var cfg S3Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return S3Config{}, fmt.Errorf("reading s3 environment: %w", err)
	}
	cfg.Bucket = bucket
	cfg.Prefix = prefix

	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	if cfg.Endpoint == "" {
		return S3Config{}, errors.New("S3_ENDPOINT is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return S3Config{}, errors.New("S3_ACCESS_KEY and S3_SECRET_KEY are required")
	}

	scheme := "https"
	if cfg.DisableTLS {
		scheme = "http"
	}
	if !strings.HasPrefix(cfg.Endpoint, "http://") && !strings.HasPrefix(cfg.Endpoint, "https://") {
		cfg.Endpoint = fmt.Sprintf("%s://%s", scheme, cfg.Endpoint)
	}
	return cfg, nil
}

// S3Uploader stages files in a bucket and hands back s3:// references.
type S3Uploader struct {
	api    *s3.Client
	bucket string
	prefix string
}

var _ Uploader = (*S3Uploader)(nil)

func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		// A buildable client lets the SDK add AWS_CA_BUNDLE roots to its transport.
		awsconfig.WithHTTPClient(awshttp.NewBuildableClient().WithTimeout(10*time.Minute)),
	)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &S3Uploader{
		api:    client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Upload puts the file under prefix/<basename> with a SHA-256 checksum the server verifies.
func (u *S3Uploader) Upload(ctx context.Context, localPath, field string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", localPath, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewinding %s: %w", localPath, err)
	}
	checksum := base64.StdEncoding.EncodeToString(h.Sum(nil))

	key := path.Join(u.prefix, filepath.Base(localPath))
	_, err = u.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:            &u.bucket,
		Key:               &key,
		Body:              f,
		ContentLength:     &size,
		ChecksumAlgorithm: s3types.ChecksumAlgorithmSha256,
		ChecksumSHA256:    &checksum,
		Metadata: map[string]string{
			"field": field,
		},
	})
	if err != nil {
		return "", fmt.Errorf("putting s3://%s/%s: %w", u.bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", u.bucket, key), nil
}
