package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
)

// S3StoreConfig configures an S3-compatible asset store, grounded on the
// teacher's internal/artifacts/s3_store.go.
type S3StoreConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool

	// PublicBaseURL, if set, is prepended to an object key to form
	// PublicURL's return value instead of issuing a pre-signed request —
	// the "public base" mode spec §4.9 names.
	PublicBaseURL string

	// PresignTTL controls how long a pre-signed GET URL is valid for when
	// PublicBaseURL is unset and the bucket is not anonymously readable.
	// Zero disables pre-signing (PublicURL then always returns "").
	PresignTTL time.Duration
}

// DefaultS3StoreConfig returns the default configuration.
func DefaultS3StoreConfig() *S3StoreConfig {
	return &S3StoreConfig{Region: "us-east-1", PresignTTL: 15 * time.Minute}
}

// S3Store stores assets in an S3-compatible bucket (AWS S3 or MinIO).
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
	cfg     S3StoreConfig
}

// NewS3Store creates an S3-backed asset store.
func NewS3Store(ctx context.Context, cfg *S3StoreConfig) (*S3Store, error) {
	if cfg == nil {
		cfg = DefaultS3StoreConfig()
	}

	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("assets: s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	loadOptions := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("assets: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		cfg:     *cfg,
	}, nil
}

func (s *S3Store) Save(ctx context.Context, data []byte, mimeType string) (string, error) {
	id := uuid.New().String() + extensionForMime(mimeType)
	key := s.objectKey(id)
	input := &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	}
	if mimeType != "" {
		input.ContentType = aws.String(mimeType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("assets: s3 put object: %w", err)
	}
	return id, nil
}

func (s *S3Store) Get(ctx context.Context, assetID string) (*Asset, error) {
	key := s.objectKey(assetID)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("assets: s3 get object: %w", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("assets: s3 read body: %w", err)
	}
	mimeType := ""
	if out.ContentType != nil {
		mimeType = *out.ContentType
	}
	return &Asset{MimeType: mimeType, Data: data}, nil
}

// PublicURL returns cfg.PublicBaseURL+key when set (the "public base" mode),
// otherwise a pre-signed GET URL valid for cfg.PresignTTL, or "" if neither
// is configured (the "anonymous access" mode — the caller is expected to
// read the object directly).
func (s *S3Store) PublicURL(ctx context.Context, assetID string) (string, error) {
	key := s.objectKey(assetID)
	if s.cfg.PublicBaseURL != "" {
		return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + key, nil
	}
	if s.cfg.PresignTTL <= 0 {
		return "", nil
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}, s3.WithPresignExpires(s.cfg.PresignTTL))
	if err != nil {
		return "", fmt.Errorf("assets: presign get object: %w", err)
	}
	return req.URL, nil
}

func (s *S3Store) objectKey(assetID string) string {
	if s.prefix == "" {
		return assetID
	}
	return path.Join(s.prefix, assetID)
}

func notFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && strings.EqualFold(apiErr.ErrorCode(), "NotFound") {
		return true
	}
	return false
}
