package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

const (
	// FolderExports is the S3 prefix for results export objects.
	FolderExports = "exports"
	// ContentTypeJSON is the content type of rendered exports.
	ContentTypeJSON = "application/json"

	uploadPartSize = 5 * 1024 * 1024
)

// S3Config holds S3 client configuration.
type S3Config struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	Endpoint             string
	ExportsBucket        string
	PresignExpireMinutes int
}

// S3 provides S3 operations and pre-signed URLs for the exports bucket.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      S3Config
	logger   *zap.Logger
}

// NewS3 builds the exports bucket client. Static keys are used when both are set, otherwise the
// default AWS credential chain applies. A custom Endpoint (MinIO, LocalStack) switches to path-style
// addressing.
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ExportsBucket == "" {
		return nil, fmt.Errorf("exports bucket is not configured")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	logger.Info("S3 exports storage ready",
		zap.String("region", cfg.Region),
		zap.String("bucket", cfg.ExportsBucket),
		zap.Bool("static_credentials", cfg.AccessKeyID != "" && cfg.SecretAccessKey != ""),
		zap.String("endpoint", cfg.Endpoint),
	)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = uploadPartSize
	})
	return &S3{client: client, uploader: uploader, cfg: cfg, logger: logger}, nil
}

func loadOptions(cfg S3Config) []func(*config.LoadOptions) error {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	return opts
}

// ExportKey returns the S3 object key: exports/{session_id}/{export_id}.json.
func ExportKey(sessionID, exportID string) string {
	return path.Join(FolderExports, sessionID, exportID+".json")
}

// PresignExpire returns the configured presign duration.
func (s *S3) PresignExpire() time.Duration {
	if s.cfg.PresignExpireMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(s.cfg.PresignExpireMinutes) * time.Minute
}

// Upload streams a reader to the exports bucket under key.
func (s *S3) Upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) error {
	var contentLengthPtr *int64
	if contentLength > 0 {
		contentLengthPtr = &contentLength
	}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.ExportsBucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: contentLengthPtr,
	})
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	s.logger.Debug("object uploaded", zap.String("bucket", s.cfg.ExportsBucket), zap.String("key", key))
	return nil
}

// PresignedDownloadURL returns a pre-signed GET URL for an exported object.
func (s *S3) PresignedDownloadURL(ctx context.Context, key string) (string, error) {
	presignClient := s3.NewPresignClient(s.client)
	req, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.ExportsBucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.PresignExpire()
	})
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}
