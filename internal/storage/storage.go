// Package storage provides S3-compatible blob storage for raw uploads and
// parsed markdown artifacts. Clients never see bucket credentials: uploads
// and downloads are brokered through short-lived presigned URLs, while
// workers use the service credentials directly.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/fx"

	"github.com/coverline/coverline/internal/config"
	"github.com/coverline/coverline/pkg/logger"
)

var Module = fx.Module("storage",
	fx.Provide(NewService),
)

// Bucket selects one of the two logical buckets.
type Bucket string

const (
	BucketRaw    Bucket = "raw"
	BucketParsed Bucket = "parsed"
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
}

// Service provides S3-compatible storage operations.
type Service struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	rawBucket     string
	parsedBucket  string
	signedURLTTL  time.Duration
	log           *slog.Logger
}

// NewService creates a new storage service. When storage is not configured
// the service is disabled and every operation fails fast; the enqueue path
// rejects uploads before any job exists.
func NewService(cfg *config.Config, log *slog.Logger) (*Service, error) {
	scfg := cfg.Storage

	svc := &Service{
		rawBucket:    scfg.RawBucket,
		parsedBucket: scfg.ParsedBucket,
		signedURLTTL: scfg.SignedURLTTL,
		log:          log.With(logger.Scope("storage")),
	}

	if !scfg.IsConfigured() {
		svc.log.Warn("storage service disabled - no configuration provided")
		return svc, nil
	}

	endpoint := scfg.Endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if scfg.UseSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}

	// Custom endpoint resolver for MinIO
	customResolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               endpoint,
				HostnameImmutable: true,
				SigningRegion:     scfg.Region,
			}, nil
		},
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(scfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			scfg.AccessKeyID,
			scfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithEndpointResolverWithOptions(customResolver),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Path-style addressing (required for MinIO)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	svc.client = client
	svc.presignClient = s3.NewPresignClient(client)

	svc.log.Info("storage service initialized",
		slog.String("endpoint", scfg.Endpoint),
		slog.String("raw_bucket", scfg.RawBucket),
		slog.String("parsed_bucket", scfg.ParsedBucket),
	)

	return svc, nil
}

// Enabled returns true if the storage service is properly configured.
func (s *Service) Enabled() bool {
	return s.client != nil
}

func (s *Service) bucketName(b Bucket) string {
	if b == BucketParsed {
		return s.parsedBucket
	}
	return s.rawBucket
}

// ObjectKey builds the canonical key for a document artifact:
// {owner_id}/{document_id}.{ext}
func ObjectKey(ownerID string, documentID uuid.UUID, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	return fmt.Sprintf("%s/%s.%s", ownerID, documentID, ext)
}

// ObjectPath is the full logical path including the bucket, as persisted
// on document rows: {bucket}/{owner_id}/{document_id}.{ext}
func (s *Service) ObjectPath(b Bucket, ownerID string, documentID uuid.UUID, ext string) string {
	return fmt.Sprintf("%s/%s", s.bucketName(b), ObjectKey(ownerID, documentID, ext))
}

// PresignUpload generates a presigned PUT URL for a client upload.
func (s *Service) PresignUpload(ctx context.Context, b Bucket, key, contentType string) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("storage service not enabled")
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucketName(b)),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	presignedReq, err := s.presignClient.PresignPutObject(ctx, input, func(po *s3.PresignOptions) {
		po.Expires = s.signedURLTTL
	})
	if err != nil {
		s.log.Error("failed to presign upload",
			slog.String("key", key),
			logger.Error(err),
		)
		return "", fmt.Errorf("presign upload failed: %w", err)
	}

	return presignedReq.URL, nil
}

// PresignDownload generates a presigned GET URL, used both for status
// responses and for handing the raw object to the parser service.
func (s *Service) PresignDownload(ctx context.Context, b Bucket, key string) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("storage service not enabled")
	}

	presignedReq, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName(b)),
		Key:    aws.String(key),
	}, func(po *s3.PresignOptions) {
		po.Expires = s.signedURLTTL
	})
	if err != nil {
		s.log.Error("failed to presign download",
			slog.String("key", key),
			logger.Error(err),
		)
		return "", fmt.Errorf("presign download failed: %w", err)
	}

	return presignedReq.URL, nil
}

// Upload writes data to the given bucket and key. Workers use this for the
// parsed markdown artifact.
func (s *Service) Upload(ctx context.Context, b Bucket, key string, data []byte, contentType string) error {
	if !s.Enabled() {
		return fmt.Errorf("storage service not enabled")
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucketName(b)),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		s.log.Error("failed to upload object",
			slog.String("key", key),
			logger.Error(err),
		)
		return fmt.Errorf("upload failed: %w", err)
	}

	s.log.Debug("object uploaded",
		slog.String("bucket", s.bucketName(b)),
		slog.String("key", key),
		slog.Int("size", len(data)),
	)
	return nil
}

// Download retrieves an object.
func (s *Service) Download(ctx context.Context, b Bucket, key string) ([]byte, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("storage service not enabled")
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName(b)),
		Key:    aws.String(key),
	})
	if err != nil {
		s.log.Error("failed to download object",
			slog.String("key", key),
			logger.Error(err),
		)
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read object body: %w", err)
	}
	return data, nil
}

// Head returns object metadata, or (nil, nil) when the object is missing.
func (s *Service) Head(ctx context.Context, b Bucket, key string) (*ObjectInfo, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("storage service not enabled")
	}

	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName(b)),
		Key:    aws.String(key),
	})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "NotFound") || strings.Contains(errStr, "404") || strings.Contains(errStr, "NoSuchKey") {
			return nil, nil
		}
		return nil, fmt.Errorf("head object failed: %w", err)
	}

	info := &ObjectInfo{Key: key}
	if result.ContentLength != nil {
		info.Size = *result.ContentLength
	}
	if result.ContentType != nil {
		info.ContentType = *result.ContentType
	}
	return info, nil
}

// Delete removes an object.
func (s *Service) Delete(ctx context.Context, b Bucket, key string) error {
	if !s.Enabled() {
		return fmt.Errorf("storage service not enabled")
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName(b)),
		Key:    aws.String(key),
	})
	if err != nil {
		s.log.Error("failed to delete object",
			slog.String("key", key),
			logger.Error(err),
		)
		return fmt.Errorf("delete failed: %w", err)
	}

	s.log.Debug("object deleted", slog.String("key", key))
	return nil
}

// HealthCheck verifies the raw bucket is reachable.
func (s *Service) HealthCheck(ctx context.Context) error {
	if !s.Enabled() {
		return fmt.Errorf("storage service not enabled")
	}

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.rawBucket),
	})
	if err != nil {
		return fmt.Errorf("storage unreachable: %w", err)
	}
	return nil
}

// ExtForFilename derives the storage extension from the original filename,
// falling back to "bin".
func ExtForFilename(filename string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "" {
		return "bin"
	}
	return ext
}

// SanitizeFilename cleans a filename for response headers and logs.
func SanitizeFilename(filename string) string {
	if filename == "" {
		return "unnamed"
	}

	re := regexp.MustCompile(`[^a-zA-Z0-9._-]`)
	sanitized := re.ReplaceAllString(filename, "_")

	re = regexp.MustCompile(`_{2,}`)
	sanitized = re.ReplaceAllString(sanitized, "_")

	sanitized = strings.Trim(sanitized, "_")
	sanitized = strings.ToLower(sanitized)

	if len(sanitized) > 200 {
		sanitized = sanitized[:200]
	}
	if sanitized == "" {
		return "unnamed"
	}
	return sanitized
}
