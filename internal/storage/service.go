// Package storage provides signed download URLs for original document files
// held in S3-compatible object storage (R2).
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultURLExpiry is how long a signed download URL stays valid. Signing
// links are long-lived; the download URL is deliberately short.
const DefaultURLExpiry = time.Hour

// Service generates presigned GET URLs for stored document files.
type Service struct {
	presignClient *s3.PresignClient
	bucketName    string
	urlExpiry     time.Duration
}

// ServiceConfig holds configuration for the storage service.
type ServiceConfig struct {
	BucketName      string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	URLExpiry       time.Duration // Default: 1 hour
}

// NewService creates a new storage service with the given configuration.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.AccessKeyID == "" {
		return nil, errors.New("access key ID is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("secret access key is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = DefaultURLExpiry
	}

	// S3 client with R2-compatible configuration
	s3Client := s3.New(s3.Options{
		Region: "auto", // R2 uses auto region
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"", // No session token for R2
		)),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true, // R2 requires path-style addressing
	})

	return &Service{
		presignClient: s3.NewPresignClient(s3Client),
		bucketName:    cfg.BucketName,
		urlExpiry:     cfg.URLExpiry,
	}, nil
}

// ObjectKey normalizes a stored file reference to a bucket object key.
// References are stored either as bare keys or as bucket-prefixed paths.
func (s *Service) ObjectKey(fileURL string) string {
	key := strings.TrimPrefix(fileURL, "/")
	key = strings.TrimPrefix(key, s.bucketName+"/")
	return key
}

// SignedDownloadURL presigns a GET for the stored original file. The URL is
// time-limited; callers re-request on every view rather than persisting it.
func (s *Service) SignedDownloadURL(ctx context.Context, fileURL string) (string, error) {
	key := s.ObjectKey(fileURL)
	if key == "" {
		return "", errors.New("empty object key")
	}

	presignedReq, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.urlExpiry
	})
	if err != nil {
		return "", err
	}

	return presignedReq.URL, nil
}
