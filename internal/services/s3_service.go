package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/routefleet/backend/internal/config"
	"github.com/routefleet/backend/internal/models"
	"github.com/routefleet/backend/internal/pkg/configexport"
)

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("object not found")

// IntegrityError indicates downloaded content did not match its expected
// checksum. Never retried automatically; possible storage corruption.
type IntegrityError struct {
	Key      string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.Key, e.Expected, e.Actual)
}

// PutResult describes a completed upload.
type PutResult struct {
	Checksum string
	Size     int64
	ETag     string
}

// ObjectInfo describes a stored object without its content.
type ObjectInfo struct {
	Size         int64
	ETag         string
	LastModified time.Time
	ContentType  string
}

// PrefixStats aggregates all objects under a prefix.
type PrefixStats struct {
	TotalSize int64 `json:"total_size"`
	FileCount int64 `json:"file_count"`
}

// s3API is the slice of the S3 client the gateway uses, narrowed for tests.
type s3API interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, input *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, input *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.PresignOptions)) (string, error)
}

type s3Presigner struct {
	client *s3.PresignClient
}

func (p *s3Presigner) PresignGetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.PresignOptions)) (string, error) {
	out, err := p.client.PresignGetObject(ctx, input, opts...)
	if err != nil {
		return "", err
	}
	return out.URL, nil
}

// S3Service is the gateway to the backup object store. It is the sole writer
// of stored objects; callers never mutate an object in place.
type S3Service struct {
	api     s3API
	presign presignAPI
	bucket  string
}

func NewS3Service(cfg *config.Config) (*S3Service, error) {
	client, err := buildClient(cfg.BackupS3Endpoint, cfg.BackupS3Region, cfg.BackupS3AccessKeyID, cfg.BackupS3SecretAccessKey, cfg.BackupS3UsePathStyle)
	if err != nil {
		return nil, err
	}
	return &S3Service{
		api:     client,
		presign: &s3Presigner{client: s3.NewPresignClient(client)},
		bucket:  cfg.BackupBucket,
	}, nil
}

func buildClient(endpoint, region, key, secret string, pathStyle bool) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(key, secret, "")),
	)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = pathStyle
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
		}
	})
	return client, nil
}

// BackupKey builds the object key for a device backup. Keys sort by recency
// per device and are collision-free at millisecond granularity.
func BackupKey(deviceID uuid.UUID, kind string, at time.Time) string {
	ext := "rsc"
	if kind == models.BackupKindBinary {
		ext = "backup"
	}
	return fmt.Sprintf("backups/%s/%d-%s.%s", deviceID, at.UnixMilli(), strings.ToLower(kind), ext)
}

// Put uploads content under the key, overwriting any prior object. The
// checksum is computed before transmission. Idempotent for identical content.
func (s *S3Service) Put(ctx context.Context, key string, content []byte, contentType string) (*PutResult, error) {
	checksum := configexport.Checksum(content)

	out, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(content),
		ContentType: &contentType,
		ACL:         s3types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return nil, fmt.Errorf("put %s: %w", key, err)
	}

	return &PutResult{
		Checksum: checksum,
		Size:     int64(len(content)),
		ETag:     aws.ToString(out.ETag),
	}, nil
}

// Get downloads the object's full content.
func (s *S3Service) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// GetVerified downloads the object and recomputes its checksum. Mismatched
// content is never returned.
func (s *S3Service) GetVerified(ctx context.Context, key, expectedChecksum string) ([]byte, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	actual := configexport.Checksum(data)
	if actual != expectedChecksum {
		return nil, &IntegrityError{Key: key, Expected: expectedChecksum, Actual: actual}
	}
	return data, nil
}

// Exists reports whether the key holds an object.
func (s *S3Service) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Stat(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Stat fetches object metadata without the content.
func (s *S3Service) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}
	return &ObjectInfo{
		Size:         aws.ToInt64(out.ContentLength),
		ETag:         aws.ToString(out.ETag),
		LastModified: aws.ToTime(out.LastModified),
		ContentType:  aws.ToString(out.ContentType),
	}, nil
}

// Delete removes the object. Deleting an absent key is not an error.
func (s *S3Service) Delete(ctx context.Context, key string) error {
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// DeleteBatch removes many objects best-effort. Failures are reported per
// key, never aggregated into a single opaque error.
func (s *S3Service) DeleteBatch(ctx context.Context, keys []string) map[string]error {
	failed := make(map[string]error)
	if len(keys) == 0 {
		return failed
	}

	objects := make([]s3types.ObjectIdentifier, len(keys))
	for i := range keys {
		objects[i] = s3types.ObjectIdentifier{Key: &keys[i]}
	}

	out, err := s.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: &s.bucket,
		Delete: &s3types.Delete{Objects: objects, Quiet: aws.Bool(true)},
	})
	if err != nil {
		// The whole batch call failed; report it against every key.
		for _, k := range keys {
			failed[k] = err
		}
		return failed
	}

	for _, e := range out.Errors {
		failed[aws.ToString(e.Key)] = fmt.Errorf("%s: %s", aws.ToString(e.Code), aws.ToString(e.Message))
	}
	return failed
}

// List returns every key under the prefix. Order unspecified but complete.
func (s *S3Service) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		out, err := s.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &s.bucket,
			Prefix:            &prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, o := range out.Contents {
			keys = append(keys, aws.ToString(o.Key))
		}
		if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	return keys, nil
}

// Stats aggregates size and count over all keys under the prefix.
func (s *S3Service) Stats(ctx context.Context, prefix string) (*PrefixStats, error) {
	stats := &PrefixStats{}
	var token *string
	for {
		out, err := s.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &s.bucket,
			Prefix:            &prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("stats %s: %w", prefix, err)
		}
		for _, o := range out.Contents {
			stats.TotalSize += aws.ToInt64(o.Size)
			stats.FileCount++
		}
		if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	return stats, nil
}

// SignedURL produces a time-bounded download link. Expiry clamping is the
// caller's responsibility.
func (s *S3Service) SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	url, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key},
		s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return url, nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	var notFound *s3types.NotFound
	var noSuchKey *s3types.NoSuchKey
	return errors.As(err, &notFound) || errors.As(err, &noSuchKey)
}
