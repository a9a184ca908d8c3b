// Package objstore backs media fields with a remote object store.
// The engine consults it for cache-busting tokens on media URLs and
// for housekeeping (copying and deleting size variants).
package objstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/zeebo/blake3"

	"github.com/skothari-dev/loom/internal/core"
)

// S3Store implements core.ObjectStore against an S3 bucket. Metadata
// lookups go through a local cache first so rendering a page of media
// URLs does not issue one HEAD request per image.
type S3Store struct {
	client  *s3.Client
	bucket  string
	cdnHost string
	meta    *MetadataCache
}

// S3Config holds the settings for the S3 object store.
type S3Config struct {
	Region          string
	Bucket          string
	Endpoint        string // optional, for LocalStack or MinIO
	AccessKeyID     string // optional, can use IAM role instead
	SecretAccessKey string // optional, can use IAM role instead

	// CDNHost, when set, replaces the host part of public media URLs.
	CDNHost string

	// MetadataPath is the local file the metadata cache persists to.
	// Empty disables persistence.
	MetadataPath string
}

// NewS3Store creates an S3 object store and verifies bucket access.
func NewS3Store(ctx context.Context, config S3Config) (*S3Store, error) {
	if config.Region == "" {
		return nil, fmt.Errorf("region is required")
	}
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(config.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		cfg.Credentials = credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, "")
	}

	clientOptions := []func(*s3.Options){}
	if config.Endpoint != "" {
		clientOptions = append(clientOptions, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(cfg, clientOptions...)

	headCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err = client.HeadBucket(headCtx, &s3.HeadBucketInput{Bucket: aws.String(config.Bucket)})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %s: %w", config.Bucket, err)
	}

	meta, err := NewMetadataCache(config.MetadataPath)
	if err != nil {
		return nil, err
	}

	return &S3Store{
		client:  client,
		bucket:  config.Bucket,
		cdnHost: strings.TrimSuffix(config.CDNHost, "/"),
		meta:    meta,
	}, nil
}

// FileTime returns the modification time of an object, with ok false
// when the object is absent.
func (s *S3Store) FileTime(ctx context.Context, path string) (time.Time, bool, error) {
	if entry, ok := s.meta.Get(path); ok {
		return entry.ModTime, true, nil
	}

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(path)),
	})
	if err != nil {
		if isNotFound(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	mod := aws.ToTime(head.LastModified)
	s.meta.Put(path, Metadata{ModTime: mod})
	return mod, true, nil
}

// ContentHash returns a short content hash for an object, with ok
// false when the object is absent. The hash sticks to the content, so
// a re-uploaded identical file does not bust CDN caches.
func (s *S3Store) ContentHash(ctx context.Context, path string) (string, bool, error) {
	if entry, ok := s.meta.Get(path); ok && entry.Hash != "" {
		return entry.Hash, true, nil
	}

	obj, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(path)),
	})
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	defer obj.Body.Close()

	h := blake3.New()
	if _, err := io.Copy(h, obj.Body); err != nil {
		return "", false, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	sum := h.Sum(nil)
	hash := hex.EncodeToString(sum[:8])

	s.meta.Put(path, Metadata{ModTime: aws.ToTime(obj.LastModified), Hash: hash})
	return hash, true, nil
}

// Copy duplicates an object within the bucket.
func (s *S3Store) Copy(ctx context.Context, src, dst string) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		CopySource: aws.String(s.bucket + "/" + objectKey(src)),
		Key:        aws.String(objectKey(dst)),
	})
	if err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	s.meta.Invalidate(dst)
	return nil
}

// Delete removes an object and its cached metadata.
func (s *S3Store) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(path)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	s.meta.Invalidate(path)
	return nil
}

// List returns all object paths under a prefix.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var paths []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(objectKey(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			paths = append(paths, aws.ToString(obj.Key))
		}
	}
	return paths, nil
}

// RebuildMetadata repopulates the metadata cache from a full listing.
// Hashes are dropped; they are recomputed lazily on next access.
func (s *S3Store) RebuildMetadata(ctx context.Context) error {
	s.meta.Reset()

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	})
	count := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to rebuild metadata: %w", err)
		}
		for _, obj := range page.Contents {
			s.meta.Put(aws.ToString(obj.Key), Metadata{ModTime: aws.ToTime(obj.LastModified)})
			count++
		}
	}
	log.Printf("[OBJSTORE] Rebuilt metadata for %d objects in %s", count, s.bucket)
	return s.meta.Flush()
}

// PublicURL rewrites a public path onto the CDN host. Without a CDN
// host the path passes through unchanged.
func (s *S3Store) PublicURL(path string) string {
	if s.cdnHost == "" {
		return path
	}
	return s.cdnHost + "/" + objectKey(path)
}

var _ core.ObjectStore = (*S3Store)(nil)

func objectKey(path string) string {
	return strings.TrimPrefix(path, "/")
}

func isNotFound(err error) bool {
	var notFound *s3types.NotFound
	var noKey *s3types.NoSuchKey
	return errors.As(err, &notFound) || errors.As(err, &noKey)
}
