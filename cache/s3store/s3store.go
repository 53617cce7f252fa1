// Package s3store is a cache.BlobStore backed by an S3 compatible object
// store. Each cache entry is one object; its metadata is carried in the
// object's user metadata.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kbase/caching-service/cache"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Options configures a Store.
type Options struct {
	Endpoint   string
	Bucket     string
	Prefix     string
	Region     string
	DisableSSL bool
	Creds      *credentials.Credentials
}

// Store implements cache.BlobStore on an S3 bucket.
type Store struct {
	client       *minio.Client
	bucket       string
	prefix       string
	region       string
	accessLogger cache.Logger
	errorLogger  cache.Logger
}

// New returns a Store for the bucket described by opts. It does not
// contact the server; see WaitReady and EnsureBucket.
func New(opts Options, accessLogger cache.Logger, errorLogger cache.Logger) (*Store, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("the S3 endpoint must be set")
	}
	if opts.Bucket == "" {
		return nil, errors.New("the S3 bucket must be set")
	}
	if opts.Creds == nil {
		return nil, errors.New("S3 credentials must be set")
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  opts.Creds,
		Secure: !opts.DisableSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, err
	}

	return &Store{
		client:       client,
		bucket:       opts.Bucket,
		prefix:       strings.Trim(opts.Prefix, "/"),
		region:       opts.Region,
		accessLogger: accessLogger,
		errorLogger:  errorLogger,
	}, nil
}

func (s *Store) Describe() string {
	if s.prefix == "" {
		return fmt.Sprintf("s3://%s@%s", s.bucket, s.client.EndpointURL().Host)
	}
	return fmt.Sprintf("s3://%s/%s@%s", s.bucket, s.prefix, s.client.EndpointURL().Host)
}

func objectKey(prefix string, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// Helper function for logging responses
func logResponse(log cache.Logger, method, bucket, key string, err error) {
	status := "OK"
	if err != nil {
		status = err.Error()
	}

	log.Printf("S3 %s %s %s %s", method, bucket, key, status)
}

// translate maps minio's error responses for missing objects onto
// cache.ErrNotFound.
func translate(key string, err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return cache.Errorf(cache.KindNotFound, "no such blob %q", key)
	}
	return err
}

// WaitReady polls the server every interval until it answers, or until
// ctx is done.
func (s *Store) WaitReady(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_, err := s.client.BucketExists(ctx, s.bucket)
		if err == nil {
			return nil
		}
		s.errorLogger.Printf("S3 not ready at %s: %v", s.client.EndpointURL().Host, err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("S3 did not become ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	switch minio.ToErrorResponse(err).Code {
	case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
		// Created concurrently by another instance.
		err = nil
	}
	logResponse(s.accessLogger, "MKBUCKET", s.bucket, "", err)
	return err
}

func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64, meta map[string]string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectKey(s.prefix, key), r, size,
		minio.PutObjectOptions{
			ContentType:  "application/octet-stream",
			UserMetadata: meta,
		})

	logResponse(s.accessLogger, "UPLOAD", s.bucket, objectKey(s.prefix, key), err)
	return err
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, *cache.ObjectInfo, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(s.prefix, key), minio.GetObjectOptions{})
	if err != nil {
		logResponse(s.accessLogger, "DOWNLOAD", s.bucket, objectKey(s.prefix, key), err)
		return nil, nil, translate(key, err)
	}

	// GetObject is lazy, Stat performs the request.
	oi, err := obj.Stat()
	logResponse(s.accessLogger, "DOWNLOAD", s.bucket, objectKey(s.prefix, key), err)
	if err != nil {
		obj.Close()
		return nil, nil, translate(key, err)
	}

	return obj, toObjectInfo(key, oi), nil
}

func (s *Store) Stat(ctx context.Context, key string) (*cache.ObjectInfo, error) {
	oi, err := s.client.StatObject(ctx, s.bucket, objectKey(s.prefix, key), minio.StatObjectOptions{})
	logResponse(s.accessLogger, "STAT", s.bucket, objectKey(s.prefix, key), err)
	if err != nil {
		return nil, translate(key, err)
	}
	return toObjectInfo(key, oi), nil
}

// Delete removes the object. S3 deletes are idempotent, so the object is
// checked first in order to report missing keys.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.Stat(ctx, key)
	if err != nil {
		return err
	}

	err = s.client.RemoveObject(ctx, s.bucket, objectKey(s.prefix, key), minio.RemoveObjectOptions{})
	logResponse(s.accessLogger, "DELETE", s.bucket, objectKey(s.prefix, key), err)
	return translate(key, err)
}

func (s *Store) List(ctx context.Context, fn func(key string) error) error {
	ctx, cancel := context.WithCancel(ctx)
	// Stops the listing goroutine when fn returns early.
	defer cancel()

	listPrefix := ""
	if s.prefix != "" {
		listPrefix = s.prefix + "/"
	}

	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    listPrefix,
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			logResponse(s.accessLogger, "LIST", s.bucket, listPrefix, obj.Err)
			return obj.Err
		}
		key := strings.TrimPrefix(obj.Key, listPrefix)
		if key == "" || strings.Contains(key, "/") {
			s.errorLogger.Printf("S3 LIST %s: ignoring unexpected object %s", s.bucket, obj.Key)
			continue
		}
		err := fn(key)
		if err != nil {
			return err
		}
	}
	return ctx.Err()
}

const metaHeaderPrefix = "x-amz-meta-"

func toObjectInfo(key string, oi minio.ObjectInfo) *cache.ObjectInfo {
	meta := make(map[string]string, len(oi.UserMetadata))
	for k, v := range oi.UserMetadata {
		meta[k] = v
	}
	if len(meta) == 0 {
		// Some servers only show up in the raw headers.
		for k, v := range oi.Metadata {
			if len(v) > 0 && strings.HasPrefix(strings.ToLower(k), metaHeaderPrefix) {
				meta[k[len(metaHeaderPrefix):]] = v[0]
			}
		}
	}

	return &cache.ObjectInfo{
		Key:          key,
		Size:         oi.Size,
		LastModified: oi.LastModified,
		Metadata:     meta,
	}
}
