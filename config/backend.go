package config

import (
	"context"
	"fmt"
	"time"

	"github.com/kbase/caching-service/cache"
	"github.com/kbase/caching-service/cache/azblobstore"
	"github.com/kbase/caching-service/cache/fsstore"
	"github.com/kbase/caching-service/cache/s3store"
)

const backendPollInterval = 2 * time.Second

// NewBlobStore builds the configured storage backend. Remote backends are
// polled until reachable, then the bucket or container is created if it
// is missing.
func (c *Config) NewBlobStore(ctx context.Context) (cache.BlobStore, error) {
	errorLogger := c.ErrorLogger
	if errorLogger == nil {
		errorLogger = discardLogger{}
	}
	accessLogger := c.AccessLogger
	if accessLogger == nil {
		accessLogger = discardLogger{}
	}

	ctx, cancel := context.WithTimeout(ctx, c.BackendWaitTimeout)
	defer cancel()

	switch {
	case c.S3CloudStorage != nil:
		opts, err := c.S3CloudStorage.options(errorLogger)
		if err != nil {
			return nil, err
		}
		s, err := s3store.New(opts, accessLogger, errorLogger)
		if err != nil {
			return nil, err
		}
		errorLogger.Printf("Waiting for S3 backend %s", s.Describe())
		if err = s.WaitReady(ctx, backendPollInterval); err != nil {
			return nil, fmt.Errorf("S3 backend %s is not reachable: %w", s.Describe(), err)
		}
		if err = s.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("Failed to create bucket %s: %w", c.S3CloudStorage.Bucket, err)
		}
		return s, nil

	case c.AzBlobConfig != nil:
		opts, err := c.AzBlobConfig.options(errorLogger)
		if err != nil {
			return nil, err
		}
		s, err := azblobstore.New(opts, accessLogger, errorLogger)
		if err != nil {
			return nil, err
		}
		errorLogger.Printf("Waiting for azblob backend %s", s.Describe())
		if err = s.WaitReady(ctx, backendPollInterval); err != nil {
			return nil, fmt.Errorf("azblob backend %s is not reachable: %w", s.Describe(), err)
		}
		if err = s.EnsureContainer(ctx); err != nil {
			return nil, fmt.Errorf("Failed to create container %s: %w", c.AzBlobConfig.ContainerName, err)
		}
		return s, nil

	case c.Dir != "":
		return fsstore.New(c.Dir, errorLogger)
	}

	return nil, fmt.Errorf("no storage backend configured")
}

type discardLogger struct{}

func (discardLogger) Printf(string, ...interface{}) {}
