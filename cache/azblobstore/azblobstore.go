// Package azblobstore is a cache.BlobStore backed by an Azure storage
// container. Entry metadata is carried in the blob metadata.
package azblobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kbase/caching-service/cache"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
)

// Options configures a Store. Either Creds or SharedKey must be set.
type Options struct {
	StorageAccount string
	ContainerName  string
	Prefix         string
	// ServiceURL overrides the default
	// https://<account>.blob.core.windows.net/ endpoint, e.g. for Azurite.
	ServiceURL string
	Creds      azcore.TokenCredential
	SharedKey  string
}

// Store implements cache.BlobStore on an Azure blob container.
type Store struct {
	containerClient *container.Client
	storageAccount  string
	container       string
	prefix          string
	accessLogger    cache.Logger
	errorLogger     cache.Logger
}

// New returns a Store for the container described by opts. It does not
// contact the server; see WaitReady and EnsureContainer.
func New(opts Options, accessLogger cache.Logger, errorLogger cache.Logger) (*Store, error) {
	if opts.StorageAccount == "" {
		return nil, errors.New("the azblob storage account must be set")
	}
	if opts.ContainerName == "" {
		return nil, errors.New("the azblob container name must be set")
	}

	url := opts.ServiceURL
	if url == "" {
		url = fmt.Sprintf("https://%s.blob.core.windows.net/", opts.StorageAccount)
	}

	var err error
	var client *azblob.Client

	switch {
	case opts.Creds != nil:
		client, err = azblob.NewClient(url, opts.Creds, nil)
	case opts.SharedKey != "":
		cred, e := azblob.NewSharedKeyCredential(opts.StorageAccount, opts.SharedKey)
		if e != nil {
			return nil, e
		}
		client, err = azblob.NewClientWithSharedKeyCredential(url, cred, nil)
	default:
		return nil, errors.New("azblob credentials or a shared key must be set")
	}
	if err != nil {
		return nil, err
	}

	return &Store{
		containerClient: client.ServiceClient().NewContainerClient(opts.ContainerName),
		storageAccount:  opts.StorageAccount,
		container:       opts.ContainerName,
		prefix:          strings.Trim(opts.Prefix, "/"),
		accessLogger:    accessLogger,
		errorLogger:     errorLogger,
	}, nil
}

func (s *Store) Describe() string {
	if s.prefix == "" {
		return fmt.Sprintf("azblob://%s/%s", s.storageAccount, s.container)
	}
	return fmt.Sprintf("azblob://%s/%s/%s", s.storageAccount, s.container, s.prefix)
}

func objectKey(prefix string, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// Helper function for logging responses
func logResponse(log cache.Logger, method, storageAccount, container, key string, err error) {
	status := "OK"
	if err != nil {
		status = err.Error()
	}

	log.Printf("AZBLOB %s %s %s %s %s", method, storageAccount, container, key, status)
}

func translate(key string, err error) error {
	if err == nil {
		return nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return cache.Errorf(cache.KindNotFound, "no such blob %q", key)
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == 404 {
		// HEAD responses carry no error code.
		return cache.Errorf(cache.KindNotFound, "no such blob %q", key)
	}
	return err
}

// WaitReady polls the service every interval until it answers, or until
// ctx is done.
func (s *Store) WaitReady(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_, err := s.containerClient.GetProperties(ctx, nil)
		if err == nil || bloberror.HasCode(err, bloberror.ContainerNotFound) {
			return nil
		}
		s.errorLogger.Printf("azblob not ready for %s: %v", s.storageAccount, err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("azblob did not become ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// EnsureContainer creates the container if it does not exist yet.
func (s *Store) EnsureContainer(ctx context.Context) error {
	_, err := s.containerClient.Create(ctx, nil)
	if bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		err = nil
	}
	logResponse(s.accessLogger, "MKCONTAINER", s.storageAccount, s.container, "", err)
	return err
}

func toAzMetadata(meta map[string]string) map[string]*string {
	m := make(map[string]*string, len(meta))
	for k, v := range meta {
		v := v
		m[k] = &v
	}
	return m
}

func fromAzMetadata(meta map[string]*string) map[string]string {
	m := make(map[string]string, len(meta))
	for k, v := range meta {
		if v != nil {
			m[k] = *v
		}
	}
	return m
}

// sizeCheckReader fails the final read if the stream length differs
// from the declared size, so that the block list is never committed.
type sizeCheckReader struct {
	r        io.Reader
	expected int64
	n        int64
}

func (s *sizeCheckReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.n += int64(n)
	if err == io.EOF && s.expected >= 0 && s.n != s.expected {
		return n, fmt.Errorf("sizes don't match. Expected %d, found %d", s.expected, s.n)
	}
	return n, err
}

func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64, meta map[string]string) error {
	k := objectKey(s.prefix, key)
	client := s.containerClient.NewBlockBlobClient(k)

	contentType := "application/octet-stream"
	_, err := client.UploadStream(ctx, &sizeCheckReader{r: r, expected: size}, &blockblob.UploadStreamOptions{
		Metadata:    toAzMetadata(meta),
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})

	logResponse(s.accessLogger, "UPLOAD", s.storageAccount, s.container, k, err)
	return err
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, *cache.ObjectInfo, error) {
	k := objectKey(s.prefix, key)
	client := s.containerClient.NewBlobClient(k)

	resp, err := client.DownloadStream(ctx, nil)
	logResponse(s.accessLogger, "DOWNLOAD", s.storageAccount, s.container, k, err)
	if err != nil {
		return nil, nil, translate(key, err)
	}

	info := &cache.ObjectInfo{
		Key:      key,
		Metadata: fromAzMetadata(resp.Metadata),
	}
	if resp.ContentLength != nil {
		info.Size = *resp.ContentLength
	}
	if resp.LastModified != nil {
		info.LastModified = *resp.LastModified
	}

	rc := resp.NewRetryReader(ctx, &azblob.RetryReaderOptions{MaxRetries: 2})
	return rc, info, nil
}

func (s *Store) Stat(ctx context.Context, key string) (*cache.ObjectInfo, error) {
	k := objectKey(s.prefix, key)
	client := s.containerClient.NewBlobClient(k)

	props, err := client.GetProperties(ctx, nil)
	logResponse(s.accessLogger, "STAT", s.storageAccount, s.container, k, err)
	if err != nil {
		return nil, translate(key, err)
	}

	info := &cache.ObjectInfo{
		Key:      key,
		Metadata: fromAzMetadata(props.Metadata),
	}
	if props.ContentLength != nil {
		info.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		info.LastModified = *props.LastModified
	}
	return info, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	k := objectKey(s.prefix, key)
	client := s.containerClient.NewBlobClient(k)

	_, err := client.Delete(ctx, nil)
	logResponse(s.accessLogger, "DELETE", s.storageAccount, s.container, k, err)
	return translate(key, err)
}

func (s *Store) List(ctx context.Context, fn func(key string) error) error {
	listPrefix := ""
	if s.prefix != "" {
		listPrefix = s.prefix + "/"
	}

	pager := s.containerClient.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{
		Prefix: &listPrefix,
	})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			logResponse(s.accessLogger, "LIST", s.storageAccount, s.container, listPrefix, err)
			return err
		}
		for _, item := range resp.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			key := strings.TrimPrefix(*item.Name, listPrefix)
			if key == "" || strings.Contains(key, "/") {
				s.errorLogger.Printf("AZBLOB LIST %s: ignoring unexpected blob %s", s.container, *item.Name)
				continue
			}
			err = fn(key)
			if err != nil {
				return err
			}
		}
	}
	return nil
}
