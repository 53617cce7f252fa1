package azblobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/kbase/caching-service/cache"
	"github.com/kbase/caching-service/cache/storetest"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = log.New(io.Discard, "", 0)

// Well known Azurite development credentials.
const (
	azuriteAccount = "devstoreaccount1"
	azuriteKey     = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTBtr/KBHBeksoGMGw=="
)

// Set AZURITE_BLOB_URL, e.g. http://127.0.0.1:10000/devstoreaccount1/,
// to run the conformance tests against an Azurite instance.
func TestConformanceAzurite(t *testing.T) {
	url := os.Getenv("AZURITE_BLOB_URL")
	if url == "" {
		t.Skip("AZURITE_BLOB_URL is not set")
	}

	storetest.Run(t, func(t *testing.T) cache.BlobStore {
		s, err := New(Options{
			StorageAccount: azuriteAccount,
			ContainerName:  "test-" + uuid.New().String(),
			ServiceURL:     url,
			SharedKey:      azuriteKey,
		}, discard, discard)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		require.NoError(t, s.WaitReady(ctx, 100*time.Millisecond))
		require.NoError(t, s.EnsureContainer(ctx))
		return s
	})
}

func TestNewValidation(t *testing.T) {
	_, err := New(Options{ContainerName: "c", SharedKey: azuriteKey}, discard, discard)
	assert.Error(t, err)

	_, err = New(Options{StorageAccount: "a", SharedKey: azuriteKey}, discard, discard)
	assert.Error(t, err)

	_, err = New(Options{StorageAccount: "a", ContainerName: "c"}, discard, discard)
	assert.Error(t, err)

	s, err := New(Options{StorageAccount: "a", ContainerName: "c", Prefix: "/p/", SharedKey: azuriteKey}, discard, discard)
	require.NoError(t, err)
	assert.Equal(t, "azblob://a/c/p", cache.Describe(s))
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "1234", objectKey("", "1234"))
	assert.Equal(t, "foo/bar/1234", objectKey("foo/bar", "1234"))
}

func TestTranslate(t *testing.T) {
	assert.NoError(t, translate("k", nil))

	err := translate("k", &azcore.ResponseError{StatusCode: http.StatusNotFound})
	assert.True(t, errors.Is(err, cache.ErrNotFound))

	err = translate("k", &azcore.ResponseError{StatusCode: http.StatusNotFound, ErrorCode: "BlobNotFound"})
	assert.True(t, errors.Is(err, cache.ErrNotFound))

	other := &azcore.ResponseError{StatusCode: http.StatusForbidden, ErrorCode: "AuthorizationFailure"}
	err = translate("k", other)
	assert.False(t, errors.Is(err, cache.ErrNotFound))
	assert.Equal(t, error(other), err)
}

func TestSizeCheckReader(t *testing.T) {
	data, err := io.ReadAll(&sizeCheckReader{r: bytes.NewReader([]byte("abc")), expected: 3})
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	_, err = io.ReadAll(&sizeCheckReader{r: bytes.NewReader([]byte("abc")), expected: 5})
	assert.Error(t, err)

	_, err = io.ReadAll(&sizeCheckReader{r: bytes.NewReader([]byte("abc")), expected: -1})
	assert.NoError(t, err)
}

func TestMetadataConversion(t *testing.T) {
	in := map[string]string{"filename": "a.txt", "owner_identity": "u1"}
	assert.Equal(t, in, fromAzMetadata(toAzMetadata(in)))
}

func TestAuthMethods(t *testing.T) {
	for _, m := range GetAuthMethods() {
		assert.True(t, IsValidAuthMethod(m))
	}
	assert.False(t, IsValidAuthMethod("password"))
}
