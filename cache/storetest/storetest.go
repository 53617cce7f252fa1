// Package storetest holds the behavioral tests that every cache.BlobStore
// implementation must pass. Implementation specific tests live next to
// each implementation.
package storetest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/kbase/caching-service/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a new, empty BlobStore.
type Factory func(t *testing.T) cache.BlobStore

// Run runs the full conformance suite against stores made by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("PutGet", func(t *testing.T) { testPutGet(t, newStore(t)) })
	t.Run("EmptyBlob", func(t *testing.T) { testEmptyBlob(t, newStore(t)) })
	t.Run("Replace", func(t *testing.T) { testReplace(t, newStore(t)) })
	t.Run("Missing", func(t *testing.T) { testMissing(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("List", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("FailedPutKeepsOld", func(t *testing.T) { testFailedPutKeepsOld(t, newStore(t)) })
	t.Run("Concurrent", func(t *testing.T) { testConcurrent(t, newStore(t)) })
}

// Lookup returns the value of metadata key k, ignoring case.
func Lookup(meta map[string]string, k string) string {
	for mk, v := range meta {
		if strings.EqualFold(mk, k) {
			return v
		}
	}
	return ""
}

func put(t *testing.T, s cache.BlobStore, key string, data []byte, meta map[string]string) {
	t.Helper()
	err := s.Put(context.Background(), key, bytes.NewReader(data), int64(len(data)), meta)
	require.NoError(t, err)
}

func get(t *testing.T, s cache.BlobStore, key string) ([]byte, *cache.ObjectInfo) {
	t.Helper()
	rc, info, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data, info
}

const key1 = "0a1b2c3d"

func testPutGet(t *testing.T, s cache.BlobStore) {
	meta := map[string]string{"filename": "test.json", "expiration": "1700000000", "owner_identity": "u1"}
	put(t, s, key1, []byte(`{"hallo":"welt"}`), meta)

	data, info := get(t, s, key1)
	assert.Equal(t, `{"hallo":"welt"}`, string(data))
	assert.Equal(t, int64(len(data)), info.Size)
	assert.Equal(t, "test.json", Lookup(info.Metadata, "filename"))
	assert.Equal(t, "1700000000", Lookup(info.Metadata, "expiration"))
	assert.Equal(t, "u1", Lookup(info.Metadata, "owner_identity"))

	info, err := s.Stat(context.Background(), key1)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), info.Size)
	assert.Equal(t, "u1", Lookup(info.Metadata, "owner_identity"))
}

func testEmptyBlob(t *testing.T, s cache.BlobStore) {
	put(t, s, key1, nil, map[string]string{"filename": "placeholder"})

	data, info := get(t, s, key1)
	assert.Empty(t, data)
	assert.Equal(t, int64(0), info.Size)
	assert.Equal(t, "placeholder", Lookup(info.Metadata, "filename"))
}

func testReplace(t *testing.T, s cache.BlobStore) {
	put(t, s, key1, nil, map[string]string{"filename": "placeholder", "expiration": "1"})
	put(t, s, key1, []byte("payload"), map[string]string{"filename": "a.bin", "expiration": "2"})

	data, info := get(t, s, key1)
	assert.Equal(t, "payload", string(data))
	assert.Equal(t, "a.bin", Lookup(info.Metadata, "filename"))
	assert.Equal(t, "2", Lookup(info.Metadata, "expiration"))
}

func testMissing(t *testing.T, s cache.BlobStore) {
	ctx := context.Background()

	_, _, err := s.Get(ctx, "ffffffff")
	assert.True(t, errors.Is(err, cache.ErrNotFound), "Get: %v", err)

	_, err = s.Stat(ctx, "ffffffff")
	assert.True(t, errors.Is(err, cache.ErrNotFound), "Stat: %v", err)
}

func testDelete(t *testing.T, s cache.BlobStore) {
	ctx := context.Background()
	put(t, s, key1, []byte("x"), map[string]string{"filename": "x"})

	require.NoError(t, s.Delete(ctx, key1))

	_, err := s.Stat(ctx, key1)
	assert.True(t, errors.Is(err, cache.ErrNotFound), "Stat after delete: %v", err)

	_, _, err = s.Get(ctx, key1)
	assert.True(t, errors.Is(err, cache.ErrNotFound), "Get after delete: %v", err)
}

func testList(t *testing.T, s cache.BlobStore) {
	ctx := context.Background()
	keys := []string{"aa01", "aa02", "bb01", "c"}
	for _, k := range keys {
		put(t, s, k, []byte(k), map[string]string{"filename": k})
	}

	var mu sync.Mutex
	var found []string
	err := s.List(ctx, func(key string) error {
		mu.Lock()
		found = append(found, key)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	sort.Strings(found)
	assert.Equal(t, keys, found)

	stop := errors.New("stop")
	calls := 0
	err = s.List(ctx, func(key string) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

type failingReader struct {
	n int
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.n <= 0 {
		return 0, io.ErrUnexpectedEOF
	}
	n := len(p)
	if n > r.n {
		n = r.n
	}
	for i := 0; i < n; i++ {
		p[i] = 'z'
	}
	r.n -= n
	return n, nil
}

func testFailedPutKeepsOld(t *testing.T, s cache.BlobStore) {
	put(t, s, key1, []byte("old"), map[string]string{"filename": "old.txt"})

	err := s.Put(context.Background(), key1, &failingReader{n: 10}, 100, map[string]string{"filename": "new.txt"})
	require.Error(t, err)

	data, info := get(t, s, key1)
	assert.Equal(t, "old", string(data))
	assert.Equal(t, "old.txt", Lookup(info.Metadata, "filename"))
}

func testConcurrent(t *testing.T, s cache.BlobStore) {
	keys := []string{"ab01", "ab02", "ab03", "ab04", "ab05", "ab06", "ab07", "ab08"}

	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			data := []byte(strings.Repeat(k, 100))
			err := s.Put(context.Background(), k, bytes.NewReader(data), int64(len(data)), map[string]string{"filename": k})
			assert.NoError(t, err)
		}(k)
	}
	wg.Wait()

	for _, k := range keys {
		data, info := get(t, s, k)
		assert.Equal(t, strings.Repeat(k, 100), string(data))
		assert.Equal(t, k, Lookup(info.Metadata, "filename"))
	}
}
