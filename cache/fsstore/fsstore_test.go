package fsstore

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kbase/caching-service/cache"
	"github.com/kbase/caching-service/cache/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) cache.BlobStore {
		s, err := New(t.TempDir(), nil)
		require.NoError(t, err)
		return s
	})
}

func TestNewRemovesTempFiles(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, tmpDirName, "abc-123456789")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), os.ModePerm))
	require.NoError(t, os.WriteFile(stale, []byte("partial"), 0600))

	_, err := New(dir, nil)
	require.NoError(t, err)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}

func TestBlobsSurviveRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := New(dir, nil)
	require.NoError(t, err)
	data := []byte("some data")
	require.NoError(t, s.Put(ctx, "abcdef", bytes.NewReader(data), int64(len(data)), map[string]string{"filename": "f"}))

	s, err = New(dir, nil)
	require.NoError(t, err)
	info, err := s.Stat(ctx, "abcdef")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), info.Size)
	assert.Equal(t, "f", info.Metadata["filename"])
}

func TestSizeMismatch(t *testing.T) {
	s, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	err = s.Put(context.Background(), "abcdef", bytes.NewReader([]byte("123")), 5, nil)
	require.Error(t, err)

	_, err = s.Stat(context.Background(), "abcdef")
	assert.True(t, errors.Is(err, cache.ErrNotFound))
}

func TestInvalidKeys(t *testing.T) {
	s, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"", "../escape", "a/b", ".hidden", tmpDirName} {
		err = s.Put(ctx, key, bytes.NewReader(nil), 0, nil)
		assert.Error(t, err, key)

		_, err = s.Stat(ctx, key)
		assert.True(t, errors.Is(err, cache.ErrNotFound), key)
	}
}

func TestCorruptHeader(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	require.NoError(t, err)

	p := filepath.Join(dir, "ab", "abcdef")
	require.NoError(t, os.MkdirAll(filepath.Dir(p), os.ModePerm))
	require.NoError(t, os.WriteFile(p, []byte("not json\npayload"), 0664))

	_, err = s.Stat(context.Background(), "abcdef")
	require.Error(t, err)
	assert.False(t, errors.Is(err, cache.ErrNotFound))
}

func TestListSkipsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "abcdef", bytes.NewReader(nil), 0, nil))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ab", ".DS_Store"), nil, 0664))
	tf, err := os.Create(filepath.Join(dir, tmpDirName, "abc-1"))
	require.NoError(t, err)
	tf.Close()

	var keys []string
	require.NoError(t, s.List(ctx, func(key string) error {
		keys = append(keys, key)
		return nil
	}))
	assert.Equal(t, []string{"abcdef"}, keys)
}

func TestDescribe(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, "fs:"+filepath.Clean(dir), cache.Describe(s))
}
