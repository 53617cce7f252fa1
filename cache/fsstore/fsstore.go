// Package fsstore is a cache.BlobStore that keeps blobs in a local
// directory. It is meant for development and single host deployments.
//
// Each blob is a single file: a one line JSON header holding the user
// metadata, followed by the payload. New blobs are written to a temp file
// and renamed into place, so readers see either the old blob or the new
// one, and an interrupted upload leaves nothing behind.
package fsstore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kbase/caching-service/cache"
	"github.com/kbase/caching-service/utils/annotate"
	"github.com/kbase/caching-service/utils/tempfile"
)

const tmpDirName = "tmp"

var validKey = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

type header struct {
	Metadata map[string]string `json:"metadata"`
}

type fsStore struct {
	dir         string
	tmpDir      string
	tfc         *tempfile.Creator
	maxHeader   int
	errorLogger cache.Logger
}

// New returns a BlobStore rooted at dir, creating it if necessary.
// Leftover temp files from a previous run are removed.
func New(dir string, errorLogger cache.Logger) (cache.BlobStore, error) {
	dir = filepath.Clean(dir)
	tmpDir := filepath.Join(dir, tmpDirName)

	err := os.RemoveAll(tmpDir)
	if err != nil {
		return nil, err
	}
	err = os.MkdirAll(tmpDir, os.ModePerm)
	if err != nil {
		return nil, err
	}

	if errorLogger == nil {
		errorLogger = log.New(io.Discard, "", 0)
	}

	return &fsStore{
		dir:         dir,
		tmpDir:      tmpDir,
		tfc:         tempfile.NewCreator(),
		maxHeader:   64 * 1024,
		errorLogger: errorLogger,
	}, nil
}

func (s *fsStore) Describe() string {
	return "fs:" + s.dir
}

func (s *fsStore) blobPath(key string) (string, error) {
	if !validKey.MatchString(key) || key == tmpDirName {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	if len(key) < 2 {
		return filepath.Join(s.dir, "_", key), nil
	}
	return filepath.Join(s.dir, key[:2], key), nil
}

func (s *fsStore) Put(ctx context.Context, key string, r io.Reader, size int64, meta map[string]string) (err error) {
	blobPath, err := s.blobPath(key)
	if err != nil {
		return err
	}

	hdr, err := json.Marshal(header{Metadata: meta})
	if err != nil {
		return err
	}
	if len(hdr) >= s.maxHeader {
		return fmt.Errorf("metadata for %s is too large", key)
	}

	f, err := s.tfc.Create(filepath.Join(s.tmpDir, key))
	if err != nil {
		return annotate.Err(ctx, "PUT", key, err)
	}
	defer func() {
		if err != nil {
			tempfile.Discard(f)
		}
	}()

	w := bufio.NewWriter(f)
	_, err = w.Write(append(hdr, '\n'))
	if err != nil {
		return annotate.Err(ctx, "PUT", key, err)
	}

	n, err := io.Copy(w, contextReader{ctx: ctx, r: r})
	if err != nil {
		return annotate.Err(ctx, "PUT", key, err)
	}
	if size >= 0 && n != size {
		err = fmt.Errorf("sizes don't match. Expected %d, found %d", size, n)
		return annotate.Err(ctx, "PUT", key, err)
	}

	err = w.Flush()
	if err == nil {
		err = f.Sync()
	}
	if err == nil {
		err = f.Chmod(tempfile.FinalMode)
	}
	if err == nil {
		err = f.Close()
	}
	if err != nil {
		return annotate.Err(ctx, "PUT", key, err)
	}

	err = os.MkdirAll(filepath.Dir(blobPath), os.ModePerm)
	if err == nil {
		err = os.Rename(f.Name(), blobPath)
	}
	return annotate.Err(ctx, "PUT", key, err)
}

// open returns the blob file positioned at the start of the payload.
func (s *fsStore) open(ctx context.Context, op string, key string) (*os.File, *cache.ObjectInfo, error) {
	blobPath, err := s.blobPath(key)
	if err != nil {
		return nil, nil, cache.Errorf(cache.KindNotFound, "no such blob %q", key)
	}

	f, err := os.Open(blobPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, cache.Errorf(cache.KindNotFound, "no such blob %q", key)
		}
		return nil, nil, annotate.Err(ctx, op, key, err)
	}

	info, err := s.readHeader(f, key)
	if err != nil {
		f.Close()
		return nil, nil, annotate.Err(ctx, op, key, err)
	}
	return f, info, nil
}

func (s *fsStore) readHeader(f *os.File, key string) (*cache.ObjectInfo, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	br := bufio.NewReaderSize(io.LimitReader(f, int64(s.maxHeader)), 4096)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	var hdr header
	err = json.Unmarshal(line, &hdr)
	if err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}

	hdrLen := int64(len(line))
	_, err = f.Seek(hdrLen, io.SeekStart)
	if err != nil {
		return nil, err
	}

	return &cache.ObjectInfo{
		Key:          key,
		Size:         fi.Size() - hdrLen,
		LastModified: fi.ModTime(),
		Metadata:     hdr.Metadata,
	}, nil
}

func (s *fsStore) Get(ctx context.Context, key string) (io.ReadCloser, *cache.ObjectInfo, error) {
	f, info, err := s.open(ctx, "GET", key)
	if err != nil {
		return nil, nil, err
	}
	return f, info, nil
}

func (s *fsStore) Stat(ctx context.Context, key string) (*cache.ObjectInfo, error) {
	f, info, err := s.open(ctx, "STAT", key)
	if err != nil {
		return nil, err
	}
	f.Close()
	return info, nil
}

func (s *fsStore) Delete(ctx context.Context, key string) error {
	blobPath, err := s.blobPath(key)
	if err != nil {
		return cache.Errorf(cache.KindNotFound, "no such blob %q", key)
	}

	err = os.Remove(blobPath)
	if errors.Is(err, fs.ErrNotExist) {
		return cache.Errorf(cache.KindNotFound, "no such blob %q", key)
	}
	return annotate.Err(ctx, "DELETE", key, err)
}

func (s *fsStore) List(ctx context.Context, fn func(key string) error) error {
	return filepath.WalkDir(s.dir, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// Removed while walking.
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if d.IsDir() {
			if name == s.tmpDir {
				return filepath.SkipDir
			}
			return nil
		}

		key := d.Name()
		if !validKey.MatchString(key) || strings.HasPrefix(key, ".") {
			s.errorLogger.Printf("fsstore: ignoring unexpected file %s", name)
			return nil
		}
		return fn(key)
	})
}

// contextReader stops a copy once ctx is done, so an abandoned upload does
// not keep writing to disk.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
