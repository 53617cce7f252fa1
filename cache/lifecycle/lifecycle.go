// Package lifecycle manages cache entries: reservation of identifiers,
// ownership checks, uploads, downloads, deletion and the expiration sweep.
//
// All durable state lives in the cache.BlobStore. The Manager keeps no
// mutable state of its own, so a single Manager can serve any number of
// concurrent requests. Authorization and the following mutation are two
// separate store operations; concurrent writes by the owner to the same
// entry resolve last-write-wins in the store.
package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/kbase/caching-service/cache"
	"github.com/kbase/caching-service/cache/cacheid"
	"github.com/kbase/caching-service/metric"
	"github.com/kbase/caching-service/utils/annotate"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultPlaceholderTTL   = 7 * 24 * time.Hour
	DefaultStoredTTL        = 30 * 24 * time.Hour
	DefaultSweepConcurrency = 10
)

// Manager implements the cache entry lifecycle on top of a BlobStore.
type Manager struct {
	store            cache.BlobStore
	now              func() time.Time
	placeholderTTL   time.Duration
	storedTTL        time.Duration
	sweepConcurrency int
	errorLogger      cache.Logger

	sweepRemoved metric.Counter
	sweepCorrupt metric.Counter
	sweepEntries metric.Gauge
	sweepLastRun metric.Gauge
}

type discardLogger struct{}

func (discardLogger) Printf(string, ...interface{}) {}

// New returns a Manager that keeps entries in store.
func New(store cache.BlobStore, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("lifecycle: a BlobStore is required")
	}

	m := &Manager{
		store:            store,
		now:              time.Now,
		placeholderTTL:   DefaultPlaceholderTTL,
		storedTTL:        DefaultStoredTTL,
		sweepConcurrency: DefaultSweepConcurrency,
		errorLogger:      discardLogger{},
		sweepRemoved:     metric.NoOpCounter(),
		sweepCorrupt:     metric.NoOpCounter(),
		sweepEntries:     metric.NoOpGauge(),
		sweepLastRun:     metric.NoOpGauge(),
	}

	for _, o := range opts {
		err := o(m)
		if err != nil {
			return nil, err
		}
	}

	return m, nil
}

// BlobStore returns the BlobStore that the Manager was created with.
func (m *Manager) BlobStore() cache.BlobStore {
	return m.store
}

// Reserve derives the cache identifier for identity and params, and makes
// sure an entry exists for it. A new entry starts out as a placeholder. If
// the entry already exists and belongs to identity, its metadata is
// returned unchanged.
func (m *Manager) Reserve(ctx context.Context, identity string, params interface{}) (string, Metadata, error) {
	id, err := cacheid.Generate(identity, params)
	if err != nil {
		return "", Metadata{}, err
	}
	md, err := m.reserve(ctx, id, identity)
	return id, md, err
}

// ReserveJSON is like Reserve, for parameters given as raw JSON text.
func (m *Manager) ReserveJSON(ctx context.Context, identity string, params []byte) (string, Metadata, error) {
	id, err := cacheid.GenerateFromJSON(identity, params)
	if err != nil {
		return "", Metadata{}, err
	}
	md, err := m.reserve(ctx, id, identity)
	return id, md, err
}

func (m *Manager) reserve(ctx context.Context, id string, identity string) (Metadata, error) {
	md, err := m.Authorize(ctx, id, identity)
	switch {
	case err == nil:
		return md, nil
	case errors.Is(err, cache.ErrCorrupt):
		// Unreadable metadata has no owner. Start over with a fresh
		// placeholder.
		m.errorLogger.Printf("RESERVE %s: replacing corrupt entry: %v", id, err)
	case !errors.Is(err, cache.ErrNotFound):
		return Metadata{}, err
	}

	md = Metadata{
		Filename:   PlaceholderFilename,
		Expiration: m.now().Add(m.placeholderTTL).Unix(),
		Owner:      identity,
	}
	err = m.store.Put(ctx, id, bytes.NewReader(nil), 0, md.toMap())
	if err != nil {
		return Metadata{}, cache.Wrap(cache.KindUnexpected, "failed to create placeholder", annotate.Err(ctx, "PUT", id, err))
	}
	return md, nil
}

// Authorize checks that an entry exists for id and that identity owns it.
// It returns the entry's metadata.
func (m *Manager) Authorize(ctx context.Context, id string, identity string) (Metadata, error) {
	if cacheid.Validate(id) != nil {
		return Metadata{}, cache.Errorf(cache.KindNotFound, "Cache ID not found")
	}

	md, err := getMetadata(ctx, m.store, id)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return Metadata{}, cache.Errorf(cache.KindNotFound, "Cache ID not found")
		}
		return Metadata{}, err
	}

	if identity == "" || md.Owner != identity {
		return Metadata{}, cache.Errorf(cache.KindUnauthorized, "You do not have access to that cache")
	}
	return md, nil
}

// Store uploads the payload read from r for the entry id, replacing any
// previous payload and resetting the expiration. size is the payload
// length, or -1 if unknown. The entry must have been reserved by identity.
func (m *Manager) Store(ctx context.Context, id string, identity string, r io.Reader, size int64, filename string) (Metadata, error) {
	if filename == "" {
		return Metadata{}, cache.Errorf(cache.KindMalformedRequest, "Filename missing")
	}
	safe := sanitizeFilename(filename)
	if safe == "" {
		return Metadata{}, cache.Errorf(cache.KindMalformedRequest, "Invalid filename %q", filename)
	}

	_, err := m.Authorize(ctx, id, identity)
	if err != nil {
		return Metadata{}, err
	}

	md := Metadata{
		Filename:   safe,
		Expiration: m.now().Add(m.storedTTL).Unix(),
		Owner:      identity,
	}
	err = m.store.Put(ctx, id, r, size, md.toMap())
	if err != nil {
		return Metadata{}, cache.Wrap(cache.KindUnexpected, "failed to upload cache file", annotate.Err(ctx, "PUT", id, err))
	}
	return md, nil
}

// Download is a fetched cache payload. Body must be closed by the caller.
type Download struct {
	Filename string
	Size     int64
	Metadata Metadata
	Body     io.ReadCloser
}

// Fetch returns the payload of entry id. Entries that are still
// placeholders are reported as not found.
func (m *Manager) Fetch(ctx context.Context, id string, identity string) (*Download, error) {
	md, err := m.Authorize(ctx, id, identity)
	if err != nil {
		return nil, err
	}
	if md.IsPlaceholder() {
		return nil, cache.Errorf(cache.KindNotFound, "Cache ID not found")
	}

	rc, info, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, cache.Errorf(cache.KindNotFound, "Cache ID not found")
		}
		return nil, cache.Wrap(cache.KindUnexpected, "failed to download cache file", annotate.Err(ctx, "GET", id, err))
	}

	// Describe the object we are actually streaming, which may be newer
	// than the one we authorized against.
	if current, perr := parseMetadata(id, info.Metadata); perr == nil {
		if current.Owner != identity {
			rc.Close()
			return nil, cache.Errorf(cache.KindUnauthorized, "You do not have access to that cache")
		}
		if current.IsPlaceholder() {
			rc.Close()
			return nil, cache.Errorf(cache.KindNotFound, "Cache ID not found")
		}
		md = current
	}

	return &Download{
		Filename: md.Filename,
		Size:     info.Size,
		Metadata: md,
		Body:     rc,
	}, nil
}

// Delete removes entry id, payload and metadata. Deleting an entry that no
// longer exists fails with a not found error.
func (m *Manager) Delete(ctx context.Context, id string, identity string) error {
	_, err := m.Authorize(ctx, id, identity)
	if err != nil {
		return err
	}

	err = m.store.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return cache.Errorf(cache.KindNotFound, "Cache ID not found")
		}
		return cache.Wrap(cache.KindUnexpected, "failed to delete cache file", annotate.Err(ctx, "DELETE", id, err))
	}
	return nil
}

// SweepExpired removes every entry whose expiration has passed, and every
// entry whose metadata cannot be read. It returns the number of entries
// removed and the number examined.
//
// The sweep works on a live listing rather than a snapshot. An upload that
// races with the sweep on the same entry may be removed if the entry was
// already expired when the sweep read it.
func (m *Manager) SweepExpired(ctx context.Context) (removed int, total int, err error) {
	now := m.now().Unix()

	var removedCount, totalCount, corruptCount int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.sweepConcurrency)

	listErr := m.store.List(gctx, func(key string) error {
		atomic.AddInt64(&totalCount, 1)

		g.Go(func() error {
			md, err := getMetadata(gctx, m.store, key)
			switch {
			case errors.Is(err, cache.ErrNotFound):
				// Deleted since it was listed.
				return nil
			case errors.Is(err, cache.ErrCorrupt):
				m.errorLogger.Printf("SWEEP %s: removing corrupt entry: %v", key, err)
				atomic.AddInt64(&corruptCount, 1)
			case err != nil:
				m.errorLogger.Printf("SWEEP %s: failed to read metadata: %v", key, err)
				return nil
			case !md.Expired(now):
				return nil
			}

			err = m.store.Delete(gctx, key)
			if err != nil && !errors.Is(err, cache.ErrNotFound) {
				m.errorLogger.Printf("SWEEP %s: failed to remove: %v", key, err)
				return nil
			}
			atomic.AddInt64(&removedCount, 1)
			return nil
		})

		return gctx.Err()
	})

	// The workers never fail, so Wait only reports cancellation.
	waitErr := g.Wait()

	removed = int(atomic.LoadInt64(&removedCount))
	total = int(atomic.LoadInt64(&totalCount))

	m.sweepRemoved.Add(float64(removed))
	m.sweepCorrupt.Add(float64(atomic.LoadInt64(&corruptCount)))
	m.sweepEntries.Set(float64(total - removed))
	m.sweepLastRun.Set(float64(m.now().Unix()))

	if listErr != nil {
		return removed, total, cache.Wrap(cache.KindUnexpected, "failed to list cache entries", listErr)
	}
	if waitErr != nil {
		return removed, total, waitErr
	}
	if ctx.Err() != nil {
		return removed, total, ctx.Err()
	}
	return removed, total, nil
}
