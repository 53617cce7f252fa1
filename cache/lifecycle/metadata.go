package lifecycle

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/kbase/caching-service/cache"
	"github.com/kbase/caching-service/utils/annotate"
)

// Keys of the user metadata attached to every cache blob.
const (
	MetaFilename   = "filename"
	MetaExpiration = "expiration"
	MetaOwner      = "owner_identity"
)

// PlaceholderFilename marks an entry that has been reserved but has no
// uploaded payload yet.
const PlaceholderFilename = "placeholder"

// Metadata is the ownership and expiration record of a cache entry.
type Metadata struct {
	Filename   string `json:"filename"`
	Expiration int64  `json:"expiration"`
	Owner      string `json:"owner_identity"`
}

// IsPlaceholder reports whether the entry has no uploaded payload.
func (m Metadata) IsPlaceholder() bool {
	return m.Filename == "" || m.Filename == PlaceholderFilename
}

// Expired reports whether the entry may be reclaimed at unix time now.
func (m Metadata) Expired(now int64) bool {
	return now > m.Expiration
}

// toMap returns the blob user metadata representation of m.
func (m Metadata) toMap() map[string]string {
	return map[string]string{
		MetaFilename:   m.Filename,
		MetaExpiration: strconv.FormatInt(m.Expiration, 10),
		MetaOwner:      m.Owner,
	}
}

// parseMetadata reads a Metadata from blob user metadata. Backends are free
// to change the case of metadata keys (S3 canonicalizes them as HTTP
// headers), so lookups ignore case.
func parseMetadata(key string, raw map[string]string) (Metadata, error) {
	var m Metadata
	var expiration, owner string
	var haveExpiration, haveOwner bool

	for k, v := range raw {
		switch strings.ToLower(k) {
		case MetaFilename:
			m.Filename = v
		case MetaExpiration:
			expiration, haveExpiration = v, true
		case MetaOwner:
			owner, haveOwner = v, true
		}
	}

	if !haveExpiration {
		return m, cache.Errorf(cache.KindCorrupt, "cache entry %s has no expiration", key)
	}
	exp, err := strconv.ParseInt(strings.TrimSpace(expiration), 10, 64)
	if err != nil {
		return m, cache.Errorf(cache.KindCorrupt, "cache entry %s has a malformed expiration %q", key, expiration)
	}
	m.Expiration = exp

	if !haveOwner || owner == "" {
		return m, cache.Errorf(cache.KindCorrupt, "cache entry %s has no owner", key)
	}
	m.Owner = owner

	return m, nil
}

// getMetadata returns the metadata stored for id, or an error matching
// cache.ErrNotFound when there is no entry.
func getMetadata(ctx context.Context, store cache.BlobStore, id string) (Metadata, error) {
	info, err := store.Stat(ctx, id)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return Metadata{}, err
		}
		return Metadata{}, cache.Wrap(cache.KindUnexpected, "failed to read cache metadata", annotate.Err(ctx, "STAT", id, err))
	}
	return parseMetadata(id, info.Metadata)
}
