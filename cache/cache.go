package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrorKind classifies failures so that callers can react to expected
// outcomes (not found, wrong owner) without string matching.
type ErrorKind int

const (
	// KindUnexpected is any failure from the backing store or from
	// serialization that the caller could not have prevented.
	KindUnexpected ErrorKind = iota
	// KindInvalidInput means the identifier generation inputs were malformed.
	KindInvalidInput
	// KindMalformedRequest means the request itself was unusable: bad
	// content type, missing header, unparsable JSON, missing upload field.
	KindMalformedRequest
	// KindInvalidCredential means the credential could not be resolved to
	// an identity.
	KindInvalidCredential
	// KindUnauthorized means the identity does not own the entry.
	KindUnauthorized
	// KindNotFound means no entry exists, or it is still a placeholder.
	KindNotFound
	// KindCorrupt means stored metadata is missing required fields.
	KindCorrupt
	// KindTooBig means an upload exceeded the configured size limit.
	KindTooBig
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid input"
	case KindMalformedRequest:
		return "malformed request"
	case KindInvalidCredential:
		return "invalid credential"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not found"
	case KindCorrupt:
		return "corrupt"
	case KindTooBig:
		return "too big"
	}
	return "unexpected"
}

// Error is the error type returned by the cache packages. Kind determines
// the HTTP status that the server reports; Text is safe to show to clients.
type Error struct {
	Kind ErrorKind
	Text string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Text == "" {
			return e.Err.Error()
		}
		return e.Text + ": " + e.Err.Error()
	}
	if e.Text == "" {
		return e.Kind.String()
	}
	return e.Text
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind, which lets
// callers write errors.Is(err, cache.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Text == "" && t.Err == nil && t.Kind == e.Kind
}

// HTTPStatus maps the error kind to the status code of the HTTP surface.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidInput, KindMalformedRequest:
		return http.StatusBadRequest
	case KindInvalidCredential, KindUnauthorized:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindTooBig:
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidInput      = &Error{Kind: KindInvalidInput}
	ErrMalformedRequest  = &Error{Kind: KindMalformedRequest}
	ErrInvalidCredential = &Error{Kind: KindInvalidCredential}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrCorrupt           = &Error{Kind: KindCorrupt}
	ErrTooBig            = &Error{Kind: KindTooBig}
)

// Errorf returns an *Error of the given kind with a formatted message.
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Text: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error of the given kind wrapping err. If err already
// is an *Error it is returned unchanged.
func Wrap(kind ErrorKind, text string, err error) error {
	if err == nil {
		return nil
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return err
	}
	return &Error{Kind: kind, Text: text, Err: err}
}

// KindOf returns the kind of err, or KindUnexpected if err is not an *Error.
func KindOf(err error) ErrorKind {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Kind
	}
	return KindUnexpected
}

// StatusOf returns the HTTP status for err, or 500 if err is not an *Error.
func StatusOf(err error) int {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// Logger is designed to be satisfied by log.Logger and logrus loggers.
type Logger interface {
	Printf(format string, v ...interface{})
}

// ObjectInfo describes a stored blob.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	// Metadata holds the user metadata attached to the blob. Backends may
	// change the case of the keys.
	Metadata map[string]string
}

// BlobStore is the capability the lifecycle manager needs from a backing
// store. Implementations must be safe for concurrent use, and must make a
// Put visible to subsequent Get/Stat calls on the same key. A missing key is
// reported as an error matching ErrNotFound.
type BlobStore interface {
	// Put stores `size` bytes from `r` under `key` together with `meta`,
	// replacing any existing blob and metadata. A negative size means the
	// length is unknown. If the write fails part way through, the previous
	// state must remain visible.
	Put(ctx context.Context, key string, r io.Reader, size int64, meta map[string]string) error

	// Get returns a stream of the blob's contents, which must be closed by
	// the caller, along with its info.
	Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)

	// Stat returns the blob's info without its contents.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)

	// Delete removes the blob and its metadata.
	Delete(ctx context.Context, key string) error

	// List calls fn for every key in the store, in no particular order,
	// stopping at the first error returned by fn.
	List(ctx context.Context, fn func(key string) error) error
}

// Describer is optionally implemented by BlobStores that can name their
// backend, for logs and the status page.
type Describer interface {
	Describe() string
}

// Describe returns a human readable name for store.
func Describe(store BlobStore) string {
	if d, ok := store.(Describer); ok {
		return d.Describe()
	}
	return fmt.Sprintf("%T", store)
}
