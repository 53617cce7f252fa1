package testutils

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/kbase/caching-service/cache"
)

// RandomData returns a random blob of the specified size.
func RandomData(size int64) []byte {
	data := make([]byte, size)

	for i := 0; i < 3; i++ {
		// This is not expected to fail, but hopefully it convinces
		// linters that we checked for errors.
		_, err := rand.Read(data)
		if err == nil {
			break
		}
	}

	return data
}

// NewSilentLogger returns a cheap logger that doesn't print anything, useful
// for tests.
func NewSilentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// StaticResolver maps "Bearer <token>" credentials to fixed identities.
type StaticResolver map[string]string

func (s StaticResolver) Resolve(_ context.Context, credential string) (string, error) {
	token := strings.TrimPrefix(credential, "Bearer ")
	identity, ok := s[token]
	if !ok {
		return "", cache.Errorf(cache.KindInvalidCredential, "Invalid token")
	}
	return identity, nil
}

// AssertFailureWithKind asserts that err is a *cache.Error of the expected kind.
func AssertFailureWithKind(t *testing.T, err error, expected cache.ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected failure, but got no error.")
	}
	var cerr *cache.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("Expected error of type *cache.Error, got %T", err)
	}
	if cerr.Kind != expected {
		t.Fatalf("Error kind mismatch: expected %s, got %s (%v)", expected, cerr.Kind, err)
	}
}
