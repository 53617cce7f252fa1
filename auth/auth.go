// Package auth turns the credential in a request's Authorization header
// into the owner identity string that cache entries are bound to.
package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/kbase/caching-service/cache"
)

// ErrInvalidCredential is matched by every credential rejection.
var ErrInvalidCredential = cache.ErrInvalidCredential

// Resolver maps a raw credential to a canonical identity. Rejected
// credentials produce an error matching ErrInvalidCredential; any other
// error means the resolver itself failed.
type Resolver interface {
	Resolve(ctx context.Context, credential string) (string, error)
}

func invalidCredential(format string, args ...interface{}) error {
	return cache.Errorf(cache.KindInvalidCredential, format, args...)
}

// Chain tries each resolver in order and returns the first identity
// found. Resolvers that reject the credential are skipped; other failures
// stop the chain.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, credential string) (string, error) {
	lastErr := invalidCredential("Invalid credential")
	for _, r := range c {
		id, err := r.Resolve(ctx, credential)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrInvalidCredential) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

// ParseBasic returns the user and password of a "Basic" credential.
func ParseBasic(credential string) (user string, password string, ok bool) {
	const prefix = "Basic "
	if len(credential) < len(prefix) || !strings.EqualFold(credential[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(credential[len(prefix):]))
	if err != nil {
		return "", "", false
	}
	user, password, ok = strings.Cut(string(decoded), ":")
	if !ok || user == "" {
		return "", "", false
	}
	return user, password, true
}

// parseBearer returns the token of a "Bearer" credential.
func parseBearer(credential string) (string, bool) {
	const prefix = "Bearer "
	if len(credential) < len(prefix) || !strings.EqualFold(credential[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(credential[len(prefix):])
	return token, token != ""
}

type contextKey int

const identityKey contextKey = iota

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFrom returns the identity stored by WithIdentity.
func IdentityFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(identityKey).(string)
	return id, ok && id != ""
}

// ErrorHandler writes the response for a request that could not be
// authenticated.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Middleware resolves the Authorization header of every request with
// resolver and stores the identity in the request context.
func Middleware(resolver Resolver, onError ErrorHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential := strings.TrimSpace(r.Header.Get("Authorization"))
			if credential == "" {
				onError(w, r, cache.Errorf(cache.KindMalformedRequest, "Missing header: Authorization"))
				return
			}

			identity, err := resolver.Resolve(r.Context(), credential)
			if err != nil {
				onError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}
