package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return "Bearer " + s
}

func TestJWTResolver(t *testing.T) {
	j, err := NewJWTResolver(testSecret, "kbase")
	require.NoError(t, err)
	ctx := context.Background()

	future := jwt.NewNumericDate(time.Now().Add(time.Hour))
	past := jwt.NewNumericDate(time.Now().Add(-time.Hour))

	cred := signToken(t, jwt.SigningMethodHS256, testSecret, jwt.RegisteredClaims{
		Issuer: "kbase", Subject: "alice", ExpiresAt: future,
	})
	id, err := j.Resolve(ctx, cred)
	require.NoError(t, err)
	assert.Equal(t, "jwt:kbase:alice", id)

	rejected := map[string]string{
		"expired": signToken(t, jwt.SigningMethodHS256, testSecret, jwt.RegisteredClaims{
			Issuer: "kbase", Subject: "alice", ExpiresAt: past,
		}),
		"no expiry": signToken(t, jwt.SigningMethodHS256, testSecret, jwt.RegisteredClaims{
			Issuer: "kbase", Subject: "alice",
		}),
		"wrong issuer": signToken(t, jwt.SigningMethodHS256, testSecret, jwt.RegisteredClaims{
			Issuer: "other", Subject: "alice", ExpiresAt: future,
		}),
		"wrong key": signToken(t, jwt.SigningMethodHS256, []byte("another secret of enough length!"), jwt.RegisteredClaims{
			Issuer: "kbase", Subject: "alice", ExpiresAt: future,
		}),
		"no subject": signToken(t, jwt.SigningMethodHS256, testSecret, jwt.RegisteredClaims{
			Issuer: "kbase", ExpiresAt: future,
		}),
		"unsigned": "Bearer " + mustNone(t, jwt.RegisteredClaims{Issuer: "kbase", Subject: "alice", ExpiresAt: future}),
		"no scheme": "abc.def.ghi",
		"garbage":   "Bearer abc",
	}
	for name, cred := range rejected {
		_, err = j.Resolve(ctx, cred)
		assert.True(t, errors.Is(err, ErrInvalidCredential), name)
	}
}

func mustNone(t *testing.T, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	return s
}

func TestJWTResolverAnyIssuer(t *testing.T) {
	j, err := NewJWTResolver(testSecret, "")
	require.NoError(t, err)

	cred := signToken(t, jwt.SigningMethodHS512, testSecret, jwt.RegisteredClaims{
		Issuer: "elsewhere", Subject: "bob", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	id, err := j.Resolve(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, "jwt:elsewhere:bob", id)
}

func TestNewJWTResolverRequiresSecret(t *testing.T) {
	_, err := NewJWTResolver(nil, "")
	assert.Error(t, err)
}
