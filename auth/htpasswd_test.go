package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func writeHtpasswd(t *testing.T, users map[string]string) string {
	t.Helper()
	content := ""
	for user, password := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		require.NoError(t, err)
		content += user + ":" + string(hash) + "\n"
	}
	path := filepath.Join(t.TempDir(), ".htpasswd")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestHtpasswdResolver(t *testing.T) {
	path := writeHtpasswd(t, map[string]string{"alice": "secret", "bob": "hunter2"})
	h, err := NewHtpasswdResolver(path, "caching-service")
	require.NoError(t, err)
	ctx := context.Background()

	id, err := h.Resolve(ctx, basic("alice", "secret"))
	require.NoError(t, err)
	assert.Equal(t, "htpasswd:alice", id)

	id, err = h.Resolve(ctx, basic("bob", "hunter2"))
	require.NoError(t, err)
	assert.Equal(t, "htpasswd:bob", id)

	for _, cred := range []string{basic("alice", "wrong"), basic("carol", "secret"), "secret", "Bearer x"} {
		_, err = h.Resolve(ctx, cred)
		assert.True(t, errors.Is(err, ErrInvalidCredential), cred)
	}
}

func TestHtpasswdMissingFile(t *testing.T) {
	_, err := NewHtpasswdResolver(filepath.Join(t.TempDir(), "nope"), "r")
	assert.Error(t, err)
}
