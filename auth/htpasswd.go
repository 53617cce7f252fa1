package auth

import (
	"context"
	"fmt"
	"os"

	httpauth "github.com/abbot/go-http-auth"
)

// HtpasswdResolver checks Basic credentials against an htpasswd file.
// The file is re-read when it changes. Identities are "htpasswd:<user>".
type HtpasswdResolver struct {
	secrets httpauth.SecretProvider
	realm   string
}

// NewHtpasswdResolver returns a resolver for the htpasswd file at path.
func NewHtpasswdResolver(path string, realm string) (*HtpasswdResolver, error) {
	_, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("htpasswd file: %w", err)
	}
	return &HtpasswdResolver{
		secrets: httpauth.HtpasswdFileProvider(path),
		realm:   realm,
	}, nil
}

func (h *HtpasswdResolver) Resolve(ctx context.Context, credential string) (string, error) {
	user, password, ok := ParseBasic(credential)
	if !ok {
		return "", invalidCredential("Invalid credential")
	}

	secret := h.secrets(user, h.realm)
	if secret == "" || !httpauth.CheckSecret(password, secret) {
		return "", invalidCredential("Invalid username or password")
	}
	return "htpasswd:" + user, nil
}
