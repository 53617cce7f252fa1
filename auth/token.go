package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kbase/caching-service/cache"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

// DefaultTokenCacheTime is how long a validated token is remembered.
const DefaultTokenCacheTime = 5 * time.Minute

const tokenPath = "/api/V2/token"

// tokenLookupTimeout bounds a single request to the token service.
const tokenLookupTimeout = 30 * time.Second

// TokenResolver validates tokens against a remote token service, which
// answers GET <url>/api/V2/token with the token's owner and name. The
// identity is "<realm>:<user>:<token name>", with the service host as
// realm, so a user's tokens never share cache entries.
type TokenResolver struct {
	endpoint string
	realm    string
	client   *http.Client
	cache    *ttlcache.Cache[string, string]
	group    singleflight.Group
}

type tokenInfo struct {
	User string `json:"user"`
	Name string `json:"name"`
}

type tokenError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewTokenResolver returns a resolver for the token service at authURL.
// Successful lookups are cached for cacheTime. If client is nil,
// http.DefaultClient is used.
func NewTokenResolver(authURL string, cacheTime time.Duration, client *http.Client) (*TokenResolver, error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return nil, fmt.Errorf("invalid token service URL %q: %w", authURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("invalid token service URL %q", authURL)
	}
	if cacheTime <= 0 {
		cacheTime = DefaultTokenCacheTime
	}
	if client == nil {
		client = http.DefaultClient
	}

	c := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](cacheTime),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go c.Start()

	return &TokenResolver{
		endpoint: strings.TrimSuffix(u.String(), "/") + tokenPath,
		realm:    u.Host,
		client:   client,
		cache:    c,
	}, nil
}

// Close stops the cache's expiration loop.
func (t *TokenResolver) Close() {
	t.cache.Stop()
}

// Resolve accepts either a bare token or a "Bearer <token>" credential.
// Only the bare token is sent to the token service.
func (t *TokenResolver) Resolve(ctx context.Context, credential string) (string, error) {
	if token, ok := parseBearer(credential); ok {
		credential = token
	}
	if credential == "" || strings.ContainsAny(credential, " \t") {
		return "", invalidCredential("Invalid token")
	}

	sum := sha256.Sum256([]byte(credential))
	key := hex.EncodeToString(sum[:])

	if item := t.cache.Get(key); item != nil {
		return item.Value(), nil
	}

	// The lookup is shared by every waiting caller, so it must outlive
	// the request that started it.
	v, err, _ := t.group.Do(key, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tokenLookupTimeout)
		defer cancel()
		identity, err := t.lookup(lookupCtx, credential)
		if err != nil {
			return "", err
		}
		t.cache.Set(key, identity, ttlcache.DefaultTTL)
		return identity, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (t *TokenResolver) lookup(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", cache.Wrap(cache.KindUnexpected, "token service request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", cache.Wrap(cache.KindUnexpected, "reading token service response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		var te tokenError
		if json.Unmarshal(body, &te) == nil && te.Error.Message != "" {
			return "", invalidCredential("Invalid token: %s", te.Error.Message)
		}
		return "", invalidCredential("Invalid token")
	default:
		return "", cache.Errorf(cache.KindUnexpected, "token service returned %s", resp.Status)
	}

	var info tokenInfo
	err = json.Unmarshal(body, &info)
	if err != nil {
		return "", cache.Wrap(cache.KindUnexpected, "parsing token service response", err)
	}
	if info.User == "" {
		return "", cache.Errorf(cache.KindUnexpected, "token service response has no user")
	}

	return t.realm + ":" + info.User + ":" + info.Name, nil
}
