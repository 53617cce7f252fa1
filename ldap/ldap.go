package ldap

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/kbase/caching-service/auth"
	"github.com/kbase/caching-service/cache"
	"github.com/kbase/caching-service/config"

	ldap "github.com/go-ldap/ldap/v3"
)

// Resolver checks Basic credentials against an LDAP directory. Results
// are cached so that many concurrent requests don't DDoS the LDAP server.
// Identities are "ldap:<user>".
type Resolver struct {
	m      sync.Map
	config *config.LDAPConfig
}

type cacheEntry struct {
	sync.Mutex
	// Poor man's enum; nil pointer means uninitialized
	authed *bool
}

// negativeCacheTime bounds how long a failed login is remembered.
const negativeCacheTime = 5 * time.Second

func New(config *config.LDAPConfig) (*Resolver, error) {
	conn, err := ldap.DialURL(config.URL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	// Test the configured bind credentials
	if err = conn.Bind(config.BindUser, config.BindPassword); err != nil {
		return nil, err
	}

	return &Resolver{config: config}, nil
}

func (c *Resolver) Resolve(ctx context.Context, credential string) (string, error) {
	user, password, ok := auth.ParseBasic(credential)
	if !ok {
		return "", cache.Errorf(cache.KindInvalidCredential, "Invalid credential")
	}

	authed, err := c.checkLdap(user, password)
	if err != nil {
		return "", cache.Wrap(cache.KindUnexpected, "LDAP lookup failed", err)
	}
	if !authed {
		return "", cache.Errorf(cache.KindInvalidCredential, "Invalid username or password")
	}
	return "ldap:" + user, nil
}

// Either query LDAP for a result or retrieve it from the cache
func (c *Resolver) checkLdap(user, password string) (bool, error) {
	k := sha256.Sum256([]byte(user + "\x00" + password))
	v, _ := c.m.LoadOrStore(k, &cacheEntry{})
	ce := v.(*cacheEntry)
	ce.Lock()
	defer ce.Unlock()
	if ce.authed != nil {
		return *ce.authed, nil
	}

	// Not initialized; actually do the query and record the result
	authed, err := c.query(user, password)
	if err != nil {
		// Errors are not cached; the next request retries.
		c.m.Delete(k)
		return false, err
	}
	ce.authed = &authed
	timeout := c.config.CacheTime
	if timeout <= 0 {
		timeout = config.DefaultLDAPCacheTime
	}
	// Don't cache a negative result for a long time; likely wrong password
	if !authed {
		timeout = negativeCacheTime
	}
	time.AfterFunc(timeout, func() {
		c.m.Delete(k)
	})

	return authed, nil
}

func (c *Resolver) query(user, password string) (bool, error) {
	conn, err := ldap.DialURL(c.config.URL)
	if err != nil {
		return false, err
	}
	defer func() { _ = conn.Close() }()

	if err = conn.Bind(c.config.BindUser, c.config.BindPassword); err != nil {
		return false, fmt.Errorf("LDAP bind as %s failed: %w", c.config.BindUser, err)
	}

	query := fmt.Sprintf("(&(%s=%s)%s)", c.config.UsernameAttribute,
		ldap.EscapeFilter(user), c.config.GroupsQuery)

	searchRequest := ldap.NewSearchRequest(
		c.config.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		query,
		[]string{"cn", "dn"},
		nil,
	)

	sr, err := conn.Search(searchRequest)
	if err != nil || len(sr.Entries) != 1 {
		return false, nil
	}

	// Do they have the right credentials?
	return conn.Bind(sr.Entries[0].DN, password) == nil, nil
}
