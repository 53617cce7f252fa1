package config

import "time"

// AuthConfig selects the identity sources that turn the Authorization
// header into an owner identity. Any combination may be enabled; they are
// tried in the order token service, htpasswd, JWT, then LDAP.
type AuthConfig struct {
	TokenURL       string        `yaml:"token_url"`
	TokenCacheTime time.Duration `yaml:"token_cache_time"`
	HtpasswdFile   string        `yaml:"htpasswd_file"`
	JWTSecret      string        `yaml:"jwt_secret"`
	JWTIssuer      string        `yaml:"jwt_issuer"`
}
