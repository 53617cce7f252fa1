package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	ldap "github.com/go-ldap/ldap/v3"
)

// DefaultLDAPCacheTime is how long a successful LDAP login is cached.
const DefaultLDAPCacheTime = time.Hour

type LDAPConfig struct {
	URL               string        `yaml:"url"`
	BaseDN            string        `yaml:"base_dn"`
	BindUser          string        `yaml:"bind_user"`
	BindPassword      string        `yaml:"bind_password"`
	UsernameAttribute string        `yaml:"username_attribute"`
	Groups            []string      `yaml:"groups,flow"`
	GroupsQuery       string        `yaml:"groups_query"`
	CacheTime         time.Duration `yaml:"cache_time"`
}

func (l *LDAPConfig) validate() error {
	if l.URL == "" {
		return errors.New("The 'url' field is required for 'ldap'")
	}
	if l.BaseDN == "" {
		return errors.New("The 'base_dn' field is required for 'ldap'")
	}
	if l.UsernameAttribute == "" {
		l.UsernameAttribute = "uid"
	}
	if l.CacheTime == 0 {
		l.CacheTime = DefaultLDAPCacheTime
	}
	if l.CacheTime < 0 {
		return errors.New("'ldap.cache_time' must not be negative")
	}

	if len(l.Groups) > 0 {
		if l.GroupsQuery != "" {
			return errors.New("Only one of 'ldap.groups' and 'ldap.groups_query' may be set")
		}
		var sb strings.Builder
		sb.WriteString("(|")
		for _, g := range l.Groups {
			fmt.Fprintf(&sb, "(memberOf=%s)", ldap.EscapeFilter(g))
		}
		sb.WriteString(")")
		l.GroupsQuery = sb.String()
	}

	return nil
}
