package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expected(modify func(c *Config)) *Config {
	c := defaultConfig()
	modify(&c)
	return &c
}

func TestValidDirConfig(t *testing.T) {
	yaml := `http_address: localhost:8080
dir: /opt/cache-dir
auth:
  token_url: https://kbase.us/services/auth
  token_cache_time: 10m
tls_cert_file: /opt/tls.cert
tls_key_file:  /opt/tls.key
placeholder_ttl: 24h
stored_ttl: 720h
max_blob_size: 1048576
`

	config, err := newFromYaml([]byte(yaml))
	require.NoError(t, err)

	expectedConfig := expected(func(c *Config) {
		c.HTTPAddress = "localhost:8080"
		c.Dir = "/opt/cache-dir"
		c.Auth = &AuthConfig{
			TokenURL:       "https://kbase.us/services/auth",
			TokenCacheTime: 10 * time.Minute,
		}
		c.TLSCertFile = "/opt/tls.cert"
		c.TLSKeyFile = "/opt/tls.key"
		c.PlaceholderTTL = 24 * time.Hour
		c.StoredTTL = 720 * time.Hour
		c.MaxBlobSize = 1048576
	})

	if !cmp.Equal(config, expectedConfig) {
		t.Fatalf("Expected '%+v' but got '%+v'", expectedConfig, config)
	}
}

func TestValidS3CloudStorageConfig(t *testing.T) {
	yaml := `s3:
  endpoint: minio.example.com:9000
  bucket: test-bucket
  prefix: cache
  auth_method: access_key
  access_key_id: EXAMPLE_ACCESS_KEY
  secret_access_key: EXAMPLE_SECRET_KEY
  disable_ssl: true
auth:
  htpasswd_file: /opt/.htpasswd
`
	config, err := newFromYaml([]byte(yaml))
	require.NoError(t, err)

	expectedConfig := expected(func(c *Config) {
		c.S3CloudStorage = &S3CloudStorageConfig{
			Endpoint:        "minio.example.com:9000",
			Bucket:          "test-bucket",
			Prefix:          "cache",
			AuthMethod:      "access_key",
			AccessKeyID:     "EXAMPLE_ACCESS_KEY",
			SecretAccessKey: "EXAMPLE_SECRET_KEY",
			DisableSSL:      true,
		}
		c.Auth = &AuthConfig{HtpasswdFile: "/opt/.htpasswd"}
	})

	if !cmp.Equal(config, expectedConfig) {
		t.Fatalf("Expected '%+v' but got '%+v'", expectedConfig, config)
	}

	opts, err := config.S3CloudStorage.options(discardLogger{})
	require.NoError(t, err)
	assert.Equal(t, "test-bucket", opts.Bucket)
	assert.True(t, opts.DisableSSL)
	assert.NotNil(t, opts.Creds)
}

func TestValidAzBlobConfig(t *testing.T) {
	yaml := `azblob:
  storage_account: devstoreaccount1
  container_name: cache
  service_url: http://127.0.0.1:10000/devstoreaccount1
  auth_method: shared_key
  shared_key: c2VjcmV0
auth:
  jwt_secret: hunter2
`
	config, err := newFromYaml([]byte(yaml))
	require.NoError(t, err)

	expectedConfig := expected(func(c *Config) {
		c.AzBlobConfig = &AzBlobStorageConfig{
			StorageAccount: "devstoreaccount1",
			ContainerName:  "cache",
			ServiceURL:     "http://127.0.0.1:10000/devstoreaccount1",
			AuthMethod:     "shared_key",
			SharedKey:      "c2VjcmV0",
		}
		c.Auth = &AuthConfig{JWTSecret: "hunter2"}
	})

	if !cmp.Equal(config, expectedConfig) {
		t.Fatalf("Expected '%+v' but got '%+v'", expectedConfig, config)
	}

	opts, err := config.AzBlobConfig.options(discardLogger{})
	require.NoError(t, err)
	assert.Nil(t, opts.Creds)
	assert.Equal(t, "c2VjcmV0", opts.SharedKey)
}

func TestValidLDAPConfig(t *testing.T) {
	yaml := `dir: /opt/cache-dir
ldap:
  url: ldap://ldap.example.com
  base_dn: OU=My Users,DC=example,DC=com
  bind_user: ldapuser
  bind_password: ldappassword
  groups:
    - CN=kbase-users,OU=Groups,DC=example,DC=com
    - CN=other-users,OU=Groups2,DC=example,DC=com
`
	config, err := newFromYaml([]byte(yaml))
	require.NoError(t, err)
	require.NotNil(t, config.LDAP)

	assert.Equal(t, "uid", config.LDAP.UsernameAttribute)
	assert.Equal(t, DefaultLDAPCacheTime, config.LDAP.CacheTime)
	assert.Equal(t,
		"(|(memberOf=CN=kbase-users,OU=Groups,DC=example,DC=com)(memberOf=CN=other-users,OU=Groups2,DC=example,DC=com))",
		config.LDAP.GroupsQuery)
}

func TestInvalidConfigs(t *testing.T) {
	tests := map[string]struct {
		yaml string
		err  string
	}{
		"no backend": {
			yaml: "auth:\n  token_url: https://kbase.us/services/auth\n",
			err:  "backends is required",
		},
		"two backends": {
			yaml: `dir: /opt/cache
s3:
  endpoint: minio:9000
  bucket: b
  auth_method: iam_role
auth:
  token_url: https://kbase.us/services/auth
`,
			err: "At most one",
		},
		"no identity source": {
			yaml: "dir: /opt/cache\n",
			err:  "identity source",
		},
		"bad http address": {
			yaml: "dir: /opt/cache\nhttp_address: nope\nauth:\n  jwt_secret: s\n",
			err:  "http_address",
		},
		"bad s3 auth method": {
			yaml: `s3:
  endpoint: minio:9000
  bucket: b
  auth_method: magic
auth:
  jwt_secret: s
`,
			err: "invalid s3.auth_method",
		},
		"bad azblob auth method": {
			yaml: `azblob:
  storage_account: a
  container_name: c
  auth_method: magic
auth:
  jwt_secret: s
`,
			err: "invalid azblob.auth_method",
		},
		"tls cert without key": {
			yaml: "dir: /opt/cache\ntls_cert_file: /opt/tls.cert\nauth:\n  jwt_secret: s\n",
			err:  "tls_key_file",
		},
		"zero placeholder ttl": {
			yaml: "dir: /opt/cache\nplaceholder_ttl: 0s\nauth:\n  jwt_secret: s\n",
			err:  "placeholder_ttl",
		},
		"zero sweep concurrency": {
			yaml: "dir: /opt/cache\nsweep_concurrency: 0\nauth:\n  jwt_secret: s\n",
			err:  "sweep_concurrency",
		},
		"bad access log level": {
			yaml: "dir: /opt/cache\naccess_log_level: some\nauth:\n  jwt_secret: s\n",
			err:  "access_log_level",
		},
		"bad log format": {
			yaml: "dir: /opt/cache\nlog_format: xml\nauth:\n  jwt_secret: s\n",
			err:  "log_format",
		},
		"ldap groups and query": {
			yaml: `dir: /opt/cache
ldap:
  url: ldap://ldap.example.com
  base_dn: DC=example,DC=com
  groups: [a]
  groups_query: (memberOf=b)
`,
			err: "groups_query",
		},
		"ldap without base dn": {
			yaml: "dir: /opt/cache\nldap:\n  url: ldap://ldap.example.com\n",
			err:  "base_dn",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := newFromYaml([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.err)
		})
	}
}

func TestUnixSocketAddress(t *testing.T) {
	_, err := newFromYaml([]byte("dir: /c\nhttp_address: unix:///tmp/cache.sock\nauth:\n  jwt_secret: s\n"))
	assert.NoError(t, err)

	_, err = newFromYaml([]byte("dir: /c\nhttp_address: unix://\nauth:\n  jwt_secret: s\n"))
	assert.Error(t, err)
}

func TestNewFromYamlFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dir: /c\nauth:\n  jwt_secret: s\n"), 0o644))

	c, err := newFromYamlFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/c", c.Dir)

	_, err = newFromYamlFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoggers(t *testing.T) {
	c := expected(func(c *Config) {
		c.LogFormat = "json"
		c.AccessLogLevel = "none"
	})
	require.NoError(t, c.setLogger())

	access, ok := c.AccessLogger.(*logrus.Logger)
	require.True(t, ok)
	var sb strings.Builder
	errs := c.ErrorLogger.(*logrus.Logger)
	errs.SetOutput(&sb)
	errs.Printf("hello %s", "world")
	assert.Contains(t, sb.String(), `"msg":"hello world"`)
	assert.NotNil(t, access.Out)
}

func TestUTCFormatter(t *testing.T) {
	f := utcFormatter{&logrus.JSONFormatter{TimestampFormat: time.RFC3339}}
	loc := time.FixedZone("test", 3600)
	e := &logrus.Entry{
		Logger:  logrus.New(),
		Time:    time.Date(2024, 1, 1, 12, 0, 0, 0, loc),
		Message: "m",
		Data:    logrus.Fields{},
	}
	out, err := f.Format(e)
	require.NoError(t, err)
	assert.Contains(t, string(out), "2024-01-01T11:00:00Z")
}

func TestNewBlobStoreDir(t *testing.T) {
	c := expected(func(c *Config) {
		c.Dir = t.TempDir()
	})
	s, err := c.NewBlobStore(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s)
}

func TestNewBlobStoreNone(t *testing.T) {
	c := expected(func(c *Config) {})
	_, err := c.NewBlobStore(context.Background())
	assert.Error(t, err)
}
