package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strings"
	"time"

	"github.com/kbase/caching-service/cache"
	"github.com/kbase/caching-service/cache/azblobstore"
	"github.com/kbase/caching-service/cache/lifecycle"
	"github.com/kbase/caching-service/cache/s3store"

	"github.com/urfave/cli/v2"
	yaml "gopkg.in/yaml.v3"
)

// Config holds the top-level configuration for the caching service.
type Config struct {
	HTTPAddress           string                `yaml:"http_address"`
	Dir                   string                `yaml:"dir"`
	TLSCaFile             string                `yaml:"tls_ca_file"`
	TLSCertFile           string                `yaml:"tls_cert_file"`
	TLSKeyFile            string                `yaml:"tls_key_file"`
	S3CloudStorage        *S3CloudStorageConfig `yaml:"s3,omitempty"`
	AzBlobConfig          *AzBlobStorageConfig  `yaml:"azblob,omitempty"`
	Auth                  *AuthConfig           `yaml:"auth,omitempty"`
	LDAP                  *LDAPConfig           `yaml:"ldap,omitempty"`
	PlaceholderTTL        time.Duration         `yaml:"placeholder_ttl"`
	StoredTTL             time.Duration         `yaml:"stored_ttl"`
	SweepInterval         time.Duration         `yaml:"sweep_interval"`
	SweepConcurrency      int                   `yaml:"sweep_concurrency"`
	MaxBlobSize           int64                 `yaml:"max_blob_size"`
	IdleTimeout           time.Duration         `yaml:"idle_timeout"`
	BackendWaitTimeout    time.Duration         `yaml:"backend_wait_timeout"`
	EnableEndpointMetrics bool                  `yaml:"enable_endpoint_metrics"`
	HTTPReadTimeout       time.Duration         `yaml:"http_read_timeout"`
	HTTPWriteTimeout      time.Duration         `yaml:"http_write_timeout"`
	AccessLogLevel        string                `yaml:"access_log_level"`
	LogFormat             string                `yaml:"log_format"`
	LogTimezone           string                `yaml:"log_timezone"`

	// Fields that are created by combinations of the flags above.
	TLSConfig    *tls.Config  `yaml:"-"`
	AccessLogger cache.Logger `yaml:"-"`
	ErrorLogger  cache.Logger `yaml:"-"`
}

const (
	defaultHTTPAddress        = ":5000"
	defaultSweepInterval      = time.Hour
	defaultBackendWaitTimeout = time.Minute
)

func defaultConfig() Config {
	return Config{
		HTTPAddress:        defaultHTTPAddress,
		PlaceholderTTL:     lifecycle.DefaultPlaceholderTTL,
		StoredTTL:          lifecycle.DefaultStoredTTL,
		SweepInterval:      defaultSweepInterval,
		SweepConcurrency:   lifecycle.DefaultSweepConcurrency,
		MaxBlobSize:        math.MaxInt64,
		BackendWaitTimeout: defaultBackendWaitTimeout,
		AccessLogLevel:     "all",
		LogFormat:          "text",
		LogTimezone:        "UTC",
	}
}

// newFromYamlFile reads configuration settings from a YAML file then returns
// a validated Config with those settings, and an error if there were any
// problems.
func newFromYamlFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Failed to read config file '%s': %v", path, err)
	}

	return newFromYaml(data)
}

func newFromYaml(data []byte) (*Config, error) {
	c := defaultConfig()

	err := yaml.Unmarshal(data, &c)
	if err != nil {
		return nil, fmt.Errorf("Failed to parse YAML config: %v", err)
	}

	err = validateConfig(&c)
	if err != nil {
		return nil, err
	}

	return &c, nil
}

// NewConfigFromYaml parses and validates YAML configuration data.
func NewConfigFromYaml(data []byte) (*Config, error) {
	return newFromYaml(data)
}

func validateConfig(c *Config) error {
	backendCount := 0
	if c.Dir != "" {
		backendCount++
	}
	if c.S3CloudStorage != nil {
		backendCount++
	}
	if c.AzBlobConfig != nil {
		backendCount++
	}
	if backendCount == 0 {
		return errors.New("One of the 'dir', 's3' or 'azblob' backends is required")
	}
	if backendCount > 1 {
		return errors.New("At most one of the dir/S3/AzBlob backends is allowed")
	}

	if strings.HasPrefix(c.HTTPAddress, "unix://") {
		if c.HTTPAddress[len("unix://"):] == "" {
			return errors.New("'http_address' Unix socket specification is missing a socket path")
		}
	} else {
		_, _, err := net.SplitHostPort(c.HTTPAddress)
		if err != nil {
			return errors.New("'http_address' must either be formatted as [host]:port or unix://socket.path")
		}
	}

	if (c.TLSCertFile != "" && c.TLSKeyFile == "") || (c.TLSCertFile == "" && c.TLSKeyFile != "") {
		return errors.New("When enabling TLS one must specify both " +
			"'tls_key_file' and 'tls_cert_file'")
	}

	if c.TLSCaFile != "" && (c.TLSCertFile == "" || c.TLSKeyFile == "") {
		return errors.New("When enabling mTLS (authenticating client " +
			"certificates) the server must have it's own 'tls_key_file' " +
			"and 'tls_cert_file' specified.")
	}

	if c.S3CloudStorage != nil {
		if c.S3CloudStorage.Endpoint == "" || c.S3CloudStorage.Bucket == "" {
			return errors.New("The 'endpoint' and 'bucket' fields are required for 's3'")
		}
		if !s3store.IsValidAuthMethod(c.S3CloudStorage.AuthMethod) {
			return fmt.Errorf("invalid s3.auth_method: %s", c.S3CloudStorage.AuthMethod)
		}
	}

	if c.AzBlobConfig != nil {
		if c.AzBlobConfig.StorageAccount == "" || c.AzBlobConfig.ContainerName == "" {
			return errors.New("The 'storage_account' and 'container_name' fields are required for 'azblob'")
		}
		if !azblobstore.IsValidAuthMethod(c.AzBlobConfig.AuthMethod) {
			return fmt.Errorf("invalid azblob.auth_method: %s", c.AzBlobConfig.AuthMethod)
		}
	}

	authCount := 0
	if c.Auth != nil {
		if c.Auth.TokenURL != "" {
			authCount++
		}
		if c.Auth.HtpasswdFile != "" {
			authCount++
		}
		if c.Auth.JWTSecret != "" {
			authCount++
		}
		if c.Auth.TokenCacheTime < 0 {
			return errors.New("'auth.token_cache_time' must not be negative")
		}
	}
	if c.LDAP != nil {
		err := c.LDAP.validate()
		if err != nil {
			return err
		}
		authCount++
	}
	if authCount == 0 {
		return errors.New("At least one identity source is required: " +
			"'auth.token_url', 'auth.htpasswd_file', 'auth.jwt_secret' or 'ldap'")
	}

	if c.PlaceholderTTL < time.Second {
		return errors.New("'placeholder_ttl' must be at least one second")
	}
	if c.StoredTTL < time.Second {
		return errors.New("'stored_ttl' must be at least one second")
	}
	if c.SweepInterval < 0 {
		return errors.New("'sweep_interval' must not be negative, use 0 to disable")
	}
	if c.SweepConcurrency <= 0 {
		return errors.New("'sweep_concurrency' must be a positive integer")
	}

	if c.MaxBlobSize <= 0 {
		return errors.New("The 'max_blob_size' flag/key must be a positive integer")
	}

	if c.BackendWaitTimeout <= 0 {
		return errors.New("'backend_wait_timeout' must be positive")
	}

	switch c.AccessLogLevel {
	case "none", "all":
	default:
		return errors.New("'access_log_level' must be set to either \"none\" or \"all\"")
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return errors.New("'log_format' must be set to either \"text\" or \"json\"")
	}

	switch c.LogTimezone {
	case "UTC", "local", "none":
	default:
		return errors.New("'log_timezone' must be set to either \"UTC\", \"local\" or \"none\"")
	}

	return nil
}

func Get(ctx *cli.Context) (*Config, error) {
	// Get a Config with all the basic fields set.
	cfg, err := get(ctx)
	if err != nil {
		return nil, err
	}

	// Set the non-basic fields...

	err = cfg.setLogger()
	if err != nil {
		return nil, err
	}

	err = cfg.setTLSConfig()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Return a Config with all the basic fields set.
func get(ctx *cli.Context) (*Config, error) {
	configFile := ctx.String("config_file")
	if configFile != "" {
		return newFromYamlFile(configFile)
	}

	c := defaultConfig()
	c.HTTPAddress = ctx.String("http_address")
	c.Dir = ctx.String("dir")
	c.TLSCaFile = ctx.String("tls_ca_file")
	c.TLSCertFile = ctx.String("tls_cert_file")
	c.TLSKeyFile = ctx.String("tls_key_file")
	c.PlaceholderTTL = ctx.Duration("placeholder_ttl")
	c.StoredTTL = ctx.Duration("stored_ttl")
	c.SweepInterval = ctx.Duration("sweep_interval")
	c.SweepConcurrency = ctx.Int("sweep_concurrency")
	c.MaxBlobSize = ctx.Int64("max_blob_size")
	c.IdleTimeout = ctx.Duration("idle_timeout")
	c.BackendWaitTimeout = ctx.Duration("backend_wait_timeout")
	c.EnableEndpointMetrics = ctx.Bool("enable_endpoint_metrics")
	c.HTTPReadTimeout = ctx.Duration("http_read_timeout")
	c.HTTPWriteTimeout = ctx.Duration("http_write_timeout")
	c.AccessLogLevel = ctx.String("access_log_level")
	c.LogFormat = ctx.String("log_format")
	c.LogTimezone = ctx.String("log_timezone")

	if ctx.String("s3.bucket") != "" {
		c.S3CloudStorage = &S3CloudStorageConfig{
			Endpoint:                 ctx.String("s3.endpoint"),
			Bucket:                   ctx.String("s3.bucket"),
			Prefix:                   ctx.String("s3.prefix"),
			AuthMethod:               ctx.String("s3.auth_method"),
			AccessKeyID:              ctx.String("s3.access_key_id"),
			SecretAccessKey:          ctx.String("s3.secret_access_key"),
			DisableSSL:               ctx.Bool("s3.disable_ssl"),
			IAMRoleEndpoint:          ctx.String("s3.iam_role_endpoint"),
			Region:                   ctx.String("s3.region"),
			AWSProfile:               ctx.String("s3.aws_profile"),
			AWSSharedCredentialsFile: ctx.String("s3.aws_shared_credentials_file"),
		}
	}

	if ctx.String("azblob.container_name") != "" {
		c.AzBlobConfig = &AzBlobStorageConfig{
			StorageAccount: ctx.String("azblob.storage_account"),
			ContainerName:  ctx.String("azblob.container_name"),
			Prefix:         ctx.String("azblob.prefix"),
			ServiceURL:     ctx.String("azblob.service_url"),
			AuthMethod:     ctx.String("azblob.auth_method"),
			TenantID:       ctx.String("azblob.tenant_id"),
			ClientID:       ctx.String("azblob.client_id"),
			ClientSecret:   ctx.String("azblob.client_secret"),
			CertPath:       ctx.String("azblob.cert_path"),
			SharedKey:      ctx.String("azblob.shared_key"),
		}
	}

	if ctx.String("auth.token_url") != "" || ctx.String("auth.htpasswd_file") != "" || ctx.String("auth.jwt_secret") != "" {
		c.Auth = &AuthConfig{
			TokenURL:       ctx.String("auth.token_url"),
			TokenCacheTime: ctx.Duration("auth.token_cache_time"),
			HtpasswdFile:   ctx.String("auth.htpasswd_file"),
			JWTSecret:      ctx.String("auth.jwt_secret"),
			JWTIssuer:      ctx.String("auth.jwt_issuer"),
		}
	}

	if ctx.String("ldap.url") != "" {
		c.LDAP = &LDAPConfig{
			URL:               ctx.String("ldap.url"),
			BaseDN:            ctx.String("ldap.base_dn"),
			BindUser:          ctx.String("ldap.bind_user"),
			BindPassword:      ctx.String("ldap.bind_password"),
			UsernameAttribute: ctx.String("ldap.username_attribute"),
			GroupsQuery:       ctx.String("ldap.groups_query"),
			CacheTime:         ctx.Duration("ldap.cache_time"),
		}
	}

	err := validateConfig(&c)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
