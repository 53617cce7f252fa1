package flags

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kbase/caching-service/cache/azblobstore"
	"github.com/kbase/caching-service/cache/lifecycle"
	"github.com/kbase/caching-service/cache/s3store"

	"github.com/urfave/cli/v2"
)

func s3AuthMsg(authMethods ...string) string {
	return fmt.Sprintf("Applies to s3 auth method(s): %s.", strings.Join(authMethods, ", "))
}

func azBlobAuthMsg(authMethods ...string) string {
	return fmt.Sprintf("Applies to AzBlob auth method(s): %s.", strings.Join(authMethods, ", "))
}

func env(name string) []string {
	return []string{"CACHING_SERVICE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))}
}

// GetCliFlags returns a slice of cli.Flag's that the caching service accepts.
func GetCliFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "config_file",
			Value: "",
			Usage: "Path to a YAML configuration file. If this flag is specified then all other flags " +
				"are ignored.",
			EnvVars: env("config_file"),
		},
		&cli.StringFlag{
			Name:    "http_address",
			Value:   ":5000",
			Usage:   "Address specification for the HTTP server listener, formatted either as [host]:port for TCP or unix://path.sock for Unix domain sockets.",
			EnvVars: env("http_address"),
		},
		&cli.StringFlag{
			Name:    "dir",
			Value:   "",
			Usage:   "Directory path where to store cache entries. One of --dir, --s3.bucket or --azblob.container_name is required.",
			EnvVars: env("dir"),
		},
		&cli.DurationFlag{
			Name:    "placeholder_ttl",
			Value:   lifecycle.DefaultPlaceholderTTL,
			Usage:   "How long a reserved cache ID without a file stays valid.",
			EnvVars: env("placeholder_ttl"),
		},
		&cli.DurationFlag{
			Name:    "stored_ttl",
			Value:   lifecycle.DefaultStoredTTL,
			Usage:   "How long an uploaded file stays valid.",
			EnvVars: env("stored_ttl"),
		},
		&cli.DurationFlag{
			Name:        "sweep_interval",
			Value:       time.Hour,
			Usage:       "How often expired cache entries are deleted. Set to 0 to disable the background sweeper.",
			DefaultText: "1h",
			EnvVars:     env("sweep_interval"),
		},
		&cli.IntFlag{
			Name:    "sweep_concurrency",
			Value:   lifecycle.DefaultSweepConcurrency,
			Usage:   "The maximum number of entries examined in parallel by a sweep.",
			EnvVars: env("sweep_concurrency"),
		},
		&cli.Int64Flag{
			Name:        "max_blob_size",
			Value:       math.MaxInt64,
			Usage:       "The maximum size of an uploaded file in bytes.",
			DefaultText: "no limit",
			EnvVars:     env("max_blob_size"),
		},
		&cli.DurationFlag{
			Name:        "backend_wait_timeout",
			Value:       time.Minute,
			Usage:       "How long to wait for a remote storage backend to become reachable at startup.",
			DefaultText: "1m",
			EnvVars:     env("backend_wait_timeout"),
		},
		&cli.DurationFlag{
			Name:        "http_read_timeout",
			Value:       0,
			Usage:       "The HTTP read timeout for a client request (does not apply to the storage backends)",
			DefaultText: "0s, ie disabled",
			EnvVars:     env("http_read_timeout"),
		},
		&cli.DurationFlag{
			Name:        "http_write_timeout",
			Value:       0,
			Usage:       "The HTTP write timeout for a server response (does not apply to the storage backends)",
			DefaultText: "0s, ie disabled",
			EnvVars:     env("http_write_timeout"),
		},
		&cli.DurationFlag{
			Name:        "idle_timeout",
			Value:       0,
			Usage:       "The maximum period of having received no request after which the server will shut itself down.",
			DefaultText: "0s, ie disabled",
			EnvVars:     env("idle_timeout"),
		},
		&cli.StringFlag{
			Name:    "tls_ca_file",
			Value:   "",
			Usage:   "Optional. Enables mTLS (authenticating client certificates), should be the certificate authority that signed the client certificates.",
			EnvVars: env("tls_ca_file"),
		},
		&cli.StringFlag{
			Name:    "tls_cert_file",
			Value:   "",
			Usage:   "Path to a pem encoded certificate file.",
			EnvVars: env("tls_cert_file"),
		},
		&cli.StringFlag{
			Name:    "tls_key_file",
			Value:   "",
			Usage:   "Path to a pem encoded key file.",
			EnvVars: env("tls_key_file"),
		},
		&cli.StringFlag{
			Name:    "auth.token_url",
			Value:   "",
			Usage:   "Base URL of the KBase auth service used to resolve tokens, eg https://kbase.us/services/auth",
			EnvVars: env("auth.token_url"),
		},
		&cli.DurationFlag{
			Name:    "auth.token_cache_time",
			Value:   5 * time.Minute,
			Usage:   "How long a resolved token identity is cached.",
			EnvVars: env("auth.token_cache_time"),
		},
		&cli.StringFlag{
			Name:    "auth.htpasswd_file",
			Value:   "",
			Usage:   "Path to a .htpasswd file used to resolve Basic credentials.",
			EnvVars: env("auth.htpasswd_file"),
		},
		&cli.StringFlag{
			Name:    "auth.jwt_secret",
			Value:   "",
			Usage:   "HMAC secret used to verify Bearer JWTs.",
			EnvVars: env("auth.jwt_secret"),
		},
		&cli.StringFlag{
			Name:    "auth.jwt_issuer",
			Value:   "",
			Usage:   "If set, the required issuer of Bearer JWTs.",
			EnvVars: env("auth.jwt_issuer"),
		},
		&cli.StringFlag{
			Name:    "ldap.url",
			Value:   "",
			Usage:   "The LDAP URL which may include a port. LDAP over SSL (LDAPs) is also supported.",
			EnvVars: env("ldap.url"),
		},
		&cli.StringFlag{
			Name:    "ldap.base_dn",
			Value:   "",
			Usage:   "The distinguished name of the search base.",
			EnvVars: env("ldap.base_dn"),
		},
		&cli.StringFlag{
			Name:    "ldap.bind_user",
			Value:   "",
			Usage:   "The user who is allowed to perform a search within the base DN.",
			EnvVars: env("ldap.bind_user"),
		},
		&cli.StringFlag{
			Name:    "ldap.bind_password",
			Value:   "",
			Usage:   "The password of the bind user.",
			EnvVars: env("ldap.bind_password"),
		},
		&cli.StringFlag{
			Name:    "ldap.username_attribute",
			Value:   "uid",
			Usage:   "The user attribute of a connecting user.",
			EnvVars: env("ldap.username_attribute"),
		},
		&cli.StringFlag{
			Name:    "ldap.groups_query",
			Value:   "",
			Usage:   "Filter clause for searching groups.",
			EnvVars: env("ldap.groups_query"),
		},
		&cli.DurationFlag{
			Name:    "ldap.cache_time",
			Value:   time.Hour,
			Usage:   "The amount of time to cache a successful authentication.",
			EnvVars: env("ldap.cache_time"),
		},
		&cli.StringFlag{
			Name:    "s3.endpoint",
			Value:   "",
			Usage:   "The S3/minio endpoint to use when using S3 storage.",
			EnvVars: env("s3.endpoint"),
		},
		&cli.StringFlag{
			Name:    "s3.bucket",
			Value:   "",
			Usage:   "The S3/minio bucket to use when using S3 storage.",
			EnvVars: env("s3.bucket"),
		},
		&cli.StringFlag{
			Name:    "s3.prefix",
			Value:   "",
			Usage:   "The S3/minio object prefix to use when using S3 storage.",
			EnvVars: env("s3.prefix"),
		},
		&cli.StringFlag{
			Name:    "s3.auth_method",
			Value:   s3store.AuthMethodAccessKey,
			Usage:   fmt.Sprintf("The S3/minio authentication method. This argument is required when S3 storage is used. Allowed values: %s.", strings.Join(s3store.GetAuthMethods(), ", ")),
			EnvVars: env("s3.auth_method"),
		},
		&cli.StringFlag{
			Name:    "s3.access_key_id",
			Value:   "",
			Usage:   "The S3/minio access key to use when using S3 storage. " + s3AuthMsg(s3store.AuthMethodAccessKey),
			EnvVars: env("s3.access_key_id"),
		},
		&cli.StringFlag{
			Name:    "s3.secret_access_key",
			Value:   "",
			Usage:   "The S3/minio secret access key to use when using S3 storage. " + s3AuthMsg(s3store.AuthMethodAccessKey),
			EnvVars: env("s3.secret_access_key"),
		},
		&cli.StringFlag{
			Name:    "s3.aws_shared_credentials_file",
			Value:   "",
			Usage:   "Path to the AWS credentials file. If not specified, the minio client will default to '~/.aws/credentials'. " + s3AuthMsg(s3store.AuthMethodAWSCredentialsFile),
			EnvVars: env("s3.aws_shared_credentials_file"),
		},
		&cli.StringFlag{
			Name:        "s3.aws_profile",
			Value:       "default",
			Usage:       "The aws credentials profile to use from within s3.aws_shared_credentials_file. " + s3AuthMsg(s3store.AuthMethodAWSCredentialsFile),
			DefaultText: "default, ie the AWS_PROFILE environment variable or 'default'",
			EnvVars:     env("s3.aws_profile"),
		},
		&cli.BoolFlag{
			Name:        "s3.disable_ssl",
			Usage:       "Whether to disable TLS/SSL when using the S3 storage backend.",
			DefaultText: "false, ie enable TLS/SSL",
			EnvVars:     env("s3.disable_ssl"),
		},
		&cli.StringFlag{
			Name:    "s3.iam_role_endpoint",
			Value:   "",
			Usage:   "Endpoint for using IAM security credentials. By default it will look for credentials in the standard locations for the AWS platform. " + s3AuthMsg(s3store.AuthMethodIAMRole),
			EnvVars: env("s3.iam_role_endpoint"),
		},
		&cli.StringFlag{
			Name:    "s3.region",
			Value:   "",
			Usage:   "The AWS region. Required when not specifying S3/minio access keys.",
			EnvVars: env("s3.region"),
		},
		&cli.StringFlag{
			Name:    "azblob.storage_account",
			Value:   "",
			Usage:   "The Azure blob storage account to use when using the azblob backend.",
			EnvVars: env("azblob.storage_account"),
		},
		&cli.StringFlag{
			Name:    "azblob.container_name",
			Value:   "",
			Usage:   "The Azure blob storage container name to use when using the azblob backend.",
			EnvVars: env("azblob.container_name"),
		},
		&cli.StringFlag{
			Name:    "azblob.prefix",
			Value:   "",
			Usage:   "The blob name prefix to use when using the azblob backend.",
			EnvVars: env("azblob.prefix"),
		},
		&cli.StringFlag{
			Name:    "azblob.service_url",
			Value:   "",
			Usage:   "Overrides the blob service URL, eg for Azurite.",
			EnvVars: env("azblob.service_url"),
		},
		&cli.StringFlag{
			Name:    "azblob.tenant_id",
			Value:   "",
			Usage:   "The Azure blob storage tenant id to use when using the azblob backend.",
			EnvVars: env("azblob.tenant_id"),
		},
		&cli.StringFlag{
			Name:    "azblob.auth_method",
			Value:   azblobstore.AuthMethodClientCertificate,
			Usage:   fmt.Sprintf("The Azure blob storage authentication method. This argument is required when the azblob backend is used. Allowed values: %s.", strings.Join(azblobstore.GetAuthMethods(), ", ")),
			EnvVars: env("azblob.auth_method"),
		},
		&cli.StringFlag{
			Name:    "azblob.shared_key",
			Value:   "",
			Usage:   "The Azure blob storage account key to use when using the azblob backend. " + azBlobAuthMsg(azblobstore.AuthMethodSharedKey),
			EnvVars: env("azblob.shared_key"),
		},
		&cli.StringFlag{
			Name:    "azblob.client_id",
			Value:   "",
			Usage:   "The Azure blob storage client id to use when using the azblob backend. " + azBlobAuthMsg(azblobstore.AuthMethodClientSecret, azblobstore.AuthMethodClientCertificate),
			EnvVars: env("azblob.client_id"),
		},
		&cli.StringFlag{
			Name:    "azblob.client_secret",
			Value:   "",
			Usage:   "The Azure blob storage client secret key to use when using the azblob backend. " + azBlobAuthMsg(azblobstore.AuthMethodClientSecret),
			EnvVars: env("azblob.client_secret"),
		},
		&cli.StringFlag{
			Name:    "azblob.cert_path",
			Value:   "",
			Usage:   "Path to a PEM file containing the client certificate and key. " + azBlobAuthMsg(azblobstore.AuthMethodClientCertificate),
			EnvVars: env("azblob.cert_path"),
		},
		&cli.BoolFlag{
			Name:        "enable_endpoint_metrics",
			Usage:       "Whether to enable metrics for each HTTP endpoint.",
			DefaultText: "false, ie disable metrics",
			EnvVars:     env("enable_endpoint_metrics"),
		},
		&cli.StringFlag{
			Name:        "access_log_level",
			Usage:       "The access logger verbosity level. If supplied, must be one of \"none\" or \"all\".",
			Value:       "all",
			DefaultText: "all, ie enable full access logging",
			EnvVars:     env("access_log_level"),
		},
		&cli.StringFlag{
			Name:        "log_format",
			Usage:       "The log output format. If supplied, must be one of \"text\" or \"json\".",
			Value:       "text",
			DefaultText: "text",
			EnvVars:     env("log_format"),
		},
		&cli.StringFlag{
			Name:        "log_timezone",
			Usage:       "The timezone to use for log timestamps. If supplied, must be one of \"UTC\", \"local\" or \"none\" for no timestamps.",
			Value:       "UTC",
			DefaultText: "UTC, ie use UTC timezone",
			EnvVars:     env("log_timezone"),
		},
	}
}
