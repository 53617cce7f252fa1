package config

import (
	"fmt"
	"os"

	"github.com/kbase/caching-service/cache/azblobstore"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

type AzBlobStorageConfig struct {
	StorageAccount string `yaml:"storage_account"`
	ContainerName  string `yaml:"container_name"`
	Prefix         string `yaml:"prefix"`
	ServiceURL     string `yaml:"service_url"`
	AuthMethod     string `yaml:"auth_method"`
	TenantID       string `yaml:"tenant_id"`
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret"`
	CertPath       string `yaml:"cert_path"`
	SharedKey      string `yaml:"shared_key"`
}

func (azblobc AzBlobStorageConfig) GetCredentials(log Logger) (azcore.TokenCredential, error) {
	if azblobc.AuthMethod == azblobstore.AuthMethodDefault {
		log.Printf("AzBlob Credentials: using Default Credentials")
		return azidentity.NewDefaultAzureCredential(nil)
	}

	if azblobc.AuthMethod == azblobstore.AuthMethodSharedKey {
		log.Printf("AzBlob Credentials: using Shared Key")
		if azblobc.SharedKey == "" {
			return nil, fmt.Errorf("missing azblob.shared_key for azblob.auth_method = '%s'", azblobstore.AuthMethodSharedKey)
		}
		// The shared key credential doesn't implement TokenCredential.
		return nil, nil
	}

	if azblobc.AuthMethod == azblobstore.AuthMethodClientCertificate {
		log.Printf("AzBlob Credentials: using client certificate credentials")
		certData, err := os.ReadFile(azblobc.CertPath)
		if err != nil {
			return nil, fmt.Errorf(`failed to read certificate file "%s": %v`, azblobc.CertPath, err)
		}
		certs, key, err := azidentity.ParseCertificates(certData, nil)
		if err != nil {
			return nil, fmt.Errorf(`failed to load certificate from "%s": %v`, azblobc.CertPath, err)
		}
		if azblobc.TenantID == "" {
			return nil, fmt.Errorf("An Azure blob tenant ID is required.")
		}

		return azidentity.NewClientCertificateCredential(azblobc.TenantID, azblobc.ClientID, certs, key, nil)
	}

	if azblobc.AuthMethod == azblobstore.AuthMethodClientSecret {
		if azblobc.TenantID == "" {
			return nil, fmt.Errorf("An Azure blob tenant ID is required.")
		}

		log.Printf("AzBlob Credentials: using client secret credentials")
		return azidentity.NewClientSecretCredential(azblobc.TenantID, azblobc.ClientID, azblobc.ClientSecret, nil)
	}

	if azblobc.AuthMethod == azblobstore.AuthMethodEnvironmentCredential {
		log.Printf("AzBlob Credentials: using environment credentials")
		return azidentity.NewEnvironmentCredential(nil)
	}

	return nil, fmt.Errorf("invalid azblob.auth_method: %s", azblobc.AuthMethod)
}

func (azblobc AzBlobStorageConfig) options(log Logger) (azblobstore.Options, error) {
	creds, err := azblobc.GetCredentials(log)
	if err != nil {
		return azblobstore.Options{}, err
	}
	opts := azblobstore.Options{
		StorageAccount: azblobc.StorageAccount,
		ContainerName:  azblobc.ContainerName,
		Prefix:         azblobc.Prefix,
		ServiceURL:     azblobc.ServiceURL,
		Creds:          creds,
	}
	if azblobc.AuthMethod == azblobstore.AuthMethodSharedKey {
		opts.SharedKey = azblobc.SharedKey
	}
	return opts, nil
}
