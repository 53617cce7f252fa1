package flags

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/urfave/cli/v2"
)

func TestFlagEnvVars(t *testing.T) {
	seen := map[string]bool{}
	for _, f := range GetCliFlags() {
		name := f.Names()[0]
		assert.False(t, seen[name], "duplicate flag %s", name)
		seen[name] = true

		ev, ok := f.(interface{ GetEnvVars() []string })
		if !assert.True(t, ok, name) {
			continue
		}
		want := "CACHING_SERVICE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
		assert.Equal(t, []string{want}, ev.GetEnvVars())
	}

	for _, required := range []string{"config_file", "dir", "s3.bucket", "azblob.container_name", "auth.token_url", "ldap.url"} {
		assert.True(t, seen[required], required)
	}
}

func TestFlagsParse(t *testing.T) {
	t.Setenv("CACHING_SERVICE_DIR", "/srv/cache")

	var dir string
	var ttl string
	app := &cli.App{
		Flags: GetCliFlags(),
		Action: func(ctx *cli.Context) error {
			dir = ctx.String("dir")
			ttl = ctx.Duration("stored_ttl").String()
			return nil
		},
	}
	err := app.Run([]string{"caching-service", "--stored_ttl", "48h"})
	assert.NoError(t, err)
	assert.Equal(t, "/srv/cache", dir)
	assert.Equal(t, "48h0m0s", ttl)
}
