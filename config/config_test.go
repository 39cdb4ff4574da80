package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.ListenAddress)
	require.Equal(t, "dev", cfg.Environment)
	require.True(t, cfg.Auth.Enabled)

	// The default file is persisted and loads back.
	_, err = os.Stat(path)
	require.NoError(t, err)
	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.ListenAddress, again.ListenAddress)
}

func TestLoadAppliesDefaultsToSparseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
ListenAddress = ":9090"

[Auth]
Enabled = true

[Auth.APIKeys]
ops = "secret"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.ListenAddress)
	require.Equal(t, 30, cfg.ReadTimeoutSeconds)
	require.Equal(t, 2*time.Minute, cfg.Auth.TimestampSkew())
	require.Equal(t, 10*time.Minute, cfg.Auth.ReplayWindow())
	require.Equal(t, filepath.Join("./custodia-data", "nonces"), cfg.Auth.NonceStorePath)
	require.Equal(t, "custody-gateway", cfg.Observability.ServiceName)
	require.Equal(t, 2, cfg.Webhooks.Workers)
}

func TestValidateRejectsProdWithoutAPIKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
ListenAddress = ":9090"
Environment = "prod"

[Auth]
Enabled = true
`), 0o644))

	_, err := Load(path)
	require.ErrorContains(t, err, "APIKeys required")
}

func TestValidateRejectsEmptySecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
ListenAddress = ":9090"

[Auth]
Enabled = true

[Auth.APIKeys]
ops = "  "
`), 0o644))

	_, err := Load(path)
	require.ErrorContains(t, err, "non-empty key and secret")
}

func TestValidateRejectsDuplicateRateLimitGroups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
ListenAddress = ":9090"

[[RateLimits]]
Group = "mutations"
RequestsPerMinute = 60.0
Burst = 5

[[RateLimits]]
Group = "mutations"
RequestsPerMinute = 10.0
Burst = 1
`), 0o644))

	_, err := Load(path)
	require.ErrorContains(t, err, "configured twice")
}
