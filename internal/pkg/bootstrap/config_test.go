package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "http://localhost:8080", cfg.Server.PublicBaseURL)
	require.Equal(t, "memory", cfg.Storage.Driver)
	require.Equal(t, int64(299), cfg.Pricing.StandardCents)
	require.Equal(t, int64(100), *cfg.Pricing.OverageCents)
	require.Equal(t, 3, cfg.Collaborators.Retry.MaxAttempts)
}

func TestLoadConfigExpandsEnvAndKeepsZeroOverage(t *testing.T) {
	t.Setenv("VERBAPOST_TEST_STRIPE_KEY", "sk_test_123")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
  public_base_url: https://verbapost.example/
pricing:
  overage_cents: 0
lock:
  backend: redis
  wait: 3s
collaborators:
  stripe:
    secret_key: ${VERBAPOST_TEST_STRIPE_KEY}
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "https://verbapost.example", cfg.Server.PublicBaseURL)
	require.Equal(t, int64(0), *cfg.Pricing.OverageCents)
	require.Equal(t, "redis", cfg.Lock.Backend)
	require.Equal(t, 3*time.Second, cfg.Lock.Wait)
	require.Equal(t, "sk_test_123", cfg.Collaborators.Stripe.SecretKey)
}

func TestLoadConfigRejectsUnknownBackends(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"storage.yaml":   "storage:\n  driver: postgres\n",
		"lock.yaml":      "lock:\n  backend: etcd\n",
		"zookeeper.yaml": "lock:\n  backend: zookeeper\n",
	} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		_, err := LoadConfig(path)
		require.Error(t, err, name)
	}
}

func TestCurrentConfig(t *testing.T) {
	require.NotNil(t, GetCurrentConfig())
	cfg := &Config{Server: ServerConfig{Port: 1}}
	SetCurrentConfig(cfg)
	require.Same(t, cfg, GetCurrentConfig())
}
