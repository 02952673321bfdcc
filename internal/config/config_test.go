package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "INR", cfg.Ledger.Currency)
	assert.Equal(t, 3*time.Second, cfg.Ledger.LockTimeout)
	assert.Equal(t, "latest", cfg.Ledger.FallbackPolicy)
	assert.Equal(t, "standard", cfg.Pricing.DefaultPlan)
	assert.Equal(t, int64(100), cfg.Pricing.Plans["standard"]["marketing"])
	assert.Equal(t, 24*time.Hour, cfg.Webhooks.DedupeTTL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "config"), 0o755))
	yml := `
database:
  driver: memory
ledger:
  fallback_policy: unique
  fallback_skew: 30s
pricing:
  default_plan: growth
  plans:
    growth:
      marketing: 80
      utility: 10
  user_plans:
    user-9: growth
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.yml"), []byte(yml), 0o644))
	t.Chdir(dir)

	t.Setenv("DATABASE_HOST", "db.internal")
	t.Setenv("LEDGER_LOCK_TIMEOUT", "750ms")
	t.Setenv("INTERNAL_API_KEY", "k-123")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 750*time.Millisecond, cfg.Ledger.LockTimeout)
	assert.Equal(t, "unique", cfg.Ledger.FallbackPolicy)
	assert.Equal(t, 30*time.Second, cfg.Ledger.FallbackSkew)
	assert.Equal(t, "k-123", cfg.Server.InternalAPIKey)
	assert.Equal(t, int64(80), cfg.Pricing.Plans["growth"]["marketing"])
	assert.Equal(t, "growth", cfg.Pricing.UserPlans["user-9"])
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("unknown driver", func(t *testing.T) {
		v := viper.New()
		v.Set("database.driver", "mysql")
		_, err := load(v)
		assert.ErrorContains(t, err, "database.driver")
	})

	t.Run("default plan without prices", func(t *testing.T) {
		v := viper.New()
		v.Set("pricing.default_plan", "missing")
		_, err := load(v)
		assert.ErrorContains(t, err, "pricing.default_plan")
	})
}

func TestDatabase_DSN(t *testing.T) {
	d := Database{Host: "h", Port: "5432", User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=h port=5432 user=u password=p dbname=n sslmode=disable", d.DSN())
}
