package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/memory"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaultsRequireDatabase(t *testing.T) {
	t.Setenv("DB_URL", "")
	t.Setenv("POSTGRES_URL", "")
	t.Setenv("STORAGE_BACKEND", "")

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "DB_URL")
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "")
	t.Setenv("HTTP_PORT", "")
	path := writeConfig(t, `
service:
  http_port: 18080
storage:
  backend: memory
dependencies:
  kafka_brokers: [kafka-1:9092, kafka-2:9092]
tickets:
  lifetime_days: 5
activation:
  rate_limit_rps: 2.5
  trust_proxy_headers: true
  lock_expiry: 3s
seed:
  products:
    - id: 0b6f1c2e-3a1d-4f7e-9c55-6a0f7d2b8e01
      name: Studio
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, StorageMemory, cfg.StorageBackend)
	assert.Equal(t, 18080, cfg.HTTPPort)
	assert.Equal(t, 9090, cfg.GRPCPort)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5, cfg.TicketLifetimeDays)
	assert.Equal(t, 2.5, cfg.ActivationRPS)
	assert.True(t, cfg.TrustProxyHeaders)
	assert.Equal(t, 3*time.Second, cfg.LockExpiry)
	require.Len(t, cfg.Seed.Products, 1)
	assert.Equal(t, "Studio", cfg.Seed.Products[0].Name)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "storage:\n  backend: memory\nservice:\n  http_port: 18080\n")
	t.Setenv("STORAGE_BACKEND", "postgres")
	t.Setenv("DB_URL", "postgres://localhost/licenses")
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("KAFKA_BROKERS", " a:1 , ,b:2 ")
	t.Setenv("TICKET_ALLOW_EPHEMERAL", "false")
	t.Setenv("TICKET_PRIVATE_KEY_PEM", "pem")
	t.Setenv("TRUSTED_PROXY", "true")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, StoragePostgres, cfg.StorageBackend)
	assert.Equal(t, "postgres://localhost/licenses", cfg.DatabaseURL)
	assert.Equal(t, 9999, cfg.HTTPPort)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.KafkaBrokers)
	assert.False(t, cfg.AllowEphemeralTicket)
	assert.True(t, cfg.TrustProxyHeaders)
}

func TestLoadConfigValidation(t *testing.T) {
	path := writeConfig(t, "storage:\n  backend: memory\n")

	t.Setenv("TICKET_ALLOW_EPHEMERAL", "false")
	t.Setenv("TICKET_PRIVATE_KEY_PEM", "")
	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "TICKET_PRIVATE_KEY_PEM")

	t.Setenv("TICKET_ALLOW_EPHEMERAL", "")
	t.Setenv("JWT_ALLOW_EPHEMERAL", "0")
	t.Setenv("JWT_PUBLIC_KEY_PEM", "")
	t.Setenv("JWT_PRIVATE_KEY_PEM", "")
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, "JWT_PUBLIC_KEY_PEM")

	t.Setenv("JWT_ALLOW_EPHEMERAL", "")
	t.Setenv("STORAGE_BACKEND", "sqlite")
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, "unknown storage backend")

	bad := writeConfig(t, "activation:\n  lock_expiry: soon\n")
	t.Setenv("STORAGE_BACKEND", "memory")
	_, err = LoadConfig(bad)
	assert.ErrorContains(t, err, "lock_expiry")
}

func TestSeedMemory(t *testing.T) {
	repos := memory.NewRepositories()
	err := seedMemory(repos.Store, SeedData{
		Products:     []SeedProduct{{ID: "0b6f1c2e-3a1d-4f7e-9c55-6a0f7d2b8e01", Name: "Studio"}},
		LicenseTypes: []SeedLicenseType{{ID: "5d2e8f4a-7c3b-4b19-8e6d-1f9a2c4b7d02", DefaultDurationDays: 365}},
		Users:        []SeedUser{{ID: "1c7e9a3f-5b2d-4e68-a1f4-7d3c9b5e2a04", Username: "admin", Role: "ADMIN"}},
	})
	require.NoError(t, err)

	err = seedMemory(repos.Store, SeedData{Users: []SeedUser{{ID: "nope"}}})
	assert.ErrorContains(t, err, "seed user")
}

func TestDefaultConfigFileParses(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "")
	cfg, err := LoadConfig(filepath.Join("..", "..", "..", "configs", "default.yaml"))
	require.NoError(t, err)
	assert.Equal(t, StorageMemory, cfg.StorageBackend)
	assert.NotEmpty(t, cfg.Seed.LicenseTypes)
	require.NoError(t, seedMemory(memory.NewRepositories().Store, cfg.Seed))
}
