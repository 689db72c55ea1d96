package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config is the resolved runtime configuration for M91.
type Config struct {
	ServiceID string

	HTTPPort int
	GRPCPort int

	StorageBackend string
	DatabaseURL    string
	MaxDBConns     int32
	RedisURL       string
	KafkaBrokers   []string

	JWTPrivateKeyPEM  string
	JWTPublicKeyPEM   string
	JWTKeyID          string
	AllowEphemeralJWT bool

	TicketPrivateKeyPEM  string
	AllowEphemeralTicket bool
	TicketLifetimeDays   int

	ActivationRPS   float64
	ActivationBurst int
	// TrustProxyHeaders keys the activation limiter on forwarding headers.
	// Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool
	LockExpiry        time.Duration
	LockTries         int
	AuditTimeout      time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxClaimTTL     time.Duration
	OutboxMaxRetries   int

	Seed SeedData
}

// SeedData preloads the catalog of the memory backend for local runs.
type SeedData struct {
	Products     []SeedProduct     `yaml:"products"`
	LicenseTypes []SeedLicenseType `yaml:"license_types"`
	Users        []SeedUser        `yaml:"users"`
}

type SeedProduct struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Blocked bool   `yaml:"blocked"`
}

type SeedLicenseType struct {
	ID                  string `yaml:"id"`
	Name                string `yaml:"name"`
	DefaultDurationDays int    `yaml:"default_duration_days"`
	Description         string `yaml:"description"`
}

type SeedUser struct {
	ID       string `yaml:"id"`
	Email    string `yaml:"email"`
	Username string `yaml:"username"`
	Role     string `yaml:"role"`
}

// configFile mirrors configs/default.yaml.
type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
	} `yaml:"service"`
	Storage struct {
		Backend string `yaml:"backend"`
	} `yaml:"storage"`
	Dependencies struct {
		PostgresURL  string   `yaml:"postgres_url"`
		RedisURL     string   `yaml:"redis_url"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
	} `yaml:"dependencies"`
	Tickets struct {
		LifetimeDays   int   `yaml:"lifetime_days"`
		AllowEphemeral *bool `yaml:"allow_ephemeral"`
	} `yaml:"tickets"`
	Activation struct {
		RateLimitRPS      float64 `yaml:"rate_limit_rps"`
		RateLimitBurst    int     `yaml:"rate_limit_burst"`
		TrustProxyHeaders *bool   `yaml:"trust_proxy_headers"`
		LockExpiry        string  `yaml:"lock_expiry"`
	} `yaml:"activation"`
	Seed SeedData `yaml:"seed"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
// A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:            "M91-License-Service",
		HTTPPort:             8080,
		GRPCPort:             9090,
		StorageBackend:       StoragePostgres,
		MaxDBConns:           20,
		JWTKeyID:             "m91-license-key-1",
		AllowEphemeralJWT:    true,
		AllowEphemeralTicket: true,
		TicketLifetimeDays:   2,
		ActivationRPS:        5,
		ActivationBurst:      10,
		LockExpiry:           10 * time.Second,
		LockTries:            32,
		AuditTimeout:         2 * time.Second,
		OutboxPollInterval:   2 * time.Second,
		OutboxBatchSize:      100,
		OutboxClaimTTL:       30 * time.Second,
		OutboxMaxRetries:     5,
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := applyFile(&cfg, raw); err != nil {
			return Config{}, err
		}
	case !errors.Is(err, os.ErrNotExist):
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg.ServiceID = envOrDefault("SERVICE_ID", cfg.ServiceID)
	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(envOrDefault("STORAGE_BACKEND", cfg.StorageBackend)))
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.JWTPrivateKeyPEM = envOrDefault("JWT_PRIVATE_KEY_PEM", cfg.JWTPrivateKeyPEM)
	cfg.JWTPublicKeyPEM = envOrDefault("JWT_PUBLIC_KEY_PEM", cfg.JWTPublicKeyPEM)
	cfg.JWTKeyID = envOrDefault("JWT_KEY_ID", cfg.JWTKeyID)
	cfg.AllowEphemeralJWT = envBool("JWT_ALLOW_EPHEMERAL", cfg.AllowEphemeralJWT)
	cfg.TicketPrivateKeyPEM = envOrDefault("TICKET_PRIVATE_KEY_PEM", cfg.TicketPrivateKeyPEM)
	cfg.AllowEphemeralTicket = envBool("TICKET_ALLOW_EPHEMERAL", cfg.AllowEphemeralTicket)
	cfg.TicketLifetimeDays = envInt("TICKET_LIFETIME_DAYS", cfg.TicketLifetimeDays)

	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.ActivationRPS = envFloat("ACTIVATION_RATE_LIMIT_RPS", cfg.ActivationRPS)
	cfg.ActivationBurst = envInt("ACTIVATION_RATE_LIMIT_BURST", cfg.ActivationBurst)
	cfg.TrustProxyHeaders = envBool("TRUSTED_PROXY", cfg.TrustProxyHeaders)
	cfg.LockExpiry = time.Duration(envInt("ACTIVATION_LOCK_EXPIRY_SECONDS", int(cfg.LockExpiry.Seconds()))) * time.Second
	cfg.LockTries = envInt("ACTIVATION_LOCK_TRIES", cfg.LockTries)
	cfg.AuditTimeout = time.Duration(envInt("AUDIT_TIMEOUT_MS", int(cfg.AuditTimeout.Milliseconds()))) * time.Millisecond
	cfg.OutboxPollInterval = time.Duration(envInt("OUTBOX_POLL_SECONDS", int(cfg.OutboxPollInterval.Seconds()))) * time.Second
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxClaimTTL = time.Duration(envInt("OUTBOX_CLAIM_TTL_SECONDS", int(cfg.OutboxClaimTTL.Seconds()))) * time.Second
	cfg.OutboxMaxRetries = envInt("OUTBOX_MAX_RETRIES", cfg.OutboxMaxRetries)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.GRPCPort > 0 {
		cfg.GRPCPort = f.Service.GRPCPort
	}
	if f.Storage.Backend != "" {
		cfg.StorageBackend = f.Storage.Backend
	}
	if f.Dependencies.PostgresURL != "" {
		cfg.DatabaseURL = f.Dependencies.PostgresURL
	}
	if f.Dependencies.RedisURL != "" {
		cfg.RedisURL = f.Dependencies.RedisURL
	}
	if len(f.Dependencies.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = f.Dependencies.KafkaBrokers
	}
	if f.Tickets.LifetimeDays > 0 {
		cfg.TicketLifetimeDays = f.Tickets.LifetimeDays
	}
	if f.Tickets.AllowEphemeral != nil {
		cfg.AllowEphemeralTicket = *f.Tickets.AllowEphemeral
	}
	if f.Activation.RateLimitRPS > 0 {
		cfg.ActivationRPS = f.Activation.RateLimitRPS
	}
	if f.Activation.RateLimitBurst > 0 {
		cfg.ActivationBurst = f.Activation.RateLimitBurst
	}
	if f.Activation.TrustProxyHeaders != nil {
		cfg.TrustProxyHeaders = *f.Activation.TrustProxyHeaders
	}
	if f.Activation.LockExpiry != "" {
		d, err := time.ParseDuration(f.Activation.LockExpiry)
		if err != nil {
			return fmt.Errorf("parse activation.lock_expiry: %w", err)
		}
		cfg.LockExpiry = d
	}
	cfg.Seed = f.Seed
	return nil
}

func (c Config) validate() error {
	switch c.StorageBackend {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("missing DB_URL/POSTGRES_URL for postgres storage")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
	if c.TicketPrivateKeyPEM == "" && !c.AllowEphemeralTicket {
		return fmt.Errorf("missing TICKET_PRIVATE_KEY_PEM")
	}
	if c.JWTPublicKeyPEM == "" && c.JWTPrivateKeyPEM == "" && !c.AllowEphemeralJWT {
		return fmt.Errorf("missing JWT_PUBLIC_KEY_PEM")
	}
	if c.TicketLifetimeDays <= 0 {
		return fmt.Errorf("ticket lifetime must be positive")
	}
	return nil
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	switch os.Getenv(name) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}

// envCSV splits a comma-separated env var, dropping empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
