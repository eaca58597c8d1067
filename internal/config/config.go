package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port         int
	MasterSecret string
	GinMode      string
	TLSCertFile  string
	TLSKeyFile   string
	TokenExpiry  time.Duration

	// SessionTTL bounds instant sessions; permanent sessions never expire.
	SessionTTL time.Duration
	// ReaperInterval is how often the background sweep runs.
	ReaperInterval time.Duration
	// ExpiredRetention keeps terminal session records readable for audit
	// correlation before physical deletion.
	ExpiredRetention time.Duration
	// AuditRetention bounds the in-memory audit window.
	AuditRetention time.Duration
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

func LoadConfig() (Config, error) {
	return LoadConfigFromEnv(osEnv{})
}

func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := Config{
		Port:             3000,
		GinMode:          "release",
		TokenExpiry:      7 * 24 * time.Hour,
		SessionTTL:       10 * time.Minute,
		ReaperInterval:   30 * time.Second,
		ExpiredRetention: 5 * time.Minute,
		AuditRetention:   90 * 24 * time.Hour,
	}

	if raw := env.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid PORT")
		}
		cfg.Port = port
	}

	cfg.MasterSecret = env.Getenv("MASTER_SECRET")
	if cfg.MasterSecret == "" {
		return Config{}, fmt.Errorf("MASTER_SECRET is required")
	}

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}

	cfg.TLSCertFile = env.Getenv("TLS_CERT_FILE")
	cfg.TLSKeyFile = env.Getenv("TLS_KEY_FILE")

	var err error
	if cfg.TokenExpiry, err = secondsVar(env, "TOKEN_EXPIRY_SECONDS", cfg.TokenExpiry); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = secondsVar(env, "SESSION_TTL_SECONDS", cfg.SessionTTL); err != nil {
		return Config{}, err
	}
	if cfg.ReaperInterval, err = secondsVar(env, "REAPER_INTERVAL_SECONDS", cfg.ReaperInterval); err != nil {
		return Config{}, err
	}
	if cfg.ExpiredRetention, err = secondsVar(env, "EXPIRED_RETENTION_SECONDS", cfg.ExpiredRetention); err != nil {
		return Config{}, err
	}

	if raw := env.Getenv("AUDIT_RETENTION_DAYS"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days <= 0 {
			return Config{}, fmt.Errorf("invalid AUDIT_RETENTION_DAYS")
		}
		cfg.AuditRetention = time.Duration(days) * 24 * time.Hour
	}

	return cfg, nil
}

func secondsVar(env Env, key string, fallback time.Duration) (time.Duration, error) {
	raw := env.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return time.Duration(seconds) * time.Second, nil
}
