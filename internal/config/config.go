package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/psillyops/psillyops-backend/internal/logger"
	"github.com/psillyops/psillyops-backend/internal/utils"
)

type Config struct {
	Port            string
	LogMode         string
	CORSOrigins     []string
	JWTSecret       string
	AccessTokenTTL  time.Duration
	StallThreshold  time.Duration
	ActiveRunWindow time.Duration
}

// fileConfig is the YAML shape; durations are Go duration strings ("4h").
type fileConfig struct {
	Port            string   `yaml:"port"`
	LogMode         string   `yaml:"log_mode"`
	CORSOrigins     []string `yaml:"cors_origins"`
	JWTSecret       string   `yaml:"jwt_secret"`
	AccessTokenTTL  string   `yaml:"access_token_ttl"`
	StallThreshold  string   `yaml:"stall_threshold"`
	ActiveRunWindow string   `yaml:"active_run_window"`
}

func defaults() Config {
	return Config{
		Port:    "8080",
		LogMode: "development",
		CORSOrigins: []string{
			"http://localhost:3000",
			"http://localhost:5173",
		},
		JWTSecret:       "defaultsecret",
		AccessTokenTTL:  time.Hour,
		StallThreshold:  4 * time.Hour,
		ActiveRunWindow: 7 * 24 * time.Hour,
	}
}

// Load reads an optional YAML file (CONFIG_PATH, default config.yaml) and
// applies env var overrides on top.
func Load(log *logger.Logger) Config {
	cfg := defaults()

	path := utils.GetEnv("CONFIG_PATH", "config.yaml", log)
	raw, err := os.ReadFile(path)
	if err == nil {
		var fc fileConfig
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			log.Warn("Failed to parse config file, using defaults", "path", path, "error", err)
		} else {
			applyFile(&cfg, fc, log)
		}
	} else if !os.IsNotExist(err) {
		log.Warn("Failed to read config file", "path", path, "error", err)
	}

	cfg.Port = utils.GetEnv("PORT", cfg.Port, log)
	cfg.LogMode = utils.GetEnv("LOG_MODE", cfg.LogMode, log)
	cfg.JWTSecret = utils.GetEnv("JWT_SECRET_KEY", cfg.JWTSecret, log)
	cfg.AccessTokenTTL = utils.GetEnvAsDuration("ACCESS_TOKEN_TTL", cfg.AccessTokenTTL, log)
	cfg.StallThreshold = utils.GetEnvAsDuration("STALL_THRESHOLD", cfg.StallThreshold, log)
	cfg.ActiveRunWindow = utils.GetEnvAsDuration("ACTIVE_RUN_WINDOW", cfg.ActiveRunWindow, log)

	return cfg
}

func applyFile(cfg *Config, fc fileConfig, log *logger.Logger) {
	if fc.Port != "" {
		cfg.Port = fc.Port
	}
	if fc.LogMode != "" {
		cfg.LogMode = fc.LogMode
	}
	if len(fc.CORSOrigins) > 0 {
		cfg.CORSOrigins = fc.CORSOrigins
	}
	if fc.JWTSecret != "" {
		cfg.JWTSecret = fc.JWTSecret
	}
	cfg.AccessTokenTTL = parseFileDuration(fc.AccessTokenTTL, cfg.AccessTokenTTL, "access_token_ttl", log)
	cfg.StallThreshold = parseFileDuration(fc.StallThreshold, cfg.StallThreshold, "stall_threshold", log)
	cfg.ActiveRunWindow = parseFileDuration(fc.ActiveRunWindow, cfg.ActiveRunWindow, "active_run_window", log)
}

func parseFileDuration(raw string, fallback time.Duration, field string, log *logger.Logger) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Warn("Invalid duration in config file, using default", "field", field, "value", raw, "error", err)
		return fallback
	}
	return d
}
