package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Site      SiteConfig      `yaml:"site"`
	Redis     RedisConfig     `yaml:"redis"`
	Admin     AdminConfig     `yaml:"admin"`
	Export    ExportConfig    `yaml:"export"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Repair    RepairConfig    `yaml:"repair"`
	Chat      ChatConfig      `yaml:"chat"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// SiteConfig holds the values bound into the informational pages
type SiteConfig struct {
	CompanyName  string `yaml:"company_name"`
	ContactEmail string `yaml:"contact_email"`
	LegalUpdated string `yaml:"legal_updated"` // Format: "2026-01-15"
}

// RedisConfig holds the hosted key-value store connection
type RedisConfig struct {
	URL                string `yaml:"url"`
	PingTimeoutSeconds int    `yaml:"ping_timeout_seconds"`
}

// AdminConfig holds the dashboard login settings. The password is only ever
// compared on the server.
type AdminConfig struct {
	Password          string `yaml:"password"`
	CookieName        string `yaml:"cookie_name"`
	SessionTTLMinutes int    `yaml:"session_ttl_minutes"`
	SecureCookie      bool   `yaml:"secure_cookie"`
}

// ExportConfig selects where export runs are written
type ExportConfig struct {
	Type       string `yaml:"type"` // "local" or "aws"
	LocalPath  string `yaml:"local_path"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Prefix   string `yaml:"s3_prefix"`
	AWSRegion  string `yaml:"aws_region"`
	AWSProfile string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c ExportConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// ReconcileConfig holds reconciler settings
type ReconcileConfig struct {
	// Denylist names keys known to be unrecoverable. They are skipped without
	// touching the store.
	Denylist []string `yaml:"denylist"`
}

// RepairConfig holds defaults for the offline repair utility
type RepairConfig struct {
	RecoverFromSets bool `yaml:"recover_from_sets"`
	LockTTLSeconds  int  `yaml:"lock_ttl_seconds"`
}

// ChatConfig holds the FAQ chat widget settings
type ChatConfig struct {
	Enabled   bool   `yaml:"enabled"` // enables the LLM responder; FAQ matching is always on
	ModelID   string `yaml:"model_id"`
	Region    string `yaml:"region"`
	MaxTokens int    `yaml:"max_tokens"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// ShouldRedact reports whether PII redaction is on. Defaults to true.
func (c LoggingConfig) ShouldRedact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// MetricsConfig holds Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied. Used when no
// config file is present (tests, the repair CLI).
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:8080"}
	}
	if cfg.Site.CompanyName == "" {
		cfg.Site.CompanyName = "Ledgerline"
	}
	if cfg.Site.ContactEmail == "" {
		cfg.Site.ContactEmail = "hello@ledgerline.co"
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = "redis://localhost:6379/0"
	}
	if cfg.Redis.PingTimeoutSeconds == 0 {
		cfg.Redis.PingTimeoutSeconds = 3
	}
	if cfg.Admin.CookieName == "" {
		cfg.Admin.CookieName = "ledgerline_admin"
	}
	if cfg.Admin.SessionTTLMinutes == 0 {
		cfg.Admin.SessionTTLMinutes = 8 * 60
	}
	if cfg.Export.Type == "" {
		cfg.Export.Type = "local"
	}
	if cfg.Export.LocalPath == "" {
		cfg.Export.LocalPath = os.TempDir() + "/ledgerline-exports"
	}
	if cfg.Export.S3Prefix == "" {
		cfg.Export.S3Prefix = "exports"
	}
	if cfg.Export.AWSRegion == "" {
		cfg.Export.AWSRegion = "us-east-1"
	}
	if cfg.Repair.LockTTLSeconds == 0 {
		cfg.Repair.LockTTLSeconds = 600
	}
	if cfg.Chat.ModelID == "" {
		cfg.Chat.ModelID = "anthropic.claude-3-haiku-20240307-v1:0"
	}
	if cfg.Chat.Region == "" {
		cfg.Chat.Region = "us-east-1"
	}
	if cfg.Chat.MaxTokens == 0 {
		cfg.Chat.MaxTokens = 512
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
// A missing config file is not an error; defaults are used instead.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = Default()
	}

	cfg.applyEnv()
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	// REDIS_ADDR is accepted as a fallback, matching older deployments
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	} else if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("ADMIN_PASSWORD"); v != "" {
		cfg.Admin.Password = v
	}
	if v := os.Getenv("EXPORT_LOCAL_PATH"); v != "" {
		cfg.Export.LocalPath = v
	}
	if v := os.Getenv("EXPORT_S3_BUCKET"); v != "" {
		cfg.Export.S3Bucket = v
		cfg.Export.Type = "aws"
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Export.AWSRegion = v
		cfg.Chat.Region = v
	}
	if v := os.Getenv("BEDROCK_MODEL_ID"); v != "" {
		cfg.Chat.ModelID = v
		cfg.Chat.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RECONCILE_DENYLIST"); v != "" {
		for _, key := range strings.Split(v, ",") {
			if key = strings.TrimSpace(key); key != "" {
				cfg.Reconcile.Denylist = append(cfg.Reconcile.Denylist, key)
			}
		}
	}
}
