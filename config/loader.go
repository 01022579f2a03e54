package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// LoaderOptions configures the configuration loader
type LoaderOptions struct {
	// ConfigDir is the directory containing config files (default: ./config)
	ConfigDir string
	// Environment overrides automatic environment detection
	Environment string
	// SkipEnvSubstitution disables environment variable substitution
	SkipEnvSubstitution bool
	// SkipValidation disables configuration validation
	SkipValidation bool
}

// DefaultLoaderOptions returns default loader options
func DefaultLoaderOptions() LoaderOptions {
	return LoaderOptions{
		ConfigDir:           "config",
		Environment:         "",
		SkipEnvSubstitution: false,
		SkipValidation:      false,
	}
}

// Load loads configuration with automatic environment detection
func Load(opts ...LoaderOptions) (*Config, error) {
	options := DefaultLoaderOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	env := options.Environment
	if env == "" {
		env = GetEnvironment()
	}

	envConfigPath := filepath.Join(options.ConfigDir, fmt.Sprintf("%s.yaml", env))
	cfg, err := loadConfigFile(envConfigPath)
	if err != nil {
		defaultConfigPath := filepath.Join(options.ConfigDir, "default.yaml")
		cfg, err = loadConfigFile(defaultConfigPath)
		if err != nil {
			configPath := filepath.Join(options.ConfigDir, "config.yaml")
			cfg, err = loadConfigFile(configPath)
			if err != nil {
				cfg = &Config{}
			}
		}
	}

	if cfg.Environment == "" {
		cfg.Environment = env
	}

	setDefaults(cfg)

	if !options.SkipEnvSubstitution {
		SubstituteEnvVarsInConfig(cfg)
	}

	applyEnvironmentOverrides(cfg)

	if !options.SkipValidation {
		issues := Validate(cfg)
		for _, issue := range issues {
			if issue.Level == "error" {
				return nil, fmt.Errorf("configuration validation failed: %s - %s", issue.Field, issue.Message)
			}
		}
	}

	return cfg, nil
}

// loadConfigFile loads a single config file
func loadConfigFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	return LoadFromFile(path)
}

// applyEnvironmentOverrides overrides config with environment variables.
// These take priority over both the config file and ${VAR} substitution.
func applyEnvironmentOverrides(cfg *Config) {
	if n := os.Getenv("IDENTITY_SCRYPT_N"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			cfg.Identity.ScryptN = v
		}
	}
	if d := os.Getenv("CRYPTO_TIMEOUT"); d != "" {
		if v, err := time.ParseDuration(d); err == nil {
			cfg.Identity.CryptoTimeout = v
		}
	}
	if d := os.Getenv("MAX_KEY_EXCHANGE_AGE"); d != "" {
		if v, err := time.ParseDuration(d); err == nil {
			cfg.Session.MaxKeyExchangeAge = v
		}
	}
	if n := os.Getenv("KEY_EXCHANGE_RATE_LIMIT"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			cfg.Session.KeyExchangeRateLimit = v
		}
	}
	if d := os.Getenv("MESSAGE_TIMEOUT"); d != "" {
		if v, err := time.ParseDuration(d); err == nil {
			cfg.Transport.MessageTimeout = v
		}
	}
	if d := os.Getenv("SESSION_MANAGER_CLEANUP_INTERVAL"); d != "" {
		if v, err := time.ParseDuration(d); err == nil {
			cfg.Session.CleanupInterval = v
		}
	}
	if n := os.Getenv("MAX_MESSAGES_PER_STORE"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			cfg.Offline.MaxMessagesPerStore = v
		}
	}
	if d := os.Getenv("MESSAGE_TTL"); d != "" {
		if v, err := time.ParseDuration(d); err == nil {
			cfg.Offline.MessageTTL = v
		}
	}
	if n := os.Getenv("CHATS_TO_CHECK_FOR_OFFLINE_MESSAGES"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			cfg.Offline.ChatsToCheck = v
		}
	}
	if n := os.Getenv("GROUP_MAX_MEMBERS"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			cfg.Group.MaxMembers = v
		}
	}
	if d := os.Getenv("GROUP_INVITE_LIFETIME"); d != "" {
		if v, err := time.ParseDuration(d); err == nil {
			cfg.Group.InviteLifetime = v
		}
	}
	if n := os.Getenv("GROUP_MAX_MESSAGES_PER_SENDER"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			cfg.Group.MaxMessagesPerSender = v
		}
	}
	if ms := os.Getenv("GROUP_OFFLINE_MESSAGE_TTL_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil {
			cfg.Group.OfflineMessageTTL = time.Duration(v) * time.Millisecond
		}
	}
	if n := os.Getenv("GROUP_OFFLINE_STORE_MAX_COMPRESSED_BYTES"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			cfg.Group.OfflineStoreMaxCompressed = v
		}
	}
	if ms := os.Getenv("GROUP_OFFLINE_CLEANUP_INTERVAL_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil {
			cfg.Group.OfflineCleanupInterval = time.Duration(v) * time.Millisecond
		}
	}
	if ms := os.Getenv("GROUP_OFFLINE_LOCAL_CACHE_TTL_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil {
			cfg.Group.OfflineLocalCacheTTL = time.Duration(v) * time.Millisecond
		}
	}
	if n := os.Getenv("GROUP_OFFLINE_LOCAL_CACHE_MAX_ENTRIES"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			cfg.Group.OfflineLocalCacheMaxSize = v
		}
	}
	if ms := os.Getenv("GROUP_ROTATION_GRACE_WINDOW_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil {
			cfg.Group.RotationGraceWindow = time.Duration(v) * time.Millisecond
		}
	}

	if logLevel := os.Getenv("KIYEOVO_LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat := os.Getenv("KIYEOVO_LOG_FORMAT"); logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if os.Getenv("KIYEOVO_METRICS_ENABLED") == "true" {
		cfg.Metrics.Enabled = true
	}
	if os.Getenv("KIYEOVO_METRICS_ENABLED") == "false" {
		cfg.Metrics.Enabled = false
	}
	if dsn := os.Getenv("KIYEOVO_STORAGE_DSN"); dsn != "" {
		cfg.Storage.DSN = dsn
	}
}

// LoadForEnvironment loads configuration for a specific environment
func LoadForEnvironment(environment string) (*Config, error) {
	return Load(LoaderOptions{
		ConfigDir:   "config",
		Environment: environment,
	})
}

// MustLoad loads configuration or panics on error
func MustLoad(opts ...LoaderOptions) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
