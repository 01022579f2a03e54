package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)

	return cfg, nil
}

// SaveToFile saves configuration to a file, choosing the format by extension.
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if len(path) > 5 && path[len(path)-5:] == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setDefaults fills in zero-valued fields with the Kiyeovo defaults.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Identity.ScryptN == 0 {
		cfg.Identity.ScryptN = 1 << 15 // N=32768, per scrypt interactive-use guidance
	}
	if cfg.Identity.CryptoTimeout == 0 {
		cfg.Identity.CryptoTimeout = 60 * time.Second
	}
	if cfg.Identity.KeyDir == "" {
		cfg.Identity.KeyDir = ".kiyeovo/identity"
	}
	if cfg.Identity.NotifyKeyRotationInterval == 0 {
		cfg.Identity.NotifyKeyRotationInterval = 30 * 24 * time.Hour
	}

	if cfg.Session.IdleTTL == 0 {
		cfg.Session.IdleTTL = 5 * time.Minute
	}
	if cfg.Session.CleanupInterval == 0 {
		cfg.Session.CleanupInterval = 1 * time.Minute
	}
	if cfg.Session.MaxKeyExchangeAge == 0 {
		cfg.Session.MaxKeyExchangeAge = 2 * time.Minute
	}
	if cfg.Session.KeyExchangeRateLimit == 0 {
		cfg.Session.KeyExchangeRateLimit = 5
	}

	if cfg.Transport.MessageTimeout == 0 {
		cfg.Transport.MessageTimeout = 15 * time.Second
	}
	if cfg.Transport.RotationThreshold == 0 {
		cfg.Transport.RotationThreshold = 1000
	}

	if cfg.Offline.MaxMessagesPerStore == 0 {
		cfg.Offline.MaxMessagesPerStore = 200
	}
	if cfg.Offline.MessageTTL == 0 {
		cfg.Offline.MessageTTL = 14 * 24 * time.Hour
	}
	if cfg.Offline.ChatsToCheck == 0 {
		cfg.Offline.ChatsToCheck = 50
	}

	if cfg.Group.MaxMembers == 0 {
		cfg.Group.MaxMembers = 256
	}
	if cfg.Group.InviteLifetime == 0 {
		cfg.Group.InviteLifetime = 72 * time.Hour
	}
	if cfg.Group.MaxMessagesPerSender == 0 {
		cfg.Group.MaxMessagesPerSender = 500
	}
	if cfg.Group.OfflineMessageTTL == 0 {
		cfg.Group.OfflineMessageTTL = 14 * 24 * time.Hour
	}
	if cfg.Group.OfflineStoreMaxCompressed == 0 {
		cfg.Group.OfflineStoreMaxCompressed = 512 * 1024
	}
	if cfg.Group.OfflineCleanupInterval == 0 {
		cfg.Group.OfflineCleanupInterval = 5 * time.Minute
	}
	if cfg.Group.OfflineLocalCacheTTL == 0 {
		cfg.Group.OfflineLocalCacheTTL = 30 * time.Second
	}
	if cfg.Group.OfflineLocalCacheMaxSize == 0 {
		cfg.Group.OfflineLocalCacheMaxSize = 1000
	}
	if cfg.Group.RotationGraceWindow == 0 {
		cfg.Group.RotationGraceWindow = 10 * time.Minute
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "memory"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Health.Addr == "" {
		cfg.Health.Addr = ":8090"
	}
	if cfg.Health.Path == "" {
		cfg.Health.Path = "/healthz"
	}
}

// ValidationIssue describes a configuration problem found by Validate.
type ValidationIssue struct {
	Field   string
	Message string
	Level   string // "error" or "warn"
}

// Validate checks a config for internally inconsistent or out-of-range values.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.Identity.ScryptN <= 0 || cfg.Identity.ScryptN&(cfg.Identity.ScryptN-1) != 0 {
		issues = append(issues, ValidationIssue{
			Field: "identity.scrypt_n", Message: "must be a power of two", Level: "error",
		})
	}
	if cfg.Session.IdleTTL <= 0 {
		issues = append(issues, ValidationIssue{
			Field: "session.idle_ttl", Message: "must be positive", Level: "error",
		})
	}
	if cfg.Offline.MaxMessagesPerStore <= 0 {
		issues = append(issues, ValidationIssue{
			Field: "offline.max_messages_per_store", Message: "must be positive", Level: "error",
		})
	}
	if cfg.Group.MaxMembers < 2 {
		issues = append(issues, ValidationIssue{
			Field: "group.max_members", Message: "a group needs at least 2 members", Level: "error",
		})
	}
	if cfg.Storage.Type == "postgres" && cfg.Storage.DSN == "" {
		issues = append(issues, ValidationIssue{
			Field: "storage.dsn", Message: "required when storage.type is postgres", Level: "error",
		})
	}

	return issues
}
