// Package config provides configuration management for the Kiyeovo daemon.
package config

import "time"

// Config is the root configuration structure. It is loaded from a
// YAML or JSON file and then overridden by environment variables, in
// that priority order (file < env).
type Config struct {
	Environment string         `yaml:"environment" json:"environment"`
	Identity    IdentityConfig `yaml:"identity" json:"identity"`
	Session     SessionConfig  `yaml:"session" json:"session"`
	Transport   TransportConfig `yaml:"transport" json:"transport"`
	Offline     OfflineConfig  `yaml:"offline" json:"offline"`
	Group       GroupConfig    `yaml:"group" json:"group"`
	Storage     StorageConfig  `yaml:"storage" json:"storage"`
	Logging     LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics     MetricsConfig  `yaml:"metrics" json:"metrics"`
	Health      HealthConfig   `yaml:"health" json:"health"`
}

// IdentityConfig configures the identity vault (C1).
type IdentityConfig struct {
	// ScryptN is the scrypt CPU/memory cost parameter used to derive
	// the vault's encryption key from the user's password.
	ScryptN int `yaml:"scrypt_n" json:"scrypt_n"`
	// CryptoTimeout bounds the identity vault unlock (scrypt KDF and
	// decryption) so a slow unlock can't hang the caller.
	CryptoTimeout time.Duration `yaml:"crypto_timeout" json:"crypto_timeout"`
	// KeyDir is where the encrypted vault file is persisted.
	KeyDir string `yaml:"key_dir" json:"key_dir"`
	// NotifyKeyRotationInterval is how often the daemon rotates the
	// identity's push-notification sealing key (NotifyKey).
	NotifyKeyRotationInterval time.Duration `yaml:"notify_key_rotation_interval" json:"notify_key_rotation_interval"`
}

// SessionConfig configures the session manager (C2) and the direct
// key-exchange handshake (C3).
type SessionConfig struct {
	// IdleTTL evicts a session after this long without activity.
	IdleTTL time.Duration `yaml:"idle_ttl" json:"idle_ttl"`
	// CleanupInterval is how often the background sweep runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
	// MaxKeyExchangeAge rejects a key-exchange message whose
	// timestamp is older than this.
	MaxKeyExchangeAge time.Duration `yaml:"max_key_exchange_age" json:"max_key_exchange_age"`
	// KeyExchangeRateLimit caps key-exchange attempts per peer per
	// window; exceeding it returns RateLimited.
	KeyExchangeRateLimit int `yaml:"key_exchange_rate_limit" json:"key_exchange_rate_limit"`
}

// TransportConfig configures the direct transport (C3).
type TransportConfig struct {
	// MessageTimeout bounds a direct send's dial/write race.
	MessageTimeout time.Duration `yaml:"message_timeout" json:"message_timeout"`
	// RotationThreshold is the per-session message count that triggers
	// a fresh key exchange before the next send.
	RotationThreshold int `yaml:"rotation_threshold" json:"rotation_threshold"`
	// ListenAddrs are the multiaddrs the libp2p host listens on.
	ListenAddrs []string `yaml:"listen_addrs" json:"listen_addrs"`
	// BootstrapPeers seeds the Kademlia routing table.
	BootstrapPeers []string `yaml:"bootstrap_peers" json:"bootstrap_peers"`
}

// OfflineConfig configures the direct offline bucket engine (C4).
type OfflineConfig struct {
	MaxMessagesPerStore int           `yaml:"max_messages_per_store" json:"max_messages_per_store"`
	MessageTTL          time.Duration `yaml:"message_ttl" json:"message_ttl"`
	ChatsToCheck        int           `yaml:"chats_to_check_for_offline_messages" json:"chats_to_check_for_offline_messages"`
}

// GroupConfig configures the group control plane (C5) and group
// offline epochs (C6).
type GroupConfig struct {
	MaxMembers                int           `yaml:"max_members" json:"max_members"`
	InviteLifetime             time.Duration `yaml:"invite_lifetime" json:"invite_lifetime"`
	MaxMessagesPerSender       int           `yaml:"max_messages_per_sender" json:"max_messages_per_sender"`
	OfflineMessageTTL          time.Duration `yaml:"offline_message_ttl" json:"offline_message_ttl"`
	OfflineStoreMaxCompressed  int           `yaml:"offline_store_max_compressed_bytes" json:"offline_store_max_compressed_bytes"`
	OfflineCleanupInterval     time.Duration `yaml:"offline_cleanup_interval" json:"offline_cleanup_interval"`
	OfflineLocalCacheTTL       time.Duration `yaml:"offline_local_cache_ttl" json:"offline_local_cache_ttl"`
	OfflineLocalCacheMaxSize   int           `yaml:"offline_local_cache_max_entries" json:"offline_local_cache_max_entries"`
	RotationGraceWindow        time.Duration `yaml:"rotation_grace_window" json:"rotation_grace_window"`
}

// StorageConfig selects and configures the Database collaborator
// backend (pgx-backed Postgres, or an in-memory store for tests).
type StorageConfig struct {
	Type string `yaml:"type" json:"type"` // postgres, memory
	DSN  string `yaml:"dsn" json:"dsn"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json, pretty
	Output string `yaml:"output" json:"output"` // stdout, stderr, file path
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig configures the readiness/liveness endpoint.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}
