package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiyeovo/kiyeovo/pkg/storage"
)

// Store implements the storage.Store interface for PostgreSQL
type Store struct {
	pool       *pgxpool.Pool
	session    *SessionStore
	nonce      *NonceStore
	groupState *GroupStateStore
	contact    *ContactStore
}

// Config holds PostgreSQL connection configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewStore creates a new PostgreSQL store
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{
		pool: pool,
	}

	// Initialize sub-stores
	store.session = &SessionStore{db: pool}
	store.nonce = &NonceStore{db: pool}
	store.groupState = &GroupStateStore{db: pool}
	store.contact = &ContactStore{db: pool}

	return store, nil
}

// SessionStore returns the session store
func (s *Store) SessionStore() storage.SessionStore {
	return s.session
}

// NonceStore returns the nonce store
func (s *Store) NonceStore() storage.NonceStore {
	return s.nonce
}

// GroupStateStore returns the group control-plane state store
func (s *Store) GroupStateStore() storage.GroupStateStore {
	return s.groupState
}

// ContactStore returns the contact directory store
func (s *Store) ContactStore() storage.ContactStore {
	return s.contact
}

// Close closes the database connection pool
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
