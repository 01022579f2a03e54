package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiyeovo/kiyeovo/pkg/storage"
)

// ContactStore implements storage.ContactStore for PostgreSQL
type ContactStore struct {
	db *pgxpool.Pool
}

// Put inserts or replaces a contact.
func (c *ContactStore) Put(ctx context.Context, contact *storage.Contact) error {
	query := `
		INSERT INTO contacts (peer_id, signing_pub, offline_pub, bucket_secret, blocked, added_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (peer_id) DO UPDATE SET
			signing_pub = EXCLUDED.signing_pub,
			offline_pub = EXCLUDED.offline_pub,
			bucket_secret = EXCLUDED.bucket_secret,
			blocked = EXCLUDED.blocked
	`
	_, err := c.db.Exec(ctx, query, contact.PeerID, contact.SigningPub, contact.OfflinePub, contact.BucketSecret, contact.Blocked)
	if err != nil {
		return fmt.Errorf("failed to put contact: %w", err)
	}
	return nil
}

// Get retrieves a contact by peer id.
func (c *ContactStore) Get(ctx context.Context, peerID string) (*storage.Contact, error) {
	query := `
		SELECT peer_id, signing_pub, offline_pub, bucket_secret, blocked, added_at
		FROM contacts
		WHERE peer_id = $1
	`
	var contact storage.Contact
	err := c.db.QueryRow(ctx, query, peerID).Scan(
		&contact.PeerID,
		&contact.SigningPub,
		&contact.OfflinePub,
		&contact.BucketSecret,
		&contact.Blocked,
		&contact.AddedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("contact not found: %s", peerID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return &contact, nil
}

// SetBlocked updates a contact's blocked status.
func (c *ContactStore) SetBlocked(ctx context.Context, peerID string, blocked bool) error {
	query := `UPDATE contacts SET blocked = $2 WHERE peer_id = $1`
	result, err := c.db.Exec(ctx, query, peerID, blocked)
	if err != nil {
		return fmt.Errorf("failed to set contact blocked status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("contact not found: %s", peerID)
	}
	return nil
}

// List returns every known contact.
func (c *ContactStore) List(ctx context.Context) ([]*storage.Contact, error) {
	query := `SELECT peer_id, signing_pub, offline_pub, bucket_secret, blocked, added_at FROM contacts`
	rows, err := c.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*storage.Contact
	for rows.Next() {
		var contact storage.Contact
		if err := rows.Scan(&contact.PeerID, &contact.SigningPub, &contact.OfflinePub, &contact.BucketSecret, &contact.Blocked, &contact.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, &contact)
	}
	return contacts, rows.Err()
}
