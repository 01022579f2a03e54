package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiyeovo/kiyeovo/pkg/storage"
)

// GroupStateStore implements storage.GroupStateStore for PostgreSQL.
type GroupStateStore struct {
	db *pgxpool.Pool
}

func (g *GroupStateStore) InsertPendingAck(ctx context.Context, ack *storage.PendingAck) error {
	query := `
		INSERT INTO pending_acks (message_id, invite_id, group_id, kind, target_peer_id, payload, created_at, expires_at, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (message_id) DO UPDATE SET attempts = pending_acks.attempts + 1
	`
	_, err := g.db.Exec(ctx, query,
		ack.MessageID, ack.InviteID, ack.GroupID, ack.Kind, ack.TargetPeerID, ack.Payload,
		ack.CreatedAt, ack.ExpiresAt, ack.Attempts,
	)
	if err != nil {
		return fmt.Errorf("failed to insert pending ack: %w", err)
	}
	return nil
}

func (g *GroupStateStore) RemovePendingAck(ctx context.Context, messageID string) error {
	_, err := g.db.Exec(ctx, `DELETE FROM pending_acks WHERE message_id = $1`, messageID)
	if err != nil {
		return fmt.Errorf("failed to remove pending ack: %w", err)
	}
	return nil
}

func (g *GroupStateStore) GetPendingAcksForGroup(ctx context.Context, groupID string) ([]*storage.PendingAck, error) {
	query := `
		SELECT message_id, invite_id, group_id, kind, target_peer_id, payload, created_at, expires_at, attempts
		FROM pending_acks WHERE group_id = $1
	`
	rows, err := g.db.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending acks: %w", err)
	}
	defer rows.Close()

	var acks []*storage.PendingAck
	for rows.Next() {
		var ack storage.PendingAck
		if err := rows.Scan(&ack.MessageID, &ack.InviteID, &ack.GroupID, &ack.Kind, &ack.TargetPeerID, &ack.Payload,
			&ack.CreatedAt, &ack.ExpiresAt, &ack.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan pending ack: %w", err)
		}
		acks = append(acks, &ack)
	}
	return acks, rows.Err()
}

func (g *GroupStateStore) GetMemberSeq(ctx context.Context, groupID, senderPubKey string, epoch int) (*storage.MemberSeq, error) {
	query := `
		SELECT group_id, sender_pub_key, epoch, highest_seq, updated_at
		FROM member_seqs WHERE group_id = $1 AND sender_pub_key = $2 AND epoch = $3
	`
	var seq storage.MemberSeq
	err := g.db.QueryRow(ctx, query, groupID, senderPubKey, epoch).Scan(
		&seq.GroupID, &seq.SenderPubKey, &seq.Epoch, &seq.HighestSeq, &seq.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member seq: %w", err)
	}
	return &seq, nil
}

func (g *GroupStateStore) UpdateMemberSeq(ctx context.Context, groupID, senderPubKey string, epoch int, seq int64) error {
	query := `
		INSERT INTO member_seqs (group_id, sender_pub_key, epoch, highest_seq, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (group_id, sender_pub_key, epoch)
		DO UPDATE SET highest_seq = GREATEST(member_seqs.highest_seq, $4), updated_at = $5
	`
	_, err := g.db.Exec(ctx, query, groupID, senderPubKey, epoch, seq, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update member seq: %w", err)
	}
	return nil
}

func (g *GroupStateStore) GetGroupKeyForEpoch(ctx context.Context, groupID string, epoch int) (*storage.GroupEpochKey, error) {
	query := `SELECT group_id, epoch, key, created_at FROM group_epoch_keys WHERE group_id = $1 AND epoch = $2`
	var key storage.GroupEpochKey
	err := g.db.QueryRow(ctx, query, groupID, epoch).Scan(&key.GroupID, &key.Epoch, &key.Key, &key.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("no key stored for group %s epoch %d", groupID, epoch)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group epoch key: %w", err)
	}
	return &key, nil
}

func (g *GroupStateStore) PutGroupKeyForEpoch(ctx context.Context, key *storage.GroupEpochKey) error {
	query := `
		INSERT INTO group_epoch_keys (group_id, epoch, key, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (group_id, epoch) DO UPDATE SET key = $3
	`
	_, err := g.db.Exec(ctx, query, key.GroupID, key.Epoch, key.Key, key.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to put group epoch key: %w", err)
	}
	return nil
}

func (g *GroupStateStore) GetGroupOfflineCursor(ctx context.Context, groupID, readerID string) (*storage.GroupOfflineCursor, error) {
	query := `SELECT group_id, reader_id, position, updated_at FROM group_offline_cursors WHERE group_id = $1 AND reader_id = $2`
	var cursor storage.GroupOfflineCursor
	err := g.db.QueryRow(ctx, query, groupID, readerID).Scan(&cursor.GroupID, &cursor.ReaderID, &cursor.Position, &cursor.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group offline cursor: %w", err)
	}
	return &cursor, nil
}

func (g *GroupStateStore) UpsertGroupOfflineCursor(ctx context.Context, cursor *storage.GroupOfflineCursor) error {
	query := `
		INSERT INTO group_offline_cursors (group_id, reader_id, position, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (group_id, reader_id) DO UPDATE SET position = $3, updated_at = $4
	`
	_, err := g.db.Exec(ctx, query, cursor.GroupID, cursor.ReaderID, cursor.Position, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert group offline cursor: %w", err)
	}
	return nil
}

func (g *GroupStateStore) RecordFailedLoginAttempt(ctx context.Context, identityID string, cooldownUntil time.Time) error {
	query := `
		INSERT INTO login_attempts (identity_id, attempts, last_attempt, cooldown_until)
		VALUES ($1, 1, $2, $3)
		ON CONFLICT (identity_id) DO UPDATE SET
			attempts = login_attempts.attempts + 1,
			last_attempt = $2,
			cooldown_until = $3
	`
	_, err := g.db.Exec(ctx, query, identityID, time.Now(), cooldownUntil)
	if err != nil {
		return fmt.Errorf("failed to record failed login attempt: %w", err)
	}
	return nil
}

func (g *GroupStateStore) CheckLoginCooldown(ctx context.Context, identityID string) (*storage.LoginAttempt, error) {
	query := `SELECT identity_id, attempts, last_attempt, cooldown_until FROM login_attempts WHERE identity_id = $1`
	var attempt storage.LoginAttempt
	err := g.db.QueryRow(ctx, query, identityID).Scan(&attempt.IdentityID, &attempt.Attempts, &attempt.LastAttempt, &attempt.CooldownUntil)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check login cooldown: %w", err)
	}
	return &attempt, nil
}

func (g *GroupStateStore) ClearLoginAttempts(ctx context.Context, identityID string) error {
	_, err := g.db.Exec(ctx, `DELETE FROM login_attempts WHERE identity_id = $1`, identityID)
	if err != nil {
		return fmt.Errorf("failed to clear login attempts: %w", err)
	}
	return nil
}
