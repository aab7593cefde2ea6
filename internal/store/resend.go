package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// QueueResend records a new resend attempt in the queued state.
func (db *DB) QueueResend(ctx context.Context, a *ResendAttempt) (string, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO resend_attempts (id, message_guid, leaf_guid, from_service, target_service, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'queued', ?, ?)`,
		a.ID, a.MessageGUID, a.LeafGUID, a.FromService, a.TargetService, now, now)
	if err != nil {
		return "", err
	}
	a.Status = "queued"
	return a.ID, nil
}

// FinishResend moves an attempt to a terminal status.
func (db *DB) FinishResend(ctx context.Context, id, status, errMsg string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE resend_attempts SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		status, errMsg, time.Now().UnixMilli(), id)
	return err
}

// ResendAttempts lists the attempts made for one message, oldest first.
func (db *DB) ResendAttempts(ctx context.Context, messageGUID string) ([]ResendAttempt, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, message_guid, leaf_guid, from_service, target_service, status, error_message
		FROM resend_attempts
		WHERE message_guid = ?
		ORDER BY created_at ASC, rowid ASC`, messageGUID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ResendAttempt
	for rows.Next() {
		var a ResendAttempt
		if err := rows.Scan(&a.ID, &a.MessageGUID, &a.LeafGUID, &a.FromService, &a.TargetService, &a.Status, &a.ErrorMessage); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
