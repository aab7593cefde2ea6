package store

import (
	"context"
	"database/sql"
	"strings"
)

func touchHandle(ctx context.Context, tx *sql.Tx, chatIdentifier, handleID string, ms int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO handle_timestamps (chat_identifier, handle_id, last_sent_ms)
		VALUES (?, ?, ?)
		ON CONFLICT(chat_identifier, handle_id) DO UPDATE SET
			last_sent_ms = MAX(handle_timestamps.last_sent_ms, excluded.last_sent_ms)`,
		chatIdentifier, handleID, ms)
	return err
}

// HandleTimestampRecords returns the last-sent times of every handle in the
// given chats, newest first within each chat.
func (db *DB) HandleTimestampRecords(ctx context.Context, chatIdentifiers []string) ([]HandleTimestamp, error) {
	if len(chatIdentifiers) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chatIdentifiers)), ",")
	args := make([]any, len(chatIdentifiers))
	for i, id := range chatIdentifiers {
		args[i] = id
	}
	rows, err := db.QueryContext(ctx, `
		SELECT chat_identifier, handle_id, last_sent_ms
		FROM handle_timestamps
		WHERE chat_identifier IN (`+placeholders+`)
		ORDER BY chat_identifier, last_sent_ms DESC, handle_id`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []HandleTimestamp
	for rows.Next() {
		var h HandleTimestamp
		if err := rows.Scan(&h.ChatIdentifier, &h.HandleID, &h.LastSentMs); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
