package sync

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/imcore/internal/store"
)

// Checkpoint keys.
const (
	CheckpointLastMessage  = "last_message_ms"
	CheckpointLastChatSync = "last_chat_sync_ms"
)

// Reconciler manages sync checkpoints.
type Reconciler struct {
	db     *store.DB
	logger *zap.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(db *store.DB, logger *zap.Logger) *Reconciler {
	return &Reconciler{db: db, logger: logger}
}

// UpdateCheckpoint updates a sync checkpoint value.
func (r *Reconciler) UpdateCheckpoint(ctx context.Context, key, value string) error {
	now := time.Now().UnixMilli()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetCheckpoint retrieves a sync checkpoint value. It returns
// store.ErrNotFound for a key that was never written.
func (r *Reconciler) GetCheckpoint(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// AdvanceTime moves a millisecond checkpoint forward. Older values are ignored.
func (r *Reconciler) AdvanceTime(ctx context.Context, key string, t time.Time) error {
	if t.IsZero() {
		return nil
	}
	ms := t.UnixMilli()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		WHERE CAST(excluded.value AS INTEGER) > CAST(sync_state.value AS INTEGER)`,
		key, strconv.FormatInt(ms, 10), time.Now().UnixMilli())
	return err
}

// LastTime returns a millisecond checkpoint as a time, zero when unset.
func (r *Reconciler) LastTime(ctx context.Context, key string) (time.Time, error) {
	v, err := r.GetCheckpoint(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.logger.Warn("corrupt checkpoint", zap.String("key", key), zap.String("value", v))
		return time.Time{}, nil
	}
	return time.UnixMilli(ms), nil
}
