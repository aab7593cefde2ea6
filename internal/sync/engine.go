// Package sync records what the listener publishes into the store, so the
// persistence lookups used to route bare messages can resolve them later.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/imcore/internal/bus"
	"github.com/matheus3301/imcore/internal/chat"
	"github.com/matheus3301/imcore/internal/ident"
	"github.com/matheus3301/imcore/internal/pipeline"
	"github.com/matheus3301/imcore/internal/registry"
	"github.com/matheus3301/imcore/internal/status"
	"github.com/matheus3301/imcore/internal/store"
)

// Bus event kinds published after a write.
const (
	KindMessageRecorded = "sync.message_recorded"
	KindChatsRecorded   = "sync.chats_recorded"
)

// Chats is the registry view the engine reads chat routing data from.
type Chats interface {
	Chat(id ident.ChatIdentifier) (registry.Snapshot, bool)
	AllChats() []registry.Snapshot
}

// MessageRecorded is the payload of KindMessageRecorded events.
type MessageRecorded struct {
	Chat string
	GUID string
}

// Engine handles idempotent ingestion of pipeline events into the store.
type Engine struct {
	db         *store.DB
	ps         *pipeline.Pipelines
	chats      Chats
	reconciler *Reconciler
	logger     *zap.Logger
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewEngine creates a new sync engine.
func NewEngine(db *store.DB, ps *pipeline.Pipelines, chats Chats, logger *zap.Logger) *Engine {
	logger = logger.Named("sync")
	return &Engine{
		db:         db,
		ps:         ps,
		chats:      chats,
		reconciler: NewReconciler(db, logger),
		logger:     logger,
	}
}

// Reconciler returns the engine's checkpoint store.
func (e *Engine) Reconciler() *Reconciler { return e.reconciler }

// Start subscribes to the pipelines and daemon status changes on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	b := e.ps.Bus()
	events, unsubEvents := b.Subscribe(pipeline.Namespace, 256)
	statuses, unsubStatuses := b.Subscribe(status.EventKind, 8)

	go func() {
		defer close(e.done)
		defer unsubEvents()
		defer unsubStatuses()
		for {
			select {
			case evt := <-events:
				e.handleEvent(ctx, evt)
			case evt := <-statuses:
				if sc, ok := evt.Payload.(status.StatusChange); ok && sc.To == status.Ready {
					if err := e.SyncChats(ctx); err != nil {
						e.logger.Error("failed to record chats", zap.Error(err))
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case pipeline.Messages.Kind():
		ev, ok := evt.Payload.(pipeline.MessageEvent)
		if !ok {
			return
		}
		if err := e.IngestMessage(ctx, ev); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err), zap.String("guid", ev.Message.ID))
		}
	case pipeline.ChatNames.Kind():
		cn, ok := evt.Payload.(pipeline.ChatName)
		if !ok {
			return
		}
		if err := e.db.SetDisplayName(ctx, cn.Chat, cn.Name); err != nil && !errors.Is(err, store.ErrNotFound) {
			e.logger.Error("failed to record display name", zap.Error(err), zap.String("chat", cn.Chat))
		}
	case pipeline.MessagesDeleted.Kind():
		d, ok := evt.Payload.(pipeline.Deletion)
		if !ok {
			return
		}
		if _, err := e.db.DeleteMessages(ctx, d.IDs); err != nil {
			e.logger.Error("failed to delete messages", zap.Error(err), zap.Int("count", len(d.IDs)))
		}
	case pipeline.ChatsDeleted.Kind():
		d, ok := evt.Payload.(pipeline.Deletion)
		if !ok {
			return
		}
		n, err := e.db.DeleteChats(ctx, d.ChatIdentifiers)
		if err != nil {
			e.logger.Error("failed to delete chats", zap.Error(err), zap.Strings("chats", d.ChatIdentifiers))
			return
		}
		e.logger.Info("chats deleted", zap.Int64("rows", n))
	}
}

// IngestMessage records one published message and its chat (idempotent).
func (e *Engine) IngestMessage(ctx context.Context, ev pipeline.MessageEvent) error {
	msg := ev.Message
	if msg.ID == "" || ev.Chat == "" {
		return nil
	}

	rec := &store.ChatRecord{ChatIdentifier: ev.Chat, GroupID: ev.GroupID, Service: ev.Service.String()}
	if snap, ok := e.chats.Chat(ident.ChatID(ev.Chat)); ok {
		rec = chatRecord(snap, ev.Chat)
	}
	if err := e.db.UpsertChat(ctx, rec); err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}

	var sender string
	if !msg.Sender.IsMe() {
		sender = msg.Sender.Value
	}
	var ms int64
	if !msg.Time.IsZero() {
		ms = msg.Time.UnixMilli()
	}
	if err := e.db.RecordMessage(ctx, &store.MessageRecord{
		GUID:           msg.ID,
		RowID:          ev.RowID,
		ChatIdentifier: ev.Chat,
		GroupID:        ev.GroupID,
		Sender:         sender,
		Service:        ev.Service.String(),
		FromMe:         msg.FromMe(),
		Flags:          uint32(msg.Flags),
		ErrorCode:      uint32(msg.Error),
		TimeMs:         ms,
	}); err != nil {
		return fmt.Errorf("record message: %w", err)
	}

	if err := e.reconciler.AdvanceTime(ctx, CheckpointLastMessage, msg.Time); err != nil {
		e.logger.Warn("failed to advance checkpoint", zap.Error(err))
	}

	e.ps.Bus().Publish(bus.Event{
		Kind:    KindMessageRecorded,
		Payload: MessageRecorded{Chat: ev.Chat, GUID: msg.ID},
	})
	return nil
}

// SyncChats records every registered chat leaf in one transaction. It runs
// when the daemon becomes ready, after the host delivered its chats.
func (e *Engine) SyncChats(ctx context.Context) error {
	var recs []*store.ChatRecord
	seen := make(map[string]struct{})
	for _, snap := range e.chats.AllChats() {
		for _, l := range snap.Leaves {
			if l.ChatIdentifier == "" {
				continue
			}
			if _, dup := seen[l.ChatIdentifier]; dup {
				continue
			}
			seen[l.ChatIdentifier] = struct{}{}
			recs = append(recs, chatRecord(snap, l.ChatIdentifier))
		}
	}
	if err := e.db.UpsertChats(ctx, recs); err != nil {
		return err
	}
	if err := e.reconciler.AdvanceTime(ctx, CheckpointLastChatSync, time.Now()); err != nil {
		e.logger.Warn("failed to advance checkpoint", zap.Error(err))
	}

	e.logger.Info("chats recorded", zap.Int("chats", len(recs)))
	e.ps.Bus().Publish(bus.Event{
		Kind:    KindChatsRecorded,
		Payload: map[string]int{"chats_count": len(recs)},
	})
	return nil
}

// chatRecord describes chatID using the leaf of snap carrying it, or the
// first leaf when none does.
func chatRecord(snap registry.Snapshot, chatID string) *store.ChatRecord {
	rec := &store.ChatRecord{ChatIdentifier: chatID, Style: int(snap.Style)}
	var leaf *chat.Leaf
	for i := range snap.Leaves {
		if snap.Leaves[i].ChatIdentifier == chatID {
			leaf = &snap.Leaves[i]
			break
		}
	}
	if leaf == nil && len(snap.Leaves) > 0 {
		leaf = &snap.Leaves[0]
	}
	if leaf != nil {
		rec.GUID = leaf.GUID
		rec.GroupID = leaf.GroupID
		rec.Service = leaf.Service.String()
	}
	return rec
}
