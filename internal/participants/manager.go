// Package participants keeps the participants of each chat ordered by the
// time they last sent a message, most recent first.
package participants

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/imcore/internal/pipeline"
	"github.com/matheus3301/imcore/internal/store"
)

// Source loads the persisted last-sent time of every handle in the given chats.
type Source interface {
	HandleTimestampRecords(ctx context.Context, chatIDs []string) ([]store.HandleTimestamp, error)
}

type rule struct {
	handle string
	lastMs int64
}

// Manager tracks sort rules per chat. Only bootstrapped chats accept rules
// from live messages.
type Manager struct {
	mu    sync.RWMutex
	rules map[string][]rule

	source Source
	ps     *pipeline.Pipelines
	logger *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func New(source Source, ps *pipeline.Pipelines, logger *zap.Logger) *Manager {
	return &Manager{
		rules:  make(map[string][]rule),
		source: source,
		ps:     ps,
		logger: logger.Named("participants"),
	}
}

// Bootstrap loads the persisted records of chatIDs and merges them into any
// rules already held, keeping the newest time per handle. Messages the store
// has not caught up with yet keep their place. A chat without records is
// tracked with an empty list.
func (m *Manager) Bootstrap(ctx context.Context, chatIDs []string) error {
	if len(chatIDs) == 0 {
		return nil
	}
	records, err := m.source.HandleTimestampRecords(ctx, chatIDs)
	if err != nil {
		return err
	}
	loaded := make(map[string][]rule, len(chatIDs))
	for _, id := range chatIDs {
		loaded[id] = nil
	}
	for _, r := range records {
		loaded[r.ChatIdentifier] = append(loaded[r.ChatIdentifier], rule{handle: r.HandleID, lastMs: r.LastSentMs})
	}

	m.mu.Lock()
	for id, rules := range loaded {
		rules = mergeRules(m.rules[id], rules)
		sortRules(rules)
		m.rules[id] = rules
	}
	m.mu.Unlock()
	return nil
}

func mergeRules(live, loaded []rule) []rule {
	out := make([]rule, 0, len(live)+len(loaded))
	at := make(map[string]int, len(live)+len(loaded))
	for _, set := range [][]rule{live, loaded} {
		for _, r := range set {
			if i, ok := at[r.handle]; ok {
				out[i].lastMs = max(out[i].lastMs, r.lastMs)
				continue
			}
			at[r.handle] = len(out)
			out = append(out, r)
		}
	}
	return out
}

// Ingest records that handle sent a message in chat at t. Rules never move
// back in time.
func (m *Manager) Ingest(chat, handle string, t time.Time) {
	if handle == "" {
		return
	}
	var ms int64
	if !t.IsZero() {
		ms = t.UnixMilli()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rules, ok := m.rules[chat]
	if !ok {
		return
	}
	i := slices.IndexFunc(rules, func(r rule) bool { return r.handle == handle })
	if i >= 0 {
		if rules[i].lastMs >= ms {
			return
		}
		rules[i].lastMs = ms
	} else {
		rules = append(rules, rule{handle: handle, lastMs: ms})
	}
	sortRules(rules)
	m.rules[chat] = rules
}

// Sorted returns the handles of chat, most recent sender first. ok is false
// for a chat that was never bootstrapped; a bootstrapped chat without
// senders yields an empty, non-nil list.
func (m *Manager) Sorted(chat string) (handles []string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rules, ok := m.rules[chat]
	if !ok {
		return nil, false
	}
	handles = make([]string, len(rules))
	for i, r := range rules {
		handles[i] = r.handle
	}
	return handles, true
}

// Unload forgets chat.
func (m *Manager) Unload(chat string) {
	m.mu.Lock()
	delete(m.rules, chat)
	m.mu.Unlock()
}

// Start follows the message, participant and chat deletion pipelines.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	msgs, unsubMsgs := pipeline.Messages.Subscribe(m.ps, 256)
	parts, unsubParts := pipeline.Participants.Subscribe(m.ps, 64)
	deleted, unsubDeleted := pipeline.ChatsDeleted.Subscribe(m.ps, 16)

	go func() {
		defer close(m.done)
		defer unsubMsgs()
		defer unsubParts()
		defer unsubDeleted()
		for {
			select {
			case ev := <-msgs:
				if ev.Message.Sender.IsMe() {
					continue
				}
				m.Ingest(ev.Chat, ev.Message.Sender.Value, ev.Message.Time)
			case pc := <-parts:
				if err := m.Bootstrap(ctx, []string{pc.Chat}); err != nil {
					m.logger.Warn("failed to recompute sorted participants", zap.String("chat", pc.Chat), zap.Error(err))
				}
			case d := <-deleted:
				for _, id := range d.ChatIdentifiers {
					m.Unload(id)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops following the pipelines.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

func sortRules(rules []rule) {
	slices.SortStableFunc(rules, func(a, b rule) int {
		switch {
		case a.lastMs > b.lastMs:
			return -1
		case a.lastMs < b.lastMs:
			return 1
		default:
			return 0
		}
	})
}
