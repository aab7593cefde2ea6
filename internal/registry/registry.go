// Package registry maps every known chat identifier and message guid to the
// logical chat that owns it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/matheus3301/imcore/internal/chat"
	"github.com/matheus3301/imcore/internal/ident"
)

// ErrUnroutable is returned when no chat can be resolved for a message.
var ErrUnroutable = errors.New("message cannot be routed to a chat")

// Lookup is the persistence query interface consulted for bare messages.
type Lookup interface {
	ChatIdentifierForMessageGUID(ctx context.Context, guid string) (string, error)
	ChatGroupIDForMessageRowID(ctx context.Context, rowID int64) (string, error)
}

// Resender receives resend plans for failed outbound messages. Enqueue must
// not block.
type Resender interface {
	Enqueue(plan chat.ResendPlan, msg chat.Message) bool
}

// Options tunes a Registry.
type Options struct {
	Retention        chat.Retention
	LookupTimeout    time.Duration
	CorrelateTimeout time.Duration
}

// Ref identifies a chat in the registry arena. Two snapshots with the same
// Ref describe the same logical chat.
type Ref uint64

// Registry owns every logical chat. Chats live in an arena keyed by Ref;
// identifiers and message guids are index entries into it.
type Registry struct {
	mu       sync.RWMutex
	arena    map[Ref]*chat.Chat
	index    map[ident.ChatIdentifier]Ref
	messages map[string]ident.ChatIdentifier
	next     Ref

	opts       Options
	lookup     Lookup
	correlator ident.Correlator
	resender   Resender
	flight     singleflight.Group
	logger     *zap.Logger
}

// New creates an empty registry. lookup and correlator may be nil.
func New(opts Options, lookup Lookup, correlator ident.Correlator, logger *zap.Logger) *Registry {
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = 2 * time.Second
	}
	if opts.CorrelateTimeout <= 0 {
		opts.CorrelateTimeout = 3 * time.Second
	}
	return &Registry{
		arena:      make(map[Ref]*chat.Chat),
		index:      make(map[ident.ChatIdentifier]Ref),
		messages:   make(map[string]ident.ChatIdentifier),
		opts:       opts,
		lookup:     lookup,
		correlator: correlator,
		logger:     logger.Named("registry"),
	}
}

// SetResender installs the receiver of resend plans. It is called once
// during wiring, before callbacks flow.
func (r *Registry) SetResender(rs Resender) {
	r.mu.Lock()
	r.resender = rs
	r.mu.Unlock()
}

// HandleChat merges a chat snapshot into the chat owning any of its
// identifiers, first match wins. An unseen snapshot with a valid style
// creates a new chat. ok is false when no chat exists or was created; id is
// still the snapshot's most unique identifier so the caller can route by it.
func (r *Registry) HandleChat(u chat.LeafUpdate, style chat.Style) (snap Snapshot, id ident.ChatIdentifier, ok bool) {
	leaf := chat.LeafFromUpdate(u)
	id = leaf.MostUniqueIdentifier()

	r.mu.Lock()
	defer r.mu.Unlock()

	if ref, found := r.find(leaf); found {
		c := r.arena[ref]
		old := c.Identifiers()
		changed, err := c.Apply(u)
		if err != nil {
			r.logger.Debug("snapshot without guid matched existing chat", zap.Stringer("id", id))
		} else if changed {
			r.reindex(ref, old, c.Identifiers())
		}
		return snapshot(ref, c), id, true
	}

	if style == chat.StyleNone {
		return Snapshot{}, id, false
	}
	c := chat.New(style, r.opts.Retention)
	if _, err := c.Apply(u); err != nil {
		r.logger.Warn("dropping chat snapshot", zap.Stringer("id", id), zap.Error(err))
		return Snapshot{}, id, false
	}
	r.next++
	ref := r.next
	r.arena[ref] = c
	r.reindex(ref, ident.Set{}, c.Identifiers())
	r.logger.Debug("chat created", zap.Uint64("ref", uint64(ref)), zap.String("merged_id", c.MergedID()))
	return snapshot(ref, c), id, true
}

// find returns the chat of the first leaf identifier already indexed.
// Later identifiers resolving to a different chat are reported, not merged.
func (r *Registry) find(leaf chat.Leaf) (Ref, bool) {
	var (
		first Ref
		found bool
	)
	for _, id := range leaf.IdentifierList() {
		ref, ok := r.index[id]
		if !ok {
			continue
		}
		if !found {
			first, found = ref, true
			continue
		}
		if ref != first {
			r.logger.Warn("merge ambiguity",
				zap.Stringer("id", id),
				zap.Uint64("chat", uint64(first)),
				zap.Uint64("other", uint64(ref)))
		}
	}
	return first, found
}

// reindex applies the difference between two identifier sets of one chat.
// Vanished identifiers are released only if they still point at ref; new
// identifiers already owned by another live chat stay with that owner.
func (r *Registry) reindex(ref Ref, old, next ident.Set) {
	removed, added := old.Diff(next)
	for _, id := range removed {
		if r.index[id] == ref {
			r.logger.Debug("forgetting identifier", zap.Stringer("id", id))
			delete(r.index, id)
		}
	}
	for _, id := range added {
		if owner, ok := r.index[id]; ok && owner != ref {
			if _, live := r.arena[owner]; live {
				r.logger.Warn("identifier already owned by another chat",
					zap.Stringer("id", id),
					zap.Uint64("owner", uint64(owner)),
					zap.Uint64("chat", uint64(ref)))
				continue
			}
		}
		r.index[id] = ref
	}
}

// Resolve finds the identifier to route a message under. The order is the
// enclosing chat snapshot, the reverse guid index, the group id, the chat
// identifier, and finally the persistence layer by message guid and row id.
func (r *Registry) Resolve(ctx context.Context, rt Route) (ident.ChatIdentifier, error) {
	if rt.Chat != nil {
		if _, id, _ := r.HandleChat(*rt.Chat, rt.Style); !id.IsZero() {
			return id, nil
		}
	}

	r.mu.RLock()
	reverse, ok := r.messages[rt.MessageGUID]
	r.mu.RUnlock()
	switch {
	case ok && rt.MessageGUID != "":
		return reverse, nil
	case rt.GroupID != "":
		return ident.GroupID(rt.GroupID), nil
	case rt.ChatIdentifier != "":
		return ident.ChatID(rt.ChatIdentifier), nil
	}
	return r.resolvePersisted(ctx, rt.MessageGUID, rt.RowID)
}

func (r *Registry) resolvePersisted(ctx context.Context, guid string, rowID int64) (ident.ChatIdentifier, error) {
	if r.lookup == nil || (guid == "" && rowID == 0) {
		return ident.ChatIdentifier{}, ErrUnroutable
	}
	key := guid + "#" + strconv.FormatInt(rowID, 10)
	v, err, _ := r.flight.Do(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, r.opts.LookupTimeout)
		defer cancel()
		if guid != "" {
			if id, err := r.lookup.ChatIdentifierForMessageGUID(ctx, guid); err == nil && id != "" {
				return ident.ChatID(id), nil
			}
		}
		if rowID != 0 {
			gid, err := r.lookup.ChatGroupIDForMessageRowID(ctx, rowID)
			if err != nil {
				return nil, err
			}
			return ident.GroupID(gid), nil
		}
		return nil, ErrUnroutable
	})
	if err != nil {
		if errors.Is(err, ErrUnroutable) {
			return ident.ChatIdentifier{}, err
		}
		return ident.ChatIdentifier{}, fmt.Errorf("%w: %w", ErrUnroutable, err)
	}
	return v.(ident.ChatIdentifier), nil
}

// HandleMessage folds u into the chat registered under id. The first sight
// of a guid records it in the reverse index. A fold that leaves the message
// eligible for resend hands a plan to the resender without waiting.
func (r *Registry) HandleMessage(id ident.ChatIdentifier, u chat.MessageUpdate) (Snapshot, chat.Message, error) {
	r.mu.Lock()
	ref, ok := r.index[id]
	if !ok {
		r.mu.Unlock()
		return Snapshot{}, chat.Message{}, fmt.Errorf("%w: no chat for %s", ErrUnroutable, id)
	}
	c := r.arena[ref]
	m, err := c.HandleMessage(id, u)
	if err != nil {
		r.mu.Unlock()
		return Snapshot{}, chat.Message{}, err
	}
	if _, ok := r.messages[u.ID]; !ok {
		r.messages[u.ID] = id
	}
	snap := snapshot(ref, c)
	var plan *chat.ResendPlan
	if chat.EligibleForResend(m) {
		p := chat.PlanResend(m, c)
		plan = &p
	}
	rs := r.resender
	r.mu.Unlock()

	if plan != nil && rs != nil {
		if !rs.Enqueue(*plan, m) {
			r.logger.Warn("resend queue full", zap.String("message", m.ID))
		}
	}
	return snap, m, nil
}

// MarkRetrying flags message guid as being retried, so later failure
// observations of it plan no further resend.
func (r *Registry) MarkRetrying(guid string) (chat.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.messages[guid]
	if !ok {
		return chat.Message{}, false
	}
	ref, ok := r.index[id]
	if !ok {
		return chat.Message{}, false
	}
	return r.arena[ref].MarkRetrying(guid)
}

// Route resolves and folds in one step.
func (r *Registry) Route(ctx context.Context, rt Route, u chat.MessageUpdate) (Snapshot, chat.Message, error) {
	if rt.MessageGUID == "" {
		rt.MessageGUID = u.ID
	}
	id, err := r.Resolve(ctx, rt)
	if err != nil {
		return Snapshot{}, chat.Message{}, err
	}
	return r.HandleMessage(id, u)
}

// Route carries the routing context delivered alongside a message.
type Route struct {
	Chat           *chat.LeafUpdate
	Style          chat.Style
	ChatIdentifier string
	GroupID        string
	MessageGUID    string
	RowID          int64
}
