package registry

import (
	"context"
	"sort"

	"github.com/matheus3301/imcore/internal/chat"
	"github.com/matheus3301/imcore/internal/ident"
)

// Snapshot is a read-only copy of a logical chat.
type Snapshot struct {
	Ref                Ref
	Style              chat.Style
	Identifiers        []ident.ChatIdentifier
	MergedID           string
	MergedRecipientIDs []string
	ChatIdentifiers    []string
	Leaves             []chat.Leaf
	Participants       []string
}

// IsZero reports whether the snapshot describes no chat.
func (s Snapshot) IsZero() bool { return s.Ref == 0 }

// HasService reports whether any leaf of the chat is on service sv.
func (s Snapshot) HasService(sv chat.Service) bool {
	for _, l := range s.Leaves {
		if l.Service == sv {
			return true
		}
	}
	return false
}

// PrimaryChatIdentifier is the first chat identifier of the chat's leaves,
// falling back to the merged id.
func (s Snapshot) PrimaryChatIdentifier() string {
	if len(s.ChatIdentifiers) > 0 {
		return s.ChatIdentifiers[0]
	}
	return s.MergedID
}

func snapshot(ref Ref, c *chat.Chat) Snapshot {
	return Snapshot{
		Ref:                ref,
		Style:              c.Style(),
		Identifiers:        c.Identifiers().Slice(),
		MergedID:           c.MergedID(),
		MergedRecipientIDs: c.MergedRecipientIDs(),
		ChatIdentifiers:    c.ChatIdentifiers(),
		Leaves:             c.Leaves(),
		Participants:       c.Participants(),
	}
}

// Chat returns the chat registered under id.
func (r *Registry) Chat(id ident.ChatIdentifier) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.index[id]
	if !ok {
		return Snapshot{}, false
	}
	return snapshot(ref, r.arena[ref]), true
}

// AllChats returns every chat in creation order.
func (r *Registry) AllChats() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := make([]Ref, 0, len(r.arena))
	for ref := range r.arena {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	out := make([]Snapshot, len(refs))
	for i, ref := range refs {
		out[i] = snapshot(ref, r.arena[ref])
	}
	return out
}

// Len returns the number of chats and indexed identifiers.
func (r *Registry) Len() (chats, identifiers int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.arena), len(r.index)
}

// ChatsForHandle returns the chats in which handle, or any handle the
// correlator associates with it, participates. The correlator is bounded by
// the configured timeout; a slow one just yields fewer matches.
func (r *Registry) ChatsForHandle(ctx context.Context, handle string) []Snapshot {
	wanted := map[string]struct{}{ident.NormalizeHandle(handle): {}}
	for _, h := range ident.Correlate(ctx, r.correlator, handle, r.opts.CorrelateTimeout) {
		wanted[ident.NormalizeHandle(h)] = struct{}{}
	}

	var out []Snapshot
	for _, s := range r.AllChats() {
		if matchesAny(s, wanted) {
			out = append(out, s)
		}
	}
	return out
}

func matchesAny(s Snapshot, wanted map[string]struct{}) bool {
	for _, p := range s.Participants {
		if _, ok := wanted[ident.NormalizeHandle(p)]; ok {
			return true
		}
	}
	if s.Style == chat.StyleInstantMessage {
		for _, id := range s.ChatIdentifiers {
			if _, ok := wanted[ident.NormalizeHandle(id)]; ok {
				return true
			}
		}
	}
	return false
}

// Message returns the accumulated state of a message by guid.
func (r *Registry) Message(guid string) (chat.Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.messages[guid]
	if !ok {
		return chat.Message{}, false
	}
	ref, ok := r.index[id]
	if !ok {
		return chat.Message{}, false
	}
	return r.arena[ref].Message(guid)
}

// Messages returns the messages of the chat registered under id, ordered by time.
func (r *Registry) Messages(id ident.ChatIdentifier) []chat.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.index[id]
	if !ok {
		return nil
	}
	return r.arena[ref].Messages()
}

// ChatForMessage returns the identifier a message guid was first routed under.
func (r *Registry) ChatForMessage(guid string) (ident.ChatIdentifier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.messages[guid]
	return id, ok
}

// RemoveMessages forgets the given guids and drops them from their chats.
// It returns the guids that were known.
func (r *Registry) RemoveMessages(guids []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for _, g := range guids {
		id, ok := r.messages[g]
		if !ok {
			continue
		}
		delete(r.messages, g)
		if ref, ok := r.index[id]; ok {
			r.arena[ref].RemoveMessages(g)
		}
		removed = append(removed, g)
	}
	return removed
}

// RemoveChats unregisters the chats owning the given identifiers along with
// every identifier and message guid pointing at them.
func (r *Registry) RemoveChats(ids []ident.ChatIdentifier) []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []Snapshot
	for _, id := range ids {
		ref, ok := r.index[id]
		if !ok {
			continue
		}
		c := r.arena[ref]
		removed = append(removed, snapshot(ref, c))
		for cid, owner := range r.index {
			if owner == ref {
				delete(r.index, cid)
			}
		}
		owned := c.Identifiers()
		for g, mid := range r.messages {
			if owned.Has(mid) {
				delete(r.messages, g)
			}
		}
		delete(r.arena, ref)
	}
	return removed
}
