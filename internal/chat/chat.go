package chat

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/matheus3301/imcore/internal/ident"
)

// ErrMissingChatGUID is returned for chat snapshots without a guid.
var ErrMissingChatGUID = errors.New("chat snapshot has no guid")

// Retention bounds the message map of a chat. Zero values disable a bound.
type Retention struct {
	MaxMessages int
	MaxAge      time.Duration
}

// Chat is one logical conversation merged from one or more leaves.
//
// A Chat is not safe for concurrent use. The registry owns every Chat and
// serializes access to it.
type Chat struct {
	style    Style
	leaves   map[string]*Leaf
	messages map[string]*Message

	identifiers        ident.Set
	mergedID           string
	mergedRecipientIDs []string

	retention Retention
	now       func() time.Time
}

// New creates an empty chat of the given style.
func New(style Style, retention Retention) *Chat {
	return &Chat{
		style:       style,
		leaves:      make(map[string]*Leaf),
		messages:    make(map[string]*Message),
		identifiers: ident.Set{},
		retention:   retention,
		now:         time.Now,
	}
}

func (c *Chat) Style() Style { return c.style }

// Apply merges a chat snapshot into the leaf keyed by its guid, creating the
// leaf on first sight, and recomputes the derived identity. It reports
// whether the identifier set changed.
func (c *Chat) Apply(u LeafUpdate) (bool, error) {
	if u.GUID == nil || *u.GUID == "" {
		return false, ErrMissingChatGUID
	}
	leaf, ok := c.leaves[*u.GUID]
	if !ok {
		leaf = &Leaf{GUID: *u.GUID}
		c.leaves[*u.GUID] = leaf
	}
	leaf.Apply(u)
	return c.recompute(), nil
}

func (c *Chat) recompute() bool {
	c.recomputeRecipients()

	next := ident.Set{}
	for _, leaf := range c.leaves {
		for _, id := range leaf.IdentifierList() {
			next.Add(id)
			if id.Scheme != ident.SchemeGUID {
				continue
			}
			if mirror, ok := MirrorGUID(id.Value); ok {
				next.Add(ident.GUID(mirror))
			}
		}
	}
	if next.Equal(c.identifiers) {
		return false
	}
	c.identifiers = next

	ids := next.Values(ident.SchemeChatIdentifier)
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	c.mergedID = strings.Join(ids, ",")
	return true
}

func (c *Chat) recomputeRecipients() {
	if c.style != StyleInstantMessage {
		c.mergedRecipientIDs = nil
		return
	}
	seen := make(map[string]struct{})
	var out []string
	for _, leaf := range c.leaves {
		if len(leaf.Participants) == 0 {
			continue
		}
		last := leaf.Participants[len(leaf.Participants)-1]
		if _, ok := seen[last]; ok {
			continue
		}
		seen[last] = struct{}{}
		out = append(out, last)
	}
	sort.Strings(out)
	c.mergedRecipientIDs = out
}

// MirrorGUID swaps the leading service token of a "service;style;id" chat
// guid between iMessage and SMS.
func MirrorGUID(guid string) (string, bool) {
	parts := strings.Split(guid, ";")
	if len(parts) < 2 {
		return "", false
	}
	if parts[0] == ServiceIMessage.String() {
		parts[0] = ServiceSMS.String()
	} else {
		parts[0] = ServiceIMessage.String()
	}
	return strings.Join(parts, ";"), true
}

// MergedIDFromGUID returns the portion of a chat guid after its last ';'.
func MergedIDFromGUID(guid string) string {
	if i := strings.LastIndexByte(guid, ';'); i >= 0 {
		return guid[i+1:]
	}
	return guid
}

// Identifiers returns a copy of the derived identifier set.
func (c *Chat) Identifiers() ident.Set { return c.identifiers.Clone() }

// MergedID is the chat identifiers of every leaf, sorted descending and
// joined with commas.
func (c *Chat) MergedID() string { return c.mergedID }

// MergedRecipientIDs is the last participant of every leaf of a one-to-one chat.
func (c *Chat) MergedRecipientIDs() []string {
	return append([]string(nil), c.mergedRecipientIDs...)
}

// ChatIdentifiers lists the non-empty chat identifiers of the leaves.
func (c *Chat) ChatIdentifiers() []string {
	var out []string
	for _, leaf := range c.sortedLeaves() {
		if leaf.ChatIdentifier != "" {
			out = append(out, leaf.ChatIdentifier)
		}
	}
	return out
}

// Leaves returns copies of the leaves ordered by guid.
func (c *Chat) Leaves() []Leaf {
	leaves := c.sortedLeaves()
	out := make([]Leaf, len(leaves))
	for i, l := range leaves {
		out[i] = l.clone()
	}
	return out
}

func (c *Chat) sortedLeaves() []*Leaf {
	out := make([]*Leaf, 0, len(c.leaves))
	for _, l := range c.leaves {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GUID < out[j].GUID })
	return out
}

// Leaf returns a copy of the leaf with the given guid.
func (c *Chat) Leaf(guid string) (Leaf, bool) {
	l, ok := c.leaves[guid]
	if !ok {
		return Leaf{}, false
	}
	return l.clone(), true
}

// LeafFor returns the first leaf, by guid, on service s.
func (c *Chat) LeafFor(s Service) (Leaf, bool) {
	for _, l := range c.sortedLeaves() {
		if l.Service == s {
			return l.clone(), true
		}
	}
	return Leaf{}, false
}

// Participants returns the union of leaf participants in first-seen order.
func (c *Chat) Participants() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, l := range c.sortedLeaves() {
		for _, p := range l.Participants {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// HandleMessage folds u into the accumulator for u.ID, creating it on first
// sight, and returns a copy of the result.
func (c *Chat) HandleMessage(chatID ident.ChatIdentifier, u MessageUpdate) (Message, error) {
	if u.ID == "" {
		return Message{}, ErrMissingGUID
	}
	m, ok := c.messages[u.ID]
	if !ok {
		m = NewMessage(u.ID, chatID)
		c.messages[u.ID] = m
	}
	m.Apply(u)
	out := *m
	c.prune()
	return out, nil
}

// Message returns a copy of the accumulator for id.
func (c *Chat) Message(id string) (Message, bool) {
	m, ok := c.messages[id]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// MarkRetrying sets the being-retried flag on message id and returns a copy
// of the result.
func (c *Chat) MarkRetrying(id string) (Message, bool) {
	m, ok := c.messages[id]
	if !ok {
		return Message{}, false
	}
	m.Flags |= FlagBeingRetried
	return *m, true
}

// HasMessage reports whether the chat has seen message id.
func (c *Chat) HasMessage(id string) bool {
	_, ok := c.messages[id]
	return ok
}

// Messages returns copies of every accumulator ordered by time.
func (c *Chat) Messages() []Message {
	ms := c.orderedMessages()
	out := make([]Message, len(ms))
	for i, m := range ms {
		out[i] = *m
	}
	return out
}

// RemoveMessages drops the given ids and reports how many were present.
func (c *Chat) RemoveMessages(ids ...string) int {
	n := 0
	for _, id := range ids {
		if _, ok := c.messages[id]; ok {
			delete(c.messages, id)
			n++
		}
	}
	return n
}

func (c *Chat) orderedMessages() []*Message {
	ms := make([]*Message, 0, len(c.messages))
	for _, m := range c.messages {
		ms = append(ms, m)
	}
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Time.Equal(ms[j].Time) {
			return ms[i].ID < ms[j].ID
		}
		return ms[i].Before(ms[j])
	})
	return ms
}

func (c *Chat) prune() {
	r := c.retention
	if r.MaxAge > 0 {
		cutoff := c.now().Add(-r.MaxAge)
		for id, m := range c.messages {
			if !m.Time.IsZero() && m.Time.Before(cutoff) {
				delete(c.messages, id)
			}
		}
	}
	if r.MaxMessages > 0 && len(c.messages) > r.MaxMessages {
		ms := c.orderedMessages()
		// Messages without a time sort last; drop from the oldest end.
		for _, m := range ms[:len(ms)-r.MaxMessages] {
			delete(c.messages, m.ID)
		}
	}
}
