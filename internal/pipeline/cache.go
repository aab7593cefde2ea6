package pipeline

import (
	"slices"
	"sync"
)

// ChangeCache remembers the last emitted per-chat values so snapshots that
// repeat them emit nothing.
type ChangeCache struct {
	mu           sync.Mutex
	unread       map[string]int
	names        map[string]string
	participants map[string][]string
}

func NewChangeCache() *ChangeCache {
	return &ChangeCache{
		unread:       make(map[string]int),
		names:        make(map[string]string),
		participants: make(map[string][]string),
	}
}

// UnreadChanged stores count and reports whether it differs from the cached value.
func (c *ChangeCache) UnreadChanged(chat string, count int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.unread[chat]; ok && old == count {
		return false
	}
	c.unread[chat] = count
	return true
}

// NameChanged stores name and reports whether it differs from the cached value.
func (c *ChangeCache) NameChanged(chat, name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.names[chat]; ok && old == name {
		return false
	}
	c.names[chat] = name
	return true
}

// ParticipantsChanged stores ids and reports whether they differ from the
// cached list. Order matters.
func (c *ChangeCache) ParticipantsChanged(chat string, ids []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.participants[chat]; ok && slices.Equal(old, ids) {
		return false
	}
	c.participants[chat] = slices.Clone(ids)
	return true
}

// Participants returns the cached participants of chat.
func (c *ChangeCache) Participants(chat string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.participants[chat])
}

// Forget drops every cached value for chat.
func (c *ChangeCache) Forget(chat string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.unread, chat)
	delete(c.names, chat)
	delete(c.participants, chat)
}
