package pipeline

import (
	"slices"
	"sync"

	"github.com/golang/groupcache/lru"
)

// ReadBuffer holds the most recent message ids I read on SMS chats, oldest first.
type ReadBuffer struct {
	mu       sync.Mutex
	capacity int
	ids      []string
}

func NewReadBuffer(capacity int) *ReadBuffer {
	return &ReadBuffer{capacity: capacity}
}

// Push appends id unless present and evicts the oldest entries past
// capacity. It reports whether id was added.
func (b *ReadBuffer) Push(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if slices.Contains(b.ids, id) {
		return false
	}
	b.ids = append(b.ids, id)
	b.trim()
	return true
}

func (b *ReadBuffer) Contains(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Contains(b.ids, id)
}

// SetCapacity changes the capacity, trimming the oldest entries.
func (b *ReadBuffer) SetCapacity(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.capacity = n
	b.trim()
}

// Snapshot returns the buffered ids, oldest first.
func (b *ReadBuffer) Snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.ids)
}

func (b *ReadBuffer) trim() {
	if b.capacity >= 0 && len(b.ids) > b.capacity {
		b.ids = slices.Clone(b.ids[len(b.ids)-b.capacity:])
	}
}

// ChatIDCache maps recently seen message guids to their chat identifier.
type ChatIDCache struct {
	mu    sync.Mutex
	cache *lru.Cache
}

func NewChatIDCache(size int) *ChatIDCache {
	return &ChatIDCache{cache: lru.New(size)}
}

func (c *ChatIDCache) Add(messageGUID, chatID string) {
	if messageGUID == "" || chatID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(messageGUID, chatID)
}

func (c *ChatIDCache) Get(messageGUID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.cache.Get(messageGUID)
	if !ok {
		return "", false
	}
	return v.(string), true
}

func (c *ChatIDCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}
