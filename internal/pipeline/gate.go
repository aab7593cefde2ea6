package pipeline

import (
	"encoding/binary"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/imcore/internal/callback"
	"github.com/matheus3301/imcore/internal/chat"
)

// Policy exposes the withholding switches read on every preflight.
type Policy interface {
	WithholdDupes() bool
	WithholdPartialFailures() bool
}

// Gate decides whether a newly observed item may be published. It remembers
// content nonces of items it let through so a later echo of the same item
// is withheld.
type Gate struct {
	mu     sync.Mutex
	nonces map[uint64]time.Time
	ttl    time.Duration
	now    func() time.Time

	policy Policy
	logger *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// NewGate creates a gate. Nonces older than ttl are forgotten by the
// cleanup loop; a zero ttl keeps them for the life of the process.
func NewGate(policy Policy, ttl time.Duration, logger *zap.Logger) *Gate {
	return &Gate{
		nonces: make(map[uint64]time.Time),
		ttl:    ttl,
		now:    time.Now,
		policy: policy,
		logger: logger.Named("gate"),
	}
}

// Nonce hashes the identity of an item: id, type and direction, plus body,
// row id and associated guid for message items.
func Nonce(it callback.Item) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	writeString := func(s string) {
		binary.LittleEndian.PutUint64(buf[:], uint64(len(s)))
		h.Write(buf[:])
		h.Write([]byte(s))
	}
	writeInt := func(n int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(n))
		h.Write(buf[:])
	}

	writeString(it.Update.ID)
	writeInt(it.Type)
	if it.FromMe() {
		writeInt(1)
	} else {
		writeInt(0)
	}
	if it.IsMessage() {
		writeString(it.Body)
		writeInt(it.RowID)
		writeString(it.AssociatedGUID)
	}
	return h.Sum64()
}

// Preflight reports whether it may be published.
//
// A repeat of an item already let through is withheld once and its nonce
// consumed, unless the item reports a failed send. Outbound messages are
// held until their send progress is final, and a failed send is held until
// its error code is known.
func (g *Gate) Preflight(it callback.Item) bool {
	n := Nonce(it)

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.policy.WithholdDupes() && it.SendProgress != callback.ProgressFailed {
		if _, seen := g.nonces[n]; seen {
			delete(g.nonces, n)
			g.logger.Debug("withholding duplicate", zap.String("guid", it.Update.ID))
			return false
		}
	}

	if !it.FromMe() || !it.IsMessage() {
		g.nonces[n] = g.now()
		return true
	}

	switch it.SendProgress {
	case callback.ProgressSending:
		g.logger.Debug("withholding message still sending", zap.String("guid", it.Update.ID))
		return false
	case callback.ProgressFailed:
		if g.policy.WithholdPartialFailures() && it.ErrorCode() == chat.NoError {
			g.logger.Debug("withholding failed message without error code", zap.String("guid", it.Update.ID))
			return false
		}
	}
	g.nonces[n] = g.now()
	return true
}

// Record remembers it as already delivered, for optimistic local echoes.
func (g *Gate) Record(it callback.Item) {
	n := Nonce(it)
	g.mu.Lock()
	g.nonces[n] = g.now()
	g.mu.Unlock()
}

// Seen reports whether the nonce of it is currently remembered.
func (g *Gate) Seen(it callback.Item) bool {
	n := Nonce(it)
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.nonces[n]
	return ok
}

// Len returns the number of remembered nonces.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nonces)
}

// Expire forgets nonces older than the ttl and returns how many were removed.
func (g *Gate) Expire() int {
	if g.ttl <= 0 {
		return 0
	}
	cutoff := g.now().Add(-g.ttl)
	g.mu.Lock()
	defer g.mu.Unlock()
	removed := 0
	for n, at := range g.nonces {
		if at.Before(cutoff) {
			delete(g.nonces, n)
			removed++
		}
	}
	return removed
}

// Start runs the expiry loop until Stop is called.
func (g *Gate) Start() {
	if g.ttl <= 0 || g.stop != nil {
		return
	}
	g.stop = make(chan struct{})
	g.done = make(chan struct{})
	interval := g.ttl / 2
	go func() {
		defer close(g.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-g.stop:
				return
			case <-ticker.C:
				if n := g.Expire(); n > 0 {
					g.logger.Debug("expired nonces", zap.Int("count", n))
				}
			}
		}
	}()
}

// Stop ends the expiry loop.
func (g *Gate) Stop() {
	if g.stop == nil {
		return
	}
	close(g.stop)
	<-g.done
	g.stop = nil
}
