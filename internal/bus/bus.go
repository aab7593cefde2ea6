package bus

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
// Every subscription receives every matching event, in Seq order.
type Bus struct {
	mu   sync.Mutex
	subs map[int]*subscription
	next int

	seq     uint64
	entropy *ulid.MonotonicEntropy
}

// subscription queues events without bound and relays them to ch.
type subscription struct {
	namespace string
	ch        chan Event

	mu    sync.Mutex
	queue []Event
	ready chan struct{}
	done  chan struct{}
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs:    make(map[int]*subscription),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Publish stamps evt with a sequence number, a sortable id and a timestamp
// when missing, then queues it for all subscribers whose namespace is a
// prefix of evt.Kind. It never blocks on a slow subscriber. It returns the
// stamped event.
func (b *Bus) Publish(evt Event) Event {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	evt.Seq = b.seq
	if evt.ID == "" {
		evt.ID = ulid.MustNew(ulid.Timestamp(evt.Timestamp), b.entropy).String()
	}
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			sub.push(evt)
		}
	}
	return evt
}

// Subscribe returns a channel that receives events matching the given
// namespace prefix. bufSize sizes the channel; events beyond it wait in the
// subscription's queue. The channel is closed after the returned unsubscribe
// function is called.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	sub := &subscription{
		namespace: namespace,
		ch:        make(chan Event, bufSize),
		ready:     make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	go sub.relay()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.done)
		})
	}
}

func (s *subscription) push(evt Event) {
	s.mu.Lock()
	s.queue = append(s.queue, evt)
	s.mu.Unlock()
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *subscription) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *subscription) relay() {
	defer close(s.ch)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.ready:
				continue
			case <-s.done:
				return
			}
		}
		evt := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		if len(s.queue) == 0 {
			s.queue = nil
		}
		s.mu.Unlock()

		select {
		case s.ch <- evt:
		case <-s.done:
			return
		}
	}
}

// Pending returns how many events are queued behind full subscriber
// channels.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, sub := range b.subs {
		n += sub.pending()
	}
	return n
}

// Subscribers returns the current number of subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
