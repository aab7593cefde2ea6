// Package pipeline carries normalized events to consumers. Each event type
// has its own typed pipeline layered over the in-process bus.
package pipeline

import (
	"sync"

	"github.com/matheus3301/imcore/internal/bus"
)

// Namespace prefixes every pipeline event kind on the bus.
const Namespace = "pipeline."

// Pipeline is a typed view of one event kind on the bus.
type Pipeline[T any] struct {
	kind string
}

// Kind returns the bus event kind of the pipeline.
func (p Pipeline[T]) Kind() string { return p.kind }

var (
	UnreadCounts    = Pipeline[UnreadCount]{Namespace + "unread_count"}
	Typing          = Pipeline[TypingChange]{Namespace + "typing"}
	ChatNames       = Pipeline[ChatName]{Namespace + "chat_name"}
	Participants    = Pipeline[ParticipantsChange]{Namespace + "participants"}
	Blocklist       = Pipeline[BlocklistChange]{Namespace + "blocklist"}
	MessagesDeleted = Pipeline[Deletion]{Namespace + "messages_deleted"}
	ChatsDeleted    = Pipeline[Deletion]{Namespace + "chats_deleted"}
	JoinStates      = Pipeline[JoinState]{Namespace + "join_state"}
	Messages        = Pipeline[MessageEvent]{Namespace + "message"}
	Phantoms        = Pipeline[Phantom]{Namespace + "phantom"}
	MessageStatuses = Pipeline[StatusChange]{Namespace + "message_status"}
	Configuration   = Pipeline[ConfigurationChange]{Namespace + "configuration"}
)

// Kinds lists every pipeline kind.
func Kinds() []string {
	return []string{
		UnreadCounts.kind, Typing.kind, ChatNames.kind, Participants.kind, Blocklist.kind,
		MessagesDeleted.kind, ChatsDeleted.kind, JoinStates.kind, Messages.kind, Phantoms.kind,
		MessageStatuses.kind, Configuration.kind,
	}
}

// Pipelines publishes typed events on a bus.
type Pipelines struct {
	bus *bus.Bus
}

// New wraps b.
func New(b *bus.Bus) *Pipelines {
	return &Pipelines{bus: b}
}

// Bus returns the underlying bus.
func (ps *Pipelines) Bus() *bus.Bus { return ps.bus }

// Publish sends v on the pipeline and returns the stamped bus event.
func (p Pipeline[T]) Publish(ps *Pipelines, v T) bus.Event {
	return ps.bus.Publish(bus.Event{Kind: p.kind, Payload: v})
}

// Subscribe returns a channel of the pipeline's values. Values are never
// dropped; bufSize only sizes the channel. The channel is closed after the
// returned cancel function is called.
func (p Pipeline[T]) Subscribe(ps *Pipelines, bufSize int) (<-chan T, func()) {
	events, unsub := ps.bus.Subscribe(p.kind, bufSize)
	out := make(chan T, bufSize)
	done := make(chan struct{})

	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				// Kinds are prefixes on the bus; skip longer kinds sharing this prefix.
				if evt.Kind != p.kind {
					continue
				}
				v, ok := evt.Payload.(T)
				if !ok {
					continue
				}
				select {
				case out <- v:
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			unsub()
			close(done)
		})
	}
}
