package resend

import (
	"context"
	"fmt"

	"github.com/matheus3301/imcore/internal/bus"
	"github.com/matheus3301/imcore/internal/chat"
	"github.com/matheus3301/imcore/internal/ident"
	"github.com/matheus3301/imcore/internal/registry"
)

// Bus event kinds of requests addressed to the host instrumentation.
const (
	Namespace        = "resend."
	KindMarkRetrying = Namespace + "mark_retrying"
	KindResubmit     = Namespace + "resubmit"
	KindRerouteReq   = Namespace + "reroute"
)

// Chats is the registry view the bus transport works against.
type Chats interface {
	Message(guid string) (chat.Message, bool)
	Chat(id ident.ChatIdentifier) (registry.Snapshot, bool)
	MarkRetrying(guid string) (chat.Message, bool)
}

// MarkRetrying is the payload of KindMarkRetrying events.
type MarkRetrying struct {
	MessageGUID string
}

// Reroute is the payload of KindRerouteReq events.
type Reroute struct {
	MessageGUID string
	ChatGUID    string
}

// BusTransport answers reads from the registry and hands send requests to
// the host instrumentation as bus events, which reach it through the event
// stream of the API.
type BusTransport struct {
	chats Chats
	bus   *bus.Bus
}

func NewBusTransport(chats Chats, b *bus.Bus) *BusTransport {
	return &BusTransport{chats: chats, bus: b}
}

func (t *BusTransport) Reload(_ context.Context, guid string) (chat.Message, error) {
	m, ok := t.chats.Message(guid)
	if !ok {
		return chat.Message{}, fmt.Errorf("message %s not found", guid)
	}
	return m, nil
}

// MarkRetrying flags the accumulator before telling the host, so a failure
// observed while the resend is underway is not planned again.
func (t *BusTransport) MarkRetrying(_ context.Context, guid string) error {
	if _, ok := t.chats.MarkRetrying(guid); !ok {
		return fmt.Errorf("message %s not found", guid)
	}
	t.bus.Publish(bus.Event{Kind: KindMarkRetrying, Payload: MarkRetrying{MessageGUID: guid}})
	return nil
}

// LeafService looks leafGUID up in the chat currently holding the message.
func (t *BusTransport) LeafService(_ context.Context, messageGUID, leafGUID string) (chat.Service, error) {
	m, ok := t.chats.Message(messageGUID)
	if !ok {
		return chat.ServiceNone, fmt.Errorf("message %s not found", messageGUID)
	}
	snap, ok := t.chats.Chat(m.Chat)
	if !ok {
		return chat.ServiceNone, fmt.Errorf("no chat for message %s", messageGUID)
	}
	for _, l := range snap.Leaves {
		if l.GUID == leafGUID {
			return l.Service, nil
		}
	}
	return chat.ServiceNone, fmt.Errorf("leaf %s not in chat %s", leafGUID, snap.MergedID)
}

func (t *BusTransport) Resubmit(_ context.Context, req Resubmit) error {
	t.bus.Publish(bus.Event{Kind: KindResubmit, Payload: req})
	return nil
}

func (t *BusTransport) RequestReroute(_ context.Context, guid, chatGUID string) error {
	t.bus.Publish(bus.Event{Kind: KindRerouteReq, Payload: Reroute{MessageGUID: guid, ChatGUID: chatGUID}})
	return nil
}
