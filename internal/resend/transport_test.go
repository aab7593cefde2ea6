package resend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matheus3301/imcore/internal/bus"
	"github.com/matheus3301/imcore/internal/chat"
	"github.com/matheus3301/imcore/internal/ident"
	"github.com/matheus3301/imcore/internal/registry"
)

func strp(s string) *string { return &s }

func TestBusTransport(t *testing.T) {
	reg := registry.New(registry.Options{}, nil, nil, zap.NewNop())
	sms := chat.ServiceSMS
	reg.HandleChat(chat.LeafUpdate{
		GUID:           strp("SMS;-;+15550001"),
		ChatIdentifier: strp("+15550001"),
		Service:        &sms,
	}, chat.StyleInstantMessage)
	_, _, err := reg.HandleMessage(ident.ChatID("+15550001"), chat.MessageUpdate{ID: "m1", Kind: chat.KindMessage, Service: chat.ServiceSMS})
	require.NoError(t, err)

	b := bus.New()
	events, unsub := b.Subscribe(Namespace, 8)
	defer unsub()
	tr := NewBusTransport(reg, b)
	ctx := context.Background()

	m, err := tr.Reload(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, chat.ServiceSMS, m.Service)
	_, err = tr.Reload(ctx, "missing")
	assert.Error(t, err)

	svc, err := tr.LeafService(ctx, "m1", "SMS;-;+15550001")
	require.NoError(t, err)
	assert.Equal(t, chat.ServiceSMS, svc)
	// The iMessage mirror resolves the chat but is not a leaf.
	_, err = tr.LeafService(ctx, "m1", "iMessage;-;+15550001")
	assert.Error(t, err)
	_, err = tr.LeafService(ctx, "missing", "SMS;-;+15550001")
	assert.Error(t, err)

	require.NoError(t, tr.MarkRetrying(ctx, "m1"))
	m, _ = reg.Message("m1")
	assert.True(t, m.Flags.Has(chat.FlagBeingRetried))
	assert.Error(t, tr.MarkRetrying(ctx, "missing"))
	require.NoError(t, tr.Resubmit(ctx, Resubmit{MessageGUID: "m1", LeafGUID: "SMS;-;+15550001", Target: chat.ServiceSMS}))
	require.NoError(t, tr.RequestReroute(ctx, "m1", "SMS;-;+15550001"))

	var kinds []string
	for range 3 {
		select {
		case evt := <-events:
			kinds = append(kinds, evt.Kind)
		case <-time.After(time.Second):
			t.Fatal("missing transport event")
		}
	}
	assert.Equal(t, []string{KindMarkRetrying, KindResubmit, KindRerouteReq}, kinds)
}

// A leaf whose service changed after the plan was made is read as it is now.
func TestLeafServiceReadsCurrentLeaf(t *testing.T) {
	reg := registry.New(registry.Options{}, nil, nil, zap.NewNop())
	sms, im := chat.ServiceSMS, chat.ServiceIMessage
	leaf := chat.LeafUpdate{
		GUID:           strp("SMS;-;+15550001"),
		ChatIdentifier: strp("+15550001"),
		Service:        &sms,
	}
	reg.HandleChat(leaf, chat.StyleInstantMessage)
	_, _, err := reg.HandleMessage(ident.ChatID("+15550001"), chat.MessageUpdate{ID: "m1", Kind: chat.KindMessage})
	require.NoError(t, err)

	tr := NewBusTransport(reg, bus.New())
	svc, err := tr.LeafService(context.Background(), "m1", "SMS;-;+15550001")
	require.NoError(t, err)
	assert.Equal(t, chat.ServiceSMS, svc)

	leaf.Service = &im
	reg.HandleChat(leaf, chat.StyleInstantMessage)
	svc, err = tr.LeafService(context.Background(), "m1", "SMS;-;+15550001")
	require.NoError(t, err)
	assert.Equal(t, chat.ServiceIMessage, svc)
}
