package listener

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matheus3301/imcore/internal/bus"
	"github.com/matheus3301/imcore/internal/callback"
	"github.com/matheus3301/imcore/internal/chat"
	"github.com/matheus3301/imcore/internal/ident"
	"github.com/matheus3301/imcore/internal/pipeline"
	"github.com/matheus3301/imcore/internal/registry"
	"github.com/matheus3301/imcore/internal/status"
)

type testFlags struct {
	dupes, partial, smsRead, dropSpam bool
}

func (f testFlags) WithholdDupes() bool { return f.dupes }
func (f testFlags) WithholdPartialFailures() bool { return f.partial }
func (f testFlags) SMSReadBuffer() bool { return f.smsRead }
func (f testFlags) DropSpamMessages() bool { return f.dropSpam }
func (f testFlags) LogSensitivePayloads() bool { return false }

var defaultFlags = testFlags{dupes: true, partial: true, smsRead: true, dropSpam: true}

type recordingRerouter struct {
	mu    sync.Mutex
	calls [][2]string
}

func (r *recordingRerouter) RequestReroute(guid, chatGUID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, [2]string{guid, chatGUID})
}

type fixture struct {
	l        *Listener
	ps       *pipeline.Pipelines
	reg      *registry.Registry
	machine  *status.Machine
	rerouter *recordingRerouter
}

func newFixture(t *testing.T, flags testFlags) *fixture {
	t.Helper()
	ps := pipeline.New(bus.New())
	reg := registry.New(registry.Options{}, nil, nil, zap.NewNop())
	gate := pipeline.NewGate(flags, 0, zap.NewNop())
	machine := status.NewMachine(nil)
	rr := &recordingRerouter{}
	l := New(reg, ps, gate, flags, nil, rr, machine, Options{}, zap.NewNop())
	return &fixture{l: l, ps: ps, reg: reg, machine: machine, rerouter: rr}
}

func subscribe[T any](t *testing.T, f *fixture, p pipeline.Pipeline[T]) <-chan T {
	t.Helper()
	ch, cancel := p.Subscribe(f.ps, 64)
	t.Cleanup(cancel)
	return ch
}

// drain collects values until none arrive for a short while.
func drain[T any](ch <-chan T) []T {
	var out []T
	for {
		select {
		case v := <-ch:
			out = append(out, v)
		case <-time.After(100 * time.Millisecond):
			return out
		}
	}
}

func strp(s string) *string { return &s }
func intp(n int) *int { return &n }

func dmChat(handle string, svc chat.Service) callback.Chat {
	return callback.Chat{
		Leaf: chat.LeafUpdate{
			GUID:           strp(svc.String() + ";-;" + handle),
			ChatIdentifier: strp(handle),
			Service:        &svc,
			Participants:   []string{handle},
		},
		Style: chat.StyleInstantMessage,
	}
}

func inbound(id, handle, body string) callback.Item {
	return callback.Item{
		Update: chat.MessageUpdate{
			ID:      id,
			Kind:    chat.KindMessage,
			Service: chat.ServiceIMessage,
			Flags:   chat.FlagFinished,
			Time:    time.Unix(1700000000, 0),
			Sender:  ident.SenderFromHandle(handle, false),
		},
		Handle:         handle,
		Body:           body,
		ChatIdentifier: handle,
	}
}

func outbound(id, chatID, body string, progress callback.Progress) callback.Item {
	return callback.Item{
		Update: chat.MessageUpdate{
			ID:      id,
			Kind:    chat.KindMessage,
			Service: chat.ServiceIMessage,
			Flags:   chat.FlagFromMe | chat.FlagFinished,
			Sender:  ident.Me(),
		},
		Handle:         ident.UnknownHandle,
		Body:           body,
		ChatIdentifier: chatID,
		SendProgress:   progress,
	}
}

func TestLocalEchoThenDaemonEchoPublishesOnce(t *testing.T) {
	f := newFixture(t, defaultFlags)
	msgs := subscribe(t, f, pipeline.Messages)
	ctx := context.Background()

	require.NoError(t, f.l.Handle(ctx, callback.ChatUpdated{Chat: dmChat("+15550001", chat.ServiceIMessage)}))

	it := outbound("ABC", "+15550001", "hello", callback.ProgressSent)
	require.NoError(t, f.l.Handle(ctx, callback.LocalEcho{ChatIdentifier: "+15550001", Item: it}))
	require.NoError(t, f.l.Handle(ctx, callback.MessageReceived{Item: it}))

	got := drain(msgs)
	require.Len(t, got, 1)
	assert.Equal(t, "ABC", got[0].Message.ID)
	assert.True(t, got[0].Message.FromMe())
}

func TestOutboundWithheldUntilFinal(t *testing.T) {
	f := newFixture(t, defaultFlags)
	msgs := subscribe(t, f, pipeline.Messages)
	ctx := context.Background()
	require.NoError(t, f.l.Handle(ctx, callback.ChatUpdated{Chat: dmChat("+15550001", chat.ServiceIMessage)}))

	require.NoError(t, f.l.Handle(ctx, callback.MessageReceived{Item: outbound("o1", "+15550001", "x", callback.ProgressSending)}))
	assert.Empty(t, drain(msgs))

	require.NoError(t, f.l.Handle(ctx, callback.MessageReceived{Item: outbound("o1", "+15550001", "x", callback.ProgressSent)}))
	got := drain(msgs)
	require.Len(t, got, 1)
	assert.Equal(t, "o1", got[0].Message.ID)
}

func TestTypingTransitionsEmitOnce(t *testing.T) {
	f := newFixture(t, defaultFlags)
	typing := subscribe(t, f, pipeline.Typing)
	msgs := subscribe(t, f, pipeline.Messages)
	ctx := context.Background()
	require.NoError(t, f.l.Handle(ctx, callback.ChatUpdated{Chat: dmChat("+15550001", chat.ServiceIMessage)}))

	typingItem := func(id string, cancel bool) callback.Item {
		it := inbound(id, "+15550001", "")
		it.Update.Flags = chat.FlagTyping
		it.TypingMessage = true
		it.IncomingTypingMessage = true
		it.CancelTypingMessage = cancel
		return it
	}

	for _, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, f.l.Handle(ctx, callback.MessageReceived{Item: typingItem(id, false)}))
	}
	require.NoError(t, f.l.Handle(ctx, callback.MessageReceived{Item: typingItem("t4", true)}))

	got := drain(typing)
	require.Len(t, got, 2)
	assert.True(t, got[0].Typing)
	assert.False(t, got[1].Typing)
	assert.Equal(t, "+15550001", got[0].Chat)
	assert.Empty(t, drain(msgs), "typing items never reach the message pipeline")
	assert.False(t, f.l.IsTyping("+15550001"))
}

func TestRepeatedSnapshotEmitsOnlyChanges(t *testing.T) {
	f := newFixture(t, defaultFlags)
	unread := subscribe(t, f, pipeline.UnreadCounts)
	names := subscribe(t, f, pipeline.ChatNames)
	parts := subscribe(t, f, pipeline.Participants)
	ctx := context.Background()

	c := callback.Chat{
		Leaf: chat.LeafUpdate{
			GUID:           strp("iMessage;+;chat7"),
			ChatIdentifier: strp("chat7"),
			Participants:   []string{"+15550001", "+15550002"},
		},
		Style:       chat.StyleGroup,
		DisplayName: strp("Team"),
		UnreadCount: intp(3),
	}
	require.NoError(t, f.l.Handle(ctx, callback.ChatUpdated{Chat: c}))
	require.NoError(t, f.l.Handle(ctx, callback.ChatUpdated{Chat: c}))

	assert.Len(t, drain(unread), 1)
	assert.Len(t, drain(names), 1)
	assert.Len(t, drain(parts), 1)

	c.UnreadCount = intp(0)
	require.NoError(t, f.l.Handle(ctx, callback.ChatUpdated{Chat: c}))
	got := drain(unread)
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].Count)
	assert.Empty(t, drain(names))
}

func TestSetupCompletePrimesCachesSilently(t *testing.T) {
	f := newFixture(t, defaultFlags)
	unread := subscribe(t, f, pipeline.UnreadCounts)
	ctx := context.Background()

	c := dmChat("+15550001", chat.ServiceIMessage)
	c.UnreadCount = intp(2)
	require.NoError(t, f.l.Handle(ctx, callback.SetupComplete{Chats: []callback.Chat{c}}))
	assert.Equal(t, status.Ready, f.machine.Current())

	require.NoError(t, f.l.Handle(ctx, callback.ChatUpdated{Chat: c}))
	assert.Empty(t, drain(unread))

	_, ok := f.reg.Chat(ident.ChatID("+15550001"))
	assert.True(t, ok)
}

func TestSpamAndRerouteAreNotPublished(t *testing.T) {
	f := newFixture(t, defaultFlags)
	msgs := subscribe(t, f, pipeline.Messages)
	ctx := context.Background()
	require.NoError(t, f.l.Handle(ctx, callback.ChatUpdated{Chat: dmChat("+15550001", chat.ServiceIMessage)}))

	spam := inbound("s1", "+15550001", "win a prize")
	spam.Update.Flags |= chat.FlagSpam
	require.NoError(t, f.l.Handle(ctx, callback.MessageReceived{Item: spam}))

	code := chat.RemoteUserDoesNotExist
	failed := outbound("f1", "+15550001", "hi", callback.ProgressFailed)
	failed.Update.Error = &code
	require.NoError(t, f.l.Handle(ctx, callback.MessageReceived{Item: failed}))

	assert.Empty(t, drain(msgs))
	require.Len(t, f.rerouter.calls, 1)
	assert.Equal(t, [2]string{"f1", "iMessage;-;+15550001"}, f.rerouter.calls[0])
}

func TestSpamPublishedWhenDropDisabled(t *testing.T) {
	flags := defaultFlags
	flags.dropSpam = false
	f := newFixture(t, flags)
	msgs := subscribe(t, f, pipeline.Messages)
	ctx := context.Background()
	require.NoError(t, f.l.Handle(ctx, callback.ChatUpdated{Chat: dmChat("+15550001", chat.ServiceIMessage)}))

	spam := inbound("s1", "+15550001", "win a prize")
	spam.Update.Flags |= chat.FlagSpam
	require.NoError(t, f.l.Handle(ctx, callback.MessageReceived{Item: spam}))
	assert.Len(t, drain(msgs), 1)
}

func TestTranscriptItems(t *testing.T) {
	f := newFixture(t, defaultFlags)
	msgs := subscribe(t, f, pipeline.Messages)
	phantoms := subscribe(t, f, pipeline.Phantoms)
	ctx := context.Background()
	require.NoError(t, f.l.Handle(ctx, callback.ChatUpdated{Chat: dmChat("+15550001", chat.ServiceIMessage)}))

	rename := inbound("g1", "+15550001", "")
	rename.Update.Kind = chat.KindGroupTitleChange
	unknown := inbound("p1", "+15550001", "")
	unknown.Update.Kind = chat.KindPhantom

	require.NoError(t, f.l.Handle(ctx, callback.MessageReceived{Item: rename}))
	require.NoError(t, f.l.Handle(ctx, callback.MessageReceived{Item: unknown}))

	got := drain(msgs)
	require.Len(t, got, 1)
	assert.Equal(t, chat.KindGroupTitleChange, got[0].Kind)
	ph := drain(phantoms)
	require.Len(t, ph, 1)
	assert.Equal(t, "p1", ph[0].ItemID)
}

func TestUnroutableMessageIsDropped(t *testing.T) {
	f := newFixture(t, defaultFlags)
	msgs := subscribe(t, f, pipeline.Messages)

	it := inbound("m1", "", "hi")
	it.ChatIdentifier = ""
	err := f.l.Handle(context.Background(), callback.MessageReceived{Item: it})
	assert.ErrorIs(t, err, registry.ErrUnroutable)
	assert.Empty(t, drain(msgs))
}

func TestSentMessagePublishesStatus(t *testing.T) {
	f := newFixture(t, defaultFlags)
	statuses := subscribe(t, f, pipeline.MessageStatuses)
	ctx := context.Background()
	require.NoError(t, f.l.Handle(ctx, callback.ChatUpdated{Chat: dmChat("+15550001", chat.ServiceIMessage)}))
	require.NoError(t, f.l.Handle(ctx, callback.MessageReceived{Item: outbound("o1", "+15550001", "x", callback.ProgressSent)}))

	at := time.Unix(1700000100, 0)
	require.NoError(t, f.l.Handle(ctx, callback.MessageSent{MessageID: "o1", Time: at}))

	got := drain(statuses)
	require.Len(t, got, 1)
	assert.Equal(t, pipeline.StatusSent, got[0].Type)
	assert.Equal(t, "+15550001", got[0].ChatID)
	assert.True(t, got[0].FromMe)
	assert.Equal(t, chat.ServiceIMessage, got[0].Service)
	assert.True(t, got[0].Time.Equal(at))

	err := f.l.Handle(ctx, callback.MessageSent{MessageID: "unknown"})
	assert.ErrorIs(t, err, ErrNoChatForSent)
}

func TestReadOnSMSChatFillsReadBuffer(t *testing.T) {
	f := newFixture(t, defaultFlags)
	statuses := subscribe(t, f, pipeline.MessageStatuses)
	ctx := context.Background()
	require.NoError(t, f.l.Handle(ctx, callback.ChatUpdated{Chat: dmChat("+15550001", chat.ServiceSMS)}))

	it := inbound("r1", "+15550001", "")
	it.Update.Service = chat.ServiceSMS
	it.Update.TimeRead = time.Unix(1700000200, 0)
	require.NoError(t, f.l.Handle(ctx, callback.ServiceMessage{ChatIdentifier: "+15550001", Style: chat.StyleInstantMessage, Item: it}))

	got := drain(statuses)
	require.Len(t, got, 1)
	assert.Equal(t, pipeline.StatusRead, got[0].Type)
	assert.True(t, got[0].FromMe, "I read an incoming message")
	assert.Equal(t, []string{"r1"}, f.l.ReadBuffer())
}

func TestDeletions(t *testing.T) {
	f := newFixture(t, defaultFlags)
	msgDel := subscribe(t, f, pipeline.MessagesDeleted)
	chatDel := subscribe(t, f, pipeline.ChatsDeleted)
	ctx := context.Background()
	require.NoError(t, f.l.Handle(ctx, callback.ChatUpdated{Chat: dmChat("+15550001", chat.ServiceIMessage)}))

	require.NoError(t, f.l.Handle(ctx, callback.MessagesDeleted{}))
	require.NoError(t, f.l.Handle(ctx, callback.ChatsDeleted{}))
	assert.Empty(t, drain(msgDel))
	assert.Empty(t, drain(chatDel))

	require.NoError(t, f.l.Handle(ctx, callback.MessagesDeleted{GUIDs: []string{"m1"}}))
	require.NoError(t, f.l.Handle(ctx, callback.ChatsDeleted{Identifiers: []ident.ChatIdentifier{ident.GUID("iMessage;-;+15550001")}}))

	md := drain(msgDel)
	require.Len(t, md, 1)
	assert.Equal(t, []string{"m1"}, md[0].IDs)
	cd := drain(chatDel)
	require.Len(t, cd, 1)
	assert.Equal(t, []string{"iMessage;-;+15550001"}, cd[0].IDs)
	assert.Equal(t, []string{"+15550001"}, cd[0].ChatIdentifiers)

	_, ok := f.reg.Chat(ident.ChatID("+15550001"))
	assert.False(t, ok)
}

func TestPassthroughCallbacks(t *testing.T) {
	f := newFixture(t, defaultFlags)
	blocks := subscribe(t, f, pipeline.Blocklist)
	joins := subscribe(t, f, pipeline.JoinStates)
	conf := subscribe(t, f, pipeline.Configuration)
	ctx := context.Background()

	require.NoError(t, f.l.Handle(ctx, callback.BlocklistChanged{Handles: []string{"+15559999"}}))
	require.NoError(t, f.l.Handle(ctx, callback.JoinStateChanged{ChatIdentifier: "chat7", State: 3}))
	require.NoError(t, f.l.Handle(ctx, callback.ConfigurationChanged{Values: map[string]string{"k": "v"}}))

	assert.Len(t, drain(blocks), 1)
	assert.Len(t, drain(joins), 1)
	assert.Len(t, drain(conf), 1)
}
