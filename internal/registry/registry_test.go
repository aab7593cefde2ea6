package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/matheus3301/imcore/internal/chat"
	"github.com/matheus3301/imcore/internal/ident"
	"github.com/matheus3301/imcore/internal/store"
)

func strp(s string) *string { return &s }

func svc(s chat.Service) *chat.Service { return &s }

type mockLookup struct {
	mock.Mock
}

func (m *mockLookup) ChatIdentifierForMessageGUID(ctx context.Context, guid string) (string, error) {
	args := m.Called(ctx, guid)
	return args.String(0), args.Error(1)
}

func (m *mockLookup) ChatGroupIDForMessageRowID(ctx context.Context, rowID int64) (string, error) {
	args := m.Called(ctx, rowID)
	return args.String(0), args.Error(1)
}

type recordingResender struct {
	mu    sync.Mutex
	plans []chat.ResendPlan
}

func (r *recordingResender) Enqueue(plan chat.ResendPlan, _ chat.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans = append(r.plans, plan)
	return true
}

func newRegistry(t *testing.T, lookup Lookup) *Registry {
	t.Helper()
	return New(Options{LookupTimeout: time.Second}, lookup, nil, zap.NewNop())
}

func groupUpdate() chat.LeafUpdate {
	return chat.LeafUpdate{
		GUID:           strp("iMessage;+;chat100"),
		ChatIdentifier: strp("chat100"),
		GroupID:        strp("G-100"),
		Service:        svc(chat.ServiceIMessage),
		Participants:   []string{"+15550001", "+15550002"},
	}
}

func TestCrossIdentifierLookup(t *testing.T) {
	r := newRegistry(t, nil)

	created, _, ok := r.HandleChat(groupUpdate(), chat.StyleGroup)
	require.True(t, ok)

	routed, msg, err := r.Route(context.Background(), Route{GroupID: "G-100"}, chat.MessageUpdate{ID: "m1", Kind: chat.KindMessage})
	require.NoError(t, err)
	assert.Equal(t, created.Ref, routed.Ref)
	assert.Equal(t, "m1", msg.ID)

	for _, id := range []ident.ChatIdentifier{
		ident.ChatID("chat100"),
		ident.GroupID("G-100"),
		ident.GUID("iMessage;+;chat100"),
		ident.GUID("SMS;+;chat100"),
	} {
		s, ok := r.Chat(id)
		require.True(t, ok, id.String())
		assert.Equal(t, created.Ref, s.Ref, id.String())
	}
}

func TestHandleChatWithoutStyleCreatesNothing(t *testing.T) {
	r := newRegistry(t, nil)

	snap, id, ok := r.HandleChat(chat.LeafUpdate{ChatIdentifier: strp("+15550001")}, chat.StyleNone)
	assert.False(t, ok)
	assert.True(t, snap.IsZero())
	assert.Equal(t, ident.ChatID("+15550001"), id)

	chats, ids := r.Len()
	assert.Zero(t, chats)
	assert.Zero(t, ids)
}

func TestSMSLeafMergesIntoIMessageChat(t *testing.T) {
	r := newRegistry(t, nil)

	im, _, ok := r.HandleChat(chat.LeafUpdate{
		GUID:           strp("iMessage;-;+15550001"),
		ChatIdentifier: strp("+15550001"),
		Service:        svc(chat.ServiceIMessage),
	}, chat.StyleInstantMessage)
	require.True(t, ok)

	sms, _, ok := r.HandleChat(chat.LeafUpdate{
		GUID:           strp("SMS;-;+15550001"),
		ChatIdentifier: strp("+15550001"),
		Service:        svc(chat.ServiceSMS),
	}, chat.StyleInstantMessage)
	require.True(t, ok)

	assert.Equal(t, im.Ref, sms.Ref)
	assert.Len(t, sms.Leaves, 2)
	assert.True(t, sms.HasService(chat.ServiceSMS))
	assert.Len(t, r.AllChats(), 1)
}

func TestIdentifierUnionAcrossUpdates(t *testing.T) {
	r := newRegistry(t, nil)

	u := groupUpdate()
	first, _, _ := r.HandleChat(u, chat.StyleGroup)

	// The group id changes: the old one must be released, the new one indexed.
	u.GroupID = strp("G-101")
	second, _, _ := r.HandleChat(u, chat.StyleGroup)
	require.Equal(t, first.Ref, second.Ref)

	_, ok := r.Chat(ident.GroupID("G-100"))
	assert.False(t, ok)
	s, ok := r.Chat(ident.GroupID("G-101"))
	require.True(t, ok)
	assert.Equal(t, first.Ref, s.Ref)

	want := ident.NewSet(
		ident.GUID("iMessage;+;chat100"),
		ident.GUID("SMS;+;chat100"),
		ident.ChatID("chat100"),
		ident.GroupID("G-101"),
	)
	assert.True(t, want.Equal(ident.NewSet(s.Identifiers...)), "%v", s.Identifiers)
}

func TestIdentifierNeverStolenFromLiveChat(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	r := New(Options{}, nil, nil, zap.New(core))

	a, _, _ := r.HandleChat(chat.LeafUpdate{GUID: strp("iMessage;-;a"), ChatIdentifier: strp("a")}, chat.StyleInstantMessage)
	b, _, _ := r.HandleChat(chat.LeafUpdate{GUID: strp("iMessage;-;b"), ChatIdentifier: strp("b")}, chat.StyleInstantMessage)
	require.NotEqual(t, a.Ref, b.Ref)

	// b's guid resolves first; its chat identifier also points at a.
	got, _, ok := r.HandleChat(chat.LeafUpdate{GUID: strp("iMessage;-;b"), ChatIdentifier: strp("a")}, chat.StyleInstantMessage)
	require.True(t, ok)
	assert.Equal(t, b.Ref, got.Ref)

	owner, ok := r.Chat(ident.ChatID("a"))
	require.True(t, ok)
	assert.Equal(t, a.Ref, owner.Ref)

	assert.Equal(t, 1, logs.FilterMessage("merge ambiguity").Len())
	assert.Equal(t, 1, logs.FilterMessage("identifier already owned by another chat").Len())
}

func TestResolveOrder(t *testing.T) {
	r := newRegistry(t, nil)
	ctx := context.Background()

	r.HandleChat(groupUpdate(), chat.StyleGroup)
	_, _, err := r.HandleMessage(ident.ChatID("chat100"), chat.MessageUpdate{ID: "m1", Kind: chat.KindMessage})
	require.NoError(t, err)

	// Reverse lookup beats the supplied group id.
	id, err := r.Resolve(ctx, Route{MessageGUID: "m1", GroupID: "G-other"})
	require.NoError(t, err)
	assert.Equal(t, ident.ChatID("chat100"), id)

	id, err = r.Resolve(ctx, Route{MessageGUID: "m2", GroupID: "G-100", ChatIdentifier: "chat100"})
	require.NoError(t, err)
	assert.Equal(t, ident.GroupID("G-100"), id)

	id, err = r.Resolve(ctx, Route{MessageGUID: "m2", ChatIdentifier: "chat100"})
	require.NoError(t, err)
	assert.Equal(t, ident.ChatID("chat100"), id)

	// An enclosing snapshot wins over everything.
	u := groupUpdate()
	id, err = r.Resolve(ctx, Route{Chat: &u, Style: chat.StyleGroup, MessageGUID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, ident.GUID("iMessage;+;chat100"), id)
}

func TestResolveFallsBackToPersistence(t *testing.T) {
	lookup := &mockLookup{}
	lookup.On("ChatIdentifierForMessageGUID", mock.Anything, "m9").Return("", store.ErrNotFound)
	lookup.On("ChatGroupIDForMessageRowID", mock.Anything, int64(42)).Return("G-100", nil)

	r := newRegistry(t, lookup)
	created, _, _ := r.HandleChat(groupUpdate(), chat.StyleGroup)

	snap, _, err := r.Route(context.Background(), Route{RowID: 42}, chat.MessageUpdate{ID: "m9", Kind: chat.KindMessage})
	require.NoError(t, err)
	assert.Equal(t, created.Ref, snap.Ref)
	lookup.AssertExpectations(t)
}

func TestResolvePersistenceFailureIsUnroutable(t *testing.T) {
	lookup := &mockLookup{}
	lookup.On("ChatIdentifierForMessageGUID", mock.Anything, "m9").Return("", store.ErrNotFound)
	lookup.On("ChatGroupIDForMessageRowID", mock.Anything, int64(42)).Return("", errors.New("disk on fire"))

	r := newRegistry(t, lookup)
	_, err := r.Resolve(context.Background(), Route{MessageGUID: "m9", RowID: 42})
	assert.ErrorIs(t, err, ErrUnroutable)

	_, err = newRegistry(t, nil).Resolve(context.Background(), Route{MessageGUID: "m9"})
	assert.ErrorIs(t, err, ErrUnroutable)
}

func TestHandleMessageUnknownChat(t *testing.T) {
	r := newRegistry(t, nil)
	_, _, err := r.HandleMessage(ident.ChatID("nobody"), chat.MessageUpdate{ID: "m1"})
	assert.ErrorIs(t, err, ErrUnroutable)
	_, ok := r.ChatForMessage("m1")
	assert.False(t, ok, "dropped message must not enter the reverse index")
}

func TestFailedSendIsHandedToResender(t *testing.T) {
	r := newRegistry(t, nil)
	rs := &recordingResender{}
	r.SetResender(rs)

	r.HandleChat(chat.LeafUpdate{
		GUID:           strp("iMessage;-;+15550001"),
		ChatIdentifier: strp("+15550001"),
		Service:        svc(chat.ServiceIMessage),
	}, chat.StyleInstantMessage)
	r.HandleChat(chat.LeafUpdate{
		GUID:           strp("SMS;-;+15550001"),
		ChatIdentifier: strp("+15550001"),
		Service:        svc(chat.ServiceSMS),
	}, chat.StyleInstantMessage)

	code := chat.NetworkFailure
	_, m, err := r.HandleMessage(ident.ChatID("+15550001"), chat.MessageUpdate{
		ID:      "out1",
		Kind:    chat.KindMessage,
		Service: chat.ServiceIMessage,
		Error:   &code,
		Flags:   chat.FlagFromMe,
	})
	require.NoError(t, err)
	assert.True(t, m.Failed())

	require.Len(t, rs.plans, 1)
	p := rs.plans[0]
	assert.Equal(t, "out1", p.MessageID)
	assert.Equal(t, chat.ServiceSMS, p.Target)
	assert.Equal(t, "SMS;-;+15550001", p.LeafGUID)
	assert.True(t, p.Downgrade)

	// Inbound failures never trigger a resend.
	_, _, err = r.HandleMessage(ident.ChatID("+15550001"), chat.MessageUpdate{ID: "in1", Kind: chat.KindMessage, Error: &code})
	require.NoError(t, err)
	assert.Len(t, rs.plans, 1)
}

func TestRemoveChatsAndMessages(t *testing.T) {
	r := newRegistry(t, nil)
	r.HandleChat(groupUpdate(), chat.StyleGroup)
	for _, id := range []string{"m1", "m2"} {
		_, _, err := r.HandleMessage(ident.GroupID("G-100"), chat.MessageUpdate{ID: id, Kind: chat.KindMessage})
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"m1"}, r.RemoveMessages([]string{"m1", "unknown"}))
	_, ok := r.Message("m1")
	assert.False(t, ok)
	_, ok = r.Message("m2")
	assert.True(t, ok)

	removed := r.RemoveChats([]ident.ChatIdentifier{ident.ChatID("chat100")})
	require.Len(t, removed, 1)
	chats, ids := r.Len()
	assert.Zero(t, chats)
	assert.Zero(t, ids)
	_, ok = r.ChatForMessage("m2")
	assert.False(t, ok)
}

type staticCorrelator map[string][]string

func (c staticCorrelator) Correlate(_ context.Context, handle string) ([]string, error) {
	return c[handle], nil
}

func TestChatsForHandleUsesCorrelation(t *testing.T) {
	corr := staticCorrelator{"mailto:someone@example.com": {"tel:+15550009"}}
	r := New(Options{CorrelateTimeout: time.Second}, nil, corr, zap.NewNop())

	r.HandleChat(chat.LeafUpdate{
		GUID:           strp("iMessage;-;+15550009"),
		ChatIdentifier: strp("+15550009"),
		Participants:   []string{"+15550009"},
	}, chat.StyleInstantMessage)
	r.HandleChat(groupUpdate(), chat.StyleGroup)

	got := r.ChatsForHandle(context.Background(), "mailto:someone@example.com")
	require.Len(t, got, 1)
	assert.Equal(t, "+15550009", got[0].PrimaryChatIdentifier())

	got = r.ChatsForHandle(context.Background(), "+15550002")
	require.Len(t, got, 1)
	assert.Equal(t, chat.StyleGroup, got[0].Style)
}

// Chat snapshots with overlapping identifiers, resolves and message folds
// race against each other. Run with -race.
func TestConcurrentWritesKeepIndexConsistent(t *testing.T) {
	r := newRegistry(t, nil)
	im := groupUpdate()
	sms := groupUpdate()
	sms.GUID = strp("SMS;+;chat100")
	sms.Service = svc(chat.ServiceSMS)
	sms.Participants = []string{"+15550001", "+15550003"}

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sender := ident.SenderFromHandle("+15550001", false)
	updates := []chat.MessageUpdate{
		{ID: "m1", Kind: chat.KindMessage, Service: chat.ServiceIMessage, Time: t0, Sender: sender},
		{ID: "m1", Kind: chat.KindMessage, Service: chat.ServiceIMessage, Time: t0, TimeDelivered: t0.Add(time.Second), Sender: sender},
		{ID: "m1", Kind: chat.KindMessage, TimeRead: t0.Add(time.Minute), Sender: ident.Me()},
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u := im
			if i%2 == 1 {
				u = sms
			}
			for range 50 {
				r.HandleChat(u, chat.StyleGroup)
				if id, err := r.Resolve(context.Background(), Route{MessageGUID: "m1"}); err == nil {
					_, live := r.Chat(id)
					assert.True(t, live, "reverse index points at %s with no chat", id)
				}
				r.Messages(ident.GroupID("G-100"))
			}
		}()
	}
	// Message observations arrive in one fixed order while chats churn.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, u := range updates {
			rt := Route{Chat: &im, Style: chat.StyleGroup}
			_, _, err := r.Route(context.Background(), rt, u)
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	chats, _ := r.Len()
	require.Equal(t, 1, chats)
	all := r.AllChats()
	ref := all[0].Ref
	for _, id := range all[0].Identifiers {
		s, ok := r.Chat(id)
		require.True(t, ok, id.String())
		assert.Equal(t, ref, s.Ref, id.String())
	}
	assert.Len(t, all[0].Leaves, 2)

	owner, ok := r.ChatForMessage("m1")
	require.True(t, ok)
	s, ok := r.Chat(owner)
	require.True(t, ok)
	assert.Equal(t, ref, s.Ref)

	want := chat.NewMessage("m1", owner)
	for _, u := range updates {
		want.Apply(u)
	}
	got, ok := r.Message("m1")
	require.True(t, ok)
	assert.Equal(t, *want, got)
}
