package pipeline

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/imcore/internal/callback"
	"github.com/matheus3301/imcore/internal/chat"
	"github.com/matheus3301/imcore/internal/ident"
)

type staticPolicy struct {
	dupes, partial bool
}

func (p staticPolicy) WithholdDupes() bool { return p.dupes }
func (p staticPolicy) WithholdPartialFailures() bool { return p.partial }

func outbound(id string, progress callback.Progress) callback.Item {
	return callback.Item{
		Update: chat.MessageUpdate{
			ID:     id,
			Flags:  chat.FlagFromMe,
			Sender: ident.Me(),
		},
		Body:         "hello",
		RowID:        7,
		SendProgress: progress,
	}
}

func inbound(id string) callback.Item {
	return callback.Item{
		Update: chat.MessageUpdate{
			ID:     id,
			Sender: ident.SenderFromHandle("+15555550123", false),
		},
		Body: "hi",
	}
}

func newTestGate(p Policy) *Gate {
	return NewGate(p, time.Minute, zap.NewNop())
}

// A local echo followed by the daemon reporting the same message lets only
// one of them through.
func TestGateLocalEchoRoundTrip(t *testing.T) {
	g := newTestGate(staticPolicy{dupes: true, partial: true})
	it := outbound("ABC", callback.ProgressSent)

	g.Record(it)
	if g.Preflight(it) {
		t.Fatal("echo of local insert passed preflight")
	}
	if g.Seen(it) {
		t.Error("nonce not consumed after withholding")
	}
}

func TestGateInboundDuplicate(t *testing.T) {
	g := newTestGate(staticPolicy{dupes: true, partial: true})
	it := inbound("M1")
	if !g.Preflight(it) {
		t.Fatal("first inbound withheld")
	}
	if g.Preflight(it) {
		t.Error("duplicate inbound passed")
	}
}

func TestGateDupesDisabled(t *testing.T) {
	g := newTestGate(staticPolicy{dupes: false, partial: true})
	it := inbound("M1")
	if !g.Preflight(it) || !g.Preflight(it) {
		t.Error("duplicate withheld with withhold-dupes disabled")
	}
}

func TestGateSendProgress(t *testing.T) {
	tests := []struct {
		name     string
		progress callback.Progress
		code     *chat.ErrorCode
		policy   staticPolicy
		want     bool
	}{
		{"sending", callback.ProgressSending, nil, staticPolicy{true, true}, false},
		{"sent", callback.ProgressSent, nil, staticPolicy{true, true}, true},
		{"no progress", callback.ProgressNone, nil, staticPolicy{true, true}, true},
		{"failed without code", callback.ProgressFailed, codep(chat.NoError), staticPolicy{true, true}, false},
		{"failed with code", callback.ProgressFailed, codep(chat.NetworkFailure), staticPolicy{true, true}, true},
		{"failed without code, policy off", callback.ProgressFailed, nil, staticPolicy{true, false}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGate(tt.policy)
			it := outbound("X", tt.progress)
			it.Update.Error = tt.code
			if got := g.Preflight(it); got != tt.want {
				t.Errorf("Preflight() = %v, want %v", got, tt.want)
			}
		})
	}
}

// Failures may be reported more than once because the error code can
// arrive after the first failure notice.
func TestGateFailedRepeatsPass(t *testing.T) {
	g := newTestGate(staticPolicy{dupes: true, partial: true})
	it := outbound("F", callback.ProgressFailed)
	it.Update.Error = codep(chat.Timeout)
	if !g.Preflight(it) || !g.Preflight(it) {
		t.Error("repeated failure withheld")
	}
}

func TestGateSendingThenSent(t *testing.T) {
	g := newTestGate(staticPolicy{dupes: true, partial: true})
	if g.Preflight(outbound("S", callback.ProgressSending)) {
		t.Fatal("sending passed")
	}
	if !g.Preflight(outbound("S", callback.ProgressSent)) {
		t.Fatal("sent withheld after sending")
	}
	if g.Preflight(outbound("S", callback.ProgressSent)) {
		t.Error("second sent passed")
	}
}

func TestNonce(t *testing.T) {
	a := inbound("M")
	b := inbound("M")
	if Nonce(a) != Nonce(b) {
		t.Error("identical items hash differently")
	}
	b.Body = "different"
	if Nonce(a) == Nonce(b) {
		t.Error("body not part of nonce")
	}

	ta := a
	ta.Update.Kind = chat.KindGroupTitleChange
	tb := ta
	tb.Body = "ignored for transcript items"
	if Nonce(ta) != Nonce(tb) {
		t.Error("body hashed for non-message item")
	}

	fromMe := a
	fromMe.Update.Flags = chat.FlagFromMe
	if Nonce(a) == Nonce(fromMe) {
		t.Error("direction not part of nonce")
	}
}

func TestGateExpire(t *testing.T) {
	g := newTestGate(staticPolicy{dupes: true, partial: true})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	g.Record(inbound("old"))

	now = now.Add(2 * time.Minute)
	g.Record(inbound("new"))

	if n := g.Expire(); n != 1 {
		t.Errorf("Expire() = %d, want 1", n)
	}
	if g.Len() != 1 || !g.Seen(inbound("new")) {
		t.Error("wrong nonce expired")
	}
}

func TestGateStartStop(t *testing.T) {
	g := NewGate(staticPolicy{}, 20*time.Millisecond, zap.NewNop())
	g.Start()
	g.Record(inbound("x"))
	deadline := time.After(time.Second)
	for g.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("nonce never expired")
		case <-time.After(5 * time.Millisecond):
		}
	}
	g.Stop()
	g.Stop()
}

func codep(c chat.ErrorCode) *chat.ErrorCode { return &c }
