package callback

import (
	"errors"
	"testing"

	"github.com/matheus3301/imcore/internal/ident"
)

func TestParseDispatch(t *testing.T) {
	item := map[string]any{"guid": "M1", "handle": "+15555550123"}
	tests := []struct {
		kind    string
		payload map[string]any
		check   func(t *testing.T, cb Callback)
	}{
		{KindChat, map[string]any{"guid": "iMessage;-;x"}, func(t *testing.T, cb Callback) {
			if _, ok := cb.(ChatUpdated); !ok {
				t.Errorf("got %T", cb)
			}
		}},
		{KindProperties, map[string]any{"guid": "iMessage;-;x", "properties": map[string]any{"shouldForceToSMS": true}}, func(t *testing.T, cb Callback) {
			p := cb.(PropertiesUpdated)
			if p.Chat.Leaf.ShouldForceToSMS == nil || !*p.Chat.Leaf.ShouldForceToSMS {
				t.Error("properties not parsed")
			}
		}},
		{KindMessage, map[string]any{"item": item, "chat": map[string]any{"chatIdentifier": "x"}}, func(t *testing.T, cb Callback) {
			m := cb.(MessageReceived)
			if m.Chat == nil || m.Item.Update.ID != "M1" {
				t.Errorf("message = %+v", m)
			}
		}},
		{KindSent, map[string]any{"guid": "M1", "time": float64(1)}, func(t *testing.T, cb Callback) {
			if s := cb.(MessageSent); s.MessageID != "M1" || s.Time.IsZero() {
				t.Errorf("sent = %+v", s)
			}
		}},
		{KindStatus, map[string]any{"item": item, "chatIdentifier": "x", "style": float64(45)}, func(t *testing.T, cb Callback) {
			if s := cb.(ServiceMessage); s.ChatIdentifier != "x" {
				t.Errorf("status = %+v", s)
			}
		}},
		{KindSetupComplete, map[string]any{"personMergedChats": []any{map[string]any{"guid": "a"}, map[string]any{}, "junk"}}, func(t *testing.T, cb Callback) {
			if sc := cb.(SetupComplete); len(sc.Chats) != 1 {
				t.Errorf("chats = %d, want 1", len(sc.Chats))
			}
		}},
		{KindChatsDeleted, map[string]any{"identifiers": []any{"guid:iMessage;-;x", "plain"}}, func(t *testing.T, cb Callback) {
			cd := cb.(ChatsDeleted)
			if len(cd.Identifiers) != 2 || cd.Identifiers[0] != ident.GUID("iMessage;-;x") || cd.Identifiers[1] != ident.ChatID("plain") {
				t.Errorf("identifiers = %v", cd.Identifiers)
			}
		}},
		{KindMessagesDeleted, map[string]any{"guids": []any{"a", "", "b"}}, func(t *testing.T, cb Callback) {
			if md := cb.(MessagesDeleted); len(md.GUIDs) != 2 {
				t.Errorf("guids = %v", md.GUIDs)
			}
		}},
		{KindBlocklist, map[string]any{"handles": []any{"+1555"}}, func(t *testing.T, cb Callback) {
			if b := cb.(BlocklistChanged); len(b.Handles) != 1 {
				t.Errorf("handles = %v", b.Handles)
			}
		}},
		{KindJoinState, map[string]any{"chatIdentifier": "x", "state": float64(3)}, func(t *testing.T, cb Callback) {
			if j := cb.(JoinStateChanged); j.State != 3 {
				t.Errorf("state = %d", j.State)
			}
		}},
		{KindLocalEcho, map[string]any{"chatIdentifier": "x", "item": item}, func(t *testing.T, cb Callback) {
			if e := cb.(LocalEcho); e.Item.Update.ID != "M1" {
				t.Errorf("echo = %+v", e)
			}
		}},
		{KindConfiguration, map[string]any{"values": map[string]any{"beeper": true}}, func(t *testing.T, cb Callback) {
			if c := cb.(ConfigurationChanged); c.Values["beeper"] != "true" {
				t.Errorf("values = %v", c.Values)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			cb, err := Parse(tt.kind, tt.payload)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			tt.check(t, cb)
		})
	}
}

func TestParseDispatchErrors(t *testing.T) {
	tests := []struct {
		kind    string
		payload map[string]any
		want    error
	}{
		{"bogus", nil, ErrUnknownKind},
		{KindMessage, map[string]any{}, ErrMissingField},
		{KindSent, map[string]any{}, ErrMissingField},
		{KindStatus, map[string]any{"item": map[string]any{"guid": "a"}}, ErrMissingField},
		{KindProperties, map[string]any{}, ErrMissingField},
	}
	for _, tt := range tests {
		if _, err := Parse(tt.kind, tt.payload); !errors.Is(err, tt.want) {
			t.Errorf("Parse(%q) error = %v, want %v", tt.kind, err, tt.want)
		}
	}
}
