package listener

import (
	"testing"
	"time"

	"github.com/matheus3301/imcore/internal/callback"
	"github.com/matheus3301/imcore/internal/chat"
	"github.com/matheus3301/imcore/internal/ident"
	"github.com/matheus3301/imcore/internal/pipeline"
)

func TestStatusChangeFor(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	failed := chat.SendFailed

	tests := []struct {
		name       string
		fromMe     bool
		handle     string
		style      chat.Style
		mutate     func(*callback.Item)
		wantOK     bool
		wantType   pipeline.StatusType
		wantFromMe bool
		wantSender string
	}{
		{
			name: "no status", style: chat.StyleInstantMessage, handle: "+1",
			mutate: func(*callback.Item) {},
		},
		{
			name: "error wins", fromMe: true, style: chat.StyleInstantMessage,
			mutate: func(it *callback.Item) {
				it.Update.Error = &failed
				it.Update.TimeRead = t0
			},
			wantOK: true, wantType: pipeline.StatusNotDelivered, wantFromMe: true,
		},
		{
			name: "recipient read my dm", fromMe: true, handle: "+1", style: chat.StyleInstantMessage,
			mutate: func(it *callback.Item) { it.Update.TimeRead = t0 },
			wantOK: true, wantType: pipeline.StatusRead, wantFromMe: false, wantSender: "chat",
		},
		{
			name: "I read their dm", handle: "+1", style: chat.StyleInstantMessage,
			mutate: func(it *callback.Item) { it.Update.TimeRead = t0 },
			wantOK: true, wantType: pipeline.StatusRead, wantFromMe: true,
		},
		{
			name: "dm delivered", fromMe: true, handle: "+1", style: chat.StyleInstantMessage,
			mutate: func(it *callback.Item) { it.Update.TimeDelivered = t0 },
			wantOK: true, wantType: pipeline.StatusDelivered, wantFromMe: false, wantSender: "chat",
		},
		{
			name: "played beats read", fromMe: true, handle: "+1", style: chat.StyleInstantMessage,
			mutate: func(it *callback.Item) {
				it.TimePlayed = t0
				it.Update.TimeRead = t0
			},
			wantOK: true, wantType: pipeline.StatusPlayed, wantFromMe: false, wantSender: "chat",
		},
		{
			name: "group played comes from sender", handle: "tel:+2", style: chat.StyleGroup,
			mutate: func(it *callback.Item) { it.TimePlayed = t0 },
			wantOK: true, wantType: pipeline.StatusPlayed, wantFromMe: false, wantSender: "+2",
		},
		{
			name: "group read is mine", handle: "+2", style: chat.StyleGroup,
			mutate: func(it *callback.Item) { it.Update.TimeRead = t0 },
			wantOK: true, wantType: pipeline.StatusRead, wantFromMe: true,
		},
		{
			name: "downgraded", fromMe: true, style: chat.StyleInstantMessage,
			mutate: func(it *callback.Item) { it.Update.Flags |= chat.FlagDowngraded },
			wantOK: true, wantType: pipeline.StatusDowngraded, wantFromMe: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := callback.Item{
				Update: chat.MessageUpdate{ID: "m1", Kind: chat.KindMessage, Service: chat.ServiceIMessage, Time: t0},
				Handle: tt.handle,
			}
			if tt.fromMe {
				it.Update.Flags |= chat.FlagFromMe
				it.Update.Sender = ident.Me()
			}
			if tt.handle == "" {
				it.Handle = ident.UnknownHandle
			}
			tt.mutate(&it)

			sc, ok := StatusChangeFor(it, "chat", tt.style)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if sc.Type != tt.wantType {
				t.Errorf("type = %s, want %s", sc.Type, tt.wantType)
			}
			if sc.FromMe != tt.wantFromMe {
				t.Errorf("fromMe = %v, want %v", sc.FromMe, tt.wantFromMe)
			}
			if sc.Sender != tt.wantSender {
				t.Errorf("sender = %q, want %q", sc.Sender, tt.wantSender)
			}
			if sc.MessageID != "m1" || sc.ChatID != "chat" {
				t.Errorf("ids = %q/%q", sc.MessageID, sc.ChatID)
			}
		})
	}
}

func TestStatusChangeForNeedsService(t *testing.T) {
	it := callback.Item{Update: chat.MessageUpdate{ID: "m1", TimeRead: time.Now()}}
	if _, ok := StatusChangeFor(it, "chat", chat.StyleInstantMessage); ok {
		t.Error("status without service should be dropped")
	}
}
