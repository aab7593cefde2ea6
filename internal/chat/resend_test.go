package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/matheus3301/imcore/internal/ident"
)

func TestEligibleForResend(t *testing.T) {
	base := Message{ID: "m", Flags: FlagFromMe, Error: RemoteUserDoesNotExist}

	tests := []struct {
		name string
		mod  func(m *Message)
		want bool
	}{
		{"remote user does not exist", func(m *Message) {}, true},
		{"network failure", func(m *Message) { m.Error = NetworkFailure }, true},
		{"encryption failure", func(m *Message) { m.Error = OTREncryptionFailure }, true},
		{"timeout", func(m *Message) { m.Error = Timeout }, true},
		{"attachment upload", func(m *Message) { m.Error = MessageAttachmentUploadFailure }, true},
		{"local account disabled", func(m *Message) { m.Error = LocalAccountDisabled }, false},
		{"no error", func(m *Message) { m.Error = NoError }, false},
		{"server rejected", func(m *Message) { m.Error = ServerRejectedError }, false},
		{"not from me", func(m *Message) { m.Flags = 0 }, false},
		{"already sent", func(m *Message) { m.Flags |= FlagSent }, false},
		{"being retried", func(m *Message) { m.Flags |= FlagBeingRetried }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := base
			tt.mod(&m)
			assert.Equal(t, tt.want, EligibleForResend(m))
		})
	}
}

func TestPlanResend(t *testing.T) {
	c := New(StyleInstantMessage, Retention{})
	_, _ = c.Apply(LeafUpdate{GUID: strp("iMessage;-;+1555"), Service: servicep(ServiceIMessage)})
	_, _ = c.Apply(LeafUpdate{GUID: strp("SMS;-;+1555"), Service: servicep(ServiceSMS)})

	t.Run("iMessage failure falls back to SMS", func(t *testing.T) {
		plan := PlanResend(Message{ID: "m", Chat: ident.ChatID("+1555"), Service: ServiceIMessage, Error: RemoteUserDoesNotExist}, c)
		assert.Equal(t, ServiceSMS, plan.Target)
		assert.Equal(t, "SMS;-;+1555", plan.LeafGUID)
		assert.True(t, plan.Downgrade)
	})

	t.Run("SMS remote user failure prefers iMessage", func(t *testing.T) {
		plan := PlanResend(Message{ID: "m", Service: ServiceSMS, Error: RemoteUserDoesNotExist}, c)
		assert.Equal(t, ServiceIMessage, plan.Target)
		assert.Equal(t, "iMessage;-;+1555", plan.LeafGUID)
		assert.False(t, plan.Downgrade)
	})

	t.Run("no leaf on target", func(t *testing.T) {
		only := New(StyleInstantMessage, Retention{})
		_, _ = only.Apply(LeafUpdate{GUID: strp("iMessage;-;+1555"), Service: servicep(ServiceIMessage)})
		plan := PlanResend(Message{ID: "m", Service: ServiceIMessage, Error: NetworkFailure}, only)
		assert.Equal(t, ServiceSMS, plan.Target)
		assert.Empty(t, plan.LeafGUID)
	})
}
