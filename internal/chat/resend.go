package chat

import "github.com/matheus3301/imcore/internal/ident"

// EligibleForResend reports whether a failed outbound message should be
// retried on another service.
func EligibleForResend(m Message) bool {
	if !m.Flags.Has(FlagFromMe) {
		return false
	}
	if m.Flags.Has(FlagSent) || m.Flags.Has(FlagBeingRetried) {
		return false
	}
	return m.Error.Retryable()
}

// ResendPlan describes how a failed message is resubmitted.
type ResendPlan struct {
	MessageID string
	Chat      ident.ChatIdentifier
	Error     ErrorCode
	From      Service
	Target    Service
	// LeafGUID is the leaf the message is resubmitted on. It is empty when
	// the chat has no leaf on the target service.
	LeafGUID string
	// Downgrade is set when the target is SMS, in which case the message is
	// flagged downgraded and moved to the SMS account before sending.
	Downgrade bool
}

// PlanResend picks the service and leaf a message should be resent on.
// A remote-user-does-not-exist failure prefers iMessage when the message
// was not already on iMessage and the chat has an iMessage leaf; every other
// failure flips to the alternate service.
func PlanResend(m Message, c *Chat) ResendPlan {
	plan := ResendPlan{
		MessageID: m.ID,
		Chat:      m.Chat,
		Error:     m.Error,
		From:      m.Service,
		Target:    m.Service.Alternate(),
	}
	if m.Error == RemoteUserDoesNotExist && m.Service != ServiceIMessage {
		if _, ok := c.LeafFor(ServiceIMessage); ok {
			plan.Target = ServiceIMessage
		}
	}
	if leaf, ok := c.LeafFor(plan.Target); ok {
		plan.LeafGUID = leaf.GUID
	}
	plan.Downgrade = plan.Target == ServiceSMS
	return plan
}
