package chat

import (
	"errors"
	"time"

	"github.com/matheus3301/imcore/internal/ident"
)

// ErrMissingGUID is returned for message input that carries no GUID.
var ErrMissingGUID = errors.New("message has no guid")

// ItemKind tells message items apart from the other transcript items the
// host delivers through the same callbacks.
type ItemKind uint8

const (
	KindMessage ItemKind = iota
	KindParticipantChange
	KindGroupTitleChange
	KindGroupAction
	KindLocationShare
	KindPhantom
)

func (k ItemKind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindParticipantChange:
		return "participantChange"
	case KindGroupTitleChange:
		return "groupTitleChange"
	case KindGroupAction:
		return "groupAction"
	case KindLocationShare:
		return "locationShare"
	default:
		return "phantom"
	}
}

// MessageUpdate is one partial observation of a message.
type MessageUpdate struct {
	ID   string
	Kind ItemKind
	// Service is ServiceNone when the observation did not name one.
	Service Service
	// Error is nil when the observation did not carry an error code.
	Error *ErrorCode
	Flags Flags

	Time          time.Time
	TimeDelivered time.Time
	TimeRead      time.Time
	Sender        ident.Sender
}

// Message accumulates every observation of one message GUID.
type Message struct {
	ID      string
	Chat    ident.ChatIdentifier
	Service Service
	Sender  ident.Sender
	Error   ErrorCode
	Flags   Flags

	Time          time.Time
	TimeDelivered time.Time
	TimeRead      time.Time
}

// NewMessage starts an accumulator for id in chat.
func NewMessage(id string, chat ident.ChatIdentifier) *Message {
	return &Message{ID: id, Chat: chat}
}

// FromMe reports whether the message was sent by the local account.
func (m *Message) FromMe() bool { return m.Flags.Has(FlagFromMe) }

// Failed reports whether the message carries a send error.
func (m *Message) Failed() bool { return m.Error != NoError }

// IsTyping reports whether the message is a typing indicator.
func (m *Message) IsTyping() bool { return m.Flags.Has(FlagTyping) }

// Apply merges u into the message. Service, error and flags are taken from
// u first so the timestamp fold sees the current fromMe state.
func (m *Message) Apply(u MessageUpdate) {
	if u.Service != ServiceNone {
		m.Service = u.Service
	}
	if u.Kind != KindMessage {
		// Transcript items only keep the fromMe bit.
		m.Error = NoError
		m.Flags = u.Flags & FlagFromMe
	} else {
		if u.Error != nil {
			m.Error = *u.Error
		}
		// A local retry mark survives host observations until the message is sent.
		retrying := m.Flags & FlagBeingRetried
		m.Flags = u.Flags
		if !u.Flags.Has(FlagSent) {
			m.Flags |= retrying
		}
	}
	m.Fold(u.Time, u.TimeDelivered, u.TimeRead, u.Sender)
}

// Fold merges timestamps and sender attribution from one observation.
//
// For a message I sent, delivery and read times only come from the
// recipient; an observation attributed to me may still carry the time I
// read it on another device, and the sender stays me. For an incoming
// message, an observation attributed to me is my own read receipt and only
// sets the read time. Anything else is a genuine inbound update and is
// taken verbatim.
func (m *Message) Fold(t, delivered, read time.Time, sender ident.Sender) {
	switch {
	case m.FromMe():
		if !sender.IsMe() {
			m.TimeDelivered = delivered
			m.TimeRead = read
		} else if !read.IsZero() {
			m.TimeRead = read
		}
		if !t.IsZero() {
			m.Time = t
		}
		m.Sender = ident.Me()
	case sender.IsMe():
		m.TimeRead = read
	default:
		m.Time = t
		m.TimeDelivered = delivered
		m.TimeRead = read
		m.Sender = sender
	}
}

// Before orders messages by time. Messages without a time sort last.
func (m *Message) Before(o *Message) bool {
	if m.Time.IsZero() {
		return false
	}
	if o.Time.IsZero() {
		return true
	}
	return m.Time.Before(o.Time)
}
