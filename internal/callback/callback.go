// Package callback turns the untyped dictionaries delivered by the host
// messaging daemon into typed values. Nothing past this package sees a raw map.
package callback

import (
	"time"

	"github.com/matheus3301/imcore/internal/chat"
	"github.com/matheus3301/imcore/internal/ident"
)

// Progress is the send progress of an outbound message item.
type Progress uint8

const (
	ProgressNone Progress = iota
	ProgressSending
	ProgressSent
	ProgressFailed
)

func (p Progress) String() string {
	switch p {
	case ProgressSending:
		return "sending"
	case ProgressSent:
		return "sent"
	case ProgressFailed:
		return "failed"
	default:
		return "none"
	}
}

// Chat is a parsed chat snapshot.
type Chat struct {
	Leaf  chat.LeafUpdate
	Style chat.Style

	DisplayName *string
	UnreadCount *int
	JoinState   *int
}

// HasStyle reports whether the snapshot named a valid chat style.
func (c Chat) HasStyle() bool { return c.Style != chat.StyleNone }

// Item is a parsed message item or transcript item.
type Item struct {
	Update chat.MessageUpdate

	// Type is the raw host item type, part of the content nonce.
	Type           int64
	RowID          int64
	Body           string
	AssociatedGUID string
	Handle         string
	SendProgress   Progress
	// TimePlayed is only carried by status items of audio messages.
	TimePlayed time.Time

	// Routing context carried alongside the item.
	ChatIdentifier string
	GroupID        string

	TypingMessage         bool
	IncomingTypingMessage bool
	CancelTypingMessage   bool
}

// FromMe reports whether the item was sent by the local account.
func (i Item) FromMe() bool { return i.Update.Flags.Has(chat.FlagFromMe) }

// IsMessage reports whether the item is a message rather than a transcript item.
func (i Item) IsMessage() bool { return i.Update.Kind == chat.KindMessage }

// ErrorCode returns the item's error code, NoError when absent.
func (i Item) ErrorCode() chat.ErrorCode {
	if i.Update.Error == nil {
		return chat.NoError
	}
	return *i.Update.Error
}

// Callback is one daemon callback. The concrete types below are the only
// implementations.
type Callback interface {
	isCallback()
}

// ChatUpdated carries a full chat snapshot.
type ChatUpdated struct {
	Chat Chat
}

// PropertiesUpdated carries a chat's properties dictionary.
type PropertiesUpdated struct {
	GUID string
	Chat Chat
}

// MessageReceived carries a message item, optionally inside the snapshot of
// the chat it belongs to.
type MessageReceived struct {
	Chat *Chat
	Item Item
}

// MessageSent reports that an outbound message finished sending.
type MessageSent struct {
	MessageID string
	Time      time.Time
}

// ServiceMessage carries an item whose only interest is the status change
// it implies (delivered, read, played).
type ServiceMessage struct {
	ChatIdentifier string
	Style          chat.Style
	Item           Item
}

// SetupComplete is delivered once the host finished loading chats.
type SetupComplete struct {
	Chats []Chat
}

// MessagesDeleted lists message guids removed from history.
type MessagesDeleted struct {
	GUIDs []string
}

// ChatsDeleted lists chats removed by the user.
type ChatsDeleted struct {
	Identifiers []ident.ChatIdentifier
}

// BlocklistChanged carries the full list of blocked handles.
type BlocklistChanged struct {
	Handles []string
}

// JoinStateChanged reports the local account joining or leaving a group.
type JoinStateChanged struct {
	ChatIdentifier string
	State          int
}

// LocalEcho is an optimistic outbound message inserted before the daemon
// reports it.
type LocalEcho struct {
	ChatIdentifier string
	Item           Item
}

// ConfigurationChanged carries host configuration values.
type ConfigurationChanged struct {
	Values map[string]string
}

func (ChatUpdated) isCallback() {}
func (PropertiesUpdated) isCallback() {}
func (MessageReceived) isCallback() {}
func (MessageSent) isCallback() {}
func (ServiceMessage) isCallback() {}
func (SetupComplete) isCallback() {}
func (MessagesDeleted) isCallback() {}
func (ChatsDeleted) isCallback() {}
func (BlocklistChanged) isCallback() {}
func (JoinStateChanged) isCallback() {}
func (LocalEcho) isCallback() {}
func (ConfigurationChanged) isCallback() {}
