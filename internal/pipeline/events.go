package pipeline

import (
	"time"

	"github.com/matheus3301/imcore/internal/chat"
)

type UnreadCount struct {
	Chat  string
	Count int
}

type TypingChange struct {
	Chat    string
	Service chat.Service
	Typing  bool
}

// ChatName carries a display name change. An empty Name clears it.
type ChatName struct {
	Chat string
	Name string
}

type ParticipantsChange struct {
	Chat         string
	Participants []string
}

type BlocklistChange struct {
	Handles []string
}

// Deletion lists ids removed from history.
type Deletion struct {
	IDs []string
	// ChatIdentifiers names the chat identifiers of removed chats. It is
	// empty for message deletions.
	ChatIdentifiers []string
}

type JoinState struct {
	Chat  string
	State int
}

// MessageEvent is a message or transcript item ready for consumers.
type MessageEvent struct {
	Chat    string
	Service chat.Service
	Message chat.Message
	Kind    chat.ItemKind
	Body    string
	// RowID and GroupID are the routing context the host delivered with
	// the item, zero when absent.
	RowID   int64
	GroupID string
}

// Phantom is a transcript item with no known representation.
type Phantom struct {
	Chat   string
	ItemID string
	Kind   chat.ItemKind
}

// StatusType is the kind of a message status change.
type StatusType string

const (
	StatusDelivered    StatusType = "delivered"
	StatusRead         StatusType = "read"
	StatusPlayed       StatusType = "played"
	StatusDowngraded   StatusType = "downgraded"
	StatusNotDelivered StatusType = "notDelivered"
	StatusSent         StatusType = "sent"
)

// StatusChange reports delivery progress of one message.
type StatusChange struct {
	Type    StatusType
	Service chat.Service
	Time    time.Time
	// Sender is empty when the change was caused by the local account.
	Sender    string
	FromMe    bool
	ChatID    string
	MessageID string
}

type ConfigurationChange struct {
	Values map[string]string
}
