package store

import "errors"

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// ChatRecord is the persisted routing information of one chat.
type ChatRecord struct {
	ChatIdentifier string
	GUID           string
	GroupID        string
	Style          int
	Service        string
	DisplayName    string
}

// MessageRecord is the persisted routing information of one message.
type MessageRecord struct {
	GUID           string
	RowID          int64 // 0 when unknown
	ChatIdentifier string
	GroupID        string
	Sender         string
	Service        string
	FromMe         bool
	Flags          uint32
	ErrorCode      uint32
	TimeMs         int64
}

// HandleTimestamp is the last time a handle sent a message in a chat.
type HandleTimestamp struct {
	ChatIdentifier string
	HandleID       string
	LastSentMs     int64
}

// ResendAttempt records one automatic resend of a failed message.
type ResendAttempt struct {
	ID            string
	MessageGUID   string
	LeafGUID      string
	FromService   string
	TargetService string
	Status        string // queued, sent, failed, skipped
	ErrorMessage  string
}
