package chat

import (
	"time"

	"github.com/matheus3301/imcore/internal/ident"
)

// LeafUpdate is the typed form of a chat snapshot delivered by the host.
// Nil fields were absent from the snapshot and leave the leaf untouched.
type LeafUpdate struct {
	GUID            *string
	ChatIdentifier  *string
	GroupID         *string
	OriginalGroupID *string

	Service               *Service
	HasHadSuccessfulQuery *bool
	ShouldForceToSMS      *bool
	LastSentMessageDate   *time.Time
	// Participants is nil when the snapshot carried no participant list.
	Participants []string
}

// Leaf is one transport-level chat contributing to a logical chat.
type Leaf struct {
	GUID            string
	ChatIdentifier  string
	GroupID         string
	OriginalGroupID string

	Service               Service
	HasHadSuccessfulQuery bool
	ShouldForceToSMS      bool
	LastSentMessageDate   time.Time
	Participants          []string
}

// LeafFromUpdate builds a transient leaf from the identifying fields of u.
func LeafFromUpdate(u LeafUpdate) Leaf {
	var l Leaf
	l.ApplyIdentifiers(u)
	return l
}

// ApplyIdentifiers merges the identifying fields of u, keeping the current
// value of any field u does not carry.
func (l *Leaf) ApplyIdentifiers(u LeafUpdate) {
	setString(&l.GUID, u.GUID)
	setString(&l.ChatIdentifier, u.ChatIdentifier)
	setString(&l.GroupID, u.GroupID)
	setString(&l.OriginalGroupID, u.OriginalGroupID)
}

// Apply merges a full snapshot into the leaf.
func (l *Leaf) Apply(u LeafUpdate) {
	l.ApplyIdentifiers(u)
	if u.Service != nil {
		l.Service = *u.Service
	}
	if u.HasHadSuccessfulQuery != nil {
		l.HasHadSuccessfulQuery = *u.HasHadSuccessfulQuery
	}
	if u.ShouldForceToSMS != nil {
		l.ShouldForceToSMS = *u.ShouldForceToSMS
	}
	if u.LastSentMessageDate != nil {
		l.LastSentMessageDate = *u.LastSentMessageDate
	}
	if u.Participants != nil {
		l.Participants = append([]string(nil), u.Participants...)
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

// MostUniqueIdentifier returns the strongest identifier the leaf carries:
// guid, then group id, then chat identifier, then original group id.
// The zero value is returned when the leaf carries none.
func (l Leaf) MostUniqueIdentifier() ident.ChatIdentifier {
	switch {
	case l.GUID != "":
		return ident.GUID(l.GUID)
	case l.GroupID != "":
		return ident.GroupID(l.GroupID)
	case l.ChatIdentifier != "":
		return ident.ChatID(l.ChatIdentifier)
	case l.OriginalGroupID != "":
		return ident.OriginalGroupID(l.OriginalGroupID)
	default:
		return ident.ChatIdentifier{}
	}
}

// IdentifierList returns the present identifiers in lookup order:
// guid, chat identifier, group id, original group id.
func (l Leaf) IdentifierList() []ident.ChatIdentifier {
	all := [...]ident.ChatIdentifier{
		ident.GUID(l.GUID),
		ident.ChatID(l.ChatIdentifier),
		ident.GroupID(l.GroupID),
		ident.OriginalGroupID(l.OriginalGroupID),
	}
	out := make([]ident.ChatIdentifier, 0, len(all))
	for _, id := range all {
		if !id.IsZero() {
			out = append(out, id)
		}
	}
	return out
}

// Identifiers returns the present identifiers as a set.
func (l Leaf) Identifiers() ident.Set {
	return ident.NewSet(l.IdentifierList()...)
}

func (l Leaf) clone() Leaf {
	l.Participants = append([]string(nil), l.Participants...)
	return l
}
