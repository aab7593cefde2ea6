// Package ident models the ways a chat or a message sender can be addressed.
package ident

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Scheme is one of the addressing schemes a chat can be reached by.
type Scheme uint8

const (
	SchemeHandleID Scheme = iota
	SchemeChatIdentifier
	SchemeGUID
	SchemeGroupID
	SchemeOriginalGroupID
)

var schemeNames = [...]string{
	SchemeHandleID:        "handle",
	SchemeChatIdentifier:  "chat",
	SchemeGUID:            "guid",
	SchemeGroupID:         "gid",
	SchemeOriginalGroupID: "ogid",
}

func (s Scheme) String() string {
	if int(s) < len(schemeNames) {
		return schemeNames[s]
	}
	return fmt.Sprintf("scheme(%d)", uint8(s))
}

// ParseScheme maps a serialized scheme name back to its Scheme.
func ParseScheme(name string) (Scheme, bool) {
	for i, n := range schemeNames {
		if n == name {
			return Scheme(i), true
		}
	}
	return 0, false
}

// ErrMalformed is returned when a raw identifier is not of the form scheme:value.
var ErrMalformed = errors.New("malformed chat identifier")

// ChatIdentifier is a tagged chat address. Two identifiers are equal when
// both scheme and value match, so the type can be used as a map key.
type ChatIdentifier struct {
	Scheme Scheme
	Value  string
}

func GUID(v string) ChatIdentifier { return ChatIdentifier{SchemeGUID, v} }
func ChatID(v string) ChatIdentifier { return ChatIdentifier{SchemeChatIdentifier, v} }
func GroupID(v string) ChatIdentifier { return ChatIdentifier{SchemeGroupID, v} }
func OriginalGroupID(v string) ChatIdentifier { return ChatIdentifier{SchemeOriginalGroupID, v} }
func Handle(v string) ChatIdentifier { return ChatIdentifier{SchemeHandleID, v} }

// IsZero reports whether the identifier carries no value.
func (c ChatIdentifier) IsZero() bool { return c.Value == "" }

// String renders the identifier as "scheme:value".
func (c ChatIdentifier) String() string {
	return c.Scheme.String() + ":" + c.Value
}

// Parse reads an identifier rendered by String. Everything after the first
// colon is the value, so handle values such as "tel:+15555550123" survive.
func Parse(raw string) (ChatIdentifier, error) {
	name, value, ok := strings.Cut(raw, ":")
	if !ok {
		return ChatIdentifier{}, fmt.Errorf("%w: %q", ErrMalformed, raw)
	}
	scheme, ok := ParseScheme(name)
	if !ok {
		return ChatIdentifier{}, fmt.Errorf("%w: unknown scheme %q", ErrMalformed, name)
	}
	return ChatIdentifier{Scheme: scheme, Value: value}, nil
}

func (c ChatIdentifier) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ChatIdentifier) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Set is a set of chat identifiers. Empty identifiers are never stored.
type Set map[ChatIdentifier]struct{}

// NewSet builds a set from ids, skipping empty ones.
func NewSet(ids ...ChatIdentifier) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id unless it is empty. It reports whether the set changed.
func (s Set) Add(id ChatIdentifier) bool {
	if id.IsZero() {
		return false
	}
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

func (s Set) Has(id ChatIdentifier) bool {
	_, ok := s[id]
	return ok
}

// Equal reports set equality.
func (s Set) Equal(o Set) bool {
	if len(s) != len(o) {
		return false
	}
	for id := range s {
		if _, ok := o[id]; !ok {
			return false
		}
	}
	return true
}

func (s Set) Clone() Set {
	c := make(Set, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// Diff returns the members of s missing from next and the members of next
// missing from s.
func (s Set) Diff(next Set) (removed, added []ChatIdentifier) {
	for id := range s {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
		}
	}
	for id := range next {
		if _, ok := s[id]; !ok {
			added = append(added, id)
		}
	}
	sortIdentifiers(removed)
	sortIdentifiers(added)
	return removed, added
}

// Slice returns the members ordered by scheme, then value.
func (s Set) Slice() []ChatIdentifier {
	out := make([]ChatIdentifier, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sortIdentifiers(out)
	return out
}

// Values returns the values of every member with the given scheme.
func (s Set) Values(scheme Scheme) []string {
	var out []string
	for id := range s {
		if id.Scheme == scheme {
			out = append(out, id.Value)
		}
	}
	sort.Strings(out)
	return out
}

func sortIdentifiers(ids []ChatIdentifier) {
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Scheme != ids[j].Scheme {
			return ids[i].Scheme < ids[j].Scheme
		}
		return ids[i].Value < ids[j].Value
	})
}
