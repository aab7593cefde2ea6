package ident

import (
	"regexp"
	"strings"
)

// SenderScheme classifies a message sender address.
type SenderScheme string

const (
	SenderBiz   SenderScheme = "biz"
	SenderPhone SenderScheme = "tel"
	SenderEmail SenderScheme = "mailto"
	SenderMe    SenderScheme = "me"
	// SenderOther is the scheme of a handle that matched no known shape.
	SenderOther SenderScheme = ""
)

// UnknownHandle is the placeholder handle used when an item has no sender.
const UnknownHandle = "E:"

// Sender describes who sent a message.
type Sender struct {
	Scheme SenderScheme
	Value  string
}

// Me is the sender of every message sent from this account.
func Me() Sender { return Sender{Scheme: SenderMe} }

// SenderFromHandle sniffs the URI shape of a handle id. fromMe wins over
// any handle content.
func SenderFromHandle(id string, fromMe bool) Sender {
	if fromMe {
		return Me()
	}
	id = NormalizeHandle(id)
	s := Sender{Value: id}
	switch {
	case IsBusinessID(id):
		s.Scheme = SenderBiz
	case IsPhoneNumber(id):
		s.Scheme = SenderPhone
	case IsEmail(id):
		s.Scheme = SenderEmail
	default:
		s.Scheme = SenderOther
	}
	return s
}

// IsMe reports whether the sender is the local account.
func (s Sender) IsMe() bool { return s.Scheme == SenderMe }

func (s Sender) String() string {
	switch {
	case s.IsMe():
		return string(SenderMe)
	case s.Scheme == SenderOther:
		return s.Value
	default:
		return string(s.Scheme) + ":" + s.Value
	}
}

var (
	phoneRe = regexp.MustCompile(`^\+?[0-9][0-9 ().-]{2,}$`)
	emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

const bizPrefix = "urn:biz:"

func IsBusinessID(id string) bool { return strings.HasPrefix(id, bizPrefix) }
func IsPhoneNumber(id string) bool { return phoneRe.MatchString(id) }
func IsEmail(id string) bool { return emailRe.MatchString(id) }

// NormalizeHandle strips tel: and mailto: URI prefixes.
func NormalizeHandle(id string) string {
	for _, p := range []string{"tel:", "mailto:"} {
		if len(id) > len(p) && strings.EqualFold(id[:len(p)], p) {
			return id[len(p):]
		}
	}
	return id
}
