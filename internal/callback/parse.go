package callback

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/matheus3301/imcore/internal/chat"
	"github.com/matheus3301/imcore/internal/ident"
)

var (
	// ErrMissingField is returned when a dictionary lacks a required key.
	ErrMissingField = errors.New("missing required field")
	// ErrUnknownKind is returned by Parse for an unrecognized callback kind.
	ErrUnknownKind = errors.New("unknown callback kind")
)

// ReferenceDate is the epoch of host timestamps.
var ReferenceDate = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

// Host IMMessageFlags bits.
const (
	imFinished     uint64 = 0x1
	imEmote        uint64 = 0x2
	imFromMe       uint64 = 0x4
	imEmpty        uint64 = 0x8
	imAlert        uint64 = 0x200
	imPrepared     uint64 = 0x800
	imDelivered    uint64 = 0x1000
	imRead         uint64 = 0x2000
	imSent         uint64 = 0x8000
	imDowngraded   uint64 = 0x80000
	imAudioMessage uint64 = 0x200000
	imPlayed       uint64 = 0x400000
	imLocating     uint64 = 0x800000
	imExpirable    uint64 = 0x1000000
	imCorrupt      uint64 = 0x4000000
	imSpam         uint64 = 0x8000000
)

var imFlagMap = []struct {
	im   uint64
	flag chat.Flags
}{
	{imSent, chat.FlagSent},
	{imDelivered, chat.FlagDelivered},
	{imRead, chat.FlagRead},
	{imFromMe, chat.FlagFromMe},
	{imDowngraded, chat.FlagDowngraded},
	{imFinished, chat.FlagFinished},
	{imPrepared, chat.FlagPrepared},
	{imAlert, chat.FlagAlert},
	{imSpam, chat.FlagSpam},
	{imEmote, chat.FlagEmote},
	{imPlayed, chat.FlagPlayed},
	{imCorrupt, chat.FlagCorrupt},
	{imExpirable, chat.FlagExpirable},
	{imAudioMessage, chat.FlagAudioMessage},
	{imLocating, chat.FlagLocationMessage},
	{imEmpty, chat.FlagEmpty},
}

// FlagsFromIM maps host IMMessageFlags to message flags. Flags the host
// keeps outside the bitset (retrying, SOS) are set by the caller.
func FlagsFromIM(raw uint64) chat.Flags {
	var f chat.Flags
	for _, m := range imFlagMap {
		f = f.With(m.flag, raw&m.im != 0)
	}
	return f
}

// ParseChat reads a chat snapshot. At least one identifying key is required.
func ParseChat(d map[string]any) (Chat, error) {
	var c Chat
	c.Leaf.GUID = str(d, "guid")
	c.Leaf.ChatIdentifier = str(d, "chatIdentifier")
	c.Leaf.GroupID = str(d, "groupID")
	c.Leaf.OriginalGroupID = str(d, "originalGroupID")
	if c.Leaf.GUID == nil && c.Leaf.ChatIdentifier == nil && c.Leaf.GroupID == nil && c.Leaf.OriginalGroupID == nil {
		return Chat{}, fmt.Errorf("%w: chat needs guid, chatIdentifier, groupID or originalGroupID", ErrMissingField)
	}

	if raw, ok := d["style"]; ok {
		c.Style = parseStyle(raw)
	}
	if name := str(d, "serviceName"); name != nil {
		svc := chat.ParseService(*name)
		c.Leaf.Service = &svc
	}
	c.Leaf.HasHadSuccessfulQuery = boolean(d, "hasHadSuccessfulQuery")

	if props, ok := d["properties"].(map[string]any); ok {
		if lsmd, ok := number(props, "LSMD"); ok {
			t := FromReferenceSeconds(lsmd)
			c.Leaf.LastSentMessageDate = &t
		}
		c.Leaf.ShouldForceToSMS = boolean(props, "shouldForceToSMS")
	}
	if raw, ok := d["participants"].([]any); ok {
		c.Leaf.Participants = parseParticipants(raw)
	}

	c.DisplayName = str(d, "displayName")
	if n, ok := number(d, "unreadCount"); ok {
		v := int(n)
		c.UnreadCount = &v
	}
	if n, ok := number(d, "joinState"); ok {
		v := int(n)
		c.JoinState = &v
	}
	return c, nil
}

func parseStyle(raw any) chat.Style {
	switch v := raw.(type) {
	case string:
		switch v {
		case "group", "+":
			return chat.StyleGroup
		case "instantMessage", "-":
			return chat.StyleInstantMessage
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			s, _ := chat.ParseStyle(n)
			return s
		}
	default:
		if n, ok := toFloat(raw); ok {
			s, _ := chat.ParseStyle(int64(n))
			return s
		}
	}
	return chat.StyleNone
}

func parseParticipants(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		switch v := p.(type) {
		case string:
			if v != "" {
				out = append(out, v)
			}
		case map[string]any:
			if id := str(v, "FZPersonID"); id != nil && *id != "" {
				out = append(out, *id)
			}
		}
	}
	return out
}

// ParseItem reads a message or transcript item dictionary.
func ParseItem(d map[string]any) (Item, error) {
	guid := str(d, "guid")
	if guid == nil || *guid == "" {
		return Item{}, fmt.Errorf("%w: item guid", ErrMissingField)
	}
	var it Item
	u := &it.Update
	u.ID = *guid
	u.Kind = parseKind(d)

	if svc := str(d, "service"); svc != nil {
		u.Service = chat.ParseService(*svc)
	}
	if n, ok := number(d, "error"); ok && n >= 0 && n <= math.MaxUint32 {
		code := chat.ErrorCode(uint32(n))
		u.Error = &code
	}
	if n, ok := number(d, "flags"); ok && n >= 0 {
		u.Flags = FlagsFromIM(uint64(n))
	}
	if b := boolean(d, "isBeingRetried"); b != nil {
		u.Flags = u.Flags.With(chat.FlagBeingRetried, *b)
	}
	if b := boolean(d, "sos"); b != nil {
		u.Flags = u.Flags.With(chat.FlagSOS, *b)
	}
	u.Time = timeField(d, "time")
	u.TimeDelivered = timeField(d, "timeDelivered")
	u.TimeRead = timeField(d, "timeRead")
	it.TimePlayed = timeField(d, "timePlayed")

	handle := str(d, "handle")
	if handle != nil {
		it.Handle = *handle
		u.Sender = ident.SenderFromHandle(*handle, u.Flags.Has(chat.FlagFromMe))
	} else {
		it.Handle = ident.UnknownHandle
		u.Sender = ident.Me()
		u.Flags |= chat.FlagFromMe
	}

	if n, ok := number(d, "type"); ok {
		it.Type = int64(n)
	}
	if n, ok := number(d, "messageID"); ok {
		it.RowID = int64(n)
	}
	it.Body = strOr(d, "body")
	it.AssociatedGUID = strOr(d, "associatedMessageGUID")
	it.ChatIdentifier = strOr(d, "chatIdentifier")
	it.GroupID = strOr(d, "groupID")
	it.SendProgress = parseProgress(strOr(d, "sendProgress"))

	if b := boolean(d, "isTypingMessage"); b != nil {
		it.TypingMessage = *b
	} else {
		it.TypingMessage = u.Flags.Has(chat.FlagTyping)
	}
	if b := boolean(d, "isIncomingTypingMessage"); b != nil {
		it.IncomingTypingMessage = *b
	} else {
		it.IncomingTypingMessage = it.TypingMessage && !u.Flags.Has(chat.FlagFromMe)
	}
	if b := boolean(d, "isCancelTypingMessage"); b != nil {
		it.CancelTypingMessage = *b
	}
	return it, nil
}

func parseKind(d map[string]any) chat.ItemKind {
	switch strOr(d, "itemKind") {
	case "", "message":
		return chat.KindMessage
	case "participantChange":
		return chat.KindParticipantChange
	case "groupTitleChange":
		return chat.KindGroupTitleChange
	case "groupAction":
		return chat.KindGroupAction
	case "locationShare":
		return chat.KindLocationShare
	default:
		return chat.KindPhantom
	}
}

func parseProgress(s string) Progress {
	switch s {
	case "sending":
		return ProgressSending
	case "sent":
		return ProgressSent
	case "failed":
		return ProgressFailed
	default:
		return ProgressNone
	}
}

// FromReferenceSeconds converts seconds since the host reference date.
func FromReferenceSeconds(s float64) time.Time {
	return ReferenceDate.Add(time.Duration(s * float64(time.Second))).UTC()
}

// ToReferenceSeconds is the inverse of FromReferenceSeconds.
func ToReferenceSeconds(t time.Time) float64 {
	return t.Sub(ReferenceDate).Seconds()
}

func timeField(d map[string]any, key string) time.Time {
	if s, ok := number(d, key); ok {
		return FromReferenceSeconds(s)
	}
	return time.Time{}
}

func str(d map[string]any, key string) *string {
	if v, ok := d[key].(string); ok {
		return &v
	}
	return nil
}

func strOr(d map[string]any, key string) string {
	if v, ok := d[key].(string); ok {
		return v
	}
	return ""
}

func boolean(d map[string]any, key string) *bool {
	if v, ok := d[key].(bool); ok {
		return &v
	}
	return nil
}

func number(d map[string]any, key string) (float64, bool) {
	v, ok := d[key]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func stringList(d map[string]any, key string) []string {
	raw, ok := d[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
