package chat

import "strings"

// Flags is the lifecycle bitset of a message.
type Flags uint32

const (
	FlagSent Flags = 1 << iota
	FlagDelivered
	FlagRead
	FlagFromMe
	FlagDowngraded
	FlagBeingRetried
	FlagFinished
	FlagPrepared
	FlagSOS
	FlagAlert
	FlagSpam
	FlagEmote
	FlagPlayed
	FlagCorrupt
	FlagExpirable
	FlagAudioMessage
	FlagLocationMessage
	FlagEmpty
)

// FlagTyping marks an empty message that was sent: a typing indicator.
const FlagTyping = FlagSent | FlagEmpty

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagSent, "sent"},
	{FlagDelivered, "delivered"},
	{FlagTyping, "typing"},
	{FlagRead, "read"},
	{FlagFromMe, "fromMe"},
	{FlagDowngraded, "downgraded"},
	{FlagBeingRetried, "beingRetried"},
	{FlagFinished, "finished"},
	{FlagPrepared, "prepared"},
	{FlagSOS, "sos"},
	{FlagAlert, "alert"},
	{FlagSpam, "spam"},
	{FlagEmote, "emote"},
	{FlagPlayed, "played"},
	{FlagCorrupt, "corrupt"},
	{FlagExpirable, "expirable"},
	{FlagAudioMessage, "audioMessage"},
	{FlagLocationMessage, "locationMessage"},
	{FlagEmpty, "empty"},
}

// Has reports whether every bit of flag is set.
func (f Flags) Has(flag Flags) bool { return f&flag == flag }

// With returns f with flag set or cleared.
func (f Flags) With(flag Flags, enabled bool) Flags {
	if enabled {
		return f | flag
	}
	return f &^ flag
}

// String renders every known flag as name=true|false separated by spaces.
func (f Flags) String() string {
	parts := make([]string, 0, len(flagNames))
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			parts = append(parts, fn.name+"=true")
		} else {
			parts = append(parts, fn.name+"=false")
		}
	}
	return strings.Join(parts, " ")
}

// Names lists the names of the set flags, typing excluded.
func (f Flags) Names() []string {
	var out []string
	for _, fn := range flagNames {
		if fn.flag != FlagTyping && f.Has(fn.flag) {
			out = append(out, fn.name)
		}
	}
	return out
}
