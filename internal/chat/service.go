// Package chat holds the per-conversation state: transport-level leaves, the
// logical chat merging them, and the message accumulators it owns.
package chat

// Service is the transport a leaf or message travels on.
type Service uint8

const (
	ServiceNone Service = iota
	ServiceIMessage
	ServiceSMS
)

func (s Service) String() string {
	switch s {
	case ServiceIMessage:
		return "iMessage"
	case ServiceSMS:
		return "SMS"
	default:
		return ""
	}
}

// ParseService maps a host service name to a Service. Unknown names map to ServiceNone.
func ParseService(name string) Service {
	switch name {
	case "iMessage":
		return ServiceIMessage
	case "SMS", "RCS":
		return ServiceSMS
	default:
		return ServiceNone
	}
}

// Alternate returns the service a failed send should be retried on.
func (s Service) Alternate() Service {
	if s == ServiceIMessage {
		return ServiceSMS
	}
	return ServiceIMessage
}

// Style is the host chat style. The raw values match the host enum.
type Style uint8

const (
	StyleNone           Style = 0
	StyleGroup          Style = 43
	StyleInstantMessage Style = 45
)

// ParseStyle validates a raw style value.
func ParseStyle(raw int64) (Style, bool) {
	switch Style(raw) {
	case StyleGroup:
		return StyleGroup, true
	case StyleInstantMessage:
		return StyleInstantMessage, true
	default:
		return StyleNone, false
	}
}

func (s Style) String() string {
	switch s {
	case StyleGroup:
		return "group"
	case StyleInstantMessage:
		return "instantMessage"
	default:
		return "none"
	}
}

func (s Style) IsGroup() bool { return s == StyleGroup }
