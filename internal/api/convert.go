package api

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/imcore/internal/bus"
	"github.com/matheus3301/imcore/internal/chat"
	"github.com/matheus3301/imcore/internal/pipeline"
	"github.com/matheus3301/imcore/internal/registry"
	"github.com/matheus3301/imcore/internal/resend"
	"github.com/matheus3301/imcore/internal/status"
	"github.com/matheus3301/imcore/internal/sync"
)

// EventStruct renders a bus event as {id, seq, kind, ts, payload}.
func EventStruct(evt bus.Event) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"id":      evt.ID,
		"seq":     float64(evt.Seq),
		"kind":    evt.Kind,
		"ts":      timeValue(evt.Timestamp),
		"payload": payloadMap(evt.Payload),
	})
}

func payloadMap(p any) map[string]any {
	switch v := p.(type) {
	case pipeline.MessageEvent:
		m := messageMap(v.Message)
		m["chat"] = v.Chat
		m["service"] = v.Service.String()
		m["kind"] = v.Kind.String()
		m["body"] = v.Body
		return m
	case pipeline.StatusChange:
		return map[string]any{
			"type":       string(v.Type),
			"service":    v.Service.String(),
			"time":       timeValue(v.Time),
			"sender":     v.Sender,
			"from_me":    v.FromMe,
			"chat":       v.ChatID,
			"message_id": v.MessageID,
		}
	case pipeline.TypingChange:
		return map[string]any{"chat": v.Chat, "service": v.Service.String(), "typing": v.Typing}
	case pipeline.UnreadCount:
		return map[string]any{"chat": v.Chat, "count": float64(v.Count)}
	case pipeline.ChatName:
		return map[string]any{"chat": v.Chat, "name": v.Name}
	case pipeline.ParticipantsChange:
		return map[string]any{"chat": v.Chat, "participants": strs(v.Participants)}
	case pipeline.BlocklistChange:
		return map[string]any{"handles": strs(v.Handles)}
	case pipeline.Deletion:
		return map[string]any{"ids": strs(v.IDs), "chat_identifiers": strs(v.ChatIdentifiers)}
	case pipeline.JoinState:
		return map[string]any{"chat": v.Chat, "state": float64(v.State)}
	case pipeline.Phantom:
		return map[string]any{"chat": v.Chat, "item_id": v.ItemID, "kind": v.Kind.String()}
	case pipeline.ConfigurationChange:
		values := make(map[string]any, len(v.Values))
		for k, s := range v.Values {
			values[k] = s
		}
		return map[string]any{"values": values}
	case status.StatusChange:
		return map[string]any{"from": string(v.From), "to": string(v.To)}
	case resend.MarkRetrying:
		return map[string]any{"message_id": v.MessageGUID}
	case resend.Resubmit:
		return map[string]any{
			"message_id": v.MessageGUID,
			"leaf_guid":  v.LeafGUID,
			"target":     v.Target.String(),
			"downgrade":  v.Downgrade,
		}
	case resend.Reroute:
		return map[string]any{"message_id": v.MessageGUID, "chat_guid": v.ChatGUID}
	case sync.MessageRecorded:
		return map[string]any{"chat": v.Chat, "message_id": v.GUID}
	case map[string]int:
		out := make(map[string]any, len(v))
		for k, n := range v {
			out[k] = float64(n)
		}
		return out
	case nil:
		return nil
	default:
		return map[string]any{"value": fmt.Sprintf("%+v", v)}
	}
}

func messageMap(m chat.Message) map[string]any {
	return map[string]any{
		"id":             m.ID,
		"service":        m.Service.String(),
		"sender":         m.Sender.String(),
		"from_me":        m.FromMe(),
		"error":          m.Error.String(),
		"flags":          strs(m.Flags.Names()),
		"time":           timeValue(m.Time),
		"time_delivered": timeValue(m.TimeDelivered),
		"time_read":      timeValue(m.TimeRead),
	}
}

// SnapshotMap renders a chat snapshot.
func SnapshotMap(s registry.Snapshot) map[string]any {
	ids := make([]any, len(s.Identifiers))
	for i, id := range s.Identifiers {
		ids[i] = id.String()
	}
	leaves := make([]any, len(s.Leaves))
	for i, l := range s.Leaves {
		leaves[i] = map[string]any{
			"guid":                     l.GUID,
			"chat_identifier":          l.ChatIdentifier,
			"group_id":                 l.GroupID,
			"original_group_id":        l.OriginalGroupID,
			"service":                  l.Service.String(),
			"has_had_successful_query": l.HasHadSuccessfulQuery,
			"should_force_to_sms":      l.ShouldForceToSMS,
			"last_sent_message_date":   timeValue(l.LastSentMessageDate),
			"participants":             strs(l.Participants),
		}
	}
	return map[string]any{
		"style":                s.Style.String(),
		"identifiers":          ids,
		"merged_id":            s.MergedID,
		"merged_recipient_ids": strs(s.MergedRecipientIDs),
		"chat_identifiers":     strs(s.ChatIdentifiers),
		"participants":         strs(s.Participants),
		"leaves":               leaves,
	}
}

func strs(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func timeValue(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
