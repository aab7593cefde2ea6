package listener

import (
	"go.uber.org/zap"

	"github.com/matheus3301/imcore/internal/callback"
	"github.com/matheus3301/imcore/internal/ident"
	"github.com/matheus3301/imcore/internal/pipeline"
)

// applyChat merges a chat snapshot into the registry and emits unread
// count, display name and participant events for values that changed.
// During setup the caches are primed without emitting.
func (l *Listener) applyChat(c callback.Chat, emit bool) {
	l.reg.HandleChat(c.Leaf, c.Style)

	if c.Leaf.ChatIdentifier == nil || *c.Leaf.ChatIdentifier == "" {
		l.logger.Debug("chat snapshot without chat identifier")
		return
	}
	chatID := *c.Leaf.ChatIdentifier

	if c.UnreadCount != nil && l.changes.UnreadChanged(chatID, *c.UnreadCount) && emit {
		pipeline.UnreadCounts.Publish(l.ps, pipeline.UnreadCount{Chat: chatID, Count: *c.UnreadCount})
	}

	var name string
	if c.DisplayName != nil {
		name = *c.DisplayName
	}
	if l.changes.NameChanged(chatID, name) && emit {
		pipeline.ChatNames.Publish(l.ps, pipeline.ChatName{Chat: chatID, Name: name})
	}

	if c.Leaf.Participants != nil && l.changes.ParticipantsChanged(chatID, c.Leaf.Participants) && emit {
		pipeline.Participants.Publish(l.ps, pipeline.ParticipantsChange{
			Chat:         chatID,
			Participants: append([]string(nil), c.Leaf.Participants...),
		})
	}
}

func (l *Listener) messagesDeleted(guids []string) {
	if len(guids) == 0 {
		return
	}
	known := l.reg.RemoveMessages(guids)
	l.logger.Debug("messages deleted", zap.Int("requested", len(guids)), zap.Int("known", len(known)))
	pipeline.MessagesDeleted.Publish(l.ps, pipeline.Deletion{IDs: guids})
}

func (l *Listener) chatsDeleted(cb callback.ChatsDeleted) {
	if len(cb.Identifiers) == 0 {
		return
	}
	removed := l.reg.RemoveChats(cb.Identifiers)

	ids := make([]string, len(cb.Identifiers))
	for i, id := range cb.Identifiers {
		ids[i] = id.Value
	}
	var chatIDs []string
	for _, s := range removed {
		for _, cid := range s.ChatIdentifiers {
			l.changes.Forget(cid)
			l.typing.Set(cid, false)
			chatIDs = appendUnique(chatIDs, cid)
		}
	}
	// A deleted chat the registry never saw may still have persisted rows.
	for _, id := range cb.Identifiers {
		if id.Scheme == ident.SchemeChatIdentifier {
			chatIDs = appendUnique(chatIDs, id.Value)
		}
	}
	l.logger.Debug("chats deleted", zap.Strings("ids", ids), zap.Int("known", len(removed)))
	pipeline.ChatsDeleted.Publish(l.ps, pipeline.Deletion{IDs: ids, ChatIdentifiers: chatIDs})
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
