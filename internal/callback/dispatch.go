package callback

import (
	"fmt"

	"github.com/matheus3301/imcore/internal/chat"
	"github.com/matheus3301/imcore/internal/ident"
)

// Callback kinds accepted by Parse.
const (
	KindChat            = "chat"
	KindProperties      = "properties"
	KindMessage         = "message"
	KindSent            = "sent"
	KindStatus          = "status"
	KindSetupComplete   = "setup_complete"
	KindMessagesDeleted = "messages_deleted"
	KindChatsDeleted    = "chats_deleted"
	KindBlocklist       = "blocklist"
	KindJoinState       = "join_state"
	KindLocalEcho       = "local_echo"
	KindConfiguration   = "configuration"
)

// Parse converts a callback of the given kind into its typed form.
func Parse(kind string, d map[string]any) (Callback, error) {
	switch kind {
	case KindChat:
		c, err := ParseChat(d)
		if err != nil {
			return nil, err
		}
		return ChatUpdated{Chat: c}, nil

	case KindProperties:
		guid := strOr(d, "guid")
		if guid == "" {
			return nil, fmt.Errorf("%w: properties guid", ErrMissingField)
		}
		props, _ := d["properties"].(map[string]any)
		c, err := ParseChat(map[string]any{"guid": guid, "properties": props})
		if err != nil {
			return nil, err
		}
		return PropertiesUpdated{GUID: guid, Chat: c}, nil

	case KindMessage:
		item, err := parseItemField(d)
		if err != nil {
			return nil, err
		}
		msg := MessageReceived{Item: item}
		if raw, ok := d["chat"].(map[string]any); ok {
			c, err := ParseChat(raw)
			if err != nil {
				return nil, fmt.Errorf("message chat: %w", err)
			}
			msg.Chat = &c
		}
		return msg, nil

	case KindSent:
		guid := strOr(d, "guid")
		if guid == "" {
			return nil, fmt.Errorf("%w: sent guid", ErrMissingField)
		}
		return MessageSent{MessageID: guid, Time: timeField(d, "time")}, nil

	case KindStatus:
		item, err := parseItemField(d)
		if err != nil {
			return nil, err
		}
		chatID := strOr(d, "chatIdentifier")
		if chatID == "" {
			return nil, fmt.Errorf("%w: status chatIdentifier", ErrMissingField)
		}
		var style chat.Style
		if raw, ok := d["style"]; ok {
			style = parseStyle(raw)
		}
		return ServiceMessage{ChatIdentifier: chatID, Style: style, Item: item}, nil

	case KindSetupComplete:
		var sc SetupComplete
		raw, _ := d["personMergedChats"].([]any)
		for _, r := range raw {
			m, ok := r.(map[string]any)
			if !ok {
				continue
			}
			c, err := ParseChat(m)
			if err != nil {
				continue
			}
			sc.Chats = append(sc.Chats, c)
		}
		return sc, nil

	case KindMessagesDeleted:
		return MessagesDeleted{GUIDs: stringList(d, "guids")}, nil

	case KindChatsDeleted:
		var cd ChatsDeleted
		for _, raw := range stringList(d, "identifiers") {
			id, err := ident.Parse(raw)
			if err != nil {
				id = ident.ChatID(raw)
			}
			cd.Identifiers = append(cd.Identifiers, id)
		}
		return cd, nil

	case KindBlocklist:
		return BlocklistChanged{Handles: stringList(d, "handles")}, nil

	case KindJoinState:
		chatID := strOr(d, "chatIdentifier")
		if chatID == "" {
			return nil, fmt.Errorf("%w: join_state chatIdentifier", ErrMissingField)
		}
		state, _ := number(d, "state")
		return JoinStateChanged{ChatIdentifier: chatID, State: int(state)}, nil

	case KindLocalEcho:
		item, err := parseItemField(d)
		if err != nil {
			return nil, err
		}
		chatID := strOr(d, "chatIdentifier")
		if chatID == "" {
			return nil, fmt.Errorf("%w: local_echo chatIdentifier", ErrMissingField)
		}
		return LocalEcho{ChatIdentifier: chatID, Item: item}, nil

	case KindConfiguration:
		values := make(map[string]string)
		if raw, ok := d["values"].(map[string]any); ok {
			for k, v := range raw {
				values[k] = fmt.Sprint(v)
			}
		}
		return ConfigurationChanged{Values: values}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func parseItemField(d map[string]any) (Item, error) {
	raw, ok := d["item"].(map[string]any)
	if !ok {
		return Item{}, fmt.Errorf("%w: item", ErrMissingField)
	}
	return ParseItem(raw)
}
