package listener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/imcore/internal/callback"
	"github.com/matheus3301/imcore/internal/chat"
	"github.com/matheus3301/imcore/internal/ident"
	"github.com/matheus3301/imcore/internal/pipeline"
	"github.com/matheus3301/imcore/internal/registry"
)

// ErrNoChatForSent is returned when a sent notification names a message
// whose chat cannot be found.
var ErrNoChatForSent = errors.New("no chat for sent message")

func (l *Listener) messageReceived(ctx context.Context, cb callback.MessageReceived) error {
	it := cb.Item
	rt := registry.Route{
		ChatIdentifier: it.ChatIdentifier,
		GroupID:        it.GroupID,
		MessageGUID:    it.Update.ID,
		RowID:          it.RowID,
	}
	if cb.Chat != nil {
		leaf := cb.Chat.Leaf
		rt.Chat = &leaf
		rt.Style = cb.Chat.Style
	}

	snap, msg, err := l.reg.Route(ctx, rt, it.Update)
	if err != nil {
		l.logger.Warn("dropping message", zap.String("guid", it.Update.ID), zap.Error(err))
		return err
	}

	chatID := it.ChatIdentifier
	if chatID == "" {
		chatID = snap.PrimaryChatIdentifier()
	}
	l.chatIDs.Add(msg.ID, chatID)
	l.process(it, msg, chatID)
	return nil
}

// process runs a routed item through the gate and publishes it.
func (l *Listener) process(it callback.Item, msg chat.Message, chatID string) {
	if !l.gate.Preflight(it) {
		l.logger.Debug("withholding item", zap.String("guid", it.Update.ID))
		return
	}
	service := msg.Service
	if service == chat.ServiceNone {
		l.logger.Warn("ignoring item without a known service", zap.String("guid", it.Update.ID))
		return
	}

	if !it.IsMessage() {
		l.publishTranscript(it, msg, chatID, service)
		return
	}

	typing := it.IncomingTypingMessage && !it.CancelTypingMessage
	if l.typing.Set(chatID, typing) {
		l.logger.Debug("typing changed", zap.String("chat", chatID), zap.Bool("typing", typing))
		pipeline.Typing.Publish(l.ps, pipeline.TypingChange{Chat: chatID, Service: service, Typing: typing})
	}
	if it.TypingMessage {
		return
	}
	if msg.Flags.Has(chat.FlagSpam) && l.flags.DropSpamMessages() {
		l.logger.Debug("ignoring spam", zap.String("guid", it.Update.ID))
		return
	}
	if it.ErrorCode() == chat.RemoteUserDoesNotExist {
		chatGUID := service.String() + ";-;" + chatID
		l.logger.Info("requesting reroute", zap.String("guid", it.Update.ID), zap.String("chat_guid", chatGUID))
		if l.rerouter != nil {
			l.rerouter.RequestReroute(it.Update.ID, chatGUID)
		}
		return
	}

	fields := []zap.Field{zap.String("guid", msg.ID), zap.String("chat", chatID), zap.Stringer("service", service)}
	if l.flags.LogSensitivePayloads() {
		fields = append(fields, zap.String("body", it.Body))
	}
	l.logger.Debug("publishing message", fields...)
	pipeline.Messages.Publish(l.ps, pipeline.MessageEvent{
		Chat:    chatID,
		Service: service,
		Message: msg,
		Kind:    chat.KindMessage,
		Body:    it.Body,
		RowID:   it.RowID,
		GroupID: it.GroupID,
	})
}

func (l *Listener) publishTranscript(it callback.Item, msg chat.Message, chatID string, service chat.Service) {
	if it.Update.Kind == chat.KindPhantom {
		pipeline.Phantoms.Publish(l.ps, pipeline.Phantom{Chat: chatID, ItemID: it.Update.ID, Kind: it.Update.Kind})
		return
	}
	pipeline.Messages.Publish(l.ps, pipeline.MessageEvent{
		Chat:    chatID,
		Service: service,
		Message: msg,
		Kind:    it.Update.Kind,
		Body:    it.Body,
		RowID:   it.RowID,
		GroupID: it.GroupID,
	})
}

// LocalEcho publishes an optimistic outbound message before the host
// reports it, and remembers its nonce so the host's echo is withheld.
func (l *Listener) LocalEcho(chatID string, it callback.Item) {
	it.Update.Flags |= chat.FlagFromMe
	it.Update.Sender = ident.Me()
	l.gate.Record(it)

	msg, err := l.foldInto(ident.ChatID(chatID), it.Update)
	if err != nil {
		l.logger.Debug("local echo for unknown chat", zap.String("chat", chatID), zap.Error(err))
		m := chat.NewMessage(it.Update.ID, ident.ChatID(chatID))
		m.Apply(it.Update)
		msg = *m
	}
	l.chatIDs.Add(msg.ID, chatID)
	pipeline.Messages.Publish(l.ps, pipeline.MessageEvent{
		Chat:    chatID,
		Service: msg.Service,
		Message: msg,
		Kind:    it.Update.Kind,
		Body:    it.Body,
		RowID:   it.RowID,
		GroupID: it.GroupID,
	})
}

func (l *Listener) foldInto(id ident.ChatIdentifier, u chat.MessageUpdate) (chat.Message, error) {
	_, msg, err := l.reg.HandleMessage(id, u)
	return msg, err
}

// SentMessage publishes a sent status for a message the host finished
// sending. The chat comes from the recent-message cache, then persistence.
func (l *Listener) SentMessage(ctx context.Context, guid string, at time.Time) error {
	chatID, ok := l.chatIDs.Get(guid)
	if !ok && l.lookup != nil {
		lctx, cancel := context.WithTimeout(ctx, l.opts.LookupTimeout)
		id, err := l.lookup.ChatIdentifierForMessageGUID(lctx, guid)
		cancel()
		if err == nil && id != "" {
			chatID, ok = id, true
		}
	}
	if !ok {
		l.logger.Error("failed to resolve chat for sent message", zap.String("guid", guid))
		return fmt.Errorf("%w: %s", ErrNoChatForSent, guid)
	}

	service := chat.ServiceNone
	if m, found := l.reg.Message(guid); found {
		service = m.Service
	}
	if service == chat.ServiceNone {
		l.logger.Error("cannot publish sent status without service", zap.String("guid", guid))
		return fmt.Errorf("%w: %s has no service", ErrNoChatForSent, guid)
	}
	if at.IsZero() {
		at = time.Now()
	}
	l.publishStatus(pipeline.StatusChange{
		Type:      pipeline.StatusSent,
		Service:   service,
		Time:      at,
		FromMe:    true,
		ChatID:    chatID,
		MessageID: guid,
	})
	return nil
}
