package listener

import (
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/imcore/internal/callback"
	"github.com/matheus3301/imcore/internal/chat"
	"github.com/matheus3301/imcore/internal/ident"
	"github.com/matheus3301/imcore/internal/pipeline"
)

// serviceMessage folds a status item into its chat and publishes the status
// change it implies.
func (l *Listener) serviceMessage(cb callback.ServiceMessage) {
	it := cb.Item
	msg, err := l.foldInto(ident.ChatID(cb.ChatIdentifier), it.Update)
	if err != nil {
		l.logger.Debug("status item for unknown chat", zap.String("chat", cb.ChatIdentifier), zap.Error(err))
	}
	if it.Update.Service == chat.ServiceNone {
		it.Update.Service = msg.Service
	}

	sc, ok := StatusChangeFor(it, cb.ChatIdentifier, cb.Style)
	if !ok {
		return
	}
	if it.Update.Flags.Has(chat.FlagSpam) {
		return
	}
	l.publishStatus(sc)
}

// publishStatus emits sc and, for my own reads on chats with an SMS leaf,
// remembers the message in the SMS read buffer.
func (l *Listener) publishStatus(sc pipeline.StatusChange) {
	pipeline.MessageStatuses.Publish(l.ps, sc)

	if sc.Type != pipeline.StatusRead || !sc.FromMe || !l.flags.SMSReadBuffer() {
		return
	}
	snap, ok := l.reg.Chat(ident.ChatID(sc.ChatID))
	if !ok || !snap.HasService(chat.ServiceSMS) {
		return
	}
	if l.reads.Push(sc.MessageID) {
		l.logger.Debug("added to sms read buffer", zap.String("guid", sc.MessageID))
	}
}

// StatusChangeFor derives the status change a status item reports, if any.
// An error code wins, then played, read, delivered and downgraded.
func StatusChangeFor(it callback.Item, chatID string, style chat.Style) (pipeline.StatusChange, bool) {
	u := it.Update
	if u.Service == chat.ServiceNone {
		return pipeline.StatusChange{}, false
	}

	var (
		typ pipeline.StatusType
		at  time.Time
	)
	switch {
	case it.ErrorCode() != chat.NoError:
		typ, at = pipeline.StatusNotDelivered, u.Time
	case !it.TimePlayed.IsZero():
		typ, at = pipeline.StatusPlayed, it.TimePlayed
	case !u.TimeRead.IsZero():
		typ, at = pipeline.StatusRead, u.TimeRead
	case !u.TimeDelivered.IsZero():
		typ, at = pipeline.StatusDelivered, u.TimeDelivered
	case u.Flags.Has(chat.FlagDowngraded):
		typ, at = pipeline.StatusDowngraded, u.Time
	default:
		return pipeline.StatusChange{}, false
	}

	fromMe := statusFromMe(typ, style, it.FromMe())
	var sender string
	if !fromMe {
		if style.IsGroup() {
			if it.Handle != ident.UnknownHandle {
				sender = ident.NormalizeHandle(it.Handle)
			}
		} else {
			// The other party of a one-to-one chat is the chat identifier.
			sender = chatID
		}
	}

	return pipeline.StatusChange{
		Type:      typ,
		Service:   u.Service,
		Time:      at,
		Sender:    sender,
		FromMe:    fromMe,
		ChatID:    chatID,
		MessageID: u.ID,
	}, true
}

func statusFromMe(typ pipeline.StatusType, style chat.Style, itemFromMe bool) bool {
	if style.IsGroup() {
		return typ != pipeline.StatusPlayed
	}
	switch typ {
	case pipeline.StatusRead:
		// The recipient read my message, or I read theirs.
		return !itemFromMe
	case pipeline.StatusDelivered, pipeline.StatusPlayed:
		return false
	default:
		return true
	}
}
