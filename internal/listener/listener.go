// Package listener is the entry point of host daemon callbacks. It routes
// each callback through the registry, applies the dedup gate and change
// detection, and publishes the resulting events on the typed pipelines.
package listener

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/imcore/internal/callback"
	"github.com/matheus3301/imcore/internal/pipeline"
	"github.com/matheus3301/imcore/internal/registry"
	"github.com/matheus3301/imcore/internal/status"
)

// Flags are the runtime switches the listener consults on every callback.
type Flags interface {
	pipeline.Policy
	SMSReadBuffer() bool
	DropSpamMessages() bool
	LogSensitivePayloads() bool
}

// Lookup resolves the chat of a message guid from persistence.
type Lookup interface {
	ChatIdentifierForMessageGUID(ctx context.Context, guid string) (string, error)
}

// Rerouter asks the host to re-resolve routing for a message whose
// recipient was reported unknown. It must not block.
type Rerouter interface {
	RequestReroute(messageGUID, chatGUID string)
}

// Options tunes a Listener.
type Options struct {
	ReadBufferCapacity int
	ChatIDCacheSize    int
	LookupTimeout      time.Duration
}

// Listener consumes typed callbacks.
type Listener struct {
	reg   *registry.Registry
	ps    *pipeline.Pipelines
	gate  *pipeline.Gate
	flags Flags

	typing  *pipeline.TypingState
	changes *pipeline.ChangeCache
	reads   *pipeline.ReadBuffer
	chatIDs *pipeline.ChatIDCache

	lookup   Lookup
	rerouter Rerouter
	machine  *status.Machine
	opts     Options
	logger   *zap.Logger
}

// New creates a listener. lookup, rerouter and machine may be nil.
func New(reg *registry.Registry, ps *pipeline.Pipelines, gate *pipeline.Gate, flags Flags,
	lookup Lookup, rerouter Rerouter, machine *status.Machine, opts Options, logger *zap.Logger) *Listener {
	if opts.ReadBufferCapacity <= 0 {
		opts.ReadBufferCapacity = 15
	}
	if opts.ChatIDCacheSize <= 0 {
		opts.ChatIDCacheSize = 100
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = 2 * time.Second
	}
	return &Listener{
		reg:      reg,
		ps:       ps,
		gate:     gate,
		flags:    flags,
		typing:   pipeline.NewTypingState(),
		changes:  pipeline.NewChangeCache(),
		reads:    pipeline.NewReadBuffer(opts.ReadBufferCapacity),
		chatIDs:  pipeline.NewChatIDCache(opts.ChatIDCacheSize),
		lookup:   lookup,
		rerouter: rerouter,
		machine:  machine,
		opts:     opts,
		logger:   logger.Named("listener"),
	}
}

// Handle dispatches one callback. Errors are already logged; they are
// returned so an ingest endpoint can report them, never to be retried.
func (l *Listener) Handle(ctx context.Context, cb callback.Callback) error {
	switch cb := cb.(type) {
	case callback.ChatUpdated:
		l.applyChat(cb.Chat, true)
	case callback.PropertiesUpdated:
		u := cb.Chat.Leaf
		u.GUID = &cb.GUID
		l.reg.HandleChat(u, cb.Chat.Style)
	case callback.MessageReceived:
		return l.messageReceived(ctx, cb)
	case callback.MessageSent:
		return l.SentMessage(ctx, cb.MessageID, cb.Time)
	case callback.ServiceMessage:
		l.serviceMessage(cb)
	case callback.SetupComplete:
		l.setupComplete(cb)
	case callback.MessagesDeleted:
		l.messagesDeleted(cb.GUIDs)
	case callback.ChatsDeleted:
		l.chatsDeleted(cb)
	case callback.BlocklistChanged:
		pipeline.Blocklist.Publish(l.ps, pipeline.BlocklistChange{Handles: cb.Handles})
	case callback.JoinStateChanged:
		pipeline.JoinStates.Publish(l.ps, pipeline.JoinState{Chat: cb.ChatIdentifier, State: cb.State})
	case callback.LocalEcho:
		l.LocalEcho(cb.ChatIdentifier, cb.Item)
	case callback.ConfigurationChanged:
		pipeline.Configuration.Publish(l.ps, pipeline.ConfigurationChange{Values: cb.Values})
	default:
		return fmt.Errorf("%w: %T", callback.ErrUnknownKind, cb)
	}
	return nil
}

// ReadBuffer returns the message ids I recently read on SMS chats, oldest first.
func (l *Listener) ReadBuffer() []string { return l.reads.Snapshot() }

// IsTyping reports whether chat currently shows a typing indicator.
func (l *Listener) IsTyping(chat string) bool { return l.typing.IsTyping(chat) }

// SetReadBufferCapacity resizes the SMS read buffer.
func (l *Listener) SetReadBufferCapacity(n int) { l.reads.SetCapacity(n) }

func (l *Listener) setupComplete(cb callback.SetupComplete) {
	for _, c := range cb.Chats {
		l.applyChat(c, false)
	}
	all, ids := l.reg.Len()
	l.logger.Info("setup complete", zap.Int("chats", all), zap.Int("identifiers", ids))
	if l.machine != nil {
		if err := l.machine.Advance(status.Ready); err != nil {
			l.logger.Warn("cannot mark daemon ready", zap.Error(err))
		}
	}
}
