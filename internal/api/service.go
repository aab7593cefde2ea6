package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/imcore/internal/bus"
	"github.com/matheus3301/imcore/internal/callback"
	"github.com/matheus3301/imcore/internal/chat"
	"github.com/matheus3301/imcore/internal/ident"
	"github.com/matheus3301/imcore/internal/registry"
	"github.com/matheus3301/imcore/internal/status"
	"github.com/matheus3301/imcore/internal/store"
)

// Handler consumes parsed callbacks.
type Handler interface {
	Handle(ctx context.Context, cb callback.Callback) error
	ReadBuffer() []string
}

// Chats is the registry view served by the API.
type Chats interface {
	Chat(id ident.ChatIdentifier) (registry.Snapshot, bool)
	AllChats() []registry.Snapshot
	Messages(id ident.ChatIdentifier) []chat.Message
	ChatsForHandle(ctx context.Context, handle string) []registry.Snapshot
}

// Participants orders chat participants by recent activity.
type Participants interface {
	Bootstrap(ctx context.Context, chatIDs []string) error
	Sorted(chat string) ([]string, bool)
}

// Counter reports on the persisted state.
type Counter interface {
	ChatCount(ctx context.Context) (int, error)
	MessageCount(ctx context.Context) (int, error)
	SchemaVersion(ctx context.Context) (uint, error)
}

// Service implements BridgeServer.
type Service struct {
	UnimplementedBridgeServer

	sessionName  string
	startedAt    time.Time
	handler      Handler
	chats        Chats
	participants Participants
	machine      *status.Machine
	bus          *bus.Bus
	counter      Counter
	bufSize      int
	logger       *zap.Logger
}

// NewService creates the bridge service. counter may be nil.
func NewService(sessionName string, handler Handler, chats Chats, participants Participants,
	machine *status.Machine, b *bus.Bus, counter Counter, bufSize int, logger *zap.Logger) *Service {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Service{
		sessionName:  sessionName,
		startedAt:    time.Now(),
		handler:      handler,
		chats:        chats,
		participants: participants,
		machine:      machine,
		bus:          b,
		counter:      counter,
		bufSize:      bufSize,
		logger:       logger.Named("api"),
	}
}

func (s *Service) Ingest(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	kind := req.GetFields()["kind"].GetStringValue()
	var payload map[string]any
	if p := req.GetFields()["payload"].GetStructValue(); p != nil {
		payload = p.AsMap()
	}
	cb, err := callback.Parse(kind, payload)
	if err != nil {
		s.logger.Warn("rejecting malformed callback", zap.String("kind", kind), zap.Error(err))
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "parse %s: %v", kind, err)
	}
	if err := s.handler.Handle(ctx, cb); err != nil {
		if errors.Is(err, registry.ErrUnroutable) {
			return nil, grpcstatus.Errorf(codes.FailedPrecondition, "%s: %v", kind, err)
		}
		return nil, grpcstatus.Errorf(codes.Internal, "%s: %v", kind, err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Service) WatchEvents(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	var kinds []string
	for _, v := range req.GetFields()["kinds"].GetListValue().GetValues() {
		if k := v.GetStringValue(); k != "" {
			kinds = append(kinds, k)
		}
	}

	ch, unsub := s.bus.Subscribe("", s.bufSize)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			if !matchKind(evt.Kind, kinds) {
				continue
			}
			out, err := EventStruct(evt)
			if err != nil {
				s.logger.Warn("cannot render event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.Send(out); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func matchKind(kind string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(kind, p) {
			return true
		}
	}
	return false
}

func (s *Service) ListChats(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return snapshotsStruct(s.chats.AllChats())
}

func (s *Service) GetChat(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := identifierField(req, "identifier")
	if err != nil {
		return nil, err
	}
	snap, ok := s.chats.Chat(id)
	if !ok {
		return nil, grpcstatus.Errorf(codes.NotFound, "chat %s not found", id)
	}
	m := SnapshotMap(snap)
	msgs := s.chats.Messages(id)
	list := make([]any, len(msgs))
	for i, msg := range msgs {
		list[i] = messageMap(msg)
	}
	m["messages"] = list
	return structpb.NewStruct(m)
}

func (s *Service) ChatsForHandle(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	handle := req.GetFields()["handle"].GetStringValue()
	if handle == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "handle is required")
	}
	return snapshotsStruct(s.chats.ChatsForHandle(ctx, handle))
}

func (s *Service) SortedParticipants(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	chatID := req.GetFields()["chat"].GetStringValue()
	if chatID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat is required")
	}
	sorted, ok := s.participants.Sorted(chatID)
	if !ok {
		if err := s.participants.Bootstrap(ctx, []string{chatID}); err != nil {
			return nil, grpcstatus.Errorf(codes.Internal, "load participants: %v", err)
		}
		sorted, _ = s.participants.Sorted(chatID)
	}
	return structpb.NewStruct(map[string]any{"chat": chatID, "participants": strs(sorted)})
}

func (s *Service) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	current := s.machine.Current()
	chats := s.chats.AllChats()
	resp := map[string]any{
		"session":         s.sessionName,
		"status":          string(current),
		"status_since":    timeValue(s.machine.Since()),
		"uptime_ms":       float64(time.Since(s.startedAt).Milliseconds()),
		"chats":           float64(len(chats)),
		"events_pending":  float64(s.bus.Pending()),
		"sms_read_buffer": strs(s.handler.ReadBuffer()),
	}
	if s.counter != nil {
		if n, err := s.counter.ChatCount(ctx); err == nil {
			resp["stored_chats"] = float64(n)
		}
		if n, err := s.counter.MessageCount(ctx); err == nil {
			resp["stored_messages"] = float64(n)
		}
		if v, err := s.counter.SchemaVersion(ctx); err == nil {
			resp["schema_version"] = float64(v)
		}
	}
	return structpb.NewStruct(resp)
}

func snapshotsStruct(snaps []registry.Snapshot) (*structpb.Struct, error) {
	list := make([]any, len(snaps))
	for i, snap := range snaps {
		list[i] = SnapshotMap(snap)
	}
	return structpb.NewStruct(map[string]any{"chats": list})
}

// identifierField reads a "scheme:value" identifier, treating a bare value
// as a chat identifier.
func identifierField(req *structpb.Struct, key string) (ident.ChatIdentifier, error) {
	raw := req.GetFields()[key].GetStringValue()
	if raw == "" {
		return ident.ChatIdentifier{}, grpcstatus.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	id, err := ident.Parse(raw)
	if err != nil {
		return ident.ChatID(raw), nil
	}
	return id, nil
}

var _ Counter = (*store.DB)(nil)
