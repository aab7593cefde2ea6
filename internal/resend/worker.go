// Package resend retries failed outbound messages on the alternate service.
// Plans arrive from the registry without blocking the fold that produced
// them and are executed one at a time by a background worker.
package resend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/imcore/internal/chat"
	"github.com/matheus3301/imcore/internal/pipeline"
	"github.com/matheus3301/imcore/internal/store"
)

// ErrServiceMismatch is returned when the leaf picked for a resend sends
// on a different service than the plan targets.
var ErrServiceMismatch = errors.New("leaf service does not match resend target")

// Transport is the host send primitive.
type Transport interface {
	// Reload returns the host's current view of a message.
	Reload(ctx context.Context, messageGUID string) (chat.Message, error)
	MarkRetrying(ctx context.Context, messageGUID string) error
	// LeafService returns the current service of a leaf of the chat holding
	// the message.
	LeafService(ctx context.Context, messageGUID, leafGUID string) (chat.Service, error)
	Resubmit(ctx context.Context, req Resubmit) error
	RequestReroute(ctx context.Context, messageGUID, chatGUID string) error
}

// Resubmit asks the host to send a message again on another service.
type Resubmit struct {
	MessageGUID string
	LeafGUID    string
	Target      chat.Service
	// Downgrade moves the message to the SMS account and flags it downgraded.
	Downgrade bool
}

// Attempts persists the outcome of each resend.
type Attempts interface {
	QueueResend(ctx context.Context, a *store.ResendAttempt) (string, error)
	FinishResend(ctx context.Context, id, status, errMsg string) error
}

// Attempt statuses.
const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

type job struct {
	plan chat.ResendPlan
	msg  chat.Message

	// reroute jobs carry only these.
	rerouteGUID string
	chatGUID    string
}

// Worker drains the resend queue.
type Worker struct {
	queue     chan job
	transport Transport
	attempts  Attempts
	ps        *pipeline.Pipelines
	timeout   time.Duration
	logger    *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker creates a worker. attempts may be nil.
func NewWorker(transport Transport, attempts Attempts, ps *pipeline.Pipelines, queueSize int, timeout time.Duration, logger *zap.Logger) *Worker {
	if queueSize <= 0 {
		queueSize = 64
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Worker{
		queue:     make(chan job, queueSize),
		transport: transport,
		attempts:  attempts,
		ps:        ps,
		timeout:   timeout,
		logger:    logger.Named("resend"),
		inflight:  make(map[string]struct{}),
	}
}

// Enqueue schedules a resend. It never blocks; false means the plan was
// dropped because the queue is full. A message already queued is accepted
// without scheduling it twice.
func (w *Worker) Enqueue(plan chat.ResendPlan, msg chat.Message) bool {
	w.mu.Lock()
	if _, ok := w.inflight[plan.MessageID]; ok {
		w.mu.Unlock()
		return true
	}
	w.inflight[plan.MessageID] = struct{}{}
	w.mu.Unlock()

	select {
	case w.queue <- job{plan: plan, msg: msg}:
		return true
	default:
		w.release(plan.MessageID)
		return false
	}
}

// RequestReroute schedules a routing request for a message whose recipient
// was reported unknown. It never blocks.
func (w *Worker) RequestReroute(messageGUID, chatGUID string) {
	select {
	case w.queue <- job{rerouteGUID: messageGUID, chatGUID: chatGUID}:
	default:
		w.logger.Warn("resend queue full, dropping reroute", zap.String("guid", messageGUID))
	}
}

// Pending returns the number of queued jobs.
func (w *Worker) Pending() int { return len(w.queue) }

// Start runs the worker loop until Stop or ctx is done.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.loop(ctx)
}

// Stop stops the worker loop and waits for the current job.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case j := <-w.queue:
			if j.rerouteGUID != "" {
				w.reroute(ctx, j.rerouteGUID, j.chatGUID)
				continue
			}
			if err := w.Process(ctx, j.plan, j.msg); err != nil {
				w.logger.Warn("resend failed", zap.String("guid", j.plan.MessageID), zap.Error(err))
			}
			w.release(j.plan.MessageID)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) release(id string) {
	w.mu.Lock()
	delete(w.inflight, id)
	w.mu.Unlock()
}

func (w *Worker) reroute(ctx context.Context, guid, chatGUID string) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if err := w.transport.RequestReroute(ctx, guid, chatGUID); err != nil {
		w.logger.Warn("reroute request failed", zap.String("guid", guid), zap.String("chat_guid", chatGUID), zap.Error(err))
	}
}

// Process executes one plan: reload the message, confirm it still needs a
// resend, mark it retrying and resubmit it on the planned leaf. A plan
// without a leaf republishes the message so consumers see the failure.
func (w *Worker) Process(ctx context.Context, plan chat.ResendPlan, msg chat.Message) (err error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	attemptID := w.begin(ctx, plan)
	outcome := StatusFailed
	defer func() {
		w.finish(ctx, attemptID, outcome, err)
	}()

	current, err := w.transport.Reload(ctx, plan.MessageID)
	if err != nil {
		return fmt.Errorf("reload %s: %w", plan.MessageID, err)
	}
	if current.ID == "" {
		current = msg
	}
	if !chat.EligibleForResend(current) {
		w.logger.Debug("message no longer eligible", zap.String("guid", plan.MessageID))
		outcome = StatusSkipped
		return nil
	}

	if err := w.transport.MarkRetrying(ctx, plan.MessageID); err != nil {
		return fmt.Errorf("mark retrying %s: %w", plan.MessageID, err)
	}

	if plan.LeafGUID == "" {
		w.logger.Info("no leaf on target service, republishing",
			zap.String("guid", plan.MessageID), zap.Stringer("target", plan.Target))
		pipeline.Messages.Publish(w.ps, pipeline.MessageEvent{
			Chat:    plan.Chat.Value,
			Service: current.Service,
			Message: current,
			Kind:    chat.KindMessage,
		})
		outcome = StatusSkipped
		return nil
	}

	svc, err := w.transport.LeafService(ctx, plan.MessageID, plan.LeafGUID)
	if err != nil {
		return fmt.Errorf("leaf service %s: %w", plan.LeafGUID, err)
	}
	if svc != plan.Target {
		w.logger.Error("resend service mismatch, abandoning",
			zap.String("guid", plan.MessageID),
			zap.String("leaf", plan.LeafGUID),
			zap.Stringer("leaf_service", svc),
			zap.Stringer("target", plan.Target))
		return fmt.Errorf("%w: leaf %s is %s, want %s", ErrServiceMismatch, plan.LeafGUID, svc, plan.Target)
	}

	err = w.transport.Resubmit(ctx, Resubmit{
		MessageGUID: plan.MessageID,
		LeafGUID:    plan.LeafGUID,
		Target:      plan.Target,
		Downgrade:   plan.Downgrade,
	})
	if err != nil {
		return fmt.Errorf("resubmit %s: %w", plan.MessageID, err)
	}

	if plan.Downgrade {
		pipeline.MessageStatuses.Publish(w.ps, pipeline.StatusChange{
			Type:      pipeline.StatusDowngraded,
			Service:   plan.Target,
			Time:      time.Now(),
			FromMe:    true,
			ChatID:    plan.Chat.Value,
			MessageID: plan.MessageID,
		})
	}
	w.logger.Info("message resent",
		zap.String("guid", plan.MessageID),
		zap.Stringer("from", plan.From),
		zap.Stringer("to", plan.Target))
	outcome = StatusSent
	return nil
}

func (w *Worker) begin(ctx context.Context, plan chat.ResendPlan) string {
	if w.attempts == nil {
		return ""
	}
	id, err := w.attempts.QueueResend(ctx, &store.ResendAttempt{
		MessageGUID:   plan.MessageID,
		LeafGUID:      plan.LeafGUID,
		FromService:   plan.From.String(),
		TargetService: plan.Target.String(),
	})
	if err != nil {
		w.logger.Error("failed to record resend attempt", zap.String("guid", plan.MessageID), zap.Error(err))
		return ""
	}
	return id
}

func (w *Worker) finish(ctx context.Context, id, outcome string, err error) {
	if w.attempts == nil || id == "" {
		return
	}
	var msg string
	if err != nil {
		msg = err.Error()
	}
	// Record the outcome even after the plan timed out.
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if ferr := w.attempts.FinishResend(ctx, id, outcome, msg); ferr != nil {
		w.logger.Error("failed to finish resend attempt", zap.String("id", id), zap.Error(ferr))
	}
}
