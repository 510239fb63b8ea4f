package gojob

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	"github.com/goliatone/go-job/queue"
	glog "github.com/goliatone/go-logger/glog"
)

const defaultPollInterval = 2 * time.Second

// RefreshProcessor runs one refresh delivery and settles it with Ack or Nack.
// core.Service satisfies it.
type RefreshProcessor interface {
	ProcessRefreshDelivery(ctx context.Context, delivery core.JobDelivery) error
}

type RefreshWorkerConfig struct {
	Policy         RetryPolicy
	PollInterval   time.Duration
	Hook           core.JobWorkerHook
	Logger         glog.Logger
	LoggerProvider glog.LoggerProvider
}

// RefreshWorker drains refresh jobs from a go-job queue. It counts failed
// deliveries per idempotency key so the retry policy can dead-letter a grant
// that keeps failing.
type RefreshWorker struct {
	dequeuer  queue.Dequeuer
	processor RefreshProcessor
	policy    RetryPolicy
	poll      time.Duration
	hook      core.JobWorkerHook
	logger    glog.Logger

	mu       sync.Mutex
	attempts map[string]int
}

func NewRefreshWorker(dequeuer queue.Dequeuer, processor RefreshProcessor, cfg RefreshWorkerConfig) *RefreshWorker {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	_, logger := glog.Resolve("tradeexec.refresh_worker", cfg.LoggerProvider, cfg.Logger)
	return &RefreshWorker{
		dequeuer:  dequeuer,
		processor: processor,
		policy:    cfg.Policy,
		poll:      poll,
		hook:      cfg.Hook,
		logger:    logger,
		attempts:  map[string]int{},
	}
}

// Run processes deliveries until ctx is cancelled.
func (w *RefreshWorker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		processed, err := w.ProcessNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.WithContext(ctx).Error("refresh worker iteration failed", "error", err.Error())
		}
		if processed && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.poll):
		}
	}
}

// ProcessNext dequeues and handles at most one delivery. It reports false when
// the queue had nothing to hand out.
func (w *RefreshWorker) ProcessNext(ctx context.Context) (bool, error) {
	if w == nil || w.dequeuer == nil || w.processor == nil {
		return false, core.NewConfigurationError("refresh worker requires a dequeuer and a processor")
	}
	raw, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}

	delivery := &refreshDelivery{raw: raw, policy: w.policy}
	msg := delivery.Message()
	key := attemptKey(msg)
	delivery.attempt = w.nextAttempt(key)

	event := core.JobWorkerEvent{Message: msg, Attempt: delivery.attempt, StartedAt: time.Now().UTC()}
	w.notify(ctx, "start", event)

	err = w.processor.ProcessRefreshDelivery(ctx, delivery)
	event.Duration = time.Since(event.StartedAt)
	switch {
	case err != nil:
		event.Err = err
		w.notify(ctx, "failure", event)
		return true, err
	case delivery.nacked:
		event.Delay = delivery.delay
		if delivery.deadLettered {
			w.forget(key)
			w.notify(ctx, "failure", event)
		} else {
			w.notify(ctx, "retry", event)
		}
	default:
		w.forget(key)
		w.notify(ctx, "success", event)
	}
	return true, nil
}

func (w *RefreshWorker) nextAttempt(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[key]++
	return w.attempts[key]
}

func (w *RefreshWorker) forget(key string) {
	w.mu.Lock()
	delete(w.attempts, key)
	w.mu.Unlock()
}

func (w *RefreshWorker) notify(ctx context.Context, stage string, event core.JobWorkerEvent) {
	if w.hook == nil {
		return
	}
	switch stage {
	case "start":
		w.hook.OnStart(ctx, event)
	case "success":
		w.hook.OnSuccess(ctx, event)
	case "retry":
		w.hook.OnRetry(ctx, event)
	default:
		w.hook.OnFailure(ctx, event)
	}
}

// refreshDelivery settles one go-job delivery and remembers how it was
// settled so the worker can report retry or dead-letter.
type refreshDelivery struct {
	raw          queue.Delivery
	policy       RetryPolicy
	attempt      int
	nacked       bool
	deadLettered bool
	delay        time.Duration
}

func (d *refreshDelivery) Message() *core.JobExecutionMessage {
	return decodeRefreshJob(d.raw.Message())
}

func (d *refreshDelivery) Ack(ctx context.Context) error {
	return d.raw.Ack(ctx)
}

func (d *refreshDelivery) Nack(ctx context.Context, opts core.JobNackOptions) error {
	settled := d.policy.settle(opts, d.attempt)
	d.nacked = true
	d.deadLettered = settled.DeadLetter
	d.delay = settled.Delay
	return d.raw.Nack(ctx, settled)
}

func attemptKey(msg *core.JobExecutionMessage) string {
	if msg == nil {
		return ""
	}
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		return key
	}
	return msg.JobID
}

// LoggingHook reports worker lifecycle events through a structured logger.
type LoggingHook struct {
	logger glog.Logger
}

func NewLoggingHook(logger glog.Logger) *LoggingHook {
	if logger == nil {
		logger = glog.Nop()
	}
	return &LoggingHook{logger: logger}
}

func (h *LoggingHook) OnStart(ctx context.Context, event core.JobWorkerEvent) {
	h.log(ctx, "debug", "refresh job started", event)
}

func (h *LoggingHook) OnSuccess(ctx context.Context, event core.JobWorkerEvent) {
	h.log(ctx, "info", "refresh job succeeded", event)
}

func (h *LoggingHook) OnFailure(ctx context.Context, event core.JobWorkerEvent) {
	h.log(ctx, "error", "refresh job failed", event)
}

func (h *LoggingHook) OnRetry(ctx context.Context, event core.JobWorkerEvent) {
	h.log(ctx, "warn", "refresh job scheduled for retry", event)
}

func (h *LoggingHook) log(ctx context.Context, level string, message string, event core.JobWorkerEvent) {
	if h == nil || h.logger == nil {
		return
	}
	args := []any{"attempt", event.Attempt, "duration_ms", event.Duration.Milliseconds()}
	if event.Message != nil {
		args = append(args,
			"job_id", event.Message.JobID,
			"broker_key", event.Message.Parameters["broker_key"],
			"user_id", event.Message.Parameters["user_id"],
		)
	}
	if event.Delay > 0 {
		args = append(args, "delay", event.Delay.String())
	}
	if event.Err != nil {
		args = append(args, "error", core.SanitizeProviderMessage(event.Err.Error()))
	}
	logger := h.logger.WithContext(ctx)
	switch level {
	case "debug":
		logger.Debug(message, args...)
	case "warn":
		logger.Warn(message, args...)
	case "error":
		logger.Error(message, args...)
	default:
		logger.Info(message, args...)
	}
}

var (
	_ core.JobDelivery   = (*refreshDelivery)(nil)
	_ core.JobWorkerHook = (*LoggingHook)(nil)
	_ RefreshProcessor   = (*core.Service)(nil)
)
