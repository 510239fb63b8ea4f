package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

// RetryPolicy bounds redelivery of refresh jobs. A grant that keeps failing
// past MaxAttempts is dead-lettered instead of requeued.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// settle turns the processor's nack request into the queue's options for the
// given delivery attempt.
func (p RetryPolicy) settle(opts core.JobNackOptions, attempt int) queue.NackOptions {
	out := queue.NackOptions{
		Delay:      opts.Delay,
		Requeue:    opts.Requeue,
		DeadLetter: opts.DeadLetter,
	}
	if reason := strings.TrimSpace(opts.Reason); reason != "" {
		out.Reason = core.SanitizeProviderMessage(reason)
	}
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		out.DeadLetter = out.DeadLetter || p.DeadLetterOnMax
	}
	if out.DeadLetter {
		out.Requeue = false
	} else {
		out.Requeue = true
	}
	return out
}

// encodeRefreshJob maps a refresh job onto a go-job message. Anything other
// than a token refresh for a known user and broker is refused before it
// reaches the queue.
func encodeRefreshJob(msg *core.JobExecutionMessage) (*job.ExecutionMessage, error) {
	if msg == nil {
		return nil, fmt.Errorf("gojob: refresh job is required")
	}
	if msg.JobID != core.JobIDTokenRefresh {
		return nil, fmt.Errorf("gojob: unsupported job id %q", msg.JobID)
	}
	userID, brokerKey := refreshTarget(msg.Parameters)
	if userID == "" || brokerKey == "" {
		return nil, fmt.Errorf("gojob: refresh job requires user_id and broker_key")
	}
	return &job.ExecutionMessage{
		JobID:      msg.JobID,
		ScriptPath: strings.TrimSpace(msg.ScriptPath),
		Parameters: map[string]any{
			"user_id":    userID,
			"broker_key": brokerKey,
		},
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy(strings.TrimSpace(msg.DedupPolicy)),
	}, nil
}

func decodeRefreshJob(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	params := make(map[string]any, len(msg.Parameters))
	for key, value := range msg.Parameters {
		params[key] = value
	}
	return &core.JobExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     params,
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    strings.TrimSpace(string(msg.DedupPolicy)),
	}
}

func refreshTarget(params map[string]any) (string, string) {
	userID, _ := params["user_id"].(string)
	brokerKey, _ := params["broker_key"].(string)
	return strings.TrimSpace(userID), strings.TrimSpace(brokerKey)
}

// RefreshEnqueuer hands scheduled refresh jobs to a go-job queue.
type RefreshEnqueuer struct {
	enqueuer queue.Enqueuer
}

func NewRefreshEnqueuer(enqueuer queue.Enqueuer) *RefreshEnqueuer {
	return &RefreshEnqueuer{enqueuer: enqueuer}
}

func (e *RefreshEnqueuer) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if e == nil || e.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	encoded, err := encodeRefreshJob(msg)
	if err != nil {
		return err
	}
	return e.enqueuer.Enqueue(ctx, encoded)
}

var _ core.JobEnqueuer = (*RefreshEnqueuer)(nil)
