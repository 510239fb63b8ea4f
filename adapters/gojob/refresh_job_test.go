package gojob

import (
	"context"
	"testing"
	"time"

	"github.com/chendrizzy/discord-trade-exec-sub002/core"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

func TestRefreshEnqueuer_EncodesRefreshJob(t *testing.T) {
	enqueuer := &stubQueueEnqueuer{}
	expiresAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	msg := core.NewRefreshJobMessage(core.OAuthToken{UserID: "u1", BrokerKey: "alpaca", ExpiresAt: &expiresAt})

	if err := NewRefreshEnqueuer(enqueuer).Enqueue(context.Background(), msg); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if enqueuer.last == nil || enqueuer.last.JobID != core.JobIDTokenRefresh {
		t.Fatalf("expected refresh job on the queue, got %#v", enqueuer.last)
	}
	if enqueuer.last.DedupPolicy != job.DeduplicationPolicy("drop") || enqueuer.last.IdempotencyKey != msg.IdempotencyKey {
		t.Fatalf("expected dedup settings to carry over, got %#v", enqueuer.last)
	}

	decoded := decodeRefreshJob(enqueuer.last)
	if decoded.Parameters["user_id"] != "u1" || decoded.Parameters["broker_key"] != "alpaca" {
		t.Fatalf("expected refresh target to survive the queue, got %#v", decoded.Parameters)
	}
}

func TestRefreshEnqueuer_RefusesMalformedJobs(t *testing.T) {
	cases := map[string]*core.JobExecutionMessage{
		"nil":         nil,
		"foreign job": {JobID: "tradeexec.other", Parameters: map[string]any{"user_id": "u1", "broker_key": "alpaca"}},
		"no user":     {JobID: core.JobIDTokenRefresh, Parameters: map[string]any{"broker_key": "alpaca"}},
		"no broker":   {JobID: core.JobIDTokenRefresh, Parameters: map[string]any{"user_id": "u1", "broker_key": "  "}},
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			enqueuer := &stubQueueEnqueuer{}
			if err := NewRefreshEnqueuer(enqueuer).Enqueue(context.Background(), msg); err == nil {
				t.Fatalf("expected malformed job to be refused")
			}
			if enqueuer.last != nil {
				t.Fatalf("expected nothing enqueued")
			}
		})
	}
}

func TestRetryPolicy_Settle(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, MaxDelay: 10 * time.Second, DeadLetterOnMax: true}

	first := policy.settle(core.JobNackOptions{Delay: 30 * time.Second, Requeue: true, Reason: " transient "}, 1)
	if first.Delay != 10*time.Second || !first.Requeue || first.DeadLetter {
		t.Fatalf("expected bounded requeue, got %#v", first)
	}
	if first.Reason != "transient" {
		t.Fatalf("expected trimmed reason, got %q", first.Reason)
	}

	last := policy.settle(core.JobNackOptions{Delay: time.Second, Requeue: true}, 3)
	if last.Requeue || !last.DeadLetter {
		t.Fatalf("expected dead letter at max attempts, got %#v", last)
	}

	neither := policy.settle(core.JobNackOptions{Delay: -time.Second}, 1)
	if !neither.Requeue || neither.Delay != 0 {
		t.Fatalf("expected a nack without intent to requeue immediately, got %#v", neither)
	}
}

type stubQueueEnqueuer struct {
	last *job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	s.last = msg
	return nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nackOpts = opts
	return nil
}
