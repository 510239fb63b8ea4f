package gojob

import (
	"context"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

const dedupDrop = "drop"

// MemoryQueue is an in-process go-job queue for single-node deployments and
// tests. Messages with the "drop" dedup policy are discarded while another
// message with the same idempotency key is pending. Nack delays are honored
// on requeue and dead-lettered messages are kept for inspection.
type MemoryQueue struct {
	mu         sync.Mutex
	pending    []memoryEntry
	deadLetter []*job.ExecutionMessage
	now        func() time.Time
}

type memoryEntry struct {
	msg         *job.ExecutionMessage
	availableAt time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{now: time.Now}
}

func (q *MemoryQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	if msg == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if strings.EqualFold(string(msg.DedupPolicy), dedupDrop) && q.pendingKeyLocked(msg.IdempotencyKey) {
		return nil
	}
	q.pending = append(q.pending, memoryEntry{msg: msg, availableAt: q.now()})
	return nil
}

// Dequeue hands out the first message whose delay has elapsed, or nil when
// none is ready.
func (q *MemoryQueue) Dequeue(context.Context) (queue.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for i, entry := range q.pending {
		if entry.availableAt.After(now) {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		return &memoryDelivery{queue: q, msg: entry.msg}, nil
	}
	return nil, nil
}

func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *MemoryQueue) DeadLetters() []*job.ExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*job.ExecutionMessage(nil), q.deadLetter...)
}

func (q *MemoryQueue) pendingKeyLocked(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	for _, entry := range q.pending {
		if entry.msg.IdempotencyKey == key {
			return true
		}
	}
	return false
}

type memoryDelivery struct {
	queue   *MemoryQueue
	msg     *job.ExecutionMessage
	settled bool
}

func (d *memoryDelivery) Message() *job.ExecutionMessage { return d.msg }

func (d *memoryDelivery) Ack(context.Context) error {
	d.settled = true
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	if d.settled {
		return nil
	}
	d.settled = true
	q := d.queue
	q.mu.Lock()
	defer q.mu.Unlock()
	switch {
	case opts.DeadLetter:
		q.deadLetter = append(q.deadLetter, d.msg)
	case opts.Requeue:
		q.pending = append(q.pending, memoryEntry{msg: d.msg, availableAt: q.now().Add(opts.Delay)})
	}
	return nil
}

var (
	_ queue.Enqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer = (*MemoryQueue)(nil)
	_ queue.Delivery = (*memoryDelivery)(nil)
)
