package main

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// WebhookEvent is a queued outbound notification. ID is assigned at enqueue
// time so consumers can deduplicate redelivered events.
type WebhookEvent struct {
	ID         string
	Type       string
	Attributes map[string]string
	CreatedAt  time.Time
}

// WebhookTask pairs an event with its delivery state. Pending narrows a
// retry to the endpoints that have not acknowledged yet; nil means all
// configured endpoints.
type WebhookTask struct {
	Event     WebhookEvent
	Attempt   int
	NotBefore time.Time
	Pending   []string
}

type queuedTask struct {
	task       WebhookTask
	enqueuedAt time.Time
}

const (
	defaultTaskCapacity = 1024
	defaultQueueTTL     = 15 * time.Minute
)

// WebhookQueue is a bounded FIFO of pending deliveries. Overflow drops the
// oldest entry; stale entries expire after the TTL.
type WebhookQueue struct {
	mu    sync.Mutex
	tasks queueRing[queuedTask]
	ttl   time.Duration
	now   func() time.Time

	metrics *webhookQueueMetrics
}

// NewWebhookQueue constructs a bounded queue. Non-positive capacity falls
// back to the default.
func NewWebhookQueue(capacity int, ttl time.Duration) *WebhookQueue {
	if capacity <= 0 {
		capacity = defaultTaskCapacity
	}
	if ttl <= 0 {
		ttl = defaultQueueTTL
	}
	return &WebhookQueue{
		tasks:   newQueueRing[queuedTask](capacity),
		ttl:     ttl,
		now:     time.Now,
		metrics: queueMetrics(),
	}
}

// Enqueue adds an event for delivery.
func (q *WebhookQueue) Enqueue(evt WebhookEvent) {
	q.EnqueueTask(WebhookTask{Event: evt})
}

// EnqueueTask re-queues a delivery task, typically for a retry with a
// NotBefore backoff.
func (q *WebhookQueue) EnqueueTask(task WebhookTask) {
	now := q.now()
	q.mu.Lock()
	defer q.mu.Unlock()
	q.evictExpiredLocked(now)
	if _, dropped := q.tasks.push(queuedTask{task: task, enqueuedAt: now}); dropped {
		q.metrics.recordDropped("overflow", 1)
	}
}

// Len reports the number of pending tasks.
func (q *WebhookQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.evictExpiredLocked(q.now())
	return q.tasks.len()
}

// Dequeue waits for the next deliverable task. It returns false when the
// context is cancelled.
func (q *WebhookQueue) Dequeue(ctx context.Context) (WebhookTask, bool) {
	for {
		q.mu.Lock()
		q.evictExpiredLocked(q.now())
		queued, ok := q.tasks.pop()
		q.mu.Unlock()
		if !ok {
			select {
			case <-ctx.Done():
				return WebhookTask{}, false
			case <-time.After(25 * time.Millisecond):
				continue
			}
		}

		if delay := time.Until(queued.task.NotBefore); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return WebhookTask{}, false
			case <-timer.C:
			}
		}

		if q.ttl > 0 && q.now().Sub(queued.enqueuedAt) > q.ttl {
			q.metrics.recordDropped("ttl", 1)
			continue
		}

		return queued.task, true
	}
}

func (q *WebhookQueue) evictExpiredLocked(now time.Time) {
	if q.ttl <= 0 {
		return
	}
	expired := 0
	for {
		queued, ok := q.tasks.peek()
		if !ok || now.Sub(queued.enqueuedAt) <= q.ttl {
			break
		}
		q.tasks.pop()
		expired++
	}
	if expired > 0 {
		q.metrics.recordDropped("ttl", expired)
	}
}

// queueRing is a fixed-size ring buffer that overwrites the oldest element on
// overflow.
type queueRing[T any] struct {
	buf  []T
	head int
	size int
}

func newQueueRing[T any](capacity int) queueRing[T] {
	if capacity <= 0 {
		return queueRing[T]{}
	}
	return queueRing[T]{buf: make([]T, capacity)}
}

func (r *queueRing[T]) push(v T) (T, bool) {
	if len(r.buf) == 0 {
		var zero T
		return zero, true
	}
	if r.size == len(r.buf) {
		dropped := r.buf[r.head]
		r.buf[r.head] = v
		r.head = (r.head + 1) % len(r.buf)
		return dropped, true
	}
	idx := (r.head + r.size) % len(r.buf)
	r.buf[idx] = v
	r.size++
	var zero T
	return zero, false
}

func (r *queueRing[T]) pop() (T, bool) {
	if r.size == 0 || len(r.buf) == 0 {
		var zero T
		return zero, false
	}
	v := r.buf[r.head]
	var zero T
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	return v, true
}

func (r *queueRing[T]) peek() (T, bool) {
	if r.size == 0 || len(r.buf) == 0 {
		var zero T
		return zero, false
	}
	return r.buf[r.head], true
}

func (r *queueRing[T]) len() int { return r.size }

var (
	metricsOnce        sync.Once
	sharedQueueMetrics *webhookQueueMetrics
)

type webhookQueueMetrics struct {
	dropped metric.Int64Counter
}

func queueMetrics() *webhookQueueMetrics {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("custodia/custody-gateway")
		counter, err := meter.Int64Counter("custodia.webhooks.dropped")
		if err != nil {
			fallback := noop.NewMeterProvider().Meter("custodia/custody-gateway")
			counter, _ = fallback.Int64Counter("custodia.webhooks.dropped")
		}
		sharedQueueMetrics = &webhookQueueMetrics{dropped: counter}
	})
	return sharedQueueMetrics
}

func (m *webhookQueueMetrics) recordDropped(reason string, count int) {
	if m == nil || m.dropped == nil || count <= 0 {
		return
	}
	m.dropped.Add(context.Background(), int64(count), metric.WithAttributes(attribute.String("reason", reason)))
}
