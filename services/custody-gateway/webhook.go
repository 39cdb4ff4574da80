package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"custodia/core/events"
)

// QueueEmitter bridges engine events into the webhook queue.
type QueueEmitter struct {
	queue *WebhookQueue
	nowFn func() time.Time
}

func NewQueueEmitter(queue *WebhookQueue) *QueueEmitter {
	return &QueueEmitter{queue: queue, nowFn: time.Now}
}

// Emit implements events.Emitter.
func (e *QueueEmitter) Emit(evt *events.Event) {
	if e == nil || e.queue == nil || evt == nil {
		return
	}
	attrs := make(map[string]string, len(evt.Attributes))
	for k, v := range evt.Attributes {
		attrs[k] = v
	}
	e.queue.Enqueue(WebhookEvent{
		ID:         uuid.NewString(),
		Type:       evt.Type,
		Attributes: attrs,
		CreatedAt:  e.nowFn().UTC(),
	})
}

// WebhookDispatcher drains the queue and posts signed payloads to every
// configured endpoint. Endpoints that fail are re-queued with exponential
// backoff until MaxAttempts; endpoints that already accepted an event are
// not retried.
type WebhookDispatcher struct {
	queue       *WebhookQueue
	store       *SQLiteStore
	logger      *slog.Logger
	client      *http.Client
	endpoints   []string
	secret      string
	maxAttempts int

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// DispatcherConfig collects the delivery knobs.
type DispatcherConfig struct {
	Endpoints   []string
	Secret      string
	Timeout     time.Duration
	MaxAttempts int
}

func NewWebhookDispatcher(queue *WebhookQueue, store *SQLiteStore, logger *slog.Logger, cfg DispatcherConfig) *WebhookDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &WebhookDispatcher{
		queue:       queue,
		store:       store,
		logger:      logger,
		client:      &http.Client{Timeout: timeout},
		endpoints:   append([]string(nil), cfg.Endpoints...),
		secret:      cfg.Secret,
		maxAttempts: maxAttempts,
	}
}

// Start launches the delivery workers.
func (d *WebhookDispatcher) Start(ctx context.Context, workers int) {
	if d == nil || d.queue == nil || len(d.endpoints) == 0 {
		return
	}
	if workers <= 0 {
		workers = 1
	}
	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.run(ctx)
	}
}

// Stop cancels the workers and waits for them to drain.
func (d *WebhookDispatcher) Stop() {
	if d == nil || d.cancel == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
}

func (d *WebhookDispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		task, ok := d.queue.Dequeue(ctx)
		if !ok {
			return
		}
		d.deliver(ctx, task)
	}
}

func (d *WebhookDispatcher) deliver(ctx context.Context, task WebhookTask) {
	payload, err := json.Marshal(map[string]interface{}{
		"id":         task.Event.ID,
		"type":       task.Event.Type,
		"attributes": task.Event.Attributes,
		"createdAt":  task.Event.CreatedAt.Format(time.RFC3339),
	})
	if err != nil {
		d.logger.Error("encode webhook payload", "error", err)
		return
	}
	attempt := task.Attempt + 1
	targets := task.Pending
	if targets == nil {
		targets = d.endpoints
	}
	var failed []string
	for _, endpoint := range targets {
		if err := d.post(ctx, endpoint, payload); err != nil {
			failed = append(failed, endpoint)
			d.logger.Warn("webhook delivery failed",
				"endpoint", endpoint, "type", task.Event.Type, "attempt", attempt, "error", err)
			d.recordAttempt(ctx, endpoint, task.Event.Type, attempt, "failed", err.Error())
			continue
		}
		d.recordAttempt(ctx, endpoint, task.Event.Type, attempt, "delivered", "")
	}
	// Retries target only the endpoints that have not acknowledged;
	// endpoints that already accepted the event are never re-posted.
	if len(failed) > 0 && attempt < d.maxAttempts {
		backoff := time.Duration(1<<uint(attempt)) * time.Second
		d.queue.EnqueueTask(WebhookTask{
			Event:     task.Event,
			Attempt:   attempt,
			NotBefore: time.Now().Add(backoff),
			Pending:   failed,
		})
	}
}

func (d *WebhookDispatcher) post(ctx context.Context, endpoint string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.secret != "" {
		mac := hmac.New(sha256.New, []byte(d.secret))
		mac.Write(payload)
		req.Header.Set("X-Webhook-Signature", hex.EncodeToString(mac.Sum(nil)))
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (d *WebhookDispatcher) recordAttempt(ctx context.Context, endpoint, eventType string, attempt int, status, errMsg string) {
	if d.store == nil {
		return
	}
	_ = d.store.InsertDeliveryAttempt(ctx, DeliveryAttempt{
		Endpoint:  endpoint,
		EventType: eventType,
		Attempt:   attempt,
		Status:    status,
		Error:     errMsg,
		CreatedAt: time.Now().UTC(),
	})
}
