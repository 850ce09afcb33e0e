package notification

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"

	"cryoqueue-backend/internal/metrics"
	"cryoqueue-backend/internal/model"
)

// Deliverer hands committed notifications to an out-of-band channel. It must
// not block the caller.
type Deliverer interface {
	Deliver(n model.Notification)
}

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// SubscriptionStore resolves and prunes a user's push endpoints.
type SubscriptionStore interface {
	SubscriptionsForUser(ctx context.Context, userID int64) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// WorkerPool pushes notifications to the recipients' browsers.
type WorkerPool struct {
	size    int
	jobs    chan model.Notification
	store   SubscriptionStore
	webpush *webpush.Options
	sender  NotificationSender
	log     zerolog.Logger
}

// NewWorkerPool creates a new worker pool with a bounded job queue.
func NewWorkerPool(size, queueSize int, st SubscriptionStore, webpushOptions *webpush.Options, log zerolog.Logger) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan model.Notification, queueSize),
		store:   st,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		log:     log,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debug().Int("worker", id).Msg("push worker started")
	for {
		select {
		case n := <-wp.jobs:
			wp.sendToUser(ctx, n)
		case <-ctx.Done():
			wp.log.Debug().Int("worker", id).Msg("push worker shutting down")
			return
		}
	}
}

// Deliver queues a notification for push delivery. When the queue is full
// the push is dropped; the in-app copy is already stored.
func (wp *WorkerPool) Deliver(n model.Notification) {
	select {
	case wp.jobs <- n:
	default:
		metrics.PushDeliveries.WithLabelValues("dropped").Inc()
		wp.log.Warn().Int64("notification_id", n.ID).Int64("recipient_id", n.RecipientID).
			Msg("push queue full, dropping delivery")
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan model.Notification {
	return wp.jobs
}

type pushPayload struct {
	ID        int64  `json:"id"`
	Kind      string `json:"kind"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	EntryID   *int64 `json:"entry_id,omitempty"`
	MachineID *int64 `json:"machine_id,omitempty"`
}

func (wp *WorkerPool) sendToUser(ctx context.Context, n model.Notification) {
	subscriptions, err := wp.store.SubscriptionsForUser(ctx, n.RecipientID)
	if err != nil {
		wp.log.Error().Err(err).Int64("recipient_id", n.RecipientID).Msg("failed to load push subscriptions")
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload, err := json.Marshal(pushPayload{
		ID:        n.ID,
		Kind:      string(n.Kind),
		Title:     n.Title,
		Body:      n.Message,
		EntryID:   n.RelatedEntryID,
		MachineID: n.RelatedMachineID,
	})
	if err != nil {
		wp.log.Error().Err(err).Int64("notification_id", n.ID).Msg("failed to encode push payload")
		return
	}

	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		metrics.PushDeliveries.WithLabelValues("error").Inc()
		wp.log.Warn().Err(err).Str("endpoint", sub.Endpoint).Msg("push delivery failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		metrics.PushDeliveries.WithLabelValues("expired").Inc()
		wp.log.Info().Str("endpoint", sub.Endpoint).Msg("push subscription expired, deleting")
		if err := wp.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			wp.log.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to delete expired subscription")
		}
		return
	}
	metrics.PushDeliveries.WithLabelValues("sent").Inc()
}

// Discard drops every notification. It is used when push is not configured.
type Discard struct{}

// Deliver does nothing.
func (Discard) Deliver(model.Notification) {}
