package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/heathcliff26/buildhook/pkg/config"
	"github.com/heathcliff26/buildhook/pkg/metrics"
	"github.com/heathcliff26/buildhook/pkg/queue"
	"github.com/heathcliff26/buildhook/pkg/retry"
	"github.com/heathcliff26/buildhook/pkg/signature"
	"github.com/heathcliff26/buildhook/pkg/trigger"
)

// Terminal state of a delivery
type State string

const (
	StateEnqueued            State = "enqueued"
	StateNoOp                State = "noop"
	StateRejected            State = "rejected"
	StateNormalizationFailed State = "normalization_failed"
	StateQueueUnavailable    State = "queue_unavailable"
	StateUnknownProvider     State = "unknown_provider"
)

// Delivery is a raw webhook request
type Delivery struct {
	Provider   string
	EventType  string
	DeliveryID string
	Signature  string
	Body       []byte
	ReceivedAt time.Time
}

type Outcome struct {
	State  State
	Item   queue.Item
	Reason string
	Err    error
}

// Gateway authenticates, normalizes and enqueues deliveries.
// It never waits for the trigger to be processed.
type Gateway struct {
	verifier    *signature.Verifier
	normalizer  *trigger.Normalizer
	queue       *queue.Queue
	retry       retry.Policy
	storeFailed bool
	recorder    metrics.Recorder
	now         func() time.Time
}

func NewGateway(verifier *signature.Verifier, normalizer *trigger.Normalizer, q *queue.Queue, cfg config.QueueConfig, recorder metrics.Recorder) *Gateway {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Gateway{
		verifier:    verifier,
		normalizer:  normalizer,
		queue:       q,
		retry:       retry.NewPolicy(cfg.EnqueueRetry),
		storeFailed: cfg.StoreFailedDeliveries,
		recorder:    recorder,
		now:         time.Now,
	}
}

// Ingest a delivery: Received -> Verified -> Normalized -> Enqueued,
// or one of the terminal states Rejected, NormalizationFailed, NoOp and QueueUnavailable.
func (g *Gateway) Ingest(ctx context.Context, d Delivery) Outcome {
	out := g.ingest(ctx, d)
	g.recorder.IncDelivery(d.Provider, string(out.State))
	return out
}

func (g *Gateway) ingest(ctx context.Context, d Delivery) Outcome {
	logger := slog.With(slog.String("provider", d.Provider), slog.String("event", d.EventType), slog.String("delivery", d.DeliveryID))

	provider, err := trigger.ParseProvider(d.Provider)
	if err != nil {
		logger.Warn("Received delivery for unknown provider")
		return Outcome{State: StateUnknownProvider, Err: err}
	}

	err = g.verifier.VerifyRequest(d.Body, d.Signature)
	if err != nil {
		logger.Warn("Rejected delivery", "err", err)
		return Outcome{State: StateRejected, Err: err}
	}

	if d.ReceivedAt.IsZero() {
		d.ReceivedAt = g.now()
	}

	res, err := g.normalizer.Normalize(provider, d.EventType, d.Body)
	if err != nil {
		logger.Error("Failed to normalize delivery", "err", err)
		g.storeFailedDelivery(ctx, provider, d, err)
		return Outcome{State: StateNormalizationFailed, Err: err}
	}
	if res.NoOp {
		logger.Debug("Ignoring delivery", slog.String("reason", res.Reason))
		return Outcome{State: StateNoOp, Reason: res.Reason}
	}

	t := res.Trigger
	t.DeliveryID = d.DeliveryID
	if t.EventTime.IsZero() {
		t.EventTime = d.ReceivedAt.UTC()
	}

	var item queue.Item
	err = g.retry.Do(ctx, isUnavailable, func(ctx context.Context) error {
		var pushErr error
		item, pushErr = g.queue.Push(ctx, queue.Inbox, t)
		return pushErr
	})
	if err != nil {
		logger.Error("Failed to enqueue trigger", "err", err)
		return Outcome{State: StateQueueUnavailable, Err: err}
	}

	logger.Info("Enqueued trigger", slog.String("item", item.ID), slog.Int64("position", item.Position))
	return Outcome{State: StateEnqueued, Item: item}
}

// Keep the raw payload of a delivery that could not be normalized in the error partition
func (g *Gateway) storeFailedDelivery(ctx context.Context, provider trigger.Provider, d Delivery, cause error) {
	if !g.storeFailed {
		return
	}
	_, err := g.queue.Reject(ctx, trigger.BuildTrigger{
		Provider:   provider,
		EventType:  d.EventType,
		DeliveryID: d.DeliveryID,
		RefKind:    trigger.RefKindNone,
		EventTime:  d.ReceivedAt.UTC(),
		RawPayload: d.Body,
	}, cause)
	if err != nil {
		slog.Error("Failed to store failed delivery", slog.String("delivery", d.DeliveryID), "err", err)
	}
}

func isUnavailable(err error) bool {
	return errors.Is(err, queue.ErrUnavailable)
}
