// Package webhook carries delivery signals from the push workers and the API
// to the outbound webhook relay without letting a slow relay stall dispatch.
package webhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jsndz/signalpush/metrics"
	"github.com/jsndz/signalpush/pkg/kafka"
	"github.com/jsndz/signalpush/pkg/types"
	"go.uber.org/zap"
)

// DefaultWebhookType is used when a signal is not addressed to a specific integration.
const DefaultWebhookType = "api"

// Bus is a bounded in-process queue of webhook signals.
type Bus struct {
	ch  chan types.WebhookSignal
	log *zap.Logger
}

func NewBus(size int, log *zap.Logger) *Bus {
	if size <= 0 {
		size = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{ch: make(chan types.WebhookSignal, size), log: log.Named("webhook")}
}

// Publish queues s and never blocks. It reports false when the queue was full
// and the signal was dropped.
func (b *Bus) Publish(s types.WebhookSignal) bool {
	if s.WebhookType == "" {
		s.WebhookType = DefaultWebhookType
	}
	if s.Timestamp == 0 {
		s.Timestamp = time.Now().UnixMilli()
	}
	select {
	case b.ch <- s:
		metrics.WebhookSignalsTotal.WithLabelValues("queued").Inc()
		return true
	default:
		metrics.WebhookSignalsTotal.WithLabelValues("dropped").Inc()
		b.log.Warn("webhook queue full, signal dropped",
			zap.String("projectId", s.ProjectID),
			zap.String("event", string(s.Event)),
		)
		return false
	}
}

// Signal builds and publishes a signal for one job outcome.
func (b *Bus) Signal(event types.EventKind, job types.DispatchJob, data map[string]interface{}) bool {
	return b.Publish(types.WebhookSignal{
		Event:            event,
		ProjectID:        job.ProjectID,
		NotificationType: job.Type,
		NotificationData: data,
	})
}

func (b *Bus) Len() int {
	return len(b.ch)
}

// Relay forwards queued signals to topic until ctx is cancelled, then makes a
// best effort to flush what is still queued within drainTimeout.
func (b *Bus) Relay(ctx context.Context, p kafka.Publisher, topic string, drainTimeout time.Duration) {
	b.log.Info("webhook relay started", zap.String("topic", topic))
	for {
		select {
		case s := <-b.ch:
			b.forward(ctx, p, topic, s)
		case <-ctx.Done():
			dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
			defer cancel()
			for {
				select {
				case s := <-b.ch:
					b.forward(dctx, p, topic, s)
				default:
					b.log.Info("webhook relay stopped")
					return
				}
			}
		}
	}
}

func (b *Bus) forward(ctx context.Context, p kafka.Publisher, topic string, s types.WebhookSignal) {
	raw, err := json.Marshal(s)
	if err != nil {
		metrics.WebhookSignalsTotal.WithLabelValues("failed").Inc()
		b.log.Error("marshal webhook signal", zap.Error(err))
		return
	}
	if err := p.Publish(ctx, topic, []byte(s.ProjectID), raw); err != nil {
		metrics.WebhookSignalsTotal.WithLabelValues("failed").Inc()
		b.log.Warn("relay webhook signal",
			zap.String("projectId", s.ProjectID),
			zap.String("event", string(s.Event)),
			zap.Error(err),
		)
		return
	}
	metrics.WebhookSignalsTotal.WithLabelValues("relayed").Inc()
}
