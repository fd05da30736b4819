package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jsndz/signalpush/metrics"
	"github.com/jsndz/signalpush/pkg/kafka"
	"github.com/jsndz/signalpush/pkg/types"
	"github.com/jsndz/signalpush/pkg/webhook"
	"go.uber.org/zap"
)

// ErrBeaconEvent is returned for client reports of events only the server emits.
var ErrBeaconEvent = errors.New("clients may only report clicked, closed or dropped")

type NotificationService struct {
	publisher   kafka.Publisher
	jobsTopic   string
	eventsTopic string
	webhooks    *webhook.Bus
	log         *zap.Logger
}

func NewNotificationService(p kafka.Publisher, jobsTopic, eventsTopic string, log *zap.Logger) *NotificationService {
	return &NotificationService{publisher: p, jobsTopic: jobsTopic, eventsTopic: eventsTopic, log: log}
}

// WithWebhooks makes recorded beacons raise webhook signals on b.
func (s *NotificationService) WithWebhooks(b *webhook.Bus) *NotificationService {
	s.webhooks = b
	return s
}

// Enqueue validates job, assigns its notification id and hands it to the
// push workers. The request event is recorded once the job is queued.
func (s *NotificationService) Enqueue(ctx context.Context, job *types.DispatchJob) (string, error) {
	if err := job.Validate(); err != nil {
		reason := "invalid"
		if errors.Is(err, types.ErrTemplateNotImplemented) {
			reason = "not_implemented"
		}
		metrics.JobsRejectedTotal.WithLabelValues(reason).Inc()
		return "", err
	}
	job.NotificationID = types.NewNotificationID()

	if err := kafka.PublishJSON(ctx, s.publisher, s.jobsTopic, job.ProjectID, job); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}

	e := types.NewLifecycleEvent(job.ProjectID, types.EventRequest, job.NotificationID, job.Metadata())
	if err := kafka.PublishJSON(ctx, s.publisher, s.eventsTopic, job.ProjectID, e); err != nil {
		s.log.Warn("request event not recorded",
			zap.String("projectId", job.ProjectID),
			zap.String("notificationId", job.NotificationID),
			zap.Error(err),
		)
	}
	return job.NotificationID, nil
}

// RecordBeacon publishes a lifecycle event reported by a subscriber's browser.
func (s *NotificationService) RecordBeacon(ctx context.Context, e types.LifecycleEvent) error {
	switch e.Event {
	case types.EventClicked, types.EventClosed, types.EventDropped:
	default:
		return fmt.Errorf("%w: got %q", ErrBeaconEvent, e.Event)
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	if e.Metadata == nil {
		e.Metadata = map[string]interface{}{}
	}
	if err := e.Validate(); err != nil {
		return err
	}
	if err := kafka.PublishJSON(ctx, s.publisher, s.eventsTopic, e.ProjectID, e); err != nil {
		return err
	}
	s.signal(e)
	return nil
}

// signal raises the webhook for clicks and drops. Closes are recorded but not signalled.
func (s *NotificationService) signal(e types.LifecycleEvent) {
	if s.webhooks == nil || (e.Event != types.EventClicked && e.Event != types.EventDropped) {
		return
	}
	data := map[string]interface{}{"notificationId": e.NotificationID}
	for k, v := range e.Metadata {
		data[k] = v
	}
	sig := types.WebhookSignal{
		Event:            e.Event,
		ProjectID:        e.ProjectID,
		NotificationData: data,
		Timestamp:        e.Timestamp,
	}
	if t, ok := e.Metadata["type"].(string); ok {
		sig.NotificationType = types.NotificationType(t)
	}
	s.webhooks.Publish(sig)
}
