package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jsndz/signalpush/metrics"
	"github.com/jsndz/signalpush/pkg/kafka"
	"github.com/jsndz/signalpush/pkg/types"
	"github.com/jsndz/signalpush/pkg/utils"
	"github.com/jsndz/signalpush/pkg/webhook"
	"github.com/prometheus/client_golang/prometheus"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrAllSendsFailed is returned when a job had subscribers and none of them
// could be reached. It is the only fan-out outcome that fails a job.
var ErrAllSendsFailed = errors.New("every push send failed")

type TargetSource interface {
	Get(ctx context.Context, projectID string) (*Target, error)
	Invalidate(ctx context.Context, projectID string) error
}

type SubscriptionRemover interface {
	DeleteByEndpoint(ctx context.Context, projectID, endpoint string) (int64, error)
}

type WorkerDeps struct {
	Targets       TargetSource
	Subscriptions SubscriptionRemover
	Pusher        Pusher
	// Events receives lifecycle events and dead letters.
	Events   kafka.Publisher
	Webhooks *webhook.Bus
	Logger   *zap.Logger
	Tracer   trace.Tracer
}

type WorkerConfig struct {
	EventsTopic string
	DLQTopic    string
	FanoutLimit int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	SendTimeout time.Duration
}

// Report summarises one fan-out.
type Report struct {
	Subscribers int `json:"subscribers"`
	Delivered   int `json:"delivered"`
	Failed      int `json:"failed"`
	Removed     int `json:"removed"`
}

type Worker struct {
	deps   WorkerDeps
	cfg    WorkerConfig
	log    *zap.Logger
	tracer trace.Tracer
}

func NewWorker(deps WorkerDeps, cfg WorkerConfig) *Worker {
	if cfg.FanoutLimit <= 0 {
		cfg.FanoutLimit = 64
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.EventsTopic == "" {
		cfg.EventsTopic = "notification.events"
	}
	if cfg.DLQTopic == "" {
		cfg.DLQTopic = "notification.push.dlq"
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("push-worker")
	}
	return &Worker{deps: deps, cfg: cfg, log: log, tracer: tracer}
}

// Run starts one job loop per reader and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, readers ...kafka.MessageReader) error {
	g, ctx := errgroup.WithContext(ctx)
	for i, r := range readers {
		id := i
		reader := r
		g.Go(func() error {
			w.loop(ctx, id, reader)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, id int, reader kafka.MessageReader) {
	log := w.log.With(zap.Int("worker", id))
	log.Info("push worker started")
	failures := 0
	for {
		select {
		case <-ctx.Done():
			log.Info("push worker stopped")
			return
		default:
		}
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			failures++
			log.Error("error reading job", zap.Error(err))
			utils.Sleep(ctx, utils.Backoff(failures, w.cfg.BaseBackoff, w.cfg.MaxBackoff))
			continue
		}
		failures = 0
		if err := w.Handle(ctx, reader, m); err != nil && ctx.Err() == nil {
			log.Error("job left uncommitted", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

// Handle processes one work queue message and commits it once the job has
// reached a final outcome. It returns an error only when the message must be
// redelivered.
func (w *Worker) Handle(ctx context.Context, reader kafka.MessageReader, m kafkago.Message) error {
	msgCtx := kafka.ExtractContext(ctx, m)
	jobCtx, span := w.tracer.Start(msgCtx, "handle-push-job")
	defer span.End()

	job, err := types.DecodeDispatchJob(m.Value)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "undecodable job")
		metrics.JobsRejectedTotal.WithLabelValues("decode").Inc()
		w.log.Error("failed to unmarshal job", zap.ByteString("raw", m.Value), zap.Error(err))
		w.deadLetter(jobCtx, string(m.Key), m.Value, err, 0)
		return reader.CommitMessages(ctx, m)
	}
	if job.NotificationID == "" {
		job.NotificationID = types.NewNotificationID()
	}
	span.SetAttributes(
		attribute.String("project.id", job.ProjectID),
		attribute.String("notification.id", job.NotificationID),
		attribute.String("notification.type", string(job.Type)),
	)

	if err := w.Deliver(jobCtx, job); err != nil {
		return err
	}
	return reader.CommitMessages(ctx, m)
}

// Deliver runs the job with retries. It emits exactly one sent event on
// success, or one failed event plus a dead letter once attempts run out. The
// returned error is non-nil only when ctx ended before an outcome.
func (w *Worker) Deliver(ctx context.Context, job *types.DispatchJob) error {
	timer := prometheus.NewTimer(metrics.JobDuration)
	defer timer.ObserveDuration()
	span := trace.SpanFromContext(ctx)

	var (
		lastErr  error
		attempts int
	)
	if err := job.Validate(); err != nil {
		lastErr = err
	} else {
		for attempts = 1; attempts <= w.cfg.MaxAttempts; attempts++ {
			rep, err := w.Process(ctx, job)
			if err == nil {
				metrics.JobsProcessedTotal.WithLabelValues("sent").Inc()
				w.emit(ctx, job, types.EventSent, map[string]interface{}{
					"subscribers": rep.Subscribers,
					"delivered":   rep.Delivered,
					"failed":      rep.Failed,
					"removed":     rep.Removed,
					"attempts":    attempts,
				})
				return nil
			}
			lastErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if permanent(err) || attempts == w.cfg.MaxAttempts {
				break
			}
			wait := utils.Backoff(attempts, w.cfg.BaseBackoff, w.cfg.MaxBackoff)
			span.AddEvent(fmt.Sprintf("attempt %d failed", attempts))
			metrics.NotificationRetriesTotal.WithLabelValues(retryReason(err)).Inc()
			w.log.Warn("push job failed, will retry",
				zap.String("projectId", job.ProjectID),
				zap.String("notificationId", job.NotificationID),
				zap.Int("attempt", attempts),
				zap.Duration("retry_in", wait),
				zap.Error(err),
			)
			if err := utils.Sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	metrics.JobsProcessedTotal.WithLabelValues("failed").Inc()
	w.log.Error("permanent push job failure - sending to DLQ",
		zap.String("projectId", job.ProjectID),
		zap.String("notificationId", job.NotificationID),
		zap.Int("attempts", attempts),
		zap.Error(lastErr),
	)
	md := map[string]interface{}{
		"error":    lastErr.Error(),
		"attempts": attempts,
	}
	w.emit(ctx, job, types.EventFailed, md)
	raw, _ := json.Marshal(job)
	w.deadLetter(ctx, job.ProjectID, raw, lastErr, attempts)
	return nil
}

// Process resolves the project's subscribers and pushes the job payload to
// each of them concurrently. Individual send failures are counted, not
// returned.
func (w *Worker) Process(ctx context.Context, job *types.DispatchJob) (Report, error) {
	var rep Report
	target, err := w.deps.Targets.Get(ctx, job.ProjectID)
	if err != nil {
		return rep, err
	}
	payload, err := BuildPayload(job)
	if err != nil {
		return rep, err
	}
	rep.Subscribers = len(target.Subscriptions)
	if rep.Subscribers == 0 {
		return rep, nil
	}

	var delivered, failed, removed atomic.Int64
	var g errgroup.Group
	g.SetLimit(w.cfg.FanoutLimit)
	for _, ep := range target.Subscriptions {
		ep := ep
		g.Go(func() error {
			switch err := w.send(ctx, target, ep, payload); {
			case err == nil:
				delivered.Add(1)
			case errors.Is(err, ErrSubscriptionGone):
				failed.Add(1)
				if w.removeSubscription(ctx, job.ProjectID, ep) {
					removed.Add(1)
				}
			default:
				failed.Add(1)
			}
			return nil
		})
	}
	g.Wait()

	rep.Delivered = int(delivered.Load())
	rep.Failed = int(failed.Load())
	rep.Removed = int(removed.Load())
	if rep.Removed > 0 {
		if err := w.deps.Targets.Invalidate(ctx, job.ProjectID); err != nil {
			w.log.Warn("invalidate target cache", zap.String("projectId", job.ProjectID), zap.Error(err))
		}
	}
	if rep.Delivered == 0 && rep.Failed > rep.Removed {
		return rep, fmt.Errorf("%w: %d of %d", ErrAllSendsFailed, rep.Failed, rep.Subscribers)
	}
	return rep, nil
}

func (w *Worker) send(ctx context.Context, t *Target, ep Endpoint, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
	defer cancel()
	start := time.Now()
	err := w.deps.Pusher.Push(ctx, t, ep, payload)
	status := "success"
	switch {
	case errors.Is(err, ErrSubscriptionGone):
		status = "gone"
	case err != nil:
		status = "failed"
	}
	metrics.PushSendsTotal.WithLabelValues(status).Inc()
	metrics.PushSendDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	if err != nil {
		w.log.Warn("push send failed",
			zap.String("projectId", t.ProjectID),
			zap.String("endpoint", ep.Endpoint),
			zap.Error(err),
		)
	}
	return err
}

func (w *Worker) removeSubscription(ctx context.Context, projectID string, ep Endpoint) bool {
	if w.deps.Subscriptions == nil {
		return false
	}
	n, err := w.deps.Subscriptions.DeleteByEndpoint(ctx, projectID, ep.Endpoint)
	if err != nil {
		w.log.Warn("remove gone subscription", zap.String("endpoint", ep.Endpoint), zap.Error(err))
		return false
	}
	if n > 0 {
		w.log.Info("removed gone subscription", zap.String("projectId", projectID), zap.String("endpoint", ep.Endpoint))
	}
	return n > 0
}

func (w *Worker) emit(ctx context.Context, job *types.DispatchJob, kind types.EventKind, extra map[string]interface{}) {
	md := job.Metadata()
	for k, v := range extra {
		md[k] = v
	}
	e := types.NewLifecycleEvent(job.ProjectID, kind, job.NotificationID, md)
	if err := kafka.PublishJSON(ctx, w.deps.Events, w.cfg.EventsTopic, job.ProjectID, e); err != nil {
		w.log.Error("publish lifecycle event",
			zap.String("event", string(kind)),
			zap.String("notificationId", job.NotificationID),
			zap.Error(err),
		)
	}
	if w.deps.Webhooks != nil {
		data := map[string]interface{}{"notificationId": job.NotificationID}
		for k, v := range md {
			data[k] = v
		}
		w.deps.Webhooks.Signal(kind, *job, data)
	}
}

// DeadLetter is the shape published to the DLQ topic.
type DeadLetter struct {
	Job      json.RawMessage `json:"job"`
	Error    string          `json:"error"`
	Attempts int             `json:"attempts"`
	FailedAt int64           `json:"failedAt"`
}

func (w *Worker) deadLetter(ctx context.Context, key string, raw []byte, cause error, attempts int) {
	_, span := w.tracer.Start(ctx, "publish-dlq")
	defer span.End()
	if !json.Valid(raw) {
		raw, _ = json.Marshal(string(raw))
	}
	dl := DeadLetter{Job: raw, Error: cause.Error(), Attempts: attempts, FailedAt: time.Now().UnixMilli()}
	if err := kafka.PublishJSON(ctx, w.deps.Events, w.cfg.DLQTopic, key, dl); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.log.Error("publish dead letter", zap.Error(err))
		return
	}
	metrics.NotificationDLQTotal.WithLabelValues(retryReason(cause)).Inc()
}

func permanent(err error) bool {
	return errors.Is(err, types.ErrInvalidJob) ||
		errors.Is(err, types.ErrTemplateNotImplemented) ||
		errors.Is(err, ErrUnknownProject)
}

func retryReason(err error) string {
	switch {
	case errors.Is(err, types.ErrTemplateNotImplemented):
		return "not_implemented"
	case errors.Is(err, types.ErrInvalidJob):
		return "invalid"
	case errors.Is(err, ErrUnknownProject):
		return "unknown_project"
	case errors.Is(err, ErrAllSendsFailed):
		return "all_sends_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "store_error"
}
