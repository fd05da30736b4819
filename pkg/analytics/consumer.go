package analytics

import (
	"context"
	"time"

	"github.com/jsndz/signalpush/metrics"
	"github.com/jsndz/signalpush/pkg/kafka"
	"github.com/jsndz/signalpush/pkg/types"
	"github.com/jsndz/signalpush/pkg/utils"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Sink accumulates one decoded event into the counter store.
type Sink interface {
	Accumulate(ctx context.Context, e types.LifecycleEvent, raw []byte) error
}

// DeltaSink bumps the per project delta hash.
type DeltaSink struct {
	Store *Store
}

func (s DeltaSink) Accumulate(ctx context.Context, e types.LifecycleEvent, _ []byte) error {
	return s.Store.IncrementDelta(ctx, e.ProjectID, e.Event)
}

// BufferSink appends the raw payload to the per project buffer list.
type BufferSink struct {
	Store *Store
}

func (s BufferSink) Accumulate(ctx context.Context, e types.LifecycleEvent, raw []byte) error {
	return s.Store.AppendBuffer(ctx, e.ProjectID, raw)
}

// Consumer feeds one consumer group's messages into a Sink. The offset of a
// message is committed only after the sink accepted it.
type Consumer struct {
	group       string
	reader      kafka.MessageReader
	sink        Sink
	log         *zap.Logger
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

func NewConsumer(group string, reader kafka.MessageReader, sink Sink, log *zap.Logger) *Consumer {
	return &Consumer{
		group:       group,
		reader:      reader,
		sink:        sink,
		log:         log.With(zap.String("group", group)),
		baseBackoff: 200 * time.Millisecond,
		maxBackoff:  10 * time.Second,
	}
}

// WithBackoff overrides the delay bounds used while the store is failing.
func (c *Consumer) WithBackoff(base, max time.Duration) *Consumer {
	c.baseBackoff = base
	c.maxBackoff = max
	return c
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("event consumer started")
	defer c.log.Info("event consumer stopped")
	fetchFailures := 0
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fetchFailures++
			c.log.Error("fetch failed", zap.Error(err))
			if err := utils.Sleep(ctx, utils.Backoff(fetchFailures, c.baseBackoff, c.maxBackoff)); err != nil {
				return nil
			}
			continue
		}
		fetchFailures = 0
		if err := c.HandleMessage(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("message not committed", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

// HandleMessage accumulates m and commits it. Undecodable payloads are logged
// and committed so they cannot wedge the partition. A failing store is retried
// with backoff until it recovers or ctx ends; in the latter case the message
// stays uncommitted and is redelivered.
func (c *Consumer) HandleMessage(ctx context.Context, m kafkago.Message) error {
	e, err := types.DecodeLifecycleEvent(m.Value)
	if err != nil {
		metrics.EventsRejectedTotal.WithLabelValues(c.group).Inc()
		c.log.Warn("skipping undecodable event",
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Error(err),
		)
		return c.reader.CommitMessages(ctx, m)
	}

	for attempt := 1; ; attempt++ {
		err := c.sink.Accumulate(ctx, e, m.Value)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("accumulate failed, retrying",
			zap.String("projectId", e.ProjectID),
			zap.String("event", string(e.Event)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if err := utils.Sleep(ctx, utils.Backoff(attempt, c.baseBackoff, c.maxBackoff)); err != nil {
			return err
		}
	}

	metrics.EventsConsumedTotal.WithLabelValues(c.group, string(e.Event)).Inc()
	return c.reader.CommitMessages(ctx, m)
}
