package kafka

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/jsndz/signalpush/metrics"
	"github.com/jsndz/signalpush/pkg/utils"
	"github.com/segmentio/kafka-go"
)

// MessageReader is the read side of the log. Offsets only move forward when
// CommitMessages is called, so a message that was fetched but never committed
// is delivered again after a restart or rebalance.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader *kafka.Reader
}

func (c *Consumer) FetchMessage(ctx context.Context) (kafka.Message, error) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil && ctx.Err() == nil {
		metrics.KafkaSubscriberFailureTotal.WithLabelValues(c.reader.Config().Topic).Inc()
	}
	return m, err
}

func (c *Consumer) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	err := c.reader.CommitMessages(ctx, msgs...)
	if err != nil && ctx.Err() == nil {
		metrics.KafkaSubscriberFailureTotal.WithLabelValues(c.reader.Config().Topic).Inc()
	}
	return err
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// WatchLag reports the group lag every interval until ctx is done.
func (c *Consumer) WatchLag(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	cfg := c.reader.Config()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if lag, err := c.reader.ReadLag(ctx); err == nil {
				metrics.KafkaConsumerLag.WithLabelValues(cfg.GroupID, cfg.Topic).Set(float64(lag))
			}
		}
	}
}

func NewConsumer(topic string, brokers []string, groupID string) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			Topic:       topic,
			GroupID:     groupID,
			MaxBytes:    10e6, // 10MB
			StartOffset: kafka.FirstOffset,
		}),
	}
}

func NewConsumerAvien(topic, groupID string) (*Consumer, error) {
	kafkaURL := utils.GetEnv("AVIEN_KAFKA_URL")

	keypair, caCertPool, err := utils.Decode()
	if err != nil {
		return nil, err
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
		TLS: &tls.Config{
			Certificates: []tls.Certificate{keypair},
			RootCAs:      caCertPool,
		},
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{kafkaURL},
		Topic:       topic,
		GroupID:     groupID,
		Dialer:      dialer,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})

	return &Consumer{
		reader: reader,
	}, nil
}

func NewConsumerFromEnv(topic, groupID string, brokers []string) (*Consumer, error) {
	switch utils.GetEnv("STATE") {
	case "prod":
		return NewConsumerAvien(topic, groupID)
	default:
		return NewConsumer(topic, brokers, groupID), nil
	}
}
