package kafka

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jsndz/signalpush/metrics"
	"github.com/jsndz/signalpush/pkg/utils"
	"github.com/segmentio/kafka-go"
)

// Publisher is the write side of the log used by the API and workers.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Producer struct {
	writer *kafka.Writer
}

// NewProducer writes with a key hash balancer so every event of a project
// lands on the same partition.
func NewProducer(brokers []string) *Producer {
	return &Producer{
		&kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	err := p.writer.WriteMessages(ctx,
		kafka.Message{
			Topic:   topic,
			Key:     key,
			Value:   value,
			Headers: InjectHeaders(ctx),
		},
	)
	if err != nil {
		metrics.KafkaPublishFailureTotal.WithLabelValues(topic).Inc()
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	metrics.KafkaPublishSuccessTotal.WithLabelValues(topic).Inc()
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// PublishJSON marshals v and publishes it under key.
func PublishJSON(ctx context.Context, p Publisher, topic, key string, v interface{}) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", topic, err)
	}
	return p.Publish(ctx, topic, []byte(key), value)
}

func NewProducerAvien() (*Producer, error) {
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

	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      []string{kafkaURL},
		Dialer:       dialer,
		Balancer:     &kafka.Hash{},
		RequiredAcks: int(kafka.RequireAll),
	})
	return &Producer{
		writer: writer,
	}, nil
}

// NewProducerFromEnv picks the managed cluster when STATE=prod and the
// configured brokers otherwise.
func NewProducerFromEnv(brokers []string) (*Producer, error) {
	switch utils.GetEnv("STATE") {
	case "prod":
		return NewProducerAvien()
	default:
		return NewProducer(brokers), nil
	}
}
