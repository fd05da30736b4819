// Package kafkatest provides in-memory stand-ins for the log reader and
// publisher so consumers and workers can be tested without a broker.
package kafkatest

import (
	"context"
	"sync"

	"github.com/segmentio/kafka-go"
)

// Reader serves queued messages in order and records commits.
type Reader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
	ready     chan struct{}
	offset    int64
	closed    bool
}

func NewReader(values ...[]byte) *Reader {
	r := &Reader{ready: make(chan struct{}, 1)}
	for _, v := range values {
		r.Add(nil, v)
	}
	return r
}

// Add queues a message with the next offset.
func (r *Reader) Add(key, value []byte) {
	r.mu.Lock()
	r.queue = append(r.queue, kafka.Message{Key: key, Value: value, Offset: r.offset})
	r.offset++
	r.mu.Unlock()
	select {
	case r.ready <- struct{}{}:
	default:
	}
}

func (r *Reader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			m := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()
			return m, nil
		}
		r.mu.Unlock()
		select {
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		case <-r.ready:
		}
	}
}

func (r *Reader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *Reader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *Reader) Committed() []kafka.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]kafka.Message(nil), r.committed...)
}

func (r *Reader) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func (r *Reader) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Publisher records every published message. Err, when set, fails publishes.
type Publisher struct {
	mu       sync.Mutex
	messages []kafka.Message
	Err      error
}

func (p *Publisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.messages = append(p.messages, kafka.Message{Topic: topic, Key: key, Value: value})
	return nil
}

// Messages returns what was published to topic.
func (p *Publisher) Messages(topic string) []kafka.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []kafka.Message
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
