package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jsndz/signalpush/pkg/kafka/kafkatest"
	"github.com/jsndz/signalpush/pkg/types"
	"go.uber.org/zap"
)

const topic = "notification.webhooks"

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewBus(2, zap.NewNop())
	job := types.DispatchJob{ProjectID: "P1", Type: types.NotificationAdHoc}

	if !bus.Signal(types.EventSent, job, nil) || !bus.Signal(types.EventSent, job, nil) {
		t.Fatal("expected the first two signals to be queued")
	}
	done := make(chan bool, 1)
	go func() { done <- bus.Signal(types.EventFailed, job, nil) }()
	select {
	case ok := <-done:
		if ok {
			t.Error("expected the third signal to be dropped")
		}
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
	if bus.Len() != 2 {
		t.Errorf("expected 2 queued signals, got %d", bus.Len())
	}
}

func TestRelayForwardsAndDrains(t *testing.T) {
	bus := NewBus(8, zap.NewNop())
	pub := &kafkatest.Publisher{}
	job := types.DispatchJob{ProjectID: "P1", Type: types.NotificationRaw}
	bus.Signal(types.EventSent, job, map[string]interface{}{"notificationId": "N1"})
	bus.Signal(types.EventFailed, job, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Relay(ctx, pub, topic, time.Second)

	msgs := pub.Messages(topic)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 relayed signals, got %d", len(msgs))
	}
	var got types.WebhookSignal
	if err := json.Unmarshal(msgs[0].Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.WebhookType != DefaultWebhookType || got.Event != types.EventSent || got.ProjectID != "P1" ||
		got.NotificationType != types.NotificationRaw || got.Timestamp == 0 {
		t.Errorf("unexpected signal %+v", got)
	}
	if string(msgs[0].Key) != "P1" {
		t.Errorf("expected project key, got %q", msgs[0].Key)
	}
}

func TestRelayFailureDoesNotStop(t *testing.T) {
	bus := NewBus(8, zap.NewNop())
	pub := &kafkatest.Publisher{Err: errors.New("broker down")}
	bus.Signal(types.EventSent, types.DispatchJob{ProjectID: "P1"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		bus.Relay(ctx, pub, topic, time.Second)
		close(stopped)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for bus.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
	if bus.Len() != 0 {
		t.Error("failed signal should have been consumed from the queue")
	}
}
