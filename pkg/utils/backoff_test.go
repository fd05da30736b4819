package utils

import (
	"context"
	"testing"
	"time"
)

func TestBackoffStaysWithinCap(t *testing.T) {
	for attempt := 0; attempt < 80; attempt++ {
		d := Backoff(attempt, 100*time.Millisecond, 2*time.Second)
		if d < 0 || d > 2*time.Second {
			t.Fatalf("attempt %d: delay %s out of range", attempt, d)
		}
	}
}

func TestBackoffFirstAttemptBoundedByBase(t *testing.T) {
	for i := 0; i < 50; i++ {
		if d := Backoff(1, 10*time.Millisecond, time.Second); d > 10*time.Millisecond {
			t.Fatalf("expected first attempt <= base, got %s", d)
		}
	}
}

func TestSleepHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Sleep(ctx, time.Minute); err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > time.Second {
		t.Fatal("Sleep did not return promptly on cancel")
	}
}
