package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jsndz/signalpush/pkg/database/sqlitetest"
	"github.com/jsndz/signalpush/pkg/models"
	"github.com/jsndz/signalpush/pkg/types"
)

func logsFor(projectID string, kinds ...types.EventKind) []models.NotificationLog {
	var out []models.NotificationLog
	for i, k := range kinds {
		e := types.NewLifecycleEvent(projectID, k, "n-1", map[string]interface{}{"i": i})
		out = append(out, models.NewNotificationLog(e))
	}
	return out
}

func TestInsertBatchPersistsAllRows(t *testing.T) {
	ctx := context.Background()
	repo := NewNotificationLogRepository(sqlitetest.Open(t))

	err := repo.InsertBatch(ctx, "analytics:buffer:P1:tmp:1", "P1", logsFor("P1", types.EventSent, types.EventClicked, types.EventClosed))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	logs, err := repo.ListByNotification(ctx, "n-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(logs))
	}
	if logs[0].ProjectID != "P1" || logs[0].Metadata == nil {
		t.Errorf("unexpected row %+v", logs[0])
	}
}

func TestInsertBatchReplayAddsNoDuplicates(t *testing.T) {
	ctx := context.Background()
	repo := NewNotificationLogRepository(sqlitetest.Open(t))
	key := "analytics:buffer:P1:tmp:2"

	if err := repo.InsertBatch(ctx, key, "P1", logsFor("P1", types.EventSent, types.EventSent)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := repo.InsertBatch(ctx, key, "P1", logsFor("P1", types.EventSent, types.EventSent)); !errors.Is(err, ErrAlreadyCommitted) {
		t.Fatalf("expected ErrAlreadyCommitted, got %v", err)
	}
	n, err := repo.CountByProject(ctx, "P1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 audit rows, got %d", n)
	}
}

func TestPruneFlushBatches(t *testing.T) {
	ctx := context.Background()
	db := sqlitetest.Open(t)
	logs := NewNotificationLogRepository(db)
	batches := NewFlushBatchRepository(db)

	if err := logs.InsertBatch(ctx, "old", "P1", nil); err != nil {
		t.Fatalf("insert: %v", err)
	}
	n, err := batches.Prune(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("expected one marker pruned, got %d", n)
	}
	if ok, _ := batches.Exists(ctx, "old"); ok {
		t.Error("expected marker to be gone")
	}
}
