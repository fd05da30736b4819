package repositories

import (
	"context"
	"errors"
	"testing"

	"github.com/jsndz/signalpush/pkg/database/sqlitetest"
	"github.com/jsndz/signalpush/pkg/models"
	"github.com/jsndz/signalpush/pkg/types"
	"gorm.io/gorm"
)

func TestApplyDeltaCreatesThenAdds(t *testing.T) {
	ctx := context.Background()
	repo := NewAggregateRepository(sqlitetest.Open(t))

	first := models.NotificationAggregate{ProjectID: "P1"}
	first.Add(types.EventSent, 3)
	first.Add(types.EventClicked, 1)
	if err := repo.ApplyDelta(ctx, "analytics:delta:P1:tmp:1", first); err != nil {
		t.Fatalf("first apply: %v", err)
	}

	second := models.NotificationAggregate{ProjectID: "P1"}
	second.Add(types.EventSent, 2)
	second.Add(types.EventFailed, 4)
	if err := repo.ApplyDelta(ctx, "analytics:delta:P1:tmp:2", second); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	got, err := repo.GetByProject(ctx, "P1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TotalSent != 5 || got.TotalClicked != 1 || got.TotalFailed != 4 || got.TotalRequest != 0 {
		t.Errorf("expected additive totals sent=5 clicked=1 failed=4, got %+v", got)
	}
}

func TestApplyDeltaIsSingleTouchPerKey(t *testing.T) {
	ctx := context.Background()
	db := sqlitetest.Open(t)
	repo := NewAggregateRepository(db)

	delta := models.NotificationAggregate{ProjectID: "P1"}
	delta.Add(types.EventSent, 7)
	if err := repo.ApplyDelta(ctx, "analytics:delta:P1:tmp:9", delta); err != nil {
		t.Fatalf("apply: %v", err)
	}
	err := repo.ApplyDelta(ctx, "analytics:delta:P1:tmp:9", delta)
	if !errors.Is(err, ErrAlreadyCommitted) {
		t.Fatalf("expected ErrAlreadyCommitted on replay, got %v", err)
	}

	got, err := repo.GetByProject(ctx, "P1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TotalSent != 7 {
		t.Errorf("replayed key must not double count, got total_sent=%d", got.TotalSent)
	}

	ok, err := NewFlushBatchRepository(db).Exists(ctx, "analytics:delta:P1:tmp:9")
	if err != nil || !ok {
		t.Errorf("expected commit marker to exist, ok=%v err=%v", ok, err)
	}
}

func TestApplyDeltaKeepsProjectsApart(t *testing.T) {
	ctx := context.Background()
	repo := NewAggregateRepository(sqlitetest.Open(t))

	for i, p := range []string{"P1", "P2", "P1"} {
		d := models.NotificationAggregate{ProjectID: p}
		d.Add(types.EventRequest, 1)
		if err := repo.ApplyDelta(ctx, p+":tmp:"+string(rune('a'+i)), d); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	aggs, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(aggs) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(aggs))
	}
	if aggs[0].TotalRequest != 2 || aggs[1].TotalRequest != 1 {
		t.Errorf("unexpected totals %+v", aggs)
	}
}

func TestGetByProjectMissing(t *testing.T) {
	repo := NewAggregateRepository(sqlitetest.Open(t))
	_, err := repo.GetByProject(context.Background(), "nope")
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}
