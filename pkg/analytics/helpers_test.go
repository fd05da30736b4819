package analytics

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jsndz/signalpush/pkg/database/sqlitetest"
	"github.com/jsndz/signalpush/pkg/models"
	"github.com/jsndz/signalpush/pkg/repositories"
	"github.com/jsndz/signalpush/pkg/types"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	testTempTTL  = 15 * time.Minute
	testRetryTTL = 30 * time.Minute
)

var errUnavailable = errors.New("postgres unavailable")

type harness struct {
	mr    *miniredis.Miniredis
	rdb   *redis.Client
	store *Store
	db    *gorm.DB
	aggs  *repositories.AggregateRepository
	logs  *repositories.NotificationLogRepository
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	db := sqlitetest.Open(t)
	return &harness{
		mr:    mr,
		rdb:   rdb,
		store: NewStore(rdb, testTempTTL, testRetryTTL),
		db:    db,
		aggs:  repositories.NewAggregateRepository(db),
		logs:  repositories.NewNotificationLogRepository(db),
	}
}

func (h *harness) flusher(aggs AggregateWriter, logs LogWriter) *Flusher {
	if aggs == nil {
		aggs = h.aggs
	}
	if logs == nil {
		logs = h.logs
	}
	return NewFlusher(FlusherDeps{
		Store:      h.store,
		Aggregates: aggs,
		Logs:       logs,
		Batches:    repositories.NewFlushBatchRepository(h.db),
	}, FlusherConfig{
		Interval:     time.Hour,
		StoreTimeout: time.Second,
		LockTTL:      time.Minute,
		TempKeyTTL:   testTempTTL,
	})
}

// emit runs n events through both sinks, the way the two consumer groups would.
func (h *harness) emit(t *testing.T, projectID string, kind types.EventKind, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		e := types.NewLifecycleEvent(projectID, kind, types.NewNotificationID(), map[string]interface{}{"seq": i})
		raw, err := e.Marshal()
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if err := (DeltaSink{Store: h.store}).Accumulate(ctx, e, raw); err != nil {
			t.Fatalf("delta sink: %v", err)
		}
		if err := (BufferSink{Store: h.store}).Accumulate(ctx, e, raw); err != nil {
			t.Fatalf("buffer sink: %v", err)
		}
	}
}

func (h *harness) aggregate(t *testing.T, projectID string) models.NotificationAggregate {
	t.Helper()
	agg, err := h.aggs.GetByProject(context.Background(), projectID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NotificationAggregate{ProjectID: projectID}
	}
	if err != nil {
		t.Fatalf("get aggregate: %v", err)
	}
	return *agg
}

func (h *harness) logCount(t *testing.T, projectID string) int64 {
	t.Helper()
	n, err := h.logs.CountByProject(context.Background(), projectID)
	if err != nil {
		t.Fatalf("count logs: %v", err)
	}
	return n
}

// flakyAggregates fails the first `failures` calls before delegating.
type flakyAggregates struct {
	next     AggregateWriter
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyAggregates) ApplyDelta(ctx context.Context, key string, d models.NotificationAggregate) error {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return errUnavailable
	}
	return f.next.ApplyDelta(ctx, key, d)
}

type flakyLogs struct {
	next     LogWriter
	mu       sync.Mutex
	failures int
}

func (f *flakyLogs) InsertBatch(ctx context.Context, key, projectID string, logs []models.NotificationLog) error {
	f.mu.Lock()
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return errUnavailable
	}
	return f.next.InsertBatch(ctx, key, projectID, logs)
}

func sorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
