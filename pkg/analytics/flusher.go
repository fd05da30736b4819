package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jsndz/signalpush/metrics"
	"github.com/jsndz/signalpush/pkg/models"
	"github.com/jsndz/signalpush/pkg/repositories"
	"github.com/jsndz/signalpush/pkg/types"
	"go.uber.org/zap"
)

var (
	// ErrFlushInProgress is returned when a cycle is already running in this process.
	ErrFlushInProgress = errors.New("flush already in progress")
	// ErrFlushLocked is returned when another process holds the flush lock.
	ErrFlushLocked = errors.New("flush lock held by another instance")
)

type AggregateWriter interface {
	ApplyDelta(ctx context.Context, batchKey string, delta models.NotificationAggregate) error
}

type LogWriter interface {
	InsertBatch(ctx context.Context, batchKey, projectID string, logs []models.NotificationLog) error
}

type BatchPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

type FlusherConfig struct {
	Interval     time.Duration
	StoreTimeout time.Duration
	LockTTL      time.Duration
	TempKeyTTL   time.Duration
	ScanCount    int64
}

type FlusherDeps struct {
	Store      *Store
	Aggregates AggregateWriter
	Logs       LogWriter
	// Batches is optional. Without it commit markers are never pruned.
	Batches BatchPruner
	Logger  *zap.Logger
}

// KindReport counts what one cycle did for a single kind.
type KindReport struct {
	Rotated   int   `json:"rotated"`
	Committed int   `json:"committed"`
	Requeued  int   `json:"requeued"`
	Retried   int   `json:"retried"`
	Lost      int   `json:"lost"`
	Skipped   int   `json:"skipped"`
	Recovered int   `json:"recovered"`
	Events    int64 `json:"events"`
}

type CycleReport struct {
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Delta     KindReport    `json:"delta"`
	Buffer    KindReport    `json:"buffer"`
	Pruned    int64         `json:"pruned"`
}

func (r *CycleReport) kind(k Kind) *KindReport {
	if k.Name == Buffer.Name {
		return &r.Buffer
	}
	return &r.Delta
}

func (r *CycleReport) Requeued() int {
	return r.Delta.Requeued + r.Buffer.Requeued
}

// Flusher periodically moves accumulated counters and buffers into Postgres.
type Flusher struct {
	deps FlusherDeps
	cfg  FlusherConfig
	log  *zap.Logger
	mu   sync.Mutex

	// Set for the duration of a cycle, guarded by mu.
	lock    *FlushLock
	lockErr error
}

func NewFlusher(deps FlusherDeps, cfg FlusherConfig) *Flusher {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = 100
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Flusher{deps: deps, cfg: cfg, log: log.Named("flusher")}
}

// Run flushes on every tick until ctx is cancelled. Ticks that arrive while a
// cycle is still running are dropped.
func (f *Flusher) Run(ctx context.Context) {
	f.log.Info("flusher started", zap.Duration("interval", f.cfg.Interval))
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			f.log.Info("flusher stopped")
			return
		case <-ticker.C:
			if _, err := f.Flush(ctx); err != nil && ctx.Err() == nil {
				f.log.Warn("flush cycle did not run", zap.Error(err))
			}
		}
	}
}

// Flush runs one cycle: recover orphaned temp keys, drain the retry lists,
// then rotate and commit every live key. Per key failures are requeued and do
// not fail the cycle.
func (f *Flusher) Flush(ctx context.Context) (*CycleReport, error) {
	if !f.mu.TryLock() {
		metrics.FlushCyclesTotal.WithLabelValues("skipped").Inc()
		return nil, ErrFlushInProgress
	}
	defer f.mu.Unlock()

	lock, err := f.deps.Store.AcquireFlushLock(ctx, f.cfg.LockTTL)
	if err != nil {
		metrics.FlushCyclesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if lock == nil {
		metrics.FlushCyclesTotal.WithLabelValues("locked").Inc()
		return nil, ErrFlushLocked
	}
	f.lock, f.lockErr = lock, nil
	defer func() {
		f.lock = nil
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.cfg.StoreTimeout)
		defer cancel()
		if err := lock.Release(rctx); err != nil {
			f.log.Warn("release flush lock", zap.Error(err))
		}
	}()

	rep := &CycleReport{StartedAt: time.Now()}
	for _, k := range Kinds {
		f.recoverOrphans(ctx, k, rep.kind(k))
	}
	for _, k := range Kinds {
		f.drainRetries(ctx, k, rep.kind(k))
	}
	for _, k := range Kinds {
		f.flushLive(ctx, k, rep.kind(k))
	}
	if f.lockErr == nil {
		f.prune(ctx, rep)
	}
	f.reportRetryLength(ctx)

	rep.Duration = time.Since(rep.StartedAt)
	metrics.FlushDuration.Observe(rep.Duration.Seconds())
	result := "ok"
	switch {
	case f.lockErr != nil:
		result = "lock_lost"
	case rep.Requeued() > 0:
		result = "partial"
	}
	metrics.FlushCyclesTotal.WithLabelValues(result).Inc()
	f.log.Debug("flush cycle finished",
		zap.Duration("duration", rep.Duration),
		zap.Any("delta", rep.Delta),
		zap.Any("buffer", rep.Buffer),
	)
	if f.lockErr != nil {
		return rep, f.lockErr
	}
	return rep, ctx.Err()
}

// holdLock extends the flush lock before the next key is touched. Once the
// lock is lost the rest of the cycle is abandoned: another flusher may now be
// working on the same temp keys.
func (f *Flusher) holdLock(ctx context.Context) bool {
	if f.lockErr != nil || ctx.Err() != nil {
		return false
	}
	if err := f.lock.Extend(ctx); err != nil {
		f.lockErr = err
		f.log.Error("flush lock not held, abandoning cycle", zap.Error(err))
		return false
	}
	return true
}

// recoverOrphans re-queues temp keys left behind by a cycle that died between
// rotation and requeue. It runs under the flush lock, so every temp key not on
// the retry list belongs to no one.
func (f *Flusher) recoverOrphans(ctx context.Context, k Kind, rep *KindReport) {
	if !f.holdLock(ctx) {
		return
	}
	temps, err := f.deps.Store.TempKeys(ctx, k, f.cfg.ScanCount)
	if err != nil || len(temps) == 0 {
		if err != nil {
			f.log.Error("scan temp keys", zap.String("kind", k.Name), zap.Error(err))
		}
		return
	}
	queued, err := f.deps.Store.InspectRetry(ctx, k, 0)
	if err != nil {
		f.log.Error("read retry list", zap.String("kind", k.Name), zap.Error(err))
		return
	}
	onList := make(map[string]struct{}, len(queued.Entries))
	for _, e := range queued.Entries {
		onList[e] = struct{}{}
	}
	for _, tmp := range temps {
		if _, ok := onList[tmp]; ok {
			continue
		}
		if _, ok := k.ProjectID(tmp); !ok {
			f.log.Warn("ignoring temp key without a valid project", zap.String("key", tmp))
			continue
		}
		if err := f.deps.Store.PushRetry(ctx, k, tmp); err != nil {
			f.log.Error("requeue orphaned temp key", zap.String("key", tmp), zap.Error(err))
			continue
		}
		rep.Recovered++
		f.log.Warn("recovered orphaned temp key", zap.String("key", tmp))
	}
}

// drainRetries works through the entries present when the cycle started.
// Entries that fail again go to the back of the list for the next cycle.
func (f *Flusher) drainRetries(ctx context.Context, k Kind, rep *KindReport) {
	n, err := f.deps.Store.RetryLen(ctx, k)
	if err != nil {
		f.log.Error("retry list length", zap.String("kind", k.Name), zap.Error(err))
		return
	}
	for i := int64(0); i < n && f.holdLock(ctx); i++ {
		tmp, ok, err := f.deps.Store.PopRetry(ctx, k)
		if err != nil {
			f.log.Error("pop retry entry", zap.String("kind", k.Name), zap.Error(err))
			return
		}
		if !ok {
			return
		}
		rep.Retried++

		exists, err := f.deps.Store.Exists(ctx, tmp)
		if err != nil {
			f.requeue(ctx, k, tmp, err, rep)
			continue
		}
		if !exists {
			rep.Lost++
			metrics.RetryLostTotal.WithLabelValues(k.Name).Inc()
			metrics.FlushKeysTotal.WithLabelValues(k.Name, "lost").Inc()
			f.log.Error("rotated key expired before commit, data permanently lost",
				zap.String("kind", k.Name),
				zap.String("key", tmp),
			)
			continue
		}
		f.commitAndDelete(ctx, k, tmp, rep)
	}
}

func (f *Flusher) flushLive(ctx context.Context, k Kind, rep *KindReport) {
	keys, err := f.deps.Store.LiveKeys(ctx, k, f.cfg.ScanCount)
	if err != nil {
		f.log.Error("scan live keys", zap.String("kind", k.Name), zap.Error(err))
		return
	}
	for _, key := range keys {
		if !f.holdLock(ctx) {
			return
		}
		if _, ok := k.ProjectID(key); !ok {
			rep.Skipped++
			f.log.Warn("ignoring live key without a valid project", zap.String("key", key))
			continue
		}
		exists, err := f.deps.Store.Exists(ctx, key)
		if err != nil {
			f.log.Warn("check live key", zap.String("key", key), zap.Error(err))
			continue
		}
		if !exists {
			rep.Skipped++
			continue
		}
		tmp, err := f.deps.Store.Rotate(ctx, key)
		if errors.Is(err, ErrNoSuchKey) {
			rep.Skipped++
			continue
		}
		if err != nil {
			// Nothing moved; the live key is picked up next cycle.
			f.log.Warn("rotate failed", zap.String("key", key), zap.Error(err))
			continue
		}
		rep.Rotated++
		f.commitAndDelete(ctx, k, tmp, rep)
	}
}

func (f *Flusher) commitAndDelete(ctx context.Context, k Kind, tmp string, rep *KindReport) {
	events, err := f.commit(ctx, k, tmp)
	if err != nil {
		f.requeue(ctx, k, tmp, err, rep)
		return
	}
	rep.Committed++
	rep.Events += events
	metrics.FlushKeysTotal.WithLabelValues(k.Name, "committed").Inc()
	if err := f.deps.Store.Delete(ctx, tmp); err != nil {
		// The commit marker makes a later recovery of this key a no-op.
		f.log.Warn("delete committed temp key", zap.String("key", tmp), zap.Error(err))
	}
}

func (f *Flusher) requeue(ctx context.Context, k Kind, tmp string, cause error, rep *KindReport) {
	rep.Requeued++
	metrics.FlushKeysTotal.WithLabelValues(k.Name, "requeued").Inc()
	f.log.Warn("commit failed, queued for retry",
		zap.String("kind", k.Name),
		zap.String("key", tmp),
		zap.Error(cause),
	)
	if err := f.deps.Store.PushRetry(ctx, k, tmp); err != nil {
		f.log.Error("push retry entry, temp key left for orphan recovery",
			zap.String("key", tmp),
			zap.Error(err),
		)
	}
}

// commit writes one temp key to the durable store under StoreTimeout and
// returns how many events it carried. A key whose marker already exists
// counts as committed.
func (f *Flusher) commit(ctx context.Context, k Kind, tmp string) (int64, error) {
	projectID, ok := k.ProjectID(tmp)
	if !ok {
		return 0, fmt.Errorf("key %s has no project", tmp)
	}
	ctx, cancel := context.WithTimeout(ctx, f.cfg.StoreTimeout)
	defer cancel()

	var (
		events int64
		err    error
	)
	switch k.Name {
	case Delta.Name:
		events, err = f.commitDelta(ctx, projectID, tmp)
	case Buffer.Name:
		events, err = f.commitBuffer(ctx, projectID, tmp)
	default:
		return 0, fmt.Errorf("unknown kind %s", k.Name)
	}
	if errors.Is(err, repositories.ErrAlreadyCommitted) {
		f.log.Info("temp key already committed", zap.String("key", tmp))
		return 0, nil
	}
	return events, err
}

func (f *Flusher) commitDelta(ctx context.Context, projectID, tmp string) (int64, error) {
	counts, err := f.deps.Store.ReadDelta(ctx, tmp)
	if err != nil {
		return 0, err
	}
	delta := models.NotificationAggregate{ProjectID: projectID}
	var events int64
	for kind, n := range counts {
		if !kind.Valid() {
			f.log.Warn("ignoring unknown delta field", zap.String("key", tmp), zap.String("field", string(kind)))
			continue
		}
		delta.Add(kind, n)
		events += n
	}
	if err := f.deps.Aggregates.ApplyDelta(ctx, tmp, delta); err != nil {
		return 0, err
	}
	return events, nil
}

func (f *Flusher) commitBuffer(ctx context.Context, projectID, tmp string) (int64, error) {
	payloads, err := f.deps.Store.ReadBuffer(ctx, tmp)
	if err != nil {
		return 0, err
	}
	logs := make([]models.NotificationLog, 0, len(payloads))
	for _, p := range payloads {
		var e types.LifecycleEvent
		if err := json.Unmarshal([]byte(p), &e); err != nil {
			f.log.Warn("dropping malformed buffered event", zap.String("key", tmp), zap.Error(err))
			continue
		}
		if e.ProjectID == "" {
			e.ProjectID = projectID
		}
		logs = append(logs, models.NewNotificationLog(e))
	}
	if err := f.deps.Logs.InsertBatch(ctx, tmp, projectID, logs); err != nil {
		return 0, err
	}
	return int64(len(logs)), nil
}

func (f *Flusher) prune(ctx context.Context, rep *CycleReport) {
	if f.deps.Batches == nil || f.cfg.TempKeyTTL <= 0 {
		return
	}
	// A marker is only consulted while its temp key can still exist.
	cutoff := time.Now().Add(-4 * f.cfg.TempKeyTTL)
	n, err := f.deps.Batches.Prune(ctx, cutoff)
	if err != nil {
		f.log.Warn("prune commit markers", zap.Error(err))
		return
	}
	rep.Pruned = n
}

func (f *Flusher) reportRetryLength(ctx context.Context) {
	for _, k := range Kinds {
		if n, err := f.deps.Store.RetryLen(ctx, k); err == nil {
			metrics.RetryQueueLength.WithLabelValues(k.Name).Set(float64(n))
		}
	}
}

// RetryStatus reports both retry lists for operators.
func (f *Flusher) RetryStatus(ctx context.Context, limit int64) ([]RetryStatus, error) {
	out := make([]RetryStatus, 0, len(Kinds))
	for _, k := range Kinds {
		st, err := f.deps.Store.InspectRetry(ctx, k, limit)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}
