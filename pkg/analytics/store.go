package analytics

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jsndz/signalpush/metrics"
	"github.com/jsndz/signalpush/pkg/types"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNoSuchKey is returned by Rotate when the live key vanished before the rename.
	ErrNoSuchKey = errors.New("counter store: no such key")
	// ErrFlushLockLost is returned by FlushLock.Extend once another holder owns the lock.
	ErrFlushLockLost = errors.New("flush lock lost")
)

const rotateAttempts = 3

// releaseLock deletes the lock only while it still holds our token.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// rotateKey renames KEYS[1] to KEYS[2] unless KEYS[2] exists, and only then
// sets its TTL. Returns -1 when KEYS[1] is missing, 0 on a name clash.
var rotateKey = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
if redis.call("RENAMENX", KEYS[1], KEYS[2]) == 0 then
	return 0
end
redis.call("PEXPIRE", KEYS[2], ARGV[1])
return 1
`)

var extendLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Store is the fast counter store shared by the consumers and the flusher.
type Store struct {
	rdb      redis.UniversalClient
	tempTTL  time.Duration
	retryTTL time.Duration
	now      func() time.Time
}

func NewStore(rdb redis.UniversalClient, tempTTL, retryTTL time.Duration) *Store {
	return &Store{
		rdb:      rdb,
		tempTTL:  tempTTL,
		retryTTL: retryTTL,
		now:      time.Now,
	}
}

func failed(op string, err error) error {
	metrics.CounterStoreFailuresTotal.WithLabelValues(op).Inc()
	return fmt.Errorf("counter store %s: %w", op, err)
}

// IncrementDelta adds one to the event's field of the project's delta hash.
func (s *Store) IncrementDelta(ctx context.Context, projectID string, kind types.EventKind) error {
	if err := types.ValidateProjectID(projectID); err != nil {
		return err
	}
	if err := s.rdb.HIncrBy(ctx, Delta.LiveKey(projectID), string(kind), 1).Err(); err != nil {
		return failed("hincrby", err)
	}
	return nil
}

// AppendBuffer pushes a raw event payload onto the project's buffer list.
func (s *Store) AppendBuffer(ctx context.Context, projectID string, payload []byte) error {
	if err := types.ValidateProjectID(projectID); err != nil {
		return err
	}
	if err := s.rdb.RPush(ctx, Buffer.LiveKey(projectID), payload).Err(); err != nil {
		return failed("rpush", err)
	}
	return nil
}

func (s *Store) scan(ctx context.Context, pattern string, count int64, keep func(string) bool) ([]string, error) {
	var keys []string
	seen := make(map[string]struct{})
	iter := s.rdb.Scan(ctx, 0, pattern, count).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if _, dup := seen[k]; dup || !keep(k) {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, failed("scan", err)
	}
	return keys, nil
}

// LiveKeys lists the live accumulation keys of kind. Rotated keys never appear.
func (s *Store) LiveKeys(ctx context.Context, k Kind, count int64) ([]string, error) {
	return s.scan(ctx, k.pattern(), count, func(key string) bool { return !IsTempKey(key) })
}

// TempKeys lists the rotated keys of kind that still exist.
func (s *Store) TempKeys(ctx context.Context, k Kind, count int64) ([]string, error) {
	return s.scan(ctx, k.tempPattern(), count, IsTempKey)
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, failed("exists", err)
	}
	return n > 0, nil
}

// Rotate atomically renames key to a fresh temp key and gives the temp key
// its TTL. Writers arriving after the rename recreate key from zero.
func (s *Store) Rotate(ctx context.Context, key string) (string, error) {
	at := s.now()
	for i := 0; i < rotateAttempts; i++ {
		tmp := TempKey(key, at)
		res, err := rotateKey.Run(ctx, s.rdb, []string{key, tmp}, s.tempTTL.Milliseconds()).Int64()
		if err != nil {
			return "", failed("rename", err)
		}
		switch res {
		case -1:
			return "", ErrNoSuchKey
		case 1:
			return tmp, nil
		}
		// Same millisecond as an earlier rotation of this key.
		at = at.Add(time.Millisecond)
	}
	return "", failed("rename", fmt.Errorf("no free temp name for %s", key))
}

// ReadDelta returns the per event counts held in a rotated delta hash.
func (s *Store) ReadDelta(ctx context.Context, key string) (map[types.EventKind]int64, error) {
	raw, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, failed("hgetall", err)
	}
	counts := make(map[types.EventKind]int64, len(raw))
	for field, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("counter store: field %s of %s: %w", field, key, err)
		}
		counts[types.EventKind(field)] = n
	}
	return counts, nil
}

// ReadBuffer returns every payload of a rotated buffer list in append order.
func (s *Store) ReadBuffer(ctx context.Context, key string) ([]string, error) {
	vals, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, failed("lrange", err)
	}
	return vals, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return failed("del", err)
	}
	return nil
}

// PushRetry records tmp on the kind's retry list and refreshes the list TTL.
func (s *Store) PushRetry(ctx context.Context, k Kind, tmp string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, k.RetryKey, tmp)
		pipe.Expire(ctx, k.RetryKey, s.retryTTL)
		return nil
	})
	if err != nil {
		return failed("retry push", err)
	}
	return nil
}

// PopRetry takes ownership of the oldest retry entry. ok is false when the
// list is empty or has expired.
func (s *Store) PopRetry(ctx context.Context, k Kind) (string, bool, error) {
	tmp, err := s.rdb.LPop(ctx, k.RetryKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, failed("retry pop", err)
	}
	return tmp, true, nil
}

func (s *Store) RetryLen(ctx context.Context, k Kind) (int64, error) {
	n, err := s.rdb.LLen(ctx, k.RetryKey).Result()
	if err != nil {
		return 0, failed("retry len", err)
	}
	return n, nil
}

// RetryStatus describes one retry list for operators.
type RetryStatus struct {
	Kind    string        `json:"kind"`
	Length  int64         `json:"length"`
	TTL     time.Duration `json:"ttl"`
	Entries []string      `json:"entries"`
}

// InspectRetry reports up to limit entries of the kind's retry list.
func (s *Store) InspectRetry(ctx context.Context, k Kind, limit int64) (RetryStatus, error) {
	st := RetryStatus{Kind: k.Name, Entries: []string{}}
	n, err := s.RetryLen(ctx, k)
	if err != nil {
		return st, err
	}
	st.Length = n
	if n == 0 {
		return st, nil
	}
	if ttl, err := s.rdb.TTL(ctx, k.RetryKey).Result(); err == nil && ttl > 0 {
		st.TTL = ttl
	}
	if limit <= 0 {
		limit = n
	}
	entries, err := s.rdb.LRange(ctx, k.RetryKey, 0, limit-1).Result()
	if err != nil {
		return st, failed("retry range", err)
	}
	st.Entries = entries
	return st, nil
}

// FlushLock is a held cross process flush lock.
type FlushLock struct {
	rdb   redis.UniversalClient
	token string
	ttl   time.Duration
}

// AcquireFlushLock takes the cross process flush lock. lock is nil when
// another flusher holds it.
func (s *Store) AcquireFlushLock(ctx context.Context, ttl time.Duration) (*FlushLock, error) {
	token := uuid.NewString()
	ok, err := s.rdb.SetNX(ctx, flushLockKey, token, ttl).Result()
	if err != nil {
		return nil, failed("lock", err)
	}
	if !ok {
		return nil, nil
	}
	return &FlushLock{rdb: s.rdb, token: token, ttl: ttl}, nil
}

// Extend pushes the expiry a full TTL out, or returns ErrFlushLockLost when
// the lock expired and may have been taken by someone else.
func (l *FlushLock) Extend(ctx context.Context) error {
	n, err := extendLock.Run(ctx, l.rdb, []string{flushLockKey}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return failed("lock extend", err)
	}
	if n == 0 {
		return ErrFlushLockLost
	}
	return nil
}

// Release drops the lock if it is still ours. Safe to call after expiry.
func (l *FlushLock) Release(ctx context.Context) error {
	return releaseLock.Run(ctx, l.rdb, []string{flushLockKey}, l.token).Err()
}
