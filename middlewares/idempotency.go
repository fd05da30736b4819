package middlewares

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const IdempotencyHeader = "Idempotency-Key"

// pendingResponse holds the key while the first request is still running.
// The reservation outlives a crashed handler by at most pendingTTL.
const (
	pendingResponse = "pending"
	pendingTTL      = time.Minute
)

type bodyWriter struct {
	gin.ResponseWriter
	body []byte
}

func (w *bodyWriter) Write(b []byte) (int, error) {
	w.body = append(w.body, b...)
	return w.ResponseWriter.Write(b)
}

type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

func idempotencyKey(c *gin.Context, key string) string {
	return fmt.Sprintf("idempotency:%s:%s", ProjectKey(c), key)
}

// Idempotency replays the stored response for a repeated Idempotency-Key
// within ttl, so a retried notify call does not enqueue the job twice. The key
// is reserved before the handler runs; a repeat that arrives while it is
// reserved gets 409. Only 2xx responses are kept.
func Idempotency(rdb redis.UniversalClient, ttl time.Duration, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyHeader)
		if key == "" {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		redisKey := idempotencyKey(c, key)

		hold := pendingTTL
		if ttl < hold {
			hold = ttl
		}
		reserved, err := rdb.SetNX(ctx, redisKey, pendingResponse, hold).Result()
		if err != nil {
			log.Warn("idempotency reserve failed", zap.String("key", redisKey), zap.Error(err))
			c.Next()
			return
		}
		if !reserved {
			replay(c, rdb, redisKey, log)
			return
		}

		bw := &bodyWriter{ResponseWriter: c.Writer}
		c.Writer = bw
		c.Next()

		status := c.Writer.Status()
		if status < 200 || status >= 300 || !json.Valid(bw.body) {
			if err := rdb.Del(ctx, redisKey).Err(); err != nil {
				log.Warn("idempotency release failed", zap.String("key", redisKey), zap.Error(err))
			}
			return
		}
		stored, _ := json.Marshal(storedResponse{Status: status, Body: bw.body})
		if err := rdb.Set(ctx, redisKey, stored, ttl).Err(); err != nil {
			log.Warn("idempotency store failed", zap.String("key", redisKey), zap.Error(err))
		}
	}
}

func replay(c *gin.Context, rdb redis.UniversalClient, redisKey string, log *zap.Logger) {
	raw, err := rdb.Get(c.Request.Context(), redisKey).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		log.Warn("idempotency lookup failed", zap.String("key", redisKey), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"message": "idempotency store unavailable", "success": false})
		return
	}
	var prev storedResponse
	if err != nil || string(raw) == pendingResponse || json.Unmarshal(raw, &prev) != nil {
		// Still running, or released a moment ago after a failure.
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"message": "a request with this Idempotency-Key is in progress", "success": false})
		return
	}
	c.Header("Idempotent-Replayed", "true")
	c.Data(prev.Status, "application/json; charset=utf-8", prev.Body)
	c.Abort()
}
