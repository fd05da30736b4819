package middlewares

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func do(r http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader("{}"))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiterIsPerProject(t *testing.T) {
	rl := NewRateLimiter(rate.Every(time.Hour), 2, nil)
	r := gin.New()
	r.POST("/api/events", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusAccepted) })

	p1 := map[string]string{ProjectHeader: "P1"}
	for i := 0; i < 2; i++ {
		if w := do(r, http.MethodPost, "/api/events", p1); w.Code != http.StatusAccepted {
			t.Fatalf("request %d: expected 202, got %d", i, w.Code)
		}
	}
	if w := do(r, http.MethodPost, "/api/events", p1); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once the burst is spent, got %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/api/events", map[string]string{ProjectHeader: "P2"}); w.Code != http.StatusAccepted {
		t.Errorf("another project must have its own bucket, got %d", w.Code)
	}
}

func TestRateLimiterSweep(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 1, func(c *gin.Context) string { return "k" })
	rl.getLimiter("a")
	rl.getLimiter("b")
	if n := rl.Sweep(-time.Second); n != 2 {
		t.Errorf("expected both idle limiters swept, got %d", n)
	}
}

func TestIdempotencyReplaysSuccess(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	calls := 0
	r := gin.New()
	r.POST("/api/notify", Idempotency(rdb, time.Hour, zap.NewNop()), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusAccepted, gin.H{"success": true, "call": calls})
	})

	h := map[string]string{IdempotencyHeader: "abc", ProjectHeader: "P1"}
	first := do(r, http.MethodPost, "/api/notify", h)
	second := do(r, http.MethodPost, "/api/notify", h)
	if calls != 1 {
		t.Fatalf("handler should run once, ran %d times", calls)
	}
	if second.Code != http.StatusAccepted || second.Body.String() != first.Body.String() {
		t.Errorf("expected replay of %d %s, got %d %s", first.Code, first.Body, second.Code, second.Body)
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Error("replayed response should be marked")
	}
	if mr.TTL("idempotency:project:P1:abc") != time.Hour {
		t.Error("stored response should expire after the configured ttl")
	}

	do(r, http.MethodPost, "/api/notify", map[string]string{IdempotencyHeader: "abc", ProjectHeader: "P2"})
	if calls != 2 {
		t.Error("keys must be scoped per project")
	}
}

func TestIdempotencyRunsConcurrentRepeatsOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	var calls atomic.Int32
	r := gin.New()
	r.POST("/api/notify", Idempotency(rdb, time.Hour, zap.NewNop()), func(c *gin.Context) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		c.JSON(http.StatusAccepted, gin.H{"success": true})
	})

	h := map[string]string{IdempotencyHeader: "abc", ProjectHeader: "P1"}
	codes := make(chan int, 5)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- do(r, http.MethodPost, "/api/notify", h).Code
		}()
	}
	wg.Wait()
	close(codes)

	if n := calls.Load(); n != 1 {
		t.Fatalf("handler ran %d times for one key", n)
	}
	accepted, conflicts := 0, 0
	for code := range codes {
		switch code {
		case http.StatusAccepted:
			accepted++
		case http.StatusConflict:
			conflicts++
		}
	}
	if accepted != 1 || conflicts != 4 {
		t.Errorf("expected one 202 and four 409, got %d and %d", accepted, conflicts)
	}
	if w := do(r, http.MethodPost, "/api/notify", h); w.Code != http.StatusAccepted || w.Header().Get("Idempotent-Replayed") != "true" {
		t.Errorf("a later repeat should replay, got %d", w.Code)
	}
}

func TestIdempotencySkipsFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	calls := 0
	r := gin.New()
	r.POST("/api/notify", Idempotency(rdb, time.Hour, zap.NewNop()), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusBadRequest, gin.H{"success": false})
	})
	h := map[string]string{IdempotencyHeader: "abc"}
	do(r, http.MethodPost, "/api/notify", h)
	do(r, http.MethodPost, "/api/notify", h)
	if calls != 2 {
		t.Errorf("failed responses must not be replayed, handler ran %d times", calls)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Error("a failed request must release its reservation")
	}
}

func TestGinMetricsMiddlewarePassesThrough(t *testing.T) {
	r := gin.New()
	r.Use(GinMetricsMiddleware())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	if w := do(r, http.MethodGet, "/health", nil); w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestMetricsMiddlewareRecordsStatus(t *testing.T) {
	h := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	if w := do(h, http.MethodGet, "/x", nil); w.Code != http.StatusTeapot {
		t.Errorf("expected 418, got %d", w.Code)
	}
}
