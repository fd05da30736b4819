package middlewares

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jsndz/signalpush/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func observe(endpoint, method string, status int, start time.Time) {
	code := strconv.Itoa(status)
	metrics.HttpRequestsTotal.WithLabelValues(endpoint, code, method).Inc()
	metrics.HttpRequestDuration.WithLabelValues(endpoint, method).Observe(time.Since(start).Seconds())
	if status >= 400 && status < 600 {
		metrics.HttpErrorsTotal.WithLabelValues(endpoint, code, method).Inc()
	}
}

// MetricsMiddleware instruments a plain net/http handler, as used by the
// workers' health and metrics listeners.
func MetricsMiddleware(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		observe(r.URL.Path, r.Method, rec.status, start)
	}
}

func GinMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		observe(endpoint, c.Request.Method, c.Writer.Status(), start)
	}
}
