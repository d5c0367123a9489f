package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestStateCache(t *testing.T) {
	// Initialize the cache with a size of 2.
	cache, err := NewStateCache(2)
	require.NoError(t, err, "Failed to initialize cache")

	attempt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	renders := 0
	render := func(v string) func() interface{} {
		return func() interface{} {
			renders++
			return v
		}
	}

	// cache miss
	assert.Equal(t, "v1", cache.GetOrRender("a", 1, attempt, render("v1")))
	// cache hit
	assert.Equal(t, "v1", cache.GetOrRender("a", 1, attempt, render("other")))
	assert.Equal(t, 1, renders, "render should not run on a hit")

	// a new version is a miss
	assert.Equal(t, "v2", cache.GetOrRender("a", 2, attempt, render("v2")))
	assert.Equal(t, "b1", cache.GetOrRender("b", 1, attempt, render("b1")))

	// The first entry should have been evicted due to cache size.
	assert.False(t, cache.contains("a", 1, attempt), "Expected first entry to be evicted from cache")
	assert.Equal(t, 2, cache.Len())
}

func TestNewStateCacheRejectsInvalidSize(t *testing.T) {
	_, err := NewStateCache(0)
	assert.Error(t, err)
}

func TestContextMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(ContextMiddleware())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, RequestID(c.Request.Context()))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Body.String())
	assert.Equal(t, w.Body.String(), w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "given-id")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "given-id", w.Body.String())
}

func TestRateLimitingMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RateLimitingMiddleware(0.001, 2))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := []int{}
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimitingMiddlewareDisabled(t *testing.T) {
	r := gin.New()
	r.Use(RateLimitingMiddleware(0, 0))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 20; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestLoggingMiddleware(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	r := gin.New()
	r.Use(ContextMiddleware(), LoggingMiddleware(logger))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, http.StatusNoContent, entry.Data["status"])
	assert.Equal(t, "/ok", entry.Data["path"])
	assert.NotEmpty(t, entry.Data["request_id"])
}

func TestMetricsMiddleware(t *testing.T) {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "requests"}, []string{"route", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "latency"}, []string{"route"})

	r := gin.New()
	r.Use(NewMetricsMiddleware(requests, latency))
	r.GET("/api/states/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/states/x", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(requests.WithLabelValues("/api/states/:id", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(requests.WithLabelValues("unmatched", "404")))
}
