package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kioskly/popserver/internal/config"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func rlConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:     true,
		ImportRPS:   1,
		ImportBurst: 1,
		ReportRPS:   100,
		ReportBurst: 100,
	}
}

func TestRateLimitBucketSplit(t *testing.T) {
	rl := NewRateLimitMiddleware(rlConfig(), zap.NewNop())
	handler := rl.Handler(okHandler())

	// Import bucket exhausts after one request.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/import/proof-of-play", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/import/proof-of-play", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// The report bucket is untouched by the import bucket's exhaustion.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/proof-of-play", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitPerIP(t *testing.T) {
	rl := NewRateLimitMiddleware(rlConfig(), zap.NewNop())
	handler := rl.HandlerPerIP(okHandler())

	reqFrom := func(ip string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/import/proof-of-play", nil)
		req.Header.Set("X-Real-IP", ip)
		return req
	}

	// First uploader exhausts only its own bucket.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, reqFrom("203.0.113.1"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, reqFrom("203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, reqFrom("203.0.113.2"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitPerIPCleanup(t *testing.T) {
	rl := NewRateLimitMiddleware(rlConfig(), zap.NewNop())
	handler := rl.HandlerPerIP(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/import/proof-of-play", nil)
	req.Header.Set("X-Real-IP", "203.0.113.1")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Cleanup resets the per-IP buckets.
	rl.CleanupIPLimiters()
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitDisabled(t *testing.T) {
	cfg := rlConfig()
	cfg.Enabled = false
	rl := NewRateLimitMiddleware(cfg, zap.NewNop())

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		rl.HandlerPerIP(rl.Handler(okHandler())).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/import/proof-of-play", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
