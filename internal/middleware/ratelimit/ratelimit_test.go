package ratelimit

import (
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(limiter *RateLimiter) *fiber.App {
	app := fiber.New()
	app.Use(limiter.Middleware())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func TestAllowsUpToBudget(t *testing.T) {
	limiter := New(Config{MaxRequestsPerMinute: 3})
	defer limiter.Stop()
	app := newTestApp(limiter)

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
}

func TestBucketsAreIndependentPerClient(t *testing.T) {
	limiter := New(Config{MaxRequestsPerMinute: 1})
	defer limiter.Stop()

	assert.True(t, limiter.allow("10.0.0.1"))
	assert.False(t, limiter.allow("10.0.0.1"))
	assert.True(t, limiter.allow("10.0.0.2"))
}

func TestTokensRefillOverTime(t *testing.T) {
	limiter := New(Config{MaxRequestsPerMinute: 6000}) // one token per 10ms
	defer limiter.Stop()

	for limiter.allow("10.0.0.1") {
	}
	time.Sleep(25 * time.Millisecond)
	assert.True(t, limiter.allow("10.0.0.1"))
}

func TestStopEndsCleanupGoroutine(t *testing.T) {
	before := runtime.NumGoroutine()

	limiter := New(Config{MaxRequestsPerMinute: 10})
	limiter.Stop()

	deadline := time.Now().Add(time.Second)
	for runtime.NumGoroutine() > before && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.LessOrEqual(t, runtime.NumGoroutine(), before)
}
