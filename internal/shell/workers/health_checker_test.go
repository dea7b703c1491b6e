package workers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/deploycheck/internal/core/domain"
)

// =============================================================================
// Test Helpers
// =============================================================================

// fakeClock advances only when the fake sleeper is called.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

// readyAfter serves 503 until the n-th request, then 200.
func readyAfter(n int64, hits *atomic.Int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < n {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<title>Digital Being</title>"))
	}
}

func newTestChecker(clock *fakeClock) *HealthChecker {
	return NewHealthChecker(HealthCheckerConfig{
		ProbeTimeout: time.Second,
		Sleep:        clock.Sleep,
		Now:          clock.Now,
	}, nil)
}

// =============================================================================
// Configuration
// =============================================================================

func TestDefaultHealthCheckerConfig(t *testing.T) {
	assert.Equal(t, 5*time.Second, DefaultHealthCheckerConfig().ProbeTimeout)
}

func TestNewHealthChecker_Defaults(t *testing.T) {
	h := NewHealthChecker(HealthCheckerConfig{}, nil)
	assert.Equal(t, 5*time.Second, h.config.ProbeTimeout)
	assert.NotNil(t, h.client)
	assert.NotNil(t, h.sleep)
	assert.NotNil(t, h.now)
}

// =============================================================================
// WaitUntilHealthy
// =============================================================================

func TestWaitUntilHealthy_ImmediatelyReady(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(readyAfter(1, &hits))
	defer srv.Close()
	clock := newFakeClock()

	result, err := newTestChecker(clock).WaitUntilHealthy(context.Background(), srv.URL, "/health", 10, 3*time.Second)
	require.NoError(t, err)
	assert.True(t, result.Ready)
	assert.Equal(t, 1, result.AttemptsUsed)
	assert.Empty(t, clock.sleeps, "no sleep before the first probe")
	assert.Equal(t, int64(1), hits.Load())
}

func TestWaitUntilHealthy_ReadyOnKthAttempt(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(readyAfter(4, &hits))
	defer srv.Close()
	clock := newFakeClock()

	result, err := newTestChecker(clock).WaitUntilHealthy(context.Background(), srv.URL, "/health", 10, 3*time.Second)
	require.NoError(t, err)
	assert.True(t, result.Ready)
	assert.Equal(t, 4, result.AttemptsUsed)
	assert.Equal(t, int64(4), hits.Load(), "no probe after ready")
	assert.Len(t, clock.sleeps, 3)
	assert.Equal(t, 9*time.Second, result.Waited)

	require.Len(t, result.Attempts, 4)
	assert.Equal(t, http.StatusServiceUnavailable, result.Attempts[0].HTTPStatus)
	assert.Equal(t, http.StatusOK, result.Attempts[3].HTTPStatus)
	for i, a := range result.Attempts {
		assert.Equal(t, i+1, a.AttemptNumber)
	}
}

func TestWaitUntilHealthy_NeverReady(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(readyAfter(1000, &hits))
	defer srv.Close()
	clock := newFakeClock()

	result, err := newTestChecker(clock).WaitUntilHealthy(context.Background(), srv.URL, "/health", 10, 3*time.Second)
	require.NoError(t, err)
	assert.False(t, result.Ready)
	assert.Equal(t, 10, result.AttemptsUsed)
	assert.Equal(t, int64(10), hits.Load())
	assert.Len(t, clock.sleeps, 9, "no sleep after the final attempt")
	assert.LessOrEqual(t, result.Waited, 30*time.Second)
}

func TestWaitUntilHealthy_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	clock := newFakeClock()

	result, err := newTestChecker(clock).WaitUntilHealthy(context.Background(), url, "/health", 3, time.Second)
	require.NoError(t, err)
	assert.False(t, result.Ready)
	assert.Equal(t, 3, result.AttemptsUsed)
	for _, a := range result.Attempts {
		assert.True(t, a.Unreachable())
		assert.NotEmpty(t, a.Error)
	}
}

func TestWaitUntilHealthy_OnlyExact200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	result, err := newTestChecker(newFakeClock()).WaitUntilHealthy(context.Background(), srv.URL, "/health", 2, time.Second)
	require.NoError(t, err)
	assert.False(t, result.Ready)
	assert.Equal(t, 2, result.AttemptsUsed)
}

// redirectToLogin answers /health and / with a 302 to a page that is 200.
func redirectToLogin() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<title>Digital Being</title>"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login", http.StatusFound)
	})
	return mux
}

func TestWaitUntilHealthy_RedirectIsNotReady(t *testing.T) {
	srv := httptest.NewServer(redirectToLogin())
	defer srv.Close()

	result, err := newTestChecker(newFakeClock()).WaitUntilHealthy(context.Background(), srv.URL, "/health", 3, time.Second)
	require.NoError(t, err)
	assert.False(t, result.Ready)
	assert.Equal(t, 3, result.AttemptsUsed)
	for _, a := range result.Attempts {
		assert.Equal(t, http.StatusFound, a.HTTPStatus)
	}
}

func TestWaitUntilHealthy_SingleAttempt(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(readyAfter(2, &hits))
	defer srv.Close()
	clock := newFakeClock()

	result, err := newTestChecker(clock).WaitUntilHealthy(context.Background(), srv.URL, "/health", 1, time.Second)
	require.NoError(t, err)
	assert.False(t, result.Ready)
	assert.Equal(t, 1, result.AttemptsUsed)
	assert.Empty(t, clock.sleeps)
}

func TestWaitUntilHealthy_InvalidArguments(t *testing.T) {
	h := newTestChecker(newFakeClock())

	_, err := h.WaitUntilHealthy(context.Background(), "http://localhost:1", "/", 0, time.Second)
	assert.ErrorIs(t, err, ErrInvalidProbe)

	_, err = h.WaitUntilHealthy(context.Background(), "http://localhost:1", "/", 3, -time.Second)
	assert.ErrorIs(t, err, ErrInvalidProbe)
}

func TestWaitUntilHealthy_Cancelled(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(readyAfter(1000, &hits))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	clock := newFakeClock()
	h := NewHealthChecker(HealthCheckerConfig{
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return clock.Sleep(ctx, d)
		},
		Now: clock.Now,
	}, nil)

	result, err := h.WaitUntilHealthy(ctx, srv.URL, "/health", 10, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, result.Ready)
	assert.Equal(t, 1, result.AttemptsUsed)
}

func TestSleepWithContext(t *testing.T) {
	require.NoError(t, sleepWithContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepWithContext(ctx, time.Hour), context.Canceled)
}

// =============================================================================
// CheckAsset
// =============================================================================

func TestCheckAsset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			_, _ = w.Write([]byte("<html><title>Digital Being</title></html>"))
		case "/blank":
			_, _ = w.Write([]byte("<html></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	h := newTestChecker(newFakeClock())
	ctx := context.Background()

	assert.NoError(t, h.CheckAsset(ctx, srv.URL+"/", "Digital Being"))
	assert.NoError(t, h.CheckAsset(ctx, srv.URL+"/blank", ""))

	err := h.CheckAsset(ctx, srv.URL+"/blank", "Digital Being")
	assert.ErrorIs(t, err, domain.ErrAssetServing)
	assert.Contains(t, err.Error(), "does not contain")

	err = h.CheckAsset(ctx, srv.URL+"/missing", "")
	assert.ErrorIs(t, err, domain.ErrAssetServing)
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestCheckAsset_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := newTestChecker(newFakeClock()).CheckAsset(context.Background(), url, "")
	assert.ErrorIs(t, err, domain.ErrAssetServing)
	assert.Equal(t, "AssetServingError", domain.ErrorKind(err))
}

func TestCheckAsset_RedirectIsNotServed(t *testing.T) {
	srv := httptest.NewServer(redirectToLogin())
	defer srv.Close()

	err := newTestChecker(newFakeClock()).CheckAsset(context.Background(), srv.URL+"/", "Digital Being")
	assert.ErrorIs(t, err, domain.ErrAssetServing)
	assert.Contains(t, err.Error(), "HTTP 302")
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8000/health", JoinURL("http://localhost:8000", "/health"))
	assert.Equal(t, "http://localhost:8000/health", JoinURL("http://localhost:8000/", "health"))
	assert.Equal(t, "http://localhost:8000", JoinURL("http://localhost:8000", ""))
}
