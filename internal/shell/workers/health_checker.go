// Package workers contains the polling workers used during verification.
package workers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/artpar/deploycheck/internal/core/domain"
	"github.com/artpar/deploycheck/internal/core/monitoring"
)

// maxProbeBody caps how much of a response body is kept for marker checks.
const maxProbeBody = 1 << 20

// ErrInvalidProbe is returned for unusable readiness wait arguments.
var ErrInvalidProbe = errors.New("invalid probe configuration")

// HTTPDoer is the subset of *http.Client used for probing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HealthCheckerConfig configures the health checker.
type HealthCheckerConfig struct {
	// ProbeTimeout bounds a single HTTP probe.
	// Default: 5 seconds.
	ProbeTimeout time.Duration

	// Client overrides the HTTP client. Default: a pooled cleanhttp client.
	Client HTTPDoer

	// Sleep waits between attempts. Default: a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// DefaultHealthCheckerConfig returns the default configuration.
func DefaultHealthCheckerConfig() HealthCheckerConfig {
	return HealthCheckerConfig{
		ProbeTimeout: 5 * time.Second,
	}
}

// HealthChecker polls the instance's HTTP endpoints until they answer.
type HealthChecker struct {
	client HTTPDoer
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
	config HealthCheckerConfig
	logger *slog.Logger
}

// NewHealthChecker creates a new health checker.
func NewHealthChecker(config HealthCheckerConfig, logger *slog.Logger) *HealthChecker {
	if config.ProbeTimeout == 0 {
		config.ProbeTimeout = DefaultHealthCheckerConfig().ProbeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := &HealthChecker{
		client: config.Client,
		sleep:  config.Sleep,
		now:    config.Now,
		config: config,
		logger: logger.With("component", "health_checker"),
	}
	if h.client == nil {
		c := cleanhttp.DefaultPooledClient()
		c.Timeout = config.ProbeTimeout
		// A redirect is reported as its own status, never as its target's.
		c.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
		h.client = c
	}
	if h.sleep == nil {
		h.sleep = sleepWithContext
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// WaitUntilHealthy probes baseURL+path up to maxAttempts times, sleeping
// interval between attempts, and returns as soon as a probe answers 200.
// The first probe is sent immediately. A result that never became ready is
// not an error; the error return is reserved for bad arguments and
// cancellation.
func (h *HealthChecker) WaitUntilHealthy(ctx context.Context, baseURL, path string, maxAttempts int, interval time.Duration) (domain.HealthResult, error) {
	var result domain.HealthResult
	if maxAttempts < 1 {
		return result, fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidProbe, maxAttempts)
	}
	if interval < 0 {
		return result, fmt.Errorf("%w: negative interval %s", ErrInvalidProbe, interval)
	}

	target := JoinURL(baseURL, path)
	start := h.now()
	logger := h.logger.With("url", target, "max_attempts", maxAttempts)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		probe := h.Probe(ctx, target)
		record := domain.HealthCheckAttempt{
			AttemptNumber: attempt,
			Timestamp:     h.now(),
			HTTPStatus:    probe.Status,
		}
		if probe.Err != nil {
			record.Error = probe.Err.Error()
		}
		result.Attempts = append(result.Attempts, record)
		result.AttemptsUsed = attempt

		if monitoring.IsReady(probe.Status) {
			result.Ready = true
			result.Waited = h.now().Sub(start)
			logger.Info("instance ready", "attempts", attempt, "waited", result.Waited)
			return result, nil
		}

		logger.Debug("probe not ready", "attempt", monitoring.DescribeAttempt(record))

		if attempt == maxAttempts {
			break
		}
		if err := h.sleep(ctx, interval); err != nil {
			result.Waited = h.now().Sub(start)
			return result, err
		}
	}

	result.Waited = h.now().Sub(start)
	logger.Warn("instance not ready", "summary", monitoring.SummarizeHealth(result, maxAttempts))
	return result, nil
}

// ProbeResult is the outcome of one HTTP GET.
type ProbeResult struct {
	Status int // domain.StatusUnreachable when no response arrived
	Body   []byte
	Err    error
}

// Probe performs one GET against url. Transport failures are reported in
// the result, never as a panic or a returned error.
func (h *HealthChecker) Probe(ctx context.Context, url string) ProbeResult {
	probeCtx, cancel := context.WithTimeout(ctx, h.config.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return ProbeResult{Status: domain.StatusUnreachable, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return ProbeResult{Status: domain.StatusUnreachable, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	if err != nil {
		return ProbeResult{Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	return ProbeResult{Status: resp.StatusCode, Body: body}
}

// CheckAsset fetches url once and requires HTTP 200 and, when marker is not
// empty, a body containing marker.
func (h *HealthChecker) CheckAsset(ctx context.Context, url, marker string) error {
	probe := h.Probe(ctx, url)
	if probe.Status == domain.StatusUnreachable {
		return domain.NewVerifyError("assets", fmt.Sprintf("GET %s unreachable", url), errors.Join(domain.ErrAssetServing, probe.Err))
	}
	if probe.Status != http.StatusOK {
		return domain.NewVerifyError("assets", fmt.Sprintf("GET %s returned HTTP %d", url, probe.Status), domain.ErrAssetServing)
	}
	if marker != "" && !strings.Contains(string(probe.Body), marker) {
		return domain.NewVerifyError("assets", fmt.Sprintf("GET %s body does not contain %q", url, marker), domain.ErrAssetServing)
	}
	return nil
}

// JoinURL joins a base URL and a path with exactly one slash between them.
func JoinURL(baseURL, path string) string {
	if path == "" {
		return baseURL
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// sleepWithContext sleeps for d or until ctx is done.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
