// Package telemetry sends the per-cycle status code to a ThingSpeak-style
// update endpoint.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"meterrelay/internal/logger"
	"meterrelay/internal/metrics"
	"meterrelay/internal/model"
)

// rejected is the entry id the endpoint returns when it refuses an update.
const rejected = 0

type Config struct {
	UpdateURL   string
	WriteKey    string
	MinInterval time.Duration
	Attempts    int
	RetryPause  time.Duration
	Timeout     time.Duration
}

// Reporter enforces the endpoint's minimum interval between requests by
// blocking the caller.
type Reporter struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewReporter(cfg Config, log *logger.Logger, m *metrics.Metrics) *Reporter {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &Reporter{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		logger:  log,
		metrics: m,
	}
}

// Report sends code as field1 with optional field2/field3. It never returns
// an error; false means every attempt failed or was rejected.
func (r *Reporter) Report(ctx context.Context, code model.StatusCode, field2, field3 *float64) bool {
	if r.cfg.WriteKey == "" {
		r.logger.Warning("Telemetry skipped: no write key")
		return false
	}

	query := url.Values{}
	query.Set("api_key", r.cfg.WriteKey)
	query.Set("field1", strconv.Itoa(int(code)))
	if field2 != nil {
		query.Set("field2", strconv.FormatFloat(*field2, 'f', 2, 64))
	}
	if field3 != nil {
		query.Set("field3", strconv.FormatFloat(*field3, 'f', 1, 64))
	}

	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			r.logger.Warning("Telemetry wait interrupted: %v", err)
			break
		}

		entryID, err := r.send(ctx, query)
		if err == nil && entryID > rejected {
			r.logger.Info("Telemetry: status=%d sent (entry #%d)", code, entryID)
			r.metrics.Report(true)
			return true
		}
		if err != nil {
			r.logger.Warning("Telemetry attempt %d/%d failed: %v", attempt, r.cfg.Attempts, err)
		} else {
			r.logger.Warning("Telemetry update rejected (returned %d), possible rate limit or invalid key", entryID)
		}

		if attempt < r.cfg.Attempts && !pause(ctx, r.cfg.RetryPause) {
			break
		}
	}

	r.logger.Error("Telemetry update failed after %d attempts", r.cfg.Attempts)
	r.metrics.Report(false)
	return false
}

func (r *Reporter) send(ctx context.Context, query url.Values) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.UpdateURL+"?"+query.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, model.NewFault(model.ErrTransport, "telemetry", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return 0, model.NewFault(model.ErrTransport, "telemetry", err)
	}
	text := strings.TrimSpace(string(body))

	if resp.StatusCode != http.StatusOK {
		return 0, model.NewFault(model.ErrTransport, "telemetry", fmt.Errorf("HTTP %d: %.100s", resp.StatusCode, text))
	}

	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, model.NewFault(model.ErrTransport, "telemetry", fmt.Errorf("unexpected response %.100q", text))
	}
	return id, nil
}

func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
