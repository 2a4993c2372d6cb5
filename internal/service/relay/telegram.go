// Package relay forwards each saved image to a Telegram chat through the Bot
// API sendPhoto method. It runs alongside the main delivery and its outcome
// never changes the cycle status.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"meterrelay/internal/logger"
	"meterrelay/internal/metrics"
	"meterrelay/internal/model"
)

const (
	Attempts = 3
	// CaptionLimit is the Bot API maximum caption length in characters.
	CaptionLimit = 1024
)

type Config struct {
	APIURL      string // without the /bot<token> suffix
	Token       string
	ChatID      string
	RetryDelays []time.Duration
	Timeout     time.Duration
}

type Telegram struct {
	cfg     Config
	client  *http.Client
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewTelegram(cfg Config, log *logger.Logger, m *metrics.Metrics) *Telegram {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.telegram.org"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Telegram{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  log,
		metrics: m,
	}
}

// Enabled reports whether both the bot token and the chat id are set.
func (t *Telegram) Enabled() bool {
	return t.cfg.Token != "" && t.cfg.ChatID != ""
}

// Send posts the image at path with caption, retrying up to Attempts times.
// False means the photo was not accepted; the error has already been logged.
func (t *Telegram) Send(ctx context.Context, path, caption string) bool {
	if !t.Enabled() {
		return false
	}
	if _, err := os.Stat(path); err != nil {
		t.logger.Error("Telegram relay skipped, image not found: %s", path)
		t.metrics.Relay(false)
		return false
	}
	caption = truncate(caption, CaptionLimit)

	for attempt := 0; attempt < Attempts; attempt++ {
		err := t.sendPhoto(ctx, path, caption)
		if err == nil {
			t.logger.Info("Telegram relay successful (attempt %d/%d)", attempt+1, Attempts)
			t.metrics.Relay(true)
			return true
		}
		if errors.Is(err, model.ErrConfiguration) {
			t.logger.Error("Telegram relay aborted: %v", err)
			break
		}
		t.logger.Warning("Telegram relay attempt %d/%d failed: %v", attempt+1, Attempts, err)

		if attempt == Attempts-1 {
			break
		}
		if !pause(ctx, t.retryDelay(attempt)) {
			t.logger.Warning("Telegram relay retries interrupted")
			break
		}
	}

	t.logger.Error("Telegram relay failed: %s", path)
	t.metrics.Relay(false)
	return false
}

func (t *Telegram) retryDelay(attempt int) time.Duration {
	if len(t.cfg.RetryDelays) == 0 {
		return 0
	}
	if attempt >= len(t.cfg.RetryDelays) {
		return t.cfg.RetryDelays[len(t.cfg.RetryDelays)-1]
	}
	return t.cfg.RetryDelays[attempt]
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) sendPhoto(ctx context.Context, path, caption string) error {
	body, contentType, err := photoForm(path, t.cfg.ChatID, caption)
	if err != nil {
		return err
	}

	endpoint := t.cfg.APIURL + "/bot" + t.cfg.Token + "/sendPhoto"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return model.NewFault(model.ErrConfiguration, "telegram", errors.New("invalid API URL"))
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := t.client.Do(req)
	if err != nil {
		// the request URL carries the bot token
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return model.NewFault(model.ErrTransport, "telegram", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	var parsed apiResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := fmt.Sprintf("HTTP %d", resp.StatusCode)
	if json.Unmarshal(raw, &parsed) == nil && parsed.Description != "" {
		detail += ": " + parsed.Description
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusNotFound:
		// bad token
		return model.NewFault(model.ErrConfiguration, "telegram", errors.New(detail))
	default:
		return model.NewFault(model.ErrTransport, "telegram", errors.New(detail))
	}
}

// photoForm builds the multipart body for sendPhoto. The file is reopened on
// every attempt.
func photoForm(path, chatID, caption string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", model.NewFault(model.ErrStorage, "telegram", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("chat_id", chatID); err != nil {
		return nil, "", err
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return nil, "", err
		}
	}
	part, err := w.CreateFormFile("photo", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", model.NewFault(model.ErrStorage, "telegram", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
