package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/pagepilot/internal/environment"
	"github.com/rendis/pagepilot/pkg/schema"
)

// HTTPConfig configures DELIVER_VIA_WEBHOOK.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration // per attempt
	MaxAttempts     int
	RetryDelay      time.Duration // first backoff; doubles per retry
	MaxRetryDelay   time.Duration
	// Client overrides the HTTP client; nil uses a fresh client per call.
	Client *http.Client
}

const (
	defaultMaxResponseBody = 1 << 20 // 1MB
	defaultHTTPTimeout     = 30 * time.Second
	defaultMaxAttempts     = 3
	defaultRetryDelay      = 500 * time.Millisecond
	defaultMaxRetryDelay   = 5 * time.Second
)

func (c HTTPConfig) withDefaults() HTTPConfig {
	if c.MaxResponseBody <= 0 {
		c.MaxResponseBody = defaultMaxResponseBody
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = defaultHTTPTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = defaultMaxRetryDelay
	}
	return c
}

func deliverViaWebhookTask(cfg HTTPConfig) Definition {
	w := &webhook{config: cfg.withDefaults()}
	return Definition{
		Kind:    schema.TaskDeliverViaWebhook,
		Label:   "Deliver via Webhook",
		Credits: 1,
		Inputs: []ParamSpec{
			stringParam(ParamTargetURL, true, ""),
			stringParam(ParamBody, true, ""),
			{Name: ParamCredential, Type: schema.ParamCredential, HelperText: "Sent as a bearer token"},
		},
		Executor: w,
	}
}

type webhook struct {
	config HTTPConfig
}

// Execute POSTs the body to the target, retrying transport failures and
// 429/5xx responses with exponential backoff.
func (w *webhook) Execute(ctx context.Context, scope *environment.Scope) error {
	target := requiredInput(scope, ParamTargetURL)
	body := requiredInput(scope, ParamBody)
	credential := optionalInput(scope, ParamCredential)

	u, err := url.ParseRequestURI(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid target url %q", target)
	}

	token := ""
	if credential != "" {
		token, err = scope.Credential(ctx, credential)
		if err != nil {
			return fmt.Errorf("resolve credential %q: %w", credential, err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= w.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := backoff(w.config.RetryDelay, w.config.MaxRetryDelay, attempt-2)
			scope.Log().Infof("Retrying delivery to %s in %s (attempt %d of %d)", u.Host, delay, attempt, w.config.MaxAttempts)
			if err := waitBackoff(ctx, delay); err != nil {
				return fmt.Errorf("delivery aborted: %w", lastErr)
			}
		}

		start := time.Now()
		status, err := w.deliver(ctx, target, body, token)
		if err == nil {
			scope.Log().Infof("Delivered to %s (%d, %dms)", u.Host, status, time.Since(start).Milliseconds())
			return nil
		}
		lastErr = err
		if !retryable(err, status) {
			break
		}
	}
	return lastErr
}

// deliver performs one POST. The returned status is 0 when no response arrived.
func (w *webhook) deliver(ctx context.Context, target, body, token string) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, w.config.DefaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, target, strings.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if json.Valid([]byte(body)) {
		req.Header.Set("Content-Type", "application/json")
	} else {
		req.Header.Set("Content-Type", "text/plain")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := w.config.Client
	if client == nil {
		client = &http.Client{}
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, w.config.MaxResponseBody))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return resp.StatusCode, nil
}
