package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/codeGROOVE-dev/larkhook/pkg/logger"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultMaxDelay = 30 * time.Second
	baseDelay       = 100 * time.Millisecond
	maxResponseSize = 64 << 10
)

// ErrEmptyURL is returned by Send when no webhook URL is configured.
var ErrEmptyURL = errors.New("feishu webhook URL is empty")

// StatusError reports a non-2xx response from the bot webhook.
type StatusError struct {
	Body       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("feishu webhook returned status %d: %s", e.StatusCode, e.Body)
}

// Sender delivers a document to a chat destination.
type Sender interface {
	Send(ctx context.Context, doc Document) error
}

// Config holds the configuration for the client.
type Config struct {
	HTTPClient    *http.Client
	Now           func() time.Time
	WebhookURL    string
	SigningSecret string
	Locale        string
	Timeout       time.Duration
	Attempts      uint
	MaxDelay      time.Duration
}

// Client posts documents to a Feishu custom bot webhook.
type Client struct {
	httpClient    *http.Client
	now           func() time.Time
	url           string
	signingSecret string
	locale        string
	attempts      uint
	maxDelay      time.Duration
}

// botResponse is the JSON body Feishu returns; code 0 means accepted.
type botResponse struct {
	Msg  string `json:"msg"`
	Code int    `json:"code"`
}

// NewClient creates a new Feishu client.
func NewClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	attempts := cfg.Attempts
	if attempts == 0 {
		attempts = 1
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	return &Client{
		httpClient:    hc,
		now:           now,
		url:           cfg.WebhookURL,
		signingSecret: cfg.SigningSecret,
		locale:        cfg.Locale,
		attempts:      attempts,
		maxDelay:      maxDelay,
	}
}

// Send posts doc to the webhook. Network errors and 5xx responses are
// retried up to the configured number of attempts; other non-2xx
// responses fail immediately.
func (c *Client) Send(ctx context.Context, doc Document) error {
	if c.url == "" {
		return ErrEmptyURL
	}

	var lastErr error
	attempt := 0
	err := retry.Do(
		func() error {
			attempt++
			// Re-signed per attempt so a retried delivery carries a fresh timestamp.
			msg := NewMessage(doc, c.locale)
			if c.signingSecret != "" {
				msg = msg.Signed(c.signingSecret, c.now())
			}
			body, err := json.Marshal(msg)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("failed to marshal message: %w", err))
			}

			lastErr = c.post(ctx, body)
			if lastErr == nil {
				return nil
			}
			var se *StatusError
			if errors.As(lastErr, &se) && se.StatusCode < http.StatusInternalServerError {
				return retry.Unrecoverable(lastErr)
			}
			if attempt < int(c.attempts) {
				logger.Warn(ctx, "feishu delivery failed (will retry)", logger.Fields{
					"attempt": attempt,
					"error":   lastErr.Error(),
				})
			}
			return lastErr
		},
		retry.Attempts(c.attempts),
		retry.Delay(baseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(c.maxDelay),
		retry.Context(ctx),
	)
	if err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}

// MaxSendDuration bounds how long Send can take with the given attempts,
// per-request timeout and backoff cap (zero means the client default).
// Backoff sleeps are overestimated by one doubling and capped at maxDelay.
func MaxSendDuration(attempts uint, timeout, maxDelay time.Duration) time.Duration {
	if attempts == 0 {
		attempts = 1
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	total := time.Duration(attempts) * timeout
	for n := uint(1); n < attempts; n++ {
		d := maxDelay
		if n < 32 && baseDelay<<n < maxDelay {
			d = baseDelay << n
		}
		total += d
	}
	return total
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warn(ctx, "failed to close response body", logger.Fields{"error": err.Error()})
		}
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		respBody = nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	// Any 2xx counts as delivered. A rejected payload (bad signature,
	// keyword filter) still comes back 200 with a non-zero code.
	var br botResponse
	if len(respBody) > 0 && json.Unmarshal(respBody, &br) == nil && br.Code != 0 {
		logger.Warn(ctx, "feishu accepted request with non-zero code", logger.Fields{
			"code": br.Code,
			"msg":  br.Msg,
		})
	}
	return nil
}
