// Package callback delivers outcome webhooks to caller-supplied hook URLs.
//
// Delivery retries transient failures (408/429, any 5xx, network errors)
// with exponential backoff and jitter, and gives up immediately on permanent
// failures (any other 4xx). Undeliverable callbacks are logged and dropped;
// there is no replay store.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/fuuuzzy/voicepipe/pkg/telemetry"
)

// Task outcome statuses reported to hooks.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Payload is the JSON body POSTed to the hook URL.
type Payload struct {
	TaskUUID  string `json:"task_uuid"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`

	// S3URL is set on success for single-artifact tasks.
	S3URL string `json:"s3_url,omitempty"`
	// URLs maps object key to public URL for multi-artifact tasks.
	URLs map[string]string `json:"urls,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
}

// Config controls retry behaviour of a Notifier.
type Config struct {
	// MaxAttempts is the total number of delivery attempts (default 10).
	MaxAttempts int
	// InitialDelay is the backoff base: the wait before attempt n (1-based
	// retries) is InitialDelay * 2^n plus sub-second jitter (default 1s).
	InitialDelay time.Duration
	// MaxDelay caps a single inter-attempt wait (default 60s).
	MaxDelay time.Duration
	// RequestTimeout bounds each POST (default 10s).
	RequestTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 60 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
}

// Notifier sends outcome callbacks with bounded retry.
type Notifier struct {
	cfg    Config
	client *http.Client
	log    zerolog.Logger
}

// New creates a Notifier. Zero-value config fields get the defaults
// documented on Config.
func New(cfg Config, log zerolog.Logger) *Notifier {
	cfg.applyDefaults()
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		log:    log,
	}
}

// NotifySuccess reports a delivered single-artifact result.
func (n *Notifier) NotifySuccess(ctx context.Context, hookURL, taskID, url string) error {
	return n.Send(ctx, hookURL, Payload{
		TaskUUID:  taskID,
		Status:    StatusSuccess,
		Timestamp: time.Now().Unix(),
		S3URL:     url,
	})
}

// NotifySuccessBatch reports a delivered multi-artifact result.
func (n *Notifier) NotifySuccessBatch(ctx context.Context, hookURL, taskID string, urls map[string]string) error {
	return n.Send(ctx, hookURL, Payload{
		TaskUUID:  taskID,
		Status:    StatusSuccess,
		Timestamp: time.Now().Unix(),
		URLs:      urls,
	})
}

// NotifyFailure reports a failed task. errorCode may be empty for failures
// without a machine-readable classification.
func (n *Notifier) NotifyFailure(ctx context.Context, hookURL, taskID, message, errorCode string) error {
	return n.Send(ctx, hookURL, Payload{
		TaskUUID:     taskID,
		Status:       StatusFailed,
		Timestamp:    time.Now().Unix(),
		ErrorMessage: message,
		ErrorCode:    errorCode,
	})
}

// Send POSTs the payload to hookURL, retrying per the notifier config.
// A nil return means the hook acknowledged the callback with a 2xx. Sends to
// an empty hookURL are silently skipped.
func (n *Notifier) Send(ctx context.Context, hookURL string, p Payload) error {
	if hookURL == "" {
		return nil
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal callback payload: %w", err)
	}

	log := n.log.With().Str("task_id", p.TaskUUID).Str("hook_url", hookURL).Logger()

	var lastErr error
	for attempt := 0; attempt < n.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := n.backoff(attempt)
			log.Info().
				Int("attempt", attempt+1).
				Int("max_attempts", n.cfg.MaxAttempts).
				Dur("delay", delay).
				Str("status", p.Status).
				Msg("Retrying callback")
			telemetry.CallbackAttempts.WithLabelValues("retried").Inc()

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("callback for task %s cancelled: %w", p.TaskUUID, ctx.Err())
			}
		}

		status, err := n.post(ctx, hookURL, body)
		if err != nil {
			// Network-level failure or timeout: transient.
			lastErr = err
			log.Warn().Err(err).Msg("Callback attempt failed, will retry")
			continue
		}

		if status >= 200 && status < 300 {
			log.Info().Str("status", p.Status).Msg("Callback delivered")
			telemetry.CallbackAttempts.WithLabelValues("delivered").Inc()
			return nil
		}

		if isPermanent(status) {
			telemetry.CallbackAttempts.WithLabelValues("permanent").Inc()
			err := fmt.Errorf("hook returned permanent status %d", status)
			log.Error().Int("http_status", status).Msg("Callback rejected, giving up")
			return err
		}

		lastErr = fmt.Errorf("hook returned transient status %d", status)
		log.Warn().Int("http_status", status).Msg("Callback attempt failed, will retry")
	}

	telemetry.CallbackAttempts.WithLabelValues("exhausted").Inc()
	log.Error().Int("max_attempts", n.cfg.MaxAttempts).Err(lastErr).
		Msg("Callback undeliverable after all attempts")
	return fmt.Errorf("callback for task %s failed after %d attempts: %w",
		p.TaskUUID, n.cfg.MaxAttempts, lastErr)
}

func (n *Notifier) post(ctx context.Context, url string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post callback: %w", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// backoff computes the wait before the given 1-based retry, capped at
// MaxDelay. The sub-second jitter spreads out simultaneously retrying
// deliveries.
func (n *Notifier) backoff(attempt int) time.Duration {
	delay := n.cfg.InitialDelay * time.Duration(1<<attempt)
	if delay > n.cfg.MaxDelay || delay <= 0 {
		delay = n.cfg.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	if delay+jitter > n.cfg.MaxDelay {
		return n.cfg.MaxDelay
	}
	return delay + jitter
}

// isPermanent reports whether an HTTP status is a permanent delivery
// failure: any 4xx except 408 (request timeout) and 429 (rate limited).
func isPermanent(status int) bool {
	if status < 400 || status >= 500 {
		return false
	}
	return status != http.StatusRequestTimeout && status != http.StatusTooManyRequests
}
