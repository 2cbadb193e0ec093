// Package alert posts tamper notifications to an operator-configured
// webhook. Delivery is fire-and-forget: a failure here must never affect
// enforcement.
package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/avekseev/fileguard/internal/model"
)

const (
	requestTimeout = 5 * time.Second
	maxRetries     = 3
)

// Event is the JSON payload posted to the webhook.
type Event struct {
	Timestamp    string       `json:"timestamp"`
	Severity     model.Tier   `json:"severity"`
	File         string       `json:"file"`
	Action       model.Action `json:"action"`
	Reason       model.Reason `json:"reason"`
	ExpectedHash string       `json:"expected_hash,omitempty"`
	ActualHash   string       `json:"actual_hash,omitempty"`
	Source       string       `json:"source"`
	Host         string       `json:"host"`
	PID          int          `json:"pid"`
}

// Notifier sends events to one webhook URL. A nil Notifier is valid and
// drops everything, so callers don't branch on configuration.
type Notifier struct {
	url     string
	headers map[string]string
	client  *http.Client
	log     hclog.Logger
}

// NewNotifier returns a Notifier, or nil when no URL is configured.
func NewNotifier(url string, headers map[string]string, log hclog.Logger) *Notifier {
	if url == "" {
		return nil
	}
	return &Notifier{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: requestTimeout},
		log:     log,
	}
}

// Send posts the event, retrying on 5xx only. 4xx means the endpoint will
// never accept this payload, so retrying is noise.
func (n *Notifier) Send(event Event) error {
	if n == nil {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("alert: marshal event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * time.Second)
		}

		req, err := http.NewRequest(http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("alert: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range n.headers {
			req.Header.Set(k, v)
		}

		resp, err := n.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return fmt.Errorf("alert: webhook rejected: HTTP %d", resp.StatusCode)
		}
		lastErr = fmt.Errorf("alert: webhook server error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("alert: delivery failed after %d attempts: %w", maxRetries, lastErr)
}

// Dispatch sends the event on a goroutine and swallows any error beyond a
// log line. Safe on a nil Notifier.
func (n *Notifier) Dispatch(event Event) {
	if n == nil {
		return
	}
	go func() {
		if err := n.Send(event); err != nil {
			n.log.Warn("alert delivery failed", "file", event.File, "error", err)
		}
	}()
}
