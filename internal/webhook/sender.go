// Package webhook delivers signed event notifications to a tenant-configured
// endpoint. Delivery is fire-and-forget: failures are logged, never thrown
// back into the operation that triggered them.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Sender posts signed payloads.
type Sender interface {
	Send(ctx context.Context, event string, payload any) error
}

// HTTPSender signs `timestamp + body` with HMAC-SHA256 and POSTs to the
// configured base URL.
type HTTPSender struct {
	url    string
	secret []byte
	client *http.Client
	now    func() time.Time
}

// NewHTTPSender builds a sender. An empty URL disables delivery.
func NewHTTPSender(url, secret string, timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSender{
		url:    url,
		secret: []byte(secret),
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

// Enabled reports whether a destination is configured.
func (s *HTTPSender) Enabled() bool {
	return s.url != ""
}

func (s *HTTPSender) Send(ctx context.Context, event string, payload any) error {
	if !s.Enabled() {
		return nil
	}

	body, err := json.Marshal(map[string]any{
		"event": event,
		"data":  payload,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	timestamp := strconv.FormatInt(s.now().Unix(), 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature-Timestamp", timestamp)
	req.Header.Set("X-Signature", Signature(s.secret, timestamp, body))

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook delivery to %s failed: status %d", s.url, resp.StatusCode)
	}
	return nil
}

// Signature computes the hex HMAC-SHA256 of timestamp + body.
func Signature(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature in constant time. Exposed for
// receiving-side tooling and tests.
func Verify(secret []byte, timestamp string, body []byte, signature string) bool {
	expected := Signature(secret, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
