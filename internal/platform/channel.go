// Package platform talks to the chat platform's REST API. The core treats
// it as an unreliable at-least-once side channel: calls take plain
// identifiers and their failures never invalidate a committed DB change.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ChannelClient is the surface the deferred effect queue depends on.
type ChannelClient interface {
	CreateChannel(ctx context.Context, req CreateChannelRequest) (string, error)
	ArchiveOrDeleteChannel(ctx context.Context, channelRef string, deleteChannel bool) error
	UpdatePermissionOverwrite(ctx context.Context, channelRef, subjectRef string, allow, deny uint64) error
}

// CreateChannelRequest carries the identifiers needed to open a ticket
// channel.
type CreateChannelRequest struct {
	GuildRef    string
	Name        string
	CategoryRef string
	Topic       string
}

// TransientError marks failures worth one extra attempt (rate limits,
// server-side errors).
type TransientError struct {
	Status int
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient chat-platform failure: status %d", e.Status)
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// HTTPClient implements ChannelClient over the platform's REST API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient builds a client with a bounded request timeout.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) CreateChannel(ctx context.Context, req CreateChannelRequest) (string, error) {
	payload := map[string]any{
		"name":  req.Name,
		"topic": req.Topic,
	}
	if req.CategoryRef != "" {
		payload["parent_id"] = req.CategoryRef
	}

	body, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/guilds/%s/channels", req.GuildRef), payload)
	if err != nil {
		return "", err
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("decode create channel response: %w", err)
	}
	return created.ID, nil
}

func (c *HTTPClient) ArchiveOrDeleteChannel(ctx context.Context, channelRef string, deleteChannel bool) error {
	if deleteChannel {
		_, err := c.do(ctx, http.MethodDelete, "/channels/"+channelRef, nil)
		return err
	}
	_, err := c.do(ctx, http.MethodPatch, "/channels/"+channelRef, map[string]any{"archived": true})
	return err
}

func (c *HTTPClient) UpdatePermissionOverwrite(ctx context.Context, channelRef, subjectRef string, allow, deny uint64) error {
	payload := map[string]any{
		"allow": fmt.Sprintf("%d", allow),
		"deny":  fmt.Sprintf("%d", deny),
	}
	_, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/channels/%s/permissions/%s", channelRef, subjectRef), payload)
	return err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &TransientError{Status: resp.StatusCode}
	default:
		return nil, fmt.Errorf("chat-platform request %s %s failed: status %d", method, path, resp.StatusCode)
	}
}
