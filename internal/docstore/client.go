package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client performs document reads and writes over HTTP and opens watch
// streams over websocket.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a Client. httpClient may be nil, in which case a client
// with a 30 second timeout is used.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

func (c *Client) documentURL(userID, collectionKey string) string {
	return fmt.Sprintf("%s/v1/users/%s/data/%s", c.baseURL, userID, collectionKey)
}

// SetDocument overwrites the envelope for (userID, collectionKey). The
// document is created implicitly on first write.
func (c *Client) SetDocument(ctx context.Context, userID, collectionKey string, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("set document: marshal envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.documentURL(userID, collectionKey), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("set document: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return networkError("set document", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return httpError("set document", resp.StatusCode)
	}
	return nil
}

// GetDocument fetches the current envelope, or ErrNotFound if the document
// has never been written.
func (c *Client) GetDocument(ctx context.Context, userID, collectionKey string) (*Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.documentURL(userID, collectionKey), nil)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, networkError("get document", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		var env Envelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return nil, fmt.Errorf("get document: decode: %w", err)
		}
		return &env, nil
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, httpError("get document", resp.StatusCode)
	}
}
