// Package oracle provides clients for the external decryption oracle
// service. The oracle accepts a batch of ciphertext handles, assigns a
// request id, and later reports the cleartext plus a signed proof through
// the coprocessor's callback endpoint.
package oracle

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnavailable indicates the oracle endpoint could not satisfy the
// dispatch request.
var ErrUnavailable = errors.New("oracle: service unavailable")

const defaultRequestTimeout = 15 * time.Second

// Client dispatches decryption requests to a remote oracle over HTTP.
type Client struct {
	endpoint *url.URL
	apiKey   string
	httpDo   *http.Client
}

// NewClient validates the endpoint and constructs a client. The api key is
// sent as a bearer token when non-empty.
func NewClient(endpoint, apiKey string, timeout time.Duration) (*Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("oracle: endpoint required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("oracle: parse endpoint: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("oracle: unsupported endpoint scheme %q", parsed.Scheme)
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		httpDo:   &http.Client{Timeout: timeout},
	}, nil
}

type dispatchRequest struct {
	Handles []string `json:"handles"`
}

type dispatchResponse struct {
	RequestID string `json:"requestId"`
}

// RequestDecryption implements the engine's Dispatcher interface.
func (c *Client) RequestDecryption(ctx context.Context, handles [][]byte) (string, error) {
	if len(handles) == 0 {
		return "", fmt.Errorf("oracle: at least one handle required")
	}
	payload := dispatchRequest{Handles: make([]string, 0, len(handles))}
	for _, handle := range handles {
		payload.Handles = append(payload.Handles, hex.EncodeToString(handle))
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("oracle: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("oracle: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpDo.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var decoded dispatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("oracle: decode response: %w", err)
	}
	requestID := strings.TrimSpace(decoded.RequestID)
	if requestID == "" {
		return "", fmt.Errorf("oracle: response missing request id")
	}
	return requestID, nil
}
