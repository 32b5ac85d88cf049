package bots

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// HTTPLauncher implements Launcher against an external bot runner that connects its bots
// through the public websocket endpoint.
type HTTPLauncher struct {
	client   *http.Client
	endpoint string
	token    string
}

// NewHTTPLauncher wires an HTTP client to the remote bot runner endpoint. A non-empty token
// is sent as a bearer credential.
func NewHTTPLauncher(endpoint string, client *http.Client, token string) (*HTTPLauncher, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("endpoint must not be empty")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPLauncher{endpoint: endpoint, client: client, token: strings.TrimSpace(token)}, nil
}

// Scale relays the requested bot population to the remote launcher service.
func (l *HTTPLauncher) Scale(ctx context.Context, target int) (int, error) {
	if l == nil {
		return 0, errors.New("launcher is nil")
	}
	if target < 0 {
		return 0, errors.New("target must be non-negative")
	}
	body, err := json.Marshal(map[string]int{"target": target})
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if l.token != "" {
		req.Header.Set("Authorization", "Bearer "+l.token)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send scale request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("launcher responded with status %s", resp.Status)
	}
	decoded := struct {
		Running *int `json:"running"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	//1.- Honour the remote count when provided so metrics reflect the external truth.
	if decoded.Running != nil && *decoded.Running >= 0 {
		return *decoded.Running, nil
	}
	return target, nil
}
