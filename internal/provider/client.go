package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	// contextWindow caps how much conversation history is sent upstream.
	// Oldest messages are truncated first.
	contextWindow = 20

	systemInstruction = "You are a helpful assistant. Answer clearly and concisely, " +
		"and format code in fenced blocks."

	temperature = 0.7
	maxTokens   = 4000
)

// Client sends streaming completion requests to one provider.
type Client struct {
	provider   Name
	profile    Profile
	apiKey     string
	httpClient *http.Client
}

// Config holds configuration for a completion client.
type Config struct {
	Provider       Name
	APIKey         string
	BaseURL        string // optional, overrides the registry profile
	Model          string // optional, overrides the registry profile
	RequestTimeout time.Duration
}

// New creates a Client for the configured provider.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: api key required", cfg.Provider)
	}
	profile, err := Resolve(cfg.Provider)
	if err != nil {
		return nil, err
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		profile.BaseURL = strings.TrimSuffix(base, "/")
	}
	if model := strings.TrimSpace(cfg.Model); model != "" {
		profile.Model = model
	}

	// No default client timeout: http.Client.Timeout covers the body read
	// too, which would cut a long-lived stream mid-response. Connection
	// setup is bounded at the transport; a whole-request bound is strictly
	// opt-in via RequestTimeout.
	return &Client{
		provider: cfg.Provider,
		profile:  profile,
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}, nil
}

// Provider returns the provider this client talks to.
func (c *Client) Provider() Name { return c.provider }

// OpenStream performs the outbound call and returns the provider's live
// streaming body. The caller owns the returned reader and must close it.
// Non-2xx responses surface as *UpstreamError.
func (c *Client) OpenStream(ctx context.Context, messages []Message) (io.ReadCloser, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("%s: no messages provided", c.provider)
	}

	payload := map[string]interface{}{
		"model":       c.profile.Model,
		"messages":    buildContext(messages),
		"stream":      true,
		"temperature": temperature,
		"max_tokens":  maxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.provider, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.profile.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", c.provider, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: send request: %w", c.provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, c.upstreamError(resp)
	}

	return resp.Body, nil
}

// buildContext prepends the fixed system instruction and caps history to the
// most recent contextWindow messages.
func buildContext(messages []Message) []Message {
	if len(messages) > contextWindow {
		messages = messages[len(messages)-contextWindow:]
	}
	out := make([]Message, 0, len(messages)+1)
	out = append(out, Message{Role: "system", Content: systemInstruction})
	out = append(out, messages...)
	return out
}

// upstreamError reads the provider's structured error message when present,
// falling back to the HTTP status text.
func (c *Client) upstreamError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	msg := http.StatusText(resp.StatusCode)
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
	}
	return &UpstreamError{
		Provider:   c.provider,
		StatusCode: resp.StatusCode,
		Kind:       KindForStatus(resp.StatusCode),
		Message:    msg,
	}
}

// AsUpstreamError unwraps err into an *UpstreamError when possible.
func AsUpstreamError(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
