package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/candorchat/candor-relay/internal/provider"
)

// RelayBackend opens completion streams through the edge relay. No credential
// travels with the request; the relay holds it.
type RelayBackend struct {
	baseURL    string
	provider   provider.Name
	httpClient *http.Client
}

// NewRelayBackend creates a backend targeting the relay at baseURL.
func NewRelayBackend(baseURL string, name provider.Name) *RelayBackend {
	return &RelayBackend{
		baseURL:  strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		provider: name,
		// No client timeout: streams are long-lived and bounded by ctx.
		httpClient: &http.Client{},
	}
}

// OpenStream implements CompletionBackend.
func (b *RelayBackend) OpenStream(ctx context.Context, messages []provider.Message) (io.ReadCloser, error) {
	payload := map[string]interface{}{
		"messages": messages,
		"provider": b.provider,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("relay backend: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", b.baseURL+"/relay/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("relay backend: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("relay backend: send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		var envelope struct {
			Error string `json:"error"`
		}
		msg := http.StatusText(resp.StatusCode)
		if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error != "" {
			msg = envelope.Error
		}
		return nil, &provider.UpstreamError{
			Provider:   b.provider,
			StatusCode: resp.StatusCode,
			Kind:       provider.KindForStatus(resp.StatusCode),
			Message:    msg,
		}
	}
	return resp.Body, nil
}
