// Package image calls a hosted text-to-image inference endpoint. Generation
// is synchronous: one prompt in, raw image bytes out.
package image

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client sends generation requests to the image provider.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// Config holds configuration for the image client.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to the hosted inference API
	Model          string // optional
	RequestTimeout time.Duration
}

// New creates a Client instance.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("image: api key required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api-inference.huggingface.co"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "stabilityai/stable-diffusion-xl-base-1.0"
	}

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Result carries generated image bytes with the provider-reported media type.
type Result struct {
	Bytes       []byte
	ContentType string
}

// LoadingError reports that the hosted model is still warming up. EstimatedTime
// is the provider's suggested wait in seconds.
type LoadingError struct {
	EstimatedTime float64
}

func (e *LoadingError) Error() string {
	return fmt.Sprintf("image: model loading, retry in ~%.0fs", e.EstimatedTime)
}

// AsLoadingError unwraps err into a *LoadingError when possible.
func AsLoadingError(err error) (*LoadingError, bool) {
	var le *LoadingError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// Generate synthesizes one image from a text prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (Result, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Result{}, errors.New("image: prompt required")
	}

	body, err := json.Marshal(map[string]string{"inputs": prompt})
	if err != nil {
		return Result{}, fmt.Errorf("image: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/models/"+c.model, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("image: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("image: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		var loading struct {
			Error         string  `json:"error"`
			EstimatedTime float64 `json:"estimated_time"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&loading); err == nil && loading.EstimatedTime > 0 {
			return Result{}, &LoadingError{EstimatedTime: loading.EstimatedTime}
		}
		return Result{}, &LoadingError{EstimatedTime: 30}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("image: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error != "" {
			return Result{}, fmt.Errorf("image: http %d: %s", resp.StatusCode, errResp.Error)
		}
		return Result{}, fmt.Errorf("image: http %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return Result{Bytes: data, ContentType: contentType}, nil
}

// backgroundModel is the hosted segmentation model used for removal.
const backgroundModel = "briaai/RMBG-1.4"

// RemoveBackground strips the background from src, returning the cut-out.
// Shares the loading/retry semantics of Generate.
func (c *Client) RemoveBackground(ctx context.Context, src []byte) (Result, error) {
	if len(src) == 0 {
		return Result{}, errors.New("image: source image required")
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/models/"+backgroundModel, bytes.NewReader(src))
	if err != nil {
		return Result{}, fmt.Errorf("image: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("image: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		var loading struct {
			EstimatedTime float64 `json:"estimated_time"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&loading); err == nil && loading.EstimatedTime > 0 {
			return Result{}, &LoadingError{EstimatedTime: loading.EstimatedTime}
		}
		return Result{}, &LoadingError{EstimatedTime: 30}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("image: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("image: http %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return Result{Bytes: data, ContentType: contentType}, nil
}
