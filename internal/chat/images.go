package chat

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/candorchat/candor-relay/internal/classify"
	"github.com/candorchat/candor-relay/internal/provider/image"
)

// Assets produced here are self-contained data URLs so the conversation can
// be persisted and replayed without a separate blob store.
func assetDataURL(kind AssetKind, contentType string, data []byte) Asset {
	return Asset{
		Kind: kind,
		URL:  "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data),
	}
}

// decodeDataURL extracts the raw bytes from a data URL asset.
func decodeDataURL(url string) ([]byte, error) {
	_, b64, ok := strings.Cut(url, ";base64,")
	if !ok {
		return nil, errors.New("chat: asset is not a base64 data url")
	}
	return base64.StdEncoding.DecodeString(b64)
}

// DirectImages implements ImageService against the image provider with a
// local credential.
type DirectImages struct {
	client *image.Client
}

// NewDirectImages wraps an image client.
func NewDirectImages(client *image.Client) *DirectImages {
	return &DirectImages{client: client}
}

// Generate implements ImageService.
func (d *DirectImages) Generate(ctx context.Context, prompt string) (Asset, error) {
	res, err := d.client.Generate(ctx, prompt)
	if err != nil {
		return Asset{}, err
	}
	return assetDataURL(AssetGenerated, res.ContentType, res.Bytes), nil
}

// Edit implements ImageService. Background removal is the supported kind;
// the classifier routes anything else away before reaching here.
func (d *DirectImages) Edit(ctx context.Context, src Asset, kind classify.EditKind) (Asset, error) {
	if kind != classify.EditRemoveBackground {
		return Asset{}, fmt.Errorf("chat: unsupported edit kind %q", kind)
	}
	data, err := decodeDataURL(src.URL)
	if err != nil {
		return Asset{}, err
	}
	res, err := d.client.RemoveBackground(ctx, data)
	if err != nil {
		return Asset{}, err
	}
	return assetDataURL(AssetEdited, res.ContentType, res.Bytes), nil
}

// RelayImages implements ImageService through the relay's image endpoint, so
// no provider credential lives on the client. Edits still need a direct
// client; Fallback may be nil when editing is not configured.
type RelayImages struct {
	baseURL    string
	httpClient *http.Client
	// Fallback handles operations the relay does not expose.
	Fallback ImageService
}

// NewRelayImages creates a RelayImages targeting the relay at baseURL.
func NewRelayImages(baseURL string) *RelayImages {
	return &RelayImages{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{},
	}
}

// Generate implements ImageService.
func (r *RelayImages) Generate(ctx context.Context, prompt string) (Asset, error) {
	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return Asset{}, fmt.Errorf("chat: marshal image request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", r.baseURL+"/relay/image", bytes.NewReader(body))
	if err != nil {
		return Asset{}, fmt.Errorf("chat: create image request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return Asset{}, fmt.Errorf("chat: send image request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Asset{}, fmt.Errorf("chat: read image response: %w", err)
	}

	if resp.StatusCode == http.StatusServiceUnavailable {
		var hint struct {
			EstimatedTime float64 `json:"estimated_time"`
		}
		if err := json.Unmarshal(data, &hint); err == nil && hint.EstimatedTime > 0 {
			return Asset{}, &image.LoadingError{EstimatedTime: hint.EstimatedTime}
		}
	}
	if resp.StatusCode != http.StatusOK {
		var envelope struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error != "" {
			return Asset{}, fmt.Errorf("chat: image relay: %s", envelope.Error)
		}
		return Asset{}, fmt.Errorf("chat: image relay: http %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return assetDataURL(AssetGenerated, contentType, data), nil
}

// Edit implements ImageService by delegating to the fallback service.
func (r *RelayImages) Edit(ctx context.Context, src Asset, kind classify.EditKind) (Asset, error) {
	if r.Fallback == nil {
		return Asset{}, errors.New("chat: image editing requires a direct image credential")
	}
	return r.Fallback.Edit(ctx, src, kind)
}
