package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/candorchat/candor-relay/internal/provider/image"
)

// imageRequest is the inbound body for the image side-channel.
type imageRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	if s.imageClient == nil {
		s.respondError(w, http.StatusInternalServerError, fmt.Errorf(
			"relay: image provider not configured: set image_api_key in the relay config or the CANDOR_IMAGE_API_KEY environment variable"))
		return
	}

	var req imageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("relay: malformed request body: %w", err))
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("relay: prompt must be a non-empty string"))
		return
	}

	result, err := s.imageClient.Generate(r.Context(), req.Prompt)
	if err != nil {
		if le, ok := image.AsLoadingError(err); ok {
			// Loading is transient; give the caller a retry-after hint
			// instead of a bare failure.
			s.respondJSON(w, http.StatusServiceUnavailable, map[string]any{
				"error":          "image model is loading, retry shortly",
				"estimated_time": le.EstimatedTime,
			})
			return
		}
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Bytes)
}
