package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/candorchat/candor-relay/internal/provider"
	"github.com/candorchat/candor-relay/internal/sse"
)

// chatRequest is the inbound body for the streaming endpoint.
type chatRequest struct {
	Messages []provider.Message `json:"messages"`
	Provider provider.Name      `json:"provider"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	reqStart := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("relay: malformed request body: %w", err))
		return
	}
	if len(req.Messages) == 0 {
		s.respondError(w, http.StatusBadRequest, errors.New("relay: messages must be a non-empty array"))
		return
	}
	if req.Provider == "" {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf(
			"relay: provider is required, one of %v", provider.Names()))
		return
	}
	if _, err := provider.Resolve(req.Provider); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	client, ok := s.clients[req.Provider]
	if !ok {
		// Configuration, not client, error: the operator has to add the key.
		s.respondError(w, http.StatusInternalServerError, fmt.Errorf(
			"relay: no credential configured for provider %q: set %s in the relay config or the %s environment variable",
			req.Provider, credentialKey(req.Provider), envKey(req.Provider)))
		return
	}

	ctx := r.Context()
	if s.streamMax > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.streamMax)
		defer cancel()
	}

	upstream, err := client.OpenStream(ctx, req.Messages)
	if err != nil {
		if ue, ok := provider.AsUpstreamError(err); ok {
			s.respondError(w, ue.StatusCode, err)
			return
		}
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	defer upstream.Close()

	sse.SetStreamHeaders(w.Header())
	w.WriteHeader(http.StatusOK)

	forwarded := s.forward(w, upstream)

	// The caller always receives a terminal marker, whether the upstream
	// ended cleanly or the forwarding loop failed partway.
	_ = sse.WriteDone(w)

	if s.logger != nil {
		s.logger.Printf("relay.chat provider=%s frames=%d total_ms=%d",
			req.Provider, forwarded, time.Since(reqStart).Milliseconds())
	}
}

// forward pumps upstream bytes through the frame decoder and re-encodes
// content frames onto w. It returns the number of content frames forwarded.
// The terminal marker is NOT written here; handleChat owns that guarantee.
func (s *Server) forward(w http.ResponseWriter, upstream io.Reader) int {
	var dec sse.Decoder
	buf := make([]byte, 8192)
	forwarded := 0
	for {
		n, readErr := upstream.Read(buf)
		if n > 0 {
			for _, f := range dec.Decode(buf[:n]) {
				if f.Done {
					return forwarded
				}
				if f.Content == "" && f.Role == "" {
					continue
				}
				if err := sse.WriteDelta(w, f.Role, f.Content); err != nil {
					// Downstream went away; stop pumping so the upstream
					// connection is released via the deferred Close.
					s.debugf("relay.chat downstream write failed: %v", err)
					return forwarded
				}
				forwarded++
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				s.debugf("relay.chat upstream read failed: %v", readErr)
			}
			return forwarded
		}
	}
}
