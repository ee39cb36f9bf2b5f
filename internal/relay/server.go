// Package relay implements the credential-holding edge service that sits
// between browser clients and the upstream completion providers.
package relay

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/candorchat/candor-relay/internal/health"
	"github.com/candorchat/candor-relay/internal/provider"
	"github.com/candorchat/candor-relay/internal/provider/image"
)

// CompletionClient is the upstream seam the chat handler drives. Satisfied by
// *provider.Client.
type CompletionClient interface {
	OpenStream(ctx context.Context, messages []provider.Message) (io.ReadCloser, error)
}

// ImageClient is the seam for the non-streaming image side-channel.
type ImageClient interface {
	Generate(ctx context.Context, prompt string) (image.Result, error)
}

// Server exposes the relay endpoints. All request-time state is read-only;
// each inbound connection gets an independent forwarding loop.
type Server struct {
	clients     map[provider.Name]CompletionClient
	credentials map[provider.Name]string // config key names, for diagnostics
	imageClient ImageClient

	allowedOrigins map[string]struct{} // empty means any
	streamMax      time.Duration       // 0 disables the duration bound

	health *health.Checker // optional

	logger   *log.Logger
	logLevel string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *log.Logger, level string) Option {
	return func(s *Server) {
		s.logger = l
		s.logLevel = strings.ToLower(strings.TrimSpace(level))
	}
}

// WithImageClient wires the image synthesis side-channel.
func WithImageClient(c ImageClient) Option {
	return func(s *Server) { s.imageClient = c }
}

// WithAllowedOrigins restricts which origins are echoed in CORS headers.
// An empty list allows any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		for _, o := range origins {
			o = strings.TrimSpace(o)
			if o != "" {
				s.allowedOrigins[o] = struct{}{}
			}
		}
	}
}

// WithStreamMaxDuration bounds the total lifetime of one forwarded stream.
func WithStreamMaxDuration(d time.Duration) Option {
	return func(s *Server) { s.streamMax = d }
}

// WithHealthChecker enriches /healthz with dependency probes.
func WithHealthChecker(c *health.Checker) Option {
	return func(s *Server) { s.health = c }
}

// NewServer creates a relay Server. clients maps each configured provider to
// its completion client; providers without a configured credential are simply
// absent and reported as configuration errors at request time.
func NewServer(clients map[provider.Name]CompletionClient, opts ...Option) *Server {
	s := &Server{
		clients:        clients,
		credentials:    map[provider.Name]string{},
		allowedOrigins: map[string]struct{}{},
	}
	for name := range clients {
		s.credentials[name] = credentialKey(name)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// credentialKey names the config entry holding a provider's API key. Used in
// operator-facing error messages so a missing key is self-diagnosable.
func credentialKey(name provider.Name) string {
	return string(name) + "_api_key"
}

// envKey names the environment override for a provider's API key.
func envKey(name provider.Name) string {
	return "CANDOR_" + strings.ToUpper(string(name)) + "_API_KEY"
}

// Router returns the configured chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	r.Post("/relay/chat", s.handleChat)
	r.Post("/relay/image", s.handleImage)
	r.Get("/healthz", s.handleHealthz)
	return r
}

// corsMiddleware applies permissive-but-credential-aware CORS headers to
// every response and short-circuits preflight before any business logic.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		h := w.Header()
		h.Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if origin != "" && s.originAllowed(origin) {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Vary", "Origin")
		} else {
			h.Set("Access-Control-Allow-Origin", "*")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.allowedOrigins) == 0 {
		return true
	}
	_, ok := s.allowedOrigins[origin]
	return ok
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	providers := make([]string, 0, len(s.clients))
	for name := range s.clients {
		providers = append(providers, string(name))
	}
	payload := map[string]any{
		"status":    "ok",
		"providers": providers,
		"image":     s.imageClient != nil,
	}
	status := http.StatusOK
	if s.health != nil {
		report := s.health.Check(r.Context())
		payload["status"] = string(report.Status)
		payload["components"] = report.Components
		if report.Status == health.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
	}
	s.respondJSON(w, status, payload)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if s.logger != nil {
		s.logger.Printf("relay error status=%d err=%v", status, err)
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}

func (s *Server) debugf(format string, args ...any) {
	if s.logger != nil && s.logLevel == "debug" {
		s.logger.Printf("DEBUG "+format, args...)
	}
}
