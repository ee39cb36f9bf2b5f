package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/candorchat/candor-relay/internal/provider"
	"github.com/candorchat/candor-relay/internal/provider/image"
)

// fakeUpstream returns a canned byte stream, optionally failing mid-read.
type fakeUpstream struct {
	body    string
	failMid bool

	opened   int
	messages []provider.Message
}

func (f *fakeUpstream) OpenStream(ctx context.Context, messages []provider.Message) (io.ReadCloser, error) {
	f.opened++
	f.messages = messages
	if f.failMid {
		return io.NopCloser(&brokenReader{data: []byte(f.body)}), nil
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

// brokenReader yields its data then errors instead of returning EOF.
type brokenReader struct {
	data []byte
	off  int
}

func (r *brokenReader) Read(p []byte) (int, error) {
	if r.off >= len(r.data) {
		return 0, errors.New("connection reset")
	}
	n := copy(p, r.data[r.off:])
	r.off += n
	return n, nil
}

type fakeImage struct {
	result image.Result
	err    error
}

func (f *fakeImage) Generate(ctx context.Context, prompt string) (image.Result, error) {
	return f.result, f.err
}

func postChat(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/relay/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestChat_ForwardsStreamAndTerminates(t *testing.T) {
	up := &fakeUpstream{body: "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\",\"content\":\"Hel\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
		"data: [DONE]\n\n"}
	s := NewServer(map[provider.Name]CompletionClient{provider.NameOpenAI: up})

	rec := postChat(t, s, `{"messages":[{"role":"user","content":"hi"}],"provider":"openai"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content type = %q, want event stream", ct)
	}
	out := rec.Body.String()
	if !strings.Contains(out, "Hel") || !strings.Contains(out, "lo") {
		t.Errorf("body missing forwarded deltas: %q", out)
	}
	if got := strings.Count(out, "data: [DONE]"); got != 1 {
		t.Errorf("terminal marker count = %d, want exactly 1", got)
	}
}

func TestChat_TerminalMarkerOnMidStreamFailure(t *testing.T) {
	up := &fakeUpstream{
		body:    "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n",
		failMid: true,
	}
	s := NewServer(map[provider.Name]CompletionClient{provider.NameOpenAI: up})

	rec := postChat(t, s, `{"messages":[{"role":"user","content":"hi"}],"provider":"openai"}`)
	out := rec.Body.String()
	if !strings.Contains(out, "partial") {
		t.Errorf("partial content should still be forwarded: %q", out)
	}
	if got := strings.Count(out, "data: [DONE]"); got != 1 {
		t.Errorf("terminal marker count = %d, want exactly 1 even after upstream failure", got)
	}
}

func TestChat_MalformedFrameSwallowed(t *testing.T) {
	up := &fakeUpstream{body: "data: {bad\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n" +
		"data: [DONE]\n\n"}
	s := NewServer(map[provider.Name]CompletionClient{provider.NameOpenAI: up})

	out := postChat(t, s, `{"messages":[{"role":"user","content":"hi"}],"provider":"openai"}`).Body.String()
	if !strings.Contains(out, "\"content\":\"x\"") {
		t.Errorf("valid frame after malformed one not forwarded: %q", out)
	}
	if strings.Contains(out, "{bad") {
		t.Errorf("malformed frame leaked downstream: %q", out)
	}
}

func TestChat_EmptyMessagesRejectedBeforeUpstream(t *testing.T) {
	up := &fakeUpstream{}
	s := NewServer(map[provider.Name]CompletionClient{provider.NameOpenAI: up})

	tests := []struct {
		name string
		body string
	}{
		{"empty array", `{"messages":[],"provider":"openai"}`},
		{"missing field", `{"provider":"openai"}`},
		{"wrong type", `{"messages":"nope"}`},
		{"not json", `hello`},
		{"missing provider", `{"messages":[{"role":"user","content":"hi"}]}`},
		{"unknown provider", `{"messages":[{"role":"user","content":"hi"}],"provider":"claude"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postChat(t, s, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			var envelope struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil || envelope.Error == "" {
				t.Errorf("body = %q, want error envelope", rec.Body.String())
			}
		})
	}
	if up.opened != 0 {
		t.Errorf("upstream opened %d times, want 0", up.opened)
	}
}

func TestChat_MissingCredential(t *testing.T) {
	s := NewServer(map[provider.Name]CompletionClient{provider.NameOpenAI: &fakeUpstream{}})

	rec := postChat(t, s, `{"messages":[{"role":"user","content":"hi"}],"provider":"deepseek"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "deepseek_api_key") {
		t.Errorf("error should name the missing credential key: %q", body)
	}
	if !strings.Contains(body, "CANDOR_DEEPSEEK_API_KEY") {
		t.Errorf("error should name the env override for remediation: %q", body)
	}
}

func TestChat_UpstreamStatusPassthrough(t *testing.T) {
	up := &upstreamErrClient{err: &provider.UpstreamError{
		Provider:   provider.NameOpenAI,
		StatusCode: http.StatusTooManyRequests,
		Kind:       provider.KindRateLimited,
		Message:    "Rate limit reached",
	}}
	s := NewServer(map[provider.Name]CompletionClient{provider.NameOpenAI: up})

	rec := postChat(t, s, `{"messages":[{"role":"user","content":"hi"}],"provider":"openai"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want upstream 429 passed through", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Rate limit reached") {
		t.Errorf("body = %q, want upstream message", rec.Body.String())
	}
}

type upstreamErrClient struct{ err error }

func (c *upstreamErrClient) OpenStream(ctx context.Context, messages []provider.Message) (io.ReadCloser, error) {
	return nil, c.err
}

func TestPreflightShortCircuits(t *testing.T) {
	up := &fakeUpstream{}
	s := NewServer(map[provider.Name]CompletionClient{provider.NameOpenAI: up})

	req := httptest.NewRequest("OPTIONS", "/relay/chat", nil)
	req.Header.Set("Origin", "https://chat.example.com")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if up.opened != 0 {
		t.Error("preflight must not touch the upstream client")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://chat.example.com" {
		t.Errorf("Allow-Origin = %q, want echoed origin", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Allow-Credentials = %q, want true when origin echoed", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "POST, OPTIONS, GET" {
		t.Errorf("Allow-Methods = %q", got)
	}
}

func TestCORSHeadersOnErrors(t *testing.T) {
	s := NewServer(map[provider.Name]CompletionClient{})
	req := httptest.NewRequest("POST", "/relay/chat", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want * without a caller origin", got)
	}
}

func TestCORSAllowlist(t *testing.T) {
	s := NewServer(map[provider.Name]CompletionClient{},
		WithAllowedOrigins([]string{"https://allowed.example.com"}))

	req := httptest.NewRequest("OPTIONS", "/relay/chat", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want * for unlisted origin (no credentials)", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("Allow-Credentials = %q, want unset for unlisted origin", got)
	}
}

func TestImage_Success(t *testing.T) {
	s := NewServer(nil, WithImageClient(&fakeImage{
		result: image.Result{Bytes: []byte{1, 2, 3}, ContentType: "image/png"},
	}))

	req := httptest.NewRequest("POST", "/relay/image", strings.NewReader(`{"prompt":"a fox"}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q, want image/png", ct)
	}
	if rec.Body.Len() != 3 {
		t.Errorf("body length = %d, want 3", rec.Body.Len())
	}
}

func TestImage_ModelLoadingHint(t *testing.T) {
	s := NewServer(nil, WithImageClient(&fakeImage{
		err: &image.LoadingError{EstimatedTime: 20},
	}))

	req := httptest.NewRequest("POST", "/relay/image", strings.NewReader(`{"prompt":"a fox"}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var payload struct {
		Error         string  `json:"error"`
		EstimatedTime float64 `json:"estimated_time"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload.EstimatedTime != 20 || payload.Error == "" {
		t.Errorf("payload = %+v, want retry-after hint", payload)
	}
}

func TestImage_MissingPromptAndConfig(t *testing.T) {
	withClient := NewServer(nil, WithImageClient(&fakeImage{}))
	req := httptest.NewRequest("POST", "/relay/image", strings.NewReader(`{"prompt":" "}`))
	rec := httptest.NewRecorder()
	withClient.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank prompt: status = %d, want 400", rec.Code)
	}

	without := NewServer(nil)
	req = httptest.NewRequest("POST", "/relay/image", strings.NewReader(`{"prompt":"a fox"}`))
	rec = httptest.NewRecorder()
	without.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("unconfigured: status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "image_api_key") {
		t.Errorf("error should name the missing credential: %q", rec.Body.String())
	}
}
