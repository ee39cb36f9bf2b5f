// Package provider issues outbound chat-completion requests. Every supported
// provider speaks the chat-completions wire format; they differ only in base
// endpoint and model identifier, so adding a provider is a registry entry.
package provider

import "fmt"

// Name identifies an upstream completion provider.
type Name string

const (
	NameOpenAI   Name = "openai"
	NameDeepSeek Name = "deepseek"
)

// Profile describes where a provider lives and which model it serves.
type Profile struct {
	BaseURL string
	Model   string
}

// registry maps provider names to their profiles. Callers never branch on the
// name; they resolve a profile and construct a Client.
var registry = map[Name]Profile{
	NameOpenAI:   {BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini"},
	NameDeepSeek: {BaseURL: "https://api.deepseek.com/v1", Model: "deepseek-chat"},
}

// Resolve returns the profile for a provider name.
func Resolve(name Name) (Profile, error) {
	p, ok := registry[name]
	if !ok {
		return Profile{}, fmt.Errorf("provider: unknown provider %q", name)
	}
	return p, nil
}

// Names returns the registered provider names.
func Names() []Name {
	out := make([]Name, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	return out
}

// Message follows the role/content schema of the chat-completions format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ErrorKind partitions upstream failures into classes callers may react to
// differently. Rate limiting and server faults are retryable by the caller;
// this package itself never retries.
type ErrorKind string

const (
	KindAuth        ErrorKind = "auth"
	KindRateLimited ErrorKind = "rate_limited"
	KindServerFault ErrorKind = "server_fault"
	KindOther       ErrorKind = "other"
)

// UpstreamError carries a provider-reported failure.
type UpstreamError struct {
	Provider   Name
	StatusCode int
	Kind       ErrorKind
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.StatusCode, e.Message)
}

// KindForStatus maps an HTTP status to an error kind.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 429:
		return KindRateLimited
	case status >= 500:
		return KindServerFault
	default:
		return KindOther
	}
}
