package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/candorchat/candor-relay/internal/provider"
	"github.com/candorchat/candor-relay/internal/testutil"
)

type readerBackend struct {
	r io.ReadCloser
}

func (b *readerBackend) OpenStream(ctx context.Context, messages []provider.Message) (io.ReadCloser, error) {
	return b.r, nil
}

// drip feeds its payload one byte at a time to exercise chunk reassembly.
type drip struct {
	data []byte
	off  int
	err  error // returned after data is exhausted; nil means EOF
}

func (d *drip) Read(p []byte) (int, error) {
	if d.off >= len(d.data) {
		if d.err != nil {
			return 0, d.err
		}
		return 0, io.EOF
	}
	p[0] = d.data[d.off]
	d.off++
	return 1, nil
}

func (d *drip) Close() error { return nil }

func gather(t *testing.T, ch <-chan Event) (string, bool, error) {
	t.Helper()
	var b strings.Builder
	for ev := range ch {
		if ev.Err != nil {
			return b.String(), false, ev.Err
		}
		if ev.Chunk.Done {
			return b.String(), true, nil
		}
		b.WriteString(ev.Chunk.Content)
	}
	return b.String(), false, nil
}

const wire = "data: {\"choices\":[{\"delta\":{\"content\":\"Explain \"}}]}\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"recursion\"}}]}\n\n" +
	"data: [DONE]\n\n"

func TestOpen_SingleWrite(t *testing.T) {
	ch, err := Open(context.Background(), &readerBackend{r: io.NopCloser(strings.NewReader(wire))}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	text, done, err := gather(t, ch)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if !done {
		t.Error("sequence must end with a Done chunk")
	}
	if text != "Explain recursion" {
		t.Errorf("text = %q, want %q", text, "Explain recursion")
	}
}

// Byte-at-a-time delivery must concatenate to the same text as one write.
func TestOpen_ManySmallWrites(t *testing.T) {
	ch, err := Open(context.Background(), &readerBackend{r: &drip{data: []byte(wire)}}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	text, done, err := gather(t, ch)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if !done || text != "Explain recursion" {
		t.Errorf("text = %q done = %v, want %q true", text, done, "Explain recursion")
	}
}

func TestOpen_ReadFailurePropagates(t *testing.T) {
	partial := "data: {\"choices\":[{\"delta\":{\"content\":\"par\"}}]}\n\n"
	ch, err := Open(context.Background(), &readerBackend{
		r: &drip{data: []byte(partial), err: errors.New("connection reset")},
	}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	text, done, serr := gather(t, ch)
	if serr == nil {
		t.Fatal("read failure must surface, not end the stream silently")
	}
	if done {
		t.Error("errored stream must not report Done")
	}
	if text != "par" {
		t.Errorf("partial text = %q, want %q", text, "par")
	}
}

func TestOpen_EOFWithoutSentinelEndsCleanly(t *testing.T) {
	ch, err := Open(context.Background(), &readerBackend{
		r: io.NopCloser(strings.NewReader("data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n")),
	}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	text, done, serr := gather(t, ch)
	if serr != nil || !done || text != "x" {
		t.Errorf("got text=%q done=%v err=%v, want clean end", text, done, serr)
	}
}

func TestOpen_TrailingBytesAfterSentinelIgnored(t *testing.T) {
	body := wire + "data: {\"choices\":[{\"delta\":{\"content\":\"late\"}}]}\n\n"
	ch, err := Open(context.Background(), &readerBackend{r: io.NopCloser(strings.NewReader(body))}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	text, done, serr := gather(t, ch)
	if serr != nil || !done {
		t.Fatalf("err=%v done=%v", serr, done)
	}
	if strings.Contains(text, "late") {
		t.Errorf("content after sentinel consumed: %q", text)
	}
}

func TestRelayBackend_RoundTrip(t *testing.T) {
	server := testutil.NewServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/relay/chat" {
			t.Errorf("path = %q, want /relay/chat", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "" {
			t.Errorf("no credential should travel to the relay, got %q", auth)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, wire)
	}))

	backend := NewRelayBackend(server.URL, provider.NameOpenAI)
	ch, err := Open(context.Background(), backend, []provider.Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	text, done, serr := gather(t, ch)
	if serr != nil || !done || text != "Explain recursion" {
		t.Errorf("got text=%q done=%v err=%v", text, done, serr)
	}
}

func TestRelayBackend_ErrorEnvelope(t *testing.T) {
	server := testutil.NewServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":"rate limited, retry later"}`)
	}))

	backend := NewRelayBackend(server.URL, provider.NameOpenAI)
	_, err := backend.OpenStream(context.Background(), []provider.Message{{Role: "user", Content: "hi"}})
	ue, ok := provider.AsUpstreamError(err)
	if !ok {
		t.Fatalf("error = %v, want *provider.UpstreamError", err)
	}
	if ue.Kind != provider.KindRateLimited {
		t.Errorf("kind = %q, want rate_limited", ue.Kind)
	}
	if !strings.Contains(ue.Message, "rate limited") {
		t.Errorf("message = %q", ue.Message)
	}
}

func TestResolveBackend(t *testing.T) {
	t.Run("relay when configured and no key", func(t *testing.T) {
		b, err := ResolveBackend(Options{RelayURL: "http://relay.local", Provider: provider.NameOpenAI})
		if err != nil {
			t.Fatalf("ResolveBackend() error = %v", err)
		}
		if _, ok := b.(*RelayBackend); !ok {
			t.Errorf("backend = %T, want *RelayBackend", b)
		}
	})
	t.Run("direct when key given", func(t *testing.T) {
		b, err := ResolveBackend(Options{RelayURL: "http://relay.local", APIKey: "sk-x", Provider: provider.NameOpenAI})
		if err != nil {
			t.Fatalf("ResolveBackend() error = %v", err)
		}
		if _, ok := b.(*provider.Client); !ok {
			t.Errorf("backend = %T, want *provider.Client", b)
		}
	})
	t.Run("empty provider defaults for the wire", func(t *testing.T) {
		b, err := ResolveBackend(Options{RelayURL: "http://relay.local"})
		if err != nil {
			t.Fatalf("ResolveBackend() error = %v", err)
		}
		rb, ok := b.(*RelayBackend)
		if !ok {
			t.Fatalf("backend = %T, want *RelayBackend", b)
		}
		if rb.provider != provider.NameOpenAI {
			t.Errorf("provider = %q, want explicit default %q", rb.provider, provider.NameOpenAI)
		}
	})
	t.Run("neither configured", func(t *testing.T) {
		if _, err := ResolveBackend(Options{Provider: provider.NameOpenAI}); err == nil {
			t.Error("expected error with no relay and no key")
		}
	})
}
