// Package stream consumes a relayed (or direct) completion byte stream and
// yields content increments to the orchestrator.
//
// The sequence is lazy, single-pass and non-restartable: read the channel
// until an Event carrying Done or Err, then stop. Cancellation flows through
// the context handed to the backend.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/candorchat/candor-relay/internal/provider"
	"github.com/candorchat/candor-relay/internal/sse"
)

// Chunk is the unit yielded to the caller. Done carries no content and is
// always the last value produced.
type Chunk struct {
	Content string
	Done    bool
}

// Event is one step of the consumed sequence. Exactly one of Chunk and Err
// is set; an Err event terminates the sequence.
type Event struct {
	Chunk *Chunk
	Err   error
}

// CompletionBackend opens a raw completion byte stream for a message list.
// Two implementations exist: RelayBackend (through the edge relay) and
// DirectBackend (straight to a provider with a local credential).
type CompletionBackend interface {
	OpenStream(ctx context.Context, messages []provider.Message) (io.ReadCloser, error)
}

// Options selects the backend for Open.
type Options struct {
	// RelayURL, when set, routes the request through the relay. The relay
	// holds the credential; APIKey is not needed.
	RelayURL string
	// APIKey enables a direct provider call when no relay is configured.
	APIKey   string
	Provider provider.Name
}

// ResolveBackend applies the selection rule: use the relay when one is
// configured and no local credential was supplied, else call the provider
// directly.
func ResolveBackend(opts Options) (CompletionBackend, error) {
	// The relay requires an explicit provider on the wire; the default
	// lives here, at the consumer seam.
	if opts.Provider == "" {
		opts.Provider = provider.NameOpenAI
	}
	if opts.RelayURL != "" && opts.APIKey == "" {
		return NewRelayBackend(opts.RelayURL, opts.Provider), nil
	}
	if opts.APIKey == "" {
		return nil, errors.New("stream: neither relay URL nor api key configured")
	}
	client, err := provider.New(provider.Config{Provider: opts.Provider, APIKey: opts.APIKey})
	if err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}
	return client, nil
}

// Open drives the frame decoder over the backend's byte stream and returns a
// channel of events. The channel is closed after the terminal event. A read
// failure mid-stream surfaces as an Err event, never a silent end.
func Open(ctx context.Context, backend CompletionBackend, messages []provider.Message) (<-chan Event, error) {
	body, err := backend.OpenStream(ctx, messages)
	if err != nil {
		return nil, err
	}

	ch := make(chan Event, 10)
	go func() {
		defer close(ch)
		defer body.Close()

		var dec sse.Decoder
		buf := make([]byte, 8192)
		for {
			select {
			case <-ctx.Done():
				ch <- Event{Err: ctx.Err()}
				return
			default:
			}

			n, readErr := body.Read(buf)
			if n > 0 {
				for _, f := range dec.Decode(buf[:n]) {
					if f.Done {
						ch <- Event{Chunk: &Chunk{Done: true}}
						return
					}
					if f.Content == "" {
						continue
					}
					ch <- Event{Chunk: &Chunk{Content: f.Content}}
				}
			}
			if readErr != nil {
				if readErr == io.EOF {
					// Upstream closed without a terminal marker. Treat as
					// clean end so the caller is never left hanging.
					ch <- Event{Chunk: &Chunk{Done: true}}
					return
				}
				ch <- Event{Err: fmt.Errorf("stream: read: %w", readErr)}
				return
			}
		}
	}()
	return ch, nil
}
