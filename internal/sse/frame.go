// Package sse implements the line-delimited event codec spoken between the
// relay, the upstream providers, and the stream consumer. Both sides of the
// wire use the same frame shape: `data: <json>` lines carrying a content
// delta, and the literal `data: [DONE]` sentinel terminating the stream.
package sse

// DoneSentinel is the literal payload that terminates a stream.
const DoneSentinel = "[DONE]"

// dataPrefix is the event-prefix convention for payload lines.
const dataPrefix = "data: "

// Frame is a single decoded protocol unit: either a content delta or the
// terminal marker. Frames are transient and never persisted.
type Frame struct {
	Role    string
	Content string
	Done    bool
}

// chunkPayload mirrors the chat-completions chunk schema far enough to pull
// the delta out. Unknown fields are ignored.
type chunkPayload struct {
	Choices []struct {
		Delta struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// deltaEnvelope is the encode-side counterpart of chunkPayload.
type deltaEnvelope struct {
	Choices []deltaChoice `json:"choices"`
}

type deltaChoice struct {
	Delta deltaBody `json:"delta"`
}

type deltaBody struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}
