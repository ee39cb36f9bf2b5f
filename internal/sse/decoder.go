package sse

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Decoder turns a sequence of raw byte chunks into a sequence of well-formed
// frames. Chunks may split anywhere, including mid-line and mid-rune: bytes
// are buffered and only complete lines are decoded to text, so a multi-byte
// UTF-8 sequence straddling a chunk boundary is never corrupted.
//
// A Decoder is stateful and serves exactly one stream. The zero value is
// ready to use.
type Decoder struct {
	buf  []byte
	done bool
}

// Done reports whether the terminal sentinel has been observed. Once done,
// further Decode calls are no-ops regardless of input.
func (d *Decoder) Done() bool { return d.done }

// Decode appends chunk to the internal buffer and returns every complete
// frame now available, in arrival order. Trailing bytes that do not yet form
// a complete line are retained for the next call; they are never emitted.
//
// Lines that do not carry the `data: ` prefix (blank keep-alives, comment
// lines) are dropped. A payload that fails to parse is skipped silently: one
// malformed frame must not kill the stream. The terminal sentinel emits a
// Done frame and latches the decoder, discarding anything after it.
func (d *Decoder) Decode(chunk []byte) []Frame {
	if d.done || len(chunk) == 0 && len(d.buf) == 0 {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var frames []Frame
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			return frames
		}
		line := string(d.buf[:i])
		d.buf = d.buf[i+1:]

		f, ok := decodeLine(line)
		if !ok {
			continue
		}
		frames = append(frames, f)
		if f.Done {
			d.done = true
			d.buf = nil
			return frames
		}
	}
}

func decodeLine(line string) (Frame, bool) {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, dataPrefix) {
		return Frame{}, false
	}
	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == DoneSentinel {
		return Frame{Done: true}, true
	}
	var chunk chunkPayload
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return Frame{}, false
	}
	if len(chunk.Choices) == 0 {
		return Frame{}, false
	}
	delta := chunk.Choices[0].Delta
	if delta.Content == "" && delta.Role == "" {
		return Frame{}, false
	}
	return Frame{Role: delta.Role, Content: delta.Content}, true
}
