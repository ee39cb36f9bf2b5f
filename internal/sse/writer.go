package sse

import (
	"encoding/json"
	"io"
	"net/http"
)

// SetStreamHeaders applies the response headers every streaming reply carries.
func SetStreamHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
}

// WriteDelta emits one content frame in the outbound wire format and flushes
// when the writer supports it.
func WriteDelta(w io.Writer, role, content string) error {
	env := deltaEnvelope{Choices: []deltaChoice{{Delta: deltaBody{Role: role, Content: content}}}}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, dataPrefix+string(payload)+"\n\n"); err != nil {
		return err
	}
	flush(w)
	return nil
}

// WriteDone emits the terminal sentinel. Callers must send it exactly once
// per stream, whether the upstream ended cleanly or not.
func WriteDone(w io.Writer) error {
	if _, err := io.WriteString(w, dataPrefix+DoneSentinel+"\n\n"); err != nil {
		return err
	}
	flush(w)
	return nil
}

func flush(w io.Writer) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
