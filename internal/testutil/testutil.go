// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
)

// Server is a live HTTP server bound to the IPv4 loopback interface. Some CI
// sandboxes resolve httptest's default listener to IPv6 only, which breaks
// clients configured with explicit IPv4 URLs, so tests here bind tcp4
// directly.
type Server struct {
	URL      string
	listener net.Listener
	server   *http.Server
	client   *http.Client
}

// NewServer starts a server for handler and registers cleanup on t.
func NewServer(t *testing.T, handler http.Handler) *Server {
	t.Helper()
	if handler == nil {
		handler = http.NewServeMux()
	}
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: tcp4 loopback unavailable (%v)", err)
	}
	transport := &http.Transport{}
	s := &Server{
		URL:      "http://" + l.Addr().String(),
		listener: l,
		server:   &http.Server{Handler: handler},
		client:   &http.Client{Transport: transport},
	}
	go func() {
		if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("testutil server error: %v", err)
		}
	}()
	t.Cleanup(func() {
		_ = s.server.Shutdown(context.Background())
		transport.CloseIdleConnections()
	})
	return s
}

// Client returns an HTTP client configured for the server.
func (s *Server) Client() *http.Client {
	return s.client
}
