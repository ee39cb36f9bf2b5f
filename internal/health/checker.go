// Package health probes the relay's dependencies: the conversation store
// database and the upstream provider endpoints.
package health

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Status grades a component or the overall system.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Component is one probed dependency.
type Component struct {
	Name    string        `json:"name"`
	Type    string        `json:"type"`
	Status  Status        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
}

// Report is the aggregate of one Check run.
type Report struct {
	Status     Status      `json:"status"`
	Components []Component `json:"components"`
	CheckedAt  time.Time   `json:"checked_at"`
}

// Config names the dependencies to probe. Nil or empty entries are skipped.
type Config struct {
	StoreDB *sql.DB
	// Endpoint base URLs keyed by a display name, e.g. "openai_api".
	Endpoints map[string]string

	DBTimeout   time.Duration
	HTTPTimeout time.Duration
	// Store pings slower than this grade the component degraded.
	MaxDBLatency time.Duration
}

// Checker runs dependency probes concurrently.
type Checker struct {
	storeDB      *sql.DB
	endpoints    map[string]string
	dbTimeout    time.Duration
	httpTimeout  time.Duration
	maxDBLatency time.Duration
}

// New creates a Checker.
func New(cfg Config) *Checker {
	if cfg.DBTimeout == 0 {
		cfg.DBTimeout = 2 * time.Second
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}
	if cfg.MaxDBLatency == 0 {
		cfg.MaxDBLatency = 100 * time.Millisecond
	}
	return &Checker{
		storeDB:      cfg.StoreDB,
		endpoints:    cfg.Endpoints,
		dbTimeout:    cfg.DBTimeout,
		httpTimeout:  cfg.HTTPTimeout,
		maxDBLatency: cfg.MaxDBLatency,
	}
}

// Check probes every configured dependency and aggregates the result.
func (c *Checker) Check(ctx context.Context) Report {
	var wg sync.WaitGroup
	results := make(chan Component, 1+len(c.endpoints))

	if c.storeDB != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.checkStore(ctx)
		}()
	}
	for name, url := range c.endpoints {
		if url == "" {
			continue
		}
		wg.Add(1)
		go func(name, url string) {
			defer wg.Done()
			results <- c.checkEndpoint(ctx, name, url)
		}(name, url)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	report := Report{Status: StatusHealthy, CheckedAt: time.Now().UTC()}
	for comp := range results {
		report.Components = append(report.Components, comp)
		switch comp.Status {
		case StatusUnhealthy:
			// A dead store takes the whole relay down; an unreachable
			// upstream only degrades it.
			if comp.Type == "database" {
				report.Status = StatusUnhealthy
			} else if report.Status != StatusUnhealthy {
				report.Status = StatusDegraded
			}
		case StatusDegraded:
			if report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
		}
	}
	return report
}

func (c *Checker) checkStore(ctx context.Context) Component {
	comp := Component{Name: "conversation_store", Type: "database"}

	dbCtx, cancel := context.WithTimeout(ctx, c.dbTimeout)
	defer cancel()

	start := time.Now()
	err := c.storeDB.PingContext(dbCtx)
	comp.Latency = time.Since(start)

	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Message = "store unreachable"
		return comp
	}
	if comp.Latency > c.maxDBLatency {
		comp.Status = StatusDegraded
		comp.Message = fmt.Sprintf("high latency: %v", comp.Latency)
		return comp
	}
	comp.Status = StatusHealthy
	comp.Message = "connected"
	return comp
}

// checkEndpoint treats any HTTP response, including 4xx, as reachable; the
// probe carries no credential so auth failures are expected.
func (c *Checker) checkEndpoint(ctx context.Context, name, baseURL string) Component {
	comp := Component{Name: name, Type: "http"}

	client := &http.Client{Timeout: c.httpTimeout}
	req, err := http.NewRequestWithContext(ctx, "GET", baseURL, nil)
	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		return comp
	}

	start := time.Now()
	resp, err := client.Do(req)
	comp.Latency = time.Since(start)

	if err != nil {
		comp.Status = StatusDegraded
		comp.Error = err.Error()
		comp.Message = "endpoint unreachable"
		return comp
	}
	defer resp.Body.Close()

	comp.Status = StatusHealthy
	comp.Message = fmt.Sprintf("reachable (HTTP %d)", resp.StatusCode)
	return comp
}
