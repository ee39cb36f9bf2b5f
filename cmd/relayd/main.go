package main

import (
	"context"
	"database/sql"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/candorchat/candor-relay/internal/chat/postgres"
	"github.com/candorchat/candor-relay/internal/chat/sqlite"
	"github.com/candorchat/candor-relay/internal/config"
	"github.com/candorchat/candor-relay/internal/health"
	"github.com/candorchat/candor-relay/internal/logging"
	"github.com/candorchat/candor-relay/internal/provider"
	"github.com/candorchat/candor-relay/internal/provider/image"
	"github.com/candorchat/candor-relay/internal/relay"
	"github.com/candorchat/candor-relay/internal/version"
)

func main() {
	cfg, err := config.LoadRelayConfig(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Rotating file logging when log_file is set, mirrored to stdout for
	// foreground runs.
	if target := strings.TrimSpace(cfg.LogFile); target != "" {
		rot, err := logging.NewRotatingWriter(target, logging.DefaultMaxBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		log.SetPrefix("[relayd] ")
		defer rot.Close()
	}
	log.Printf("candor-relay %s env=%s", version.FullInfo(), cfg.Environment)

	clients := map[provider.Name]relay.CompletionClient{}
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		c, err := provider.New(provider.Config{
			Provider: provider.NameOpenAI,
			APIKey:   cfg.OpenAIAPIKey,
			BaseURL:  cfg.OpenAIBaseURL,
			Model:    cfg.OpenAIModel,
		})
		if err != nil {
			log.Fatalf("openai client init failed: %v", err)
		}
		clients[provider.NameOpenAI] = c
	}
	if strings.TrimSpace(cfg.DeepSeekAPIKey) != "" {
		c, err := provider.New(provider.Config{
			Provider: provider.NameDeepSeek,
			APIKey:   cfg.DeepSeekAPIKey,
			BaseURL:  cfg.DeepSeekBaseURL,
			Model:    cfg.DeepSeekModel,
		})
		if err != nil {
			log.Fatalf("deepseek client init failed: %v", err)
		}
		clients[provider.NameDeepSeek] = c
	}
	if len(clients) == 0 {
		log.Printf("no completion provider configured; /relay/chat will report missing credentials")
	}

	opts := []relay.Option{
		relay.WithLogger(log.New(log.Writer(), "[relayd/http] ", log.LstdFlags|log.Lmicroseconds), cfg.LogLevel),
		relay.WithAllowedOrigins(cfg.AllowedOrigins),
	}
	if cfg.StreamMaxDuration > 0 {
		opts = append(opts, relay.WithStreamMaxDuration(cfg.StreamMaxDuration))
	}

	if strings.TrimSpace(cfg.ImageAPIKey) != "" {
		ic, err := image.New(image.Config{
			APIKey:  cfg.ImageAPIKey,
			BaseURL: cfg.ImageBaseURL,
			Model:   cfg.ImageModel,
		})
		if err != nil {
			log.Fatalf("image client init failed: %v", err)
		}
		opts = append(opts, relay.WithImageClient(ic))
	}

	storeDB, closeStore, err := openStoreDB(cfg)
	if err != nil {
		log.Fatalf("open conversation store: %v", err)
	}
	if closeStore != nil {
		defer closeStore()
	}

	endpoints := map[string]string{}
	for name := range clients {
		if profile, err := provider.Resolve(name); err == nil {
			endpoints[string(name)+"_api"] = profile.BaseURL
		}
	}
	opts = append(opts, relay.WithHealthChecker(health.New(health.Config{
		StoreDB:   storeDB,
		Endpoints: endpoints,
	})))

	server := relay.NewServer(clients, opts...)

	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     server.Router(),
		ReadTimeout: 15 * time.Second,
		// Streamed responses outlive typical write timeouts; rely on the
		// configured stream bound instead.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("relay listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

// openStoreDB opens the configured conversation store so /healthz can ping
// it. The memory driver has nothing to probe.
func openStoreDB(cfg config.RelayConfig) (*sql.DB, func(), error) {
	switch cfg.StoreDriver {
	case "sqlite":
		store, err := sqlite.New(cfg.StoreDSN)
		if err != nil {
			return nil, nil, err
		}
		return store.DB(), func() { store.Close() }, nil
	case "postgres":
		store, err := postgres.New(cfg.StoreDSN)
		if err != nil {
			return nil, nil, err
		}
		return store.DB(), func() { store.Close() }, nil
	default:
		return nil, nil, nil
	}
}
