// Package candor is the client-side entry point: it wires a conversation
// store, the routing classifier and a completion backend into a ready
// orchestrator from plain configuration, so embedders and the bundled CLI
// stay outside the internal packages.
package candor

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/candorchat/candor-relay/internal/chat"
	"github.com/candorchat/candor-relay/internal/chat/postgres"
	"github.com/candorchat/candor-relay/internal/chat/sqlite"
	"github.com/candorchat/candor-relay/internal/classify"
	"github.com/candorchat/candor-relay/internal/config"
	"github.com/candorchat/candor-relay/internal/provider"
	"github.com/candorchat/candor-relay/internal/provider/image"
	"github.com/candorchat/candor-relay/internal/stream"
)

// Re-exports so integrations can stay inside the pkg/candor namespace.
type (
	Conversation = chat.Conversation
	Message      = chat.Message
	Asset        = chat.Asset
	Publisher    = chat.Publisher
	Orchestrator = chat.Orchestrator
	State        = chat.State
	ProviderName = provider.Name
)

const (
	StateIdle      = chat.StateIdle
	StateSending   = chat.StateSending
	StateStreaming = chat.StateStreaming

	ProviderOpenAI   = provider.NameOpenAI
	ProviderDeepSeek = provider.NameDeepSeek
)

// ErrGenerationInFlight re-exports the orchestrator's switch-rejection error.
var ErrGenerationInFlight = chat.ErrGenerationInFlight

// Config selects the collaborators for a Session.
type Config struct {
	// RelayURL routes completions through a relay that holds the
	// credential. APIKey enables direct provider calls instead; when both
	// are set the direct path wins.
	RelayURL string
	APIKey   string
	Provider ProviderName

	// StoreDriver is memory, sqlite, or postgres. Empty means memory.
	StoreDriver string
	StoreDSN    string

	// RulesFile optionally overrides the built-in message routing rules.
	RulesFile string

	// Image generation. With a local key image ops go straight to the
	// provider; otherwise they ride the relay when one is configured.
	ImageAPIKey  string
	ImageBaseURL string
	ImageModel   string

	Publish Publisher
	Logger  *log.Logger
}

// FromRelayConfig maps daemon configuration onto a client Config. A locally
// configured provider key selects the direct path for that provider;
// otherwise completions ride the configured relay.
func FromRelayConfig(rc config.RelayConfig) Config {
	cfg := Config{
		RelayURL:     rc.RelayURL,
		Provider:     ProviderOpenAI,
		StoreDriver:  rc.StoreDriver,
		StoreDSN:     rc.StoreDSN,
		RulesFile:    rc.RulesFile,
		ImageAPIKey:  rc.ImageAPIKey,
		ImageBaseURL: rc.ImageBaseURL,
		ImageModel:   rc.ImageModel,
	}
	switch {
	case rc.OpenAIAPIKey != "":
		cfg.APIKey = rc.OpenAIAPIKey
	case rc.DeepSeekAPIKey != "":
		cfg.APIKey = rc.DeepSeekAPIKey
		cfg.Provider = ProviderDeepSeek
	}
	return cfg
}

// Session owns one wired orchestrator and the store behind it.
type Session struct {
	Orchestrator *Orchestrator

	classifier *classify.Classifier
	store      chat.Store
	closeStore func() error
}

// NewSession wires the configured store, classifier, completion backend and
// image service into an orchestrator resumed at the store's current
// conversation. Close the session to release the store.
func NewSession(ctx context.Context, cfg Config) (*Session, error) {
	classifier := classify.Default()
	if cfg.RulesFile != "" {
		var err error
		classifier, err = classify.Load(cfg.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("candor: %w", err)
		}
	}

	backend, err := stream.ResolveBackend(stream.Options{
		RelayURL: cfg.RelayURL,
		APIKey:   cfg.APIKey,
		Provider: cfg.Provider,
	})
	if err != nil {
		return nil, fmt.Errorf("candor: %w", err)
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	var images chat.ImageService
	switch {
	case cfg.ImageAPIKey != "":
		client, err := image.New(image.Config{
			APIKey:  cfg.ImageAPIKey,
			BaseURL: cfg.ImageBaseURL,
			Model:   cfg.ImageModel,
		})
		if err != nil {
			closeStore()
			return nil, fmt.Errorf("candor: %w", err)
		}
		images = chat.NewDirectImages(client)
	case cfg.RelayURL != "":
		images = chat.NewRelayImages(cfg.RelayURL)
	}

	orch, err := chat.NewOrchestrator(chat.OrchestratorConfig{
		Store:      store,
		Classifier: classifier,
		Backend:    backend,
		Images:     images,
		Publish:    cfg.Publish,
		Logger:     cfg.Logger,
	})
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("candor: %w", err)
	}
	if err := orch.ResumeCurrent(ctx); err != nil {
		closeStore()
		return nil, fmt.Errorf("candor: resume: %w", err)
	}

	return &Session{
		Orchestrator: orch,
		classifier:   classifier,
		store:        store,
		closeStore:   closeStore,
	}, nil
}

// Classifier exposes the compiled rule table the session routes with.
func (s *Session) Classifier() *classify.Classifier {
	return s.classifier
}

// Close releases the conversation store.
func (s *Session) Close() error {
	return s.closeStore()
}

func openStore(cfg Config) (chat.Store, func() error, error) {
	switch cfg.StoreDriver {
	case "", "memory":
		return chat.NewMemoryStore(), func() error { return nil }, nil
	case "sqlite":
		store, err := sqlite.New(cfg.StoreDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("candor: %w", err)
		}
		return store, store.Close, nil
	case "postgres":
		store, err := postgres.New(cfg.StoreDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("candor: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, nil, errors.New("candor: unknown store driver " + cfg.StoreDriver)
	}
}
