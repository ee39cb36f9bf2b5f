// Package config loads relay settings from INI files with environment
// variable overrides. The active environment is chosen by config/setting.ini
// and its values are merged over by config/<env>/relay.ini.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/relay.ini"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// RelayConfig describes runtime options for the relay daemon.
type RelayConfig struct {
	Environment string
	ListenAddr  string

	// Completion providers. A provider with an empty key is not served.
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	DeepSeekAPIKey  string
	DeepSeekBaseURL string
	DeepSeekModel   string

	// Image generation provider.
	ImageAPIKey  string
	ImageBaseURL string
	ImageModel   string

	// Conversation store: memory, sqlite, or postgres.
	StoreDriver string
	StoreDSN    string

	LogFile  string
	LogLevel string

	// Browser origins allowed to call the relay. Empty means any origin.
	AllowedOrigins []string
	// Upper bound on a single streamed response; zero disables the bound.
	StreamMaxDuration time.Duration
	// Optional YAML file overriding the built-in message routing rules.
	RulesFile string

	// Base URL of a relay for client-side use. When set and no provider
	// key is configured locally, completions route through the relay.
	RelayURL string
}

// LoadRelayConfig reads the current environment and loads the matching
// relay config file rooted at root.
func LoadRelayConfig(root string) (RelayConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return RelayConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return RelayConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	cfg := RelayConfig{
		Environment: s.Environment,
		ListenAddr:  firstNonEmpty(os.Getenv("CANDOR_LISTEN_ADDR"), merged["listen_addr"], "127.0.0.1:8090"),

		OpenAIAPIKey:    firstNonEmpty(os.Getenv("CANDOR_OPENAI_API_KEY"), merged["openai_api_key"]),
		OpenAIBaseURL:   firstNonEmpty(os.Getenv("CANDOR_OPENAI_BASE_URL"), merged["openai_base_url"]),
		OpenAIModel:     firstNonEmpty(os.Getenv("CANDOR_OPENAI_MODEL"), merged["openai_model"]),
		DeepSeekAPIKey:  firstNonEmpty(os.Getenv("CANDOR_DEEPSEEK_API_KEY"), merged["deepseek_api_key"]),
		DeepSeekBaseURL: firstNonEmpty(os.Getenv("CANDOR_DEEPSEEK_BASE_URL"), merged["deepseek_base_url"]),
		DeepSeekModel:   firstNonEmpty(os.Getenv("CANDOR_DEEPSEEK_MODEL"), merged["deepseek_model"]),

		ImageAPIKey:  firstNonEmpty(os.Getenv("CANDOR_IMAGE_API_KEY"), merged["image_api_key"]),
		ImageBaseURL: firstNonEmpty(os.Getenv("CANDOR_IMAGE_BASE_URL"), merged["image_base_url"]),
		ImageModel:   firstNonEmpty(os.Getenv("CANDOR_IMAGE_MODEL"), merged["image_model"]),

		StoreDriver: strings.ToLower(firstNonEmpty(os.Getenv("CANDOR_STORE_DRIVER"), merged["store_driver"], "sqlite")),
		StoreDSN:    firstNonEmpty(os.Getenv("CANDOR_STORE_DSN"), merged["store_dsn"], DefaultStorePath()),

		LogFile:  firstNonEmpty(os.Getenv("CANDOR_LOG_FILE"), merged["log_file"]),
		LogLevel: firstNonEmpty(os.Getenv("CANDOR_LOG_LEVEL"), merged["log_level"], "info"),

		AllowedOrigins: parseCSV(firstNonEmpty(os.Getenv("CANDOR_ALLOWED_ORIGINS"), merged["allowed_origins"])),
		RulesFile:      firstNonEmpty(os.Getenv("CANDOR_RULES_FILE"), merged["rules_file"]),
		RelayURL:       firstNonEmpty(os.Getenv("CANDOR_RELAY_URL"), merged["relay_url"]),
	}

	switch cfg.StoreDriver {
	case "memory", "sqlite", "postgres":
	default:
		return RelayConfig{}, fmt.Errorf("invalid store_driver %q", cfg.StoreDriver)
	}

	if v := firstNonEmpty(os.Getenv("CANDOR_STREAM_MAX_DURATION"), merged["stream_max_duration"]); v != "" {
		dur, err := time.ParseDuration(v)
		if err != nil {
			return RelayConfig{}, fmt.Errorf("invalid stream_max_duration %q: %w", v, err)
		}
		cfg.StreamMaxDuration = dur
	}

	return cfg, nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := values["environment"]
	if env == "" {
		env = defaultEnv
	}
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseCSV(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// DefaultStorePath returns the fallback conversation database location under
// the user's home directory.
func DefaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "conversations.db"
	}
	return filepath.Join(home, ".candor", "conversations.db")
}
