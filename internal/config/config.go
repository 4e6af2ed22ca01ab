package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Scheduler Scheduler `yaml:"scheduler"`
	AI        AI        `yaml:"ai"`
	Search    Search    `yaml:"search"`
	Notify    Notify    `yaml:"notify"`
	Server    Server    `yaml:"server"`
	Output    Output    `yaml:"output"`
	Logging   Logging   `yaml:"logging"`
}

type Scheduler struct {
	TickSeconds      int `yaml:"tick_seconds"`
	DeepSearchPages  int `yaml:"deep_search_pages"`
	PageDelayMinMs   int `yaml:"page_delay_min_ms"`
	PageDelayMaxMs   int `yaml:"page_delay_max_ms"`
	AutoAnalyzeCount int `yaml:"auto_analyze_count"`
}

type AI struct {
	APIKeyEnv          string   `yaml:"api_key_env"`
	ModelPreference    []string `yaml:"model_preference"`
	FallbackModel      string   `yaml:"fallback_model"`
	RequestsPerMinute  int      `yaml:"requests_per_minute"`
	ChunkSize          int      `yaml:"chunk_size"`
	MaxRetries         int      `yaml:"max_retries"`
	BackoffStepSeconds int      `yaml:"backoff_step_seconds"`
	ChunkPauseSeconds  int      `yaml:"chunk_pause_seconds"`
	NotableScore       float64  `yaml:"notable_score"`
	UrgentScore        float64  `yaml:"urgent_score"`
}

type Search struct {
	Leboncoin Leboncoin `yaml:"leboncoin"`
	EBay      EBay      `yaml:"ebay"`
	Feeds     []Feed    `yaml:"feeds"`
}

type Leboncoin struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
}

type EBay struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
}

// Feed is an RSS/Atom search feed for platforms that expose one.
type Feed struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

type Notify struct {
	WebhookEnv string `yaml:"webhook_env"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for adwatch.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "adwatch")
}

// DataDir returns the XDG data directory for adwatch.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "adwatch")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/adwatch/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'adwatch init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file. Secrets (API key, webhook)
// come from the environment; a .env file next to the process is honored.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Scheduler: Scheduler{
			TickSeconds:      60,
			DeepSearchPages:  3,
			PageDelayMinMs:   1000,
			PageDelayMaxMs:   3000,
			AutoAnalyzeCount: 3,
		},
		AI: AI{
			APIKeyEnv: "GEMINI_API_KEY",
			ModelPreference: []string{
				"gemini-2.0-flash",
				"gemini-1.5-flash",
				"gemini-1.5-flash-8b",
			},
			FallbackModel:      "gemini-1.5-flash",
			RequestsPerMinute:  15,
			ChunkSize:          10,
			MaxRetries:         3,
			BackoffStepSeconds: 20,
			ChunkPauseSeconds:  2,
			NotableScore:       8,
			UrgentScore:        9,
		},
		Search: Search{
			Leboncoin: Leboncoin{Enabled: true, BaseURL: "https://api.leboncoin.fr"},
			EBay:      EBay{Enabled: false, BaseURL: "https://www.ebay.fr"},
		},
		Notify:  Notify{WebhookEnv: "DISCORD_WEBHOOK_URL"},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// APIKey reads the configured Gemini API key from the environment.
func (c *Config) APIKey() string {
	return os.Getenv(c.AI.APIKeyEnv)
}

// DefaultWebhook reads the fallback notification webhook from the environment.
func (c *Config) DefaultWebhook() string {
	return os.Getenv(c.Notify.WebhookEnv)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
