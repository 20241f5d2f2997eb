package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/docchat/docchat/internal/chunker"
	"github.com/docchat/docchat/internal/index"
	"github.com/docchat/docchat/internal/llm"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// OpenAIConfig holds connection details for the OpenAI-compatible API used
// for both embeddings and chat completions. The key itself stays in the
// environment.
type OpenAIConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// RetrievalConfig tunes similarity search.
type RetrievalConfig struct {
	TopK     int     `yaml:"top_k"`
	MinScore float64 `yaml:"min_score"`
}

// ChatConfig tunes answer generation and turn behavior.
type ChatConfig struct {
	Model        string `yaml:"model"`
	HistoryLimit int    `yaml:"history_limit"`
	// OnRetrievalError is "proceed" (answer without context) or "fail".
	OnRetrievalError string `yaml:"on_retrieval_error"`
	// BusyPolicy is "reject" (default) or "block".
	BusyPolicy string `yaml:"busy_policy"`
}

// QdrantConfig contains connection details for a Qdrant index.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
}

// IndexConfig selects the vector index backend.
type IndexConfig struct {
	Type   string        `yaml:"type"` // "memory" or "qdrant"
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Chat      ChatConfig      `yaml:"chat"`
	Index     IndexConfig     `yaml:"index"`
}

// Load reads a config from path. A missing file yields defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// IndexPersistent reports whether the configured index backend outlives the
// process. The memory backend does not, so short-lived commands ingesting
// into it lose the data on exit.
func (c *Config) IndexPersistent() bool {
	return c.Index.Type == "qdrant"
}

// APIKey resolves the OpenAI API key from the configured environment
// variable.
func (c *Config) APIKey() string {
	return os.Getenv(c.OpenAI.APIKeyEnv)
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.OpenAI.APIKeyEnv == "" {
		cfg.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Chunker.Size == 0 {
		cfg.Chunker.Size = chunker.DefaultChunkSize
	}
	if cfg.Chunker.Overlap == 0 {
		cfg.Chunker.Overlap = chunker.DefaultOverlap
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = index.DefaultTopK
	}
	if cfg.Retrieval.MinScore == 0 {
		cfg.Retrieval.MinScore = index.DefaultMinScore
	}
	if cfg.Chat.Model == "" {
		cfg.Chat.Model = llm.DefaultModel
	}
	if cfg.Chat.HistoryLimit == 0 {
		cfg.Chat.HistoryLimit = 10
	}
	if cfg.Chat.OnRetrievalError == "" {
		cfg.Chat.OnRetrievalError = "proceed"
	}
	if cfg.Chat.BusyPolicy == "" {
		cfg.Chat.BusyPolicy = "reject"
	}
	if cfg.Index.Type == "" {
		cfg.Index.Type = "memory"
	}
	if cfg.Index.Type == "qdrant" {
		if cfg.Index.Qdrant == nil {
			cfg.Index.Qdrant = &QdrantConfig{}
		}
		if cfg.Index.Qdrant.Host == "" {
			cfg.Index.Qdrant.Host = "localhost"
		}
		if cfg.Index.Qdrant.Port == 0 {
			cfg.Index.Qdrant.Port = 6334
		}
		if cfg.Index.Qdrant.Collection == "" {
			cfg.Index.Qdrant.Collection = "docchat_chunks"
		}
	}
}

func (c *Config) validate() error {
	if c.Chunker.Overlap >= c.Chunker.Size {
		return fmt.Errorf("chunker: overlap %d must be smaller than size %d", c.Chunker.Overlap, c.Chunker.Size)
	}
	switch c.Index.Type {
	case "memory", "qdrant":
	default:
		return fmt.Errorf("index: unknown type %q", c.Index.Type)
	}
	switch c.Chat.OnRetrievalError {
	case "proceed", "fail":
	default:
		return fmt.Errorf("chat: unknown on_retrieval_error %q", c.Chat.OnRetrievalError)
	}
	switch c.Chat.BusyPolicy {
	case "reject", "block":
	default:
		return fmt.Errorf("chat: unknown busy_policy %q", c.Chat.BusyPolicy)
	}
	return nil
}
