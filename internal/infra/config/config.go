package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config aggregates runtime configuration for the digest pipeline.
type Config struct {
	Chunking ChunkingConfig `yaml:"chunking"`
	Reduce   ReduceConfig   `yaml:"reduce"`
	LLM      LLMConfig      `yaml:"llm"`
}

// ChunkingConfig controls how source content is split.
type ChunkingConfig struct {
	Strategy      string `yaml:"strategy"`
	ChunkTokens   int    `yaml:"chunkTokens"`
	OverlapTokens int    `yaml:"overlapTokens"`
}

// ReduceConfig drives the map-reduce summarization loop.
type ReduceConfig struct {
	TargetTokens   int    `yaml:"targetTokens"`
	MinChunkTokens int    `yaml:"minChunkTokens"`
	MaxMergePasses int    `yaml:"maxMergePasses"`
	Concurrency    int    `yaml:"concurrency"`
	PromptTemplate string `yaml:"promptTemplate"`
	MergeTemplate  string `yaml:"mergeTemplate"`
}

// LLMConfig contains ChatGPT/OpenAI settings and the retry policy for
// model calls.
type LLMConfig struct {
	APIKey      string        `yaml:"apiKey"`
	BaseURL     string        `yaml:"baseUrl"`
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseBackoff time.Duration `yaml:"baseBackoff"`
	MaxBackoff  time.Duration `yaml:"maxBackoff"`
}

// DefaultPromptTemplate asks for a per-chunk summary within a budget.
const DefaultPromptTemplate = `Summarize the following content in at most {{.MaxTokens}} tokens. Preserve key facts, names, and numbers.{{if .Focus}} Focus on: {{.Focus}}.{{end}}

{{.Content}}`

// DefaultMergeTemplate folds partial summaries into one.
const DefaultMergeTemplate = `Combine the following partial summaries into a single coherent summary of at most {{.MaxTokens}} tokens. Remove redundancy and keep key facts, names, and numbers.

{{.Content}}`

// Load reads configuration from a YAML file and environment variables.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := hydrateFromFile(cfg, path); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat("configs/config.yaml"); err == nil {
		if err := hydrateFromFile(cfg, "configs/config.yaml"); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func hydrateFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHUNK_STRATEGY"); v != "" {
		cfg.Chunking.Strategy = v
	}
	if v := os.Getenv("CHUNK_TOKENS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Chunking.ChunkTokens = parsed
		}
	}
	if v := os.Getenv("CHUNK_OVERLAP_TOKENS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Chunking.OverlapTokens = parsed
		}
	}
	if v := os.Getenv("REDUCE_TARGET_TOKENS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Reduce.TargetTokens = parsed
		}
	}
	if v := os.Getenv("REDUCE_MIN_CHUNK_TOKENS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Reduce.MinChunkTokens = parsed
		}
	}
	if v := os.Getenv("REDUCE_MAX_MERGE_PASSES"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Reduce.MaxMergePasses = parsed
		}
	}
	if v := os.Getenv("REDUCE_CONCURRENCY"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Reduce.Concurrency = parsed
		}
	}
	if v := os.Getenv("REDUCE_PROMPT_TEMPLATE"); v != "" {
		cfg.Reduce.PromptTemplate = v
	}
	if v := os.Getenv("REDUCE_MERGE_TEMPLATE"); v != "" {
		cfg.Reduce.MergeTemplate = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 32); err == nil {
			cfg.LLM.Temperature = float32(parsed)
		}
	}
	if v := os.Getenv("LLM_MAX_ATTEMPTS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.LLM.MaxAttempts = parsed
		}
	}
	if v := os.Getenv("LLM_BASE_BACKOFF"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.LLM.BaseBackoff = parsed
		}
	}
	if v := os.Getenv("LLM_MAX_BACKOFF"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.LLM.MaxBackoff = parsed
		}
	}
}

func defaultConfig() *Config {
	return &Config{
		Chunking: ChunkingConfig{
			Strategy:      "structural",
			ChunkTokens:   2000,
			OverlapTokens: 200,
		},
		Reduce: ReduceConfig{
			TargetTokens:   2000,
			MinChunkTokens: 500,
			MaxMergePasses: 3,
			Concurrency:    5,
			PromptTemplate: DefaultPromptTemplate,
			MergeTemplate:  DefaultMergeTemplate,
		},
		LLM: LLMConfig{
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			MaxAttempts: 3,
			BaseBackoff: 500 * time.Millisecond,
			MaxBackoff:  8 * time.Second,
		},
	}
}

// Validate ensures the configuration is safe to use.
func (c *Config) Validate() error {
	switch c.Chunking.Strategy {
	case "structural", "fixed-width":
	default:
		return errors.New("chunking.strategy must be structural or fixed-width")
	}
	if c.Chunking.ChunkTokens <= 0 {
		return errors.New("chunking.chunkTokens must be positive")
	}
	if c.Chunking.OverlapTokens < 0 {
		return errors.New("chunking.overlapTokens cannot be negative")
	}
	if c.Reduce.TargetTokens <= 0 {
		return errors.New("reduce.targetTokens must be positive")
	}
	if c.Reduce.MinChunkTokens <= 0 {
		return errors.New("reduce.minChunkTokens must be positive")
	}
	if c.Reduce.MaxMergePasses <= 0 {
		return errors.New("reduce.maxMergePasses must be positive")
	}
	if c.Reduce.Concurrency <= 0 {
		return errors.New("reduce.concurrency must be positive")
	}
	if strings.TrimSpace(c.Reduce.PromptTemplate) == "" {
		return errors.New("reduce.promptTemplate cannot be empty")
	}
	if strings.TrimSpace(c.Reduce.MergeTemplate) == "" {
		return errors.New("reduce.mergeTemplate cannot be empty")
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		return errors.New("llm.model cannot be empty")
	}
	if c.LLM.MaxAttempts <= 0 {
		return errors.New("llm.maxAttempts must be positive")
	}
	if c.LLM.BaseBackoff < 0 {
		return errors.New("llm.baseBackoff cannot be negative")
	}
	if c.LLM.MaxBackoff < 0 {
		return errors.New("llm.maxBackoff cannot be negative")
	}
	return nil
}
