// Package config loads convmem settings from defaults, an optional YAML
// file, .env files and CONVMEM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/becomeliminal/convmem/memory"
	"github.com/becomeliminal/convmem/memory/embedder/provider"
)

const (
	// EnvPrefix prefixes every environment override, e.g. CONVMEM_STORE_PATH.
	EnvPrefix = "CONVMEM"
	// DefaultConfigFileName is the name of the config file (convmem.yaml).
	DefaultConfigFileName = "convmem"
)

type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Embedder  EmbedderConfig  `mapstructure:"embedder"`
	Sequencer SequencerConfig `mapstructure:"sequencer"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Log       LogConfig       `mapstructure:"log"`
}

// StoreConfig selects persistence. An empty Path keeps data in memory.
type StoreConfig struct {
	Path     string `mapstructure:"path"`
	Compress bool   `mapstructure:"compress"`
}

type EmbedderConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	BaseURL  string `mapstructure:"base_url"`
	APIKey   string `mapstructure:"api_key"`
}

// SequencerConfig enables the shared Redis sequencer when RedisAddr is set.
type SequencerConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

type MemoryConfig struct {
	DedupCosine          float64 `mapstructure:"dedup_cosine"`
	DedupJaccard         float64 `mapstructure:"dedup_jaccard"`
	SummaryMinConfidence float64 `mapstructure:"summary_min_confidence"`
	SummaryPerCategory   int     `mapstructure:"summary_per_category"`
	RecentLimit          int     `mapstructure:"recent_limit"`
	RetentionDays        int     `mapstructure:"retention_days"`
	ToolContentLimit     int     `mapstructure:"tool_content_limit"`
	Timezone             string  `mapstructure:"timezone"`
}

// ExtractorConfig configures LLM fact extraction. It is disabled without an
// API key.
type ExtractorConfig struct {
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	MaxTokens int64  `mapstructure:"max_tokens"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration. cfgFile, when set, must exist; otherwise
// convmem.yaml is looked up in $HOME/.convmem and the working directory and
// is optional. .env in the working directory is loaded first and never
// overrides variables already set.
func Load(cfgFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".convmem"))
		}
		v.AddConfigPath(".")
		v.SetConfigName(DefaultConfigFileName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file %s: %w", v.ConfigFileUsed(), err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Provider keys in their usual variables when not set explicitly.
	_ = v.BindEnv("extractor.api_key", EnvPrefix+"_EXTRACTOR_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("embedder.api_key", EnvPrefix+"_EMBEDDER_API_KEY", "OPENAI_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := memory.DefaultConfig()

	v.SetDefault("store.path", "")
	v.SetDefault("store.compress", false)

	v.SetDefault("embedder.provider", provider.Lexical)
	v.SetDefault("embedder.model", "")
	v.SetDefault("embedder.base_url", "")
	v.SetDefault("embedder.api_key", "")

	v.SetDefault("sequencer.redis_addr", "")
	v.SetDefault("sequencer.redis_password", "")
	v.SetDefault("sequencer.redis_db", 0)

	v.SetDefault("memory.dedup_cosine", d.DedupCosine)
	v.SetDefault("memory.dedup_jaccard", d.DedupJaccard)
	v.SetDefault("memory.summary_min_confidence", d.SummaryMinConfidence)
	v.SetDefault("memory.summary_per_category", d.SummaryPerCategory)
	v.SetDefault("memory.recent_limit", d.RecentLimit)
	v.SetDefault("memory.retention_days", int(d.Retention/(24*time.Hour)))
	v.SetDefault("memory.tool_content_limit", d.ToolContentLimit)
	v.SetDefault("memory.timezone", "Local")

	v.SetDefault("extractor.model", "")
	v.SetDefault("extractor.api_key", "")
	v.SetDefault("extractor.max_tokens", 1024)

	v.SetDefault("log.level", "info")
}

// MemoryConfig converts the memory section. Logger, Sequencer and clock are
// left for the caller.
func (c *Config) MemoryConfig() (*memory.Config, error) {
	loc, err := time.LoadLocation(c.Memory.Timezone)
	if err != nil {
		return nil, fmt.Errorf("memory.timezone: %w", err)
	}
	mc := memory.DefaultConfig()
	mc.Location = loc
	mc.DedupCosine = c.Memory.DedupCosine
	mc.DedupJaccard = c.Memory.DedupJaccard
	mc.SummaryMinConfidence = c.Memory.SummaryMinConfidence
	mc.SummaryPerCategory = c.Memory.SummaryPerCategory
	mc.RecentLimit = c.Memory.RecentLimit
	mc.Retention = time.Duration(c.Memory.RetentionDays) * 24 * time.Hour
	mc.ToolContentLimit = c.Memory.ToolContentLimit
	return mc, nil
}

// EmbedderConfig converts the embedder section.
func (c *Config) EmbedderConfig() provider.Config {
	return provider.Config{
		Provider: c.Embedder.Provider,
		Model:    c.Embedder.Model,
		BaseURL:  c.Embedder.BaseURL,
		APIKey:   c.Embedder.APIKey,
	}
}
