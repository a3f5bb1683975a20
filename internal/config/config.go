package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Server  ServerConfig
	Ollama  OllamaConfig
	Storage StorageConfig
	Index   IndexConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port  int    `toml:"port"`
	Token string `toml:"token"`
}

type OllamaConfig struct {
	BaseURL    string `toml:"base_url"`
	EmbedModel string `toml:"embed_model"`
	GenModel   string `toml:"gen_model"`
	EmbedDim   int    `toml:"embed_dim"`
}

type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

type IndexConfig struct {
	ChunkSize    int `toml:"chunk_size"`    // words per chunk
	ChunkOverlap int `toml:"chunk_overlap"` // words shared between adjacent chunks
	TopK         int `toml:"top_k"`         // chunks retrieved per question
}

type LogConfig struct {
	Level string `toml:"level"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
			GenModel:   "llama3.1",
			EmbedDim:   768,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Index: IndexConfig{
			ChunkSize:    300,
			ChunkOverlap: 50,
			TopK:         5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "studygenie")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".local", "share", "studygenie")
}

// DefaultPath returns the config file location:
// $XDG_CONFIG_HOME/studygenie/config.toml (or ~/.config/...).
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "studygenie", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".config", "studygenie", "config.toml")
}

// Load reads configuration in layers: built-in defaults, then the TOML
// file at DefaultPath (if present), then STUDYGENIE_* environment
// variables. A missing config file is not an error.
func Load() (Config, error) {
	return loadFrom(DefaultPath())
}

func loadFrom(path string) (Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// defaults only
	case err != nil:
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString := func(key string, target *string) {
		if v := os.Getenv(key); v != "" {
			*target = v
		}
	}
	setInt := func(key string, target *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*target = n
			}
		}
	}

	setInt("STUDYGENIE_PORT", &cfg.Server.Port)
	setString("STUDYGENIE_TOKEN", &cfg.Server.Token)
	setString("STUDYGENIE_OLLAMA_URL", &cfg.Ollama.BaseURL)
	setString("STUDYGENIE_EMBED_MODEL", &cfg.Ollama.EmbedModel)
	setString("STUDYGENIE_GEN_MODEL", &cfg.Ollama.GenModel)
	setInt("STUDYGENIE_EMBED_DIM", &cfg.Ollama.EmbedDim)
	setString("STUDYGENIE_DATA_DIR", &cfg.Storage.DataDir)
	setString("STUDYGENIE_LOG_LEVEL", &cfg.Log.Level)
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Ollama.EmbedDim <= 0 {
		return fmt.Errorf("embed_dim must be positive, got %d", c.Ollama.EmbedDim)
	}
	if c.Index.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.Index.ChunkSize)
	}
	if c.Index.ChunkOverlap < 0 || c.Index.ChunkOverlap >= c.Index.ChunkSize {
		return fmt.Errorf("chunk_overlap %d must be in [0, chunk_size)", c.Index.ChunkOverlap)
	}
	if c.Index.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", c.Index.TopK)
	}
	return nil
}
