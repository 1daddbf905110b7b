package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is conclaved's on-disk configuration, loaded from --config (default
// conclave.yaml) with environment variables filling in secrets that don't
// belong in a checked-in file.
type Config struct {
	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`

	Worker struct {
		ID           string        `yaml:"id"`
		LeaseTTL     time.Duration `yaml:"lease_ttl"`
		PollInterval time.Duration `yaml:"poll_interval"`
	} `yaml:"worker"`

	Assets struct {
		Backend string `yaml:"backend"` // "filesystem" or "s3"
		Path    string `yaml:"path"`    // filesystem backend root
		S3      struct {
			Bucket   string `yaml:"bucket"`
			Region   string `yaml:"region"`
			Endpoint string `yaml:"endpoint"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"s3"`
	} `yaml:"assets"`

	Namespace struct {
		Prefix string `yaml:"prefix"`
		Schema string `yaml:"schema"`
	} `yaml:"namespace"`

	LLM struct {
		Provider string `yaml:"provider"` // "anthropic", "openai", "ollama"
		Model    string `yaml:"model"`
	} `yaml:"llm"`

	Embeddings struct {
		Provider  string `yaml:"provider"` // "openai" or "ollama"
		Model     string `yaml:"model"`
		Dimension int    `yaml:"dimension"`
	} `yaml:"embeddings"`
}

// DefaultConfig returns conclaved's out-of-the-box defaults.
func DefaultConfig() Config {
	var cfg Config
	cfg.Worker.LeaseTTL = 30 * time.Second
	cfg.Worker.PollInterval = time.Second
	cfg.Assets.Backend = "filesystem"
	cfg.Assets.Path = "./conclave-assets"
	cfg.Namespace.Prefix = "conclave"
	cfg.LLM.Provider = "anthropic"
	cfg.Embeddings.Provider = "openai"
	return cfg
}

// LoadConfig reads and parses a YAML config file at path, applying
// DefaultConfig's values for anything the file leaves unset. A missing file
// is not an error: conclaved runs on defaults plus environment variables.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
