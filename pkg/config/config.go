package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		BaseURL     string  `yaml:"base_url"`
		Model       string  `yaml:"model"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float64 `yaml:"temperature"`
	} `yaml:"llm"`

	Embedder struct {
		Model          string  `yaml:"model"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
		Retries        int     `yaml:"retries"`
		RateLimit      float64 `yaml:"rate_limit"`
		Workers        int     `yaml:"workers"`
	} `yaml:"embedder"`

	Database struct {
		URL        string `yaml:"url"`
		Collection string `yaml:"collection"`
		VectorDim  int    `yaml:"vector_dim"`
	} `yaml:"database"`

	Sessions struct {
		Path string `yaml:"path"`
	} `yaml:"sessions"`

	Chunker struct {
		ChunkSize    int `yaml:"chunk_size"`
		ChunkOverlap int `yaml:"chunk_overlap"`
	} `yaml:"chunker"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/researchbot/config.yaml"),
			"/etc/researchbot/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	applyDefaults(config)
	mergeWithEnv(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Model == "" {
		config.LLM.Model = "gemma3:4b"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.7
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Embedder.Model == "" {
		config.Embedder.Model = "nomic-embed-text:latest"
	}
	if config.Embedder.TimeoutSeconds == 0 {
		config.Embedder.TimeoutSeconds = 120
	}
	if config.Embedder.Retries == 0 {
		config.Embedder.Retries = 2
	}
	if config.Embedder.RateLimit == 0 {
		config.Embedder.RateLimit = 4.0
	}
	if config.Embedder.Workers == 0 {
		config.Embedder.Workers = 1
	}

	if config.Database.Collection == "" {
		config.Database.Collection = "research_documents"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}

	if config.Sessions.Path == "" {
		config.Sessions.Path = "research_bot.db"
	}

	if config.Chunker.ChunkSize == 0 {
		config.Chunker.ChunkSize = 1000
	}
	if config.Chunker.ChunkOverlap == 0 {
		config.Chunker.ChunkOverlap = 200
	}

	if config.Server.Port == "" {
		config.Server.Port = "8080"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if sessionPath := os.Getenv("SESSION_DB_PATH"); sessionPath != "" {
		config.Sessions.Path = sessionPath
	}
	if port := os.Getenv("PORT"); port != "" {
		config.Server.Port = port
	}
}
