package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		Provider       string  `yaml:"provider"`
		BaseURL        string  `yaml:"base_url"`
		APIKey         string  `yaml:"api_key"`
		Model          string  `yaml:"model"`
		EmbeddingModel string  `yaml:"embedding_model"`
		MaxTokens      int     `yaml:"max_tokens"`
		Temperature    float64 `yaml:"temperature"`
	} `yaml:"llm"`

	Index struct {
		Backend   string  `yaml:"backend"`
		K         int     `yaml:"k"`
		BatchSize int     `yaml:"batch_size"`
		RateLimit float64 `yaml:"rate_limit"`
	} `yaml:"index"`

	Database struct {
		URL       string `yaml:"url"`
		TableName string `yaml:"table_name"`
		VectorDim int    `yaml:"vector_dim"`
	} `yaml:"database"`

	Processor struct {
		ChunkSize    int `yaml:"chunk_size"`
		ChunkOverlap int `yaml:"chunk_overlap"`
	} `yaml:"processor"`

	Memory struct {
		TokenLimit int `yaml:"token_limit"`
	} `yaml:"memory"`

	Scraper struct {
		MaxDepth  int     `yaml:"max_depth"`
		MaxPages  int     `yaml:"max_pages"`
		RateLimit float64 `yaml:"rate_limit"`
	} `yaml:"scraper"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	UI struct {
		Streaming bool `yaml:"streaming"`
	} `yaml:"ui"`
}

// Override adjusts a loaded configuration, typically from command line flags.
// Overrides run after the file and the environment are read and before
// defaults are filled in, so provider dependent defaults follow them.
type Override func(*Config)

// LoadConfig reads the YAML file at path, or the first file found in the
// default locations, then applies environment variables, overrides and
// defaults in that order.
func LoadConfig(path string, overrides ...Override) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/docchat/config.yaml"),
			"/etc/docchat/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig(overrides...), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := newConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	finish(config, overrides)
	return config, nil
}

func getDefaultConfig(overrides ...Override) *Config {
	config := newConfig()
	finish(config, overrides)
	return config
}

// newConfig returns a config whose fields with meaningful zero values are
// marked unset, so a zero from the file or environment survives defaulting.
func newConfig() *Config {
	config := &Config{}
	config.UI.Streaming = true
	config.LLM.Temperature = math.NaN()
	return config
}

func finish(config *Config, overrides []Override) {
	mergeWithEnv(config)
	for _, override := range overrides {
		override(config)
	}
	applyDefaults(config)
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = ProviderOllama
	}
	if config.LLM.Model == "" {
		if config.LLM.Provider == ProviderOpenAI {
			config.LLM.Model = "gpt-3.5-turbo"
		} else {
			config.LLM.Model = "mistral"
		}
	}
	if config.LLM.EmbeddingModel == "" {
		if config.LLM.Provider == ProviderOpenAI {
			config.LLM.EmbeddingModel = "text-embedding-ada-002"
		} else {
			config.LLM.EmbeddingModel = "nomic-embed-text"
		}
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if math.IsNaN(config.LLM.Temperature) {
		config.LLM.Temperature = 0.7
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == ProviderOllama {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Index.Backend == "" {
		config.Index.Backend = BackendMemory
	}
	if config.Index.K == 0 {
		config.Index.K = 4
	}
	if config.Index.BatchSize == 0 {
		config.Index.BatchSize = 64
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "document_chunks"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 1000
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 250
	}

	if config.Memory.TokenLimit == 0 {
		config.Memory.TokenLimit = 2000
	}

	if config.Scraper.MaxPages == 0 {
		config.Scraper.MaxPages = 20
	}
	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "console"
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
}

func mergeWithEnv(config *Config) {
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		config.LLM.Provider = provider
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	}
	if model := os.Getenv("OPENAI_MODEL_NAME"); model != "" {
		config.LLM.Model = model
	}
	if v, ok := envFloat("OPENAI_TEMPERATURE"); ok {
		config.LLM.Temperature = v
	}
	if v, ok := envInt("OPENAI_MAX_TOKEN"); ok {
		config.LLM.MaxTokens = v
	}
	if v, ok := envInt("BUFFER_MEMORY_TOKEN_LIMIT"); ok {
		config.Memory.TokenLimit = v
	}
	if v, ok := envInt("OPENAI_DOCSEARCH_K"); ok {
		config.Index.K = v
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
}

func envInt(key string) (int, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envFloat(key string) (float64, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
