// Package config loads service configuration. Sources are layered, later
// ones winning: built-in defaults, a YAML file, a .env file, then the
// process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the variable holding the YAML config path.
const EnvConfigPath = "COMPLIMO_CONFIG"

// Config is the root configuration.
type Config struct {
	Port       string   `yaml:"port"`
	CORSOrigin []string `yaml:"cors_origin"`
	UploadDir  string   `yaml:"upload_dir"`
	Dataset    string   `yaml:"dataset"`

	Index    IndexConfig    `yaml:"index"`
	Model    ModelConfig    `yaml:"model"`
	Chunking ChunkingConfig `yaml:"chunking"`
	TopK     TopKConfig     `yaml:"top_k"`
	Retry    RetryConfig    `yaml:"retry"`
	Limits   LimitsConfig   `yaml:"limits"`
	NATS     NATSConfig     `yaml:"nats"`
	Neo4j    Neo4jConfig    `yaml:"neo4j"`
}

// IndexConfig selects the vector index backend.
type IndexConfig struct {
	Backend    string `yaml:"backend"` // local | qdrant
	Dir        string `yaml:"dir"`
	QdrantAddr string `yaml:"qdrant_addr"`
	Collection string `yaml:"collection"`
}

// ModelConfig selects the model provider.
type ModelConfig struct {
	Provider       string  `yaml:"provider"` // openai | ollama
	APIKey         string  `yaml:"api_key"`
	BaseURL        string  `yaml:"base_url"`
	OllamaURL      string  `yaml:"ollama_url"`
	ChatModel      string  `yaml:"chat_model"`
	EmbedModel     string  `yaml:"embed_model"`
	Temperature    float64 `yaml:"temperature"`
	EmbedBatchSize int     `yaml:"embed_batch_size"`
}

// ChunkingConfig is the default chunk policy.
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// TopKConfig is the number of passages retrieved per flow.
type TopKConfig struct {
	Chat       int `yaml:"chat"`
	Compliance int `yaml:"compliance"`
	Report     int `yaml:"report"`
}

// RetryConfig bounds the compliance evaluator's retry loop.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	InitialWait time.Duration `yaml:"initial_wait"`
	MaxWait     time.Duration `yaml:"max_wait"`
}

// LimitsConfig caps outbound model traffic and request sizes.
type LimitsConfig struct {
	ModelRPS     float64 `yaml:"model_rps"`
	ModelBurst   int     `yaml:"model_burst"`
	MaxBodyBytes int64   `yaml:"max_body_bytes"`
	ReportBucket int     `yaml:"report_buckets"`
}

// NATSConfig enables asynchronous ingestion when URL is set.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Neo4jConfig enables the evaluation ledger when URL is set.
type Neo4jConfig struct {
	URL  string `yaml:"url"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:       "8080",
		CORSOrigin: []string{"*"},
		UploadDir:  "uploads",
		Dataset:    "data/hvac_readings.csv",
		Index: IndexConfig{
			Backend:    "local",
			Dir:        "index",
			QdrantAddr: "localhost:6334",
			Collection: "regulations",
		},
		Model: ModelConfig{
			Provider:       "openai",
			BaseURL:        "https://api.openai.com/v1",
			OllamaURL:      "http://localhost:11434",
			ChatModel:      "gpt-4o-mini",
			EmbedModel:     "text-embedding-3-small",
			Temperature:    0,
			EmbedBatchSize: 64,
		},
		Chunking: ChunkingConfig{Size: 1000, Overlap: 200},
		TopK:     TopKConfig{Chat: 4, Compliance: 3, Report: 10},
		Retry:    RetryConfig{MaxAttempts: 3, InitialWait: 500 * time.Millisecond, MaxWait: 5 * time.Second},
		Limits:   LimitsConfig{ModelRPS: 5, ModelBurst: 5, MaxBodyBytes: 64 << 20, ReportBucket: 50},
		NATS:     NATSConfig{Subject: "complimo.ingest"},
		Neo4j:    Neo4jConfig{User: "neo4j"},
	}
}

// Load builds the configuration. yamlPath may be empty, in which case
// $COMPLIMO_CONFIG and then ./config.yaml are tried. envFile may be empty
// for ./.env. Missing files are skipped.
func Load(yamlPath, envFile string) (Config, error) {
	cfg := Default()

	if yamlPath == "" {
		yamlPath = os.Getenv(EnvConfigPath)
	}
	if yamlPath == "" {
		yamlPath = "config.yaml"
	}
	if err := loadYAML(yamlPath, &cfg); err != nil {
		return cfg, err
	}

	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("config: load %s: %w", envFile, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	str := func(dst *string, key string) { *dst = envOr(key, *dst) }

	str(&cfg.Port, "PORT")
	if v := os.Getenv("CORS_ORIGIN"); v != "" {
		cfg.CORSOrigin = strings.Split(v, ",")
	}
	str(&cfg.UploadDir, "UPLOAD_DIR")
	str(&cfg.Dataset, "DATASET_PATH")

	str(&cfg.Index.Backend, "INDEX_BACKEND")
	str(&cfg.Index.Dir, "INDEX_DIR")
	str(&cfg.Index.QdrantAddr, "QDRANT_URL")
	str(&cfg.Index.Collection, "COLLECTION")

	str(&cfg.Model.Provider, "MODEL_PROVIDER")
	str(&cfg.Model.APIKey, "OPENAI_API_KEY")
	str(&cfg.Model.BaseURL, "OPENAI_BASE_URL")
	str(&cfg.Model.OllamaURL, "OLLAMA_URL")
	str(&cfg.Model.ChatModel, "CHAT_MODEL")
	str(&cfg.Model.EmbedModel, "EMBED_MODEL")

	str(&cfg.NATS.URL, "NATS_URL")
	str(&cfg.NATS.Subject, "NATS_SUBJECT")
	str(&cfg.Neo4j.URL, "NEO4J_URL")
	str(&cfg.Neo4j.User, "NEO4J_USER")
	str(&cfg.Neo4j.Pass, "NEO4J_PASS")

	var errs []error
	num := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	num(&cfg.Chunking.Size, "CHUNK_SIZE")
	num(&cfg.Chunking.Overlap, "CHUNK_OVERLAP")
	num(&cfg.Model.EmbedBatchSize, "EMBED_BATCH_SIZE")
	num(&cfg.TopK.Chat, "TOP_K_CHAT")
	num(&cfg.TopK.Compliance, "TOP_K_COMPLIANCE")
	num(&cfg.TopK.Report, "TOP_K_REPORT")
	num(&cfg.Retry.MaxAttempts, "EVAL_MAX_ATTEMPTS")

	if v := os.Getenv("MODEL_TEMPERATURE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: MODEL_TEMPERATURE: %w", err))
		} else {
			cfg.Model.Temperature = f
		}
	}
	if v := os.Getenv("MODEL_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: MODEL_RPS: %w", err))
		} else {
			cfg.Limits.ModelRPS = f
		}
	}
	return errors.Join(errs...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	var errs []error
	switch c.Index.Backend {
	case "local", "qdrant":
	default:
		errs = append(errs, fmt.Errorf("config: unknown index backend %q", c.Index.Backend))
	}
	switch c.Model.Provider {
	case "openai", "ollama":
	default:
		errs = append(errs, fmt.Errorf("config: unknown model provider %q", c.Model.Provider))
	}
	if c.Chunking.Size <= 0 || c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		errs = append(errs, fmt.Errorf("config: chunk overlap %d must be in [0, size %d)", c.Chunking.Overlap, c.Chunking.Size))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("config: retry max_attempts must be >= 1"))
	}
	return errors.Join(errs...)
}
