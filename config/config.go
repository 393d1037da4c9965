package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config holds every runtime setting of the service.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Gemini   GeminiConfig   `koanf:"gemini"`
	Sarvam   SarvamConfig   `koanf:"sarvam"`
	Storage  StorageConfig  `koanf:"storage"`
	RAG      RAGConfig      `koanf:"rag"`
	Log      LogConfig      `koanf:"log"`
}

type ServerConfig struct {
	Port          string        `koanf:"port" validate:"required"`
	MaxUploadMB   int64         `koanf:"max_upload_mb" validate:"gt=0"`
	IngestTimeout time.Duration `koanf:"ingest_timeout" validate:"gt=0"`

	// AllowedOrigins is a comma separated list of WebSocket origin patterns.
	AllowedOrigins string `koanf:"allowed_origins"`
}

// DatabaseConfig selects the knowledge index backend. An empty URL keeps
// passages and courses in memory.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

type GeminiConfig struct {
	APIKey          string `koanf:"api_key"`
	Model           string `koanf:"model" validate:"required"`
	EmbeddingModel  string `koanf:"embedding_model" validate:"required"`
	EmbeddingDims   int    `koanf:"embedding_dims" validate:"gt=0"`
	MaxPromptLength int    `koanf:"max_prompt_length" validate:"gt=0"`
}

type SarvamConfig struct {
	APIKey    string        `koanf:"api_key"`
	BaseURL   string        `koanf:"base_url" validate:"required,url"`
	Speaker   string        `koanf:"speaker" validate:"required"`
	Timeout   time.Duration `koanf:"timeout" validate:"gt=0"`
	CacheSize int           `koanf:"cache_size" validate:"gt=0"`
}

type StorageConfig struct {
	Type      string `koanf:"type" validate:"oneof=local s3"`
	LocalPath string `koanf:"local_path"`
	S3Bucket  string `koanf:"s3_bucket" validate:"required_if=Type s3"`
	S3Region  string `koanf:"s3_region"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
}

type RAGConfig struct {
	TopK         int `koanf:"top_k" validate:"gt=0"`
	ChunkSize    int `koanf:"chunk_size" validate:"gt=0"`
	ChunkOverlap int `koanf:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
}

type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `koanf:"json"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           "8080",
			MaxUploadMB:    10,
			IngestTimeout:  30 * time.Minute,
			AllowedOrigins: "*",
		},
		Gemini: GeminiConfig{
			Model:           "gemini-2.0-flash",
			EmbeddingModel:  "text-embedding-004",
			EmbeddingDims:   768,
			MaxPromptLength: 30000,
		},
		Sarvam: SarvamConfig{
			BaseURL:   "https://api.sarvam.ai",
			Speaker:   "anushka",
			Timeout:   30 * time.Second,
			CacheSize: 1024,
		},
		Storage: StorageConfig{
			Type:      "local",
			LocalPath: "./storage/files",
			S3Region:  "us-east-1",
		},
		RAG: RAGConfig{
			TopK:         4,
			ChunkSize:    1000,
			ChunkOverlap: 200,
		},
		Log: LogConfig{Level: "info"},
	}
}

// envKeys maps environment variables to configuration paths.
var envKeys = map[string]string{
	"PORT":                   "server.port",
	"MAX_UPLOAD_MB":          "server.max_upload_mb",
	"INGEST_TIMEOUT":         "server.ingest_timeout",
	"ALLOWED_ORIGINS":        "server.allowed_origins",
	"DATABASE_URL":           "database.url",
	"GEMINI_API_KEY":         "gemini.api_key",
	"GEMINI_MODEL":           "gemini.model",
	"GEMINI_EMBEDDING_MODEL": "gemini.embedding_model",
	"SARVAM_API_KEY":         "sarvam.api_key",
	"SARVAM_BASE_URL":        "sarvam.base_url",
	"SARVAM_SPEAKER":         "sarvam.speaker",
	"SARVAM_TIMEOUT":         "sarvam.timeout",
	"STORAGE_TYPE":           "storage.type",
	"STORAGE_LOCAL_PATH":     "storage.local_path",
	"AWS_S3_BUCKET":          "storage.s3_bucket",
	"AWS_REGION":             "storage.s3_region",
	"AWS_ACCESS_KEY_ID":      "storage.access_key",
	"AWS_SECRET_ACCESS_KEY":  "storage.secret_key",
	"RAG_TOP_K":              "rag.top_k",
	"CHUNK_SIZE":             "rag.chunk_size",
	"CHUNK_OVERLAP":          "rag.chunk_overlap",
	"LOG_LEVEL":              "log.level",
	"LOG_JSON":               "log.json",
}

// Load reads .env files (if any), applies environment overrides on top of
// Default and validates the result.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) > 0 {
		// Missing files are fine; the process environment still applies.
		_ = godotenv.Load(envFiles...)
	} else {
		_ = godotenv.Load()
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	err := k.Load(env.Provider(".", env.Opt{
		TransformFunc: func(key, value string) (string, any) {
			path, ok := envKeys[key]
			if !ok || value == "" {
				return "", nil
			}
			return path, value
		},
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// OriginPatterns splits AllowedOrigins.
func (s ServerConfig) OriginPatterns() []string {
	var out []string
	for _, p := range strings.Split(s.AllowedOrigins, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks field constraints.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
