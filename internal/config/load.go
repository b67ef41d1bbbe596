package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Options for loading config.
type Options struct {
	// ConfigPath is the optional YAML file; a missing file is not an error.
	ConfigPath string
	// SkipValidate disables validation (e.g. for config printing).
	SkipValidate bool
}

// Load builds config with precedence: defaults → ragmcp.yaml → .env files →
// process environment. Explicit environment always wins over dotenv files.
func Load(opts Options) (*Config, error) {
	cfg := Default()

	// godotenv never overrides variables already present in the environment,
	// which is exactly the precedence we want.
	for _, path := range []string{".env.local", ".env"} {
		if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("CONFIG_INVALID: loading %s: %w", path, err)
		}
	}

	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("CONFIG_INVALID: malformed YAML in %s: %w", opts.ConfigPath, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("CONFIG_INVALID: cannot read config file %s: %w", opts.ConfigPath, err)
		}
	}

	applyEnv(&cfg)

	if !opts.SkipValidate {
		if err := Validate(&cfg); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.API.Key, "RAGMCP_API_KEY", "OPENAI_API_KEY")
	setString(&cfg.API.EngineURL, "ENGINE_URL")
	setString(&cfg.API.ParserURL, "PARSER_URL")
	setString(&cfg.Models.LLMModel, "LLM_MODEL")
	setString(&cfg.Models.EmbeddingModel, "EMBEDDING_MODEL")
	setString(&cfg.Storage.RAGStorageDir, "RAG_STORAGE_DIR")
	setString(&cfg.Storage.UploadDir, "UPLOAD_DIR")
	setString(&cfg.Storage.RegistryPath, "REGISTRY_PATH")
	setInt64(&cfg.Storage.MaxFileSizeMB, "MAX_FILE_SIZE")
	setString(&cfg.Server.LogLevel, "LOG_LEVEL")
	setInt(&cfg.Server.MaxConcurrentFiles, "MAX_CONCURRENT_FILES")
	setInt(&cfg.Server.HardMaxConcurrent, "HARD_MAX_CONCURRENT")
	if v := os.Getenv("QUERY_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.QueryTimeout = time.Duration(n) * time.Second
		}
	}
}

func setString(dst *string, keys ...string) {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			*dst = v
			return
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
