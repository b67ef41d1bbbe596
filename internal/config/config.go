package config

import "time"

// Config is the full server configuration. It is built once at process
// start by Load and treated as immutable for the process lifetime.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Models  ModelConfig   `yaml:"models"`
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
}

// APIConfig covers the upstream LLM/embedding provider and the two external
// HTTP collaborators (retrieval engine, parsing service).
type APIConfig struct {
	Key       string `yaml:"key"`
	EngineURL string `yaml:"engine_url"`
	ParserURL string `yaml:"parser_url"`
}

type ModelConfig struct {
	LLMModel       string `yaml:"llm_model"`
	EmbeddingModel string `yaml:"embedding_model"`
}

type StorageConfig struct {
	// RAGStorageDir is where the engine keeps its own artifacts; reported in
	// storage info, never written by this process.
	RAGStorageDir string `yaml:"rag_storage_dir"`
	// UploadDir holds staged copies of uploaded files.
	UploadDir string `yaml:"upload_dir"`
	// RegistryPath is the SQLite file backing the document registry.
	RegistryPath string `yaml:"registry_path"`
	// MaxFileSizeMB rejects uploads above this size.
	MaxFileSizeMB int64 `yaml:"max_file_size_mb"`
}

type ServerConfig struct {
	LogLevel string `yaml:"log_level"`
	// MaxConcurrentFiles is the default batch concurrency ceiling.
	MaxConcurrentFiles int `yaml:"max_concurrent_files"`
	// HardMaxConcurrent clamps caller-supplied ceilings; never rejected,
	// always clamped.
	HardMaxConcurrent int `yaml:"hard_max_concurrent"`
	// QueryTimeout bounds a single engine query call.
	QueryTimeout time.Duration `yaml:"query_timeout"`
	// EngineRPS rate-limits calls toward the engine's upstream APIs.
	EngineRPS float64 `yaml:"engine_rps"`
}
