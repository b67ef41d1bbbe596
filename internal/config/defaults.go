package config

import "time"

// Default returns the baseline configuration before file, dotenv, and env
// overlays.
func Default() Config {
	return Config{
		API: APIConfig{
			EngineURL: "http://127.0.0.1:9621",
			ParserURL: "http://127.0.0.1:8888",
		},
		Models: ModelConfig{
			LLMModel:       "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-large",
		},
		Storage: StorageConfig{
			RAGStorageDir: "./rag_storage",
			UploadDir:     "./uploads",
			RegistryPath:  "./rag_storage/registry.db",
			MaxFileSizeMB: 100,
		},
		Server: ServerConfig{
			LogLevel:           "info",
			MaxConcurrentFiles: 3,
			HardMaxConcurrent:  16,
			QueryTimeout:       120 * time.Second,
			EngineRPS:          4,
		},
	}
}
