package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks invariants that would otherwise fail deep inside a tool
// call. Returned errors are suitable for startup exit code 2.
func Validate(cfg *Config) error {
	var problems []string

	if strings.TrimSpace(cfg.API.Key) == "" {
		problems = append(problems, "api key is required (set RAGMCP_API_KEY or OPENAI_API_KEY)")
	}
	if strings.TrimSpace(cfg.API.EngineURL) == "" {
		problems = append(problems, "engine_url must not be empty")
	}
	if cfg.Storage.MaxFileSizeMB <= 0 {
		problems = append(problems, "max_file_size_mb must be positive")
	}
	if cfg.Server.MaxConcurrentFiles < 1 {
		problems = append(problems, "max_concurrent_files must be >= 1")
	}
	if cfg.Server.HardMaxConcurrent < cfg.Server.MaxConcurrentFiles {
		problems = append(problems, "hard_max_concurrent must be >= max_concurrent_files")
	}
	if cfg.Server.QueryTimeout <= 0 {
		problems = append(problems, "query_timeout must be positive")
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("CONFIG_INVALID: " + fmt.Sprintf("%d problem(s): ", len(problems)) + strings.Join(problems, "; "))
}
