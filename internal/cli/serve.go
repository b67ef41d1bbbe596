package cli

import (
	"fmt"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/nguyenngocdue/RAG-MCP/internal/batch"
	"github.com/nguyenngocdue/RAG-MCP/internal/config"
	"github.com/nguyenngocdue/RAG-MCP/internal/engine"
	"github.com/nguyenngocdue/RAG-MCP/internal/extract"
	"github.com/nguyenngocdue/RAG-MCP/internal/log"
	ragmcp "github.com/nguyenngocdue/RAG-MCP/internal/mcp"
	"github.com/nguyenngocdue/RAG-MCP/internal/mineru"
	"github.com/nguyenngocdue/RAG-MCP/internal/model"
	"github.com/nguyenngocdue/RAG-MCP/internal/query"
	"github.com/nguyenngocdue/RAG-MCP/internal/registry"
	"github.com/nguyenngocdue/RAG-MCP/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdio",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(config.Options{ConfigPath: globalFlags.ConfigPath})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(ExitConfigInvalid)
		}

		logger := log.New(log.Config{
			Level: log.ParseLevel(cfg.Server.LogLevel),
			JSON:  globalFlags.JSON,
		})

		for _, dir := range []string{cfg.Storage.RAGStorageDir, cfg.Storage.UploadDir} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				fmt.Fprintf(os.Stderr, "cannot create %s: %v\n", dir, err)
				os.Exit(ExitStoreFailure)
			}
		}

		ctx := cmd.Context()

		registryStore := store.NewSQLiteStore(cfg.Storage.RegistryPath)
		if err := registryStore.Init(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "registry store init failed: %v\n", err)
			os.Exit(ExitStoreFailure)
		}
		defer func() { _ = registryStore.Close() }()

		reg := registry.New(registryStore, logger.With("component", "registry"))

		cache := extract.NewCache(64)
		dispatcher := extract.NewDispatcher(cache, logger.With("component", "extract"))
		dispatcher.RegisterDefault(model.TypeText, extract.TextParser{})
		mineruClient := mineru.NewClient(cfg.API.ParserURL, mineru.ParserMinerU)
		dispatcher.RegisterDefault(model.TypePDF, mineruClient)
		dispatcher.RegisterDefault(model.TypeOffice, mineruClient)
		dispatcher.RegisterDefault(model.TypeImage, mineruClient)
		dispatcher.RegisterNamed(mineru.NewClient(cfg.API.ParserURL, mineru.ParserDocling))
		reg.AddRemovalListener(dispatcher)

		eng := engine.NewClient(engine.Options{
			BaseURL:        cfg.API.EngineURL,
			APIKey:         cfg.API.Key,
			LLMModel:       cfg.Models.LLMModel,
			EmbeddingModel: cfg.Models.EmbeddingModel,
			RPS:            cfg.Server.EngineRPS,
		}, logger.With("component", "engine"))
		if err := eng.Init(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "retrieval engine init failed: %v\n", err)
			os.Exit(ExitEngineFailure)
		}
		defer func() { _ = eng.Close() }()

		processor := batch.NewProcessor(reg, dispatcher, eng,
			cfg.Server.MaxConcurrentFiles, cfg.Server.HardMaxConcurrent,
			logger.With("component", "batch"))
		queries := query.NewDispatcher(eng, cfg.Server.QueryTimeout, logger.With("component", "query"))

		srv, err := ragmcp.NewServer(ragmcp.Deps{
			Config:    cfg,
			Logger:    logger.With("component", "mcp"),
			Registry:  reg,
			Extractor: dispatcher,
			Processor: processor,
			Queries:   queries,
			Engine:    eng,
		})
		if err != nil {
			return err
		}

		logger.Info("serving MCP on stdio",
			"storage_dir", cfg.Storage.RAGStorageDir,
			"upload_dir", cfg.Storage.UploadDir)
		return srv.Run(ctx, &mcp.StdioTransport{})
	},
}
