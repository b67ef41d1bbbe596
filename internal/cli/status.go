package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nguyenngocdue/RAG-MCP/internal/config"
	"github.com/nguyenngocdue/RAG-MCP/internal/model"
	"github.com/nguyenngocdue/RAG-MCP/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show registry and storage status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		st := newStyles(out, globalFlags.JSON)

		cfg, err := config.Load(config.Options{ConfigPath: globalFlags.ConfigPath, SkipValidate: true})
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", st.errPrefix(), err)
			os.Exit(ExitConfigInvalid)
		}

		fmt.Fprintln(out, st.sectionHeader("Configuration"))
		fmt.Fprintln(out, st.kv("Engine URL", cfg.API.EngineURL))
		fmt.Fprintln(out, st.kv("Parser URL", cfg.API.ParserURL))
		fmt.Fprintln(out, st.kv("Storage dir", cfg.Storage.RAGStorageDir))
		fmt.Fprintln(out, st.kv("Upload dir", cfg.Storage.UploadDir))
		fmt.Fprintln(out, st.kv("Registry path", cfg.Storage.RegistryPath))
		fmt.Fprintln(out, st.kv("Max concurrent", fmt.Sprintf("%d (hard cap %d)", cfg.Server.MaxConcurrentFiles, cfg.Server.HardMaxConcurrent)))

		if _, err := os.Stat(cfg.Storage.RegistryPath); err != nil {
			fmt.Fprintln(out)
			fmt.Fprintln(out, st.kv("Registry", "not initialized"))
			return nil
		}

		registryStore := store.NewSQLiteStore(cfg.Storage.RegistryPath)
		if err := registryStore.Init(cmd.Context()); err != nil {
			fmt.Fprintf(os.Stderr, "%s cannot open registry: %v\n", st.errPrefix(), err)
			os.Exit(ExitStoreFailure)
		}
		defer func() { _ = registryStore.Close() }()

		counts, err := registryStore.CountByState(cmd.Context())
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s cannot read registry: %v\n", st.errPrefix(), err)
			os.Exit(ExitStoreFailure)
		}

		var total int64
		for _, n := range counts {
			total += n
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, st.sectionHeader("Documents"))
		fmt.Fprintln(out, st.kv("Total", fmt.Sprintf("%d", total)))
		for _, state := range []model.DocState{model.StateUploaded, model.StateProcessing, model.StateProcessed, model.StateFailed} {
			if n, ok := counts[string(state)]; ok {
				label := string(state)
				rendered := fmt.Sprintf("%d", n)
				if st.enabled {
					switch state {
					case model.StateProcessed:
						rendered = st.Green.Render(rendered)
					case model.StateFailed:
						rendered = st.Red.Render(rendered)
					}
				}
				fmt.Fprintln(out, st.kv(label, rendered))
			}
		}
		return nil
	},
}
