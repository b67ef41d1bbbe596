package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nguyenngocdue/RAG-MCP/internal/config"
	"github.com/nguyenngocdue/RAG-MCP/internal/log"
	"github.com/nguyenngocdue/RAG-MCP/internal/registry"
	"github.com/nguyenngocdue/RAG-MCP/internal/store"
)

var resetCmd = &cobra.Command{
	Use:   "reset <doc-id>",
	Short: "Force a stuck PROCESSING document back to UPLOADED",
	Long: "reset returns a document stuck in PROCESSING (for example after the " +
		"extracting process died) to UPLOADED so it can be processed again. " +
		"This is an explicit operator action and is never triggered automatically.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		st := newStyles(out, globalFlags.JSON)

		cfg, err := config.Load(config.Options{ConfigPath: globalFlags.ConfigPath, SkipValidate: true})
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", st.errPrefix(), err)
			os.Exit(ExitConfigInvalid)
		}

		registryStore := store.NewSQLiteStore(cfg.Storage.RegistryPath)
		if err := registryStore.Init(cmd.Context()); err != nil {
			fmt.Fprintf(os.Stderr, "%s cannot open registry: %v\n", st.errPrefix(), err)
			os.Exit(ExitStoreFailure)
		}
		defer func() { _ = registryStore.Close() }()

		reg := registry.New(registryStore, log.New(log.Config{Level: log.ParseLevel(cfg.Server.LogLevel)}))
		doc, err := reg.ForceReset(cmd.Context(), args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", st.errPrefix(), err)
			os.Exit(ExitGenericError)
		}

		fmt.Fprintln(out, st.kv("Document", doc.DocID))
		fmt.Fprintln(out, st.kv("State", string(doc.State)))
		return nil
	},
}
