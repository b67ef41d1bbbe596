package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// Exit codes.
const (
	ExitSuccess       = 0
	ExitGenericError  = 1
	ExitConfigInvalid = 2
	ExitStoreFailure  = 3
	ExitEngineFailure = 4
)

// GlobalFlags holds flags shared across all commands.
type GlobalFlags struct {
	ConfigPath string
	JSON       bool
	Quiet      bool
}

var globalFlags GlobalFlags

var rootCmd = &cobra.Command{
	Use:   "ragmcp",
	Short: "MCP server for document ingestion and RAG retrieval",
	Long: "ragmcp exposes document upload, processing, and retrieval-augmented " +
		"generation as Model Context Protocol tools backed by an external " +
		"knowledge-graph retrieval engine.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "ragmcp.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "emit JSON logs")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.Quiet, "quiet", false, "reduce output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(versionCmd)
}

// ExecuteContext runs the root command under ctx so commands observe
// shutdown signals through cmd.Context().
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
