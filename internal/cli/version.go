package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the release version, overridable at build time via
// -ldflags "-X .../internal/cli.Version=...".
var Version = "1.0.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ragmcp version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "ragmcp %s\n", Version)
	},
}
