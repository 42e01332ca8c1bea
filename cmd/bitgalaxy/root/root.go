// Package root wires the bitgalaxy command tree.
package root

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is the CLI version reported by --version.
const Version = "0.1.0"

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "bitgalaxy",
		Short:         "BitGalaxy player progression engine",
		Long:          "BitGalaxy tracks player XP, ranks and weekly arcade tiers behind an HTTP API.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	cmd.AddCommand(
		newServeCmd(),
		newRankCmd(),
		newTierCmd(),
		newLoadgenCmd(),
	)
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Stderr.WriteString("bitgalaxy: " + err.Error() + "\n")
		os.Exit(1)
	}
}
