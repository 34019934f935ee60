package cli

import (
	"github.com/spf13/cobra"

	"github.com/terrapin-dev/terrapin/internal/logging"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "terrapin",
	Short: "Declarative infrastructure reconciler",
	Long: `Terrapin reconciles declared cloud resources with what actually exists.

It reads a PKL configuration describing the desired infrastructure, plans
the minimal set of changes against recorded state, and applies them in
dependency order:
  • Type-safe resource definitions with ref:// cross-references
  • Human-readable plans and state files
  • Concurrent, dependency-ordered execution
  • Local or S3-backed state with locking`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logLevel)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(versionCmd)
}
