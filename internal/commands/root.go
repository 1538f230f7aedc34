// Package commands defines the reconciler CLI.
package commands

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configFile string
	verbose    bool
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "reconciler",
		Short: "Reconcile bank notification emails against pending payments",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(
		newServeCommand(opts),
		newSweepCommand(opts),
		newIngestCommand(opts),
		newRepoolCommand(opts),
		newTemplatesCommand(opts),
	)
	return rootCmd
}
