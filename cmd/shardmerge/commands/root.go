// Package commands implements CLI command handlers for shardmerge.
package commands

import (
	"github.com/spf13/cobra"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
	logJSON    bool
}

// NewRootCommand creates the shardmerge root command. Without a subcommand it
// runs the merge loop.
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "shardmerge",
		Short: "Merge sharded manifest exports into one file per table",
		Long: `shardmerge watches a data root for exported manifest directories, waits
until every table of the newest manifest is mounted, merges each table's
shards into a single file and marks the manifest as converted.

Commands:
  run       Poll and merge until interrupted (default)
  once      Run a single merge cycle
  status    Show every manifest and its state
  config    Print the effective configuration`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLoop(cmd, flags)
		},
	}

	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default .shardmerge.yaml in CWD or $HOME)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flags.logJSON, "log-json", false, "emit JSON logs")

	rootCmd.AddCommand(newRunCommand(flags))
	rootCmd.AddCommand(newOnceCommand(flags))
	rootCmd.AddCommand(newStatusCommand(flags))
	rootCmd.AddCommand(newConfigCommand(flags))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}
