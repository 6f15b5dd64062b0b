package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/shardmerge/pkg/observability"
	"github.com/Sumatoshi-tech/shardmerge/pkg/pipeline"
)

// ErrCycleFailed is returned by once when the merge cycle failed.
var ErrCycleFailed = errors.New("merge cycle failed")

func newOnceCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single merge cycle and exit",
		Long: `Run one merge cycle: select the newest manifest, merge it if every table is
mounted and it has no completion marker, then exit. The outcome is printed
on stdout; a failed cycle exits non-zero.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := newApp(flags, observability.ModeOnce)
			if err != nil {
				return err
			}
			defer application.close()

			driver, err := application.driver()
			if err != nil {
				return err
			}

			outcome, tickErr := driver.Tick(cmd.Context())

			fmt.Fprintln(cmd.OutOrStdout(), outcome)

			if outcome == pipeline.OutcomeFailed {
				return fmt.Errorf("%w: %w", ErrCycleFailed, tickErr)
			}

			return nil
		},
	}
}
