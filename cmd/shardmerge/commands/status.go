package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/shardmerge/pkg/manifest"
	"github.com/Sumatoshi-tech/shardmerge/pkg/marker"
	"github.com/Sumatoshi-tech/shardmerge/pkg/observability"
)

func newStatusCommand(flags *globalFlags) *cobra.Command {
	var noColor bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show every manifest under the data root and its state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := newApp(flags, observability.ModeCLI)
			if err != nil {
				return err
			}
			defer application.close()

			selections, err := application.scanner.Describe(cmd.Context())
			if err != nil {
				return err
			}

			color.NoColor = noColor || !isTerminal(cmd.OutOrStdout()) //nolint:reassign // library global

			renderStatus(cmd.OutOrStdout(), application.scanner.Layout(), selections, time.Now())

			return nil
		},
	}

	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")

	return cmd
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}

	info, err := file.Stat()
	if err != nil {
		return false
	}

	return info.Mode()&os.ModeCharDevice != 0
}

// renderStatus writes one row per manifest, oldest first. The newest
// manifest is the one the merge loop acts on.
func renderStatus(w io.Writer, layout manifest.Layout, selections []manifest.Selection, now time.Time) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Manifest", "Created", "Status", "Marker", "Output"})

	for idx, sel := range selections {
		name := sel.Manifest.Name
		if idx == len(selections)-1 {
			name += " *"
		}

		tbl.AppendRow(table.Row{
			name,
			humanize.RelTime(sel.Manifest.CreatedAt, now, "ago", "from now"),
			statusCell(sel),
			markerCell(layout.MarkerPath(sel.Manifest)),
			layout.OutputDir(sel.Manifest),
		})
	}

	tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d manifests", len(selections))})
	tbl.Render()
}

func statusCell(sel manifest.Selection) string {
	switch sel.Status {
	case manifest.StatusProcessed:
		return color.GreenString("converted")
	case manifest.StatusNotReady:
		return color.YellowString("mounting (%s)", sel.MissingTable)
	case manifest.StatusReady:
		return color.CyanString("ready")
	case manifest.StatusNone:
	}

	return string(sel.Status)
}

func markerCell(path string) string {
	mk, err := marker.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "-"
		}

		return color.RedString("unreadable")
	}

	if mk.Legacy {
		return "legacy"
	}

	return mk.CompletedAt.Format(time.RFC3339)
}
