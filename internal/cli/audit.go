package cli

import (
	"context"
	"fmt"

	"engagement/internal/service"

	"github.com/spf13/cobra"
)

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Recount every counter and check mirrored edges",
		Long: `Recount likes, saves, comments, posts, followers and following from the
membership records and report every counter that disagrees, plus every save or
follow present on only one side. Read-only. Exits 1 when anything is found.

Run it while writes are quiet; in-flight toggles can show as drift.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(rootOpts, cmd)
		},
	}
	return cmd
}

func runAudit(opts *RootOptions, cmd *cobra.Command) error {
	deps, err := opts.Open()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect", err)
	}
	defer deps.Close()

	report, err := service.NewAuditService(deps.repos()).Audit(context.Background())
	if err != nil {
		return WrapExitError(ExitCommandError, "audit failed", err)
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		if err := writeJSON(out, report); err != nil {
			return err
		}
	} else {
		for _, d := range report.Drift {
			fmt.Fprintf(out, "drift  %s/%s %s: stored=%d actual=%d\n", d.Table, d.ID, d.Counter, d.Stored, d.Actual)
		}
		for _, g := range report.Gaps {
			fmt.Fprintf(out, "gap    %s %s -> %s (only %s present)\n", g.Relation, g.Left, g.Right, g.Present)
		}
		if report.Clean() {
			fmt.Fprintln(out, "All counters match their records")
		}
	}

	if !report.Clean() {
		return NewExitError(ExitFailure, fmt.Sprintf("audit found %d drifted counters and %d mirror gaps", len(report.Drift), len(report.Gaps)))
	}
	return nil
}
