package cli

import (
	"context"
	"fmt"

	"engagement/internal/repository"
	"engagement/internal/service"

	"github.com/spf13/cobra"
)

// ReapOptions holds flags for the reap command.
type ReapOptions struct {
	*RootOptions
	BatchSize int
}

// NewReapCommand creates the reap command.
func NewReapCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReapOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Delete likes, saves and comments of deleted posts",
		Long: `Run one orphan sweep now. Orphaned records already read as absent, so
this only reclaims storage. Honors the orphan_reaper feature flag.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReap(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.BatchSize, "batch", 0, "posts per delete batch (default REAPER_BATCH_SIZE)")

	return cmd
}

func runReap(opts *ReapOptions, cmd *cobra.Command) error {
	deps, err := opts.Open()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect", err)
	}
	defer deps.Close()

	batch := opts.BatchSize
	if batch <= 0 {
		batch = deps.Config.ReaperBatchSize
	}
	result, err := service.NewReaperService(deps.repos(), deps.flags(), batch).Sweep(context.Background())
	if err != nil {
		return WrapExitError(ExitFailure, "sweep failed", err)
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	out := cmd.OutOrStdout()
	if result.Skipped {
		fmt.Fprintln(out, "orphan_reaper is disabled; nothing done")
		return nil
	}
	for _, table := range repository.OrphanTables {
		fmt.Fprintf(out, "%-12s %d\n", table, result.Removed[table])
	}
	fmt.Fprintf(out, "Removed %d orphaned records\n", result.Total())
	return nil
}
