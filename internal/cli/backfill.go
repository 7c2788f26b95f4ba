package cli

import (
	"context"
	"fmt"

	"engagement/internal/service"

	"github.com/spf13/cobra"
)

// BackfillOptions holds flags for the backfill command.
type BackfillOptions struct {
	*RootOptions
	UserID string
}

// NewBackfillCommand creates the backfill command.
func NewBackfillCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackfillOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Re-copy a user's profile onto their posts",
		Long: `Rewrite the author snapshot (username, display name, avatar) on every
post of a user from the user's current profile.

Safe to re-run: a repeated backfill leaves the same end state.

Examples:
  engagectl backfill --user 7f3c
  engagectl backfill --user 7f3c --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.UserID, "user", "", "user id to backfill (required)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runBackfill(opts *BackfillOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	deps, err := opts.Open()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect", err)
	}
	defer deps.Close()

	user, err := deps.repos().Users.GetByID(ctx, opts.UserID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load user", err)
	}

	result, err := deps.backfill().PropagateProfileChange(ctx, user.ID, service.ProfileChange{
		Username:    &user.Username,
		DisplayName: &user.DisplayName,
		AvatarRef:   &user.AvatarRef,
	})
	if err != nil {
		if result != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "partial backfill: %d posts in %d batches\n", result.UpdatedCount, result.Batches)
		}
		return WrapExitError(ExitFailure, "backfill did not complete", err)
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Backfilled %d posts of %s in %d batches\n", result.UpdatedCount, user.ID, result.Batches)
	return nil
}
