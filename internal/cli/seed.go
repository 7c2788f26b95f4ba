package cli

import (
	"context"
	"fmt"
	"time"

	"engagement/internal/changefeed"
	"engagement/internal/database"
	"engagement/internal/seed"
	"engagement/internal/service"

	"github.com/spf13/cobra"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	Users        int
	PostsPerUser int
	Seed         int64
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate demo users, posts and engagement",
		Long: `Create fake users and posts and let them like, save, follow and comment at
random. Everything goes through the coordinators, so the result passes audit.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Users, "users", 20, "number of users")
	cmd.Flags().IntVar(&opts.PostsPerUser, "posts", 3, "posts per user")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "random seed (default: current time)")

	return cmd
}

func runSeed(opts *SeedOptions, cmd *cobra.Command) error {
	if opts.Users < 1 || opts.PostsPerUser < 0 {
		return NewExitError(ExitCommandError, "--users must be positive and --posts non-negative")
	}
	deps, err := opts.Open()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect", err)
	}
	defer deps.Close()

	runner := database.NewTxRunner(deps.DB, database.TxOptionsFromConfig(deps.Config))
	repos := deps.repos()
	feed := changefeed.NewFeed(deps.Redis)
	svc := seed.Services{
		Users:   service.NewUserService(runner, repos, feed, deps.Redis, deps.backfill()),
		Posts:   service.NewPostService(runner, repos, feed),
		Toggles: service.NewToggleService(runner, repos, feed),
	}

	s := opts.Seed
	if s == 0 {
		s = time.Now().UnixNano()
	}
	out, err := seed.NewFactory(svc, s).Mesh(context.Background(), seed.MeshOptions{
		Users:         opts.Users,
		PostsPerUser:  opts.PostsPerUser,
		LikeChance:    0.3,
		SaveChance:    0.1,
		FollowChance:  0.2,
		CommentChance: 0.1,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "seed failed", err)
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), map[string]int{"users": len(out.Users), "posts": len(out.Posts)})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d users and %d posts (seed %d)\n", len(out.Users), len(out.Posts), s)
	return nil
}
