// Package cli implements engagectl, the operator tool for re-running
// backfills, sweeping orphans and auditing counters.
package cli

import (
	"fmt"

	"engagement/internal/cache"
	"engagement/internal/changefeed"
	"engagement/internal/config"
	"engagement/internal/database"
	"engagement/internal/featureflags"
	"engagement/internal/service"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"
	Open   OpenFunc
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Deps are the connections a command works against. Release, when set,
// closes them.
type Deps struct {
	Config  *config.Config
	DB      *gorm.DB
	Redis   *redis.Client
	Release func()
}

// Close releases the connections.
func (d *Deps) Close() {
	if d.Release != nil {
		d.Release()
	}
}

func (d *Deps) repos() service.Repositories {
	return service.NewRepositories(d.DB)
}

func (d *Deps) backfill() *service.BackfillService {
	runner := database.NewTxRunner(d.DB, database.TxOptionsFromConfig(d.Config))
	return service.NewBackfillService(runner, d.repos(), changefeed.NewFeed(d.Redis), d.Config.BackfillBatchSize)
}

func (d *Deps) flags() *featureflags.Manager {
	return featureflags.NewManager(d.Config.FeatureFlags)
}

// OpenFunc connects the dependencies for one command run.
type OpenFunc func() (*Deps, error)

// OpenFromConfig loads the config and connects the store and Redis.
func OpenFromConfig() (*Deps, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	rdb := cache.InitRedis(cfg.RedisURL)
	return &Deps{Config: cfg, DB: db, Redis: rdb, Release: func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		if rdb != nil {
			_ = rdb.Close()
		}
	}}, nil
}

// NewRootCommand creates the root command for engagectl.
func NewRootCommand(open OpenFunc) *cobra.Command {
	if open == nil {
		open = OpenFromConfig
	}
	opts := &RootOptions{Open: open}

	cmd := &cobra.Command{
		Use:   "engagectl",
		Short: "engagectl - operate the engagement engine",
		Long:  "Operator commands for the engagement engine: re-run profile backfills, reap orphaned records and audit counters.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewBackfillCommand(opts))
	cmd.AddCommand(NewReapCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
