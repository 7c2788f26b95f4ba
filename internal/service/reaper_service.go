package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"engagement/internal/featureflags"
	"engagement/internal/observability"
	"engagement/internal/repository"

	"golang.org/x/sync/errgroup"
)

// maxReapPasses bounds the work one sweep does per table.
const maxReapPasses = 50

// ReaperService removes likes, saves, saved-post projections and comments
// left behind by deleted posts. It is best-effort: orphans already read as
// absent everywhere, so a late sweep only costs storage.
type ReaperService struct {
	repos     Repositories
	flags     *featureflags.Manager
	batchSize int
}

func NewReaperService(repos Repositories, flags *featureflags.Manager, batchSize int) *ReaperService {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &ReaperService{repos: repos, flags: flags, batchSize: batchSize}
}

// SweepResult counts removed rows per table.
type SweepResult struct {
	Removed map[string]int64 `json:"removed"`
	Skipped bool             `json:"skipped"`
}

// Total is the number of rows removed across tables.
func (r *SweepResult) Total() int64 {
	var n int64
	for _, v := range r.Removed {
		n += v
	}
	return n
}

// Sweep reaps every orphan table concurrently. It does nothing when the
// orphan_reaper flag is off.
func (s *ReaperService) Sweep(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{Removed: make(map[string]int64, len(repository.OrphanTables))}
	if !s.flags.EnabledGlobally(featureflags.OrphanReaper) {
		result.Skipped = true
		return result, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, table := range repository.OrphanTables {
		table := table
		g.Go(func() error {
			var removed int64
			defer func() {
				mu.Lock()
				result.Removed[table] = removed
				mu.Unlock()
			}()
			for pass := 0; pass < maxReapPasses; pass++ {
				n, err := s.repos.Maintenance.ReapOrphans(gctx, table, s.batchSize)
				if err != nil {
					return err
				}
				removed += n
				observability.OrphansReaped.WithLabelValues(table).Add(float64(n))
				if n == 0 {
					return nil
				}
			}
			return nil
		})
	}
	err := g.Wait()
	return result, err
}

// Run sweeps every interval until ctx is done.
func (s *ReaperService) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	observability.LogAsyncOperationStart(ctx, "orphan_reaper", map[string]interface{}{"interval": interval.String()})
	for {
		select {
		case <-ctx.Done():
			observability.LogAsyncOperationEnd(ctx, "orphan_reaper", nil)
			return
		case <-ticker.C:
			result, err := s.Sweep(ctx)
			if err != nil {
				observability.LogAsyncOperationError(ctx, "orphan_reaper", err, nil)
				continue
			}
			if total := result.Total(); total > 0 {
				observability.Logger.InfoContext(ctx, "orphans reaped",
					slog.Int64("total", total),
					slog.Any("removed", result.Removed),
				)
			}
		}
	}
}
