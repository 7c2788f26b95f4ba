package service

import (
	"context"
	"strings"
	"time"

	"engagement/internal/changefeed"
	"engagement/internal/models"
	"engagement/internal/observability"
	"engagement/internal/repository"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// MaxBackfillBatch is the most posts rewritten in one transaction.
const MaxBackfillBatch = 500

// ProfileChange names the profile fields an edit touched. It only decides
// whether posts need rewriting: the values written always come from the
// user's stored row, read inside each batch.
type ProfileChange struct {
	Username    *string
	DisplayName *string
	AvatarRef   *string
}

// IsEmpty reports whether the change touches no snapshot field.
func (c ProfileChange) IsEmpty() bool {
	return c.Username == nil && c.DisplayName == nil && c.AvatarRef == nil
}

func (c ProfileChange) validate() error {
	if c.Username != nil && strings.TrimSpace(*c.Username) == "" {
		return models.NewValidationError("Username cannot be empty")
	}
	return nil
}

func authorSnapshot(u *models.User) repository.AuthorSnapshot {
	return repository.AuthorSnapshot{Username: u.Username, DisplayName: u.DisplayName, AvatarRef: u.AvatarRef}
}

// BackfillResult reports how far a propagation got.
type BackfillResult struct {
	UpdatedCount int64 `json:"updated_count"`
	Batches      int   `json:"batches"`
}

// BackfillService rewrites the author snapshot on a user's posts.
type BackfillService struct {
	tx        TxRunner
	repos     Repositories
	feed      *changefeed.Feed
	batchSize int
}

// NewBackfillService creates a backfill propagator writing batchSize posts per
// transaction, capped at MaxBackfillBatch.
func NewBackfillService(tx TxRunner, repos Repositories, feed *changefeed.Feed, batchSize int) *BackfillService {
	if batchSize <= 0 {
		batchSize = 400
	}
	if batchSize > MaxBackfillBatch {
		batchSize = MaxBackfillBatch
	}
	return &BackfillService{
		tx:        tx,
		repos:     repos,
		feed:      feed,
		batchSize: batchSize,
	}
}

// PropagateProfileChange overwrites the snapshot columns of every post by
// userID with the user's current profile, one keyset page per transaction.
// It is safe to re-run: each batch writes absolute values. A failure partway leaves earlier batches applied
// and returns the partial result with the error. Counters are never touched.
func (s *BackfillService) PropagateProfileChange(ctx context.Context, userID string, change ProfileChange) (*BackfillResult, error) {
	userID = strings.TrimSpace(userID)
	result := &BackfillResult{}
	if userID == "" {
		return result, models.NewValidationError("User is required")
	}
	if err := change.validate(); err != nil {
		return result, err
	}
	if change.IsEmpty() {
		return result, nil
	}

	span, ctx := observability.NewSpan(ctx, "backfill.propagate_profile", attribute.String("user_id", userID))
	defer span.End()
	start := time.Now()
	fields := map[string]interface{}{"user_id": userID}
	observability.LogAsyncOperationStart(ctx, "backfill_posts", fields)

	err := s.propagate(ctx, userID, result)

	fields["updated"] = result.UpdatedCount
	fields["batches"] = result.Batches
	if err != nil {
		span.SetError(err)
		observability.LogAsyncOperationError(ctx, "backfill_posts", err, fields)
	} else {
		fields["elapsed"] = time.Since(start).String()
		observability.LogAsyncOperationEnd(ctx, "backfill_posts", fields)
	}
	span.AddAttributes(attribute.Int64("updated", result.UpdatedCount), attribute.Int("batches", result.Batches))
	return result, err
}

func (s *BackfillService) propagate(ctx context.Context, userID string, result *BackfillResult) error {
	if _, err := s.repos.Users.GetByID(ctx, userID); err != nil {
		return err
	}

	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids, err := s.repos.Posts.AuthorPostIDsAfter(ctx, userID, afterID, s.batchSize)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		var updated int64
		var events []changefeed.Event
		err = s.tx.Run(ctx, "backfill_batch", func(tx *gorm.DB) error {
			// Read under the user lock: the snapshot is never older than a committed edit.
			user, err := s.repos.Aggregates.LockUser(tx, userID)
			if err != nil {
				return err
			}
			n, err := s.repos.Posts.OverwriteAuthorSnapshot(tx, userID, ids, authorSnapshot(user))
			if err != nil {
				return err
			}
			posts, err := s.repos.Posts.FindByIDs(tx, ids)
			if err != nil {
				return err
			}
			events = events[:0]
			for i := range posts {
				events = append(events, changefeed.Upsert(changefeed.CollectionPosts, posts[i].ID, &posts[i]))
			}
			updated = n
			return nil
		})
		if err != nil {
			return err
		}

		result.UpdatedCount += updated
		result.Batches++
		observability.BackfillPosts.Add(float64(updated))
		s.feed.PublishQuietly(ctx, events...)

		if len(ids) < s.batchSize {
			return nil
		}
		afterID = ids[len(ids)-1]
	}
}
