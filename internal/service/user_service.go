package service

import (
	"context"
	"strings"
	"time"

	"engagement/internal/cache"
	"engagement/internal/changefeed"
	"engagement/internal/models"
	"engagement/internal/observability"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type EnsureUserInput struct {
	ID          string
	Username    string
	DisplayName string
	AvatarRef   string
}

// ProfileUpdate carries the editable profile fields. Nil fields are left as is.
type ProfileUpdate struct {
	Username    *string
	DisplayName *string
	AvatarRef   *string
	Bio         *string
}

// Change returns the part of the update that posts snapshot.
func (u ProfileUpdate) Change() ProfileChange {
	return ProfileChange{Username: u.Username, DisplayName: u.DisplayName, AvatarRef: u.AvatarRef}
}

func (u ProfileUpdate) columns() (map[string]interface{}, error) {
	fields := make(map[string]interface{})
	if u.Username != nil {
		name := strings.TrimSpace(*u.Username)
		if name == "" {
			return nil, models.NewValidationError("Username cannot be empty")
		}
		fields["username"] = name
	}
	if u.DisplayName != nil {
		fields["display_name"] = strings.TrimSpace(*u.DisplayName)
	}
	if u.AvatarRef != nil {
		fields["avatar_ref"] = strings.TrimSpace(*u.AvatarRef)
	}
	if u.Bio != nil {
		fields["bio"] = strings.TrimSpace(*u.Bio)
	}
	return fields, nil
}

// UserService manages profiles and serves the follow and saved-post lists.
type UserService struct {
	tx       TxRunner
	repos    Repositories
	feed     *changefeed.Feed
	rdb      *redis.Client
	backfill *BackfillService
	log      *observability.OpLogger
}

func NewUserService(tx TxRunner, repos Repositories, feed *changefeed.Feed, rdb *redis.Client, backfill *BackfillService) *UserService {
	return &UserService{
		tx:       tx,
		repos:    repos,
		feed:     feed,
		rdb:      rdb,
		backfill: backfill,
		log:      observability.NewOpLogger("user"),
	}
}

// EnsureUser creates the profile for an auth identity on first sight and
// returns the stored profile on every later call.
func (s *UserService) EnsureUser(ctx context.Context, in EnsureUserInput) (*models.User, error) {
	user := &models.User{ID: in.ID, Username: in.Username, DisplayName: in.DisplayName, AvatarRef: in.AvatarRef}
	models.NormalizeUser(user)
	if user.ID == "" {
		return nil, models.NewValidationError("User id is required")
	}
	if user.Username == "" {
		return nil, models.NewValidationError("Username is required")
	}
	return s.repos.Users.CreateIfAbsent(ctx, user)
}

// UpdateProfile writes the profile fields. It does not touch posts; see
// UpdateProfileAndPropagate.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*models.User, error) {
	start := time.Now()
	userID = strings.TrimSpace(userID)

	var user *models.User
	err := func() error {
		if userID == "" {
			return models.NewValidationError("User id is required")
		}
		fields, err := upd.columns()
		if err != nil {
			return err
		}
		return s.tx.Run(ctx, "update_profile", func(tx *gorm.DB) error {
			locked, err := s.repos.Aggregates.LockUser(tx, userID)
			if err != nil {
				return err
			}
			if err := s.repos.Users.UpdateProfile(tx, locked.ID, fields); err != nil {
				return err
			}
			locked, err = s.repos.Aggregates.LockUser(tx, userID)
			if err != nil {
				return err
			}
			user = locked
			return nil
		})
	}()

	logResult(ctx, s.log, "update_profile", start, err, map[string]interface{}{"user_id": userID})
	if err != nil {
		return nil, err
	}
	cache.InvalidateProfileCard(ctx, s.rdb, user.ID)
	s.feed.PublishQuietly(ctx, changefeed.Upsert(changefeed.CollectionUsers, user.ID, user))
	return user, nil
}

// UpdateProfileAndPropagate writes the profile first, unconditionally, and
// then copies the new snapshot fields onto the user's posts. A failed
// propagation leaves the profile written; re-running the backfill repairs it.
func (s *UserService) UpdateProfileAndPropagate(ctx context.Context, userID string, upd ProfileUpdate) (*models.User, *BackfillResult, error) {
	user, err := s.UpdateProfile(ctx, userID, upd)
	if err != nil {
		return nil, nil, err
	}
	result, err := s.backfill.PropagateProfileChange(ctx, user.ID, upd.Change())
	return user, result, err
}

func (s *UserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return s.repos.Users.GetByID(ctx, strings.TrimSpace(userID))
}

// GetProfileCard returns the counter-free profile view, cache-aside.
func (s *UserService) GetProfileCard(ctx context.Context, userID string) (*models.ProfileCard, error) {
	userID = strings.TrimSpace(userID)
	var card models.ProfileCard
	err := cache.Aside(ctx, s.rdb, cache.ProfileCardKey(userID), &card, cache.ProfileCardTTL, func() error {
		user, err := s.repos.Users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		card = user.Card()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &card, nil
}

func (s *UserService) ListFollowers(ctx context.Context, userID string, limit, offset int) ([]models.User, error) {
	limit, offset = clampPage(limit, offset)
	return s.repos.Memberships.ListFollowers(ctx, strings.TrimSpace(userID), limit, offset)
}

func (s *UserService) ListFollowing(ctx context.Context, userID string, limit, offset int) ([]models.User, error) {
	limit, offset = clampPage(limit, offset)
	return s.repos.Memberships.ListFollowing(ctx, strings.TrimSpace(userID), limit, offset)
}

// ListSavedPosts returns the user's saved posts, most recently saved first.
func (s *UserService) ListSavedPosts(ctx context.Context, userID string, limit, offset int) ([]models.Post, error) {
	limit, offset = clampPage(limit, offset)
	return s.repos.Memberships.ListSavedPosts(ctx, strings.TrimSpace(userID), limit, offset)
}

func (s *UserService) IsFollowing(ctx context.Context, followerID, followeeID string) (bool, error) {
	return s.repos.Memberships.IsFollowing(ctx, strings.TrimSpace(followerID), strings.TrimSpace(followeeID))
}
