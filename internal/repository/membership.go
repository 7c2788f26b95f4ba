package repository

import (
	"context"
	"time"

	"engagement/internal/models"

	"gorm.io/gorm"
)

// MembershipRepository reads and writes like, save and follow records. The
// methods that take a tx are used by the toggle coordinator; the rest are
// read paths for the UI.
type MembershipRepository interface {
	HasLike(tx *gorm.DB, postID, userID string) (bool, error)
	InsertLike(tx *gorm.DB, postID, userID string, at time.Time) error
	DeleteLike(tx *gorm.DB, postID, userID string) error

	SaveState(tx *gorm.DB, postID, userID string) (postSide, userSide bool, err error)
	InsertSave(tx *gorm.DB, postID, userID string, at time.Time) error
	DeleteSave(tx *gorm.DB, postID, userID string) error

	FollowState(tx *gorm.DB, edge models.Follow) (following, follower bool, err error)
	InsertFollow(tx *gorm.DB, edge models.Follow, at time.Time) error
	DeleteFollow(tx *gorm.DB, edge models.Follow) error

	ViewerState(ctx context.Context, postID, userID string) (*models.ViewerState, error)
	IsFollowing(ctx context.Context, followerID, followeeID string) (bool, error)
	ListFollowers(ctx context.Context, userID string, limit, offset int) ([]models.User, error)
	ListFollowing(ctx context.Context, userID string, limit, offset int) ([]models.User, error)
	ListSavedPosts(ctx context.Context, userID string, limit, offset int) ([]models.Post, error)
}

type membershipRepository struct {
	db *gorm.DB
}

// NewMembershipRepository creates a new membership repository
func NewMembershipRepository(db *gorm.DB) MembershipRepository {
	return &membershipRepository{db: db}
}

func exists(tx *gorm.DB, model interface{}, query string, args ...interface{}) (bool, error) {
	var n int64
	if err := tx.Model(model).Where(query, args...).Count(&n).Error; err != nil {
		return false, models.NewInternalError(err)
	}
	return n > 0, nil
}

// deleteOne removes exactly one membership row. Anything else means the row
// the caller just read is gone, which the held lock should rule out.
func deleteOne(tx *gorm.DB, model interface{}, what string, query string, args ...interface{}) error {
	res := tx.Where(query, args...).Delete(model)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected != 1 {
		return models.NewInvariantViolation("expected to delete one %s, deleted %d", what, res.RowsAffected)
	}
	return nil
}

func insert(tx *gorm.DB, value interface{}) error {
	if err := tx.Create(value).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *membershipRepository) HasLike(tx *gorm.DB, postID, userID string) (bool, error) {
	return exists(tx, &models.Like{}, "post_id = ? AND user_id = ?", postID, userID)
}

func (r *membershipRepository) InsertLike(tx *gorm.DB, postID, userID string, at time.Time) error {
	return insert(tx, &models.Like{PostID: postID, UserID: userID, CreatedAt: at})
}

func (r *membershipRepository) DeleteLike(tx *gorm.DB, postID, userID string) error {
	return deleteOne(tx, &models.Like{}, "like", "post_id = ? AND user_id = ?", postID, userID)
}

func (r *membershipRepository) SaveState(tx *gorm.DB, postID, userID string) (bool, bool, error) {
	postSide, err := exists(tx, &models.Save{}, "post_id = ? AND user_id = ?", postID, userID)
	if err != nil {
		return false, false, err
	}
	userSide, err := exists(tx, &models.SavedPost{}, "user_id = ? AND post_id = ?", userID, postID)
	if err != nil {
		return false, false, err
	}
	return postSide, userSide, nil
}

func (r *membershipRepository) InsertSave(tx *gorm.DB, postID, userID string, at time.Time) error {
	if err := insert(tx, &models.Save{PostID: postID, UserID: userID, CreatedAt: at}); err != nil {
		return err
	}
	return insert(tx, &models.SavedPost{UserID: userID, PostID: postID, SavedAt: at})
}

func (r *membershipRepository) DeleteSave(tx *gorm.DB, postID, userID string) error {
	if err := deleteOne(tx, &models.Save{}, "save", "post_id = ? AND user_id = ?", postID, userID); err != nil {
		return err
	}
	return deleteOne(tx, &models.SavedPost{}, "saved post", "user_id = ? AND post_id = ?", userID, postID)
}

func (r *membershipRepository) FollowState(tx *gorm.DB, edge models.Follow) (bool, bool, error) {
	following, err := exists(tx, &models.FollowingEntry{}, "user_id = ? AND followee_id = ?", edge.FollowerID, edge.FolloweeID)
	if err != nil {
		return false, false, err
	}
	follower, err := exists(tx, &models.FollowerEntry{}, "user_id = ? AND follower_id = ?", edge.FolloweeID, edge.FollowerID)
	if err != nil {
		return false, false, err
	}
	return following, follower, nil
}

func (r *membershipRepository) InsertFollow(tx *gorm.DB, edge models.Follow, at time.Time) error {
	following, follower := edge.Projections(at)
	if err := insert(tx, following); err != nil {
		return err
	}
	return insert(tx, follower)
}

func (r *membershipRepository) DeleteFollow(tx *gorm.DB, edge models.Follow) error {
	if err := deleteOne(tx, &models.FollowingEntry{}, "following entry",
		"user_id = ? AND followee_id = ?", edge.FollowerID, edge.FolloweeID); err != nil {
		return err
	}
	return deleteOne(tx, &models.FollowerEntry{}, "follower entry",
		"user_id = ? AND follower_id = ?", edge.FolloweeID, edge.FollowerID)
}

// ViewerState reports whether userID likes and saves postID. Records whose
// post is gone read as absent.
func (r *membershipRepository) ViewerState(ctx context.Context, postID, userID string) (*models.ViewerState, error) {
	db := r.db.WithContext(ctx)
	postExists, err := exists(db, &models.Post{}, "id = ?", postID)
	if err != nil {
		return nil, err
	}
	if !postExists {
		return nil, models.NewNotFoundError("Post", postID)
	}

	liked, err := exists(db, &models.Like{}, "post_id = ? AND user_id = ?", postID, userID)
	if err != nil {
		return nil, err
	}
	saved, err := exists(db, &models.Save{}, "post_id = ? AND user_id = ?", postID, userID)
	if err != nil {
		return nil, err
	}
	return &models.ViewerState{Liked: liked, Saved: saved}, nil
}

func (r *membershipRepository) IsFollowing(ctx context.Context, followerID, followeeID string) (bool, error) {
	return exists(r.db.WithContext(ctx), &models.FollowingEntry{}, "user_id = ? AND followee_id = ?", followerID, followeeID)
}

func (r *membershipRepository) ListFollowers(ctx context.Context, userID string, limit, offset int) ([]models.User, error) {
	var users []models.User
	if err := r.db.WithContext(ctx).
		Select("users.*").
		Joins("JOIN followers f ON f.follower_id = users.id").
		Where("f.user_id = ?", userID).
		Order("f.created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&users).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return users, nil
}

func (r *membershipRepository) ListFollowing(ctx context.Context, userID string, limit, offset int) ([]models.User, error) {
	var users []models.User
	if err := r.db.WithContext(ctx).
		Select("users.*").
		Joins("JOIN following f ON f.followee_id = users.id").
		Where("f.user_id = ?", userID).
		Order("f.created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&users).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return users, nil
}

// ListSavedPosts walks the user-side projection. The inner join drops
// projections whose post was deleted and not yet reaped.
func (r *membershipRepository) ListSavedPosts(ctx context.Context, userID string, limit, offset int) ([]models.Post, error) {
	var posts []models.Post
	if err := r.db.WithContext(ctx).
		Select("posts.*").
		Joins("JOIN saved_posts sp ON sp.post_id = posts.id").
		Where("sp.user_id = ?", userID).
		Order("sp.saved_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&posts).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return posts, nil
}
