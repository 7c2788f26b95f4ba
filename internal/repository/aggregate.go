// Package repository provides data access layer implementations for the engine.
package repository

import (
	"errors"
	"fmt"
	"sort"

	"engagement/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostCounter names a counter column on posts.
type PostCounter string

// Post counters.
const (
	PostLikeCount    PostCounter = "like_count"
	PostSaveCount    PostCounter = "save_count"
	PostCommentCount PostCounter = "comment_count"
	PostRepostCount  PostCounter = "repost_count"
)

func (c PostCounter) valid() bool {
	switch c {
	case PostLikeCount, PostSaveCount, PostCommentCount, PostRepostCount:
		return true
	}
	return false
}

// UserCounter names a counter column on users.
type UserCounter string

// User counters.
const (
	UserPostCount      UserCounter = "post_count"
	UserFollowerCount  UserCounter = "follower_count"
	UserFollowingCount UserCounter = "following_count"
)

func (c UserCounter) valid() bool {
	switch c {
	case UserPostCount, UserFollowerCount, UserFollowingCount:
		return true
	}
	return false
}

// AggregateRepository locks aggregate roots and moves their counters. Every
// method runs on the transaction it is handed.
type AggregateRepository interface {
	LockPost(tx *gorm.DB, postID string) (*models.Post, error)
	LockUser(tx *gorm.DB, userID string) (*models.User, error)
	LockUsers(tx *gorm.DB, userIDs ...string) (map[string]*models.User, error)
	AdjustPostCounter(tx *gorm.DB, postID string, counter PostCounter, delta int64) (int64, error)
	AdjustUserCounter(tx *gorm.DB, userID string, counter UserCounter, delta int64) (int64, error)
}

type aggregateRepository struct{}

// NewAggregateRepository creates a new aggregate repository
func NewAggregateRepository() AggregateRepository {
	return &aggregateRepository{}
}

func lockForUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *aggregateRepository) LockPost(tx *gorm.DB, postID string) (*models.Post, error) {
	var post models.Post
	if err := lockForUpdate(tx).Where("id = ?", postID).First(&post).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Post", postID)
		}
		return nil, models.NewInternalError(err)
	}
	return &post, nil
}

func (r *aggregateRepository) LockUser(tx *gorm.DB, userID string) (*models.User, error) {
	var user models.User
	if err := lockForUpdate(tx).Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("User", userID)
		}
		return nil, models.NewInternalError(err)
	}
	return &user, nil
}

// LockUsers locks the given users in ascending id order so two transactions
// touching the same pair always acquire the rows in the same sequence.
func (r *aggregateRepository) LockUsers(tx *gorm.DB, userIDs ...string) (map[string]*models.User, error) {
	ids := append([]string(nil), userIDs...)
	sort.Strings(ids)

	locked := make(map[string]*models.User, len(ids))
	for _, id := range ids {
		if _, ok := locked[id]; ok {
			continue
		}
		user, err := r.LockUser(tx, id)
		if err != nil {
			return nil, err
		}
		locked[id] = user
	}
	return locked, nil
}

func (r *aggregateRepository) AdjustPostCounter(tx *gorm.DB, postID string, counter PostCounter, delta int64) (int64, error) {
	if !counter.valid() {
		return 0, fmt.Errorf("unknown post counter %q", counter)
	}
	return adjustCounter(tx, &models.Post{}, "Post", postID, string(counter), delta)
}

func (r *aggregateRepository) AdjustUserCounter(tx *gorm.DB, userID string, counter UserCounter, delta int64) (int64, error) {
	if !counter.valid() {
		return 0, fmt.Errorf("unknown user counter %q", counter)
	}
	return adjustCounter(tx, &models.User{}, "User", userID, string(counter), delta)
}

// adjustCounter applies delta to column only if the result stays >= 0 and
// returns the new value. Zero affected rows on an existing row means the
// guard refused the write.
func adjustCounter(tx *gorm.DB, model interface{}, resource, id, column string, delta int64) (int64, error) {
	res := tx.Model(model).
		Where("id = ? AND "+column+" + ? >= 0", id, delta).
		UpdateColumn(column, gorm.Expr(column+" + ?", delta))
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		found, err := exists(tx, model, "id = ?", id)
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, models.NewNotFoundError(resource, id)
		}
		return 0, models.NewInvariantViolation("%s of %s %s would drop below zero (delta %d)", column, resource, id, delta)
	}

	var values []int64
	if err := tx.Model(model).Where("id = ?", id).Pluck(column, &values).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	if len(values) == 0 {
		return 0, models.NewNotFoundError(resource, id)
	}
	return values[0], nil
}
