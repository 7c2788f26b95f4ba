package repository

import (
	"context"
	"errors"
	"time"

	"engagement/internal/models"

	"gorm.io/gorm"
)

// AuthorSnapshot holds the denormalized author columns of a post.
type AuthorSnapshot struct {
	Username    string
	DisplayName string
	AvatarRef   string
}

func (s AuthorSnapshot) columns() map[string]interface{} {
	return map[string]interface{}{
		"author_username":     s.Username,
		"author_display_name": s.DisplayName,
		"author_avatar_ref":   s.AvatarRef,
	}
}

// PostRepository defines the interface for post data operations
type PostRepository interface {
	GetByID(ctx context.Context, id string) (*models.Post, error)
	ListByAuthor(ctx context.Context, authorID string, limit, offset int) ([]models.Post, error)
	AuthorPostIDsAfter(ctx context.Context, authorID, afterID string, limit int) ([]string, error)

	FindByIDs(tx *gorm.DB, ids []string) ([]models.Post, error)
	Insert(tx *gorm.DB, post *models.Post) error
	LatestCreatedAt(tx *gorm.DB) (time.Time, bool, error)
	UpdateContent(tx *gorm.DB, id, caption, category string) error
	Delete(tx *gorm.DB, id string) error
	OverwriteAuthorSnapshot(tx *gorm.DB, authorID string, ids []string, snapshot AuthorSnapshot) (int64, error)
}

type postRepository struct {
	db *gorm.DB
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) GetByID(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&post).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Post", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &post, nil
}

// ListByAuthor returns an author's posts newest first.
func (r *postRepository) ListByAuthor(ctx context.Context, authorID string, limit, offset int) ([]models.Post, error) {
	var posts []models.Post
	if err := r.db.WithContext(ctx).
		Where("author_id = ?", authorID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&posts).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return posts, nil
}

// AuthorPostIDsAfter pages through an author's post ids in id order,
// starting strictly after afterID ("" starts from the beginning).
func (r *postRepository) AuthorPostIDsAfter(ctx context.Context, authorID, afterID string, limit int) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("author_id = ? AND id > ?", authorID, afterID).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return ids, nil
}

// FindByIDs loads the given posts in id order. Missing ids are skipped.
func (r *postRepository) FindByIDs(tx *gorm.DB, ids []string) ([]models.Post, error) {
	var posts []models.Post
	if len(ids) == 0 {
		return posts, nil
	}
	if err := tx.Where("id IN ?", ids).Order("id ASC").Find(&posts).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return posts, nil
}

func (r *postRepository) Insert(tx *gorm.DB, post *models.Post) error {
	return insert(tx, post)
}

// LatestCreatedAt returns the creation time of the newest post in the store.
func (r *postRepository) LatestCreatedAt(tx *gorm.DB) (time.Time, bool, error) {
	var post models.Post
	err := tx.Select("id", "created_at").
		Order("created_at DESC").
		Take(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, models.NewInternalError(err)
	}
	return post.CreatedAt, true, nil
}

func (r *postRepository) UpdateContent(tx *gorm.DB, id, caption, category string) error {
	if err := tx.Model(&models.Post{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"caption":  caption,
			"category": category,
		}).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *postRepository) Delete(tx *gorm.DB, id string) error {
	return deleteOne(tx, &models.Post{}, "post", "id = ?", id)
}

// OverwriteAuthorSnapshot writes all three snapshot columns on the given posts
// that still belong to authorID. Counters are never part of the write.
func (r *postRepository) OverwriteAuthorSnapshot(tx *gorm.DB, authorID string, ids []string, snapshot AuthorSnapshot) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := tx.Model(&models.Post{}).
		Where("author_id = ? AND id IN ?", authorID, ids).
		Updates(snapshot.columns())
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	return res.RowsAffected, nil
}
