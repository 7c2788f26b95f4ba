package repository

import (
	"context"
	"errors"

	"engagement/internal/models"

	"gorm.io/gorm"
)

// CommentRepository defines the interface for comment data operations
type CommentRepository interface {
	Insert(tx *gorm.DB, comment *models.Comment) error
	FindInPost(tx *gorm.DB, postID, commentID string) (*models.Comment, error)
	Delete(tx *gorm.DB, commentID string) error
	ListByPost(ctx context.Context, postID string, limit, offset int) ([]models.Comment, error)
}

type commentRepository struct {
	db *gorm.DB
}

// NewCommentRepository creates a new comment repository
func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &commentRepository{db: db}
}

func (r *commentRepository) Insert(tx *gorm.DB, comment *models.Comment) error {
	return insert(tx, comment)
}

// FindInPost loads a comment only if it belongs to postID.
func (r *commentRepository) FindInPost(tx *gorm.DB, postID, commentID string) (*models.Comment, error) {
	var comment models.Comment
	if err := tx.Where("id = ? AND post_id = ?", commentID, postID).First(&comment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Comment", commentID)
		}
		return nil, models.NewInternalError(err)
	}
	return &comment, nil
}

func (r *commentRepository) Delete(tx *gorm.DB, commentID string) error {
	return deleteOne(tx, &models.Comment{}, "comment", "id = ?", commentID)
}

// ListByPost returns comments oldest first.
func (r *commentRepository) ListByPost(ctx context.Context, postID string, limit, offset int) ([]models.Comment, error) {
	var comments []models.Comment
	if err := r.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Offset(offset).
		Find(&comments).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return comments, nil
}
