package repository

import (
	"context"
	"errors"

	"engagement/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository defines the interface for user data operations
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	CreateIfAbsent(ctx context.Context, user *models.User) (*models.User, error)
	UpdateProfile(tx *gorm.DB, id string, fields map[string]interface{}) error
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("User", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &user, nil
}

// CreateIfAbsent inserts user unless a row with its id already exists, and
// returns whatever row is stored afterwards.
func (r *userRepository) CreateIfAbsent(ctx context.Context, user *models.User) (*models.User, error) {
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(user).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return r.GetByID(ctx, user.ID)
}

// profileColumns are the only user columns a profile update may touch.
var profileColumns = map[string]bool{
	"username":     true,
	"display_name": true,
	"avatar_ref":   true,
	"bio":          true,
}

func (r *userRepository) UpdateProfile(tx *gorm.DB, id string, fields map[string]interface{}) error {
	for col := range fields {
		if !profileColumns[col] {
			return models.NewValidationError("field " + col + " cannot be updated")
		}
	}
	if len(fields) == 0 {
		return nil
	}
	res := tx.Model(&models.User{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("User", id)
	}
	return nil
}
