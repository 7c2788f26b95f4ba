package models

import "time"

// Post is an aggregate root owning the like, save, comment and repost counters.
// AuthorUsername, AuthorDisplayName and AuthorAvatarRef are a snapshot of the
// author taken at creation and refreshed by profile backfill.
type Post struct {
	ID                string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	AuthorID          string    `gorm:"type:varchar(128);not null;index:idx_posts_author_id" json:"author_id"`
	Caption           string    `gorm:"type:text;not null;default:''" json:"caption"`
	Category          string    `gorm:"type:varchar(64);not null;default:''" json:"category"`
	MediaRefs         []string  `gorm:"type:text;serializer:json;not null" json:"media_refs"`
	AuthorUsername    string    `gorm:"type:varchar(64);not null;default:''" json:"author_username"`
	AuthorDisplayName string    `gorm:"type:varchar(128);not null;default:''" json:"author_display_name"`
	AuthorAvatarRef   string    `gorm:"type:text;not null;default:''" json:"author_avatar_ref"`
	LikeCount         int64     `gorm:"not null;default:0" json:"like_count"`
	SaveCount         int64     `gorm:"not null;default:0" json:"save_count"`
	CommentCount      int64     `gorm:"not null;default:0" json:"comment_count"`
	RepostCount       int64     `gorm:"not null;default:0" json:"repost_count"`
	CreatedAt         time.Time `gorm:"index:idx_posts_created_at" json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Post) TableName() string {
	return "posts"
}

// Comment is immutable once posted. Deleting it debits the parent post's
// CommentCount by exactly one.
type Comment struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	PostID    string    `gorm:"type:varchar(64);not null;index:idx_comments_post_created,priority:1" json:"post_id"`
	AuthorID  string    `gorm:"type:varchar(128);not null;index" json:"author_id"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	CreatedAt time.Time `gorm:"index:idx_comments_post_created,priority:2" json:"created_at"`
}

// TableName specifies the table name for GORM
func (Comment) TableName() string {
	return "comments"
}
