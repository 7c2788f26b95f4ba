package models

import "time"

// Kind names the relationship a toggle flips.
type Kind string

const (
	KindLike   Kind = "like"
	KindSave   Kind = "save"
	KindFollow Kind = "follow"
)

// Valid reports whether k is one of the toggleable kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindLike, KindSave, KindFollow:
		return true
	}
	return false
}

// Like exists iff the user likes the post. There is no boolean column anywhere
// that could disagree with it.
type Like struct {
	PostID    string    `gorm:"primaryKey;type:varchar(64)" json:"post_id"`
	UserID    string    `gorm:"primaryKey;type:varchar(128);index" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for GORM
func (Like) TableName() string {
	return "likes"
}

// Save is the post-side record of a save. Its user-side projection is SavedPost;
// both are written and removed in the same transaction.
type Save struct {
	PostID    string    `gorm:"primaryKey;type:varchar(64)" json:"post_id"`
	UserID    string    `gorm:"primaryKey;type:varchar(128)" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for GORM
func (Save) TableName() string {
	return "saves"
}

// SavedPost is the user-side projection of a Save, keyed for "my saved posts".
type SavedPost struct {
	UserID  string    `gorm:"primaryKey;type:varchar(128)" json:"user_id"`
	PostID  string    `gorm:"primaryKey;type:varchar(64);index" json:"post_id"`
	SavedAt time.Time `gorm:"autoCreateTime" json:"saved_at"`
}

// TableName specifies the table name for GORM
func (SavedPost) TableName() string {
	return "saved_posts"
}

// Follow is the logical follow edge. It is never stored directly; it is
// persisted as two index projections that are maintained together.
type Follow struct {
	FollowerID string
	FolloweeID string
}

// FollowingEntry is the follower-side projection: UserID follows FolloweeID.
type FollowingEntry struct {
	UserID     string    `gorm:"primaryKey;type:varchar(128)" json:"user_id"`
	FolloweeID string    `gorm:"primaryKey;type:varchar(128);index" json:"followee_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName specifies the table name for GORM
func (FollowingEntry) TableName() string {
	return "following"
}

// FollowerEntry is the followee-side projection: FollowerID follows UserID.
type FollowerEntry struct {
	UserID     string    `gorm:"primaryKey;type:varchar(128)" json:"user_id"`
	FollowerID string    `gorm:"primaryKey;type:varchar(128);index" json:"follower_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName specifies the table name for GORM
func (FollowerEntry) TableName() string {
	return "followers"
}

// Projections returns the two index records of the edge, stamped with at.
func (f Follow) Projections(at time.Time) (*FollowingEntry, *FollowerEntry) {
	return &FollowingEntry{UserID: f.FollowerID, FolloweeID: f.FolloweeID, CreatedAt: at},
		&FollowerEntry{UserID: f.FolloweeID, FollowerID: f.FollowerID, CreatedAt: at}
}

// ViewerState is what one user sees of their own relationship to a post.
type ViewerState struct {
	Liked bool `json:"liked"`
	Saved bool `json:"saved"`
}
