// Package models contains data structures for the engine's documents and membership records.
package models

import "time"

// User is an aggregate root. The three counters are cached aggregates of the
// posts and follow edges that reference the user and are only written by the
// coordinators, inside the transaction that writes the records they count.
type User struct {
	ID             string    `gorm:"primaryKey;type:varchar(128)" json:"id"`
	Username       string    `gorm:"type:varchar(64);not null;default:''" json:"username"`
	DisplayName    string    `gorm:"type:varchar(128);not null;default:''" json:"display_name"`
	Bio            string    `gorm:"type:text;not null;default:''" json:"bio"`
	AvatarRef      string    `gorm:"type:text;not null;default:''" json:"avatar_ref"`
	PostCount      int64     `gorm:"not null;default:0" json:"post_count"`
	FollowerCount  int64     `gorm:"not null;default:0" json:"follower_count"`
	FollowingCount int64     `gorm:"not null;default:0" json:"following_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (User) TableName() string {
	return "users"
}

// Label is the name shown for the user: display name, falling back to username.
func (u *User) Label() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// ProfileCard is the counter-free public view of a user. It is safe to cache
// because nothing in it is derived from membership records.
type ProfileCard struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref"`
	Bio         string `json:"bio"`
}

// Card projects the user onto its cacheable profile card.
func (u *User) Card() ProfileCard {
	return ProfileCard{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.Label(),
		AvatarRef:   u.AvatarRef,
		Bio:         u.Bio,
	}
}
