package models

import "strings"

// All returns every persisted model, in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Post{},
		&Comment{},
		&Like{},
		&Save{},
		&SavedPost{},
		&FollowingEntry{},
		&FollowerEntry{},
	}
}

// NormalizeUser applies the defaulting policy for user documents: strings are
// trimmed, counters start at zero regardless of what the caller supplied.
func NormalizeUser(u *User) {
	u.ID = strings.TrimSpace(u.ID)
	u.Username = strings.TrimSpace(u.Username)
	u.DisplayName = strings.TrimSpace(u.DisplayName)
	u.Bio = strings.TrimSpace(u.Bio)
	u.AvatarRef = strings.TrimSpace(u.AvatarRef)
	u.PostCount = 0
	u.FollowerCount = 0
	u.FollowingCount = 0
}

// NormalizePost applies the defaulting policy for new posts. Empty media refs
// are dropped so the non-empty check sees only real references.
func NormalizePost(p *Post) {
	p.Caption = strings.TrimSpace(p.Caption)
	p.Category = strings.TrimSpace(p.Category)
	refs := make([]string, 0, len(p.MediaRefs))
	for _, r := range p.MediaRefs {
		if r = strings.TrimSpace(r); r != "" {
			refs = append(refs, r)
		}
	}
	p.MediaRefs = refs
	p.LikeCount = 0
	p.SaveCount = 0
	p.CommentCount = 0
	p.RepostCount = 0
}
