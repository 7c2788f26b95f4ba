package server

import (
	"context"
	"time"

	"engagement/internal/middleware"
	"engagement/internal/observability"
	"engagement/internal/service"

	"github.com/gofiber/fiber/v2"
)

// EnsureMyProfile handles POST /api/users/me
func (s *Server) EnsureMyProfile(c *fiber.Ctx) error {
	var req struct {
		Username    string `json:"username"`
		DisplayName string `json:"display_name"`
		AvatarRef   string `json:"avatar_ref"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}

	user, err := s.users.EnsureUser(c.UserContext(), service.EnsureUserInput{
		ID:          middleware.ActorID(c),
		Username:    req.Username,
		DisplayName: req.DisplayName,
		AvatarRef:   req.AvatarRef,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(user)
}

// UpdateMyProfile handles PATCH /api/users/me. The profile is written before
// responding; the snapshot on the user's posts is rewritten in the background.
func (s *Server) UpdateMyProfile(c *fiber.Ctx) error {
	var req struct {
		Username    *string `json:"username"`
		DisplayName *string `json:"display_name"`
		AvatarRef   *string `json:"avatar_ref"`
		Bio         *string `json:"bio"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}

	upd := service.ProfileUpdate{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		AvatarRef:   req.AvatarRef,
		Bio:         req.Bio,
	}
	user, err := s.users.UpdateProfile(c.UserContext(), middleware.ActorID(c), upd)
	if err != nil {
		return respondError(c, err)
	}

	if change := upd.Change(); !change.IsEmpty() {
		userID := user.ID
		s.goBackground(func(ctx context.Context) {
			ctx = observability.WithActorID(ctx, userID)
			// Errors are logged by the backfill; POST /users/me/backfill re-runs it.
			_, _ = s.backfill.PropagateProfileChange(ctx, userID, change)
		})
	}
	return c.JSON(user)
}

// BackfillMyPosts handles POST /api/users/me/backfill. It re-copies the
// current profile onto every post synchronously.
func (s *Server) BackfillMyPosts(c *fiber.Ctx) error {
	actorID := middleware.ActorID(c)
	user, err := s.users.GetUser(c.UserContext(), actorID)
	if err != nil {
		return respondError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Minute)
	defer cancel()
	result, err := s.backfill.PropagateProfileChange(ctx, user.ID, service.ProfileChange{
		Username:    &user.Username,
		DisplayName: &user.DisplayName,
		AvatarRef:   &user.AvatarRef,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// GetMySavedPosts handles GET /api/users/me/saved
func (s *Server) GetMySavedPosts(c *fiber.Ctx) error {
	page := parsePagination(c, defaultPaginationLimit)
	posts, err := s.users.ListSavedPosts(c.UserContext(), middleware.ActorID(c), page.Limit, page.Offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(posts)
}

// GetUser handles GET /api/users/:id
func (s *Server) GetUser(c *fiber.Ctx) error {
	id, err := param(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	user, err := s.users.GetUser(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(user)
}

// GetProfileCard handles GET /api/users/:id/card
func (s *Server) GetProfileCard(c *fiber.Ctx) error {
	id, err := param(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	card, err := s.users.GetProfileCard(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(card)
}

// GetFollowers handles GET /api/users/:id/followers
func (s *Server) GetFollowers(c *fiber.Ctx) error {
	id, err := param(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	page := parsePagination(c, defaultPaginationLimit)
	users, err := s.users.ListFollowers(c.UserContext(), id, page.Limit, page.Offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(users)
}

// GetFollowing handles GET /api/users/:id/following
func (s *Server) GetFollowing(c *fiber.Ctx) error {
	id, err := param(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	page := parsePagination(c, defaultPaginationLimit)
	users, err := s.users.ListFollowing(c.UserContext(), id, page.Limit, page.Offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(users)
}

// GetUserPosts handles GET /api/users/:id/posts
func (s *Server) GetUserPosts(c *fiber.Ctx) error {
	id, err := param(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	page := parsePagination(c, defaultPaginationLimit)
	posts, err := s.posts.ListUserPosts(c.UserContext(), id, page.Limit, page.Offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(posts)
}

// GetFollowState handles GET /api/users/:id/follow
func (s *Server) GetFollowState(c *fiber.Ctx) error {
	id, err := param(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	following, err := s.users.IsFollowing(c.UserContext(), middleware.ActorID(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"following": following})
}
