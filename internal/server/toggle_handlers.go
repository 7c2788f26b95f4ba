package server

import (
	"engagement/internal/middleware"
	"engagement/internal/models"
	"engagement/internal/service"

	"github.com/gofiber/fiber/v2"
)

// ToggleLike handles POST /api/posts/:id/like
func (s *Server) ToggleLike(c *fiber.Ctx) error {
	return s.toggle(c, models.KindLike)
}

// ToggleSave handles POST /api/posts/:id/save
func (s *Server) ToggleSave(c *fiber.Ctx) error {
	return s.toggle(c, models.KindSave)
}

// ToggleFollow handles POST /api/users/:id/follow
func (s *Server) ToggleFollow(c *fiber.Ctx) error {
	return s.toggle(c, models.KindFollow)
}

func (s *Server) toggle(c *fiber.Ctx, kind models.Kind) error {
	result, err := s.toggles.Toggle(c.UserContext(), service.ToggleInput{
		Kind:      kind,
		SubjectID: c.Params("id"),
		ActorID:   middleware.ActorID(c),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}
