package server

import (
	"engagement/internal/middleware"
	"engagement/internal/service"

	"github.com/gofiber/fiber/v2"
)

// CreatePost handles POST /api/posts
func (s *Server) CreatePost(c *fiber.Ctx) error {
	var req struct {
		Caption   string   `json:"caption"`
		Category  string   `json:"category"`
		MediaRefs []string `json:"media_refs"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}

	post, err := s.posts.CreatePost(c.UserContext(), service.CreatePostInput{
		AuthorID:  middleware.ActorID(c),
		Caption:   req.Caption,
		Category:  req.Category,
		MediaRefs: req.MediaRefs,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

// GetPost handles GET /api/posts/:id
func (s *Server) GetPost(c *fiber.Ctx) error {
	id, err := param(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	post, err := s.posts.GetPost(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}

// UpdatePost handles PATCH /api/posts/:id
func (s *Server) UpdatePost(c *fiber.Ctx) error {
	id, err := param(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req struct {
		Caption  *string `json:"caption"`
		Category *string `json:"category"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}

	post, err := s.posts.UpdatePost(c.UserContext(), service.UpdatePostInput{
		PostID:      id,
		RequesterID: middleware.ActorID(c),
		Caption:     req.Caption,
		Category:    req.Category,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}

// DeletePost handles DELETE /api/posts/:id
func (s *Server) DeletePost(c *fiber.Ctx) error {
	id, err := param(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	return respondDeleted(c, s.cascade.DeletePost(c.UserContext(), service.DeletePostInput{
		PostID:      id,
		RequesterID: middleware.ActorID(c),
	}))
}

// GetViewerState handles GET /api/posts/:id/viewer
func (s *Server) GetViewerState(c *fiber.Ctx) error {
	id, err := param(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	state, err := s.posts.ViewerState(c.UserContext(), id, middleware.ActorID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(state)
}

// GetComments handles GET /api/posts/:id/comments
func (s *Server) GetComments(c *fiber.Ctx) error {
	id, err := param(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	page := parsePagination(c, defaultPaginationLimit)
	comments, err := s.posts.ListComments(c.UserContext(), id, page.Limit, page.Offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(comments)
}

// CreateComment handles POST /api/posts/:id/comments
func (s *Server) CreateComment(c *fiber.Ctx) error {
	id, err := param(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}

	comment, err := s.posts.AddComment(c.UserContext(), service.AddCommentInput{
		PostID:   id,
		AuthorID: middleware.ActorID(c),
		Text:     req.Text,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(comment)
}

// DeleteComment handles DELETE /api/posts/:id/comments/:commentId
func (s *Server) DeleteComment(c *fiber.Ctx) error {
	id, err := param(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	commentID, err := param(c, "commentId")
	if err != nil {
		return respondError(c, err)
	}
	return respondDeleted(c, s.cascade.DeleteComment(c.UserContext(), service.DeleteCommentInput{
		PostID:      id,
		CommentID:   commentID,
		RequesterID: middleware.ActorID(c),
	}))
}
