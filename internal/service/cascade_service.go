package service

import (
	"context"
	"strings"
	"time"

	"engagement/internal/changefeed"
	"engagement/internal/models"
	"engagement/internal/observability"
	"engagement/internal/repository"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

type DeletePostInput struct {
	PostID      string
	RequesterID string
}

type DeleteCommentInput struct {
	PostID      string
	CommentID   string
	RequesterID string
}

// CascadeService deletes aggregate roots and child records and debits the
// counters that counted them. Likes, saves and comments of a deleted post are
// left for the reaper.
type CascadeService struct {
	tx    TxRunner
	repos Repositories
	feed  *changefeed.Feed
	log   *observability.OpLogger
}

// NewCascadeService creates a cascade coordinator.
func NewCascadeService(tx TxRunner, repos Repositories, feed *changefeed.Feed) *CascadeService {
	return &CascadeService{
		tx:    tx,
		repos: repos,
		feed:  feed,
		log:   observability.NewOpLogger("cascade"),
	}
}

// DeletePost removes the post and decrements its author's PostCount once. A
// second call returns NOT_FOUND and changes nothing.
func (s *CascadeService) DeletePost(ctx context.Context, in DeletePostInput) error {
	in.PostID = strings.TrimSpace(in.PostID)
	in.RequesterID = strings.TrimSpace(in.RequesterID)

	span, ctx := observability.NewSpan(ctx, "cascade.delete_post", attribute.String("post_id", in.PostID))
	defer span.End()
	start := time.Now()

	var events []changefeed.Event
	err := s.deletePost(ctx, in, &events)
	if err == nil {
		s.feed.PublishQuietly(ctx, events...)
	} else {
		span.SetError(err)
	}
	logResult(ctx, s.log, "delete_post", start, err, map[string]interface{}{"post_id": in.PostID})
	return err
}

func (s *CascadeService) deletePost(ctx context.Context, in DeletePostInput, events *[]changefeed.Event) error {
	if in.PostID == "" || in.RequesterID == "" {
		return models.NewValidationError("Post and requester are required")
	}

	return s.tx.Run(ctx, "delete_post", func(tx *gorm.DB) error {
		post, err := s.repos.Aggregates.LockPost(tx, in.PostID)
		if err != nil {
			return err
		}
		if post.AuthorID != in.RequesterID {
			return models.NewUnauthorizedError("You can only delete your own posts")
		}
		if err := s.repos.Posts.Delete(tx, post.ID); err != nil {
			return err
		}
		author, err := s.repos.Aggregates.LockUser(tx, post.AuthorID)
		if err != nil {
			if models.IsNotFound(err) {
				return models.NewInvariantViolation("post %s has no author %s", post.ID, post.AuthorID)
			}
			return err
		}
		if author.PostCount, err = s.repos.Aggregates.AdjustUserCounter(tx, author.ID, repository.UserPostCount, -1); err != nil {
			return err
		}

		*events = []changefeed.Event{
			changefeed.Delete(changefeed.CollectionPosts, post.ID),
			changefeed.Upsert(changefeed.CollectionUsers, author.ID, author),
		}
		return nil
	})
}

// DeleteComment removes one comment of a post and decrements CommentCount.
func (s *CascadeService) DeleteComment(ctx context.Context, in DeleteCommentInput) error {
	in.PostID = strings.TrimSpace(in.PostID)
	in.CommentID = strings.TrimSpace(in.CommentID)
	in.RequesterID = strings.TrimSpace(in.RequesterID)

	span, ctx := observability.NewSpan(ctx, "cascade.delete_comment",
		attribute.String("post_id", in.PostID),
		attribute.String("comment_id", in.CommentID),
	)
	defer span.End()
	start := time.Now()

	var events []changefeed.Event
	err := s.deleteComment(ctx, in, &events)
	if err == nil {
		s.feed.PublishQuietly(ctx, events...)
	} else {
		span.SetError(err)
	}
	logResult(ctx, s.log, "delete_comment", start, err, map[string]interface{}{
		"post_id":    in.PostID,
		"comment_id": in.CommentID,
	})
	return err
}

func (s *CascadeService) deleteComment(ctx context.Context, in DeleteCommentInput, events *[]changefeed.Event) error {
	if in.PostID == "" || in.CommentID == "" || in.RequesterID == "" {
		return models.NewValidationError("Post, comment and requester are required")
	}

	return s.tx.Run(ctx, "delete_comment", func(tx *gorm.DB) error {
		post, err := s.repos.Aggregates.LockPost(tx, in.PostID)
		if err != nil {
			return err
		}
		comment, err := s.repos.Comments.FindInPost(tx, post.ID, in.CommentID)
		if err != nil {
			return err
		}
		if comment.AuthorID != in.RequesterID {
			return models.NewUnauthorizedError("You can only delete your own comments")
		}
		if err := s.repos.Comments.Delete(tx, comment.ID); err != nil {
			return err
		}
		if post.CommentCount, err = s.repos.Aggregates.AdjustPostCounter(tx, post.ID, repository.PostCommentCount, -1); err != nil {
			return err
		}

		doc := MembershipDoc{Kind: KindComment, SubjectID: post.ID, ActorID: comment.AuthorID, Active: false}
		*events = append([]changefeed.Event{changefeed.Upsert(changefeed.CollectionPosts, post.ID, post)},
			membershipEvents(doc, post.ID)...)
		return nil
	})
}
