package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"engagement/internal/changefeed"
	"engagement/internal/models"
	"engagement/internal/observability"
	"engagement/internal/repository"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// MaxCommentLength is the longest comment accepted, in characters.
const MaxCommentLength = 2000

type CreatePostInput struct {
	AuthorID  string
	Caption   string
	Category  string
	MediaRefs []string
}

type UpdatePostInput struct {
	PostID      string
	RequesterID string
	Caption     *string
	Category    *string
}

type AddCommentInput struct {
	PostID   string
	AuthorID string
	Text     string
}

// PostService creates posts and comments and serves post reads.
type PostService struct {
	tx    TxRunner
	repos Repositories
	feed  *changefeed.Feed
	log   *observability.OpLogger
}

func NewPostService(tx TxRunner, repos Repositories, feed *changefeed.Feed) *PostService {
	return &PostService{
		tx:    tx,
		repos: repos,
		feed:  feed,
		log:   observability.NewOpLogger("post"),
	}
}

// CreatePost stores a post with a snapshot of its author and bumps the
// author's PostCount in the same transaction.
func (s *PostService) CreatePost(ctx context.Context, in CreatePostInput) (*models.Post, error) {
	span, ctx := observability.NewSpan(ctx, "post.create", attribute.String("author_id", in.AuthorID))
	defer span.End()
	start := time.Now()

	post := &models.Post{Caption: in.Caption, Category: in.Category, MediaRefs: in.MediaRefs}
	models.NormalizePost(post)
	authorID := strings.TrimSpace(in.AuthorID)

	var events []changefeed.Event
	err := func() error {
		if authorID == "" {
			return models.NewValidationError("Author is required")
		}
		if len(post.MediaRefs) == 0 {
			return models.NewValidationError("At least one media reference is required")
		}
		return s.tx.Run(ctx, "create_post", func(tx *gorm.DB) error {
			author, err := s.repos.Aggregates.LockUser(tx, authorID)
			if err != nil {
				return err
			}
			createdAt := storeNow()
			latest, ok, err := s.repos.Posts.LatestCreatedAt(tx)
			if err != nil {
				return err
			}
			if ok && !createdAt.After(latest) {
				createdAt = latest.Add(time.Microsecond)
			}

			post.ID = uuid.NewString()
			post.AuthorID = author.ID
			post.AuthorUsername = author.Username
			post.AuthorDisplayName = author.DisplayName
			post.AuthorAvatarRef = author.AvatarRef
			post.CreatedAt = createdAt
			post.UpdatedAt = createdAt
			if err := s.repos.Posts.Insert(tx, post); err != nil {
				return err
			}
			if author.PostCount, err = s.repos.Aggregates.AdjustUserCounter(tx, author.ID, repository.UserPostCount, 1); err != nil {
				return err
			}
			events = []changefeed.Event{
				changefeed.Upsert(changefeed.CollectionPosts, post.ID, post),
				changefeed.Upsert(changefeed.CollectionUsers, author.ID, author),
			}
			return nil
		})
	}()

	if err != nil {
		span.SetError(err)
	} else {
		s.feed.PublishQuietly(ctx, events...)
	}
	logResult(ctx, s.log, "create_post", start, err, map[string]interface{}{"post_id": post.ID})
	if err != nil {
		return nil, err
	}
	return post, nil
}

// UpdatePost edits caption and category. Only the author may edit.
func (s *PostService) UpdatePost(ctx context.Context, in UpdatePostInput) (*models.Post, error) {
	start := time.Now()
	var post *models.Post
	var err error
	if strings.TrimSpace(in.PostID) == "" || strings.TrimSpace(in.RequesterID) == "" {
		err = models.NewValidationError("Post and requester are required")
	} else {
		err = s.tx.Run(ctx, "update_post", func(tx *gorm.DB) error {
			locked, err := s.repos.Aggregates.LockPost(tx, in.PostID)
			if err != nil {
				return err
			}
			if locked.AuthorID != in.RequesterID {
				return models.NewUnauthorizedError("You can only edit your own posts")
			}
			if in.Caption != nil {
				locked.Caption = strings.TrimSpace(*in.Caption)
			}
			if in.Category != nil {
				locked.Category = strings.TrimSpace(*in.Category)
			}
			if err := s.repos.Posts.UpdateContent(tx, locked.ID, locked.Caption, locked.Category); err != nil {
				return err
			}
			post = locked
			return nil
		})
	}

	logResult(ctx, s.log, "update_post", start, err, map[string]interface{}{"post_id": in.PostID})
	if err != nil {
		return nil, err
	}
	s.feed.PublishQuietly(ctx, changefeed.Upsert(changefeed.CollectionPosts, post.ID, post))
	return post, nil
}

// AddComment stores a comment and bumps CommentCount atomically.
func (s *PostService) AddComment(ctx context.Context, in AddCommentInput) (*models.Comment, error) {
	span, ctx := observability.NewSpan(ctx, "post.add_comment", attribute.String("post_id", in.PostID))
	defer span.End()
	start := time.Now()

	text := strings.TrimSpace(in.Text)
	var comment *models.Comment
	var events []changefeed.Event
	err := func() error {
		if strings.TrimSpace(in.PostID) == "" || strings.TrimSpace(in.AuthorID) == "" {
			return models.NewValidationError("Post and author are required")
		}
		if text == "" {
			return models.NewValidationError("Comment cannot be empty")
		}
		if utf8.RuneCountInString(text) > MaxCommentLength {
			return models.NewValidationError("Comment too long (max 2000 characters)")
		}
		return s.tx.Run(ctx, "add_comment", func(tx *gorm.DB) error {
			post, err := s.repos.Aggregates.LockPost(tx, in.PostID)
			if err != nil {
				return err
			}
			comment = &models.Comment{
				ID:        uuid.NewString(),
				PostID:    post.ID,
				AuthorID:  in.AuthorID,
				Text:      text,
				CreatedAt: storeNow(),
			}
			if err := s.repos.Comments.Insert(tx, comment); err != nil {
				return err
			}
			if post.CommentCount, err = s.repos.Aggregates.AdjustPostCounter(tx, post.ID, repository.PostCommentCount, 1); err != nil {
				return err
			}
			doc := MembershipDoc{Kind: KindComment, SubjectID: post.ID, ActorID: in.AuthorID, Active: true}
			events = append([]changefeed.Event{changefeed.Upsert(changefeed.CollectionPosts, post.ID, post)},
				membershipEvents(doc, post.ID)...)
			return nil
		})
	}()

	if err != nil {
		span.SetError(err)
	} else {
		s.feed.PublishQuietly(ctx, events...)
	}
	logResult(ctx, s.log, "add_comment", start, err, map[string]interface{}{"post_id": in.PostID})
	if err != nil {
		return nil, err
	}
	return comment, nil
}

func (s *PostService) GetPost(ctx context.Context, postID string) (*models.Post, error) {
	return s.repos.Posts.GetByID(ctx, strings.TrimSpace(postID))
}

// ListComments returns a post's comments oldest first. Comments of a deleted
// post read as absent.
func (s *PostService) ListComments(ctx context.Context, postID string, limit, offset int) ([]models.Comment, error) {
	post, err := s.repos.Posts.GetByID(ctx, strings.TrimSpace(postID))
	if err != nil {
		return nil, err
	}
	limit, offset = clampPage(limit, offset)
	return s.repos.Comments.ListByPost(ctx, post.ID, limit, offset)
}

func (s *PostService) ListUserPosts(ctx context.Context, userID string, limit, offset int) ([]models.Post, error) {
	limit, offset = clampPage(limit, offset)
	return s.repos.Posts.ListByAuthor(ctx, strings.TrimSpace(userID), limit, offset)
}

// ViewerState reports whether userID likes and saves postID.
func (s *PostService) ViewerState(ctx context.Context, postID, userID string) (*models.ViewerState, error) {
	return s.repos.Memberships.ViewerState(ctx, strings.TrimSpace(postID), strings.TrimSpace(userID))
}
