// Package seed provides helpers to create demo and test data. Everything goes
// through the coordinators, so seeded counters are consistent by construction.
package seed

import (
	"context"
	"fmt"

	"engagement/internal/models"
	"engagement/internal/service"

	"github.com/brianvoe/gofakeit/v6"
)

// Services are the coordinators the factory writes through.
type Services struct {
	Users   *service.UserService
	Posts   *service.PostService
	Toggles *service.ToggleService
}

// Factory builds users, posts and engagement.
type Factory struct {
	svc   Services
	faker *gofakeit.Faker
}

// NewFactory creates a factory. The same seed yields the same data.
func NewFactory(svc Services, seed int64) *Factory {
	return &Factory{
		svc:   svc,
		faker: gofakeit.New(seed),
	}
}

// CreateUser ensures a profile with generated names. Optional overrides may
// modify the input before saving.
func (f *Factory) CreateUser(ctx context.Context, overrides ...func(*service.EnsureUserInput)) (*models.User, error) {
	in := service.EnsureUserInput{
		ID:          f.faker.UUID(),
		Username:    f.faker.Username() + fmt.Sprintf("%d", f.faker.Number(100, 999)),
		DisplayName: f.faker.Name(),
		AvatarRef:   fmt.Sprintf("avatars/%s.webp", f.faker.UUID()),
	}
	for _, override := range overrides {
		override(&in)
	}
	return f.svc.Users.EnsureUser(ctx, in)
}

// CreatePost publishes a generated post for author.
func (f *Factory) CreatePost(ctx context.Context, author *models.User, overrides ...func(*service.CreatePostInput)) (*models.Post, error) {
	in := service.CreatePostInput{
		AuthorID:  author.ID,
		Caption:   f.faker.Sentence(8),
		Category:  f.faker.RandomString([]string{"art", "music", "travel", "food", "tech"}),
		MediaRefs: []string{fmt.Sprintf("media/%s.webp", f.faker.UUID())},
	}
	for _, override := range overrides {
		override(&in)
	}
	return f.svc.Posts.CreatePost(ctx, in)
}

// MeshOptions shapes a generated social graph.
type MeshOptions struct {
	Users         int
	PostsPerUser  int
	LikeChance    float64
	SaveChance    float64
	FollowChance  float64
	CommentChance float64
}

// MeshResult is what Mesh created.
type MeshResult struct {
	Users []*models.User
	Posts []*models.Post
}

// Mesh creates users and posts and lets every user engage with every other
// user's posts at random.
func (f *Factory) Mesh(ctx context.Context, opts MeshOptions) (*MeshResult, error) {
	out := &MeshResult{}
	for i := 0; i < opts.Users; i++ {
		u, err := f.CreateUser(ctx)
		if err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		out.Users = append(out.Users, u)
		for j := 0; j < opts.PostsPerUser; j++ {
			p, err := f.CreatePost(ctx, u)
			if err != nil {
				return nil, fmt.Errorf("create post: %w", err)
			}
			out.Posts = append(out.Posts, p)
		}
	}

	for _, actor := range out.Users {
		for _, other := range out.Users {
			if other.ID != actor.ID && f.faker.Float64() < opts.FollowChance {
				if err := f.toggle(ctx, models.KindFollow, other.ID, actor.ID); err != nil {
					return nil, err
				}
			}
		}
		for _, p := range out.Posts {
			if p.AuthorID == actor.ID {
				continue
			}
			if f.faker.Float64() < opts.LikeChance {
				if err := f.toggle(ctx, models.KindLike, p.ID, actor.ID); err != nil {
					return nil, err
				}
			}
			if f.faker.Float64() < opts.SaveChance {
				if err := f.toggle(ctx, models.KindSave, p.ID, actor.ID); err != nil {
					return nil, err
				}
			}
			if f.faker.Float64() < opts.CommentChance {
				if _, err := f.svc.Posts.AddComment(ctx, service.AddCommentInput{
					PostID:   p.ID,
					AuthorID: actor.ID,
					Text:     f.faker.Sentence(6),
				}); err != nil {
					return nil, fmt.Errorf("add comment: %w", err)
				}
			}
		}
	}
	return out, nil
}

func (f *Factory) toggle(ctx context.Context, kind models.Kind, subjectID, actorID string) error {
	if _, err := f.svc.Toggles.Toggle(ctx, service.ToggleInput{Kind: kind, SubjectID: subjectID, ActorID: actorID}); err != nil {
		return fmt.Errorf("toggle %s: %w", kind, err)
	}
	return nil
}
