package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"engagement/internal/featureflags"
	"engagement/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePost(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	author := env.user(t, "author")

	_, err := env.posts.CreatePost(ctx, CreatePostInput{AuthorID: author.ID})
	assert.True(t, models.IsCode(err, models.CodeValidation), "got %v", err)

	_, err = env.posts.CreatePost(ctx, CreatePostInput{AuthorID: "ghost", MediaRefs: []string{"m"}})
	assert.True(t, models.IsNotFound(err), "got %v", err)

	var prev *models.Post
	for i := 0; i < 3; i++ {
		p := env.post(t, author.ID)
		assert.Equal(t, author.Username, p.AuthorUsername)
		assert.Zero(t, p.LikeCount)
		if prev != nil {
			assert.True(t, p.CreatedAt.After(prev.CreatedAt), "created_at must increase")
		}
		prev = p
	}
	assert.EqualValues(t, 3, env.reloadUser(t, author.ID).PostCount)
	env.requireClean(t)
}

func TestCreatePost_CreatedAtMonotonicAcrossAuthors(t *testing.T) {
	env := newTestEnv(t, 0)
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")

	ahead := env.post(t, alice.ID)
	future := time.Now().Add(time.Hour).UTC()
	require.NoError(t, env.db.Model(&models.Post{}).Where("id = ?", ahead.ID).Update("created_at", future).Error)

	p := env.post(t, bob.ID)
	assert.True(t, p.CreatedAt.After(future), "got %v, latest in store %v", p.CreatedAt, future)
	env.requireClean(t)
}

func TestUpdatePost_OwnerOnly(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	author := env.user(t, "author")
	post := env.post(t, author.ID)

	_, err := env.posts.UpdatePost(ctx, UpdatePostInput{PostID: post.ID, RequesterID: "intruder", Caption: strPtr("x")})
	assert.True(t, models.IsCode(err, models.CodeUnauthorized), "got %v", err)

	updated, err := env.posts.UpdatePost(ctx, UpdatePostInput{PostID: post.ID, RequesterID: author.ID, Category: strPtr("travel")})
	require.NoError(t, err)
	assert.Equal(t, "travel", updated.Category)
	assert.Equal(t, post.Caption, updated.Caption)
}

func TestAddComment_Validation(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	author := env.user(t, "author")
	post := env.post(t, author.ID)

	tests := []struct {
		name string
		in   AddCommentInput
		code string
	}{
		{"empty text", AddCommentInput{PostID: post.ID, AuthorID: "a", Text: "   "}, models.CodeValidation},
		{"too long", AddCommentInput{PostID: post.ID, AuthorID: "a", Text: strings.Repeat("x", MaxCommentLength+1)}, models.CodeValidation},
		{"missing post", AddCommentInput{PostID: "gone", AuthorID: "a", Text: "hi"}, models.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.posts.AddComment(ctx, tt.in)
			assert.True(t, models.IsCode(err, tt.code), "got %v", err)
		})
	}
	assert.Zero(t, env.reloadPost(t, post.ID).CommentCount)
}

func TestViewerState(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	author := env.user(t, "author")
	viewer := env.user(t, "viewer")
	post := env.post(t, author.ID)

	_, err := env.toggles.Toggle(ctx, ToggleInput{Kind: models.KindSave, SubjectID: post.ID, ActorID: viewer.ID})
	require.NoError(t, err)

	state, err := env.posts.ViewerState(ctx, post.ID, viewer.ID)
	require.NoError(t, err)
	assert.False(t, state.Liked)
	assert.True(t, state.Saved)
}

func TestReaperSweep_FlagOff(t *testing.T) {
	env := newTestEnv(t, 0)
	reaper := NewReaperService(env.repos, featureflags.NewManager("orphan_reaper=off"), 0)

	result, err := reaper.Sweep(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Zero(t, result.Total())
}

func TestReaperSweep_NothingToReap(t *testing.T) {
	env := newTestEnv(t, 0)
	author := env.user(t, "author")
	post := env.post(t, author.ID)
	_, err := env.toggles.Toggle(context.Background(), ToggleInput{Kind: models.KindLike, SubjectID: post.ID, ActorID: "fan"})
	require.NoError(t, err)

	result, err := env.reaper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Total())
	assert.EqualValues(t, 1, env.count(t, &models.Like{}, "post_id = ?", post.ID))
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{models.NewNotFoundError("Post", "p"), "not_found"},
		{models.NewValidationError("x"), "rejected"},
		{models.NewUnauthorizedError("x"), "rejected"},
		{models.NewTransientError(3, assert.AnError), "transient"},
		{models.NewInvariantViolation("x"), "invariant_violation"},
		{assert.AnError, "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, outcome(tt.err))
	}
}
