package service

import (
	"context"
	"testing"

	"engagement/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestPropagateProfileChange_BatchesAndRerunIsIdempotent(t *testing.T) {
	env := newTestEnv(t, 2)
	ctx := context.Background()
	author := env.user(t, "author")
	other := env.user(t, "other")
	for i := 0; i < 5; i++ {
		env.post(t, author.ID)
	}
	untouched := env.post(t, other.ID)

	upd := ProfileUpdate{DisplayName: strPtr("New Name"), AvatarRef: strPtr("avatars/new.png")}
	_, err := env.users.UpdateProfile(ctx, author.ID, upd)
	require.NoError(t, err)

	change := upd.Change()
	first, err := env.backfill.PropagateProfileChange(ctx, author.ID, change)
	require.NoError(t, err)
	assert.EqualValues(t, 5, first.UpdatedCount)
	assert.Equal(t, 3, first.Batches)

	posts, err := env.posts.ListUserPosts(ctx, author.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, posts, 5)
	for _, p := range posts {
		assert.Equal(t, "New Name", p.AuthorDisplayName)
		assert.Equal(t, "avatars/new.png", p.AuthorAvatarRef)
		assert.Equal(t, author.Username, p.AuthorUsername)
	}

	second, err := env.backfill.PropagateProfileChange(ctx, author.ID, change)
	require.NoError(t, err)
	assert.Equal(t, first.Batches, second.Batches)

	again, err := env.posts.ListUserPosts(ctx, author.ID, 0, 0)
	require.NoError(t, err)
	for i := range again {
		assert.Equal(t, posts[i].ID, again[i].ID)
		assert.Equal(t, posts[i].AuthorDisplayName, again[i].AuthorDisplayName)
		assert.Equal(t, posts[i].LikeCount, again[i].LikeCount)
	}

	assert.Equal(t, other.DisplayName, env.reloadPost(t, untouched.ID).AuthorDisplayName)
}

func TestPropagateProfileChange_EdgeCases(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	author := env.user(t, "author")

	empty, err := env.backfill.PropagateProfileChange(ctx, author.ID, ProfileChange{})
	require.NoError(t, err)
	assert.Zero(t, empty.UpdatedCount)
	assert.Zero(t, empty.Batches)

	none, err := env.backfill.PropagateProfileChange(ctx, author.ID, ProfileChange{Username: strPtr("solo")})
	require.NoError(t, err)
	assert.Zero(t, none.UpdatedCount)

	_, err = env.backfill.PropagateProfileChange(ctx, "ghost", ProfileChange{Username: strPtr("x")})
	assert.True(t, models.IsNotFound(err), "got %v", err)

	_, err = env.backfill.PropagateProfileChange(ctx, " ", ProfileChange{Username: strPtr("x")})
	assert.True(t, models.IsCode(err, models.CodeValidation), "got %v", err)
}

func TestPropagateProfileChange_RejectsBlankUsername(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	author := env.user(t, "author")
	post := env.post(t, author.ID)

	result, err := env.backfill.PropagateProfileChange(ctx, author.ID, ProfileChange{Username: strPtr("   ")})
	assert.True(t, models.IsCode(err, models.CodeValidation), "got %v", err)
	require.NotNil(t, result)
	assert.Zero(t, result.UpdatedCount)
	assert.Equal(t, author.Username, env.reloadPost(t, post.ID).AuthorUsername)
}

func TestPropagateProfileChange_OutOfOrderRunsKeepLatestProfile(t *testing.T) {
	env := newTestEnv(t, 2)
	ctx := context.Background()
	author := env.user(t, "author")
	for i := 0; i < 3; i++ {
		env.post(t, author.ID)
	}

	first := ProfileUpdate{DisplayName: strPtr("X")}
	second := ProfileUpdate{DisplayName: strPtr("Y"), AvatarRef: strPtr("avatars/y.png")}
	_, err := env.users.UpdateProfile(ctx, author.ID, first)
	require.NoError(t, err)
	_, err = env.users.UpdateProfile(ctx, author.ID, second)
	require.NoError(t, err)

	// The later edit's propagation finishes first; the earlier one lands last.
	_, err = env.backfill.PropagateProfileChange(ctx, author.ID, second.Change())
	require.NoError(t, err)
	_, err = env.backfill.PropagateProfileChange(ctx, author.ID, first.Change())
	require.NoError(t, err)

	posts, err := env.posts.ListUserPosts(ctx, author.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, posts, 3)
	for _, p := range posts {
		assert.Equal(t, "Y", p.AuthorDisplayName)
		assert.Equal(t, "avatars/y.png", p.AuthorAvatarRef)
	}
	assert.Equal(t, "Y", env.reloadUser(t, author.ID).DisplayName)
}

func TestPropagateProfileChange_StopsOnCancelledContext(t *testing.T) {
	env := newTestEnv(t, 1)
	author := env.user(t, "author")
	env.post(t, author.ID)
	env.post(t, author.ID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := env.backfill.PropagateProfileChange(ctx, author.ID, ProfileChange{DisplayName: strPtr("late")})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Zero(t, result.Batches)
}

func TestUpdateProfileAndPropagate(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	author := env.user(t, "author")
	post := env.post(t, author.ID)

	user, result, err := env.users.UpdateProfileAndPropagate(ctx, author.ID, ProfileUpdate{
		Username: strPtr("renamed"),
		Bio:      strPtr("hello"),
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", user.Username)
	assert.Equal(t, "hello", user.Bio)
	assert.EqualValues(t, 1, result.UpdatedCount)

	p := env.reloadPost(t, post.ID)
	assert.Equal(t, "renamed", p.AuthorUsername)
	assert.Equal(t, author.DisplayName, p.AuthorDisplayName)
	env.requireClean(t)
}
