package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"engagement/internal/changefeed"
	"engagement/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestToggle_ReversalRestoresState(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	author := env.user(t, "author")
	actor := env.user(t, "actor")
	post := env.post(t, author.ID)

	tests := []struct {
		kind    models.Kind
		subject string
	}{
		{models.KindLike, post.ID},
		{models.KindSave, post.ID},
		{models.KindFollow, author.ID},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			in := ToggleInput{Kind: tt.kind, SubjectID: tt.subject, ActorID: actor.ID}

			first, err := env.toggles.Toggle(ctx, in)
			require.NoError(t, err)
			assert.True(t, first.NowActive)
			assert.EqualValues(t, 1, first.Count)
			env.requireClean(t)

			second, err := env.toggles.Toggle(ctx, in)
			require.NoError(t, err)
			assert.False(t, second.NowActive)
			assert.EqualValues(t, 0, second.Count)
			env.requireClean(t)
		})
	}

	p := env.reloadPost(t, post.ID)
	assert.EqualValues(t, 0, p.LikeCount)
	assert.EqualValues(t, 0, p.SaveCount)
	a := env.reloadUser(t, author.ID)
	assert.EqualValues(t, 0, a.FollowerCount)
	assert.EqualValues(t, 1, a.PostCount)
}

func TestToggle_Validation(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	author := env.user(t, "author")
	post := env.post(t, author.ID)

	tests := []struct {
		name string
		in   ToggleInput
		code string
	}{
		{"unknown kind", ToggleInput{Kind: "repost", SubjectID: post.ID, ActorID: "x"}, models.CodeValidation},
		{"empty subject", ToggleInput{Kind: models.KindLike, SubjectID: " ", ActorID: "x"}, models.CodeValidation},
		{"empty actor", ToggleInput{Kind: models.KindSave, SubjectID: post.ID}, models.CodeValidation},
		{"self follow", ToggleInput{Kind: models.KindFollow, SubjectID: author.ID, ActorID: author.ID}, models.CodeValidation},
		{"self like", ToggleInput{Kind: models.KindLike, SubjectID: post.ID, ActorID: author.ID}, models.CodeValidation},
		{"missing post like", ToggleInput{Kind: models.KindLike, SubjectID: "nope", ActorID: "x"}, models.CodeNotFound},
		{"missing post save", ToggleInput{Kind: models.KindSave, SubjectID: "nope", ActorID: "x"}, models.CodeNotFound},
		{"missing followee", ToggleInput{Kind: models.KindFollow, SubjectID: "ghost", ActorID: author.ID}, models.CodeNotFound},
		{"missing follower", ToggleInput{Kind: models.KindFollow, SubjectID: author.ID, ActorID: "ghost"}, models.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := env.toggles.Toggle(ctx, tt.in)
			assert.Nil(t, res)
			assert.True(t, models.IsCode(err, tt.code), "got %v", err)
		})
	}
	env.requireClean(t)
}

func TestToggle_AuthorMaySaveOwnPost(t *testing.T) {
	env := newTestEnv(t, 0)
	author := env.user(t, "author")
	post := env.post(t, author.ID)

	res, err := env.toggles.Toggle(context.Background(), ToggleInput{Kind: models.KindSave, SubjectID: post.ID, ActorID: author.ID})
	require.NoError(t, err)
	assert.True(t, res.NowActive)
}

func TestToggle_ConcurrentLikesFromDistinctActors(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	author := env.user(t, "author")
	post := env.post(t, author.ID)

	const actors = 16
	run := func() {
		var wg sync.WaitGroup
		errs := make(chan error, actors)
		for i := 0; i < actors; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := env.toggles.Toggle(ctx, ToggleInput{
					Kind:      models.KindLike,
					SubjectID: post.ID,
					ActorID:   fmt.Sprintf("actor-%02d", i),
				})
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
	}

	run()
	assert.EqualValues(t, actors, env.reloadPost(t, post.ID).LikeCount)
	assert.EqualValues(t, actors, env.count(t, &models.Like{}, "post_id = ?", post.ID))

	run()
	assert.EqualValues(t, 0, env.reloadPost(t, post.ID).LikeCount)
	assert.EqualValues(t, 0, env.count(t, &models.Like{}, "post_id = ?", post.ID))
	env.requireClean(t)
}

func TestToggle_ConcurrentSameActorStaysConsistent(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	a := env.user(t, "a")
	b := env.user(t, "b")

	const taps = 7
	var wg sync.WaitGroup
	for i := 0; i < taps; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.toggles.Toggle(ctx, ToggleInput{Kind: models.KindFollow, SubjectID: b.ID, ActorID: a.ID})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// An odd number of flips leaves the edge present.
	following, err := env.users.IsFollowing(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, following)
	assert.EqualValues(t, 1, env.reloadUser(t, b.ID).FollowerCount)
	assert.EqualValues(t, 1, env.reloadUser(t, a.ID).FollowingCount)
	env.requireClean(t)
}

func TestToggle_ConcurrentSameActorLike(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	author := env.user(t, "author")
	post := env.post(t, author.ID)
	fan := env.user(t, "fan")

	for _, taps := range []int{6, 5} {
		var wg sync.WaitGroup
		for i := 0; i < taps; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := env.toggles.Toggle(ctx, ToggleInput{Kind: models.KindLike, SubjectID: post.ID, ActorID: fan.ID})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		records := env.count(t, &models.Like{}, "post_id = ? AND user_id = ?", post.ID, fan.ID)
		assert.EqualValues(t, records, env.reloadPost(t, post.ID).LikeCount)
		// 6 flips restore the start, 5 more leave the like present.
		assert.Equal(t, taps%2 == 1, records == 1)
	}
	env.requireClean(t)
}

func TestToggle_RacingDeletePost(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	author := env.user(t, "author")
	post := env.post(t, author.ID)

	const actors = 8
	fans := make([]*models.User, actors)
	for i := range fans {
		fans[i] = env.user(t, fmt.Sprintf("fan-%d", i))
	}

	var wg sync.WaitGroup
	toggleErrs := make([]error, actors)
	for i := range fans {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, toggleErrs[i] = env.toggles.Toggle(ctx, ToggleInput{Kind: models.KindLike, SubjectID: post.ID, ActorID: fans[i].ID})
		}(i)
	}
	var deleteErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		deleteErr = env.cascade.DeletePost(ctx, DeletePostInput{PostID: post.ID, RequesterID: author.ID})
	}()
	wg.Wait()

	require.NoError(t, deleteErr)
	for i, err := range toggleErrs {
		if err != nil {
			assert.True(t, models.IsNotFound(err), "toggle %d: %v", i, err)
		}
	}

	_, err := env.toggles.Toggle(ctx, ToggleInput{Kind: models.KindLike, SubjectID: post.ID, ActorID: fans[0].ID})
	assert.True(t, models.IsNotFound(err), "got %v", err)
	assert.EqualValues(t, 0, env.reloadUser(t, author.ID).PostCount)
	assert.EqualValues(t, 0, env.count(t, &models.Post{}, "id = ?", post.ID))
	env.requireClean(t)
}

func TestToggle_FollowMirrorSymmetry(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	a := env.user(t, "a")
	b := env.user(t, "b")

	_, err := env.toggles.Toggle(ctx, ToggleInput{Kind: models.KindFollow, SubjectID: b.ID, ActorID: a.ID})
	require.NoError(t, err)

	assert.EqualValues(t, 1, env.count(t, &models.FollowingEntry{}, "user_id = ? AND followee_id = ?", a.ID, b.ID))
	assert.EqualValues(t, 1, env.count(t, &models.FollowerEntry{}, "user_id = ? AND follower_id = ?", b.ID, a.ID))
	assert.EqualValues(t, 0, env.count(t, &models.FollowingEntry{}, "user_id = ?", b.ID))

	followers, err := env.users.ListFollowers(ctx, b.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, followers, 1)
	assert.Equal(t, a.ID, followers[0].ID)
}

func TestToggle_HalfEdgeIsInvariantViolation(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	author := env.user(t, "author")
	post := env.post(t, author.ID)
	a := env.user(t, "a")

	require.NoError(t, env.db.Create(&models.Save{PostID: post.ID, UserID: a.ID}).Error)
	_, err := env.toggles.Toggle(ctx, ToggleInput{Kind: models.KindSave, SubjectID: post.ID, ActorID: a.ID})
	assert.True(t, models.IsInvariantViolation(err), "got %v", err)
	assert.EqualValues(t, 0, env.reloadPost(t, post.ID).SaveCount)

	require.NoError(t, env.db.Create(&models.FollowerEntry{UserID: author.ID, FollowerID: a.ID}).Error)
	_, err = env.toggles.Toggle(ctx, ToggleInput{Kind: models.KindFollow, SubjectID: author.ID, ActorID: a.ID})
	assert.True(t, models.IsInvariantViolation(err), "got %v", err)
	assert.EqualValues(t, 0, env.reloadUser(t, author.ID).FollowerCount)
}

func TestToggle_DriftedCounterAbortsInsteadOfGoingNegative(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	author := env.user(t, "author")
	post := env.post(t, author.ID)

	require.NoError(t, env.db.Create(&models.Like{PostID: post.ID, UserID: "a"}).Error)
	_, err := env.toggles.Toggle(ctx, ToggleInput{Kind: models.KindLike, SubjectID: post.ID, ActorID: "a"})
	assert.True(t, models.IsInvariantViolation(err), "got %v", err)

	// The like delete rolled back with the refused counter write.
	assert.EqualValues(t, 1, env.count(t, &models.Like{}, "post_id = ?", post.ID))
	assert.EqualValues(t, 0, env.reloadPost(t, post.ID).LikeCount)
}

func TestToggle_TransientErrorsSurface(t *testing.T) {
	posts := &postRepoStub{getByIDFn: func(_ context.Context, id string) (*models.Post, error) {
		return &models.Post{ID: id, AuthorID: "author"}, nil
	}}
	runner := &txRunnerStub{runFn: func(_ context.Context, _ string, _ func(*gorm.DB) error) error {
		return models.NewTransientError(5, models.NewConflictError(assert.AnError))
	}}
	svc := NewToggleService(runner, Repositories{Posts: posts}, changefeed.NewFeed(nil))

	res, err := svc.Toggle(context.Background(), ToggleInput{Kind: models.KindLike, SubjectID: "p1", ActorID: "a"})
	assert.Nil(t, res)
	assert.True(t, models.IsCode(err, models.CodeTransient))
}

func TestEndToEndScenario(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()
	a := env.user(t, "A")
	b := env.user(t, "B")
	assert.EqualValues(t, 0, a.PostCount)

	p1 := env.post(t, a.ID)
	assert.EqualValues(t, 1, env.reloadUser(t, a.ID).PostCount)

	like := ToggleInput{Kind: models.KindLike, SubjectID: p1.ID, ActorID: b.ID}
	res, err := env.toggles.Toggle(ctx, like)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Count)
	assert.EqualValues(t, 1, env.count(t, &models.Like{}, "post_id = ? AND user_id = ?", p1.ID, b.ID))

	res, err = env.toggles.Toggle(ctx, like)
	require.NoError(t, err)
	assert.EqualValues(t, 0, res.Count)
	assert.EqualValues(t, 0, env.count(t, &models.Like{}, "post_id = ? AND user_id = ?", p1.ID, b.ID))

	require.NoError(t, env.cascade.DeletePost(ctx, DeletePostInput{PostID: p1.ID, RequesterID: a.ID}))
	assert.EqualValues(t, 0, env.reloadUser(t, a.ID).PostCount)
	assert.EqualValues(t, 0, env.count(t, &models.Post{}, "id = ?", p1.ID))

	_, err = env.toggles.Toggle(ctx, like)
	assert.True(t, models.IsNotFound(err), "got %v", err)
	_, err = env.toggles.Toggle(ctx, ToggleInput{Kind: models.KindSave, SubjectID: p1.ID, ActorID: b.ID})
	assert.True(t, models.IsNotFound(err), "got %v", err)
	env.requireClean(t)
}
