package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"engagement/internal/database"
	"engagement/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLiteMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func seedUser(t *testing.T, db *gorm.DB, id string) *models.User {
	t.Helper()
	u := &models.User{ID: id, Username: id}
	require.NoError(t, db.Create(u).Error)
	return u
}

func seedPost(t *testing.T, db *gorm.DB, id, authorID string) *models.Post {
	t.Helper()
	p := &models.Post{ID: id, AuthorID: authorID, MediaRefs: []string{"media/" + id}}
	require.NoError(t, db.Create(p).Error)
	return p
}

func TestPostRepository_GetByID(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostRepository(db)
	ctx := context.Background()

	tests := []struct {
		name         string
		postID       string
		mockBehavior func()
		wantNotFound bool
	}{
		{
			name:   "Success",
			postID: "p1",
			mockBehavior: func() {
				rows := sqlmock.NewRows([]string{"id", "author_id", "caption", "media_refs", "like_count"}).
					AddRow("p1", "u1", "hello", `["m1"]`, 3)
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "posts" WHERE id = $1 ORDER BY "posts"."id" LIMIT $2`)).
					WithArgs("p1", 1).
					WillReturnRows(rows)
			},
		},
		{
			name:   "Not Found",
			postID: "missing",
			mockBehavior: func() {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "posts" WHERE id = $1 ORDER BY "posts"."id" LIMIT $2`)).
					WithArgs("missing", 1).
					WillReturnError(gorm.ErrRecordNotFound)
			},
			wantNotFound: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mockBehavior()
			post, err := repo.GetByID(ctx, tt.postID)

			if tt.wantNotFound {
				assert.True(t, models.IsNotFound(err))
			} else if assert.NoError(t, err) {
				assert.Equal(t, "u1", post.AuthorID)
				assert.Equal(t, []string{"m1"}, post.MediaRefs)
				assert.EqualValues(t, 3, post.LikeCount)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAggregateRepository_AdjustCounterGuardsNegative(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAggregateRepository()
	seedUser(t, db, "u1")
	seedPost(t, db, "p1", "u1")

	n, err := repo.AdjustPostCounter(db, "p1", PostLikeCount, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = repo.AdjustPostCounter(db, "p1", PostLikeCount, -1)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	_, err = repo.AdjustPostCounter(db, "p1", PostLikeCount, -1)
	assert.True(t, models.IsInvariantViolation(err), "got %v", err)

	var post models.Post
	require.NoError(t, db.First(&post, "id = ?", "p1").Error)
	assert.EqualValues(t, 0, post.LikeCount)

	_, err = repo.AdjustUserCounter(db, "u1", UserCounter("bio"), 1)
	assert.Error(t, err)

	_, err = repo.AdjustPostCounter(db, "missing", PostLikeCount, 1)
	assert.True(t, models.IsNotFound(err), "got %v", err)
}

func TestAggregateRepository_LockMissingIsNotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAggregateRepository()

	_, err := repo.LockPost(db, "nope")
	assert.True(t, models.IsNotFound(err))

	seedUser(t, db, "a")
	_, err = repo.LockUsers(db, "a", "b")
	assert.True(t, models.IsNotFound(err))

	seedUser(t, db, "b")
	users, err := repo.LockUsers(db, "b", "a")
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestMembershipRepository_SaveProjectionsMoveTogether(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMembershipRepository(db)
	seedUser(t, db, "u1")
	seedPost(t, db, "p1", "u1")
	now := time.Now().UTC()

	require.NoError(t, repo.InsertSave(db, "p1", "u2", now))
	postSide, userSide, err := repo.SaveState(db, "p1", "u2")
	require.NoError(t, err)
	assert.True(t, postSide)
	assert.True(t, userSide)

	require.NoError(t, repo.DeleteSave(db, "p1", "u2"))
	postSide, userSide, err = repo.SaveState(db, "p1", "u2")
	require.NoError(t, err)
	assert.False(t, postSide)
	assert.False(t, userSide)

	err = repo.DeleteSave(db, "p1", "u2")
	assert.True(t, models.IsInvariantViolation(err))
}

func TestMembershipRepository_FollowEdge(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMembershipRepository(db)
	ctx := context.Background()
	seedUser(t, db, "a")
	seedUser(t, db, "b")
	edge := models.Follow{FollowerID: "a", FolloweeID: "b"}

	require.NoError(t, repo.InsertFollow(db, edge, time.Now().UTC()))

	following, follower, err := repo.FollowState(db, edge)
	require.NoError(t, err)
	assert.True(t, following)
	assert.True(t, follower)

	ok, err := repo.IsFollowing(ctx, "a", "b")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.IsFollowing(ctx, "b", "a")
	require.NoError(t, err)
	assert.False(t, ok)

	followers, err := repo.ListFollowers(ctx, "b", 10, 0)
	require.NoError(t, err)
	require.Len(t, followers, 1)
	assert.Equal(t, "a", followers[0].ID)

	followees, err := repo.ListFollowing(ctx, "a", 10, 0)
	require.NoError(t, err)
	require.Len(t, followees, 1)
	assert.Equal(t, "b", followees[0].ID)

	require.NoError(t, repo.DeleteFollow(db, edge))
	following, follower, err = repo.FollowState(db, edge)
	require.NoError(t, err)
	assert.False(t, following)
	assert.False(t, follower)
}

func TestMembershipRepository_OrphansReadAsAbsent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMembershipRepository(db)
	ctx := context.Background()
	seedUser(t, db, "u1")
	seedPost(t, db, "p1", "u1")
	seedPost(t, db, "p2", "u1")
	now := time.Now().UTC()

	require.NoError(t, repo.InsertSave(db, "p1", "u2", now))
	require.NoError(t, repo.InsertSave(db, "p2", "u2", now.Add(time.Second)))
	require.NoError(t, db.Delete(&models.Post{}, "id = ?", "p2").Error)

	saved, err := repo.ListSavedPosts(ctx, "u2", 10, 0)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "p1", saved[0].ID)

	_, err = repo.ViewerState(ctx, "p2", "u2")
	assert.True(t, models.IsNotFound(err))

	state, err := repo.ViewerState(ctx, "p1", "u2")
	require.NoError(t, err)
	assert.Equal(t, models.ViewerState{Liked: false, Saved: true}, *state)
}

func TestPostRepository_KeysetPaging(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostRepository(db)
	ctx := context.Background()
	seedUser(t, db, "u1")
	seedUser(t, db, "u2")
	for _, id := range []string{"p3", "p1", "p5", "p2", "p4"} {
		seedPost(t, db, id, "u1")
	}
	seedPost(t, db, "p0", "u2")

	page, err := repo.AuthorPostIDsAfter(ctx, "u1", "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, page)

	page, err = repo.AuthorPostIDsAfter(ctx, "u1", "p2", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"p3", "p4"}, page)

	page, err = repo.AuthorPostIDsAfter(ctx, "u1", "p4", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"p5"}, page)

	n, err := repo.OverwriteAuthorSnapshot(db, "u1", []string{"p1", "p2", "p0"}, AuthorSnapshot{Username: "new"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestPostRepository_LatestCreatedAt(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostRepository(db)
	seedUser(t, db, "u1")
	seedUser(t, db, "u2")

	_, ok, err := repo.LatestCreatedAt(db)
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Insert(db, &models.Post{ID: "p1", AuthorID: "u1", MediaRefs: []string{"m"}, CreatedAt: at.Add(-time.Hour)}))
	require.NoError(t, repo.Insert(db, &models.Post{ID: "p2", AuthorID: "u2", MediaRefs: []string{"m"}, CreatedAt: at}))
	require.NoError(t, repo.Insert(db, &models.Post{ID: "p3", AuthorID: "u1", MediaRefs: []string{"m"}, CreatedAt: at.Add(-2 * time.Hour)}))

	latest, ok, err := repo.LatestCreatedAt(db)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, latest.Equal(at), "got %v", latest)
}

func TestUserRepository_CreateIfAbsentKeepsExisting(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	first, err := repo.CreateIfAbsent(ctx, &models.User{ID: "u1", Username: "first"})
	require.NoError(t, err)
	assert.Equal(t, "first", first.Username)

	again, err := repo.CreateIfAbsent(ctx, &models.User{ID: "u1", Username: "second"})
	require.NoError(t, err)
	assert.Equal(t, "first", again.Username)

	err = repo.UpdateProfile(db, "u1", map[string]interface{}{"post_count": 99})
	assert.True(t, models.IsCode(err, models.CodeValidation))

	err = repo.UpdateProfile(db, "ghost", map[string]interface{}{"bio": "x"})
	assert.True(t, models.IsNotFound(err))
}

func TestMaintenanceRepository_ReapAndAudit(t *testing.T) {
	db := setupTestDB(t)
	members := NewMembershipRepository(db)
	maint := NewMaintenanceRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	seedUser(t, db, "u1")
	seedPost(t, db, "keep", "u1")
	seedPost(t, db, "gone", "u1")
	require.NoError(t, members.InsertLike(db, "keep", "u2", now))
	require.NoError(t, members.InsertLike(db, "gone", "u2", now))
	require.NoError(t, members.InsertLike(db, "gone", "u3", now))
	require.NoError(t, db.Delete(&models.Post{}, "id = ?", "gone").Error)

	n, err := maint.ReapOrphans(ctx, "likes", 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	var remaining int64
	require.NoError(t, db.Model(&models.Like{}).Count(&remaining).Error)
	assert.EqualValues(t, 1, remaining)

	_, err = maint.ReapOrphans(ctx, "users", 10)
	assert.Error(t, err)

	// keep has one like but a zero counter; u1 has one post but a zero counter.
	drift, err := maint.CounterDrift(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []CounterDrift{
		{Table: "posts", ID: "keep", Counter: "like_count", Stored: 0, Actual: 1},
		{Table: "users", ID: "u1", Counter: "post_count", Stored: 0, Actual: 1},
	}, drift)

	require.NoError(t, db.Create(&models.FollowingEntry{UserID: "u2", FolloweeID: "u1", CreatedAt: now}).Error)
	gaps, err := maint.MirrorGaps(ctx)
	require.NoError(t, err)
	assert.Equal(t, []MirrorGap{{Relation: "follow", Present: "following", Left: "u2", Right: "u1"}}, gaps)
}
