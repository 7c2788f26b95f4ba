package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"engagement/internal/changefeed"
	"engagement/internal/database"
	"engagement/internal/featureflags"
	"engagement/internal/models"
	"engagement/internal/repository"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testEnv struct {
	db       *gorm.DB
	repos    Repositories
	toggles  *ToggleService
	cascade  *CascadeService
	backfill *BackfillService
	posts    *PostService
	users    *UserService
	reaper   *ReaperService
	audit    *AuditService
}

func newTestEnv(t *testing.T, backfillBatch int) *testEnv {
	t.Helper()
	db, err := database.OpenSQLiteMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	runner := database.NewTxRunner(db, database.TxOptions{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond})
	repos := NewRepositories(db)
	feed := changefeed.NewFeed(nil)
	backfill := NewBackfillService(runner, repos, feed, backfillBatch)

	return &testEnv{
		db:       db,
		repos:    repos,
		toggles:  NewToggleService(runner, repos, feed),
		cascade:  NewCascadeService(runner, repos, feed),
		backfill: backfill,
		posts:    NewPostService(runner, repos, feed),
		users:    NewUserService(runner, repos, feed, nil, backfill),
		reaper:   NewReaperService(repos, featureflags.NewManager("orphan_reaper=on"), 2),
		audit:    NewAuditService(repos),
	}
}

func (e *testEnv) user(t *testing.T, id string) *models.User {
	t.Helper()
	u, err := e.users.EnsureUser(context.Background(), EnsureUserInput{
		ID:          id,
		Username:    gofakeit.Username() + fmt.Sprintf("%d", gofakeit.Number(100, 999)),
		DisplayName: gofakeit.Name(),
	})
	require.NoError(t, err)
	return u
}

func (e *testEnv) post(t *testing.T, authorID string) *models.Post {
	t.Helper()
	p, err := e.posts.CreatePost(context.Background(), CreatePostInput{
		AuthorID:  authorID,
		Caption:   gofakeit.Sentence(5),
		MediaRefs: []string{"media/" + gofakeit.UUID()},
	})
	require.NoError(t, err)
	return p
}

func (e *testEnv) reloadPost(t *testing.T, id string) *models.Post {
	t.Helper()
	var p models.Post
	require.NoError(t, e.db.First(&p, "id = ?", id).Error)
	return &p
}

func (e *testEnv) reloadUser(t *testing.T, id string) *models.User {
	t.Helper()
	var u models.User
	require.NoError(t, e.db.First(&u, "id = ?", id).Error)
	return &u
}

func (e *testEnv) count(t *testing.T, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(model).Where(query, args...).Count(&n).Error)
	return n
}

// requireClean asserts that every counter matches its records.
func (e *testEnv) requireClean(t *testing.T) {
	t.Helper()
	report, err := e.audit.Audit(context.Background())
	require.NoError(t, err)
	require.True(t, report.Clean(), "drift=%+v gaps=%+v", report.Drift, report.Gaps)
}

// txRunnerStub is a stub for TxRunner.
type txRunnerStub struct {
	runFn func(context.Context, string, func(*gorm.DB) error) error
}

func (s *txRunnerStub) Run(ctx context.Context, op string, fn func(*gorm.DB) error) error {
	return s.runFn(ctx, op, fn)
}

// postRepoStub embeds the interface so tests only fill the methods they hit.
type postRepoStub struct {
	repository.PostRepository
	getByIDFn func(context.Context, string) (*models.Post, error)
}

func (s *postRepoStub) GetByID(ctx context.Context, id string) (*models.Post, error) {
	return s.getByIDFn(ctx, id)
}
