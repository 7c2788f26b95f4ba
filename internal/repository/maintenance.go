package repository

import (
	"context"
	"fmt"

	"engagement/internal/models"

	"gorm.io/gorm"
)

// OrphanTables lists the membership tables that reference posts and are left
// behind when a post is deleted.
var OrphanTables = []string{"likes", "saves", "saved_posts", "comments"}

func isOrphanTable(table string) bool {
	for _, t := range OrphanTables {
		if t == table {
			return true
		}
	}
	return false
}

// CounterDrift is one stored counter that disagrees with its records.
type CounterDrift struct {
	Table   string `json:"table"`
	ID      string `json:"id"`
	Counter string `json:"counter"`
	Stored  int64  `json:"stored"`
	Actual  int64  `json:"actual"`
}

// MirrorGap is a save or follow with only one of its two projections.
type MirrorGap struct {
	Relation string `json:"relation"`
	Present  string `json:"present"`
	Left     string `json:"left"`
	Right    string `json:"right"`
}

type counterSource struct {
	root        string
	counter     string
	members     string
	fk          string
	memberCount string
}

// counterSources describes how each counter is recomputed from records.
var counterSources = []counterSource{
	{root: "posts", counter: "like_count", members: "likes", fk: "post_id", memberCount: "user_id"},
	{root: "posts", counter: "save_count", members: "saves", fk: "post_id", memberCount: "user_id"},
	{root: "posts", counter: "comment_count", members: "comments", fk: "post_id", memberCount: "id"},
	{root: "users", counter: "post_count", members: "posts", fk: "author_id", memberCount: "id"},
	{root: "users", counter: "follower_count", members: "followers", fk: "user_id", memberCount: "follower_id"},
	{root: "users", counter: "following_count", members: "following", fk: "user_id", memberCount: "followee_id"},
}

type mirrorSource struct {
	relation     string
	left, right  string
	leftA, leftB string
	joinOn       string
	rightA       string
}

var mirrorSources = []mirrorSource{
	{relation: "save", left: "saves", right: "saved_posts", leftA: "post_id", leftB: "user_id",
		joinOn: "r.post_id = l.post_id AND r.user_id = l.user_id", rightA: "user_id"},
	{relation: "save", left: "saved_posts", right: "saves", leftA: "post_id", leftB: "user_id",
		joinOn: "r.post_id = l.post_id AND r.user_id = l.user_id", rightA: "user_id"},
	{relation: "follow", left: "following", right: "followers", leftA: "user_id", leftB: "followee_id",
		joinOn: "r.user_id = l.followee_id AND r.follower_id = l.user_id", rightA: "user_id"},
	{relation: "follow", left: "followers", right: "following", leftA: "follower_id", leftB: "user_id",
		joinOn: "r.user_id = l.follower_id AND r.followee_id = l.user_id", rightA: "user_id"},
}

// MaintenanceRepository holds the background sweeps: orphan reaping and
// counter audits. Nothing here runs inside a coordinator transaction.
type MaintenanceRepository interface {
	ReapOrphans(ctx context.Context, table string, limit int) (int64, error)
	CounterDrift(ctx context.Context) ([]CounterDrift, error)
	MirrorGaps(ctx context.Context) ([]MirrorGap, error)
}

type maintenanceRepository struct {
	db *gorm.DB
}

// NewMaintenanceRepository creates a new maintenance repository
func NewMaintenanceRepository(db *gorm.DB) MaintenanceRepository {
	return &maintenanceRepository{db: db}
}

// ReapOrphans deletes rows of table whose post no longer exists, covering at
// most limit distinct posts per call. Deleted posts never come back, so the
// select and the delete need no shared transaction.
func (r *maintenanceRepository) ReapOrphans(ctx context.Context, table string, limit int) (int64, error) {
	if !isOrphanTable(table) {
		return 0, fmt.Errorf("unknown orphan table %q", table)
	}
	db := r.db.WithContext(ctx)

	var postIDs []string
	if err := db.Table(table + " m").
		Distinct("m.post_id").
		Joins("LEFT JOIN posts p ON p.id = m.post_id").
		Where("p.id IS NULL").
		Limit(limit).
		Pluck("m.post_id", &postIDs).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	if len(postIDs) == 0 {
		return 0, nil
	}

	res := db.Exec("DELETE FROM "+table+" WHERE post_id IN ? AND post_id NOT IN (SELECT id FROM posts)", postIDs)
	if res.Error != nil {
		return 0, models.NewInternalError(res.Error)
	}
	return res.RowsAffected, nil
}

// CounterDrift recounts every counter from its records and returns the ones
// that disagree.
func (r *maintenanceRepository) CounterDrift(ctx context.Context) ([]CounterDrift, error) {
	var drift []CounterDrift
	for _, src := range counterSources {
		var rows []struct {
			ID     string
			Stored int64
			Actual int64
		}
		query := fmt.Sprintf(
			`SELECT a.id AS id, a.%[2]s AS stored, COUNT(m.%[5]s) AS actual
FROM %[1]s a LEFT JOIN %[3]s m ON m.%[4]s = a.id
GROUP BY a.id, a.%[2]s
HAVING a.%[2]s <> COUNT(m.%[5]s)
ORDER BY a.id`,
			src.root, src.counter, src.members, src.fk, src.memberCount)
		if err := r.db.WithContext(ctx).Raw(query).Scan(&rows).Error; err != nil {
			return nil, models.NewInternalError(err)
		}
		for _, row := range rows {
			drift = append(drift, CounterDrift{
				Table:   src.root,
				ID:      row.ID,
				Counter: src.counter,
				Stored:  row.Stored,
				Actual:  row.Actual,
			})
		}
	}
	return drift, nil
}

// MirrorGaps returns every save or follow that has only one projection.
func (r *maintenanceRepository) MirrorGaps(ctx context.Context) ([]MirrorGap, error) {
	var gaps []MirrorGap
	for _, src := range mirrorSources {
		var rows []struct {
			Left  string
			Right string
		}
		query := fmt.Sprintf(
			`SELECT l.%[3]s AS "left", l.%[4]s AS "right"
FROM %[1]s l LEFT JOIN %[2]s r ON %[5]s
WHERE r.%[6]s IS NULL`,
			src.left, src.right, src.leftA, src.leftB, src.joinOn, src.rightA)
		if err := r.db.WithContext(ctx).Raw(query).Scan(&rows).Error; err != nil {
			return nil, models.NewInternalError(err)
		}
		for _, row := range rows {
			gaps = append(gaps, MirrorGap{
				Relation: src.relation,
				Present:  src.left,
				Left:     row.Left,
				Right:    row.Right,
			})
		}
	}
	return gaps, nil
}
