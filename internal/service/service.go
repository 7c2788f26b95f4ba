// Package service holds the coordinators that keep aggregate counters in step
// with the membership records they count.
package service

import (
	"context"
	"errors"
	"time"

	"engagement/internal/models"
	"engagement/internal/observability"
	"engagement/internal/repository"

	"gorm.io/gorm"
)

// TxRunner runs fn in a store transaction, retrying on write conflicts.
type TxRunner interface {
	Run(ctx context.Context, op string, fn func(tx *gorm.DB) error) error
}

// Repositories bundles the data access shared by the coordinators.
type Repositories struct {
	Aggregates  repository.AggregateRepository
	Memberships repository.MembershipRepository
	Posts       repository.PostRepository
	Comments    repository.CommentRepository
	Users       repository.UserRepository
	Maintenance repository.MaintenanceRepository
}

// NewRepositories wires every repository over db.
func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Aggregates:  repository.NewAggregateRepository(),
		Memberships: repository.NewMembershipRepository(db),
		Posts:       repository.NewPostRepository(db),
		Comments:    repository.NewCommentRepository(db),
		Users:       repository.NewUserRepository(db),
		Maintenance: repository.NewMaintenanceRepository(db),
	}
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// storeNow is the server-assigned timestamp, truncated to the precision
// postgres keeps.
func storeNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// outcome labels an operation result for metrics and logs.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		return "error"
	}
	switch appErr.Code {
	case models.CodeNotFound:
		return "not_found"
	case models.CodeUnauthorized, models.CodeValidation, models.CodeDebounced:
		return "rejected"
	case models.CodeTransient, models.CodeConflict:
		return "transient"
	case models.CodeInvariantViolation:
		return "invariant_violation"
	}
	return "error"
}

func logResult(ctx context.Context, log *observability.OpLogger, op string, start time.Time, err error, fields map[string]interface{}) {
	switch outcome(err) {
	case "ok":
		log.LogCommitted(ctx, op, time.Since(start), fields)
	case "not_found", "rejected":
		log.LogRejected(ctx, op, err, fields)
	default:
		log.LogError(ctx, op, err, fields)
	}
}
