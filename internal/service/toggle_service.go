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

// ToggleInput names who flips which relationship on what. SubjectID is a
// post id for likes and saves and a user id for follows.
type ToggleInput struct {
	Kind      models.Kind
	SubjectID string
	ActorID   string
}

// ToggleResult is the committed state after a toggle.
type ToggleResult struct {
	Kind      models.Kind `json:"kind"`
	SubjectID string      `json:"subject_id"`
	NowActive bool        `json:"now_active"`
	Count     int64       `json:"count"`
}

// MembershipDoc is the change-feed document for a like, save, follow or
// comment record.
type MembershipDoc struct {
	Kind      models.Kind `json:"kind"`
	SubjectID string      `json:"subject_id"`
	ActorID   string      `json:"actor_id"`
	Active    bool        `json:"active"`
}

// KindComment labels comment records on the change feed.
const KindComment models.Kind = "comment"

// membershipEvents addresses the record to every document that indexes it.
func membershipEvents(doc MembershipDoc, topicIDs ...string) []changefeed.Event {
	events := make([]changefeed.Event, 0, len(topicIDs))
	for _, id := range topicIDs {
		ev := changefeed.Upsert(changefeed.CollectionMemberships, id, doc)
		if !doc.Active {
			ev.Type = changefeed.TypeDelete
		}
		events = append(events, ev)
	}
	return events
}

// ToggleService flips likes, saves and follows together with their counters.
type ToggleService struct {
	tx    TxRunner
	repos Repositories
	feed  *changefeed.Feed
	log   *observability.OpLogger
}

// NewToggleService creates a toggle coordinator.
func NewToggleService(tx TxRunner, repos Repositories, feed *changefeed.Feed) *ToggleService {
	return &ToggleService{
		tx:    tx,
		repos: repos,
		feed:  feed,
		log:   observability.NewOpLogger("toggle"),
	}
}

// Toggle flips one relationship. Calling it twice restores the original
// state; it is not idempotent at the call level.
func (s *ToggleService) Toggle(ctx context.Context, in ToggleInput) (*ToggleResult, error) {
	in.SubjectID = strings.TrimSpace(in.SubjectID)
	in.ActorID = strings.TrimSpace(in.ActorID)

	span, ctx := observability.NewSpan(ctx, "toggle."+string(in.Kind),
		attribute.String("subject_id", in.SubjectID),
		attribute.String("actor_id", in.ActorID),
	)
	defer span.End()
	start := time.Now()
	op := "toggle_" + string(in.Kind)

	result, events, err := s.toggle(ctx, op, in)

	label := outcome(err)
	if err == nil {
		label = "deactivated"
		if result.NowActive {
			label = "activated"
		}
		s.feed.PublishQuietly(ctx, events...)
		span.AddAttributes(attribute.Bool("now_active", result.NowActive), attribute.Int64("count", result.Count))
	} else {
		span.SetError(err)
	}
	if in.Kind.Valid() {
		observability.ToggleTotal.WithLabelValues(string(in.Kind), label).Inc()
	}
	logResult(ctx, s.log, op, start, err, map[string]interface{}{
		"kind":       string(in.Kind),
		"subject_id": in.SubjectID,
		"outcome":    label,
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *ToggleService) toggle(ctx context.Context, op string, in ToggleInput) (*ToggleResult, []changefeed.Event, error) {
	if err := s.validate(ctx, in); err != nil {
		return nil, nil, err
	}

	var result *ToggleResult
	var events []changefeed.Event
	err := s.tx.Run(ctx, op, func(tx *gorm.DB) error {
		var err error
		switch in.Kind {
		case models.KindLike:
			result, events, err = s.toggleLike(tx, in)
		case models.KindSave:
			result, events, err = s.toggleSave(tx, in)
		case models.KindFollow:
			result, events, err = s.toggleFollow(tx, in)
		}
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return result, events, nil
}

func (s *ToggleService) validate(ctx context.Context, in ToggleInput) error {
	if !in.Kind.Valid() {
		return models.NewValidationError("Unknown toggle kind " + string(in.Kind))
	}
	if in.SubjectID == "" || in.ActorID == "" {
		return models.NewValidationError("Subject and actor are required")
	}
	switch in.Kind {
	case models.KindFollow:
		if in.SubjectID == in.ActorID {
			return models.NewValidationError("You cannot follow yourself")
		}
	case models.KindLike:
		// A post's author never changes, so this read cannot race the toggle.
		post, err := s.repos.Posts.GetByID(ctx, in.SubjectID)
		if err != nil {
			return err
		}
		if post.AuthorID == in.ActorID {
			return models.NewValidationError("You cannot like your own post")
		}
	}
	return nil
}

func (s *ToggleService) toggleLike(tx *gorm.DB, in ToggleInput) (*ToggleResult, []changefeed.Event, error) {
	post, err := s.repos.Aggregates.LockPost(tx, in.SubjectID)
	if err != nil {
		return nil, nil, err
	}
	liked, err := s.repos.Memberships.HasLike(tx, post.ID, in.ActorID)
	if err != nil {
		return nil, nil, err
	}

	delta := int64(1)
	if liked {
		err = s.repos.Memberships.DeleteLike(tx, post.ID, in.ActorID)
		delta = -1
	} else {
		err = s.repos.Memberships.InsertLike(tx, post.ID, in.ActorID, storeNow())
	}
	if err != nil {
		return nil, nil, err
	}
	if post.LikeCount, err = s.repos.Aggregates.AdjustPostCounter(tx, post.ID, repository.PostLikeCount, delta); err != nil {
		return nil, nil, err
	}

	doc := MembershipDoc{Kind: in.Kind, SubjectID: post.ID, ActorID: in.ActorID, Active: !liked}
	events := append([]changefeed.Event{changefeed.Upsert(changefeed.CollectionPosts, post.ID, post)},
		membershipEvents(doc, post.ID)...)
	return &ToggleResult{Kind: in.Kind, SubjectID: post.ID, NowActive: !liked, Count: post.LikeCount}, events, nil
}

func (s *ToggleService) toggleSave(tx *gorm.DB, in ToggleInput) (*ToggleResult, []changefeed.Event, error) {
	post, err := s.repos.Aggregates.LockPost(tx, in.SubjectID)
	if err != nil {
		return nil, nil, err
	}
	postSide, userSide, err := s.repos.Memberships.SaveState(tx, post.ID, in.ActorID)
	if err != nil {
		return nil, nil, err
	}
	if postSide != userSide {
		return nil, nil, models.NewInvariantViolation("save of post %s by %s has only one projection", post.ID, in.ActorID)
	}

	delta := int64(1)
	if postSide {
		err = s.repos.Memberships.DeleteSave(tx, post.ID, in.ActorID)
		delta = -1
	} else {
		err = s.repos.Memberships.InsertSave(tx, post.ID, in.ActorID, storeNow())
	}
	if err != nil {
		return nil, nil, err
	}
	if post.SaveCount, err = s.repos.Aggregates.AdjustPostCounter(tx, post.ID, repository.PostSaveCount, delta); err != nil {
		return nil, nil, err
	}

	doc := MembershipDoc{Kind: in.Kind, SubjectID: post.ID, ActorID: in.ActorID, Active: !postSide}
	events := append([]changefeed.Event{changefeed.Upsert(changefeed.CollectionPosts, post.ID, post)},
		membershipEvents(doc, post.ID, in.ActorID)...)
	return &ToggleResult{Kind: in.Kind, SubjectID: post.ID, NowActive: !postSide, Count: post.SaveCount}, events, nil
}

func (s *ToggleService) toggleFollow(tx *gorm.DB, in ToggleInput) (*ToggleResult, []changefeed.Event, error) {
	users, err := s.repos.Aggregates.LockUsers(tx, in.ActorID, in.SubjectID)
	if err != nil {
		return nil, nil, err
	}
	follower, followee := users[in.ActorID], users[in.SubjectID]
	edge := models.Follow{FollowerID: follower.ID, FolloweeID: followee.ID}

	outSide, inSide, err := s.repos.Memberships.FollowState(tx, edge)
	if err != nil {
		return nil, nil, err
	}
	if outSide != inSide {
		return nil, nil, models.NewInvariantViolation("follow %s -> %s has only one projection", edge.FollowerID, edge.FolloweeID)
	}

	delta := int64(1)
	if outSide {
		err = s.repos.Memberships.DeleteFollow(tx, edge)
		delta = -1
	} else {
		err = s.repos.Memberships.InsertFollow(tx, edge, storeNow())
	}
	if err != nil {
		return nil, nil, err
	}
	if follower.FollowingCount, err = s.repos.Aggregates.AdjustUserCounter(tx, follower.ID, repository.UserFollowingCount, delta); err != nil {
		return nil, nil, err
	}
	if followee.FollowerCount, err = s.repos.Aggregates.AdjustUserCounter(tx, followee.ID, repository.UserFollowerCount, delta); err != nil {
		return nil, nil, err
	}

	doc := MembershipDoc{Kind: in.Kind, SubjectID: followee.ID, ActorID: follower.ID, Active: !outSide}
	events := append([]changefeed.Event{
		changefeed.Upsert(changefeed.CollectionUsers, follower.ID, follower),
		changefeed.Upsert(changefeed.CollectionUsers, followee.ID, followee),
	}, membershipEvents(doc, followee.ID, follower.ID)...)
	return &ToggleResult{Kind: in.Kind, SubjectID: followee.ID, NowActive: !outSide, Count: followee.FollowerCount}, events, nil
}
