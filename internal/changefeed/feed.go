// Package changefeed publishes committed document changes to observers over
// Redis pub/sub.
package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"engagement/internal/observability"

	"github.com/redis/go-redis/v9"
)

// Event types.
const (
	TypeUpsert = "upsert"
	TypeDelete = "delete"
)

// Collections observed through the feed.
const (
	CollectionPosts       = "posts"
	CollectionUsers       = "users"
	CollectionMemberships = "memberships"
)

const channelPrefix = "feed:"

// Event is one committed change. Document is the full document after the
// change, or empty for deletes.
type Event struct {
	Type       string          `json:"type"`
	Collection string          `json:"collection"`
	DocumentID string          `json:"document_id"`
	Document   json.RawMessage `json:"document,omitempty"`
	At         time.Time       `json:"at"`
}

// Topic is the observable address of a document: "<collection>:<id>".
func Topic(collection, id string) string {
	return collection + ":" + id
}

// Channel maps a topic to its Redis channel.
func Channel(topic string) string {
	return channelPrefix + topic
}

// ValidTopic reports whether topic names a known collection and a non-empty id.
func ValidTopic(topic string) bool {
	collection, id, ok := strings.Cut(topic, ":")
	if !ok || id == "" {
		return false
	}
	switch collection {
	case CollectionPosts, CollectionUsers, CollectionMemberships:
		return true
	}
	return false
}

// Upsert builds an upsert event carrying doc.
func Upsert(collection, id string, doc interface{}) Event {
	raw, err := json.Marshal(doc)
	if err != nil {
		raw = nil
	}
	return Event{Type: TypeUpsert, Collection: collection, DocumentID: id, Document: raw, At: time.Now().UTC()}
}

// Delete builds a delete event.
func Delete(collection, id string) Event {
	return Event{Type: TypeDelete, Collection: collection, DocumentID: id, At: time.Now().UTC()}
}

// Feed publishes events after commit. A Feed over a nil client drops everything.
type Feed struct {
	rdb *redis.Client
}

// NewFeed creates a new Feed instance using the provided Redis client.
func NewFeed(rdb *redis.Client) *Feed {
	return &Feed{rdb: rdb}
}

// Publish sends events to their topics. Events are best-effort: observers
// may miss them and must re-read the document on reconnect.
func (f *Feed) Publish(ctx context.Context, events ...Event) error {
	if f == nil || f.rdb == nil || len(events) == 0 {
		return nil
	}
	pipe := f.rdb.Pipeline()
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		pipe.Publish(ctx, Channel(Topic(ev.Collection, ev.DocumentID)), payload)
		observability.FeedEvents.WithLabelValues(ev.Type).Inc()
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish events: %w", err)
	}
	return nil
}

// PublishQuietly publishes and logs failures instead of returning them. Used
// after a commit, when the write has already succeeded.
func (f *Feed) PublishQuietly(ctx context.Context, events ...Event) {
	if err := f.Publish(ctx, events...); err != nil {
		observability.Logger.WarnContext(ctx, "change feed publish failed",
			slog.Int("events", len(events)),
			slog.String("error", err.Error()),
		)
	}
}

// Subscribe delivers events on topics to onEvent until ctx is done. It
// returns once the subscription is confirmed.
func (f *Feed) Subscribe(ctx context.Context, topics []string, onEvent func(Event)) error {
	if f == nil || f.rdb == nil {
		return nil
	}
	channels := make([]string, 0, len(topics))
	for _, t := range topics {
		channels = append(channels, Channel(t))
	}
	sub := f.rdb.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe: %w", err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					observability.Logger.Warn("dropping malformed feed event",
						slog.String("channel", msg.Channel), slog.String("error", err.Error()))
					continue
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							observability.Logger.Error("panic in feed subscriber",
								slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
						}
					}()
					onEvent(ev)
				}()
			}
		}
	}()

	return nil
}
