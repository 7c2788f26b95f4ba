package changefeed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeed_NilClientIsNoop(t *testing.T) {
	f := NewFeed(nil)
	assert.NoError(t, f.Publish(context.Background(), Delete(CollectionPosts, "p1")))
	assert.NoError(t, f.Subscribe(context.Background(), []string{"posts:p1"}, func(Event) {}))
}

func TestValidTopic(t *testing.T) {
	t.Parallel()
	tests := []struct {
		topic string
		want  bool
	}{
		{"posts:p1", true},
		{"users:u1", true},
		{"memberships:p1", true},
		{"posts:", false},
		{"comments:c1", false},
		{"posts", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidTopic(tt.topic), tt.topic)
	}
	assert.Equal(t, "feed:posts:p1", Channel(Topic(CollectionPosts, "p1")))
}

func TestFeed_PublishSubscribe(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	f := NewFeed(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []Event
	require.NoError(t, f.Subscribe(ctx, []string{Topic(CollectionPosts, "p1")}, func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	}))

	require.NoError(t, f.Publish(context.Background(),
		Upsert(CollectionPosts, "p1", map[string]int{"like_count": 1}),
		Upsert(CollectionPosts, "p2", map[string]int{"like_count": 7}),
	))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, TypeUpsert, got[0].Type)
	assert.Equal(t, "p1", got[0].DocumentID)
	assert.JSONEq(t, `{"like_count":1}`, string(got[0].Document))
}
