package pagination

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dyluth/murmur/internal/testutil"
	"github.com/dyluth/murmur/pkg/forum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pagedSource serves total items in pages and counts fetches.
type pagedSource struct {
	total   int
	fetches int
	failAt  int
	failErr error
}

func (s *pagedSource) fetch(_ context.Context, cursor, pageSize int) ([]forum.ContentUnit, error) {
	s.fetches++
	if s.failErr != nil && cursor == s.failAt {
		return nil, s.failErr
	}
	var items []forum.ContentUnit
	for i := cursor * pageSize; i < s.total && i < (cursor+1)*pageSize; i++ {
		items = append(items, forum.ContentUnit{ID: fmt.Sprint(i)})
	}
	return items, nil
}

func TestWalk_Termination(t *testing.T) {
	tests := []struct {
		name        string
		total       int
		pageSize    int
		wantFetches int
	}{
		{"empty source", 0, 10, 1},
		{"single short page", 7, 10, 1},
		{"exact multiple needs empty page", 20, 10, 3},
		{"partial last page", 25, 10, 3},
		{"one item pages", 3, 1, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &pagedSource{total: tt.total}
			sleeper := &testutil.RecordingSleeper{}
			walk := New(src.fetch, Options{PageSize: tt.pageSize, Pause: 500 * time.Millisecond, Sleeper: sleeper})

			items, incomplete := walk.Collect(context.Background())
			assert.False(t, incomplete)
			assert.NoError(t, walk.Err())
			assert.Len(t, items, tt.total)
			assert.Equal(t, tt.wantFetches, src.fetches)
			assert.Equal(t, tt.wantFetches, walk.Pages())
			assert.Equal(t, tt.total, walk.Count())
			assert.Equal(t, tt.wantFetches-1, sleeper.Count(), "pause only between pages")
			for i, item := range items {
				assert.Equal(t, fmt.Sprint(i), item.ID, "items must keep page order")
			}
		})
	}
}

func TestWalk_IsLazy(t *testing.T) {
	src := &pagedSource{total: 1000}
	walk := New(src.fetch, Options{PageSize: 10, Sleeper: &testutil.RecordingSleeper{}})

	seen := 0
	for range walk.Items(context.Background()) {
		seen++
		if seen == 15 {
			break
		}
	}
	assert.Equal(t, 15, seen)
	assert.Equal(t, 2, src.fetches, "only pages the consumer reached are fetched")
	assert.False(t, walk.Incomplete())
}

func TestWalk_FetchErrorMarksIncomplete(t *testing.T) {
	cause := &forum.Failure{Kind: forum.KindRateLimited, Op: forum.OpList, Target: "/latest.json", Attempts: 3}
	src := &pagedSource{total: 50, failAt: 2, failErr: cause}
	walk := New(src.fetch, Options{PageSize: 10, Sleeper: &testutil.RecordingSleeper{}})

	items, incomplete := walk.Collect(context.Background())
	assert.True(t, incomplete)
	assert.Len(t, items, 20, "items yielded before the failure stand")
	require.Error(t, walk.Err())
	assert.True(t, forum.IsRateLimited(walk.Err()))
}

func TestWalk_MaxPages(t *testing.T) {
	src := &pagedSource{total: 100}
	walk := New(src.fetch, Options{PageSize: 10, MaxPages: 3, Sleeper: &testutil.RecordingSleeper{}})

	items, incomplete := walk.Collect(context.Background())
	assert.Len(t, items, 30)
	assert.True(t, incomplete)
	assert.ErrorIs(t, walk.Err(), ErrPageLimit)
}

func TestWalk_CancelledContext(t *testing.T) {
	src := &pagedSource{total: 100}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	walk := New(src.fetch, Options{PageSize: 10, Sleeper: &testutil.RecordingSleeper{}})
	seen := 0
	for range walk.Items(ctx) {
		seen++
		if seen == 10 {
			cancel()
		}
	}
	assert.Equal(t, 10, seen)
	assert.True(t, walk.Incomplete())
	assert.True(t, errors.Is(walk.Err(), context.Canceled))
}

func TestWalk_StartCursor(t *testing.T) {
	src := &pagedSource{total: 35}
	walk := New(src.fetch, Options{PageSize: 10, StartCursor: 2, Sleeper: &testutil.RecordingSleeper{}})

	items, _ := walk.Collect(context.Background())
	require.Len(t, items, 15)
	assert.Equal(t, "20", items[0].ID)
}

func TestTopicLister(t *testing.T) {
	fake := testutil.NewFakeForum(t)
	for i := 0; i < 7; i++ {
		fake.AddTopic(fmt.Sprintf("topic %d", i), "1", "q")
	}
	client := fake.NewClient(t, &testutil.RecordingSleeper{})

	walk := New(TopicLister(client), Options{PageSize: 3, Sleeper: &testutil.RecordingSleeper{}})
	items, incomplete := walk.Collect(context.Background())
	assert.False(t, incomplete)
	assert.Len(t, items, 7)
	assert.Equal(t, 3, fake.CountRequests("GET", "/latest.json"))
}
