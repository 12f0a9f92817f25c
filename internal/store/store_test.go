package store

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/socialflow/types"
)

func newTestStores(t *testing.T) *Stores {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	s, err := NewStores(db)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestContentStore_CRUD(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()

	content := &types.Content{
		ID:       "c1",
		Title:    "秋冬护肤指南",
		Body:     "干皮姐妹看过来",
		Tags:     "护肤,秋冬",
		Platform: "xiaohongshu",
	}
	require.NoError(t, s.Contents.Create(ctx, content))
	assert.Equal(t, types.ContentDraft, content.Status)

	got, err := s.Contents.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "秋冬护肤指南", got.Title)

	_, err = s.Contents.Get(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, types.ErrContentNotFound, types.GetErrorCode(err))
}

func TestContentStore_ListAndSearch(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()

	for _, c := range []*types.Content{
		{ID: "c1", Title: "秋冬护肤指南", Platform: "xiaohongshu", Status: types.ContentDraft},
		{ID: "c2", Title: "咖啡店探店", Platform: "xiaohongshu", Status: types.ContentPublished},
		{ID: "c3", Title: "护肤踩雷合集", Platform: "weibo", Status: types.ContentDraft},
	} {
		require.NoError(t, s.Contents.Create(ctx, c))
	}

	contents, total, err := s.Contents.List(ctx, ContentFilter{Status: types.ContentDraft})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, contents, 2)

	contents, total, err = s.Contents.List(ctx, ContentFilter{Keyword: "护肤"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	contents, total, err = s.Contents.List(ctx, ContentFilter{Platform: "weibo"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "c3", contents[0].ID)
}

func TestContentStore_UpdateStatus(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()

	require.NoError(t, s.Contents.Create(ctx, &types.Content{ID: "c1", Status: types.ContentDraft}))

	require.NoError(t, s.Contents.UpdateStatus(ctx, "c1", types.ContentScheduled))
	require.NoError(t, s.Contents.UpdateStatus(ctx, "c1", types.ContentPublished))

	got, err := s.Contents.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, types.ContentPublished, got.Status)
	require.NotNil(t, got.PublishedAt)

	// published 是终态
	err = s.Contents.UpdateStatus(ctx, "c1", types.ContentDraft)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidTransition, types.GetErrorCode(err))
}

func TestContentStore_DueScheduled(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	require.NoError(t, s.Contents.Create(ctx, &types.Content{ID: "due", Status: types.ContentScheduled, ScheduleAt: &past}))
	require.NoError(t, s.Contents.Create(ctx, &types.Content{ID: "later", Status: types.ContentScheduled, ScheduleAt: &future}))

	due, err := s.Contents.DueScheduled(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "due", due[0].ID)
}

func TestInteractionStore_ReplyFlow(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()

	require.NoError(t, s.Interactions.Create(ctx, &types.Interaction{
		ID: "i1", ContentID: "c1", Kind: types.InteractionComment, Author: "小红", Message: "求链接！",
	}))
	require.NoError(t, s.Interactions.Create(ctx, &types.Interaction{
		ID: "i2", ContentID: "c1", Kind: types.InteractionLike, Author: "小明",
	}))

	unreplied, total, err := s.Interactions.List(ctx, InteractionFilter{ContentID: "c1", Unreplied: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, unreplied, 2)

	require.NoError(t, s.Interactions.SaveReply(ctx, "i1", "已私信你啦～"))
	require.NoError(t, s.Interactions.SetSentiment(ctx, "i1", "positive"))

	got, err := s.Interactions.Get(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, "已私信你啦～", got.Reply)
	assert.Equal(t, "positive", got.Sentiment)
	require.NotNil(t, got.RepliedAt)

	_, total, err = s.Interactions.List(ctx, InteractionFilter{ContentID: "c1", Unreplied: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	err = s.Interactions.SaveReply(ctx, "missing", "x")
	require.Error(t, err)
	assert.Equal(t, types.ErrInteractionNotFound, types.GetErrorCode(err))
}

func TestAnalyticsStore_Report(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// c1 有两次快照，报告只取最新一次
	require.NoError(t, s.Analytics.RecordSnapshot(ctx, &types.MetricSnapshot{
		ContentID: "c1", Views: 100, Likes: 10, CollectedAt: base,
	}))
	require.NoError(t, s.Analytics.RecordSnapshot(ctx, &types.MetricSnapshot{
		ContentID: "c1", Views: 200, Likes: 30, Comments: 10, CollectedAt: base.Add(time.Hour),
	}))
	require.NoError(t, s.Analytics.RecordSnapshot(ctx, &types.MetricSnapshot{
		ContentID: "c2", Views: 300, Likes: 20, Favorites: 20, CollectedAt: base.Add(2 * time.Hour),
	}))

	report, err := s.Analytics.Report(ctx, base.Add(-time.Hour), base.Add(3*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, int64(500), report.TotalViews)
	assert.Equal(t, int64(50), report.TotalLikes)
	assert.Equal(t, int64(10), report.TotalComments)
	assert.Equal(t, int64(20), report.TotalFavorites)
	assert.Equal(t, int64(2), report.ContentCount)
	assert.InDelta(t, 0.16, report.EngagementRate, 0.0001)

	latest, err := s.Analytics.LatestSnapshot(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), latest.Views)
}

func TestTaskStore_DueOrdering(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, s.Tasks.Create(ctx, &types.Task{
		ID: "low", Kind: "publish_content", Priority: 1, NextRunAt: now.Add(-2 * time.Minute),
	}))
	require.NoError(t, s.Tasks.Create(ctx, &types.Task{
		ID: "high", Kind: "publish_content", Priority: 9, NextRunAt: now.Add(-time.Minute),
	}))
	require.NoError(t, s.Tasks.Create(ctx, &types.Task{
		ID: "future", Kind: "publish_content", Priority: 9, NextRunAt: now.Add(time.Hour),
	}))

	due, err := s.Tasks.Due(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "high", due[0].ID)
	assert.Equal(t, "low", due[1].ID)
}

func TestTaskStore_RecoverRunning(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()

	require.NoError(t, s.Tasks.Create(ctx, &types.Task{ID: "t1", Kind: "reply", Status: types.TaskRunning}))
	require.NoError(t, s.Tasks.Create(ctx, &types.Task{ID: "t2", Kind: "reply", Status: types.TaskSucceeded}))

	n, err := s.Tasks.RecoverRunning(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.Tasks.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskPending, got.Status)
}

func TestTaskStore_Reschedule(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()

	require.NoError(t, s.Tasks.Create(ctx, &types.Task{ID: "t1", Kind: "collect_metrics", MaxRetries: 3}))

	next := time.Now().Add(30 * time.Second)
	require.NoError(t, s.Tasks.Reschedule(ctx, "t1", 1, next, "upstream timeout"))

	got, err := s.Tasks.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskRetrying, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "upstream timeout", got.LastError)
}
