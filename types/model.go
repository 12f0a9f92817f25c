package types

import (
	"encoding/json"
	"time"
)

// ContentStatus tracks a piece of content through its publishing lifecycle.
type ContentStatus string

const (
	ContentDraft     ContentStatus = "draft"
	ContentReviewing ContentStatus = "reviewing"
	ContentScheduled ContentStatus = "scheduled"
	ContentPublished ContentStatus = "published"
	ContentFailed    ContentStatus = "failed"
)

// contentTransitions lists the allowed status transitions.
var contentTransitions = map[ContentStatus][]ContentStatus{
	ContentDraft:     {ContentReviewing, ContentScheduled},
	ContentReviewing: {ContentScheduled, ContentDraft, ContentFailed},
	ContentScheduled: {ContentPublished, ContentFailed},
	ContentPublished: {},
	ContentFailed:    {ContentDraft},
}

// CanTransition reports whether content may move from one status to another.
func (s ContentStatus) CanTransition(to ContentStatus) bool {
	for _, next := range contentTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Content is a post managed by the operations pipeline.
type Content struct {
	ID          string        `json:"id" gorm:"primaryKey;size:64"`
	Title       string        `json:"title" gorm:"size:256"`
	Body        string        `json:"body" gorm:"type:text"`
	Tags        string        `json:"tags" gorm:"size:512"` // comma separated
	Platform    string        `json:"platform" gorm:"size:32;index"`
	Status      ContentStatus `json:"status" gorm:"size:16;index"`
	ScheduleAt  *time.Time    `json:"schedule_at,omitempty"`
	PublishedAt *time.Time    `json:"published_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// InteractionKind classifies an inbound audience interaction.
type InteractionKind string

const (
	InteractionComment  InteractionKind = "comment"
	InteractionLike     InteractionKind = "like"
	InteractionFavorite InteractionKind = "favorite"
	InteractionMessage  InteractionKind = "message"
)

// Interaction is an audience interaction attached to a piece of content.
type Interaction struct {
	ID        string          `json:"id" gorm:"primaryKey;size:64"`
	ContentID string          `json:"content_id" gorm:"size:64;index"`
	Kind      InteractionKind `json:"kind" gorm:"size:16;index"`
	Author    string          `json:"author" gorm:"size:128"`
	Message   string          `json:"message" gorm:"type:text"`
	Reply     string          `json:"reply,omitempty" gorm:"type:text"`
	RepliedAt *time.Time      `json:"replied_at,omitempty"`
	Sentiment string          `json:"sentiment,omitempty" gorm:"size:16"`
	CreatedAt time.Time       `json:"created_at"`
}

// MetricSnapshot is a point-in-time engagement measurement for a content item.
type MetricSnapshot struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	ContentID   string    `json:"content_id" gorm:"size:64;index"`
	Views       int64     `json:"views"`
	Likes       int64     `json:"likes"`
	Comments    int64     `json:"comments"`
	Favorites   int64     `json:"favorites"`
	Shares      int64     `json:"shares"`
	CollectedAt time.Time `json:"collected_at" gorm:"index"`
}

// AnalyticsReport aggregates metric snapshots over a time range.
type AnalyticsReport struct {
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	TotalViews     int64     `json:"total_views"`
	TotalLikes     int64     `json:"total_likes"`
	TotalComments  int64     `json:"total_comments"`
	TotalFavorites int64     `json:"total_favorites"`
	TotalShares    int64     `json:"total_shares"`
	ContentCount   int64     `json:"content_count"`
	EngagementRate float64   `json:"engagement_rate"`
}

// TaskStatus tracks a scheduled task through execution.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskRetrying  TaskStatus = "retrying"
	TaskSucceeded TaskStatus = "succeeded"
	TaskDead      TaskStatus = "dead"
	TaskCanceled  TaskStatus = "canceled"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskSucceeded || s == TaskDead || s == TaskCanceled
}

// Task is a unit of scheduled work persisted for crash recovery.
type Task struct {
	ID         string          `json:"id" gorm:"primaryKey;size:64"`
	Kind       string          `json:"kind" gorm:"size:64;index"`
	Priority   int             `json:"priority" gorm:"index"`
	Status     TaskStatus      `json:"status" gorm:"size:16;index"`
	Payload    json.RawMessage `json:"payload,omitempty" gorm:"type:text"`
	Attempts   int             `json:"attempts"`
	MaxRetries int             `json:"max_retries"`
	NextRunAt  time.Time       `json:"next_run_at" gorm:"index"`
	LastError  string          `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
