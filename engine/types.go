package engine

import "time"

// Requirement 是对用户运营诉求的结构化理解结果。
type Requirement struct {
	Intent   string   `json:"intent"`
	Audience string   `json:"audience"`
	Platform string   `json:"platform"`
	Topics   []string `json:"topics"`
	Tone     string   `json:"tone"`
}

// Strategy 内容运营策略
type Strategy struct {
	Positioning      string   `json:"positioning"`
	ContentPillars   []string `json:"content_pillars"`
	PostingFrequency string   `json:"posting_frequency"`
	TargetTopics     []string `json:"target_topics"`
	Notes            string   `json:"notes,omitempty"`
}

// TaskSpec 由策略派生出的待调度任务。
type TaskSpec struct {
	Kind         string `json:"kind"`
	Title        string `json:"title"`
	Priority     int    `json:"priority"`
	ScheduleHint string `json:"schedule_hint,omitempty"` // asap, next_window, daily
}

// Brief 单篇内容的创作指引。
type Brief struct {
	Topic    string   `json:"topic"`
	Audience string   `json:"audience"`
	Tone     string   `json:"tone"`
	Keywords []string `json:"keywords,omitempty"`
	Platform string   `json:"platform,omitempty"`
}

// Draft 生成的内容草稿。
type Draft struct {
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Tags  []string `json:"tags"`
}

// SentimentResult 情感分析结果。
type SentimentResult struct {
	Sentiment string  `json:"sentiment"` // positive, neutral, negative
	Score     float64 `json:"score"`     // [-1, 1]
	Reason    string  `json:"reason,omitempty"`
}

// Usage 一次引擎调用的资源消耗。
type Usage struct {
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	Duration         time.Duration `json:"duration"`
}
