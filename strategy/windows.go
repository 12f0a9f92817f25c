package strategy

import (
	"time"
)

// PostingWindow 发布时间窗口，小时为当地时间。
type PostingWindow struct {
	Name      string `json:"name"`
	StartHour int    `json:"start_hour"`
	EndHour   int    `json:"end_hour"`
}

// defaultWindows 小红书类平台的经验发布窗口。
var defaultWindows = []PostingWindow{
	{Name: "morning_commute", StartHour: 7, EndHour: 9},
	{Name: "lunch_break", StartHour: 12, EndHour: 14},
	{Name: "evening_peak", StartHour: 19, EndHour: 23},
}

// PostingWindows 返回配置的发布窗口。
func (m *Manager) PostingWindows() []PostingWindow {
	return defaultWindows
}

// InWindow 判断给定时间是否处于任一发布窗口内。
func (m *Manager) InWindow(t time.Time) bool {
	hour := t.Hour()
	for _, w := range defaultWindows {
		if hour >= w.StartHour && hour < w.EndHour {
			return true
		}
	}
	return false
}

// NextWindow 返回不早于给定时间的下一个发布窗口开始时间。
// 若时间已处于窗口内，原样返回。
func (m *Manager) NextWindow(t time.Time) time.Time {
	if m.InWindow(t) {
		return t
	}

	hour := t.Hour()
	for _, w := range defaultWindows {
		if hour < w.StartHour {
			return time.Date(t.Year(), t.Month(), t.Day(), w.StartHour, 0, 0, 0, t.Location())
		}
	}

	// 当天窗口已全部过去，顺延到次日第一个窗口
	next := t.AddDate(0, 0, 1)
	first := defaultWindows[0]
	return time.Date(next.Year(), next.Month(), next.Day(), first.StartHour, 0, 0, 0, t.Location())
}
