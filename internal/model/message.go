package model

import (
	"strings"
	"time"
)

// Author 消息作者
type Author struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// Reaction 表情回应
type Reaction struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
}

// Record 规范化后的消息记录（频道消息或论坛帖子的首帖）
type Record struct {
	ID              string     `json:"id"`
	Content         string     `json:"content"`
	Author          Author     `json:"author"`
	ChannelID       string     `json:"channel_id,omitempty"`
	ChannelName     string     `json:"channel_name,omitempty"`
	Timestamp       string     `json:"timestamp"`
	LatestTimestamp string     `json:"latest_timestamp,omitempty"`
	Reactions       []Reaction `json:"reactions"`
	Attachments     []string   `json:"attachments"`

	// 仅论坛帖子
	ThreadName   string   `json:"thread_name,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	MessageCount int      `json:"message_count,omitempty"`

	// 父分类名，仅在首次创建频道桶时使用
	Category string `json:"category,omitempty"`
}

// timeLayouts covers RFC 3339 and the naive ISO-8601 form older documents used.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an ISO-8601 timestamp. Naive values are taken as UTC.
func ParseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatTimestamp renders t the way records store it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// RankingTime 排序时间：优先 latest_timestamp，否则 timestamp；无法解析时为零值
func (r *Record) RankingTime() time.Time {
	if r.LatestTimestamp != "" {
		if t, ok := ParseTimestamp(r.LatestTimestamp); ok {
			return t
		}
	}
	t, _ := ParseTimestamp(r.Timestamp)
	return t
}

// IsThread reports whether the record came from a forum thread.
func (r *Record) IsThread() bool {
	return r.MessageCount > 0
}

// Valid reports whether the record can be committed to the feed.
func (r *Record) Valid() bool {
	return r.ChannelID != ""
}

// Clone returns a deep copy so callers never share slices with stored state.
func (r Record) Clone() Record {
	out := r
	if r.Reactions != nil {
		out.Reactions = append([]Reaction(nil), r.Reactions...)
	}
	if r.Attachments != nil {
		out.Attachments = append([]string(nil), r.Attachments...)
	}
	if r.Tags != nil {
		out.Tags = append([]string(nil), r.Tags...)
	}
	return out
}
