package service

import (
	"strings"

	"github.com/Gopher0727/FeaturedFeed/internal/model"
)

const (
	NotificationTitle = "New message for approval"
	// correlationMarker precedes the record id in the notification footer.
	correlationMarker = "ID: "
)

// Field is one name/value pair of a notification.
type Field struct {
	Name  string
	Value string
}

// Notification is what moderators see for a queued record.
type Notification struct {
	RecordID    string
	Title       string
	Description string
	Fields      []Field
	Footer      string
}

// BuildNotification summarizes rec for the moderation channel. The footer
// carries the correlation token replies are matched against.
func BuildNotification(rec model.Record, excerptLength int) Notification {
	author := rec.Author.DisplayName
	if author == "" {
		author = rec.Author.Name
	}
	channel := "#" + rec.ChannelName
	if rec.ThreadName != "" {
		channel += " › " + rec.ThreadName
	}
	return Notification{
		RecordID:    rec.ID,
		Title:       NotificationTitle,
		Description: "**Content:** " + Excerpt(rec.Content, excerptLength),
		Fields: []Field{
			{Name: "Author", Value: author},
			{Name: "Channel", Value: channel},
		},
		Footer: "Reply with 'y' to approve or 'n' to reject | " + correlationMarker + rec.ID,
	}
}

// Excerpt cuts s to limit characters and appends "..." when it had to cut.
func Excerpt(s string, limit int) string {
	r := []rune(s)
	if limit <= 0 || len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}

// ParseCorrelationToken recovers the record id from a notification footer.
func ParseCorrelationToken(footer string) (string, bool) {
	i := strings.LastIndex(footer, correlationMarker)
	if i < 0 {
		return "", false
	}
	id := strings.TrimSpace(footer[i+len(correlationMarker):])
	if id == "" {
		return "", false
	}
	return id, true
}
