package service

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/Gopher0727/FeaturedFeed/internal/model"
	"github.com/Gopher0727/FeaturedFeed/utils/snowflake"
)

// Unknown replaces any field whose context lookup failed.
const Unknown = "Unknown"

var channelMention = regexp.MustCompile(`<#(\d+)>`)

// ChannelDirectory resolves guild channel metadata.
type ChannelDirectory interface {
	// ChannelName returns the display name of a channel or forum.
	ChannelName(ctx context.Context, channelID string) (string, error)
	// CategoryName returns the name of the category the channel sits in,
	// or "" when it has none.
	CategoryName(ctx context.Context, channelID string) (string, error)
}

// Normalizer turns platform events into feed records.
type Normalizer struct {
	dir         ChannelDirectory
	allowed     map[string]struct{}
	featuredTag string
	now         func() time.Time
}

// NewNormalizer builds a normalizer. An empty allowed list admits every channel.
func NewNormalizer(dir ChannelDirectory, allowed []string, featuredTag string) *Normalizer {
	set := make(map[string]struct{}, len(allowed))
	for _, id := range allowed {
		set[id] = struct{}{}
	}
	return &Normalizer{dir: dir, allowed: set, featuredTag: featuredTag, now: time.Now}
}

// Allowed reports whether channelID passes the allow-list.
func (n *Normalizer) Allowed(channelID string) bool {
	if len(n.allowed) == 0 {
		return true
	}
	_, ok := n.allowed[channelID]
	return ok
}

// FromMessage normalizes a chat message. ok is false when the channel does
// not qualify.
func (n *Normalizer) FromMessage(ctx context.Context, ev model.MessageEvent) (model.Record, bool) {
	if !n.Allowed(ev.ChannelID) {
		return model.Record{}, false
	}

	name := ev.ChannelName
	if name == "" {
		name = n.channelName(ctx, ev.ChannelID)
	}

	return model.Record{
		ID:          ev.ID,
		Content:     n.ExpandMentions(ctx, ev.Content),
		Author:      ev.Author,
		ChannelID:   ev.ChannelID,
		ChannelName: name,
		Timestamp:   n.createdAt(ev.ID, ev.Timestamp),
		Reactions:   copyReactions(ev.Reactions),
		Attachments: copyStrings(ev.Attachments),
		Category:    n.categoryName(ctx, ev.ChannelID),
	}, true
}

// FromThread normalizes a forum thread from its opening post. Threads not
// carrying the featured tag, or whose forum is not allowed, are skipped.
func (n *Normalizer) FromThread(ctx context.Context, ev model.ThreadEvent) (model.Record, bool) {
	if !n.Allowed(ev.ParentID) {
		return model.Record{}, false
	}
	tags, featured := n.splitTags(ev.Tags)
	if !featured {
		return model.Record{}, false
	}

	rec := model.Record{
		ID:           ev.ID,
		Author:       model.Author{ID: Unknown, Name: Unknown, DisplayName: Unknown},
		Content:      Unknown,
		ChannelID:    ev.ParentID,
		ChannelName:  n.channelName(ctx, ev.ParentID),
		Timestamp:    n.createdAt(ev.ID, ev.CreatedAt),
		Reactions:    []model.Reaction{},
		Attachments:  []string{},
		ThreadName:   ev.Name,
		Tags:         tags,
		MessageCount: max(ev.MessageCount, 0) + 1,
		Category:     n.categoryName(ctx, ev.ParentID),
	}
	if ev.Opening != nil {
		rec.Author = ev.Opening.Author
		rec.Content = n.ExpandMentions(ctx, ev.Opening.Content)
		rec.Reactions = copyReactions(ev.Opening.Reactions)
		rec.Attachments = copyStrings(ev.Opening.Attachments)
	}

	switch {
	case !ev.LastActivity.IsZero():
		rec.LatestTimestamp = model.FormatTimestamp(ev.LastActivity)
	case ev.LastMessageID != "":
		if t, err := snowflake.Time(ev.LastMessageID); err == nil {
			rec.LatestTimestamp = model.FormatTimestamp(t)
		}
	}
	return rec, true
}

// ExpandMentions rewrites <#id> placeholders to #name. Placeholders that do
// not resolve are left as they are.
func (n *Normalizer) ExpandMentions(ctx context.Context, content string) string {
	if !strings.Contains(content, "<#") {
		return content
	}
	return channelMention.ReplaceAllStringFunc(content, func(m string) string {
		id := channelMention.FindStringSubmatch(m)[1]
		name, err := n.dir.ChannelName(ctx, id)
		if err != nil || name == "" {
			return m
		}
		return "#" + name
	})
}

// splitTags canonicalizes tag refs to names, drops the featured tag and
// reports whether it was present.
func (n *Normalizer) splitTags(refs []model.TagRef) ([]string, bool) {
	tags := []string{}
	seen := make(map[string]struct{}, len(refs))
	featured := false
	for _, ref := range refs {
		name := strings.TrimSpace(ref.Name)
		if name == "" {
			name = strings.TrimSpace(ref.ID)
		}
		if name == "" {
			continue
		}
		if strings.EqualFold(name, n.featuredTag) {
			featured = true
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		tags = append(tags, name)
	}
	return tags, featured
}

func (n *Normalizer) channelName(ctx context.Context, channelID string) string {
	name, err := n.dir.ChannelName(ctx, channelID)
	if err != nil || name == "" {
		return Unknown
	}
	return name
}

func (n *Normalizer) categoryName(ctx context.Context, channelID string) string {
	name, err := n.dir.CategoryName(ctx, channelID)
	if err != nil {
		return Unknown
	}
	return name
}

// createdAt prefers the event time, then the id's embedded time, then now.
func (n *Normalizer) createdAt(id string, at time.Time) string {
	if !at.IsZero() {
		return model.FormatTimestamp(at)
	}
	if t, err := snowflake.Time(id); err == nil {
		return model.FormatTimestamp(t)
	}
	return model.FormatTimestamp(n.now())
}

func copyReactions(in []model.Reaction) []model.Reaction {
	return append([]model.Reaction{}, in...)
}

func copyStrings(in []string) []string {
	return append([]string{}, in...)
}
