package feed

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Gopher0727/FeaturedFeed/internal/model"
)

// AbsoluteLayout 网页上展示的绝对时间格式
const AbsoluteLayout = "Monday, 02 January 2006 at 15:04:05"

const defaultTag = "Discussion"

var hashtagPattern = regexp.MustCompile(`#(\w+)`)

// Discussion is one entry of the public feed.
type Discussion struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Content       string   `json:"content"`
	Author        string   `json:"author"`
	Channel       string   `json:"channel"`
	MessageCount  int      `json:"message_count"`
	ReactionCount int      `json:"reaction_count"`
	TimeAgo       string   `json:"time_ago"`
	Timestamp     string   `json:"timestamp"`
	DiscordURL    string   `json:"discord_url"`
	Tags          []string `json:"tags"`
}

// Discussions is the /api/discussions document.
type Discussions struct {
	Discussions []Discussion `json:"discussions"`
}

// BuildDiscussions flattens the feed, orders it newest first and keeps at
// most limit entries. A non-positive limit keeps everything.
func BuildDiscussions(f *model.Feed, guildID string, limit int, now time.Time) Discussions {
	out := Discussions{Discussions: []Discussion{}}
	if f == nil {
		return out
	}

	type entry struct {
		rec      model.Record
		category string
	}
	var entries []entry
	for _, id := range f.IDs() {
		ch := f.Get(id)
		for _, rec := range ch.Messages {
			if rec.ChannelID == "" {
				rec.ChannelID = id
			}
			if rec.ChannelName == "" {
				rec.ChannelName = ch.Name
			}
			entries = append(entries, entry{rec: rec, category: ch.Category})
		}
	}
	slices.SortStableFunc(entries, func(a, b entry) int {
		return b.rec.RankingTime().Compare(a.rec.RankingTime())
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	for _, e := range entries {
		out.Discussions = append(out.Discussions, newDiscussion(e.rec, e.category, guildID, now))
	}
	return out
}

func newDiscussion(rec model.Record, category, guildID string, now time.Time) Discussion {
	d := Discussion{
		ID:            rec.ID,
		Title:         Title(rec),
		Content:       rec.Content,
		Author:        authorName(rec.Author),
		Channel:       rec.ChannelName,
		MessageCount:  rec.MessageCount,
		ReactionCount: ReactionCount(rec.Reactions),
		DiscordURL:    DeepLink(guildID, rec.ChannelID, rec.ID),
		Tags:          Tags(rec, category),
	}
	if d.MessageCount < 1 {
		d.MessageCount = 1
	}
	if t := rec.RankingTime(); !t.IsZero() {
		d.TimeAgo = humanize.RelTime(t, now, "ago", "from now")
		d.Timestamp = t.UTC().Format(AbsoluteLayout)
	}
	return d
}

// Title 帖子名优先，否则为 "Discussion in #频道"
func Title(rec model.Record) string {
	if rec.ThreadName != "" {
		return rec.ThreadName
	}
	return "Discussion in #" + rec.ChannelName
}

// Tags collects the bucket category, the record's own tags and any #hashtags
// in the content, without duplicates. A record with none gets "Discussion".
func Tags(rec model.Record, category string) []string {
	var tags []string
	seen := make(map[string]struct{})
	add := func(tag string) {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			return
		}
		key := strings.ToLower(tag)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		tags = append(tags, tag)
	}

	if category != model.DefaultCategory && category != "Unknown" {
		add(category)
	}
	for _, tag := range rec.Tags {
		add(tag)
	}
	for _, m := range hashtagPattern.FindAllStringSubmatch(rec.Content, -1) {
		add(m[1])
	}
	if len(tags) == 0 {
		tags = []string{defaultTag}
	}
	return tags
}

// ReactionCount sums the counts of every emoji.
func ReactionCount(reactions []model.Reaction) int {
	total := 0
	for _, r := range reactions {
		total += r.Count
	}
	return total
}

// DeepLink builds the discord.com jump URL for a message.
func DeepLink(guildID, channelID, messageID string) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)
}

func authorName(a model.Author) string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Name
}
