package repository

import (
	"slices"

	"github.com/Gopher0727/FeaturedFeed/internal/model"
)

const unknownChannelName = "Unknown"

// Backfill repairs records written before channel_id/channel_name were part
// of the record by copying them from the owning bucket. It mutates feed.
func Backfill(feed *model.Feed) {
	for _, id := range feed.IDs() {
		ch := feed.Get(id)
		name := ch.Name
		if name == "" {
			name = unknownChannelName
		}
		for i := range ch.Messages {
			if ch.Messages[i].ChannelID == "" {
				ch.Messages[i].ChannelID = id
			}
			if ch.Messages[i].ChannelName == "" {
				ch.Messages[i].ChannelName = name
			}
		}
	}
}

type ranked struct {
	channelID string
	record    model.Record
}

// Rerank keeps the capacity records with the latest ranking time across all
// buckets. Ties keep discovery order (bucket order, then position in bucket).
// Buckets are rebuilt in order of first appearance in the ranking, keep their
// previous category, and disappear when they lose every record. A feed at or
// under capacity comes back unchanged. The input is never mutated.
func Rerank(feed *model.Feed, capacity int) *model.Feed {
	if feed.Total() <= capacity {
		return feed.Clone()
	}

	all := make([]ranked, 0, feed.Total())
	for _, id := range feed.IDs() {
		for _, rec := range feed.Get(id).Messages {
			all = append(all, ranked{channelID: id, record: rec.Clone()})
		}
	}
	slices.SortStableFunc(all, func(a, b ranked) int {
		// descending
		return b.record.RankingTime().Compare(a.record.RankingTime())
	})
	if capacity < 0 {
		capacity = 0
	}
	all = all[:capacity]

	out := model.NewFeed()
	for _, r := range all {
		ch := out.Get(r.channelID)
		if ch == nil {
			category := model.DefaultCategory
			if old := feed.Get(r.channelID); old != nil && old.Category != "" {
				category = old.Category
			}
			ch = &model.Channel{Name: r.record.ChannelName, Category: category}
			out.Put(r.channelID, ch)
		}
		ch.Messages = append(ch.Messages, r.record)
	}
	return out
}
