package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/FeaturedFeed/internal/model"
	"github.com/Gopher0727/FeaturedFeed/internal/storage"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func record(id, channelID string, minute int) model.Record {
	return model.Record{
		ID:          id,
		Content:     "content " + id,
		Author:      model.Author{ID: "u1", Name: "alice", DisplayName: "Alice"},
		ChannelID:   channelID,
		ChannelName: "chan-" + channelID,
		Timestamp:   model.FormatTimestamp(base.Add(time.Duration(minute) * time.Minute)),
		Reactions:   []model.Reaction{},
		Attachments: []string{},
	}
}

func ids(feed *model.Feed) []string {
	var out []string
	for _, r := range feed.Records() {
		out = append(out, r.ID)
	}
	return out
}

func newMessageRepo(t *testing.T, capacity int) (IMessageRepository, *storage.MemoryStore) {
	t.Helper()
	s := storage.NewMemoryStore()
	return NewMessageRepository(s, "messages", capacity), s
}

func snapshot(t *testing.T, repo IMessageRepository) *model.Feed {
	t.Helper()
	feed, err := repo.Snapshot(context.Background())
	require.NoError(t, err)
	return feed
}
