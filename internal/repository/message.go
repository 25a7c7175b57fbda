package repository

import (
	"context"
	"fmt"

	"github.com/Gopher0727/FeaturedFeed/internal/model"
	"github.com/Gopher0727/FeaturedFeed/internal/storage"
)

type IMessageRepository interface {
	// Commit adds rec to the feed and re-ranks it down to capacity.
	Commit(ctx context.Context, rec model.Record) error
	// Snapshot returns the persisted feed.
	Snapshot(ctx context.Context) (*model.Feed, error)
}

type MessageRepository struct {
	store    storage.DocumentStore
	key      string
	capacity int
}

func NewMessageRepository(store storage.DocumentStore, key string, capacity int) IMessageRepository {
	return &MessageRepository{store: store, key: key, capacity: capacity}
}

func (r *MessageRepository) Snapshot(ctx context.Context) (*model.Feed, error) {
	feed := model.NewFeed()
	if _, err := storage.LoadJSON(ctx, r.store, r.key, feed); err != nil {
		return nil, fmt.Errorf("load feed: %w: %w", model.ErrExternalUnavailable, err)
	}
	return feed, nil
}

func (r *MessageRepository) Commit(ctx context.Context, rec model.Record) error {
	if !rec.Valid() {
		return fmt.Errorf("%w: record %q has no channel_id", model.ErrInvalidRecord, rec.ID)
	}

	// 每次写入前重新加载最新快照
	feed, err := r.Snapshot(ctx)
	if err != nil {
		return err
	}
	Backfill(feed)

	ch := feed.Get(rec.ChannelID)
	if ch == nil {
		name := rec.ChannelName
		if name == "" {
			name = unknownChannelName
		}
		category := rec.Category
		if category == "" {
			category = model.DefaultCategory
		}
		ch = &model.Channel{Name: name, Category: category}
		feed.Put(rec.ChannelID, ch)
	}

	// 同一 id 重复提交时原地替换，保持幂等
	replaced := false
	for i := range ch.Messages {
		if ch.Messages[i].ID == rec.ID {
			ch.Messages[i] = rec.Clone()
			replaced = true
			break
		}
	}
	if !replaced {
		ch.Messages = append(ch.Messages, rec.Clone())
	}

	feed = Rerank(feed, r.capacity)

	if err := storage.SaveJSON(ctx, r.store, r.key, feed); err != nil {
		return fmt.Errorf("save feed: %w: %w", model.ErrExternalUnavailable, err)
	}
	return nil
}
