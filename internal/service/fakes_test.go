package service

import (
	"context"
	"errors"
	"time"

	"github.com/Gopher0727/FeaturedFeed/internal/model"
	"github.com/Gopher0727/FeaturedFeed/internal/repository"
	"github.com/Gopher0727/FeaturedFeed/internal/storage"
)

var errLookup = errors.New("lookup failed")

type fakeDirectory struct {
	names      map[string]string
	categories map[string]string
	broken     map[string]bool
}

func newDirectory() *fakeDirectory {
	return &fakeDirectory{
		names:      map[string]string{"100": "general", "200": "showcase", "300": "help-forum"},
		categories: map[string]string{"100": "Community", "300": "Support"},
		broken:     map[string]bool{},
	}
}

func (d *fakeDirectory) ChannelName(_ context.Context, id string) (string, error) {
	if d.broken[id] {
		return "", errLookup
	}
	name, ok := d.names[id]
	if !ok {
		return "", errLookup
	}
	return name, nil
}

func (d *fakeDirectory) CategoryName(_ context.Context, id string) (string, error) {
	if d.broken[id] {
		return "", errLookup
	}
	return d.categories[id], nil
}

type fakeNotifier struct {
	sent []Notification
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, note Notification) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, note)
	return nil
}

// hookStore wraps a DocumentStore with per-key save failures and a callback
// after each successful save.
type hookStore struct {
	storage.DocumentStore
	failSave  map[string]error
	afterSave func(key string)
}

func (s *hookStore) Save(ctx context.Context, key string, data []byte) error {
	if err := s.failSave[key]; err != nil {
		return err
	}
	if err := s.DocumentStore.Save(ctx, key, data); err != nil {
		return err
	}
	if s.afterSave != nil {
		s.afterSave(key)
	}
	return nil
}

type fixture struct {
	store      *storage.MemoryStore
	messages   repository.IMessageRepository
	pending    repository.IPendingRepository
	notifier   *fakeNotifier
	dir        *fakeDirectory
	normalizer *Normalizer
}

func newFixture(allowed ...string) *fixture {
	store := storage.NewMemoryStore()
	dir := newDirectory()
	return &fixture{
		store:      store,
		messages:   repository.NewMessageRepository(store, "messages", 4),
		pending:    repository.NewPendingRepository(store, "pending_messages"),
		notifier:   &fakeNotifier{},
		dir:        dir,
		normalizer: NewNormalizer(dir, allowed, "Featured"),
	}
}

// hook routes both repositories through a hookStore over the same documents.
func (f *fixture) hook() *hookStore {
	hs := &hookStore{DocumentStore: f.store, failSave: map[string]error{}}
	f.messages = repository.NewMessageRepository(hs, "messages", 4)
	f.pending = repository.NewPendingRepository(hs, "pending_messages")
	return hs
}

func (f *fixture) ingest(moderated bool) IIngestService {
	return NewIngestService(f.normalizer, f.pending, f.messages, f.notifier, IngestOptions{Moderated: moderated, ExcerptLength: 1000}, nil)
}

func (f *fixture) moderation(mods ...string) IModerationService {
	return NewModerationService(f.pending, f.messages, mods, nil)
}

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func messageEvent(id, channelID string, minute int) model.MessageEvent {
	return model.MessageEvent{
		ID:        id,
		ChannelID: channelID,
		Content:   "hello " + id,
		Author:    model.Author{ID: "u1", Name: "alice", DisplayName: "Alice"},
		Timestamp: t0.Add(time.Duration(minute) * time.Minute),
	}
}
