package repository

import (
	"context"
	"fmt"
	"slices"

	"github.com/Gopher0727/FeaturedFeed/internal/model"
	"github.com/Gopher0727/FeaturedFeed/internal/storage"
)

type IPendingRepository interface {
	// Enqueue adds rec keyed by its id. An id already pending has its record
	// replaced in place and created is false.
	Enqueue(ctx context.Context, rec model.Record) (created bool, err error)
	// Take removes and returns the entry for messageID together with the
	// position it held. Unknown ids yield ErrNotFound.
	Take(ctx context.Context, messageID string) (model.PendingEntry, int, error)
	// Restore puts a taken entry back at position at. It is a no-op when the
	// id has been queued again in the meantime.
	Restore(ctx context.Context, entry model.PendingEntry, at int) error
	// Remove drops every listed id that is still pending and persists once.
	Remove(ctx context.Context, messageIDs ...string) error
	List(ctx context.Context) ([]model.PendingEntry, error)
	Count(ctx context.Context) (int, error)
}

type PendingRepository struct {
	store storage.DocumentStore
	key   string
}

func NewPendingRepository(store storage.DocumentStore, key string) IPendingRepository {
	return &PendingRepository{store: store, key: key}
}

func (r *PendingRepository) load(ctx context.Context) (*model.PendingQueue, error) {
	var q model.PendingQueue
	if _, err := storage.LoadJSON(ctx, r.store, r.key, &q); err != nil {
		return nil, fmt.Errorf("load pending: %w: %w", model.ErrExternalUnavailable, err)
	}
	return &q, nil
}

func (r *PendingRepository) save(ctx context.Context, q *model.PendingQueue) error {
	if err := storage.SaveJSON(ctx, r.store, r.key, q); err != nil {
		return fmt.Errorf("save pending: %w: %w", model.ErrExternalUnavailable, err)
	}
	return nil
}

func (r *PendingRepository) Enqueue(ctx context.Context, rec model.Record) (bool, error) {
	q, err := r.load(ctx)
	if err != nil {
		return false, err
	}
	created := true
	if i := q.Index(rec.ID); i >= 0 {
		q.Pending[i].Record = rec.Clone()
		created = false
	} else {
		q.Pending = append(q.Pending, model.PendingEntry{MessageID: rec.ID, Record: rec.Clone()})
	}
	if err := r.save(ctx, q); err != nil {
		return false, err
	}
	return created, nil
}

func (r *PendingRepository) Take(ctx context.Context, messageID string) (model.PendingEntry, int, error) {
	q, err := r.load(ctx)
	if err != nil {
		return model.PendingEntry{}, -1, err
	}
	i := q.Index(messageID)
	if i < 0 {
		return model.PendingEntry{}, -1, fmt.Errorf("pending %q: %w", messageID, model.ErrNotFound)
	}
	entry := q.Pending[i]
	q.Pending = slices.Delete(q.Pending, i, i+1)
	if err := r.save(ctx, q); err != nil {
		return model.PendingEntry{}, -1, err
	}
	return entry, i, nil
}

func (r *PendingRepository) Restore(ctx context.Context, entry model.PendingEntry, at int) error {
	q, err := r.load(ctx)
	if err != nil {
		return err
	}
	if q.Index(entry.MessageID) >= 0 {
		return nil
	}
	at = min(max(at, 0), len(q.Pending))
	entry.Record = entry.Record.Clone()
	q.Pending = slices.Insert(q.Pending, at, entry)
	return r.save(ctx, q)
}

func (r *PendingRepository) Remove(ctx context.Context, messageIDs ...string) error {
	q, err := r.load(ctx)
	if err != nil {
		return err
	}
	drop := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		drop[id] = struct{}{}
	}
	kept := q.Pending[:0]
	for _, e := range q.Pending {
		if _, ok := drop[e.MessageID]; !ok {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(q.Pending) {
		return nil
	}
	q.Pending = kept
	return r.save(ctx, q)
}

func (r *PendingRepository) List(ctx context.Context) ([]model.PendingEntry, error) {
	q, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return q.Pending, nil
}

func (r *PendingRepository) Count(ctx context.Context) (int, error) {
	q, err := r.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(q.Pending), nil
}
