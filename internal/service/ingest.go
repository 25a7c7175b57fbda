package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Gopher0727/FeaturedFeed/internal/model"
	"github.com/Gopher0727/FeaturedFeed/internal/repository"
	logger "github.com/Gopher0727/FeaturedFeed/middleware/log"
)

// Admission is the result of admitting one event.
type Admission string

const (
	AdmissionSkipped   Admission = "skipped"
	AdmissionQueued    Admission = "queued"
	AdmissionCommitted Admission = "committed"
)

// Notifier delivers approval requests to moderators.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type IIngestService interface {
	AdmitMessage(ctx context.Context, ev model.MessageEvent) (Admission, error)
	AdmitThread(ctx context.Context, ev model.ThreadEvent) (Admission, error)
}

// IngestService routes qualifying events to the pending queue (moderated
// mode) or straight into the feed (auto-publish mode).
type IngestService struct {
	normalizer    *Normalizer
	pending       repository.IPendingRepository
	messages      repository.IMessageRepository
	notifier      Notifier
	moderated     bool
	excerptLength int
	log           *logger.Logger
}

type IngestOptions struct {
	// Moderated sends records through the approval channel first.
	Moderated     bool
	ExcerptLength int
}

func NewIngestService(
	normalizer *Normalizer,
	pending repository.IPendingRepository,
	messages repository.IMessageRepository,
	notifier Notifier,
	opts IngestOptions,
	log *logger.Logger,
) IIngestService {
	if log == nil {
		log = logger.NewNop()
	}
	return &IngestService{
		normalizer:    normalizer,
		pending:       pending,
		messages:      messages,
		notifier:      notifier,
		moderated:     opts.Moderated,
		excerptLength: opts.ExcerptLength,
		log:           log.Named("ingest"),
	}
}

func (s *IngestService) AdmitMessage(ctx context.Context, ev model.MessageEvent) (Admission, error) {
	rec, ok := s.normalizer.FromMessage(ctx, ev)
	if !ok {
		return AdmissionSkipped, nil
	}
	return s.admit(ctx, rec)
}

func (s *IngestService) AdmitThread(ctx context.Context, ev model.ThreadEvent) (Admission, error) {
	rec, ok := s.normalizer.FromThread(ctx, ev)
	if !ok {
		return AdmissionSkipped, nil
	}
	return s.admit(ctx, rec)
}

func (s *IngestService) admit(ctx context.Context, rec model.Record) (Admission, error) {
	if !s.moderated {
		if err := s.messages.Commit(ctx, rec); err != nil {
			return AdmissionSkipped, err
		}
		s.log.InfoContext(ctx, "record committed", zap.String("record_id", rec.ID), zap.String("channel_id", rec.ChannelID))
		return AdmissionCommitted, nil
	}

	// 已上线的记录原地刷新，不再重新送审
	published, err := s.published(ctx, rec)
	if err != nil {
		return AdmissionSkipped, err
	}
	if published {
		if err := s.messages.Commit(ctx, rec); err != nil {
			return AdmissionSkipped, err
		}
		s.log.DebugContext(ctx, "published record refreshed", zap.String("record_id", rec.ID))
		return AdmissionCommitted, nil
	}

	// 先持久化待审核队列，再发送通知
	created, err := s.pending.Enqueue(ctx, rec)
	if err != nil {
		return AdmissionSkipped, err
	}
	if !created {
		s.log.DebugContext(ctx, "pending record refreshed", zap.String("record_id", rec.ID))
		return AdmissionQueued, nil
	}

	if err := s.notifier.Notify(ctx, BuildNotification(rec, s.excerptLength)); err != nil {
		// 通知失败则撤回刚创建的条目；调用方已取消时也要撤回
		if rmErr := s.pending.Remove(context.WithoutCancel(ctx), rec.ID); rmErr != nil {
			s.log.ErrorContext(ctx, "purge pending after failed notify", zap.String("record_id", rec.ID), zap.Error(rmErr))
		}
		if errors.Is(err, model.ErrExternalUnavailable) {
			return AdmissionSkipped, err
		}
		return AdmissionSkipped, fmt.Errorf("notify moderators: %w: %w", model.ErrExternalUnavailable, err)
	}
	s.log.InfoContext(ctx, "record queued for approval", zap.String("record_id", rec.ID))
	return AdmissionQueued, nil
}

func (s *IngestService) published(ctx context.Context, rec model.Record) (bool, error) {
	feed, err := s.messages.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	ch := feed.Get(rec.ChannelID)
	if ch == nil {
		return false, nil
	}
	for _, m := range ch.Messages {
		if m.ID == rec.ID {
			return true, nil
		}
	}
	return false, nil
}
