package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gopher0727/FeaturedFeed/internal/metrics"
	"github.com/Gopher0727/FeaturedFeed/internal/model"
	"github.com/Gopher0727/FeaturedFeed/internal/repository"
	"github.com/Gopher0727/FeaturedFeed/internal/service"
	"github.com/Gopher0727/FeaturedFeed/internal/storage"
)

const approvalChannel = "999"

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type directory struct{}

func (directory) ChannelName(_ context.Context, id string) (string, error) {
	switch id {
	case "100":
		return "general", nil
	case "300":
		return "help-forum", nil
	}
	return "", errors.New("unknown channel")
}

func (directory) CategoryName(_ context.Context, id string) (string, error) {
	if id == "300" {
		return "Support", nil
	}
	return "", nil
}

type sentMessage struct {
	channelID string
	content   string
}

// platform plays the chat service: it stores notifications so replies can
// reference them and records every plain message sent back.
type platform struct {
	footers    map[string]string
	sent       []sentMessage
	notifyErr  error
	footerHits int
}

func newPlatform() *platform {
	return &platform{footers: map[string]string{}}
}

func (p *platform) Notify(_ context.Context, n service.Notification) error {
	if p.notifyErr != nil {
		return p.notifyErr
	}
	p.footers["notice-"+n.RecordID] = n.Footer
	return nil
}

func (p *platform) Send(_ context.Context, channelID, content string) error {
	p.sent = append(p.sent, sentMessage{channelID: channelID, content: content})
	return nil
}

func (p *platform) ReferencedFooter(_ context.Context, _ string, messageID string) (string, error) {
	p.footerHits++
	footer, ok := p.footers[messageID]
	if !ok {
		return "", fmt.Errorf("message %s: %w", messageID, model.ErrNotFound)
	}
	return footer, nil
}

func (p *platform) replies() []string {
	out := make([]string, 0, len(p.sent))
	for _, m := range p.sent {
		out = append(out, m.content)
	}
	return out
}

type harness struct {
	platform   *platform
	messages   repository.IMessageRepository
	pending    repository.IPendingRepository
	moderation service.IModerationService
	metrics    *metrics.Metrics
	events     *EventHandler
}

func newHarness(moderated bool) *harness {
	store := storage.NewMemoryStore()
	h := &harness{
		platform: newPlatform(),
		messages: repository.NewMessageRepository(store, "messages", 4),
		pending:  repository.NewPendingRepository(store, "pending_messages"),
		metrics:  metrics.New(),
	}
	normalizer := service.NewNormalizer(directory{}, nil, "Featured")
	ingest := service.NewIngestService(normalizer, h.pending, h.messages, h.platform,
		service.IngestOptions{Moderated: moderated, ExcerptLength: 1000}, nil)
	h.moderation = service.NewModerationService(h.pending, h.messages, []string{"mod"}, nil)

	cfg := EventHandlerConfig{}
	if moderated {
		cfg.ApprovalChannelID = approvalChannel
	}
	h.events = NewEventHandler(ingest, h.moderation, h.platform, cfg, h.metrics, nil)
	return h
}

func chat(id, channelID string, minute int) model.MessageEvent {
	return model.MessageEvent{
		ID:        id,
		ChannelID: channelID,
		Content:   "hello " + id,
		Author:    model.Author{ID: "u1", Name: "alice"},
		Timestamp: t0.Add(time.Duration(minute) * time.Minute),
	}
}

func reply(id, content, referenced, authorID string) model.MessageEvent {
	return model.MessageEvent{
		ID:                  id,
		ChannelID:           approvalChannel,
		Content:             content,
		Author:              model.Author{ID: authorID},
		Timestamp:           t0,
		ReferencedMessageID: referenced,
	}
}

func command(channelID, content, authorID string) model.MessageEvent {
	return model.MessageEvent{ID: "cmd", ChannelID: channelID, Content: content, Author: model.Author{ID: authorID}, Timestamp: t0}
}

func (h *harness) status(ctx context.Context) service.Status {
	st, err := h.moderation.Status(ctx)
	if err != nil {
		panic(err)
	}
	return st
}
