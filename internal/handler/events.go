package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Gopher0727/FeaturedFeed/internal/metrics"
	"github.com/Gopher0727/FeaturedFeed/internal/model"
	"github.com/Gopher0727/FeaturedFeed/internal/service"
	logger "github.com/Gopher0727/FeaturedFeed/middleware/log"
)

// Event kinds, shared with the Kafka relay envelope.
const (
	KindMessageCreated = "message_created"
	KindThreadCreated  = "thread_created"
	KindThreadUpdated  = "thread_updated"
)

// Bot replies.
const (
	MsgApproved         = "✅ Message approved and added to website."
	MsgRejected         = "❌ Message rejected and discarded."
	MsgNoPermission     = "You don't have permission to use this command."
	MsgNothingToApprove = "No pending messages to approve."
	MsgCommandFailed    = "Something went wrong, please try again."
)

// Responder talks back to the platform.
type Responder interface {
	// Send posts a plain text message to a channel.
	Send(ctx context.Context, channelID, content string) error
	// ReferencedFooter returns the first embed footer of the message a reply points to.
	ReferencedFooter(ctx context.Context, channelID, messageID string) (string, error)
}

type EventHandlerConfig struct {
	ApprovalChannelID string
	CommandPrefix     string
}

// EventHandler routes platform events: moderator replies to the resolver,
// commands to their handlers, everything else to ingestion. Callers must
// invoke it from a single goroutine.
type EventHandler struct {
	ingest     service.IIngestService
	moderation service.IModerationService
	responder  Responder
	cfg        EventHandlerConfig
	metrics    *metrics.Metrics
	log        *logger.Logger
}

func NewEventHandler(
	ingest service.IIngestService,
	moderation service.IModerationService,
	responder Responder,
	cfg EventHandlerConfig,
	m *metrics.Metrics,
	log *logger.Logger,
) *EventHandler {
	if log == nil {
		log = logger.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = "!"
	}
	return &EventHandler{
		ingest:     ingest,
		moderation: moderation,
		responder:  responder,
		cfg:        cfg,
		metrics:    m,
		log:        log.Named("events"),
	}
}

// HandleMessage processes one message-created event. The returned error is
// only non-nil for failures worth retrying upstream.
func (h *EventHandler) HandleMessage(ctx context.Context, ev model.MessageEvent) error {
	if ev.FromSelf {
		return nil
	}
	ctx, log := h.log.ForEvent(ctx, KindMessageCreated, ev.ID)

	approvalChannel := h.cfg.ApprovalChannelID != "" && ev.ChannelID == h.cfg.ApprovalChannelID
	if approvalChannel && ev.ReferencedMessageID != "" {
		return h.handleReply(ctx, log, ev)
	}
	if cmd, ok := h.command(ev.Content); ok {
		return h.handleCommand(ctx, log, ev, cmd)
	}
	if approvalChannel {
		return nil
	}

	admission, err := h.ingest.AdmitMessage(ctx, ev)
	return h.afterAdmit(ctx, log, KindMessageCreated, admission, err)
}

// HandleThread processes a thread-created or thread-updated event.
func (h *EventHandler) HandleThread(ctx context.Context, kind string, ev model.ThreadEvent) error {
	ctx, log := h.log.ForEvent(ctx, kind, ev.ID)
	admission, err := h.ingest.AdmitThread(ctx, ev)
	return h.afterAdmit(ctx, log, kind, admission, err)
}

func (h *EventHandler) afterAdmit(ctx context.Context, log *logger.Logger, kind string, admission service.Admission, err error) error {
	if err != nil {
		h.metrics.EventErrors.WithLabelValues(errorClass(err)).Inc()
		if errors.Is(err, model.ErrInvalidRecord) {
			log.Warn("record dropped", zap.Error(err))
			return nil
		}
		log.Error("admit failed", zap.Error(err))
		return err
	}
	h.metrics.Events.WithLabelValues(kind, string(admission)).Inc()
	if admission != service.AdmissionSkipped {
		h.refreshState(ctx)
	}
	log.Debug("event handled", zap.String("admission", string(admission)))
	return nil
}

func (h *EventHandler) handleReply(ctx context.Context, log *logger.Logger, ev model.MessageEvent) error {
	// 先判断是否为 y/n，避免为普通聊天去拉取被回复的消息
	if _, ok := service.ParseDecision(ev.Content); !ok {
		h.metrics.Resolutions.WithLabelValues(string(service.OutcomeInvalidDecision)).Inc()
		return nil
	}

	footer, err := h.responder.ReferencedFooter(ctx, ev.ChannelID, ev.ReferencedMessageID)
	if err != nil {
		log.Debug("reply target unavailable", zap.Error(err))
		h.metrics.Resolutions.WithLabelValues(string(service.OutcomeNotFound)).Inc()
		return nil
	}
	token, ok := service.ParseCorrelationToken(footer)
	if !ok {
		h.metrics.Resolutions.WithLabelValues(string(service.OutcomeNotFound)).Inc()
		return nil
	}

	outcome, err := h.moderation.Resolve(ctx, token, ev.Content)
	if err != nil {
		h.metrics.EventErrors.WithLabelValues(errorClass(err)).Inc()
		if errors.Is(err, model.ErrInvalidRecord) {
			log.Warn("approved record dropped", zap.String("record_id", token), zap.Error(err))
			h.refreshState(ctx)
			return nil
		}
		log.Error("resolve failed", zap.String("record_id", token), zap.Error(err))
		return err
	}
	h.metrics.Resolutions.WithLabelValues(string(outcome)).Inc()

	var ack string
	switch outcome {
	case service.OutcomeApproved:
		ack = MsgApproved
	case service.OutcomeRejected:
		ack = MsgRejected
	default:
		return nil
	}
	h.refreshState(ctx)
	log.Info("moderation reply resolved", zap.String("record_id", token), zap.String("outcome", string(outcome)))
	h.send(ctx, log, ev.ChannelID, ack)
	return nil
}

func (h *EventHandler) command(content string) (string, bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, h.cfg.CommandPrefix) {
		return "", false
	}
	fields := strings.Fields(strings.TrimPrefix(content, h.cfg.CommandPrefix))
	if len(fields) == 0 {
		return "", false
	}
	switch fields[0] {
	case "status", "approveall":
		return fields[0], true
	default:
		return "", false
	}
}

func (h *EventHandler) handleCommand(ctx context.Context, log *logger.Logger, ev model.MessageEvent, cmd string) error {
	log = log.WithFields(zap.String("command", cmd), zap.String("caller_id", ev.Author.ID))

	switch cmd {
	case "status":
		st, err := h.moderation.Status(ctx)
		if err != nil {
			log.Error("status failed", zap.Error(err))
			h.send(ctx, log, ev.ChannelID, MsgCommandFailed)
			return nil
		}
		h.metrics.SetState(st.Channels, st.Messages, st.Pending)
		h.send(ctx, log, ev.ChannelID, StatusText(st))

	case "approveall":
		count, err := h.moderation.ApproveAll(ctx, ev.Author.ID)
		switch {
		case errors.Is(err, model.ErrPermissionDenied):
			log.Warn("approveall denied")
			h.send(ctx, log, ev.ChannelID, MsgNoPermission)
		case err != nil:
			h.metrics.EventErrors.WithLabelValues(errorClass(err)).Inc()
			log.Error("approveall failed", zap.Int("approved", count), zap.Error(err))
			h.send(ctx, log, ev.ChannelID, MsgCommandFailed)
		case count == 0:
			h.send(ctx, log, ev.ChannelID, MsgNothingToApprove)
		default:
			h.metrics.Resolutions.WithLabelValues(string(service.OutcomeApproved)).Add(float64(count))
			h.refreshState(ctx)
			h.send(ctx, log, ev.ChannelID, fmt.Sprintf("✅ Approved all %d pending messages.", count))
		}
	}
	return nil
}

// StatusText is the reply to the status command.
func StatusText(st service.Status) string {
	return fmt.Sprintf("Bot is running! Monitoring %d channels with %d messages stored. %d messages pending approval.",
		st.Channels, st.Messages, st.Pending)
}

func (h *EventHandler) send(ctx context.Context, log *logger.Logger, channelID, content string) {
	if err := h.responder.Send(ctx, channelID, content); err != nil {
		log.Warn("send reply failed", zap.String("channel_id", channelID), zap.Error(err))
	}
}

func (h *EventHandler) refreshState(ctx context.Context) {
	st, err := h.moderation.Status(ctx)
	if err != nil {
		return
	}
	h.metrics.SetState(st.Channels, st.Messages, st.Pending)
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, model.ErrInvalidRecord):
		return "invalid_record"
	case errors.Is(err, model.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrExternalUnavailable):
		return "external_unavailable"
	default:
		return "other"
	}
}
