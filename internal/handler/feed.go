package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/FeaturedFeed/internal/feed"
	"github.com/Gopher0727/FeaturedFeed/internal/model"
	"github.com/Gopher0727/FeaturedFeed/internal/repository"
	"github.com/Gopher0727/FeaturedFeed/internal/service"
	logger "github.com/Gopher0727/FeaturedFeed/middleware/log"
)

// FeedHandler serves the public feed. It only reads snapshots.
type FeedHandler struct {
	messages   repository.IMessageRepository
	moderation service.IModerationService
	guildID    string
	limit      int
	log        *logger.Logger
	now        func() time.Time
}

func NewFeedHandler(
	messages repository.IMessageRepository,
	moderation service.IModerationService,
	guildID string,
	limit int,
	log *logger.Logger,
) *FeedHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &FeedHandler{
		messages:   messages,
		moderation: moderation,
		guildID:    guildID,
		limit:      limit,
		log:        log.Named("feed"),
		now:        time.Now,
	}
}

// Health GET /health
func (h *FeedHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Discussions GET /api/discussions
func (h *FeedHandler) Discussions(c *gin.Context) {
	d, ok := h.discussions(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, d)
}

// Widget GET /widget
func (h *FeedHandler) Widget(c *gin.Context) {
	d, ok := h.discussions(c)
	if !ok {
		return
	}
	body, err := feed.WidgetHTML(d)
	if err != nil {
		h.log.ErrorContext(c.Request.Context(), "render widget failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", body)
}

// Status GET /api/status
func (h *FeedHandler) Status(c *gin.Context) {
	st, err := h.moderation.Status(c.Request.Context())
	if err != nil {
		h.fail(c, "status failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"channels": st.Channels,
		"messages": st.Messages,
		"pending":  st.Pending,
		"text":     StatusText(st),
	})
}

func (h *FeedHandler) discussions(c *gin.Context) (feed.Discussions, bool) {
	snap, err := h.messages.Snapshot(c.Request.Context())
	if err != nil {
		h.fail(c, "load feed failed", err)
		return feed.Discussions{}, false
	}
	return feed.BuildDiscussions(snap, h.guildID, h.limit, h.now()), true
}

// fail maps storage errors to a status code.
func (h *FeedHandler) fail(c *gin.Context, msg string, err error) {
	h.log.ErrorContext(c.Request.Context(), msg, zap.Error(err))
	if errors.Is(err, model.ErrExternalUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
