package handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/FeaturedFeed/internal/model"
	"github.com/Gopher0727/FeaturedFeed/internal/service"
)

func TestModeratedApproveFlow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(true)

	require.NoError(t, h.events.HandleMessage(ctx, chat("1", "100", 0)))
	assert.Equal(t, service.Status{Channels: 0, Messages: 0, Pending: 1}, h.status(ctx))
	assert.Contains(t, h.platform.footers, "notice-1")

	require.NoError(t, h.events.HandleMessage(ctx, reply("r1", " Y ", "notice-1", "mod")))
	assert.Equal(t, []string{MsgApproved}, h.platform.replies())
	assert.Equal(t, approvalChannel, h.platform.sent[0].channelID)
	assert.Equal(t, service.Status{Channels: 1, Messages: 1, Pending: 0}, h.status(ctx))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Resolutions.WithLabelValues("approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.FeedRecords))

	// a second answer to the same notification finds nothing and stays silent
	require.NoError(t, h.events.HandleMessage(ctx, reply("r2", "y", "notice-1", "mod")))
	assert.Len(t, h.platform.sent, 1)
}

func TestModeratedRejectFlow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(true)

	require.NoError(t, h.events.HandleMessage(ctx, chat("1", "100", 0)))
	require.NoError(t, h.events.HandleMessage(ctx, reply("r1", "n", "notice-1", "mod")))

	assert.Equal(t, []string{MsgRejected}, h.platform.replies())
	assert.Equal(t, service.Status{}, h.status(ctx))
}

func TestReplyEdgeCases(t *testing.T) {
	ctx := context.Background()

	t.Run("non decision text never fetches the target", func(t *testing.T) {
		h := newHarness(true)
		require.NoError(t, h.events.HandleMessage(ctx, chat("1", "100", 0)))
		require.NoError(t, h.events.HandleMessage(ctx, reply("r1", "maybe later", "notice-1", "mod")))

		assert.Zero(t, h.platform.footerHits)
		assert.Empty(t, h.platform.sent)
		assert.Equal(t, 1, h.status(ctx).Pending)
	})

	t.Run("unknown target is silent", func(t *testing.T) {
		h := newHarness(true)
		require.NoError(t, h.events.HandleMessage(ctx, reply("r1", "y", "nope", "mod")))
		assert.Empty(t, h.platform.sent)
	})

	t.Run("footer without token is silent", func(t *testing.T) {
		h := newHarness(true)
		h.platform.footers["other"] = "just an embed"
		require.NoError(t, h.events.HandleMessage(ctx, reply("r1", "n", "other", "mod")))
		assert.Empty(t, h.platform.sent)
	})

	t.Run("replies outside the approval channel are ingested", func(t *testing.T) {
		h := newHarness(true)
		ev := chat("1", "100", 0)
		ev.ReferencedMessageID = "something"
		require.NoError(t, h.events.HandleMessage(ctx, ev))
		assert.Equal(t, 1, h.status(ctx).Pending)
	})
}

func TestCommands(t *testing.T) {
	ctx := context.Background()

	t.Run("status", func(t *testing.T) {
		h := newHarness(true)
		require.NoError(t, h.events.HandleMessage(ctx, chat("1", "100", 0)))
		require.NoError(t, h.events.HandleMessage(ctx, command("100", "!status", "u9")))

		assert.Equal(t, []string{"Bot is running! Monitoring 0 channels with 0 messages stored. 1 messages pending approval."},
			h.platform.replies())
		// commands are never ingested
		assert.Equal(t, 1, h.status(ctx).Pending)
	})

	t.Run("approveall", func(t *testing.T) {
		h := newHarness(true)
		require.NoError(t, h.events.HandleMessage(ctx, command(approvalChannel, "!approveall", "mod")))
		require.NoError(t, h.events.HandleMessage(ctx, chat("1", "100", 0)))
		require.NoError(t, h.events.HandleMessage(ctx, chat("2", "100", 1)))
		require.NoError(t, h.events.HandleMessage(ctx, command(approvalChannel, "!approveall", "stranger")))
		require.NoError(t, h.events.HandleMessage(ctx, command(approvalChannel, "!approveall", "mod")))

		assert.Equal(t, []string{
			MsgNothingToApprove,
			MsgNoPermission,
			"✅ Approved all 2 pending messages.",
		}, h.platform.replies())
		assert.Equal(t, service.Status{Channels: 1, Messages: 2, Pending: 0}, h.status(ctx))
	})

	t.Run("unknown command is a normal message", func(t *testing.T) {
		h := newHarness(false)
		require.NoError(t, h.events.HandleMessage(ctx, command("100", "!help", "u1")))
		assert.Empty(t, h.platform.sent)
		assert.Equal(t, 1, h.status(ctx).Messages)
	})
}

func TestIgnoredMessages(t *testing.T) {
	ctx := context.Background()
	h := newHarness(true)

	self := chat("1", "100", 0)
	self.FromSelf = true
	require.NoError(t, h.events.HandleMessage(ctx, self))
	require.NoError(t, h.events.HandleMessage(ctx, chat("2", approvalChannel, 0)))

	assert.Equal(t, service.Status{}, h.status(ctx))
	assert.Empty(t, h.platform.footers)
}

func TestNotifyFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(true)
	h.platform.notifyErr = errors.New("gateway closed")

	err := h.events.HandleMessage(ctx, chat("1", "100", 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrExternalUnavailable)
	assert.Equal(t, 0, h.status(ctx).Pending)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.EventErrors.WithLabelValues("external_unavailable")))
}

func TestAutoPublish(t *testing.T) {
	ctx := context.Background()
	h := newHarness(false)

	require.NoError(t, h.events.HandleMessage(ctx, chat("1", "100", 0)))
	require.NoError(t, h.events.HandleThread(ctx, KindThreadCreated, model.ThreadEvent{
		ID:        "50",
		ParentID:  "300",
		Name:      "How do I deploy?",
		Tags:      []model.TagRef{{ID: "1", Name: "featured"}},
		CreatedAt: t0.Add(5 * time.Minute),
		Opening:   &model.MessageEvent{Content: "question", Author: model.Author{ID: "u2", Name: "bob"}},
	}))
	// untagged thread is skipped
	require.NoError(t, h.events.HandleThread(ctx, KindThreadUpdated, model.ThreadEvent{ID: "51", ParentID: "300", Name: "chit-chat"}))

	assert.Equal(t, service.Status{Channels: 2, Messages: 2, Pending: 0}, h.status(ctx))
	assert.Empty(t, h.platform.footers)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Events.WithLabelValues(KindThreadCreated, "committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Events.WithLabelValues(KindThreadUpdated, "skipped")))

	snap, err := h.messages.Snapshot(ctx)
	require.NoError(t, err)
	forum := snap.Get("300")
	require.NotNil(t, forum)
	assert.Equal(t, "Support", forum.Category)
	assert.Equal(t, "How do I deploy?", forum.Messages[0].ThreadName)
}

func TestStatusText(t *testing.T) {
	assert.Equal(t,
		"Bot is running! Monitoring 2 channels with 3 messages stored. 0 messages pending approval.",
		StatusText(service.Status{Channels: 2, Messages: 3}))
}
