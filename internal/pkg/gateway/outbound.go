package gateway

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/Gopher0727/FeaturedFeed/internal/model"
	"github.com/Gopher0727/FeaturedFeed/internal/service"
)

// categoryDepth bounds the walk from a thread up to its category.
const categoryDepth = 3

// Notify posts an approval request embed, throttled to the configured rate.
func (g *Gateway) Notify(ctx context.Context, n service.Notification) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := g.session.ChannelMessageSendEmbed(g.opts.NotifyChannelID, Embed(n), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send approval request %s: %w: %w", n.RecordID, model.ErrExternalUnavailable, err)
	}
	return nil
}

// Send posts a plain message.
func (g *Gateway) Send(ctx context.Context, channelID, content string) error {
	if _, err := g.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send to %s: %w: %w", channelID, model.ErrExternalUnavailable, err)
	}
	return nil
}

// ReferencedFooter fetches the replied-to message and returns its embed footer.
func (g *Gateway) ReferencedFooter(ctx context.Context, channelID, messageID string) (string, error) {
	m, err := g.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("fetch message %s: %w: %w", messageID, model.ErrExternalUnavailable, err)
	}
	footer, ok := Footer(m)
	if !ok {
		return "", fmt.Errorf("message %s has no embed footer: %w", messageID, model.ErrNotFound)
	}
	return footer, nil
}

// ChannelName resolves a channel id to its name, from the state cache first.
func (g *Gateway) ChannelName(ctx context.Context, channelID string) (string, error) {
	ch, err := g.channel(ctx, channelID)
	if err != nil {
		return "", err
	}
	return ch.Name, nil
}

// CategoryName returns the name of the category above channelID, walking up
// through forums and parent channels of threads. No category yields "".
func (g *Gateway) CategoryName(ctx context.Context, channelID string) (string, error) {
	ch, err := g.channel(ctx, channelID)
	if err != nil {
		return "", err
	}
	for i := 0; i < categoryDepth; i++ {
		if ch.ParentID == "" {
			return "", nil
		}
		if ch, err = g.channel(ctx, ch.ParentID); err != nil {
			return "", err
		}
		if ch.Type == discordgo.ChannelTypeGuildCategory {
			return ch.Name, nil
		}
	}
	return "", nil
}

func (g *Gateway) channel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	if channelID == "" {
		return nil, fmt.Errorf("empty channel id: %w", model.ErrNotFound)
	}
	if g.session.State != nil {
		if ch, err := g.session.State.Channel(channelID); err == nil {
			return ch, nil
		}
	}
	ch, err := g.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch channel %s: %w: %w", channelID, model.ErrExternalUnavailable, err)
	}
	return ch, nil
}
