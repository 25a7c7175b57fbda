package gateway

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/Gopher0727/FeaturedFeed/internal/model"
	"github.com/Gopher0727/FeaturedFeed/internal/service"
)

// embedColor 审核通知的侧边颜色
const embedColor = 0x3498db

// MessageEvent converts a gateway message. selfID is the bot's own user id.
func MessageEvent(m *discordgo.Message, selfID string) model.MessageEvent {
	ev := model.MessageEvent{
		ID:          m.ID,
		ChannelID:   m.ChannelID,
		GuildID:     m.GuildID,
		Content:     m.Content,
		Timestamp:   m.Timestamp,
		Reactions:   reactions(m.Reactions),
		Attachments: attachments(m.Attachments),
	}
	if m.Author != nil {
		ev.Author = author(m.Author, m.Member)
		ev.FromSelf = m.Author.ID == selfID
	}
	if m.MessageReference != nil {
		ev.ReferencedMessageID = m.MessageReference.MessageID
	}
	return ev
}

// ThreadEvent converts a thread channel. parent is the forum it lives in and
// resolves applied tag ids to names; opening is the starter post. Both may be
// nil.
func ThreadEvent(th *discordgo.Channel, parent *discordgo.Channel, opening *discordgo.Message) model.ThreadEvent {
	ev := model.ThreadEvent{
		ID:            th.ID,
		ParentID:      th.ParentID,
		GuildID:       th.GuildID,
		Name:          th.Name,
		Tags:          tagRefs(th.AppliedTags, parent),
		MessageCount:  th.MessageCount,
		LastMessageID: th.LastMessageID,
	}
	if opening != nil {
		first := MessageEvent(opening, "")
		ev.Opening = &first
		ev.CreatedAt = opening.Timestamp
	}
	return ev
}

// IsThread reports whether ch is a thread the bot can read.
func IsThread(ch *discordgo.Channel) bool {
	switch ch.Type {
	case discordgo.ChannelTypeGuildPublicThread, discordgo.ChannelTypeGuildNewsThread:
		return true
	default:
		return false
	}
}

// Embed renders a notification for the moderation channel.
func Embed(n service.Notification) *discordgo.MessageEmbed {
	fields := make([]*discordgo.MessageEmbedField, 0, len(n.Fields))
	for _, f := range n.Fields {
		fields = append(fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: true})
	}
	return &discordgo.MessageEmbed{
		Title:       n.Title,
		Description: n.Description,
		Color:       embedColor,
		Fields:      fields,
		Footer:      &discordgo.MessageEmbedFooter{Text: n.Footer},
	}
}

// Footer returns the footer of the first embed of m.
func Footer(m *discordgo.Message) (string, bool) {
	if m == nil || len(m.Embeds) == 0 || m.Embeds[0].Footer == nil {
		return "", false
	}
	return m.Embeds[0].Footer.Text, true
}

func author(u *discordgo.User, member *discordgo.Member) model.Author {
	display := u.GlobalName
	if member != nil && member.Nick != "" {
		display = member.Nick
	}
	if display == "" {
		display = u.Username
	}
	return model.Author{ID: u.ID, Name: u.Username, DisplayName: display}
}

func reactions(in []*discordgo.MessageReactions) []model.Reaction {
	out := make([]model.Reaction, 0, len(in))
	for _, r := range in {
		if r == nil || r.Emoji == nil {
			continue
		}
		emoji := r.Emoji.Name
		if r.Emoji.ID != "" {
			emoji = fmt.Sprintf("<:%s:%s>", r.Emoji.Name, r.Emoji.ID)
		}
		out = append(out, model.Reaction{Emoji: emoji, Count: r.Count})
	}
	return out
}

func attachments(in []*discordgo.MessageAttachment) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		if a != nil && a.URL != "" {
			out = append(out, a.URL)
		}
	}
	return out
}

// tagRefs resolves applied tag ids against the forum's available tags.
// Unresolved ids are kept as id-only refs.
func tagRefs(ids []string, parent *discordgo.Channel) []model.TagRef {
	names := map[string]string{}
	if parent != nil {
		for _, t := range parent.AvailableTags {
			names[t.ID] = t.Name
		}
	}
	refs := make([]model.TagRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, model.TagRef{ID: id, Name: names[id]})
	}
	return refs
}
