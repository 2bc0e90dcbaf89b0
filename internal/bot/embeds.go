package bot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"serverguard/internal/filter"
	"serverguard/internal/storage"
)

const (
	colorRemoval = 0xE74C3C
	colorNotice  = 0xF39C12
	colorAction  = 0x3498DB
)

func reasonText(reason string) string {
	switch reason {
	case filter.ReasonDuplicate:
		return "repeated/duplicate content"
	case filter.ReasonMaliciousURL:
		return "a known malicious link"
	case filter.ReasonInviteLink:
		return "an invite link"
	case filter.ReasonToxicity:
		return "toxic content"
	case filter.ReasonHateSpeech:
		return "hate speech"
	case filter.ReasonBlacklistWord:
		return "a blacklisted word"
	case filter.ReasonUntrustedImage:
		return "an image link from an untrusted member"
	default:
		return reason
	}
}

func messageLink(guildID, channelID, messageID string) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)
}

// postAutomodLog writes the removal entry to the guild's automod log
// channel, when one is configured.
func (b *Bot) postAutomodLog(cfg storage.GuildConfig, authorID, channelID, messageID string, verdict filter.Verdict) {
	if cfg.AutomodLogChannel == "" {
		return
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Author", Value: "<@" + authorID + ">", Inline: true},
		{Name: "Reason", Value: reasonText(verdict.Reason), Inline: true},
	}
	if verdict.Certainty != nil {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Certainty", Value: fmt.Sprintf("%.0f%%", *verdict.Certainty), Inline: true,
		})
	}
	if messageID != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Message", Value: messageLink(cfg.GuildID, channelID, messageID),
		})
	}
	embed := &discordgo.MessageEmbed{
		Title:       "Message filtered",
		Description: truncate(verdict.Evidence, 1000),
		Color:       colorRemoval,
		Fields:      fields,
	}
	if _, err := b.session.ChannelMessageSendEmbed(cfg.AutomodLogChannel, embed); err != nil {
		b.logger.Warn("automod log post failed",
			zap.String("channel", cfg.AutomodLogChannel), zap.Error(err))
	}
}

// postAutomodNotice reports a classifier score that crossed the
// informational floor without being removed.
func (b *Bot) postAutomodNotice(cfg storage.GuildConfig, authorID, channelID, messageID string, notice filter.Notice) {
	if cfg.AutomodLogChannel == "" {
		return
	}
	embed := &discordgo.MessageEmbed{
		Title: "Elevated classifier score",
		Description: fmt.Sprintf("Message by <@%s> scored %.0f%% for %s (below the removal threshold)",
			authorID, notice.Certainty, notice.Category),
		Color: colorNotice,
	}
	if messageID != "" {
		embed.Fields = []*discordgo.MessageEmbedField{
			{Name: "Message", Value: messageLink(cfg.GuildID, channelID, messageID)},
		}
	}
	if _, err := b.session.ChannelMessageSendEmbed(cfg.AutomodLogChannel, embed); err != nil {
		b.logger.Warn("automod notice post failed",
			zap.String("channel", cfg.AutomodLogChannel), zap.Error(err))
	}
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content, Flags: flags},
	})
	if err != nil {
		b.logger.Warn("interaction respond failed", zap.Error(err))
	}
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
	if err != nil {
		b.logger.Warn("interaction respond failed", zap.Error(err))
	}
}

func truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return text[:max] + "…"
}
