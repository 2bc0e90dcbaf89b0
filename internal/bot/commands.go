package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"serverguard/internal/storage"
)

func (b *Bot) registerCommands() error {
	userOption := func(desc string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionUser,
			Name:        "user",
			Description: desc,
			Required:    true,
		}
	}
	reasonOption := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "reason",
		Description: "Reason shown in the log and to the user",
	}

	commands := []*discordgo.ApplicationCommand{
		{
			Name:        "warn",
			Description: "Warn a member",
			Options:     []*discordgo.ApplicationCommandOption{userOption("Member to warn"), reasonOption},
		},
		{
			Name:        "warnings",
			Description: "List a member's warnings",
			Options:     []*discordgo.ApplicationCommandOption{userOption("Member to inspect")},
		},
		{
			Name:        "delwarn",
			Description: "Delete one warning by id",
			Options: []*discordgo.ApplicationCommandOption{
				userOption("Member the warning belongs to"),
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "id",
					Description: "Warning id from /warnings",
					Required:    true,
				},
			},
		},
		{
			Name:        "mute",
			Description: "Mute a member",
			Options: []*discordgo.ApplicationCommandOption{
				userOption("Member to mute"),
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "minutes",
					Description: "Duration in minutes, 0 for indefinite",
				},
				reasonOption,
			},
		},
		{
			Name:        "unmute",
			Description: "Unmute a member",
			Options:     []*discordgo.ApplicationCommandOption{userOption("Member to unmute")},
		},
		{
			Name:        "ban",
			Description: "Ban a member",
			Options: []*discordgo.ApplicationCommandOption{
				userOption("Member to ban"),
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "hours",
					Description: "Duration in hours, 0 for permanent",
				},
				reasonOption,
			},
		},
		{
			Name:        "unban",
			Description: "Unban a member",
			Options:     []*discordgo.ApplicationCommandOption{userOption("Member to unban")},
		},
		{
			Name:        "remind",
			Description: "Set a reminder in this channel",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "minutes",
					Description: "Minutes from now",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "text",
					Description: "What to remind you about",
					Required:    true,
				},
			},
		},
		{
			Name:        "config",
			Description: "Change a moderation setting",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "setting",
					Description: "Setting to change",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "spam_limit", Value: "spam_limit"},
						{Name: "automod_duplicate", Value: "automod_duplicate"},
						{Name: "url_filter", Value: "url_filter"},
						{Name: "invite_filter", Value: "invite_filter"},
						{Name: "toxicity_threshold", Value: "toxicity_threshold"},
						{Name: "hate_speech_threshold", Value: "hate_speech_threshold"},
						{Name: "block_untrusted_images", Value: "block_untrusted_images"},
						{Name: "automod_log_channel", Value: "automod_log_channel"},
						{Name: "log_channel", Value: "log_channel"},
						{Name: "mute_role", Value: "mute_role"},
						{Name: "blacklist_add", Value: "blacklist_add"},
						{Name: "blacklist_remove", Value: "blacklist_remove"},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "value",
					Description: "New value",
					Required:    true,
				},
			},
		},
	}

	for _, command := range commands {
		if _, err := b.session.ApplicationCommandCreate(b.session.State.User.ID, "", command); err != nil {
			return fmt.Errorf("register /%s: %w", command.Name, err)
		}
	}
	return nil
}

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if interaction.GuildID == "" {
		b.respond(session, interaction, "This command only works in a server.", true)
		return
	}

	ctx := context.Background()
	cfg := b.guildConfig(ctx, interaction.GuildID)
	data := interaction.ApplicationCommandData()

	issuerID := ""
	if interaction.Member != nil && interaction.Member.User != nil {
		issuerID = interaction.Member.User.ID
	}
	level, err := b.perms.Level(ctx, cfg, issuerID)
	if err != nil {
		b.respond(session, interaction, "Could not resolve your permissions, try again.", true)
		return
	}

	required := 2
	if data.Name == "config" || data.Name == "ban" || data.Name == "unban" {
		required = 3
	}
	if data.Name == "remind" {
		required = 0
	}
	if level < required {
		b.respond(session, interaction, "You do not have permission to use this command.", true)
		return
	}

	opts := optionMap(data.Options)
	switch data.Name {
	case "warn":
		b.cmdWarn(ctx, session, interaction, cfg, opts, issuerID)
	case "warnings":
		b.cmdWarnings(ctx, session, interaction, opts)
	case "delwarn":
		b.cmdDelWarn(ctx, session, interaction, opts)
	case "mute":
		b.cmdMute(ctx, session, interaction, cfg, opts, issuerID)
	case "unmute":
		b.cmdUnmute(ctx, session, interaction, cfg, opts)
	case "ban":
		b.cmdBan(ctx, session, interaction, cfg, opts, issuerID)
	case "unban":
		b.cmdUnban(ctx, session, interaction, opts)
	case "remind":
		b.cmdRemind(ctx, session, interaction, opts, issuerID)
	case "config":
		b.cmdConfig(ctx, session, interaction, cfg, opts)
	}
}

func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	out := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(options))
	for _, opt := range options {
		out[opt.Name] = opt
	}
	return out
}

func targetUserID(opts map[string]*discordgo.ApplicationCommandInteractionDataOption) string {
	if opt, ok := opts["user"]; ok {
		if user := opt.UserValue(nil); user != nil {
			return user.ID
		}
	}
	return ""
}

func optString(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	if opt, ok := opts[name]; ok {
		return opt.StringValue()
	}
	return ""
}

func optInt(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) int64 {
	if opt, ok := opts[name]; ok {
		return opt.IntValue()
	}
	return 0
}

func (b *Bot) cmdWarn(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, cfg storage.GuildConfig, opts map[string]*discordgo.ApplicationCommandInteractionDataOption, issuerID string) {
	userID := targetUserID(opts)
	reason := optString(opts, "reason")

	record, err := b.statuses.Create(ctx, storage.StatusRecord{
		GuildID:  interaction.GuildID,
		UserID:   userID,
		Type:     storage.StatusWarning,
		Reason:   reason,
		IssuerID: issuerID,
	})
	if err != nil {
		b.respond(session, interaction, "Could not record the warning.", true)
		return
	}
	b.audit.RecordWithNotice(ctx, interaction.GuildID, userID, "warn", "warning_issued",
		reason, cfg.LogChannel,
		fmt.Sprintf("<@%s> warned <@%s>: %s", issuerID, userID, reason))
	b.respond(session, interaction,
		fmt.Sprintf("Warned <@%s> (id `%s`).", userID, suffixOf(record.ID)), false)
}

func (b *Bot) cmdWarnings(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	userID := targetUserID(opts)
	records, err := b.statuses.List(ctx, interaction.GuildID, userID, storage.StatusWarning)
	if err != nil {
		b.respond(session, interaction, "Could not list warnings.", true)
		return
	}
	if len(records) == 0 {
		b.respond(session, interaction, fmt.Sprintf("<@%s> has no warnings.", userID), true)
		return
	}

	var sb strings.Builder
	for _, record := range records {
		fmt.Fprintf(&sb, "`%s` — %s (by <@%s>, %s)\n",
			suffixOf(record.ID), record.Reason, record.IssuerID,
			record.CreatedAt.Format("2006-01-02"))
	}
	b.respondEmbed(session, interaction, &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Warnings for %s", userID),
		Description: sb.String(),
		Color:       colorAction,
	}, true)
}

func (b *Bot) cmdDelWarn(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	userID := targetUserID(opts)
	id := storage.StatusID(interaction.GuildID, userID, storage.StatusWarning, optString(opts, "id"))
	if err := b.statuses.Delete(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			b.respond(session, interaction, "No warning with that id.", true)
			return
		}
		b.respond(session, interaction, "Could not delete the warning.", true)
		return
	}
	b.respond(session, interaction, "Warning deleted.", false)
}

func (b *Bot) cmdMute(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, cfg storage.GuildConfig, opts map[string]*discordgo.ApplicationCommandInteractionDataOption, issuerID string) {
	userID := targetUserID(opts)
	reason := optString(opts, "reason")
	minutes := optInt(opts, "minutes")

	var endsAt *time.Time
	if minutes > 0 {
		ends := time.Now().Add(time.Duration(minutes) * time.Minute)
		endsAt = &ends
	}

	_, err := b.statuses.Create(ctx, storage.StatusRecord{
		GuildID:  interaction.GuildID,
		UserID:   userID,
		Type:     storage.StatusMute,
		Reason:   reason,
		IssuerID: issuerID,
		EndsAt:   endsAt,
	})
	if errors.Is(err, storage.ErrConflict) {
		b.respond(session, interaction, "That member is already muted.", true)
		return
	}
	if err != nil {
		b.respond(session, interaction, "Could not record the mute.", true)
		return
	}

	if cfg.MuteRoleID != "" {
		if err := session.GuildMemberRoleAdd(interaction.GuildID, userID, cfg.MuteRoleID); err != nil {
			b.respond(session, interaction, "Mute recorded, but assigning the mute role failed.", true)
			return
		}
	}
	b.audit.RecordWithNotice(ctx, interaction.GuildID, userID, "action", "muted",
		reason, cfg.LogChannel,
		fmt.Sprintf("<@%s> muted <@%s>: %s", issuerID, userID, reason))
	b.respond(session, interaction, fmt.Sprintf("Muted <@%s>.", userID), false)
}

func (b *Bot) cmdUnmute(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, cfg storage.GuildConfig, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	userID := targetUserID(opts)
	if err := b.statuses.DeleteAll(ctx, interaction.GuildID, userID, storage.StatusMute); err != nil {
		b.respond(session, interaction, "Could not clear the mute.", true)
		return
	}
	if cfg.MuteRoleID != "" {
		if err := session.GuildMemberRoleRemove(interaction.GuildID, userID, cfg.MuteRoleID); err != nil {
			b.respond(session, interaction, "Mute cleared, but removing the role failed.", true)
			return
		}
	}
	b.respond(session, interaction, fmt.Sprintf("Unmuted <@%s>.", userID), false)
}

func (b *Bot) cmdBan(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, cfg storage.GuildConfig, opts map[string]*discordgo.ApplicationCommandInteractionDataOption, issuerID string) {
	userID := targetUserID(opts)
	reason := optString(opts, "reason")
	hours := optInt(opts, "hours")

	var endsAt *time.Time
	if hours > 0 {
		ends := time.Now().Add(time.Duration(hours) * time.Hour)
		endsAt = &ends
	}

	_, err := b.statuses.Create(ctx, storage.StatusRecord{
		GuildID:  interaction.GuildID,
		UserID:   userID,
		Type:     storage.StatusBan,
		Reason:   reason,
		IssuerID: issuerID,
		EndsAt:   endsAt,
	})
	if errors.Is(err, storage.ErrConflict) {
		b.respond(session, interaction, "That member is already banned.", true)
		return
	}
	if err != nil {
		b.respond(session, interaction, "Could not record the ban.", true)
		return
	}

	if err := session.GuildBanCreateWithReason(interaction.GuildID, userID, reason, 0); err != nil {
		b.respond(session, interaction, "Ban recorded, but the platform ban failed.", true)
		return
	}
	b.audit.RecordWithNotice(ctx, interaction.GuildID, userID, "action", "banned",
		reason, cfg.LogChannel,
		fmt.Sprintf("<@%s> banned <@%s>: %s", issuerID, userID, reason))
	b.respond(session, interaction, fmt.Sprintf("Banned <@%s>.", userID), false)
}

func (b *Bot) cmdUnban(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	userID := targetUserID(opts)
	if err := b.statuses.DeleteAll(ctx, interaction.GuildID, userID, storage.StatusBan); err != nil {
		b.respond(session, interaction, "Could not clear the ban record.", true)
		return
	}
	if err := session.GuildBanDelete(interaction.GuildID, userID); err != nil {
		b.respond(session, interaction, "Record cleared, but the platform unban failed.", true)
		return
	}
	b.respond(session, interaction, fmt.Sprintf("Unbanned <@%s>.", userID), false)
}

func (b *Bot) cmdRemind(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts map[string]*discordgo.ApplicationCommandInteractionDataOption, issuerID string) {
	minutes := optInt(opts, "minutes")
	if minutes <= 0 {
		b.respond(session, interaction, "Minutes must be positive.", true)
		return
	}
	ends := time.Now().Add(time.Duration(minutes) * time.Minute)
	_, err := b.statuses.Create(ctx, storage.StatusRecord{
		GuildID:     interaction.GuildID,
		UserID:      issuerID,
		Type:        storage.StatusReminder,
		Description: optString(opts, "text"),
		ChannelID:   interaction.ChannelID,
		EndsAt:      &ends,
	})
	if err != nil {
		b.respond(session, interaction, "Could not set the reminder.", true)
		return
	}
	b.respond(session, interaction, fmt.Sprintf("Reminder set for %d minutes from now.", minutes), true)
}

func (b *Bot) cmdConfig(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, cfg storage.GuildConfig, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	setting := optString(opts, "setting")
	value := optString(opts, "value")

	parseBool := func() bool {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "on" || lower == "yes"
	}
	parseInt := func() (int, bool) {
		n, err := strconv.Atoi(value)
		return n, err == nil
	}

	wordListChanged := false
	switch setting {
	case "spam_limit":
		n, ok := parseInt()
		if !ok || n < 0 {
			b.respond(session, interaction, "Value must be a non-negative number.", true)
			return
		}
		cfg.SpamLimit = n
	case "automod_duplicate":
		cfg.AutomodDuplicate = parseBool()
	case "url_filter":
		cfg.URLFilter = parseBool()
	case "invite_filter":
		cfg.InviteFilter = parseBool()
	case "block_untrusted_images":
		cfg.BlockUntrustedImages = parseBool()
	case "toxicity_threshold":
		n, ok := parseInt()
		if !ok || n < 0 || n > 100 {
			b.respond(session, interaction, "Threshold must be 0-100 (0 disables).", true)
			return
		}
		cfg.ToxicityThreshold = n
	case "hate_speech_threshold":
		n, ok := parseInt()
		if !ok || n < 0 || n > 100 {
			b.respond(session, interaction, "Threshold must be 0-100 (0 disables).", true)
			return
		}
		cfg.HateSpeechThreshold = n
	case "automod_log_channel":
		cfg.AutomodLogChannel = strings.Trim(value, "<#>")
	case "log_channel":
		cfg.LogChannel = strings.Trim(value, "<#>")
	case "mute_role":
		cfg.MuteRoleID = strings.Trim(value, "<@&>")
	case "blacklist_add":
		word := strings.ToLower(strings.TrimSpace(value))
		if word == "" {
			b.respond(session, interaction, "Provide a word to add.", true)
			return
		}
		for _, existing := range cfg.WordBlacklist {
			if existing == word {
				b.respond(session, interaction, "That word is already blacklisted.", true)
				return
			}
		}
		cfg.WordBlacklist = append(cfg.WordBlacklist, word)
		wordListChanged = true
	case "blacklist_remove":
		word := strings.ToLower(strings.TrimSpace(value))
		// A fresh slice, never a reslice: cfg may share its backing
		// array with other readers of the same guild config.
		kept := make([]string, 0, len(cfg.WordBlacklist))
		for _, existing := range cfg.WordBlacklist {
			if existing != word {
				kept = append(kept, existing)
			}
		}
		cfg.WordBlacklist = kept
		wordListChanged = true
	default:
		b.respond(session, interaction, "Unknown setting.", true)
		return
	}

	if err := b.store.SaveGuildConfig(ctx, cfg); err != nil {
		b.respond(session, interaction, "Could not save the setting.", true)
		return
	}
	if wordListChanged {
		b.pipeline.InvalidateWordFilter(cfg.GuildID)
	}
	b.respond(session, interaction, fmt.Sprintf("Updated `%s`.", setting), true)
}

// suffixOf returns the random tail of a status record id, the part
// moderators pass back to /delwarn.
func suffixOf(id string) string {
	if idx := strings.LastIndex(id, "/"); idx >= 0 {
		return id[idx+1:]
	}
	return id
}
