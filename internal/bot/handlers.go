package bot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"serverguard/internal/filter"
	"serverguard/internal/metrics"
	"serverguard/internal/raid"
	"serverguard/internal/storage"
)

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot {
		return
	}
	if msg.GuildID == "" {
		return
	}
	ctx := context.Background()

	if removed := b.filterContent(ctx, msg.GuildID, msg.ChannelID, msg.ID, msg.Author.ID, msg.Content); removed {
		return
	}

	cfg := b.guildConfig(ctx, msg.GuildID)
	if cfg.SpamLimit > 0 {
		if burst, fired := b.spam.Track(msg.GuildID, msg.Author.ID, msg.ChannelID, msg.ID, cfg.SpamLimit); fired {
			b.handleSpamBurst(ctx, cfg, msg.ChannelID, msg.Author.ID, burst)
			return
		}
	}

	if level, leveled := b.xp.OnMessage(ctx, msg.GuildID, msg.Author.ID); leveled {
		_ = b.SendChannelMessage(msg.ChannelID,
			fmt.Sprintf("<@%s> reached level %d!", msg.Author.ID, level))
	}
}

// Threads are textual content like any message; topic creation and
// edits run through the same pipeline.
func (b *Bot) onThreadCreate(session *discordgo.Session, event *discordgo.ThreadCreate) {
	if event.GuildID == "" || event.OwnerID == "" {
		return
	}
	b.enforceThreadName(context.Background(), event.GuildID, event.ID, event.OwnerID, event.Name)
}

func (b *Bot) onThreadUpdate(session *discordgo.Session, event *discordgo.ThreadUpdate) {
	if event.GuildID == "" || event.OwnerID == "" {
		return
	}
	b.enforceThreadName(context.Background(), event.GuildID, event.ID, event.OwnerID, event.Name)
}

// enforceThreadName runs the pipeline over a thread's name. Removal
// here means deleting the thread itself: there is no message to
// target. Best-effort like message deletion.
func (b *Bot) enforceThreadName(ctx context.Context, guildID, threadID, ownerID, name string) {
	if !b.filterContent(ctx, guildID, threadID, "", ownerID, name) {
		return
	}
	if err := b.chat.DeleteChannel(threadID); err != nil {
		b.logger.Warn("thread delete failed",
			zap.String("thread", threadID), zap.Error(err))
	}
}

// filterContent runs the pipeline and applies the verdict's side
// effects. Returns true when the content was removed.
func (b *Bot) filterContent(ctx context.Context, guildID, channelID, messageID, authorID, content string) bool {
	cfg := b.guildConfig(ctx, guildID)

	level, err := b.perms.Level(ctx, cfg, authorID)
	if err != nil {
		b.logger.Warn("permission resolve failed", zap.String("user", authorID), zap.Error(err))
	}
	// Moderators and admins bypass the pipeline entirely.
	if level >= 2 {
		return false
	}

	trusted, err := b.perms.Trusted(ctx, cfg, authorID)
	if err != nil {
		trusted = false
	}

	verdict, notices := b.pipeline.Evaluate(ctx, content, cfg, trusted)
	for _, notice := range notices {
		metrics.IncNotice(notice.Category)
		b.postAutomodNotice(cfg, authorID, channelID, messageID, notice)
	}
	if !verdict.Matched {
		return false
	}

	metrics.IncFiltered(verdict.Reason)

	// Deletion is best-effort and never retried.
	if messageID != "" {
		if err := b.chat.DeleteMessage(channelID, messageID); err != nil {
			b.logger.Warn("message delete failed",
				zap.String("channel", channelID), zap.String("message", messageID), zap.Error(err))
		}
	}
	b.dmAuthor(authorID, verdict)
	b.postAutomodLog(cfg, authorID, channelID, messageID, verdict)
	b.postDeletionLog(cfg, authorID, content)
	b.audit.Record(ctx, guildID, authorID, "warn", "message_filtered",
		verdict.Reason+": "+verdict.Evidence)
	return true
}

// postDeletionLog mirrors removed content to the message log channel,
// separate from the automod log so servers can route them apart.
func (b *Bot) postDeletionLog(cfg storage.GuildConfig, authorID, content string) {
	if cfg.MessageLogChannel == "" || cfg.MessageLogChannel == cfg.AutomodLogChannel {
		return
	}
	_ = b.SendChannelMessage(cfg.MessageLogChannel,
		fmt.Sprintf("Deleted message by <@%s>: %s", authorID, content))
}

// handleSpamBurst removes every message in the burst. Each entry is
// deleted in its own channel; a burst can span several.
func (b *Bot) handleSpamBurst(ctx context.Context, cfg storage.GuildConfig, channelID, authorID string, burst []filter.TrackedMessage) {
	for _, m := range burst {
		if err := b.chat.DeleteMessage(m.ChannelID, m.MessageID); err != nil {
			b.logger.Warn("spam delete failed",
				zap.String("channel", m.ChannelID), zap.String("message", m.MessageID), zap.Error(err))
		}
	}
	_ = b.SendChannelMessage(channelID,
		fmt.Sprintf("<@%s> slow down, you are sending messages too quickly.", authorID))
	b.audit.RecordWithNotice(ctx, cfg.GuildID, authorID, "warn", "spam_burst",
		fmt.Sprintf("%d messages removed", len(burst)),
		cfg.AutomodLogChannel,
		fmt.Sprintf("Spam burst by <@%s>: %d messages removed", authorID, len(burst)))
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.GuildID == "" || event.User == nil {
		return
	}

	created := time.Time{}
	if ts, err := discordgo.SnowflakeTimestamp(event.User.ID); err == nil {
		created = ts
	}
	user := raid.User{
		ID:        event.User.ID,
		Name:      event.User.Username,
		HasAvatar: event.User.Avatar != "",
		CreatedAt: created,
	}

	b.joinMu.Lock()
	b.joinBatches[event.GuildID] = append(b.joinBatches[event.GuildID], user)
	full := len(b.joinBatches[event.GuildID]) >= raidBatchSize
	if !full && b.joinTimers[event.GuildID] == nil {
		guildID := event.GuildID
		b.joinTimers[guildID] = time.AfterFunc(raidBatchWindow, func() {
			b.flushJoinBatch(guildID)
		})
	}
	b.joinMu.Unlock()

	if full {
		b.flushJoinBatch(event.GuildID)
	}

	ctx := context.Background()
	cfg := b.guildConfig(ctx, event.GuildID)
	if cfg.TrafficLogChannel != "" {
		_ = b.SendChannelMessage(cfg.TrafficLogChannel,
			fmt.Sprintf("<@%s> joined the server.", event.User.ID))
	}
}

func (b *Bot) onGuildMemberRemove(session *discordgo.Session, event *discordgo.GuildMemberRemove) {
	if event.GuildID == "" || event.User == nil {
		return
	}
	ctx := context.Background()
	cfg := b.guildConfig(ctx, event.GuildID)
	if cfg.TrafficLogChannel != "" {
		_ = b.SendChannelMessage(cfg.TrafficLogChannel,
			fmt.Sprintf("<@%s> left the server.", event.User.ID))
	}
}

// flushJoinBatch scores the pending joins. The scores feed the audit
// trail only; no automated response is wired to them.
func (b *Bot) flushJoinBatch(guildID string) {
	b.joinMu.Lock()
	batch := b.joinBatches[guildID]
	delete(b.joinBatches, guildID)
	if timer := b.joinTimers[guildID]; timer != nil {
		timer.Stop()
		delete(b.joinTimers, guildID)
	}
	b.joinMu.Unlock()

	if len(batch) == 0 {
		return
	}
	raid.ScoreBatch(batch, time.Now())
	sort.Slice(batch, func(i, j int) bool { return batch[i].Score > batch[j].Score })

	ctx := context.Background()
	for _, user := range batch {
		if user.Score >= 50 {
			b.audit.Record(ctx, guildID, user.ID, "info", "raid_score",
				fmt.Sprintf("join batch of %d, score %.0f", len(batch), user.Score))
		}
	}
	b.logger.Info("join batch scored",
		zap.String("guild", guildID),
		zap.Int("batch", len(batch)),
		zap.Float64("top_score", batch[0].Score))
}

// Role updates invalidate the persisted permission level so the next
// resolve recomputes it.
func (b *Bot) onGuildMemberUpdate(session *discordgo.Session, event *discordgo.GuildMemberUpdate) {
	if event.GuildID == "" || event.User == nil {
		return
	}
	ctx := context.Background()
	if err := b.perms.Invalidate(ctx, event.GuildID, event.User.ID); err != nil {
		b.logger.Warn("permission invalidation failed",
			zap.String("guild", event.GuildID), zap.String("user", event.User.ID), zap.Error(err))
	}
}

func (b *Bot) dmAuthor(authorID string, verdict filter.Verdict) {
	content := "Your message was removed: " + reasonText(verdict.Reason)
	if err := b.chat.DirectMessage(authorID, content); err != nil {
		b.logger.Debug("author dm failed", zap.String("user", authorID), zap.Error(err))
	}
}
