package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"serverguard/internal/storage"
)

// Notifier posts a human-readable audit line to a guild channel.
// Optional; a nil notifier keeps the trail database-and-log only.
type Notifier interface {
	Notify(guildID, channelID, content string) error
}

// Trail records moderation events: one row in the store, one
// structured log line, and optionally a channel notice. Failures are
// logged and swallowed, an audit hiccup must never break enforcement.
type Trail struct {
	store    *storage.Store
	notifier Notifier
	logger   *zap.Logger
}

func NewTrail(store *storage.Store, notifier Notifier, logger *zap.Logger) *Trail {
	return &Trail{store: store, notifier: notifier, logger: logger}
}

// SetNotifier wires the channel notifier after construction; the bot
// is built after the trail but posts its notices.
func (t *Trail) SetNotifier(notifier Notifier) {
	t.notifier = notifier
}

func (t *Trail) Record(ctx context.Context, guildID, userID, level, event, details string) {
	row := storage.ModerationEvent{
		GuildID:   guildID,
		UserID:    userID,
		Level:     level,
		Event:     event,
		Details:   details,
		CreatedAt: time.Now(),
	}
	if err := t.store.AddModerationEvent(ctx, row); err != nil {
		t.logger.Warn("audit row write failed",
			zap.String("guild", guildID), zap.String("event", event), zap.Error(err))
	}
	t.logger.Info("moderation event",
		zap.String("guild", guildID),
		zap.String("user", userID),
		zap.String("level", level),
		zap.String("event", event),
		zap.String("details", details))
}

// RecordWithNotice additionally posts to channelID when one is
// configured.
func (t *Trail) RecordWithNotice(ctx context.Context, guildID, userID, level, event, details, channelID, notice string) {
	t.Record(ctx, guildID, userID, level, event, details)
	if t.notifier == nil || channelID == "" {
		return
	}
	if err := t.notifier.Notify(guildID, channelID, notice); err != nil {
		t.logger.Warn("audit channel notice failed",
			zap.String("guild", guildID), zap.String("channel", channelID), zap.Error(err))
	}
}

func (t *Trail) Events(ctx context.Context, guildID string, since time.Time) ([]storage.ModerationEvent, error) {
	return t.store.ListModerationEvents(ctx, guildID, since)
}
