package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"serverguard/internal/metrics"
	"serverguard/internal/storage"
)

// PlatformActions is the slice of the chat platform the sweep needs.
// Every call may fail independently of the local bookkeeping.
type PlatformActions interface {
	Unban(guildID, userID string) error
	RemoveRole(guildID, userID, roleID string) error
	SendChannelMessage(channelID, content string) error
}

// ConfigSource yields the per-guild settings the sweep consults (mute
// role, log channel).
type ConfigSource interface {
	GuildConfig(ctx context.Context, guildID string) (storage.GuildConfig, error)
}

// Service owns the status ledger: creation with the mute/ban
// uniqueness rule, lookups, and the expiry sweep.
type Service struct {
	store    *storage.Store
	platform PlatformActions
	configs  ConfigSource
	pageSize int
	logger   *zap.Logger
}

func NewService(store *storage.Store, platform PlatformActions, configs ConfigSource, pageSize int, logger *zap.Logger) *Service {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Service{
		store:    store,
		platform: platform,
		configs:  configs,
		pageSize: pageSize,
		logger:   logger,
	}
}

// Create persists a new record with a random suffix and returns it.
// A second active mute or ban for the same (guild, user) reports
// storage.ErrConflict.
func (s *Service) Create(ctx context.Context, record storage.StatusRecord) (storage.StatusRecord, error) {
	suffix := uuid.NewString()[:8]
	record.ID = storage.StatusID(record.GuildID, record.UserID, record.Type, suffix)
	record.CreatedAt = time.Now()
	if err := s.store.CreateStatus(ctx, record); err != nil {
		return storage.StatusRecord{}, err
	}
	metrics.StatusCreated.WithLabelValues(record.Type).Inc()
	return record, nil
}

func (s *Service) Get(ctx context.Context, id string) (storage.StatusRecord, error) {
	return s.store.GetStatus(ctx, id)
}

func (s *Service) List(ctx context.Context, guildID, userID, recordType string) ([]storage.StatusRecord, error) {
	return s.store.ListStatuses(ctx, guildID, userID, recordType)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteStatus(ctx, id)
}

func (s *Service) DeleteAll(ctx context.Context, guildID, userID, recordType string) error {
	return s.store.DeleteAllStatuses(ctx, guildID, userID, recordType)
}

// SweepExpired walks every record past its ends_at in fixed-size pages,
// reverses the platform-side effect and removes the record. A platform
// failure is logged and the record is removed anyway: the next
// moderator action is the recovery path, not a retry loop here.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	processed := 0
	lastFirst := ""
	for {
		page, err := s.store.ExpiredStatuses(ctx, now, s.pageSize)
		if err != nil {
			return processed, err
		}
		if len(page) == 0 {
			return processed, nil
		}
		// A page led by the same record means deletes are failing;
		// bail out instead of spinning until the next scheduled sweep.
		if page[0].ID == lastFirst {
			return processed, fmt.Errorf("sweep stalled on record %s", lastFirst)
		}
		lastFirst = page[0].ID
		for _, record := range page {
			s.expireOne(ctx, record)
			processed++
		}
		if len(page) < s.pageSize {
			return processed, nil
		}
	}
}

func (s *Service) expireOne(ctx context.Context, record storage.StatusRecord) {
	var platformErr error
	switch record.Type {
	case storage.StatusBan:
		platformErr = s.platform.Unban(record.GuildID, record.UserID)
	case storage.StatusMute:
		cfg, err := s.configs.GuildConfig(ctx, record.GuildID)
		if err == nil && cfg.MuteRoleID != "" {
			platformErr = s.platform.RemoveRole(record.GuildID, record.UserID, cfg.MuteRoleID)
		}
	case storage.StatusWarning:
		// Warnings never touched platform state.
	case storage.StatusReminder:
		if record.ChannelID != "" {
			content := fmt.Sprintf("<@%s> Reminder: %s", record.UserID, record.Description)
			platformErr = s.platform.SendChannelMessage(record.ChannelID, content)
		}
	}

	if platformErr != nil {
		s.logger.Warn("platform call failed during sweep, removing record anyway",
			zap.String("record", record.ID),
			zap.String("type", record.Type),
			zap.Error(platformErr))
	}
	metrics.IncSweep(record.Type, platformErr)

	s.logExpiry(ctx, record)

	if err := s.store.DeleteStatus(ctx, record.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error("failed to remove expired record",
			zap.String("record", record.ID), zap.Error(err))
	}
}

// logExpiry posts a log-channel notice and an audit row. Both are
// best-effort.
func (s *Service) logExpiry(ctx context.Context, record storage.StatusRecord) {
	event := storage.ModerationEvent{
		GuildID:   record.GuildID,
		UserID:    record.UserID,
		Level:     "info",
		Event:     "status_expired",
		Details:   record.Type + " " + record.ID,
		CreatedAt: time.Now(),
	}
	if err := s.store.AddModerationEvent(ctx, event); err != nil {
		s.logger.Warn("audit write failed", zap.String("record", record.ID), zap.Error(err))
	}

	cfg, err := s.configs.GuildConfig(ctx, record.GuildID)
	if err != nil || cfg.LogChannel == "" || record.Type == storage.StatusReminder {
		return
	}
	notice := fmt.Sprintf("%s for <@%s> expired", record.Type, record.UserID)
	if err := s.platform.SendChannelMessage(cfg.LogChannel, notice); err != nil {
		s.logger.Warn("log channel notice failed",
			zap.String("record", record.ID), zap.Error(err))
	}
}
