package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// StatusID builds the canonical record id.
func StatusID(guildID, userID, recordType, suffix string) string {
	return fmt.Sprintf("%s/%s/%s/%s", guildID, userID, recordType, suffix)
}

// CreateStatus inserts a new record. Mutes and bans are exclusive per
// guild and user; a second active one returns ErrConflict. Warnings and
// reminders stack freely.
func (s *Store) CreateStatus(ctx context.Context, record StatusRecord) error {
	if record.Type == StatusMute || record.Type == StatusBan {
		var count int64
		err := s.db.WithContext(ctx).Model(&StatusRecord{}).
			Where("guild_id = ? AND user_id = ? AND type = ?", record.GuildID, record.UserID, record.Type).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%s for %s/%s: %w", record.Type, record.GuildID, record.UserID, ErrConflict)
		}
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(&record).Error
}

func (s *Store) GetStatus(ctx context.Context, id string) (StatusRecord, error) {
	var record StatusRecord
	err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return StatusRecord{}, fmt.Errorf("status %s: %w", id, ErrNotFound)
		}
		return StatusRecord{}, err
	}
	return record, nil
}

// ListStatuses returns records scoped to a guild and user, optionally
// narrowed to one type. Results are oldest first.
func (s *Store) ListStatuses(ctx context.Context, guildID, userID, recordType string) ([]StatusRecord, error) {
	query := s.db.WithContext(ctx).
		Where("guild_id = ? AND user_id = ?", guildID, userID)
	if recordType != "" {
		query = query.Where("type = ?", recordType)
	}
	var records []StatusRecord
	err := query.Order("created_at ASC").Find(&records).Error
	return records, err
}

func (s *Store) DeleteStatus(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&StatusRecord{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("status %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteAllStatuses clears every record of one type for a user, used by
// unmute/unban and warning resets. Deleting nothing is not an error.
func (s *Store) DeleteAllStatuses(ctx context.Context, guildID, userID, recordType string) error {
	return s.db.WithContext(ctx).
		Where("guild_id = ? AND user_id = ? AND type = ?", guildID, userID, recordType).
		Delete(&StatusRecord{}).Error
}

// ExpiredStatuses pages through records whose EndsAt has passed,
// oldest expiry first. Records with a nil EndsAt never expire.
func (s *Store) ExpiredStatuses(ctx context.Context, now time.Time, limit int) ([]StatusRecord, error) {
	var records []StatusRecord
	err := s.db.WithContext(ctx).
		Where("ends_at IS NOT NULL AND ends_at <= ?", now).
		Order("ends_at ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}
