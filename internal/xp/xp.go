package xp

import (
	"context"
	"time"

	"go.uber.org/zap"

	"serverguard/internal/cache"
	"serverguard/internal/storage"
)

// Service awards message XP with a per-user cooldown. The cooldown
// lives in the expiring cache: losing it on restart just means one
// extra award, never a wrong balance.
type Service struct {
	store      *storage.Store
	cooldowns  *cache.Cache[struct{}]
	perMessage int64
	logger     *zap.Logger
}

func NewService(store *storage.Store, perMessage int, cooldown time.Duration, logger *zap.Logger) *Service {
	if perMessage <= 0 {
		perMessage = 15
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &Service{
		store:      store,
		cooldowns:  cache.New[struct{}](cooldown),
		perMessage: int64(perMessage),
		logger:     logger,
	}
}

// OnMessage awards XP unless the user is still cooling down. Returns
// the new level and whether the user just leveled up.
func (s *Service) OnMessage(ctx context.Context, guildID, userID string) (int, bool) {
	key := guildID + "/" + userID
	if _, onCooldown := s.cooldowns.Get(key); onCooldown {
		return 0, false
	}
	s.cooldowns.Set(key, struct{}{})

	profile, err := s.store.XPProfile(ctx, guildID, userID)
	if err != nil {
		s.logger.Warn("xp read failed", zap.String("user", userID), zap.Error(err))
		return 0, false
	}
	profile.XP += s.perMessage
	before := profile.Level
	profile.Level = levelFor(profile.XP)
	if err := s.store.SaveXPProfile(ctx, profile); err != nil {
		s.logger.Warn("xp write failed", zap.String("user", userID), zap.Error(err))
		return 0, false
	}
	return profile.Level, profile.Level > before
}

func (s *Service) Profile(ctx context.Context, guildID, userID string) (storage.XPProfile, error) {
	return s.store.XPProfile(ctx, guildID, userID)
}

func (s *Service) Close() {
	s.cooldowns.Close()
}

// levelFor is a simple quadratic curve: level n needs n*n*100 XP.
func levelFor(xp int64) int {
	level := 0
	for int64(level+1)*int64(level+1)*100 <= xp {
		level++
	}
	return level
}
