package perms

import (
	"context"

	"go.uber.org/zap"

	"serverguard/internal/storage"
)

// Permission levels.
const (
	LevelNone      = 0
	LevelModerator = 2
	LevelAdmin     = 3
	LevelOwner     = 4
)

// Member is the live platform view of a user the resolver needs.
type Member struct {
	UserID    string
	RoleIDs   []string
	IsOwner   bool
	CanManage bool
}

// GuildDirectory fetches live member state from the platform.
type GuildDirectory interface {
	Member(ctx context.Context, guildID, userID string) (Member, error)
}

// Resolver computes effective permission levels and trust. Levels are
// written through to the persisted cache and only recomputed when the
// cached value is absent or zero, or after an explicit invalidation on
// a role update. Trust is always resolved live.
type Resolver struct {
	store     *storage.Store
	directory GuildDirectory
	logger    *zap.Logger
}

func NewResolver(store *storage.Store, directory GuildDirectory, logger *zap.Logger) *Resolver {
	return &Resolver{store: store, directory: directory, logger: logger}
}

// Level resolves the user's permission level: 4 for the owner, 3 for
// server-manage capability, otherwise the highest configured role
// level plus one, else 0.
func (r *Resolver) Level(ctx context.Context, cfg storage.GuildConfig, userID string) (int, error) {
	if cached, ok, err := r.store.PermissionLevel(ctx, cfg.GuildID, userID); err != nil {
		return 0, err
	} else if ok && cached > 0 {
		return cached, nil
	}

	member, err := r.directory.Member(ctx, cfg.GuildID, userID)
	if err != nil {
		return 0, err
	}
	level := computeLevel(cfg, member)

	if err := r.store.SavePermissionLevel(ctx, cfg.GuildID, userID, level); err != nil {
		r.logger.Warn("permission cache write failed",
			zap.String("guild", cfg.GuildID), zap.String("user", userID), zap.Error(err))
	}
	return level, nil
}

func computeLevel(cfg storage.GuildConfig, member Member) int {
	if member.IsOwner {
		return LevelOwner
	}
	if member.CanManage {
		return LevelAdmin
	}
	best := LevelNone
	for _, roleID := range member.RoleIDs {
		if configured, ok := cfg.RoleLevels[roleID]; ok && configured+1 > best {
			best = configured + 1
		}
	}
	return best
}

// Invalidate drops the cached level, called on bulk role updates.
func (r *Resolver) Invalidate(ctx context.Context, guildID, userID string) error {
	return r.store.DropPermissionLevel(ctx, guildID, userID)
}

// Trusted reports whether the user is exempt from the untrusted-image
// policy: owner, server-manage capability, or any trusted role.
// Deliberately uncached; the live lookup is cheap enough and staleness
// here is worse than the extra fetch.
func (r *Resolver) Trusted(ctx context.Context, cfg storage.GuildConfig, userID string) (bool, error) {
	member, err := r.directory.Member(ctx, cfg.GuildID, userID)
	if err != nil {
		return false, err
	}
	if member.IsOwner || member.CanManage {
		return true, nil
	}
	for _, roleID := range member.RoleIDs {
		for _, trusted := range cfg.TrustedRoles {
			if roleID == trusted {
				return true, nil
			}
		}
	}
	return false, nil
}
