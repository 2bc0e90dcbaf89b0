package perms

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"serverguard/internal/storage"
)

type fakeDirectory struct {
	member Member
	calls  int
}

func (f *fakeDirectory) Member(ctx context.Context, guildID, userID string) (Member, error) {
	f.calls++
	return f.member, nil
}

func newTestResolver(t *testing.T, directory *fakeDirectory) *Resolver {
	t.Helper()
	store, err := storage.New(":memory:", time.Minute)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(store.Close)
	return NewResolver(store, directory, zap.NewNop())
}

func TestLevelResolution(t *testing.T) {
	cfg := storage.GuildConfig{
		GuildID:    "g1",
		RoleLevels: map[string]int{"mod-role": 1, "admin-role": 2},
	}
	cases := []struct {
		name   string
		member Member
		want   int
	}{
		{"owner", Member{IsOwner: true}, LevelOwner},
		{"manager", Member{CanManage: true}, LevelAdmin},
		{"configured role", Member{RoleIDs: []string{"mod-role"}}, 2},
		{"highest configured role wins", Member{RoleIDs: []string{"mod-role", "admin-role"}}, 3},
		{"no roles", Member{}, LevelNone},
	}
	for _, tc := range cases {
		directory := &fakeDirectory{member: tc.member}
		r := newTestResolver(t, directory)
		level, err := r.Level(context.Background(), cfg, "u1")
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if level != tc.want {
			t.Fatalf("%s: want level %d, got %d", tc.name, tc.want, level)
		}
	}
}

func TestLevelCachedUntilInvalidated(t *testing.T) {
	cfg := storage.GuildConfig{GuildID: "g1", RoleLevels: map[string]int{"mod-role": 1}}
	directory := &fakeDirectory{member: Member{RoleIDs: []string{"mod-role"}}}
	r := newTestResolver(t, directory)
	ctx := context.Background()

	if _, err := r.Level(ctx, cfg, "u1"); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if _, err := r.Level(ctx, cfg, "u1"); err != nil {
		t.Fatalf("cached resolve: %v", err)
	}
	if directory.calls != 1 {
		t.Fatalf("want 1 platform fetch, got %d", directory.calls)
	}

	if err := r.Invalidate(ctx, "g1", "u1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := r.Level(ctx, cfg, "u1"); err != nil {
		t.Fatalf("resolve after invalidation: %v", err)
	}
	if directory.calls != 2 {
		t.Fatalf("invalidation should force a refetch, got %d calls", directory.calls)
	}
}

func TestZeroLevelRecomputed(t *testing.T) {
	cfg := storage.GuildConfig{GuildID: "g1", RoleLevels: map[string]int{"mod-role": 1}}
	directory := &fakeDirectory{member: Member{}}
	r := newTestResolver(t, directory)
	ctx := context.Background()

	if level, err := r.Level(ctx, cfg, "u1"); err != nil || level != 0 {
		t.Fatalf("first resolve: level=%d err=%v", level, err)
	}

	// A cached zero is not trusted; the user may have just gained a role.
	directory.member = Member{RoleIDs: []string{"mod-role"}}
	level, err := r.Level(ctx, cfg, "u1")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if level != 2 {
		t.Fatalf("zero level should recompute, got %d", level)
	}
}

func TestTrusted(t *testing.T) {
	cfg := storage.GuildConfig{GuildID: "g1", TrustedRoles: []string{"regular"}}
	cases := []struct {
		name   string
		member Member
		want   bool
	}{
		{"owner", Member{IsOwner: true}, true},
		{"manager", Member{CanManage: true}, true},
		{"trusted role", Member{RoleIDs: []string{"regular"}}, true},
		{"plain member", Member{RoleIDs: []string{"other"}}, false},
	}
	for _, tc := range cases {
		directory := &fakeDirectory{member: tc.member}
		r := newTestResolver(t, directory)
		trusted, err := r.Trusted(context.Background(), cfg, "u1")
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if trusted != tc.want {
			t.Fatalf("%s: want %v, got %v", tc.name, tc.want, trusted)
		}
	}
}
