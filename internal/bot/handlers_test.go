package bot

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"serverguard/internal/audit"
	"serverguard/internal/blocklist"
	"serverguard/internal/cache"
	"serverguard/internal/classifier"
	"serverguard/internal/filter"
	"serverguard/internal/perms"
	"serverguard/internal/raid"
	"serverguard/internal/status"
	"serverguard/internal/storage"
	"serverguard/internal/xp"
)

type fakeChat struct {
	deletedMessages []filter.TrackedMessage
	deletedChannels []string
	sent            map[string][]string
	dms             []string
}

func newFakeChat() *fakeChat {
	return &fakeChat{sent: make(map[string][]string)}
}

func (c *fakeChat) DeleteMessage(channelID, messageID string) error {
	c.deletedMessages = append(c.deletedMessages, filter.TrackedMessage{ChannelID: channelID, MessageID: messageID})
	return nil
}

func (c *fakeChat) DeleteChannel(channelID string) error {
	c.deletedChannels = append(c.deletedChannels, channelID)
	return nil
}

func (c *fakeChat) SendMessage(channelID, content string) error {
	c.sent[channelID] = append(c.sent[channelID], content)
	return nil
}

func (c *fakeChat) DirectMessage(userID, content string) error {
	c.dms = append(c.dms, userID)
	return nil
}

type fakeDirectory struct{}

func (fakeDirectory) Member(ctx context.Context, guildID, userID string) (perms.Member, error) {
	return perms.Member{UserID: userID}, nil
}

type zeroScorer struct{}

func (zeroScorer) Score(string) float64 { return 0 }

func newTestBot(t *testing.T) (*Bot, *fakeChat) {
	t.Helper()
	logger := zap.NewNop()

	store, err := storage.New(":memory:", time.Minute)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(store.Close)

	filters := cache.New[*classifier.WordFilter](time.Minute)
	t.Cleanup(filters.Close)
	pipeline := filter.NewPipeline(
		blocklist.New("", time.Second, logger),
		zeroScorer{}, zeroScorer{},
		filters,
		filter.NewImageInspector(time.Second, logger),
		logger,
	)

	tracker := filter.NewTracker(time.Minute)
	t.Cleanup(tracker.Close)

	xpService := xp.NewService(store, 15, time.Hour, logger)
	t.Cleanup(xpService.Close)

	chat := newFakeChat()
	b := &Bot{
		defaults:    storage.GuildConfig{},
		logger:      logger,
		chat:        chat,
		store:       store,
		pipeline:    pipeline,
		spam:        tracker,
		xp:          xpService,
		audit:       audit.NewTrail(store, nil, logger),
		joinBatches: make(map[string][]raid.User),
		joinTimers:  make(map[string]*time.Timer),
	}
	b.statuses = status.NewService(store, b, b, 10, logger)
	b.perms = perms.NewResolver(store, fakeDirectory{}, logger)
	return b, chat
}

func saveConfig(t *testing.T, b *Bot, cfg storage.GuildConfig) {
	t.Helper()
	if err := b.store.SaveGuildConfig(context.Background(), cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}
}

func message(guildID, channelID, messageID, authorID, content string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        messageID,
		ChannelID: channelID,
		GuildID:   guildID,
		Author:    &discordgo.User{ID: authorID},
		Content:   content,
	}}
}

func TestThreadNameMatchDeletesThread(t *testing.T) {
	b, chat := newTestBot(t)
	saveConfig(t, b, storage.GuildConfig{GuildID: "g1", InviteFilter: true})
	ctx := context.Background()

	b.enforceThreadName(ctx, "g1", "t1", "u1", "join discord.gg/freestuff now")

	if len(chat.deletedChannels) != 1 || chat.deletedChannels[0] != "t1" {
		t.Fatalf("offending thread not deleted: %v", chat.deletedChannels)
	}
	// There is no message to remove for a thread name.
	if len(chat.deletedMessages) != 0 {
		t.Fatalf("unexpected message deletes: %v", chat.deletedMessages)
	}
	if len(chat.dms) != 1 || chat.dms[0] != "u1" {
		t.Fatalf("owner not notified: %v", chat.dms)
	}
}

func TestThreadNameCleanIsKept(t *testing.T) {
	b, chat := newTestBot(t)
	saveConfig(t, b, storage.GuildConfig{GuildID: "g1", InviteFilter: true})

	b.enforceThreadName(context.Background(), "g1", "t1", "u1", "weekend plans")

	if len(chat.deletedChannels) != 0 {
		t.Fatalf("clean thread deleted: %v", chat.deletedChannels)
	}
}

func TestSpamBurstDeletesInEachChannel(t *testing.T) {
	b, chat := newTestBot(t)
	saveConfig(t, b, storage.GuildConfig{GuildID: "g1", SpamLimit: 3})

	b.onMessageCreate(nil, message("g1", "c1", "m1", "u1", "one"))
	b.onMessageCreate(nil, message("g1", "c1", "m2", "u1", "two"))
	b.onMessageCreate(nil, message("g1", "c2", "m3", "u1", "three"))

	want := []filter.TrackedMessage{
		{ChannelID: "c1", MessageID: "m1"},
		{ChannelID: "c1", MessageID: "m2"},
		{ChannelID: "c2", MessageID: "m3"},
	}
	if len(chat.deletedMessages) != len(want) {
		t.Fatalf("want %d deletes, got %v", len(want), chat.deletedMessages)
	}
	for i, m := range chat.deletedMessages {
		if m != want[i] {
			t.Fatalf("delete %d: got %+v, want %+v", i, m, want[i])
		}
	}
	// The slow-down warning goes to the channel that tripped the limit.
	if len(chat.sent["c2"]) != 1 {
		t.Fatalf("warning missing from triggering channel: %v", chat.sent)
	}
}
