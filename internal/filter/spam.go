package filter

import (
	"time"

	"serverguard/internal/cache"
	"serverguard/internal/metrics"
)

// TrackedMessage locates one buffered message. A burst can span
// channels, so every entry carries the channel it was posted in.
type TrackedMessage struct {
	ChannelID string
	MessageID string
}

// Tracker counts messages per (guild, user) in a short expiring
// window. The window fires exactly when it fills: Track returns every
// buffered message, including the newest, and resets. An over-full
// window (possible when the limit was lowered mid-window) never fires.
type Tracker struct {
	windows *cache.Cache[[]TrackedMessage]
}

func NewTracker(windowTTL time.Duration) *Tracker {
	if windowTTL <= 0 {
		windowTTL = 10 * time.Second
	}
	return &Tracker{windows: cache.New[[]TrackedMessage](windowTTL)}
}

// Track records the message and reports whether the window just
// reached limit. On a burst the returned slice holds the messages to
// delete.
func (t *Tracker) Track(guildID, userID, channelID, messageID string, limit int) ([]TrackedMessage, bool) {
	if limit <= 0 {
		return nil, false
	}
	key := guildID + "/" + userID
	window, _ := t.windows.Get(key)
	window = append(window, TrackedMessage{ChannelID: channelID, MessageID: messageID})
	if len(window) == limit {
		t.windows.Remove(key)
		metrics.SpamBursts.Inc()
		return window, true
	}
	t.windows.Set(key, window)
	return nil, false
}

func (t *Tracker) Close() {
	t.windows.Close()
}
