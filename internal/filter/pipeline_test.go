package filter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"serverguard/internal/blocklist"
	"serverguard/internal/cache"
	"serverguard/internal/classifier"
	"serverguard/internal/storage"
)

type guildCfg = storage.GuildConfig

type stubScorer float64

func (s stubScorer) Score(string) float64 { return float64(s) }

func newTestPipeline(t *testing.T, toxicity, hate float64) *Pipeline {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("evil.example/payload,malware\n"))
	}))
	t.Cleanup(srv.Close)

	table := blocklist.New(srv.URL, time.Second, zap.NewNop())
	if err := table.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh blocklist: %v", err)
	}

	filters := cache.New[*classifier.WordFilter](time.Minute)
	t.Cleanup(filters.Close)

	return NewPipeline(
		table,
		stubScorer(toxicity), stubScorer(hate),
		filters,
		NewImageInspector(time.Second, zap.NewNop()),
		zap.NewNop(),
	)
}

func TestDuplicateBoundary(t *testing.T) {
	// 10 words, 3 distinct: under the 35% cutoff.
	flagged := "a a a b b b c c c c"
	// 10 words, 4 distinct: exactly at round(10*0.35)=4, passes.
	passing := "a a a b b b c c c d"

	if !isDuplicate(flagged) {
		t.Fatalf("3/10 distinct should flag")
	}
	if isDuplicate(passing) {
		t.Fatalf("4/10 distinct should pass")
	}
}

func TestDuplicateCharacterRepetition(t *testing.T) {
	// "aaaaaaabcdef" has 6 distinct characters and 'a' repeats 7 times.
	if !isDuplicate("please stop writing aaaaaaabcdef everywhere") {
		t.Fatalf("character repetition should flag")
	}
	// Short words never trip the character rule.
	if isDuplicate("the zzzz word is fine here truly") {
		t.Fatalf("4-distinct-char word should be exempt")
	}
}

func TestPipelineDuplicateStage(t *testing.T) {
	p := newTestPipeline(t, 0, 0)
	cfg := guildCfg{GuildID: "g1", AutomodDuplicate: true}

	verdict, notices := p.Evaluate(context.Background(), "aaa aaa aaa aaa aaa aaa", cfg, false)
	if !verdict.Matched || verdict.Reason != ReasonDuplicate {
		t.Fatalf("want duplicate verdict, got %+v", verdict)
	}
	if len(notices) != 0 {
		t.Fatalf("unexpected notices: %+v", notices)
	}

	// Content of length <= 5 is never checked.
	verdict, _ = p.Evaluate(context.Background(), "a a a", cfg, false)
	if verdict.Matched {
		t.Fatalf("short content should bypass duplicate check")
	}
}

func TestPipelineMaliciousURL(t *testing.T) {
	p := newTestPipeline(t, 0, 0)
	cfg := guildCfg{GuildID: "g1", URLFilter: true}

	verdict, _ := p.Evaluate(context.Background(), "click https://evil.example/payload fast", cfg, false)
	if !verdict.Matched || verdict.Reason != ReasonMaliciousURL {
		t.Fatalf("want malicious_url, got %+v", verdict)
	}
}

func TestInviteMatching(t *testing.T) {
	cases := []struct {
		text string
		hit  bool
	}{
		{"join discord.gg/abc123 now", true},
		{"https://guilded.gg/i/xyz987", true},
		{"see discord.com/invite/cool", true},
		{"look at discord.gg/channels/123/456", false},
		{"no links here", false},
	}
	for _, tc := range cases {
		if _, ok := matchInvite(tc.text); ok != tc.hit {
			t.Fatalf("matchInvite(%q) = %v, want %v", tc.text, ok, tc.hit)
		}
	}
}

func TestPipelineShortCircuitInviteBeforeBlacklist(t *testing.T) {
	p := newTestPipeline(t, 0, 0)
	cfg := guildCfg{GuildID: "g1", InviteFilter: true, WordBlacklist: []string{"badword"}}

	verdict, _ := p.Evaluate(context.Background(), "badword discord.gg/abc", cfg, false)
	if verdict.Reason != ReasonInviteLink {
		t.Fatalf("earlier stage should win, got %q", verdict.Reason)
	}
}

func TestToxicityThresholdAndNotice(t *testing.T) {
	ctx := context.Background()
	cfg := guildCfg{GuildID: "g1", ToxicityThreshold: 80}

	// 85% crosses the removal threshold.
	p := newTestPipeline(t, 0.85, 0.10)
	verdict, _ := p.Evaluate(ctx, "some text", cfg, false)
	if !verdict.Matched || verdict.Reason != ReasonToxicity {
		t.Fatalf("want toxicity verdict, got %+v", verdict)
	}
	if verdict.Certainty == nil || *verdict.Certainty != 85 {
		t.Fatalf("want certainty 85, got %v", verdict.Certainty)
	}

	// 60% misses the threshold but crosses the informational floor.
	p = newTestPipeline(t, 0.60, 0.10)
	verdict, notices := p.Evaluate(ctx, "some text", cfg, false)
	if verdict.Matched {
		t.Fatalf("60%% should not be removed at threshold 80")
	}
	if len(notices) != 1 || notices[0].Category != ReasonToxicity || notices[0].Certainty != 60 {
		t.Fatalf("want one toxicity notice at 60, got %+v", notices)
	}

	// 40% is below the 50 floor: no removal, no notice.
	p = newTestPipeline(t, 0.40, 0.10)
	verdict, notices = p.Evaluate(ctx, "some text", cfg, false)
	if verdict.Matched || len(notices) != 0 {
		t.Fatalf("40%% should be silent, got %+v %+v", verdict, notices)
	}
}

func TestBlacklistCensoredEvidence(t *testing.T) {
	p := newTestPipeline(t, 0, 0)
	cfg := guildCfg{GuildID: "g1", WordBlacklist: []string{"badword"}}

	verdict, _ := p.Evaluate(context.Background(), "such a badword here", cfg, false)
	if !verdict.Matched || verdict.Reason != ReasonBlacklistWord {
		t.Fatalf("want blacklist_word, got %+v", verdict)
	}
	if verdict.Evidence != "such a ******* here" {
		t.Fatalf("want censored evidence, got %q", verdict.Evidence)
	}
}

func TestUntrustedImageByExtension(t *testing.T) {
	p := newTestPipeline(t, 0, 0)
	cfg := guildCfg{GuildID: "g1", BlockUntrustedImages: true}

	content := "look [at this](https://example.test/cat.png)"
	verdict, _ := p.Evaluate(context.Background(), content, cfg, false)
	if !verdict.Matched || verdict.Reason != ReasonUntrustedImage {
		t.Fatalf("want untrusted_image, got %+v", verdict)
	}

	// Trusted authors bypass the image stage.
	verdict, _ = p.Evaluate(context.Background(), content, cfg, true)
	if verdict.Matched {
		t.Fatalf("trusted author should bypass image policy")
	}
}

func TestImageInspectorHeadersAndMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/raw":
			w.Header().Set("Content-Type", "image/png")
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(`<html><head><meta property="og:image" content="https://x/y.png"></head></html>`))
		default:
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte("hello"))
		}
	}))
	defer srv.Close()

	in := NewImageInspector(time.Second, zap.NewNop())
	ctx := context.Background()

	if !in.IsImage(ctx, srv.URL+"/raw") {
		t.Fatalf("image content type not detected")
	}
	if !in.IsImage(ctx, srv.URL+"/page") {
		t.Fatalf("og:image page not detected")
	}
	if in.IsImage(ctx, srv.URL+"/plain") {
		t.Fatalf("plain text misdetected as image")
	}
	// Unreachable host fails open.
	if in.IsImage(ctx, "http://127.0.0.1:1/nope") {
		t.Fatalf("fetch failure must not block the link")
	}
}

func TestSpamTrackerFiresAtExactFill(t *testing.T) {
	tracker := NewTracker(time.Minute)
	defer tracker.Close()

	for i, id := range []string{"m1", "m2"} {
		if msgs, burst := tracker.Track("g1", "u1", "c1", id, 3); burst || msgs != nil {
			t.Fatalf("message %d fired early", i)
		}
	}
	msgs, burst := tracker.Track("g1", "u1", "c1", "m3", 3)
	if !burst || len(msgs) != 3 {
		t.Fatalf("window should fire at exact fill, got burst=%v msgs=%v", burst, msgs)
	}

	// The window resets after firing.
	if _, burst := tracker.Track("g1", "u1", "c1", "m4", 3); burst {
		t.Fatalf("window should reset after burst")
	}

	// Separate users get separate windows.
	if _, burst := tracker.Track("g1", "u2", "c1", "m5", 3); burst {
		t.Fatalf("windows leaked across users")
	}
}

func TestSpamTrackerKeepsChannelPerMessage(t *testing.T) {
	tracker := NewTracker(time.Minute)
	defer tracker.Close()

	tracker.Track("g1", "u1", "c1", "m1", 3)
	tracker.Track("g1", "u1", "c2", "m2", 3)
	msgs, burst := tracker.Track("g1", "u1", "c1", "m3", 3)
	if !burst {
		t.Fatalf("window should fire across channels")
	}
	want := []TrackedMessage{
		{ChannelID: "c1", MessageID: "m1"},
		{ChannelID: "c2", MessageID: "m2"},
		{ChannelID: "c1", MessageID: "m3"},
	}
	for i, m := range msgs {
		if m != want[i] {
			t.Fatalf("entry %d: got %+v, want %+v", i, m, want[i])
		}
	}
}
