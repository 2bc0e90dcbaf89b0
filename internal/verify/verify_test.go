package verify

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"serverguard/internal/cache"
	"serverguard/internal/storage"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := storage.New(":memory:", time.Minute)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(store.Close)
	return NewService(cache.NewShared(store, time.Minute), zap.NewNop())
}

func TestIssueAndRedeem(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	code, err := svc.IssueCode(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if code == "" {
		t.Fatalf("empty code")
	}

	if err := svc.Redeem(ctx, "g1", "u1", "wrong-code"); err == nil {
		t.Fatalf("wrong code should fail")
	}
	if err := svc.Redeem(ctx, "g1", "u1", code); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	// Codes are single use.
	if err := svc.Redeem(ctx, "g1", "u1", code); err == nil {
		t.Fatalf("second redeem should fail")
	}
}

func TestExtractDomain(t *testing.T) {
	cases := map[string]string{
		"https://twitter.com/someone":  "twitter.com",
		"instagram.com/someone":        "instagram.com",
		"https://sub.example.org/p?q=1": "sub.example.org",
		"not a url at all ::":          "",
	}
	for link, want := range cases {
		if got := extractDomain(link); got != want {
			t.Fatalf("extractDomain(%q) = %q, want %q", link, got, want)
		}
	}
}

func TestScoreLinksUnparseable(t *testing.T) {
	svc := newTestService(t)
	results := svc.ScoreLinks(context.Background(), []string{"not a url ::"}, time.Now())
	if len(results) != 1 || results[0].Risk != 0 {
		t.Fatalf("unparseable link should score 0: %+v", results)
	}
}
