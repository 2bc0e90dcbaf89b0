package blocklist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRefreshAndMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# comment line\nevil.example/payload,malware\nphish.example,phishing\n"))
	}))
	defer srv.Close()

	table := New(srv.URL, time.Second, zap.NewNop())
	if err := table.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if table.Len() != 2 {
		t.Fatalf("want 2 entries, got %d", table.Len())
	}

	url, category, ok := table.Match("check this out https://evil.example/payload now")
	if !ok || url != "evil.example/payload" || category != "malware" {
		t.Fatalf("match: url=%q category=%q ok=%v", url, category, ok)
	}

	// Substring matching is case-sensitive.
	if _, _, ok := table.Match("https://EVIL.example/payload"); ok {
		t.Fatalf("unexpected case-insensitive match")
	}
	if _, _, ok := table.Match("nothing suspicious"); ok {
		t.Fatalf("unexpected match on clean text")
	}
}

func TestRefreshFailureKeepsSnapshot(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("evil.example,malware\n"))
	}))
	defer srv.Close()

	table := New(srv.URL, time.Second, zap.NewNop())
	if err := table.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	fail.Store(true)
	if err := table.Refresh(context.Background()); err == nil {
		t.Fatalf("expected refresh error")
	}
	if _, _, ok := table.Match("evil.example"); !ok {
		t.Fatalf("previous snapshot was lost")
	}
}
