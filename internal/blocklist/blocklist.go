package blocklist

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"serverguard/internal/metrics"
)

// Table is the in-memory malicious-URL snapshot, url to threat
// category. Refreshes swap the whole map; a failed refresh keeps the
// last-known-good snapshot in place.
type Table struct {
	mu      sync.RWMutex
	entries map[string]string

	feedURL string
	client  *http.Client
	logger  *zap.Logger
}

func New(feedURL string, fetchTimeout time.Duration, logger *zap.Logger) *Table {
	if fetchTimeout <= 0 {
		fetchTimeout = 15 * time.Second
	}
	return &Table{
		entries: make(map[string]string),
		feedURL: feedURL,
		client:  &http.Client{Timeout: fetchTimeout},
		logger:  logger,
	}
}

// Match returns the threat category of the first known-bad URL found
// in text as a case-sensitive substring.
func (t *Table) Match(text string) (url, category string, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for u, c := range t.entries {
		if strings.Contains(text, u) {
			return u, c, true
		}
	}
	return "", "", false
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Refresh fetches the feed and swaps the snapshot on success.
func (t *Table) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.feedURL, nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feed returned %s", resp.Status)
	}

	next, err := parseFeed(resp.Body)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.entries = next
	t.mu.Unlock()
	metrics.BlocklistEntries.Set(float64(len(next)))
	t.logger.Info("blocklist refreshed", zap.Int("entries", len(next)))
	return nil
}

// parseFeed reads "url,category" rows, skipping comments and blanks.
func parseFeed(r io.Reader) (map[string]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.Comment = '#'

	entries := make(map[string]string)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(row) == 0 {
			continue
		}
		url := strings.TrimSpace(row[0])
		if url == "" {
			continue
		}
		category := "unknown"
		if len(row) > 1 && strings.TrimSpace(row[1]) != "" {
			category = strings.TrimSpace(row[1])
		}
		entries[url] = category
	}
	return entries, nil
}

// Start refreshes immediately, then on the fixed interval until ctx is
// done. Failures are logged and the previous snapshot keeps serving.
func (t *Table) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if err := t.Refresh(ctx); err != nil {
		t.logger.Warn("initial blocklist refresh failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Refresh(ctx); err != nil {
				t.logger.Warn("blocklist refresh failed, keeping previous snapshot",
					zap.Error(err), zap.Int("entries", t.Len()))
			}
		}
	}
}
