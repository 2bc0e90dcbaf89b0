package raid

import (
	"testing"
	"time"
)

func TestScoreBatchSimilarNames(t *testing.T) {
	now := time.Now()
	created := now.Add(-30 * 24 * time.Hour)
	users := []User{
		{ID: "1", Name: "Alex123", HasAvatar: true, CreatedAt: created},
		{ID: "2", Name: "Alex999", HasAvatar: true, CreatedAt: created},
	}
	ScoreBatch(users, now)

	// Digit-stripped names are identical, so the similarity term must
	// contribute even in a two-user batch.
	for _, u := range users {
		if u.Score <= 0 {
			t.Fatalf("user %s scored %v, want > 0", u.ID, u.Score)
		}
	}
	if users[0].Score != users[1].Score {
		t.Fatalf("symmetric batch scored asymmetrically: %v vs %v", users[0].Score, users[1].Score)
	}
}

func TestScoreBatchDistinctiveNameScoresLowest(t *testing.T) {
	now := time.Now()
	created := now.Add(-30 * 24 * time.Hour)
	users := []User{
		{ID: "1", Name: "Raider01", HasAvatar: true, CreatedAt: created},
		{ID: "2", Name: "Raider02", HasAvatar: true, CreatedAt: created},
		{ID: "3", Name: "Raider03", HasAvatar: true, CreatedAt: created},
		{ID: "4", Name: "Raider04", HasAvatar: true, CreatedAt: created},
		{ID: "5", Name: "CompletelyUnrelatedPerson", HasAvatar: true, CreatedAt: created},
	}
	ScoreBatch(users, now)

	outlier := users[4].Score
	for _, u := range users[:4] {
		if u.Score <= outlier {
			t.Fatalf("uniform member %s (%v) should outscore outlier (%v)", u.ID, u.Score, outlier)
		}
	}
}

func TestScoreBatchAgeAndAvatarTerms(t *testing.T) {
	now := time.Now()
	users := []User{
		{ID: "fresh", Name: "Alpha", HasAvatar: false, CreatedAt: now},
		{ID: "old", Name: "Omega", HasAvatar: true, CreatedAt: now.Add(-90 * 24 * time.Hour)},
	}
	ScoreBatch(users, now)

	// Brand new account with no avatar: age term 1, avatar term 1.
	if users[0].Score <= users[1].Score {
		t.Fatalf("fresh avatarless account (%v) should outscore aged one (%v)",
			users[0].Score, users[1].Score)
	}
	// The aged account with avatar and a distinct name scores zero.
	if users[1].Score != 0 {
		t.Fatalf("aged account should score 0, got %v", users[1].Score)
	}
}
