package raid

import (
	"strings"
	"time"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// maxAccountAge is the ceiling for the account-age term: anything
// older contributes nothing to the score.
const maxAccountAge = 48 * time.Hour

// User is one freshly joined member under evaluation. Scores are
// relative within a batch, not absolute probabilities.
type User struct {
	ID        string
	Name      string
	HasAvatar bool
	CreatedAt time.Time

	Score float64
}

// ScoreBatch scores every user against the rest of the batch:
// name similarity by edit distance over digit-stripped names, a
// missing avatar, and a young account. Each term is normalized to at
// most 2, 1 and 1 respectively and the final score is the unweighted
// average of the four points, as a percentage.
func ScoreBatch(users []User, now time.Time) {
	if len(users) == 0 {
		return
	}

	stripped := make([]string, len(users))
	for i, u := range users {
		stripped[i] = stripDigits(u.Name)
	}

	// The cap is one third of the batch size, kept fractional so small
	// batches still produce a usable similarity term.
	simCap := float64(len(users)) / 3
	for i := range users {
		cutoff := len([]rune(stripped[i])) / 2
		count := 0.0
		for j := range users {
			if j == i {
				continue
			}
			if levenshtein.ComputeDistance(stripped[i], stripped[j]) <= cutoff {
				count++
			}
		}
		if count > simCap {
			count = simCap
		}
		similarity := count / simCap * 2

		avatar := 0.0
		if !users[i].HasAvatar {
			avatar = 1
		}

		age := now.Sub(users[i].CreatedAt)
		if age < 0 {
			age = 0
		}
		if age > maxAccountAge {
			age = maxAccountAge
		}
		ageScore := 1 - age.Seconds()/maxAccountAge.Seconds()

		users[i].Score = (similarity + avatar + ageScore) / 4 * 100
	}
}

func stripDigits(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return -1
		}
		return r
	}, name)
}
