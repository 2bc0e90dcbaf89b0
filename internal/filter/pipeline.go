package filter

import (
	"context"
	"math"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"serverguard/internal/blocklist"
	"serverguard/internal/cache"
	"serverguard/internal/classifier"
	"serverguard/internal/storage"
)

// Filter reasons, in pipeline order.
const (
	ReasonDuplicate      = "duplicate"
	ReasonMaliciousURL   = "malicious_url"
	ReasonInviteLink     = "invite_link"
	ReasonToxicity       = "toxicity"
	ReasonHateSpeech     = "hate_speech"
	ReasonBlacklistWord  = "blacklist_word"
	ReasonUntrustedImage = "untrusted_image"
)

// noticeFloor is the fixed informational threshold: classifier scores
// at or above it are reported to the log channel even when they fall
// under the guild's removal threshold. Independent of guild config on
// purpose.
const noticeFloor = 50.0

// Verdict is the outcome of one pass. Certainty is a percentage and
// only set for classifier-backed reasons.
type Verdict struct {
	Matched   bool
	Reason    string
	Certainty *float64
	Evidence  string
}

// Notice is an informational classifier result below the removal
// threshold; it triggers a log entry, never a deletion.
type Notice struct {
	Category  string
	Certainty float64
}

// Scorer yields a positive-class probability in [0,1] for text.
type Scorer interface {
	Score(text string) float64
}

// Pipeline runs the ordered content checks for one message or topic.
// Stages short-circuit on first match; later stages are more expensive
// or more subjective than earlier ones, so the order is fixed.
type Pipeline struct {
	blocklist  *blocklist.Table
	toxicity   Scorer
	hateSpeech Scorer
	filters    *cache.Cache[*classifier.WordFilter]
	images     *ImageInspector
	logger     *zap.Logger
}

func NewPipeline(
	table *blocklist.Table,
	toxicity, hateSpeech Scorer,
	filterCache *cache.Cache[*classifier.WordFilter],
	images *ImageInspector,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		blocklist:  table,
		toxicity:   toxicity,
		hateSpeech: hateSpeech,
		filters:    filterCache,
		images:     images,
		logger:     logger,
	}
}

// InvalidateWordFilter drops the cached per-guild filter, called
// whenever the guild's word list changes.
func (p *Pipeline) InvalidateWordFilter(guildID string) {
	p.filters.Remove(guildID)
}

// Evaluate runs the pipeline over content. Trusted authors never reach
// the image stage; the caller is expected to skip Evaluate entirely
// for moderators and admins.
func (p *Pipeline) Evaluate(ctx context.Context, content string, cfg storage.GuildConfig, trusted bool) (Verdict, []Notice) {
	if cfg.AutomodDuplicate && len(content) > 5 && isDuplicate(content) {
		return Verdict{Matched: true, Reason: ReasonDuplicate, Evidence: content}, nil
	}

	if cfg.URLFilter {
		if url, category, ok := p.blocklist.Match(content); ok {
			return Verdict{Matched: true, Reason: ReasonMaliciousURL, Evidence: url + " (" + category + ")"}, nil
		}
	}

	if cfg.InviteFilter {
		if invite, ok := matchInvite(content); ok {
			return Verdict{Matched: true, Reason: ReasonInviteLink, Evidence: invite}, nil
		}
	}

	if cfg.ToxicityThreshold > 0 || cfg.HateSpeechThreshold > 0 {
		toxicity := p.toxicity.Score(content) * 100
		hate := p.hateSpeech.Score(content) * 100

		if cfg.ToxicityThreshold > 0 && toxicity >= float64(cfg.ToxicityThreshold) {
			return Verdict{Matched: true, Reason: ReasonToxicity, Certainty: &toxicity, Evidence: content}, nil
		}
		if cfg.HateSpeechThreshold > 0 && hate >= float64(cfg.HateSpeechThreshold) {
			return Verdict{Matched: true, Reason: ReasonHateSpeech, Certainty: &hate, Evidence: content}, nil
		}

		// Below the removal threshold but still notable.
		if toxicity >= noticeFloor || hate >= noticeFloor {
			category, certainty := ReasonToxicity, toxicity
			if hate > toxicity {
				category, certainty = ReasonHateSpeech, hate
			}
			verdict, notices := p.evaluateTail(ctx, content, cfg, trusted)
			return verdict, append([]Notice{{Category: category, Certainty: certainty}}, notices...)
		}
	}

	return p.evaluateTail(ctx, content, cfg, trusted)
}

// evaluateTail covers the stages after the classifiers so a notice can
// be emitted alongside a later-stage match.
func (p *Pipeline) evaluateTail(ctx context.Context, content string, cfg storage.GuildConfig, trusted bool) (Verdict, []Notice) {
	if len(cfg.WordBlacklist) > 0 {
		wf := p.wordFilter(cfg)
		if wf.Contains(content) {
			return Verdict{Matched: true, Reason: ReasonBlacklistWord, Evidence: wf.Censor(content)}, nil
		}
	}

	if !trusted && cfg.BlockUntrustedImages {
		for _, link := range markdownLinks(content) {
			if p.images.IsImage(ctx, link) {
				return Verdict{Matched: true, Reason: ReasonUntrustedImage, Evidence: link}, nil
			}
		}
	}

	return Verdict{}, nil
}

func (p *Pipeline) wordFilter(cfg storage.GuildConfig) *classifier.WordFilter {
	if wf, ok := p.filters.Get(cfg.GuildID); ok {
		return wf
	}
	wf := classifier.NewWordFilter(cfg.WordBlacklist)
	p.filters.Set(cfg.GuildID, wf)
	p.logger.Debug("word filter rebuilt",
		zap.String("guild", cfg.GuildID), zap.Int("words", len(cfg.WordBlacklist)))
	return wf
}

// isDuplicate flags repetitive content: too few distinct words, or a
// word whose most frequent character repeats more often than the word
// has distinct characters. Short words are exempt from the character
// rule, they trip it too easily.
func isDuplicate(content string) bool {
	words := strings.Fields(content)
	if len(words) == 0 {
		return false
	}

	distinct := make(map[string]struct{}, len(words))
	for _, w := range words {
		distinct[w] = struct{}{}
	}
	if len(distinct) < int(math.Round(float64(len(words))*0.35)) {
		return true
	}

	for _, w := range words {
		counts := make(map[rune]int)
		for _, r := range w {
			counts[r]++
		}
		if len(counts) <= 4 {
			continue
		}
		for _, n := range counts {
			if n > len(counts) {
				return true
			}
		}
	}
	return false
}

var inviteRe = regexp.MustCompile(`(?i)\b(?:discord\.gg|discord(?:app)?\.com/invite|guilded\.gg)/(\S+)`)

// matchInvite recognizes invite links. A path with no further slash or
// an explicit "i/" prefix is an invite; anything else (channel and
// message deep links) is a false positive and skipped.
func matchInvite(content string) (string, bool) {
	for _, m := range inviteRe.FindAllStringSubmatch(content, -1) {
		path := strings.TrimRight(m[1], ".,!?)")
		if strings.HasPrefix(path, "i/") || !strings.Contains(path, "/") {
			return m[0], true
		}
	}
	return "", false
}

var markdownLinkRe = regexp.MustCompile(`\[[^\]]*\]\((\S+?)\)`)

func markdownLinks(content string) []string {
	matches := markdownLinkRe.FindAllStringSubmatch(content, -1)
	links := make([]string, 0, len(matches))
	for _, m := range matches {
		links = append(links, m[1])
	}
	return links
}
