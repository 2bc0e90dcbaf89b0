package verify

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
	"go.uber.org/zap"
	"golang.org/x/net/idna"

	"serverguard/internal/cache"
)

// youngDomainAge marks social-profile domains registered more recently
// than this as risky.
const youngDomainAge = 90 * 24 * time.Hour

// Service issues short-lived verification codes through the shared
// cache (both the bot and the web process must see them) and scores
// the risk of the social links a user submits.
type Service struct {
	codes  *cache.Shared
	logger *zap.Logger
}

func NewService(codes *cache.Shared, logger *zap.Logger) *Service {
	return &Service{codes: codes, logger: logger}
}

// IssueCode creates a new verification code for the user.
func (s *Service) IssueCode(ctx context.Context, guildID, userID string) (string, error) {
	code := uuid.NewString()
	key := codeKey(guildID, userID)
	if err := s.codes.Set(ctx, key, code); err != nil {
		return "", fmt.Errorf("store verification code: %w", err)
	}
	return code, nil
}

// Redeem consumes the code. A wrong or expired code fails with a
// distinct message telling the user to restart the flow.
func (s *Service) Redeem(ctx context.Context, guildID, userID, code string) error {
	key := codeKey(guildID, userID)
	stored, ok := s.codes.Get(ctx, key)
	if !ok {
		return fmt.Errorf("verification code expired, restart verification")
	}
	if stored != code {
		return fmt.Errorf("verification code mismatch, restart verification")
	}
	s.codes.Remove(ctx, key)
	return nil
}

func codeKey(guildID, userID string) string {
	return "verify/" + guildID + "/" + userID
}

// LinkRisk holds the per-link assessment of a submitted social link.
type LinkRisk struct {
	Link   string  `json:"link"`
	Domain string  `json:"domain"`
	Risk   float64 `json:"risk"`
	Note   string  `json:"note,omitempty"`
}

// ScoreLinks assesses submitted social links by domain registration
// age over whois. Lookup failures score 0: verification must not
// hinge on a flaky whois server.
func (s *Service) ScoreLinks(ctx context.Context, links []string, now time.Time) []LinkRisk {
	results := make([]LinkRisk, 0, len(links))
	for _, link := range links {
		results = append(results, s.scoreLink(link, now))
	}
	return results
}

func (s *Service) scoreLink(link string, now time.Time) LinkRisk {
	domain := extractDomain(link)
	if domain == "" {
		return LinkRisk{Link: link, Risk: 0, Note: "unparseable link"}
	}
	result := LinkRisk{Link: link, Domain: domain}

	raw, err := whois.Whois(domain)
	if err != nil {
		s.logger.Debug("whois lookup failed", zap.String("domain", domain), zap.Error(err))
		return result
	}
	parsed, err := whoisparser.Parse(raw)
	if err != nil || parsed.Domain == nil || parsed.Domain.CreatedDateInTime == nil {
		return result
	}

	age := now.Sub(*parsed.Domain.CreatedDateInTime)
	if age < youngDomainAge {
		result.Risk = 1 - age.Seconds()/youngDomainAge.Seconds()
		result.Note = "recently registered domain"
	}
	return result
}

func extractDomain(link string) string {
	if !strings.Contains(link, "://") {
		link = "https://" + link
	}
	parsed, err := url.Parse(link)
	if err != nil || parsed.Hostname() == "" {
		return ""
	}
	host, err := idna.Lookup.ToASCII(parsed.Hostname())
	if err != nil {
		return parsed.Hostname()
	}
	return host
}
