package pricing

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kailas-cloud/quotagate/internal/domain"
	"github.com/kailas-cloud/quotagate/internal/domain/request"
	"github.com/kailas-cloud/quotagate/internal/domain/tier"
)

// Config holds the pricing knobs. Zero values fall back to DefaultConfig.
type Config struct {
	BaseCost             int64
	LongPayloadThreshold int // runes
	LongPayloadIncrement int64
	MarkerIncrement      int64
	// ExpensiveMarkers are matched case-insensitively as substrings.
	ExpensiveMarkers []string
	// BlockedTerms reject the payload outright (case-insensitive).
	BlockedTerms     []string
	MaxPayloadLength int // runes, applies to every tier
}

// DefaultConfig returns the built-in pricing.
func DefaultConfig() Config {
	return Config{
		BaseCost:             1,
		LongPayloadThreshold: 280,
		LongPayloadIncrement: 1,
		MarkerIncrement:      2,
		ExpensiveMarkers:     []string{"analyze", "forecast", "compare", "predict", "simulate"},
		MaxPayloadLength:     4000,
	}
}

// Policy prices requests. It is pure: no I/O, no clock.
type Policy struct {
	cfg     Config
	markers []string
	blocked []string
}

// New creates a Policy.
func New(cfg Config) *Policy {
	def := DefaultConfig()
	if cfg.BaseCost <= 0 {
		cfg.BaseCost = def.BaseCost
	}
	if cfg.LongPayloadThreshold <= 0 {
		cfg.LongPayloadThreshold = def.LongPayloadThreshold
	}
	if cfg.LongPayloadIncrement < 0 {
		cfg.LongPayloadIncrement = def.LongPayloadIncrement
	}
	if cfg.MarkerIncrement < 0 {
		cfg.MarkerIncrement = def.MarkerIncrement
	}
	if cfg.ExpensiveMarkers == nil {
		cfg.ExpensiveMarkers = def.ExpensiveMarkers
	}
	if cfg.MaxPayloadLength <= 0 {
		cfg.MaxPayloadLength = def.MaxPayloadLength
	}
	return &Policy{
		cfg:     cfg,
		markers: normalize(cfg.ExpensiveMarkers),
		blocked: normalize(cfg.BlockedTerms),
	}
}

// Price validates the request and computes its cost for the tier.
func (p *Policy) Price(req request.Request, t tier.Tier) (request.Priced, error) {
	if err := p.Validate(req.Payload, t); err != nil {
		return request.Priced{}, err
	}
	return request.Priced{
		Request: req,
		TierID:  t.ID,
		Cost:    p.Cost(req.Payload, t),
	}, nil
}

// Validate rejects blank, oversized and disallowed payloads.
func (p *Policy) Validate(payload string, t tier.Tier) error {
	if strings.TrimSpace(payload) == "" {
		return domain.NewInvalidRequest("payload is empty")
	}
	if !utf8.ValidString(payload) {
		return domain.NewInvalidRequest("payload is not valid UTF-8")
	}
	n := utf8.RuneCountInString(payload)
	if limit := p.maxLength(t); n > limit {
		return domain.NewInvalidRequest("payload length %d exceeds %d", n, limit)
	}
	for _, r := range payload {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return domain.NewInvalidRequest("payload contains control characters")
		}
	}
	lower := strings.ToLower(payload)
	for _, term := range p.blocked {
		if strings.Contains(lower, term) {
			return domain.NewInvalidRequest("payload contains disallowed content")
		}
	}
	return nil
}

// Cost computes the discounted cost of a valid payload. Never below 1.
func (p *Policy) Cost(payload string, t tier.Tier) int64 {
	raw := p.cfg.BaseCost

	// One increment as soon as the payload passes the threshold, then one
	// more for each further full threshold of runes.
	th := p.cfg.LongPayloadThreshold
	if extra := utf8.RuneCountInString(payload) - th; extra > 0 {
		raw += int64(1+(extra-1)/th) * p.cfg.LongPayloadIncrement
	}

	lower := strings.ToLower(payload)
	for _, m := range p.markers {
		if strings.Contains(lower, m) {
			raw += p.cfg.MarkerIncrement
		}
	}

	mult := t.PricingMultiplier
	if mult <= 0 {
		mult = 1
	}
	cost := int64(math.Floor(float64(raw) * mult))
	return max(cost, 1)
}

// Markers returns the expensive markers present in payload.
func (p *Policy) Markers(payload string) []string {
	lower := strings.ToLower(payload)
	var found []string
	for _, m := range p.markers {
		if strings.Contains(lower, m) {
			found = append(found, m)
		}
	}
	return found
}

func (p *Policy) maxLength(t tier.Tier) int {
	if t.MaxPayloadLength > 0 && t.MaxPayloadLength < p.cfg.MaxPayloadLength {
		return t.MaxPayloadLength
	}
	return p.cfg.MaxPayloadLength
}

// normalize lowercases, trims and dedupes terms.
func normalize(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	return out
}
