package pricing

import (
	"errors"
	"strings"
	"testing"

	"github.com/kailas-cloud/quotagate/internal/domain"
	"github.com/kailas-cloud/quotagate/internal/domain/request"
	"github.com/kailas-cloud/quotagate/internal/domain/tier"
)

var (
	basic      = tier.Tier{ID: "basic", PricingMultiplier: 1.0, MaxPayloadLength: 1000}
	premium    = tier.Tier{ID: "premium", PricingMultiplier: 0.8, MaxPayloadLength: 2000}
	enterprise = tier.Tier{ID: "enterprise", PricingMultiplier: 0.5, MaxPayloadLength: 4000}
)

func TestCost(t *testing.T) {
	p := New(DefaultConfig())

	tests := []struct {
		name    string
		payload string
		tier    tier.Tier
		want    int64
	}{
		{"short basic", "what is the gas price?", basic, 1},
		{"at threshold", strings.Repeat("a", 280), basic, 1},
		{"one rune over", strings.Repeat("a", 281), basic, 2},
		{"partial block", strings.Repeat("a", 400), basic, 2},
		{"first block full", strings.Repeat("a", 560), basic, 2},
		{"into second block", strings.Repeat("a", 561), basic, 3},
		{"multibyte runes", strings.Repeat("é", 281), basic, 2},
		{"long premium", strings.Repeat("a", 561), premium, 2},
		{"one marker", "analyze this wallet", basic, 3},
		{"marker counted once", "analyze and ANALYZE again", basic, 3},
		{"two markers", "compare and forecast prices", basic, 5},
		{"premium discount", "compare and forecast prices", premium, 4},
		{"enterprise discount", "compare and forecast prices", enterprise, 2},
		{"minimum one", "hello", enterprise, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := p.Cost(tc.payload, tc.tier); got != tc.want {
				t.Errorf("Cost() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestPrice_Deterministic(t *testing.T) {
	p := New(DefaultConfig())
	req := request.Request{SubscriberID: "0xabc", Payload: "simulate a swap", CorrelationID: "c1"}

	a, err := p.Price(req, premium)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := p.Price(req, premium)
	if a != b {
		t.Errorf("Price not deterministic: %+v vs %+v", a, b)
	}
	if a.TierID != "premium" || a.CorrelationID != "c1" {
		t.Errorf("unexpected priced request %+v", a)
	}
}

func TestValidate_Rejects(t *testing.T) {
	p := New(Config{BlockedTerms: []string{"Private Key"}})

	tests := []struct {
		name    string
		payload string
		tier    tier.Tier
	}{
		{"empty", "", basic},
		{"blank", "  \n\t ", basic},
		{"over tier limit", strings.Repeat("x", 1001), basic},
		{"over global limit", strings.Repeat("x", 4001), tier.Tier{ID: "x", PricingMultiplier: 1, MaxPayloadLength: 10000}},
		{"control char", "hello\x00world", basic},
		{"blocked term", "send me your private key", basic},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Price(request.Request{Payload: tc.payload}, tc.tier)
			if !errors.Is(err, domain.ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestValidate_AllowsWhitespaceAndUnicode(t *testing.T) {
	p := New(DefaultConfig())

	if err := p.Validate("line one\nline two\ttabbed ünïcødé", basic); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	// Length counts runes, not bytes.
	if err := p.Validate(strings.Repeat("é", 1000), basic); err != nil {
		t.Errorf("1000 runes should fit basic tier: %v", err)
	}
}

func TestMarkers(t *testing.T) {
	p := New(DefaultConfig())

	got := p.Markers("Please PREDICT and simulate")
	if len(got) != 2 || got[0] != "predict" || got[1] != "simulate" {
		t.Errorf("Markers() = %v", got)
	}
}
