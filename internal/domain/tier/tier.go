package tier

// Tier is a named service level controlling pricing and payload limits.
type Tier struct {
	ID                string
	PricingMultiplier float64
	MaxPayloadLength  int
}

// Catalog maps tier ids to their settings.
type Catalog map[string]Tier

// Lookup returns the tier with the given id.
func (c Catalog) Lookup(id string) (Tier, bool) {
	t, ok := c[id]
	return t, ok
}

// DefaultCatalog returns the built-in tiers: basic, premium and enterprise.
func DefaultCatalog() Catalog {
	return Catalog{
		"basic":      {ID: "basic", PricingMultiplier: 1.0, MaxPayloadLength: 1000},
		"premium":    {ID: "premium", PricingMultiplier: 0.8, MaxPayloadLength: 2000},
		"enterprise": {ID: "enterprise", PricingMultiplier: 0.5, MaxPayloadLength: 4000},
	}
}
