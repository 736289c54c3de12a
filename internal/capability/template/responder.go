// Package template is the default capability: canned responses keyed by
// a category detected from the payload.
package template

import (
	"context"
	"fmt"
	"strings"
)

// Category groups payloads that share a response template.
type Category struct {
	Name     string
	Keywords []string
	Template string // fmt: %[1]s is the tier, the next verb the payload excerpt
}

// DefaultCategories returns the built-in categories, checked in order.
func DefaultCategories() []Category {
	return []Category{
		{
			Name:     "forecast",
			Keywords: []string{"forecast", "predict", "simulate", "trend"},
			Template: "[%[1]s] Forecast for %q: signals are mixed; treat any projection as indicative only.",
		},
		{
			Name:     "comparison",
			Keywords: []string{"compare", "versus", " vs "},
			Template: "[%[1]s] Comparison for %q: weigh fees, liquidity and settlement time side by side.",
		},
		{
			Name:     "analysis",
			Keywords: []string{"analyze", "analyse", "audit", "review"},
			Template: "[%[1]s] Analysis of %q: no anomalies detected in the supplied data.",
		},
		{
			Name:     "pricing",
			Keywords: []string{"price", "fee", "gas", "cost"},
			Template: "[%[1]s] Pricing for %q: current fees are within their normal range.",
		},
	}
}

const fallbackTemplate = "[%[1]s] Answer to %q: request received and processed."

// Responder answers payloads from templates. It never fails for a
// non-cancelled context.
type Responder struct {
	categories []Category
	excerpt    int
}

// New creates a Responder. nil categories means DefaultCategories.
func New(categories []Category) *Responder {
	if categories == nil {
		categories = DefaultCategories()
	}
	return &Responder{categories: categories, excerpt: 80}
}

// Execute renders the template of the first matching category.
func (r *Responder) Execute(ctx context.Context, payload, tierID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("template responder: %w", err)
	}
	_, tmpl := r.Classify(payload)
	return fmt.Sprintf(tmpl, tierID, r.trim(payload)), nil
}

// Classify returns the matching category name and template.
func (r *Responder) Classify(payload string) (name, tmpl string) {
	lower := strings.ToLower(payload)
	for _, c := range r.categories {
		for _, kw := range c.Keywords {
			if strings.Contains(lower, kw) {
				return c.Name, c.Template
			}
		}
	}
	return "general", fallbackTemplate
}

func (r *Responder) trim(payload string) string {
	payload = strings.Join(strings.Fields(payload), " ")
	runes := []rune(payload)
	if len(runes) <= r.excerpt {
		return payload
	}
	return string(runes[:r.excerpt]) + "..."
}
