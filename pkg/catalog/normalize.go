package catalog

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Field length bounds, in characters.
const (
	MaxSKULength         = 100
	MaxSourceLength      = 50
	MaxNameLength        = 500
	MaxCategoryLength    = 200
	MaxBrandLength       = 100
	MaxDescriptionLength = 2000
	MaxURLLength         = 1000
)

// Candidate is an adapter's loosely-typed view of one product. Prices are
// kept as text until normalization so that no float conversion happens on
// the way in.
type Candidate struct {
	SKU           string
	Source        string
	Name          string
	Category      string
	PriceIncVAT   string
	PriceExVAT    string
	StockStatus   StockStatus
	StockQuantity *int
	Brand         string
	Description   string
	URL           string
	Metadata      map[string]any
}

// Record is a validated product observation ready for reconciliation.
type Record struct {
	SKU           string
	Source        string
	Name          string
	Category      string
	PriceIncVAT   decimal.Decimal
	PriceExVAT    decimal.Decimal
	StockStatus   StockStatus
	StockQuantity *int
	Brand         string
	Description   string
	URL           string
	Metadata      map[string]any
}

// ValidationError describes why a candidate was rejected.
type ValidationError struct {
	SKU    string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.SKU == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}

	return fmt.Sprintf("sku %q: invalid %s: %s", e.SKU, e.Field, e.Reason)
}

// Normalize validates a candidate and converts it into a Record.
//
// Text fields are trimmed and whitespace-collapsed. A missing VAT-exclusive
// price is derived from the inclusive one; a missing inclusive price is a
// validation failure. Empty stock status becomes Unknown.
func Normalize(c Candidate) (*Record, error) {
	rec := &Record{
		SKU:         collapse(c.SKU),
		Source:      collapse(c.Source),
		Name:        collapse(c.Name),
		Category:    collapse(c.Category),
		Brand:       collapse(c.Brand),
		Description: collapse(c.Description),
		URL:         strings.TrimSpace(c.URL),
		Metadata:    c.Metadata,
	}

	invalid := func(field, reason string) error {
		return &ValidationError{SKU: rec.SKU, Field: field, Reason: reason}
	}

	for _, required := range []struct {
		field string
		value string
	}{
		{"sku", rec.SKU},
		{"source", rec.Source},
		{"product_name", rec.Name},
	} {
		if required.value == "" {
			return nil, invalid(required.field, "required")
		}
	}

	for _, bound := range []struct {
		field string
		value string
		max   int
	}{
		{"sku", rec.SKU, MaxSKULength},
		{"source", rec.Source, MaxSourceLength},
	} {
		if n := utf8.RuneCountInString(bound.value); n > bound.max {
			return nil, invalid(bound.field, fmt.Sprintf("length %d exceeds %d", n, bound.max))
		}
	}

	// Free text is cut to fit. A cut URL would point elsewhere, so an
	// over-long one is dropped instead.
	rec.Name = TruncateRunes(rec.Name, MaxNameLength)
	rec.Category = TruncateRunes(rec.Category, MaxCategoryLength)
	rec.Brand = TruncateRunes(rec.Brand, MaxBrandLength)
	rec.Description = TruncateRunes(rec.Description, MaxDescriptionLength)

	if utf8.RuneCountInString(rec.URL) > MaxURLLength {
		rec.URL = ""
	}

	if rec.URL != "" {
		if u, err := url.Parse(rec.URL); err != nil || u.Scheme == "" || u.Host == "" {
			return nil, invalid("url", "not an absolute url")
		}
	}

	inc, err := parsePrice(c.PriceIncVAT)
	if err != nil {
		return nil, invalid("price_inc_vat", err.Error())
	}

	if inc == nil {
		return nil, invalid("price_inc_vat", "required")
	}

	rec.PriceIncVAT = inc.Round(2)

	ex, err := parsePrice(c.PriceExVAT)
	if err != nil {
		return nil, invalid("price_ex_vat", err.Error())
	}

	if ex == nil {
		rec.PriceExVAT = ExcludeVAT(rec.PriceIncVAT)
	} else {
		rec.PriceExVAT = ex.Round(2)
	}

	switch {
	case c.StockStatus == "":
		rec.StockStatus = StockUnknown
	case c.StockStatus.Valid():
		rec.StockStatus = c.StockStatus
	default:
		return nil, invalid("stock_status", fmt.Sprintf("unknown status %q", c.StockStatus))
	}

	if c.StockQuantity != nil {
		if *c.StockQuantity < 0 {
			return nil, invalid("stock_quantity", "must not be negative")
		}

		qty := *c.StockQuantity
		rec.StockQuantity = &qty
	}

	return rec, nil
}

// parsePrice returns nil for empty input.
func parsePrice(value string) (*decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("not a decimal: %q", value)
	}

	if d.IsNegative() {
		return nil, fmt.Errorf("must not be negative")
	}

	return &d, nil
}

func collapse(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

// TruncateRunes cuts s to at most limit characters. A non-positive limit
// leaves s unchanged.
func TruncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}

	return string([]rune(s)[:limit])
}
