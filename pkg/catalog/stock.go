package catalog

import (
	"regexp"
	"strconv"
	"strings"
)

// StockStatus is the canonical availability of a product.
type StockStatus string

const (
	StockInStock    StockStatus = "InStock"
	StockLowStock   StockStatus = "LowStock"
	StockOutOfStock StockStatus = "OutOfStock"
	StockNotifyMe   StockStatus = "NotifyMe"
	StockBackorder  StockStatus = "Backorder"
	StockUnknown    StockStatus = "Unknown"
)

var allStockStatuses = []StockStatus{
	StockInStock,
	StockLowStock,
	StockOutOfStock,
	StockNotifyMe,
	StockBackorder,
	StockUnknown,
}

// Valid reports whether s is one of the canonical statuses.
func (s StockStatus) Valid() bool {
	for _, known := range allStockStatuses {
		if s == known {
			return true
		}
	}

	return false
}

// ParseStockStatus matches a canonical status name case-insensitively.
func ParseStockStatus(value string) (StockStatus, bool) {
	for _, known := range allStockStatuses {
		if strings.EqualFold(value, string(known)) {
			return known, true
		}
	}

	return "", false
}

// VocabularyEntry maps a source phrase onto a canonical status. Phrases are
// matched case-insensitively as substrings, in order.
type VocabularyEntry struct {
	Phrase string
	Status StockStatus
}

// Vocabulary is an ordered phrase table. More specific phrases must come
// before phrases they contain ("unavailable" before "available").
type Vocabulary []VocabularyEntry

// With returns a new vocabulary with extra entries taking precedence.
func (v Vocabulary) With(entries ...VocabularyEntry) Vocabulary {
	out := make(Vocabulary, 0, len(entries)+len(v))
	out = append(out, entries...)

	return append(out, v...)
}

// DefaultVocabulary covers the phrases shared by South African distributor
// storefronts.
var DefaultVocabulary = Vocabulary{
	{Phrase: "out of stock", Status: StockOutOfStock},
	{Phrase: "sold out", Status: StockOutOfStock},
	{Phrase: "unavailable", Status: StockOutOfStock},
	{Phrase: "not available", Status: StockOutOfStock},
	{Phrase: "notify me", Status: StockNotifyMe},
	{Phrase: "notify when", Status: StockNotifyMe},
	{Phrase: "backorder", Status: StockBackorder},
	{Phrase: "back order", Status: StockBackorder},
	{Phrase: "pre-order", Status: StockBackorder},
	{Phrase: "special order", Status: StockBackorder},
	{Phrase: "low stock", Status: StockLowStock},
	{Phrase: "limited stock", Status: StockLowStock},
	{Phrase: "in stock", Status: StockInStock},
	{Phrase: "available", Status: StockInStock},
}

var (
	onlyLeftPattern = regexp.MustCompile(`(?i)\bonly\s+(\d+)\s+(?:left|remaining)\b`)
	countPattern    = regexp.MustCompile(`(?i)\b(?:stock|qty|quantity)\s*[:\-]?\s*(\d+)\b`)
	leadingPattern  = regexp.MustCompile(`(?i)^\s*(\d+)\s+(?:in stock|available|units?)\b`)
)

// Canonicalize maps free-form availability text onto a status and an
// optional quantity. An explicit count wins over phrases: "Only 3 left" is
// LowStock with quantity 3, "Stock: 47" is InStock with quantity 47 and a
// zero count is OutOfStock. Text matching nothing is Unknown.
func Canonicalize(text string, vocab Vocabulary) (StockStatus, *int) {
	text = strings.TrimSpace(text)
	if text == "" {
		return StockUnknown, nil
	}

	if n, ok := matchCount(onlyLeftPattern, text); ok {
		if n == 0 {
			return StockOutOfStock, &n
		}

		return StockLowStock, &n
	}

	if n, ok := matchCount(countPattern, text); ok {
		return statusForCount(n), &n
	}

	if n, ok := matchCount(leadingPattern, text); ok {
		return statusForCount(n), &n
	}

	lower := strings.ToLower(text)

	for _, entry := range vocab {
		if strings.Contains(lower, strings.ToLower(entry.Phrase)) {
			return entry.Status, nil
		}
	}

	return StockUnknown, nil
}

// StatusForQuantity derives a status from a bare quantity.
func StatusForQuantity(n int) StockStatus {
	return statusForCount(n)
}

func statusForCount(n int) StockStatus {
	if n <= 0 {
		return StockOutOfStock
	}

	return StockInStock
}

func matchCount(pattern *regexp.Regexp, text string) (int, bool) {
	m := pattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}

	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}

	return n, true
}
