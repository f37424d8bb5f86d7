package catalog

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// VATMultiplier converts a VAT-exclusive price into a VAT-inclusive one at
// the South African rate of 15%.
var VATMultiplier = decimal.RequireFromString("1.15")

var priceNumberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// ExtractPrices pulls rand amounts out of storefront price text.
//
// A single amount is taken as VAT inclusive and the exclusive price is
// derived from it. Two or more amounts are read as "ex VAT, inc VAT" in
// that order. ok is false when the text holds no amount.
func ExtractPrices(text string) (incVAT, exVAT string, ok bool) {
	cleaned := strings.NewReplacer("ZAR", " ", "R", " ", ",", "", "\u00a0", " ").Replace(text)

	numbers := priceNumberPattern.FindAllString(cleaned, -1)

	switch len(numbers) {
	case 0:
		return "", "", false
	case 1:
		inc, err := decimal.NewFromString(numbers[0])
		if err != nil {
			return "", "", false
		}

		return inc.StringFixed(2), ExcludeVAT(inc).StringFixed(2), true
	default:
		ex, err := decimal.NewFromString(numbers[0])
		if err != nil {
			return "", "", false
		}

		inc, err := decimal.NewFromString(numbers[1])
		if err != nil {
			return "", "", false
		}

		return inc.StringFixed(2), ex.StringFixed(2), true
	}
}

// ExcludeVAT derives the VAT-exclusive price, rounded to cents.
func ExcludeVAT(inc decimal.Decimal) decimal.Decimal {
	return inc.DivRound(VATMultiplier, 2)
}
