package extract

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// Numeric token shapes produced by OCR on invoices and receipts.
var (
	// priceShapeRe matches price-shaped tokens: optional currency symbol,
	// thousands separators, two decimal places.
	priceShapeRe = regexp.MustCompile(`^[£$€]?\d{1,3}(?:,\d{3})*[.,]\d{2}$|^[£$€]?\d+[.,]\d{2}$`)

	// bareIntRe matches plain integer tokens (quantity candidates).
	bareIntRe = regexp.MustCompile(`^\d{1,5}$`)

	// decimalNumRe matches any decimal number embedded in a string.
	decimalNumRe = regexp.MustCompile(`\d{1,3}(?:,\d{3})*[.,]\d{2}|\d+[.,]\d{1,2}|\d+`)

	// packSizeRe matches pack-size expressions like "12x1L" or "6 x 2.5kg".
	packSizeRe = regexp.MustCompile(`(?i)\b(\d{1,4})\s*x\s*(\d+(?:\.\d+)?\s*(?:ml|cl|l|ltr|litre|kg|g|gm|oz|pk)?)\b`)

	// qtyAtPriceRe matches "2 x £10.50" and "2 @ £10.50" forms.
	qtyAtPriceRe = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*[x@]\s*[£$€]?\s*(\d+(?:[.,]\d{1,2})?)\b`)

	currencySymbols = map[rune]string{'£': "GBP", '$': "USD", '€': "EUR"}
)

// NormalizeText applies NFKC normalization and maps typographic variants
// (smart quotes, dashes, non-breaking spaces) to ASCII so downstream regex
// parsing sees a single shape per character class. OCR engines emit
// full-width digits and odd space codepoints for some scans.
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '‘', '’':
			b.WriteRune('\'')
		case '“', '”':
			b.WriteRune('"')
		case '–', '—', '−':
			b.WriteRune('-')
		case ' ', ' ', ' ':
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseAmount parses a monetary token into a decimal amount. It strips
// currency symbols and thousands separators and accepts a comma decimal
// separator ("891,54") when it is unambiguous. Returns false for tokens
// that are not amount-shaped.
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(NormalizeText(s))
	if s == "" {
		return decimal.Zero, false
	}
	s = strings.Trim(s, "£$€ ")
	s = strings.TrimSuffix(s, "-") // trailing-minus credit notation
	if s == "" {
		return decimal.Zero, false
	}

	// "1,234.56": commas are thousands separators.
	if strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", "")
	} else if idx := strings.LastIndex(s, ","); idx >= 0 {
		// No dot present. Treat a final comma with exactly two trailing
		// digits as a decimal separator, anything else as thousands.
		if len(s)-idx-1 == 2 {
			s = strings.ReplaceAll(s[:idx], ",", "") + "." + s[idx+1:]
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ParseQty parses a quantity token. Quantities may be fractional
// (weights sold by the kilo) but are rejected when negative.
func ParseQty(s string) (float64, bool) {
	d, ok := ParseAmount(s)
	if !ok || d.IsNegative() {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}

// isPriceShaped reports whether a token looks like a monetary value.
func isPriceShaped(tok string) bool {
	return priceShapeRe.MatchString(strings.TrimSpace(tok))
}

// isBareInt reports whether a token is a plain small integer.
func isBareInt(tok string) bool {
	return bareIntRe.MatchString(strings.TrimSpace(tok))
}

// hasCurrencySymbol reports whether the string contains a recognized
// currency symbol and returns its ISO code.
func hasCurrencySymbol(s string) (string, bool) {
	for _, r := range s {
		if code, ok := currencySymbols[r]; ok {
			return code, true
		}
	}
	return "", false
}

// splitMergedQty handles OCR rows where the quantity column merged into the
// description: "6 12 LITRE PEPSI" is qty 6 of "12 LITRE PEPSI". It only
// fires when the text starts with a small integer followed by more content
// that itself leads with a digit, the signature of a collapsed qty column.
func splitMergedQty(text string) (qty float64, rest string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) < 3 {
		return 0, text, false
	}
	if !isBareInt(fields[0]) {
		return 0, text, false
	}
	next := fields[1]
	if !(next != "" && next[0] >= '0' && next[0] <= '9') {
		return 0, text, false
	}
	q, okQty := ParseQty(fields[0])
	if !okQty || q <= 0 || q > 10000 {
		return 0, text, false
	}
	return q, strings.Join(fields[1:], " "), true
}

// parsePackSize extracts a pack-size expression ("12x1L") from a
// description, returning the pack count and unit string.
func parsePackSize(text string) (count float64, unit string, ok bool) {
	m := packSizeRe.FindStringSubmatch(text)
	if m == nil {
		return 0, "", false
	}
	q, okQty := ParseQty(m[1])
	if !okQty || q <= 0 {
		return 0, "", false
	}
	return q, strings.TrimSpace(m[2]), true
}
