package extract

import (
	"fmt"
	"regexp"
	"strings"
)

// HeaderExtractor pulls document-level fields out of the text rows: the
// supplier name from the top of the page, invoice number and date from
// labeled lines, money totals from the summary block.
type HeaderExtractor struct {
	aliases map[string]string
}

func NewHeaderExtractor() *HeaderExtractor {
	return &HeaderExtractor{aliases: defaultSupplierAliases}
}

// defaultSupplierAliases canonicalizes supplier names OCR habitually
// mangles or abbreviates.
var defaultSupplierAliases = map[string]string{
	"bookers":     "Booker Wholesale",
	"booker":      "Booker Wholesale",
	"bidfood":     "Bidfood UK",
	"brakes":      "Brakes Group",
	"jj foods":    "JJ Food Service",
	"jj food":     "JJ Food Service",
	"costco":      "Costco Wholesale",
	"makro":       "Makro Wholesale",
	"coca cola":   "Coca-Cola Enterprises",
	"coca-cola":   "Coca-Cola Enterprises",
	"heineken":    "Heineken UK",
	"carlsberg":   "Carlsberg Marston's",
	"molson":      "Molson Coors",
	"greene king": "Greene King",
}

var (
	invoiceNumRe = regexp.MustCompile(`(?i)\b(?:invoice|inv|bill|document|doc)\s*(?:no|num|number|#|ref)?\s*[:#.]?\s*([A-Z]{0,4}[-/]?\d[\dA-Z/-]{2,18})`)

	// UK date forms: 25/03/2024, 25-03-24, 25 Mar 2024, 25 March 2024.
	ukDateNumRe  = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})[/-](\d{2,4})\b`)
	ukDateTextRe = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(\d{2,4})\b`)

	labeledAmountRe = regexp.MustCompile(`(?i)\b(sub\s*-?\s*total|net\s+(?:total|amount)|total\s+(?:net|ex\.?\s*vat)|vat(?:\s+(?:amount|total|@?\s*[\d.]+\s*%)?)?|total\s+(?:due|payable|amount|inc\.?\s*vat)|grand\s+total|balance\s+due|amount\s+due)\b[^0-9£$€-]*([£$€]?\s*-?\d[\d,]*[.,]\d{2})`)

	vatRateRe = regexp.MustCompile(`(?i)\bvat\s*@?\s*(\d{1,2}(?:\.\d+)?)\s*%`)

	monthNums = map[string]int{
		"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
		"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
	}

	// headerNoiseRe rejects candidate supplier lines that are really
	// document labels or addresses.
	headerNoiseRe = regexp.MustCompile(`(?i)^\s*(invoice|credit\s+note|delivery\s+note|statement|tax\s+invoice|vat\s+invoice|page|date|account|customer|deliver\s+to|bill\s+to|sold\s+to)\b`)
)

// Extract reads header fields from the page rows. Rows are assumed sorted
// top to bottom, as GroupRows leaves them.
func (h *HeaderExtractor) Extract(rows []Row) *HeaderFields {
	out := &HeaderFields{}
	lines := make([]string, len(rows))
	for i, r := range rows {
		lines[i] = strings.TrimSpace(NormalizeText(r.Text()))
	}

	out.Supplier = h.findSupplier(lines)
	out.Currency = findCurrency(lines)

	for _, line := range lines {
		if out.InvoiceNumber == "" {
			if m := invoiceNumRe.FindStringSubmatch(line); m != nil {
				out.InvoiceNumber = strings.ToUpper(m[1])
			}
		}
		if out.InvoiceDate == "" {
			out.InvoiceDate = findISODate(line)
		}
		h.applyAmounts(line, out)
	}

	deriveTotals(out)
	return out
}

// findSupplier scans the top of the page for the first line that looks
// like a business name rather than a label, then canonicalizes it.
func (h *HeaderExtractor) findSupplier(lines []string) string {
	top := lines
	if len(top) > 8 {
		top = top[:8]
	}
	for _, line := range top {
		if line == "" || headerNoiseRe.MatchString(line) {
			continue
		}
		if _, excluded := ExcludeRow(line); excluded {
			continue
		}
		letters := 0
		for _, r := range line {
			if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') {
				letters++
			}
		}
		if letters < 3 || letters < len(line)/3 {
			continue
		}
		return h.canonicalize(line)
	}
	return ""
}

func (h *HeaderExtractor) canonicalize(name string) string {
	key := NormalizeSupplierKey(name)
	for alias, canonical := range h.aliases {
		if strings.Contains(key, alias) {
			return canonical
		}
	}
	return strings.TrimSpace(name)
}

func findCurrency(lines []string) string {
	for _, line := range lines {
		for sym, code := range currencySymbols {
			if strings.ContainsRune(line, sym) {
				return code
			}
		}
	}
	for _, line := range lines {
		u := strings.ToUpper(line)
		for _, code := range []string{"GBP", "USD", "EUR"} {
			if containsToken(u, code) {
				return code
			}
		}
	}
	return ""
}

func containsToken(s, tok string) bool {
	for _, f := range strings.Fields(s) {
		if strings.Trim(f, ".,:;()") == tok {
			return true
		}
	}
	return false
}

// findISODate converts the first recognizable UK-style date to ISO 8601.
func findISODate(line string) string {
	if m := ukDateNumRe.FindStringSubmatch(line); m != nil {
		day, month, year := atoiSafe(m[1]), atoiSafe(m[2]), atoiSafe(m[3])
		if year < 100 {
			year += 2000
		}
		if validDate(day, month, year) {
			return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
		}
	}
	if m := ukDateTextRe.FindStringSubmatch(line); m != nil {
		day := atoiSafe(m[1])
		month := monthNums[strings.ToLower(m[2])]
		year := atoiSafe(m[3])
		if year < 100 {
			year += 2000
		}
		if validDate(day, month, year) {
			return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
		}
	}
	return ""
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func validDate(day, month, year int) bool {
	return day >= 1 && day <= 31 && month >= 1 && month <= 12 && year >= 2000 && year <= 2100
}

func (h *HeaderExtractor) applyAmounts(line string, out *HeaderFields) {
	for _, m := range labeledAmountRe.FindAllStringSubmatch(line, -1) {
		label := strings.ToLower(strings.Join(strings.Fields(m[1]), " "))
		amt, ok := ParseAmount(m[2])
		if !ok {
			continue
		}
		v, _ := amt.Float64()
		switch {
		case strings.HasPrefix(label, "sub") || strings.Contains(label, "net") || strings.Contains(label, "ex"):
			if out.Subtotal == 0 {
				out.Subtotal = v
			}
		case strings.HasPrefix(label, "vat"):
			if out.VATAmount == 0 {
				out.VATAmount = v
			}
		default:
			// total due / grand total / balance due: the last one on
			// the page wins, footers repeat the running figure.
			out.GrandTotal = v
		}
	}
	if out.VATRate == 0 {
		if m := vatRateRe.FindStringSubmatch(line); m != nil {
			if r, ok := ParseAmount(m[1]); ok {
				out.VATRate, _ = r.Float64()
			}
		}
	}
}

// deriveTotals fills whichever of net, VAT and gross is missing when the
// other two are present, and derives the rate when amounts allow it.
func deriveTotals(out *HeaderFields) {
	switch {
	case out.GrandTotal == 0 && out.Subtotal > 0 && out.VATAmount > 0:
		out.GrandTotal = round2(out.Subtotal + out.VATAmount)
	case out.Subtotal == 0 && out.GrandTotal > 0 && out.VATAmount > 0:
		out.Subtotal = round2(out.GrandTotal - out.VATAmount)
	case out.VATAmount == 0 && out.GrandTotal > 0 && out.Subtotal > 0 && out.GrandTotal > out.Subtotal:
		out.VATAmount = round2(out.GrandTotal - out.Subtotal)
	}
	if out.VATRate == 0 && out.Subtotal > 0 && out.VATAmount > 0 {
		out.VATRate = round2(out.VATAmount / out.Subtotal * 100)
	}
}

func round2(v float64) float64 {
	if v < 0 {
		return float64(int(v*100-0.5)) / 100
	}
	return float64(int(v*100+0.5)) / 100
}

// mergeHeader fills empty fields of dst from src without overwriting what
// the geometric pass already found.
func mergeHeader(dst, src *HeaderFields) {
	if dst == nil || src == nil {
		return
	}
	if dst.Supplier == "" {
		dst.Supplier = src.Supplier
	}
	if dst.InvoiceNumber == "" {
		dst.InvoiceNumber = src.InvoiceNumber
	}
	if dst.InvoiceDate == "" {
		dst.InvoiceDate = src.InvoiceDate
	}
	if dst.Currency == "" {
		dst.Currency = src.Currency
	}
	if dst.Subtotal == 0 {
		dst.Subtotal = src.Subtotal
	}
	if dst.VATAmount == 0 {
		dst.VATAmount = src.VATAmount
	}
	if dst.GrandTotal == 0 {
		dst.GrandTotal = src.GrandTotal
	}
	if dst.VATRate == 0 {
		dst.VATRate = src.VATRate
	}
	deriveTotals(dst)
}

// TotalsConsistent reports whether net + VAT matches gross within a penny
// per hundred pounds.
func TotalsConsistent(h *HeaderFields) bool {
	if h == nil || h.GrandTotal == 0 || h.Subtotal == 0 {
		return true
	}
	want := h.Subtotal + h.VATAmount
	diff := want - h.GrandTotal
	if diff < 0 {
		diff = -diff
	}
	return diff <= 0.01+h.GrandTotal*0.0001
}
