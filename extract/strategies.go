package extract

import (
	"regexp"
	"strings"
)

// strictness controls how demanding a parse pass is about row shape.
type strictness int

const (
	passStrict strictness = iota
	passStandard
	passLenient
)

func (s strictness) String() string {
	switch s {
	case passStrict:
		return "strict"
	case passLenient:
		return "lenient"
	default:
		return "standard"
	}
}

// passConfig resolves the thresholds of one strictness level.
type passConfig struct {
	level           strictness
	minDescLen      int
	requireNumeric  bool    // row must contain a price-shaped token
	confidenceScale float64 // applied to every item the pass produces
}

func configFor(level strictness) passConfig {
	switch level {
	case passStrict:
		return passConfig{level: level, minDescLen: 4, requireNumeric: true, confidenceScale: 1.1}
	case passLenient:
		return passConfig{level: level, minDescLen: 2, requireNumeric: false, confidenceScale: 0.8}
	default:
		return passConfig{level: level, minDescLen: 3, requireNumeric: true, confidenceScale: 1.0}
	}
}

// rowStrategy is one pure parsing function: given a text row it either
// produces a line item or declines. Strategies are tried in a fixed order;
// the first success wins for that row.
type rowStrategy struct {
	name  string
	parse func(text string, cfg passConfig) (LineItem, bool)
}

// textStrategies in attempt order: tabular split, space-separated token
// classification, then the receipt/invoice grammars.
var textStrategies = []rowStrategy{
	{name: "tabular", parse: parseTabular},
	{name: "space_separated", parse: parseSpaceSeparated},
	{name: "pattern", parse: parsePattern},
}

var (
	multiSpaceRe = regexp.MustCompile(`\s{2,}`)

	// receiptRowRe matches flat "description price" receipt rows with no
	// explicit quantity column: "MILK 1.20".
	receiptRowRe = regexp.MustCompile(`^(.+?)\s+([£$€]?\d+[.,]\d{2})$`)

	// invoiceRowRe matches the generic "description qty unit total" shape.
	invoiceRowRe = regexp.MustCompile(`^(.+?)\s+(\d+(?:\.\d+)?)\s+([£$€]?\d+[.,]\d{2})\s+([£$€]?\d+[.,]\d{2})\s*$`)
)

// ParseTextRow runs the strategy chain over one row at the given
// strictness. Excluded rows never yield an item, whatever the strategy.
func ParseTextRow(text string, cfg passConfig) (LineItem, string, bool) {
	text = strings.TrimSpace(NormalizeText(text))
	if _, excluded := ExcludeRow(text); excluded {
		return LineItem{}, "", false
	}
	for _, st := range textStrategies {
		if item, ok := st.parse(text, cfg); ok {
			item.Confidence = clamp01(item.Confidence * cfg.confidenceScale)
			return item, st.name, true
		}
	}
	if cfg.level == passLenient {
		if item, ok := parseEmergency(text); ok {
			return item, "emergency", true
		}
	}
	return LineItem{}, "", false
}

// parseTabular splits on runs of two or more spaces, the shape left when a
// tabular layout collapses to text, and maps fields to roles by position.
func parseTabular(text string, cfg passConfig) (LineItem, bool) {
	fields := multiSpaceRe.Split(text, -1)
	if len(fields) < 3 {
		return LineItem{}, false
	}

	item := LineItem{Qty: 0}
	var prices []float64
	for i, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		switch {
		case i == 0 && !isPriceShaped(f) && !isBareInt(f):
			item.Description = f
		case isPriceShaped(f):
			if d, ok := ParseAmount(f); ok {
				v, _ := d.Float64()
				prices = append(prices, v)
			}
		case isBareInt(f) && item.Qty == 0:
			if q, ok := ParseQty(f); ok {
				item.Qty = q
			}
		case item.Description == "":
			item.Description = f
		case len(f) <= 4 && item.UOM == "" && !isBareInt(f):
			item.UOM = f
		}
	}

	// Source order is unreliable once columns collapse; reconciliation
	// re-checks the assignment against qty arithmetic.
	switch len(prices) {
	case 0:
		if cfg.requireNumeric {
			return LineItem{}, false
		}
	case 1:
		item.Total = prices[0]
	default:
		item.UnitPrice = prices[0]
		item.Total = prices[len(prices)-1]
	}

	if len(item.Description) < cfg.minDescLen {
		return LineItem{}, false
	}
	if item.Qty == 0 {
		item.Qty = 1
	}
	item.Confidence = 0.75
	return item, true
}

// parseSpaceSeparated regex-tokenizes the row, requiring at least one
// quantity token and one price-shaped token; the remainder becomes the
// description.
func parseSpaceSeparated(text string, cfg passConfig) (LineItem, bool) {
	// "2 x £10.50" collapses qty and unit price into one expression.
	if m := qtyAtPriceRe.FindStringSubmatch(text); m != nil {
		qty, okQ := ParseQty(m[1])
		unit, okU := ParseAmount(m[2])
		if okQ && okU && qty > 0 {
			desc := strings.TrimSpace(qtyAtPriceRe.ReplaceAllString(text, ""))
			desc = strings.Trim(desc, " -:")
			if len(desc) >= cfg.minDescLen {
				u, _ := unit.Float64()
				return LineItem{
					Description: desc,
					Qty:         qty,
					UnitPrice:   u,
					Confidence:  0.7,
				}, true
			}
		}
	}

	toks := strings.Fields(text)
	if len(toks) < 2 {
		return LineItem{}, false
	}

	var descToks []string
	var prices []float64
	qty := 0.0
	for _, tok := range toks {
		switch {
		case isPriceShaped(tok):
			if d, ok := ParseAmount(tok); ok {
				v, _ := d.Float64()
				prices = append(prices, v)
			}
		case isBareInt(tok) && qty == 0 && len(descToks) == 0:
			// A leading bare integer is the quantity column.
			q, _ := ParseQty(tok)
			qty = q
		default:
			descToks = append(descToks, tok)
		}
	}

	if len(prices) == 0 {
		return LineItem{}, false
	}

	desc := strings.Join(descToks, " ")
	if qty == 0 {
		if merged, rest, ok := splitMergedQty(desc); ok {
			qty, desc = merged, rest
		}
	}
	var uom string
	if count, unit, ok := parsePackSize(desc); ok {
		uom = unit
		if qty == 0 {
			qty = count
		}
	}
	if cfg.level == passStrict && qty == 0 {
		return LineItem{}, false
	}
	// A single price and no quantity signal is the receipt shape; leave it
	// for the pattern grammar.
	if qty == 0 && len(prices) < 2 {
		return LineItem{}, false
	}
	if len(desc) < cfg.minDescLen {
		return LineItem{}, false
	}

	item := LineItem{Description: desc, Qty: qty, UOM: uom, Confidence: 0.7}
	if item.Qty == 0 {
		item.Qty = 1
	}
	if len(prices) >= 2 {
		item.UnitPrice = prices[0]
		item.Total = prices[len(prices)-1]
	} else {
		item.Total = prices[0]
	}
	return item, true
}

// parsePattern applies the receipt grammar ("MILK 1.20") and the generic
// invoice grammar with explicit qty/unit/total groups.
func parsePattern(text string, cfg passConfig) (LineItem, bool) {
	if m := invoiceRowRe.FindStringSubmatch(text); m != nil {
		qty, okQ := ParseQty(m[2])
		unit, okU := ParseAmount(m[3])
		total, okT := ParseAmount(m[4])
		desc := strings.TrimSpace(m[1])
		if okQ && okU && okT && len(desc) >= cfg.minDescLen {
			u, _ := unit.Float64()
			t, _ := total.Float64()
			return LineItem{
				Description: desc,
				Qty:         qty,
				UnitPrice:   u,
				Total:       t,
				Confidence:  0.85,
			}, true
		}
	}

	// Receipt rows carry no explicit quantity, which the strict pass
	// insists on.
	if cfg.level == passStrict {
		return LineItem{}, false
	}
	if m := receiptRowRe.FindStringSubmatch(text); m != nil {
		price, ok := ParseAmount(m[2])
		desc := strings.TrimSpace(m[1])
		if ok && len(desc) >= cfg.minDescLen && !strings.ContainsAny(desc, "0123456789") {
			p, _ := price.Float64()
			return LineItem{
				Description: desc,
				Qty:         1,
				UnitPrice:   p,
				Total:       p,
				Confidence:  0.8,
			}, true
		}
	}

	return LineItem{}, false
}

// parseEmergency retains rows that carry digits but defeated every
// strategy, at low confidence and flagged, so a reviewer sees them instead
// of losing them. Lenient pass only.
func parseEmergency(text string) (LineItem, bool) {
	if len(text) < 10 || !strings.ContainsAny(text, "0123456789") {
		return LineItem{}, false
	}
	item := LineItem{Description: text, Qty: 1, Confidence: 0.3}
	item.AddFlag(FlagWeakParse)
	return item, true
}
