package extract

import (
	"regexp"
	"strings"
)

// Rows matching these patterns are never emitted as line items, whatever
// parse strategy produced them. Matching is whole-phrase or word-boundary:
// a product called "Storage Unit" must survive even though it contains
// "unit", and "Total Cleaning Services Ltd" in a description must survive
// even though it contains "total".
var (
	// summaryLineRe matches section-summary rows: a summary keyword at the
	// start of the line followed only by punctuation, currency and digits.
	summaryLineRe = regexp.MustCompile(`(?i)^\s*(?:sub[\s-]?total|total\s+due|amount\s+due|balance\s+due|grand\s+total|total|vat(?:\s+total)?|carried\s+forward|c/f)\b[\s:@£$€\d.,%()-]*$`)

	// headerLineRe matches table header rows of column-name keywords.
	headerLineRe = regexp.MustCompile(`(?i)^\s*(?:(?:prod(?:uct)?\s+)?code|sku|description|item|origin|qty|quantity|unit|uom|rsp|price|value|total|vat|net|amount)(?:\s+(?:(?:prod(?:uct)?\s+)?code|sku|description|item|origin|qty|quantity|unit|uom|rsp|price|value|total|vat|net|amount))+\s*$`)

	// containerLineRe matches container/logistics metadata rows.
	containerLineRe = regexp.MustCompile(`(?i)\bcontainers?\b(?:\s+(?:outstanding|delivered|returned|id|no\.?|number))?`)

	// adminLineRe matches registration and contact boilerplate.
	adminLineRe = regexp.MustCompile(`(?i)\b(?:vat\s+reg(?:istration)?|company\s+no|reg\s+no|sort\s+code|account\s+no|tel|phone|email|page\s+\d+\s+of\s+\d+)\b`)

	// idOnlyRe matches all-caps alphanumeric reference rows such as
	// "CONTAINER ABC123" remnants or bare tracking IDs.
	idOnlyRe = regexp.MustCompile(`^[A-Z]{2,}[A-Z0-9]*(?:\s+[A-Z0-9]{4,})+$`)

	policyKeywords = []string{"RETURN", "POLICY", "TERMS", "CONDITIONS", "ACCEPT", "UNSOLD", "NO RETURNS", "DO NOT"}
)

// ExcludeRow reports whether a text row is section-summary, logistics or
// boilerplate noise, with the reason that matched. Product rows carrying a
// price always pass the ID-only and policy checks.
func ExcludeRow(text string) (reason string, excluded bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "empty", true
	}

	if summaryLineRe.MatchString(trimmed) {
		return "summary", true
	}
	if headerLineRe.MatchString(trimmed) {
		return "table_header", true
	}
	if containerLineRe.MatchString(trimmed) {
		return "container", true
	}
	if adminLineRe.MatchString(trimmed) {
		return "boilerplate", true
	}

	hasPrice := false
	for _, tok := range strings.Fields(trimmed) {
		if isPriceShaped(tok) {
			hasPrice = true
			break
		}
	}
	if !hasPrice {
		// All-caps words alone can be a supplier banner; references
		// always carry digits.
		if idOnlyRe.MatchString(trimmed) && strings.ContainsAny(trimmed, "0123456789") {
			return "id_only", true
		}
		if isPolicyText(trimmed) {
			return "policy", true
		}
	}

	return "", false
}

// isPolicyText detects all-caps legal boilerplate such as
// "WE DO NOT ACCEPT RETURNS OF UNSOLD BEER".
func isPolicyText(text string) bool {
	if len(text) < 20 || text != strings.ToUpper(text) {
		return false
	}
	for _, kw := range policyKeywords {
		if containsWholeWord(text, kw) {
			return true
		}
	}
	return false
}

// containsWholeWord reports whether phrase occurs in text on word
// boundaries, never as a substring of a longer word.
func containsWholeWord(text, phrase string) bool {
	return policyWordRes[phrase].MatchString(text)
}

var policyWordRes = func() map[string]*regexp.Regexp {
	m := make(map[string]*regexp.Regexp, len(policyKeywords))
	for _, kw := range policyKeywords {
		m[kw] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`)
	}
	return m
}()
