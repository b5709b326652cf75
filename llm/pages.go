package llm

import (
	"regexp"
	"strings"

	"github.com/invexa/invexa-go/extract"
)

// DocumentGroup is a run of consecutive pages belonging to one logical
// document inside a multi-document scan.
type DocumentGroup struct {
	Pages         []int  `json:"pages"`
	DocumentType  string `json:"document_type"`
	Supplier      string `json:"supplier,omitempty"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
}

var (
	pageOfRe       = regexp.MustCompile(`(?i)\bpage\s+(\d+)\s+of\s+(\d+)\b`)
	deliveryNoteRe = regexp.MustCompile(`(?i)\bdelivery\s+note\b`)
	invoiceWordRe  = regexp.MustCompile(`(?i)\b(?:tax\s+|vat\s+)?invoice\b`)
	creditNoteRe   = regexp.MustCompile(`(?i)\bcredit\s+note\b`)
)

// PageGrouper segments a multi-page scan into documents by header
// signals: a fresh supplier or invoice number starts a new document,
// matching numbers and "page x of y" markers continue the current one.
type PageGrouper struct{}

// pageFacts is what grouping needs to know about one page.
type pageFacts struct {
	docType       string
	supplier      string
	invoiceNumber string
	pageOf        [2]int // {x, y} from "page x of y", zero when absent
}

// Group splits per-page results into document groups. Results must be in
// page order.
func (g *PageGrouper) Group(pages []*extract.Result, pageTexts []string) []DocumentGroup {
	if len(pages) == 0 {
		return nil
	}

	facts := make([]pageFacts, len(pages))
	for i, res := range pages {
		text := ""
		if i < len(pageTexts) {
			text = pageTexts[i]
		}
		facts[i] = factsFor(res, text)
	}

	var groups []DocumentGroup
	cur := DocumentGroup{
		Pages:         []int{0},
		DocumentType:  facts[0].docType,
		Supplier:      facts[0].supplier,
		InvoiceNumber: facts[0].invoiceNumber,
	}
	for i := 1; i < len(pages); i++ {
		if isContinuation(facts[i-1], facts[i]) {
			cur.Pages = append(cur.Pages, i)
			if cur.Supplier == "" {
				cur.Supplier = facts[i].supplier
			}
			if cur.InvoiceNumber == "" {
				cur.InvoiceNumber = facts[i].invoiceNumber
			}
			continue
		}
		groups = append(groups, cur)
		cur = DocumentGroup{
			Pages:         []int{i},
			DocumentType:  facts[i].docType,
			Supplier:      facts[i].supplier,
			InvoiceNumber: facts[i].invoiceNumber,
		}
	}
	return append(groups, cur)
}

// IsContinuation reports whether the page with the given facts continues
// the previous page's document.
func (g *PageGrouper) IsContinuation(prev, cur *extract.Result, prevText, curText string) bool {
	return isContinuation(factsFor(prev, prevText), factsFor(cur, curText))
}

func isContinuation(prev, cur pageFacts) bool {
	if cur.docType != prev.docType {
		return false
	}
	// A matching invoice number is decisive.
	if cur.invoiceNumber != "" && prev.invoiceNumber != "" {
		return cur.invoiceNumber == prev.invoiceNumber
	}
	// "Page 2 of 3" following "Page 1 of 3".
	if cur.pageOf[1] > 0 && cur.pageOf[1] == prev.pageOf[1] && cur.pageOf[0] == prev.pageOf[0]+1 {
		return true
	}
	// A new supplier header starts a new document.
	if cur.supplier != "" && prev.supplier != "" && !strings.EqualFold(cur.supplier, prev.supplier) {
		return false
	}
	// No header on the page at all: line items running on from the
	// previous page.
	return cur.supplier == "" && cur.invoiceNumber == ""
}

func factsFor(res *extract.Result, text string) pageFacts {
	f := pageFacts{docType: "invoice"}
	switch {
	case deliveryNoteRe.MatchString(text):
		f.docType = "delivery_note"
	case creditNoteRe.MatchString(text):
		f.docType = "credit_note"
	case invoiceWordRe.MatchString(text):
		f.docType = "invoice"
	}
	if res != nil && res.Header != nil {
		f.supplier = res.Header.Supplier
		f.invoiceNumber = res.Header.InvoiceNumber
	}
	if m := pageOfRe.FindStringSubmatch(text); m != nil {
		f.pageOf[0] = atoi(m[1])
		f.pageOf[1] = atoi(m[2])
	}
	return f
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}

// MergeGroup folds the per-page results of one document group into a
// single result: line items concatenated in page order, header taken from
// the first page that has one, delivery notes contributing nothing.
func MergeGroup(group DocumentGroup, pages []*extract.Result) *extract.Result {
	merged := &extract.Result{}
	confSum, confN := 0.0, 0
	for _, idx := range group.Pages {
		if idx < 0 || idx >= len(pages) || pages[idx] == nil {
			continue
		}
		p := pages[idx]
		if merged.ID == "" {
			merged.ID = p.ID
		}
		if merged.Header == nil && p.Header != nil {
			merged.Header = p.Header
			merged.SupplierHint = p.SupplierHint
		}
		if merged.MethodUsed == "" {
			merged.MethodUsed = p.MethodUsed
		}
		if group.DocumentType != "delivery_note" {
			merged.LineItems = append(merged.LineItems, p.LineItems...)
		}
		merged.NeedsManualReview = merged.NeedsManualReview || p.NeedsManualReview
		merged.ReviewReasons = append(merged.ReviewReasons, p.ReviewReasons...)
		confSum += p.OverallConfidence
		confN++
	}
	if confN > 0 {
		merged.OverallConfidence = confSum / float64(confN)
	}
	for i := range merged.LineItems {
		merged.LineItems[i].RowIndex = i
	}
	return merged
}
