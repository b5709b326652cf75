package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/invexa/invexa-go/extract"
)

// extractionPrompt instructs the model to emit one JSON document per page.
// The rules encode the OCR failure modes seen in real wholesale invoices:
// merged quantity columns, pack-size descriptions, container lists and
// policy text masquerading as products, 100x decimal errors.
const extractionPrompt = `You are an expert data extraction engine for invoices and receipts.
You output raw JSON only. No conversational text, no markdown code blocks.

EXTRACTION RULES:

1. LINE ITEMS
   - Extract description, qty, unit_price, total, uom, sku and vat_rate where present.
   - Merged columns: in "6 12 LITRE PEPSI" the FIRST number is ALWAYS the
     quantity. qty=6, description="12 LITRE PEPSI".
   - Pack sizes: "12x1L", "6x2.5kg" give qty and uom separately.
     "12x1L" means qty=12, uom="1L".
   - If qty is missing but total and unit_price exist, compute qty = total / unit_price.
   - If qty cannot be determined at all, default it to 1.
   - qty * unit_price should roughly equal total. Trust the explicit total
     over the unit price when they conflict.

2. NOISE - never emit these as line items
   - VAT registration, company number, phone, email, bank or address lines.
   - Container IDs and container lists ("Delivered in containers: XYZ789").
   - ALL-CAPS return policy or terms text ("WE DO NOT ACCEPT RETURNS OF UNSOLD BEER").
   - Table column headers ("CODE DESCRIPTION QTY UNIT PRICE").
   - Subtotal, VAT total and grand total rows belong in the root fields, not line_items.
   - "C/F" carried-forward and "Page x of y" lines.

3. AMOUNTS
   - Preserve decimal points exactly: "891.54" is 891.54, never 89154.
   - Convert comma decimals: "891,54" becomes 891.54.

4. DOCUMENT
   - Extract supplier_name, invoice_number, invoice_date (convert UK
     DD/MM/YYYY to YYYY-MM-DD), currency, subtotal, vat_amount, grand_total.
   - The supplier is the main business name at the top, never a payment
     processor or footer text.
   - If the page contains "Delivery Note", set document_type to
     "delivery_note" and return an empty line_items array.

OUTPUT - raw JSON exactly in this shape:

{
  "document_type": "invoice",
  "supplier_name": "",
  "invoice_number": "",
  "invoice_date": "YYYY-MM-DD",
  "currency": "GBP",
  "line_items": [
    {"description": "", "qty": 1.0, "unit_price": 0.0, "total": 0.0, "uom": "", "sku": "", "vat_rate": "20%"}
  ],
  "subtotal": 0.0,
  "vat_amount": 0.0,
  "grand_total": 0.0
}

OCR TEXT:

`

// pageDocument is the wire shape the model returns.
type pageDocument struct {
	DocumentType  string     `json:"document_type"`
	SupplierName  string     `json:"supplier_name"`
	InvoiceNumber string     `json:"invoice_number"`
	InvoiceDate   string     `json:"invoice_date"`
	Currency      string     `json:"currency"`
	LineItems     []pageItem `json:"line_items"`
	Subtotal      float64    `json:"subtotal"`
	VATAmount     float64    `json:"vat_amount"`
	GrandTotal    float64    `json:"grand_total"`
}

type pageItem struct {
	Description string  `json:"description"`
	Qty         float64 `json:"qty"`
	UnitPrice   float64 `json:"unit_price"`
	Total       float64 `json:"total"`
	UOM         string  `json:"uom"`
	SKU         string  `json:"sku"`
	VATRate     string  `json:"vat_rate"`
}

// Reconstructor drives the model, repairs its output and re-anchors items
// onto OCR geometry. It implements extract.LLMReconstructor.
type Reconstructor struct {
	client  *Client
	aligner *BBoxAligner
	log     *zap.Logger

	// validationThreshold is the relative error above which totals force
	// manual review.
	validationThreshold float64
}

// ReconstructorConfig configures a Reconstructor.
type ReconstructorConfig struct {
	Client              ClientConfig
	BBoxMatchThreshold  float64
	ValidationThreshold float64
}

func NewReconstructor(cfg ReconstructorConfig, log *zap.Logger) (*Reconstructor, error) {
	if log == nil {
		log = zap.NewNop()
	}
	client, err := NewClient(cfg.Client, log)
	if err != nil {
		return nil, err
	}
	return newReconstructor(client, cfg, log), nil
}

func newReconstructor(client *Client, cfg ReconstructorConfig, log *zap.Logger) *Reconstructor {
	if cfg.BBoxMatchThreshold <= 0 {
		cfg.BBoxMatchThreshold = 0.7
	}
	if cfg.ValidationThreshold <= 0 {
		cfg.ValidationThreshold = 0.10
	}
	return &Reconstructor{
		client:              client,
		aligner:             NewBBoxAligner(cfg.BBoxMatchThreshold),
		log:                 log,
		validationThreshold: cfg.ValidationThreshold,
	}
}

// Reconstruct asks the model to rebuild the page's line items from OCR
// text, repairs the output, and aligns each item back onto word-block
// bounding boxes. Geometry is never invented: items the aligner cannot
// place carry a nil bbox and a flag.
func (r *Reconstructor) Reconstruct(ctx context.Context, pageText string, blocks []extract.WordBlock) (*extract.Result, error) {
	raw, err := r.client.Generate(ctx, extractionPrompt+pageText)
	if err != nil {
		return nil, err
	}

	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, err
	}

	res := &extract.Result{
		ID:         uuid.NewString(),
		MethodUsed: extract.MethodLLM,
		Header: &extract.HeaderFields{
			Supplier:      cleanSupplierName(doc.SupplierName),
			InvoiceNumber: repairInvoiceNumber(doc.InvoiceNumber, pageText),
			InvoiceDate:   doc.InvoiceDate,
			Currency:      doc.Currency,
			Subtotal:      doc.Subtotal,
			VATAmount:     doc.VATAmount,
			GrandTotal:    doc.GrandTotal,
		},
	}
	res.SupplierHint = res.Header.Supplier

	if strings.EqualFold(doc.DocumentType, "delivery_note") {
		r.log.Info("delivery note detected, suppressing line items")
		res.OverallConfidence = 0.9
		return res, nil
	}

	items := repairItems(toLineItems(doc.LineItems), r.log)
	items = filterFooterItems(items, r.log)
	for i := range items {
		r.aligner.Align(&items[i], blocks)
	}
	res.LineItems = items

	r.score(res)
	return res, nil
}

// decodeDocument tolerates the formats local models actually emit:
// markdown fences, leading prose, trailing commas. Anything it still
// cannot parse is ErrInvalidJSON, which is terminal by contract.
func decodeDocument(raw string) (*pageDocument, error) {
	text := stripFences(raw)

	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first < 0 || last <= first {
		return nil, fmt.Errorf("%w: no JSON object in output", ErrInvalidJSON)
	}
	text = text[first : last+1]

	var doc pageDocument
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		repaired := trailingCommaRe.ReplaceAllString(text, "$1")
		if err2 := json.Unmarshal([]byte(repaired), &doc); err2 != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
	}
	return &doc, nil
}

var (
	fenceRe         = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

func stripFences(s string) string {
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return strings.TrimSpace(s)
}

func toLineItems(in []pageItem) []extract.LineItem {
	out := make([]extract.LineItem, 0, len(in))
	for i, pi := range in {
		desc := strings.TrimSpace(pi.Description)
		if desc == "" {
			continue
		}
		item := extract.LineItem{
			Description: desc,
			Qty:         pi.Qty,
			UnitPrice:   pi.UnitPrice,
			Total:       pi.Total,
			UOM:         strings.TrimSpace(pi.UOM),
			SKU:         strings.TrimSpace(pi.SKU),
			VATRate:     parseVATRate(pi.VATRate),
			Confidence:  0.8,
			RowIndex:    i,
			MethodUsed:  extract.MethodLLM,
		}
		out = append(out, item)
	}
	return out
}

var vatRateRe = regexp.MustCompile(`(\d+(?:\.\d+)?)`)

// parseVATRate accepts "20%", "20" and the numeric VAT code column where
// 1 means 20% and 2 means 5%.
func parseVATRate(s string) float64 {
	s = strings.TrimSpace(s)
	switch s {
	case "", "0":
		return 0
	case "1":
		return 20
	case "2":
		return 5
	}
	m := vatRateRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	var v float64
	fmt.Sscanf(m[1], "%f", &v)
	if v > 100 {
		return 0
	}
	return v
}

// repairItems applies the aggressive arithmetic fixes, in priority order:
// zero qty with a unit price forces qty 1; zero total with a unit price
// forces qty 1 and total = unit price; qty derivable from total/unit is
// derived; anything still without a qty defaults to 1.
func repairItems(items []extract.LineItem, log *zap.Logger) []extract.LineItem {
	out := make([]extract.LineItem, 0, len(items))
	for _, it := range items {
		switch {
		case it.Qty <= 0 && it.UnitPrice > 0 && it.Total <= 0:
			it.Qty = 1
			it.Total = round2(it.UnitPrice)
			log.Debug("repaired zero qty and total", zap.String("description", it.Description))
		case it.Total <= 0 && it.UnitPrice > 0:
			it.Total = round2(it.Qty * it.UnitPrice)
			log.Debug("repaired zero total", zap.String("description", it.Description))
		case it.Qty <= 0 && it.Total > 0 && it.UnitPrice > 0:
			it.Qty = round2(it.Total / it.UnitPrice)
			log.Debug("derived qty from totals", zap.String("description", it.Description))
		}
		if it.Qty <= 0 {
			it.Qty = 1
			if it.UnitPrice > 0 {
				it.Total = round2(it.Qty * it.UnitPrice)
			}
		}
		out = append(out, it)
	}
	return out
}

var policyRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\breturn\s+policy\b`),
	regexp.MustCompile(`(?i)\bno\s+returns?\b`),
	regexp.MustCompile(`(?i)\bterms\s+(?:and|&)\s+conditions\b`),
	regexp.MustCompile(`(?i)\bcontainers?\s+(?:outstanding|delivered)\b`),
	regexp.MustCompile(`(?i)\bdelivered\s+in\s+containers\b`),
	regexp.MustCompile(`(?i)\bvat\s+reg(?:istration)?\b`),
	regexp.MustCompile(`(?i)\bcompany\s+no\b`),
	regexp.MustCompile(`(?i)\bpage\s+\d+\s+of\s+\d+\b`),
}

// filterFooterItems drops items the prompt's noise rules should have
// excluded but did not: policy text, container lists, bare ID rows.
func filterFooterItems(items []extract.LineItem, log *zap.Logger) []extract.LineItem {
	out := make([]extract.LineItem, 0, len(items))
	for _, it := range items {
		if matchesPolicy(it.Description) {
			log.Debug("filtered policy text", zap.String("description", it.Description))
			continue
		}
		if isIDOnly(it) {
			log.Debug("filtered id-only row", zap.String("description", it.Description))
			continue
		}
		out = append(out, it)
	}
	return out
}

func matchesPolicy(desc string) bool {
	for _, re := range policyRes {
		if re.MatchString(desc) {
			return true
		}
	}
	upper := strings.ToUpper(desc)
	if upper == desc && len(desc) >= 20 {
		for _, kw := range []string{"RETURN", "POLICY", "UNSOLD", "ACCEPT"} {
			if containsWord(upper, kw) {
				return true
			}
		}
	}
	return false
}

func containsWord(s, w string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], w)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(w)
		leftOK := start == 0 || !isWordChar(s[start-1])
		rightOK := end == len(s) || !isWordChar(s[end])
		if leftOK && rightOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'A' && b <= 'Z' || b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

// isIDOnly matches priceless all-caps alphanumeric rows, the shape of
// container and batch IDs.
func isIDOnly(it extract.LineItem) bool {
	if it.UnitPrice != 0 || it.Total != 0 {
		return false
	}
	compact := strings.ReplaceAll(it.Description, " ", "")
	if len(compact) < 6 || strings.ToUpper(compact) != compact {
		return false
	}
	for _, r := range compact {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// score verifies the arithmetic and applies the hard validation gate:
// totals off by more than the threshold force review and cap confidence
// at half.
func (r *Reconstructor) score(res *extract.Result) {
	confidence := 1.0

	mathErrors := 0
	for i := range res.LineItems {
		it := &res.LineItems[i]
		expected := it.Qty * it.UnitPrice
		if it.UnitPrice > 0 && math.Abs(expected-it.Total) > 0.01 {
			it.Total = round2(expected)
			it.Confidence *= 0.9
			mathErrors++
		}
	}
	if n := len(res.LineItems); n > 0 {
		confidence -= float64(mathErrors) / float64(n) * 0.3
	}

	hdr := res.Header
	if len(res.LineItems) > 0 && hdr != nil {
		sum := 0.0
		for _, it := range res.LineItems {
			sum += it.Total
		}
		if hdr.Subtotal > 0 {
			relErr := math.Abs(sum-hdr.Subtotal) / hdr.Subtotal
			if relErr > r.validationThreshold {
				res.NeedsManualReview = true
				res.ReviewReasons = append(res.ReviewReasons,
					fmt.Sprintf("subtotal error %.1f%%: line sum %.2f vs stated %.2f", relErr*100, sum, hdr.Subtotal))
			} else if math.Abs(sum-hdr.Subtotal) > 0.01 {
				hdr.Subtotal = round2(sum)
				confidence -= 0.1
			}
		} else {
			hdr.Subtotal = round2(sum)
		}

		if hdr.GrandTotal > 0 {
			calc := hdr.Subtotal + hdr.VATAmount
			relErr := math.Abs(calc-hdr.GrandTotal) / hdr.GrandTotal
			if relErr > r.validationThreshold {
				res.NeedsManualReview = true
				res.ReviewReasons = append(res.ReviewReasons,
					fmt.Sprintf("grand total error %.1f%%: computed %.2f vs stated %.2f", relErr*100, calc, hdr.GrandTotal))
			}
		}
	}

	if confidence < 0 {
		confidence = 0
	}
	if res.NeedsManualReview && confidence > 0.5 {
		confidence = 0.5
	}
	res.OverallConfidence = confidence
	for i := range res.LineItems {
		if res.LineItems[i].Confidence > confidence {
			res.LineItems[i].Confidence = confidence
		}
	}
}

var invoiceNumPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bVAT\s+Invoice\s+([A-Za-z0-9/-]+)`),
	regexp.MustCompile(`(?i)Invoice\s*#\s*([A-Za-z0-9/-]+)`),
	regexp.MustCompile(`(?i)Invoice\s*(?:No|Number|#)?\s*[:.]?\s*([A-Z0-9-]{3,})`),
	regexp.MustCompile(`(?i)INV[-\s]?([A-Z0-9-]{3,})`),
}

// repairInvoiceNumber falls back to scanning the OCR header zone when the
// model returned nothing usable.
func repairInvoiceNumber(extracted, ocrText string) string {
	ex := strings.TrimSpace(extracted)
	switch strings.ToLower(ex) {
	case "", "null", "none", "n/a":
	default:
		return ex
	}
	zone := ocrText
	if len(zone) > 2000 {
		zone = zone[:2000]
	}
	for _, re := range invoiceNumPatterns {
		if m := re.FindStringSubmatch(zone); m != nil {
			num := strings.TrimSpace(m[1])
			if len(num) >= 3 {
				return num
			}
		}
	}
	if m := regexp.MustCompile(`\b(\d{4,})\b`).FindStringSubmatch(zone); m != nil {
		return m[1]
	}
	return ex
}

var supplierNoiseRe = regexp.MustCompile(`(?i)\s*(?:[&]\s*)?(?:payment\s+terms|terms\s*&?\s*(?:conditions)?|payment|due\s+date)\b.*$`)

// cleanSupplierName strips payment terms and similar trailing noise the
// model folds into the supplier field.
func cleanSupplierName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return name
	}
	cleaned := supplierNoiseRe.ReplaceAllString(name, "")
	cleaned = strings.TrimRight(strings.TrimSpace(cleaned), ".,;:&")
	cleaned = strings.TrimSpace(cleaned)
	if len(cleaned) >= 3 {
		return cleaned
	}
	return name
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
