package extract

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"
)

// cleanInvoicePage builds a well-scanned four-column invoice: header,
// table, summary block.
func cleanInvoicePage() PageInput {
	var blocks []WordBlock
	add := func(text string, x, y float64) {
		blocks = append(blocks, WordBlock{Text: text, BBox: BBox{X: x, Y: y, W: float64(len(text)) * 14, H: 28}, Confidence: 0.97})
	}

	add("BOOKER", 100, 120)
	add("WHOLESALE", 220, 120)
	add("Invoice", 100, 180)
	add("No:", 210, 180)
	add("375424", 260, 180)

	// Description, pack, qty, unit price, line total, VAT code. The
	// trailing code column is what defeats flat text parsing and makes the
	// geometric methods earn their keep.
	products := []string{"LAGER", "CIDER", "STOUT", "PORTER", "BITTER", "PALE", "WHEAT", "AMBER"}
	y := 400.0
	for _, p := range products {
		add(p, 100, y)
		add("KEG", 240, y)
		add("2", 900, y)
		add("4.50", 1200, y)
		add("9.00", 1500, y)
		add("1", 1800, y)
		y += 40
	}

	add("Subtotal", 100, 900)
	add("£72.00", 1500, 900)
	add("Total", 100, 940)
	add("Due", 180, 940)
	add("£86.40", 1500, 940)

	return PageInput{Blocks: blocks, PageWidth: 2480, PageHeight: 3508, Page: 1}
}

func TestEngineCleanInvoice(t *testing.T) {
	engine := NewEngine(DefaultConfig(), zap.NewNop())
	res, err := engine.Extract(context.Background(), cleanInvoicePage())
	if err != nil {
		t.Fatal(err)
	}

	if res.ItemCount() != 8 {
		t.Fatalf("got %d items, want 8", res.ItemCount())
	}
	if res.MethodUsed != MethodStructure && res.MethodUsed != MethodSpatial {
		t.Errorf("method = %q, want a geometry-backed method on a clean table", res.MethodUsed)
	}
	for i, it := range res.LineItems {
		if it.Qty != 2 || it.UnitPrice != 4.50 || it.Total != 9.00 {
			t.Errorf("item %d: qty=%v unit=%v total=%v", i, it.Qty, it.UnitPrice, it.Total)
		}
		if it.BBox == nil {
			t.Errorf("item %d: missing bbox on a geometric parse", i)
		}
		if it.HasFlag(FlagSumMismatch) {
			t.Errorf("item %d: clean arithmetic flagged", i)
		}
	}
	if res.Header == nil || res.Header.InvoiceNumber != "375424" {
		t.Errorf("header = %+v, want invoice number 375424", res.Header)
	}
	if res.SupplierHint != "Booker Wholesale" {
		t.Errorf("supplier hint = %q", res.SupplierHint)
	}
	if res.NeedsManualReview {
		t.Errorf("clean invoice flagged for review: %v", res.ReviewReasons)
	}
	if res.ColumnStructure.Columns() < 4 {
		t.Errorf("columns = %d, want 4", res.ColumnStructure.Columns())
	}
}

func TestEngineDegradedScanFallsBackToText(t *testing.T) {
	// No stable column alignment: every row is one smeared text run.
	var blocks []WordBlock
	lines := []string{
		"2 HOUSE RED WINE 75CL 8.99 17.98",
		"6 12 LITRE PEPSI 4.50 27.00",
		"CHEDDAR 500G 4.25",
	}
	y := 400.0
	for i, line := range lines {
		blocks = append(blocks, WordBlock{
			Text: line,
			BBox: BBox{X: float64(100 + i*37), Y: y, W: 1400, H: 28},
		})
		y += 40
	}
	page := PageInput{Blocks: blocks, PageWidth: 2480, PageHeight: 3508, Page: 1}

	engine := NewEngine(DefaultConfig(), zap.NewNop())
	res, err := engine.Extract(context.Background(), page)
	if err != nil {
		t.Fatal(err)
	}
	if res.MethodUsed != MethodText {
		t.Errorf("method = %q, want text on an unaligned scan", res.MethodUsed)
	}
	if res.ItemCount() != 3 {
		t.Fatalf("got %d items, want 3", res.ItemCount())
	}
	var pepsi *LineItem
	for i := range res.LineItems {
		if res.LineItems[i].Description == "12 LITRE PEPSI" {
			pepsi = &res.LineItems[i]
		}
	}
	if pepsi == nil {
		t.Fatal("merged-quantity row missing")
	}
	if pepsi.Qty != 6 {
		t.Errorf("pepsi qty = %v, want 6", pepsi.Qty)
	}
}

func TestEngineEmptyPage(t *testing.T) {
	engine := NewEngine(DefaultConfig(), zap.NewNop())
	res, err := engine.Extract(context.Background(), PageInput{PageWidth: 2480, PageHeight: 3508})
	if err != nil {
		t.Fatal(err)
	}
	if !res.NeedsManualReview {
		t.Error("empty page must be flagged for review")
	}
	if res.ItemCount() != 0 {
		t.Errorf("got %d items from an empty page", res.ItemCount())
	}
}

func TestEngineValidationGate(t *testing.T) {
	// Line totals sum to 72.00 but the stated subtotal disagrees wildly.
	page := cleanInvoicePage()
	for i := range page.Blocks {
		if page.Blocks[i].Text == "£72.00" {
			page.Blocks[i].Text = "£720.00"
		}
	}
	engine := NewEngine(DefaultConfig(), zap.NewNop())
	res, err := engine.Extract(context.Background(), page)
	if err != nil {
		t.Fatal(err)
	}
	if !res.NeedsManualReview {
		t.Fatal("10x total disagreement must force review")
	}
	if res.OverallConfidence > 0.5 {
		t.Errorf("confidence = %v, want capped at 0.5", res.OverallConfidence)
	}
}

type stubLLM struct {
	res *Result
	err error
}

func (s *stubLLM) Reconstruct(ctx context.Context, pageText string, blocks []WordBlock) (*Result, error) {
	return s.res, s.err
}

func hopelessPage() PageInput {
	return PageInput{
		Blocks: []WordBlock{
			{Text: "s m u d g e", BBox: BBox{X: 100, Y: 400, W: 300, H: 28}},
		},
		PageWidth: 2480, PageHeight: 3508,
	}
}

func TestEngineLLMFallbackAdoptsResult(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableLLMFallback = true
	stub := &stubLLM{res: &Result{
		LineItems:         []LineItem{{Description: "RECOVERED ITEM", Qty: 1, UnitPrice: 5, Total: 5, Confidence: 0.8}},
		OverallConfidence: 0.8,
	}}
	engine := NewEngine(cfg, zap.NewNop(), WithLLM(stub))

	res, err := engine.Extract(context.Background(), hopelessPage())
	if err != nil {
		t.Fatal(err)
	}
	if res.MethodUsed != MethodLLM {
		t.Errorf("method = %q, want llm", res.MethodUsed)
	}
	if res.ItemCount() != 1 || res.LineItems[0].Description != "RECOVERED ITEM" {
		t.Errorf("items = %+v", res.LineItems)
	}
}

func TestEngineLLMFailureIsVisible(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableLLMFallback = true
	stub := &stubLLM{err: errors.New("model server unreachable")}
	engine := NewEngine(cfg, zap.NewNop(), WithLLM(stub))

	res, err := engine.Extract(context.Background(), hopelessPage())
	if err == nil {
		t.Fatal("terminal llm failure must surface as an error")
	}
	if res == nil || !res.NeedsManualReview {
		t.Error("failed extraction must still return a reviewable result")
	}
}

func TestEngineConcurrentExtract(t *testing.T) {
	engine := NewEngine(DefaultConfig(), zap.NewNop())
	page := cleanInvoicePage()

	errc := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			res, err := engine.Extract(context.Background(), page)
			if err == nil && res.ItemCount() != 8 {
				err = fmt.Errorf("got %d items", res.ItemCount())
			}
			errc <- err
		}()
	}
	for i := 0; i < 8; i++ {
		if err := <-errc; err != nil {
			t.Error(err)
		}
	}
}

func TestSelectCandidateOrdering(t *testing.T) {
	withBoxes := []LineItem{{Description: "a", BBox: &BBox{X: 1}}}
	without := []LineItem{{Description: "a"}}

	got := selectCandidate([]candidate{
		{method: MethodText, items: nil, confidence: 0.9},
		{method: MethodSpatial, items: without, confidence: 0.5},
	})
	if got.method != MethodSpatial {
		t.Errorf("selected %q: any items must beat confident emptiness", got.method)
	}

	got = selectCandidate([]candidate{
		{method: MethodText, items: without, confidence: 0.6},
		{method: MethodStructure, items: withBoxes, confidence: 0.6},
	})
	if got.method != MethodStructure {
		t.Errorf("selected %q: bbox completeness breaks confidence ties", got.method)
	}
}
