package extract

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/invexa/invexa-go/metrics"
)

// LLMReconstructor rebuilds line items from raw page text when geometric
// and textual parsing fail. Implementations live outside this package so
// the engine stays usable without a model server.
type LLMReconstructor interface {
	Reconstruct(ctx context.Context, pageText string, blocks []WordBlock) (*Result, error)
}

// minColumnConfidence is the floor below which a detected column structure
// is not trusted for cell assignment.
const minColumnConfidence = 0.5

// llmFallbackConfidence is the overall confidence below which the engine
// escalates to LLM reconstruction.
const llmFallbackConfidence = 0.4

// Engine runs the full extraction pipeline over one OCR page: row
// grouping, column detection and profiling, candidate generation by
// three methods, reconciliation, selection and the optional LLM fallback.
//
// An Engine is safe for concurrent use; all per-call state lives on the
// stack of Extract.
type Engine struct {
	cfg      Config
	log      *zap.Logger
	patterns *SupplierPatterns
	llm      LLMReconstructor
	parser   *MultiPassParser
	recon    *Reconciler
	profiler *ContentProfiler
	headers  *HeaderExtractor
}

// EngineOption configures an Engine at construction.
type EngineOption func(*Engine)

// WithLLM attaches an LLM reconstruction fallback. Without one the engine
// reports review instead of escalating.
func WithLLM(llm LLMReconstructor) EngineOption {
	return func(e *Engine) { e.llm = llm }
}

// WithSupplierPatterns shares a supplier learner across engines.
func WithSupplierPatterns(sp *SupplierPatterns) EngineOption {
	return func(e *Engine) { e.patterns = sp }
}

func NewEngine(cfg Config, log *zap.Logger, opts ...EngineOption) *Engine {
	cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		cfg:      cfg,
		log:      log,
		patterns: NewSupplierPatterns(),
		parser:   NewMultiPassParser(log),
		recon:    NewReconciler(log),
		profiler: &ContentProfiler{},
		headers:  NewHeaderExtractor(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Patterns exposes the supplier learner for export and import.
func (e *Engine) Patterns() *SupplierPatterns { return e.patterns }

// candidate is one method's attempt at the page.
type candidate struct {
	method     string
	items      []LineItem
	confidence float64
}

// Extract converts one page of OCR word blocks into verified line items.
//
// The returned result is never nil. A non-nil error means extraction
// could not complete reliably; the result still carries whatever was
// recovered, marked for manual review.
func (e *Engine) Extract(ctx context.Context, input PageInput) (*Result, error) {
	start := time.Now()
	res := &Result{ID: uuid.NewString()}
	defer func() {
		metrics.ObserveExtraction(res.MethodUsed, res.ItemCount(), res.NeedsManualReview, time.Since(start))
	}()

	blocks := normalizeBlocks(input.Blocks)
	if len(blocks) == 0 {
		res.NeedsManualReview = true
		res.ReviewReasons = append(res.ReviewReasons, "no OCR text on page")
		return res, nil
	}

	grouper := &RowGrouper{YTolerance: e.cfg.yTolerance(input.PageHeight)}
	rows := grouper.GroupRows(blocks, nil)
	for _, row := range rows {
		if reason, excluded := ExcludeRow(NormalizeText(row.Text())); excluded {
			metrics.RowsExcludedTotal.WithLabelValues(reason).Inc()
		}
	}

	detector := NewColumnDetector(input.PageWidth)
	detector.GapThreshold = e.cfg.gapThreshold(input.PageWidth)
	structure := detector.Detect(rows)

	var structuredRows []Row
	if structure.Confidence >= minColumnConfidence {
		structuredRows = grouper.GroupRows(blocks, structure)
		profileConf := e.profiler.Profile(structuredRows, structure)
		structure.Confidence = clamp01((structure.Confidence + profileConf) / 2)
	}
	res.ColumnStructure = structure

	res.Header = e.headers.Extract(rows)
	res.SupplierHint = res.Header.Supplier

	startPass := passStrict
	if e.patterns != nil {
		startPass = e.patterns.RecommendedPass(res.SupplierHint)
	}

	cands := e.buildCandidates(rows, structuredRows, structure, startPass)
	best := selectCandidate(cands)

	res.LineItems = best.items
	res.MethodUsed = best.method
	res.OverallConfidence = best.confidence
	for i := range res.LineItems {
		if res.LineItems[i].MethodUsed == "" {
			res.LineItems[i].MethodUsed = best.method
		}
	}

	e.log.Debug("candidates evaluated",
		zap.String("selected", best.method),
		zap.Int("items", len(best.items)),
		zap.Float64("confidence", best.confidence),
		zap.Float64("column_confidence", structure.Confidence))

	if e.shouldEscalate(res) {
		if err := e.escalate(ctx, res, rows, blocks); err != nil {
			return res, err
		}
	}

	e.validate(res)

	if e.patterns != nil {
		e.patterns.UpdateFrom(res, passForConfidence(res.OverallConfidence))
	}
	return res, nil
}

// buildCandidates produces one candidate per viable method.
func (e *Engine) buildCandidates(rows, structuredRows []Row, structure *ColumnStructure, startPass strictness) []candidate {
	var cands []candidate

	// Text method: strategy chain over assembled row text.
	textItems := e.recon.Reconcile(e.parser.ParseFrom(rows, startPass))
	cands = append(cands, candidate{
		method:     MethodText,
		items:      textItems,
		confidence: overallConfidence(textItems, 0),
	})

	if structure.Confidence >= minColumnConfidence && len(structuredRows) > 0 {
		// Structure-aware method: cells mapped by profiled roles.
		structItems := e.recon.Reconcile(e.parseStructured(structuredRows, structure))
		cands = append(cands, candidate{
			method:     MethodStructure,
			items:      structItems,
			confidence: overallConfidence(structItems, structure.Confidence),
		})

		// Spatial method: cells mapped by position only, a fallback for
		// tables whose content defeats the profiler.
		spatialItems := e.recon.Reconcile(e.parseSpatial(structuredRows, structure))
		cands = append(cands, candidate{
			method:     MethodSpatial,
			items:      spatialItems,
			confidence: overallConfidence(spatialItems, structure.Confidence*0.8),
		})
	}
	return cands
}

// parseStructured builds items from row cells using the roles the
// profiler assigned to each column.
func (e *Engine) parseStructured(rows []Row, structure *ColumnStructure) []LineItem {
	var items []LineItem
	for _, row := range rows {
		text := row.Text()
		if _, excluded := ExcludeRow(NormalizeText(text)); excluded {
			continue
		}
		item, ok := e.itemFromCells(row, structure)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items
}

func (e *Engine) itemFromCells(row Row, structure *ColumnStructure) (LineItem, bool) {
	item := LineItem{RowIndex: row.Index, Confidence: 0.9 * structure.Confidence}
	havePrice := false
	for col := 0; col < structure.Columns(); col++ {
		blocks := row.Cells[col]
		if len(blocks) == 0 {
			continue
		}
		text := strings.TrimSpace(NormalizeText(row.CellText(col)))
		if text == "" {
			continue
		}
		boxes := make([]BBox, 0, len(blocks))
		for _, b := range blocks {
			boxes = append(boxes, b.BBox)
		}
		cellBox := UnionBBox(boxes)

		role := structure.Roles[col]
		switch role {
		case RoleDescription:
			// Two description-profiled columns happen on invoices with a
			// separate pack or brand column; keep both, left to right.
			if item.Description == "" {
				item.Description = text
			} else {
				item.Description += " " + text
			}
			item.SetFieldBBox("description", cellBox)
		case RoleQty:
			// The first qty-shaped column wins; later ones are usually VAT
			// codes or line numbers.
			if item.Qty == 0 {
				if q, ok := ParseQty(text); ok {
					item.Qty = q
					item.SetFieldBBox("qty", cellBox)
				}
			}
		case RoleUnitPrice:
			if d, ok := ParseAmount(text); ok {
				item.UnitPrice, _ = d.Float64()
				item.SetFieldBBox("unit_price", cellBox)
				havePrice = true
			}
		case RoleTotal:
			if d, ok := ParseAmount(text); ok {
				item.Total, _ = d.Float64()
				item.SetFieldBBox("total", cellBox)
				havePrice = true
			}
		case RoleUOM:
			item.UOM = text
			item.SetFieldBBox("uom", cellBox)
		default:
			// Unprofiled column: fold into the description rather than
			// drop OCR text on the floor.
			if item.Description == "" && !isPriceShaped(text) {
				item.Description = text
				item.SetFieldBBox("description", cellBox)
			}
		}
	}

	if item.Description == "" || !havePrice {
		return LineItem{}, false
	}
	if item.Qty == 0 {
		if q, rest, ok := splitMergedQty(item.Description); ok {
			item.Qty, item.Description = q, rest
		} else {
			item.Qty = 1
		}
	}
	if len(row.Blocks) > 0 {
		bb := row.bbox()
		item.BBox = &bb
	}
	return item, true
}

// parseSpatial maps cells to fields by column order alone: leftmost wide
// column is the description, trailing numeric columns are prices.
func (e *Engine) parseSpatial(rows []Row, structure *ColumnStructure) []LineItem {
	n := structure.Columns()
	if n < 2 {
		return nil
	}
	var items []LineItem
	for _, row := range rows {
		if _, excluded := ExcludeRow(NormalizeText(row.Text())); excluded {
			continue
		}
		item := LineItem{RowIndex: row.Index, Confidence: 0.7 * structure.Confidence}
		var prices []float64
		var priceBoxes []BBox
		for col := 0; col < n; col++ {
			text := strings.TrimSpace(NormalizeText(row.CellText(col)))
			if text == "" {
				continue
			}
			blocks := row.Cells[col]
			boxes := make([]BBox, 0, len(blocks))
			for _, b := range blocks {
				boxes = append(boxes, b.BBox)
			}
			cellBox := UnionBBox(boxes)
			switch {
			case isPriceShaped(text):
				if d, ok := ParseAmount(text); ok {
					v, _ := d.Float64()
					prices = append(prices, v)
					priceBoxes = append(priceBoxes, cellBox)
				}
			case isBareInt(text) && item.Qty == 0:
				if q, ok := ParseQty(text); ok {
					item.Qty = q
					item.SetFieldBBox("qty", cellBox)
				}
			case item.Description == "":
				item.Description = text
				item.SetFieldBBox("description", cellBox)
			}
		}
		if item.Description == "" || len(prices) == 0 {
			continue
		}
		if item.Qty == 0 {
			item.Qty = 1
		}
		if len(row.Blocks) > 0 {
			bb := row.bbox()
			item.BBox = &bb
		}
		if len(prices) >= 2 {
			item.UnitPrice = prices[0]
			item.SetFieldBBox("unit_price", priceBoxes[0])
			item.Total = prices[len(prices)-1]
			item.SetFieldBBox("total", priceBoxes[len(priceBoxes)-1])
		} else {
			item.Total = prices[0]
			item.SetFieldBBox("total", priceBoxes[0])
		}
		items = append(items, item)
	}
	return items
}

// selectCandidate picks the winner lexicographically: any items beats no
// items, then overall confidence, then bounding-box completeness.
func selectCandidate(cands []candidate) candidate {
	if len(cands) == 0 {
		return candidate{method: MethodText}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if (len(a.items) > 0) != (len(b.items) > 0) {
			return len(a.items) > 0
		}
		if a.confidence != b.confidence {
			return a.confidence > b.confidence
		}
		return bboxCount(a.items) > bboxCount(b.items)
	})
	return cands[0]
}

func bboxCount(items []LineItem) int {
	n := 0
	for _, it := range items {
		if it.BBox != nil {
			n++
		}
	}
	return n
}

// overallConfidence averages item confidences and blends in the structure
// confidence when one exists.
func overallConfidence(items []LineItem, structureConf float64) float64 {
	if len(items) == 0 {
		return 0
	}
	sum := 0.0
	for _, it := range items {
		sum += it.Confidence
	}
	mean := sum / float64(len(items))
	if structureConf > 0 {
		mean = 0.7*mean + 0.3*structureConf
	}
	return clamp01(mean)
}

func (e *Engine) shouldEscalate(res *Result) bool {
	if !e.cfg.EnableLLMFallback || e.llm == nil {
		return false
	}
	return res.ItemCount() == 0 || res.OverallConfidence < llmFallbackConfidence
}

// escalate runs LLM reconstruction and adopts its result when it improves
// on the geometric one. A terminal LLM failure is surfaced: the page is
// marked for review and the error returned, never silently swallowed.
func (e *Engine) escalate(ctx context.Context, res *Result, rows []Row, blocks []WordBlock) error {
	pageText := AssembleText(rows)
	llmRes, err := e.llm.Reconstruct(ctx, pageText, blocks)
	if err != nil {
		res.NeedsManualReview = true
		res.ReviewReasons = append(res.ReviewReasons, fmt.Sprintf("llm reconstruction failed: %v", err))
		e.log.Warn("llm reconstruction failed", zap.Error(err))
		return fmt.Errorf("llm reconstruction: %w", err)
	}
	if llmRes == nil || llmRes.ItemCount() == 0 {
		res.NeedsManualReview = true
		res.ReviewReasons = append(res.ReviewReasons, "llm reconstruction returned no line items")
		return nil
	}

	llmRes.LineItems = e.recon.Reconcile(llmRes.LineItems)
	res.LineItems = llmRes.LineItems
	res.MethodUsed = MethodLLM
	res.OverallConfidence = llmRes.OverallConfidence
	res.NeedsManualReview = res.NeedsManualReview || llmRes.NeedsManualReview
	res.ReviewReasons = append(res.ReviewReasons, llmRes.ReviewReasons...)
	if res.Header != nil && llmRes.Header != nil {
		mergeHeader(res.Header, llmRes.Header)
	}
	for i := range res.LineItems {
		res.LineItems[i].MethodUsed = MethodLLM
	}
	return nil
}

// validate applies the document-level arithmetic gate: when line totals
// disagree with the stated totals beyond the configured threshold the
// result is forced into review and its confidence capped.
func (e *Engine) validate(res *Result) {
	if res.ItemCount() == 0 {
		if !res.NeedsManualReview {
			res.NeedsManualReview = true
			res.ReviewReasons = append(res.ReviewReasons, "no line items extracted")
		}
		return
	}

	target := 0.0
	if res.Header != nil {
		if res.Header.Subtotal > 0 {
			target = res.Header.Subtotal
		} else if res.Header.GrandTotal > 0 {
			target = res.Header.GrandTotal
		}
	}
	if target <= 0 {
		return
	}

	sum := 0.0
	for _, it := range res.LineItems {
		sum += it.Total
	}
	relErr := (sum - target) / target
	if relErr < 0 {
		relErr = -relErr
	}
	if relErr > e.cfg.ValidationErrorThreshold {
		res.NeedsManualReview = true
		res.ReviewReasons = append(res.ReviewReasons,
			fmt.Sprintf("line totals %.2f disagree with document total %.2f", sum, target))
		if res.OverallConfidence > 0.5 {
			res.OverallConfidence = 0.5
		}
		e.log.Info("validation gate failed",
			zap.Float64("line_sum", sum),
			zap.Float64("document_total", target),
			zap.Float64("relative_error", relErr))
	}
}

func normalizeBlocks(in []WordBlock) []WordBlock {
	out := make([]WordBlock, 0, len(in))
	for _, b := range in {
		b.Text = strings.TrimSpace(NormalizeText(b.Text))
		if b.Text == "" {
			continue
		}
		out = append(out, b)
	}
	return out
}

func passForConfidence(conf float64) strictness {
	if conf >= 0.7 {
		return passStrict
	}
	if conf >= llmFallbackConfidence {
		return passStandard
	}
	return passLenient
}
