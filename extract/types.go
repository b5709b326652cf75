// Package extract converts per-page OCR word blocks into verified invoice
// line items. It combines geometric column/row detection, statistical column
// profiling, multi-strategy textual parsing, multi-pass orchestration and
// arithmetic reconciliation, with an optional LLM reconstruction fallback.
package extract

import "encoding/json"

// BBox is an axis-aligned bounding box in pixel coordinates of the source
// page image. It serializes as the four-element array [x, y, w, h].
type BBox struct {
	X float64
	Y float64
	W float64
	H float64
}

// MarshalJSON encodes the box as [x, y, w, h].
func (b BBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{b.X, b.Y, b.W, b.H})
}

// UnmarshalJSON decodes a box from [x, y, w, h].
func (b *BBox) UnmarshalJSON(data []byte) error {
	var arr [4]float64
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	b.X, b.Y, b.W, b.H = arr[0], arr[1], arr[2], arr[3]
	return nil
}

// CenterX returns the horizontal center of the box.
func (b BBox) CenterX() float64 { return b.X + b.W/2 }

// CenterY returns the vertical center of the box.
func (b BBox) CenterY() float64 { return b.Y + b.H/2 }

// Right returns the right edge of the box.
func (b BBox) Right() float64 { return b.X + b.W }

// Bottom returns the bottom edge of the box.
func (b BBox) Bottom() float64 { return b.Y + b.H }

// UnionBBox returns the smallest box covering all inputs.
// Returns the zero box for an empty slice.
func UnionBBox(boxes []BBox) BBox {
	if len(boxes) == 0 {
		return BBox{}
	}
	u := boxes[0]
	for _, b := range boxes[1:] {
		if b.X < u.X {
			u.W = u.Right() - b.X
			u.X = b.X
		}
		if b.Y < u.Y {
			u.H = u.Bottom() - b.Y
			u.Y = b.Y
		}
		if b.Right() > u.Right() {
			u.W = b.Right() - u.X
		}
		if b.Bottom() > u.Bottom() {
			u.H = b.Bottom() - u.Y
		}
	}
	return u
}

// WordBlock is a single OCR text fragment with its pixel bounding box and
// recognition confidence. It is produced by the OCR collaborator and is
// treated as immutable input.
type WordBlock struct {
	Text       string  `json:"text"`
	BBox       BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
	Page       int     `json:"page"`
}

// Role is the semantic role assigned to a detected table column.
type Role string

const (
	RoleDescription Role = "description"
	RoleQty         Role = "qty"
	RoleUnitPrice   Role = "unit_price"
	RoleTotal       Role = "total"
	RoleUOM         Role = "uom"
	RoleUnknown     Role = "unknown"
)

// ColumnStructure describes the detected column layout of a table region.
// Boundaries are the left-edge X positions of each column, strictly
// increasing. Roles maps column index to semantic role.
type ColumnStructure struct {
	Boundaries []float64    `json:"boundaries"`
	Roles      map[int]Role `json:"roles"`
	Confidence float64      `json:"confidence"`
}

// ColumnFor returns the index of the boundary nearest to x.
// Returns -1 when no boundaries were detected.
func (cs *ColumnStructure) ColumnFor(x float64) int {
	if cs == nil || len(cs.Boundaries) == 0 {
		return -1
	}
	best := 0
	bestDist := abs(x - cs.Boundaries[0])
	for i, b := range cs.Boundaries[1:] {
		if d := abs(x - b); d < bestDist {
			best = i + 1
			bestDist = d
		}
	}
	return best
}

// Columns returns the number of detected columns.
func (cs *ColumnStructure) Columns() int {
	if cs == nil {
		return 0
	}
	return len(cs.Boundaries)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// Flags recorded on line items during extraction and reconciliation.
const (
	FlagSumMismatch     = "sum_mismatch"
	FlagPriceOutOfRange = "price_out_of_range"
	FlagBBoxUnmatched   = "bbox_unmatched"
	FlagWeakParse       = "weak_parse"
)

// Extraction method identifiers, recorded on results for observability.
const (
	MethodSpatial   = "spatial"
	MethodText      = "text"
	MethodStructure = "structure_aware"
	MethodLLM       = "llm"
)

// Price inference markers recorded by the reconciliation engine.
const (
	InferUnitFromTotal    = "unit_from_total"
	InferTotalFromUnit    = "total_from_unit"
	InferSwappedUnitTotal = "swapped_unit_total"
)

// LineItem is one extracted table row: a product or service with quantity
// and pricing. Items are created during a single extraction pass, may be
// mutated by reconciliation and the multi-pass merger, and are immutable
// once the engine returns.
type LineItem struct {
	Description    string           `json:"description"`
	Qty            float64          `json:"qty"`
	UnitPrice      float64          `json:"unit_price"`
	Total          float64          `json:"total"`
	UOM            string           `json:"uom,omitempty"`
	SKU            string           `json:"sku,omitempty"`
	VATRate        float64          `json:"vat_rate,omitempty"`
	Confidence     float64          `json:"confidence"`
	RowIndex       int              `json:"row_index"`
	BBox           *BBox            `json:"bbox"`
	BBoxByField    map[string]*BBox `json:"bbox_by_field,omitempty"`
	Flags          []string         `json:"flags"`
	MethodUsed     string           `json:"method_used"`
	PriceInference string           `json:"price_inference,omitempty"`
}

// AddFlag records a flag on the item exactly once.
func (li *LineItem) AddFlag(flag string) {
	if li.HasFlag(flag) {
		return
	}
	li.Flags = append(li.Flags, flag)
}

// HasFlag reports whether the item carries the given flag.
func (li *LineItem) HasFlag(flag string) bool {
	for _, f := range li.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// SetFieldBBox records the bounding box for a named field and refreshes the
// item-level union box.
func (li *LineItem) SetFieldBBox(field string, box BBox) {
	if li.BBoxByField == nil {
		li.BBoxByField = make(map[string]*BBox)
	}
	b := box
	li.BBoxByField[field] = &b

	boxes := make([]BBox, 0, len(li.BBoxByField))
	for _, fb := range li.BBoxByField {
		if fb != nil {
			boxes = append(boxes, *fb)
		}
	}
	union := UnionBBox(boxes)
	li.BBox = &union
}

// HeaderFields holds document-level fields extracted from the page header
// and footer regions.
type HeaderFields struct {
	Supplier      string  `json:"supplier,omitempty"`
	InvoiceNumber string  `json:"invoice_number,omitempty"`
	InvoiceDate   string  `json:"invoice_date,omitempty"`
	Currency      string  `json:"currency,omitempty"`
	Subtotal      float64 `json:"subtotal,omitempty"`
	VATAmount     float64 `json:"vat_amount,omitempty"`
	GrandTotal    float64 `json:"grand_total,omitempty"`
	VATRate       float64 `json:"vat_rate,omitempty"`
}

// Result is the terminal output of one extraction call. It is immutable
// once returned to the caller.
type Result struct {
	ID                string           `json:"id"`
	LineItems         []LineItem       `json:"line_items"`
	MethodUsed        string           `json:"method_used"`
	OverallConfidence float64          `json:"overall_confidence"`
	NeedsManualReview bool             `json:"needs_manual_review"`
	ReviewReasons     []string         `json:"review_reasons,omitempty"`
	ColumnStructure   *ColumnStructure `json:"column_structure,omitempty"`
	SupplierHint      string           `json:"supplier_hint,omitempty"`
	Header            *HeaderFields    `json:"header,omitempty"`
}

// ItemCount returns the number of extracted line items.
func (r *Result) ItemCount() int {
	if r == nil {
		return 0
	}
	return len(r.LineItems)
}

// PageInput is the per-page input to the engine: normalized OCR word blocks
// plus the source image dimensions in pixels.
type PageInput struct {
	Blocks     []WordBlock `json:"blocks"`
	PageWidth  float64     `json:"width"`
	PageHeight float64     `json:"height"`
	Page       int         `json:"page"`
}
