package extract

import (
	"sort"
	"strings"
)

// Row is one logical table row: the word blocks whose Y-centers fall within
// the grouping tolerance, ordered left to right. When a column structure was
// detected, Cells maps column index to the blocks assigned to that column.
type Row struct {
	Index  int
	Blocks []WordBlock
	Cells  map[int][]WordBlock
}

// Text joins the row's block texts in reading order.
func (r *Row) Text() string {
	parts := make([]string, 0, len(r.Blocks))
	for _, b := range r.Blocks {
		parts = append(parts, b.Text)
	}
	return strings.Join(parts, " ")
}

// CellText joins the text of one column's blocks.
func (r *Row) CellText(col int) string {
	blocks := r.Cells[col]
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		parts = append(parts, b.Text)
	}
	return strings.Join(parts, " ")
}

// bbox returns the union box of the row's blocks.
func (r *Row) bbox() BBox {
	boxes := make([]BBox, 0, len(r.Blocks))
	for _, b := range r.Blocks {
		boxes = append(boxes, b.BBox)
	}
	return UnionBBox(boxes)
}

// RowGrouper clusters word blocks into rows by Y-center.
//
// The tolerance is adaptive rather than fixed: real scans drift vertically
// by around one percent of the page height between the description text and
// the numeric columns on the same logical row.
type RowGrouper struct {
	YTolerance float64
}

// NewRowGrouper returns a grouper with the adaptive tolerance for the page:
// max(20, 0.01 * pageHeight) pixels.
func NewRowGrouper(pageHeight float64) *RowGrouper {
	tol := 0.01 * pageHeight
	if tol < 20 {
		tol = 20
	}
	return &RowGrouper{YTolerance: tol}
}

// GroupRows buckets blocks into rows top to bottom. When structure is
// non-nil with detected boundaries, each row's blocks are additionally
// assigned to columns by nearest-boundary; otherwise rows stay as flat
// token sequences for the text strategies.
func (rg *RowGrouper) GroupRows(blocks []WordBlock, structure *ColumnStructure) []Row {
	if len(blocks) == 0 {
		return nil
	}

	type bucket struct {
		yMin, yMax float64
		blocks     []WordBlock
	}
	var buckets []bucket

	for _, b := range blocks {
		cy := b.BBox.CenterY()
		placed := false
		for i := range buckets {
			if cy >= buckets[i].yMin-rg.YTolerance && cy <= buckets[i].yMax+rg.YTolerance {
				buckets[i].blocks = append(buckets[i].blocks, b)
				if cy < buckets[i].yMin {
					buckets[i].yMin = cy
				}
				if cy > buckets[i].yMax {
					buckets[i].yMax = cy
				}
				placed = true
				break
			}
		}
		if !placed {
			buckets = append(buckets, bucket{yMin: cy, yMax: cy, blocks: []WordBlock{b}})
		}
	}

	// Pixel coordinates have the origin top-left: smaller Y is higher on
	// the page.
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].yMin < buckets[j].yMin })

	rows := make([]Row, 0, len(buckets))
	for i, bk := range buckets {
		sort.Slice(bk.blocks, func(a, b int) bool { return bk.blocks[a].BBox.X < bk.blocks[b].BBox.X })
		row := Row{Index: i, Blocks: bk.blocks}
		if structure.Columns() > 0 {
			row.Cells = make(map[int][]WordBlock)
			for _, b := range bk.blocks {
				col := structure.ColumnFor(b.BBox.X)
				row.Cells[col] = append(row.Cells[col], b)
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// AssembleText produces the page text in reading order, one line per row.
// This is the input shape used by header extraction and the LLM
// reconstruction path.
func AssembleText(rows []Row) string {
	lines := make([]string, 0, len(rows))
	for i := range rows {
		lines = append(lines, rows[i].Text())
	}
	return strings.Join(lines, "\n")
}
