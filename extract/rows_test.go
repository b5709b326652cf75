package extract

import (
	"strings"
	"testing"
)

func TestGroupRowsVerticalJitter(t *testing.T) {
	// Same logical row with OCR drift: centers within the tolerance band.
	blocks := []WordBlock{
		{Text: "PEPSI", BBox: BBox{X: 100, Y: 400, W: 80, H: 28}},
		{Text: "6", BBox: BBox{X: 900, Y: 412, W: 20, H: 28}},
		{Text: "27.00", BBox: BBox{X: 1500, Y: 394, W: 60, H: 28}},
		{Text: "COKE", BBox: BBox{X: 100, Y: 520, W: 80, H: 28}},
		{Text: "13.50", BBox: BBox{X: 1500, Y: 526, W: 60, H: 28}},
	}
	grouper := NewRowGrouper(3508)
	rows := grouper.GroupRows(blocks, nil)

	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if got := rows[0].Text(); got != "PEPSI 6 27.00" {
		t.Errorf("row 0 text = %q", got)
	}
	if got := rows[1].Text(); got != "COKE 13.50" {
		t.Errorf("row 1 text = %q", got)
	}
}

func TestGroupRowsReadingOrder(t *testing.T) {
	// Blocks arrive in OCR order, not reading order.
	blocks := []WordBlock{
		{Text: "bottom", BBox: BBox{X: 100, Y: 800, W: 60, H: 28}},
		{Text: "top", BBox: BBox{X: 100, Y: 200, W: 60, H: 28}},
		{Text: "right", BBox: BBox{X: 900, Y: 200, W: 60, H: 28}},
	}
	grouper := NewRowGrouper(3508)
	rows := grouper.GroupRows(blocks, nil)

	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if got := rows[0].Text(); got != "top right" {
		t.Errorf("first row = %q, want blocks X-sorted on the top row", got)
	}
	if rows[0].Index != 0 || rows[1].Index != 1 {
		t.Errorf("row indexes = %d, %d", rows[0].Index, rows[1].Index)
	}
}

func TestGroupRowsCellAssignment(t *testing.T) {
	structure := &ColumnStructure{
		Boundaries: []float64{100, 900, 1500},
		Roles:      map[int]Role{},
	}
	blocks := []WordBlock{
		{Text: "BEANS", BBox: BBox{X: 102, Y: 400, W: 80, H: 28}},
		{Text: "TIN", BBox: BBox{X: 190, Y: 400, W: 50, H: 28}},
		{Text: "4", BBox: BBox{X: 905, Y: 400, W: 20, H: 28}},
		{Text: "3.60", BBox: BBox{X: 1495, Y: 400, W: 60, H: 28}},
	}
	grouper := NewRowGrouper(3508)
	rows := grouper.GroupRows(blocks, structure)

	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	row := rows[0]
	if got := row.CellText(0); got != "BEANS TIN" {
		t.Errorf("cell 0 = %q", got)
	}
	if got := row.CellText(1); got != "4" {
		t.Errorf("cell 1 = %q", got)
	}
	if got := row.CellText(2); got != "3.60" {
		t.Errorf("cell 2 = %q", got)
	}
}

func TestAssembleText(t *testing.T) {
	grouper := NewRowGrouper(3508)
	rows := grouper.GroupRows(fourColumnBlocks(2), nil)
	text := AssembleText(rows)
	lines := strings.Split(text, "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0] != "WIDGET 2 4.50 9.00" {
		t.Errorf("line 0 = %q", lines[0])
	}
}
