package extract

import "testing"

// fourColumnBlocks lays out a clean invoice table: description at x=100,
// qty at x=900, unit price at x=1200, total at x=1500.
func fourColumnBlocks(rows int) []WordBlock {
	var blocks []WordBlock
	y := 400.0
	for i := 0; i < rows; i++ {
		blocks = append(blocks,
			WordBlock{Text: "WIDGET", BBox: BBox{X: 100, Y: y, W: 120, H: 28}},
			WordBlock{Text: "2", BBox: BBox{X: 900, Y: y, W: 20, H: 28}},
			WordBlock{Text: "4.50", BBox: BBox{X: 1200, Y: y, W: 60, H: 28}},
			WordBlock{Text: "9.00", BBox: BBox{X: 1500, Y: y, W: 60, H: 28}},
		)
		y += 40
	}
	return blocks
}

func TestColumnDetectorFourColumns(t *testing.T) {
	grouper := NewRowGrouper(3508)
	rows := grouper.GroupRows(fourColumnBlocks(8), nil)

	cd := NewColumnDetector(2480)
	structure := cd.Detect(rows)

	if got := structure.Columns(); got != 4 {
		t.Fatalf("Columns() = %d, want 4", got)
	}
	if structure.Confidence < 0.9 {
		t.Errorf("clean table confidence = %v, want >= 0.9", structure.Confidence)
	}
	wantX := []float64{100, 900, 1200, 1500}
	for i, b := range structure.Boundaries {
		if b < wantX[i]-15 || b > wantX[i]+15 {
			t.Errorf("boundary[%d] = %v, want near %v", i, b, wantX[i])
		}
	}
}

func TestColumnDetectorNeedsRecurringEdges(t *testing.T) {
	// One row is not a table.
	grouper := NewRowGrouper(3508)
	rows := grouper.GroupRows(fourColumnBlocks(1), nil)

	cd := NewColumnDetector(2480)
	structure := cd.Detect(rows)
	if structure.Confidence != 0 {
		t.Errorf("single row confidence = %v, want 0", structure.Confidence)
	}
}

func TestColumnDetectorScatteredText(t *testing.T) {
	// Left edges spread uniformly: no column peaks should survive.
	var blocks []WordBlock
	for i := 0; i < 12; i++ {
		blocks = append(blocks, WordBlock{
			Text: "word",
			BBox: BBox{X: float64(100 + i*137), Y: float64(400 + i*40), W: 60, H: 28},
		})
	}
	grouper := NewRowGrouper(3508)
	rows := grouper.GroupRows(blocks, nil)

	cd := NewColumnDetector(2480)
	structure := cd.Detect(rows)
	if structure.Confidence > 0.3 && structure.Columns() > 2 {
		t.Errorf("scattered text produced structure: columns=%d confidence=%v",
			structure.Columns(), structure.Confidence)
	}
}

func TestColumnForNearestBoundary(t *testing.T) {
	cs := &ColumnStructure{Boundaries: []float64{100, 900, 1500}}
	tests := []struct {
		x    float64
		want int
	}{
		{90, 0},
		{480, 0},
		{520, 1},
		{1490, 2},
		{2000, 2},
	}
	for _, tt := range tests {
		if got := cs.ColumnFor(tt.x); got != tt.want {
			t.Errorf("ColumnFor(%v) = %d, want %d", tt.x, got, tt.want)
		}
	}
	var empty *ColumnStructure
	if got := empty.ColumnFor(100); got != -1 {
		t.Errorf("nil structure ColumnFor = %d, want -1", got)
	}
}
