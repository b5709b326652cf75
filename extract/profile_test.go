package extract

import (
	"math"
	"testing"
)

// gridRows builds structured rows from a cell grid, one block per cell.
func gridRows(boundaries []float64, grid [][]string) ([]Row, *ColumnStructure) {
	structure := &ColumnStructure{
		Boundaries: boundaries,
		Roles:      make(map[int]Role),
		Confidence: 1,
	}
	rows := make([]Row, 0, len(grid))
	for i, cells := range grid {
		row := Row{Index: i, Cells: make(map[int][]WordBlock)}
		y := 400 + float64(i)*40
		for col, text := range cells {
			if text == "" {
				continue
			}
			b := WordBlock{Text: text, BBox: BBox{X: boundaries[col], Y: y, W: 80, H: 24}}
			row.Blocks = append(row.Blocks, b)
			row.Cells[col] = append(row.Cells[col], b)
		}
		rows = append(rows, row)
	}
	return rows, structure
}

func TestProfileAssignsRoles(t *testing.T) {
	rows, structure := gridRows([]float64{100, 900, 1200, 1500}, [][]string{
		{"LAGER", "2", "4.50", "9.00"},
		{"CIDER", "3", "4.00", "12.00"},
		{"STOUT", "4", "4.00", "16.00"},
		{"WINES", "5", "4.00", "20.00"},
	})

	conf := (&ContentProfiler{}).Profile(rows, structure)

	want := map[int]Role{
		0: RoleDescription,
		1: RoleQty,
		2: RoleUnitPrice,
		3: RoleTotal,
	}
	for col, role := range want {
		if structure.Roles[col] != role {
			t.Errorf("column %d: role = %q, want %q", col, structure.Roles[col], role)
		}
	}

	// Margins: description 0.25, qty 1.0, each price column 0.8 against the
	// next-best family.
	if math.Abs(conf-0.7125) > 0.001 {
		t.Errorf("profile confidence = %v, want 0.7125", conf)
	}
}

func TestProfileRightmostPriceIsTotal(t *testing.T) {
	// Unit price and total have identical content signatures; the invoice
	// convention puts the line total right-most.
	rows, structure := gridRows([]float64{100, 1200, 1500}, [][]string{
		{"LAGER", "4.50", "9.00"},
		{"CIDER", "4.00", "12.00"},
	})

	(&ContentProfiler{}).Profile(rows, structure)

	if structure.Roles[2] != RoleTotal {
		t.Errorf("right-most price column role = %q, want total", structure.Roles[2])
	}
	if structure.Roles[1] != RoleUnitPrice {
		t.Errorf("inner price column role = %q, want unit_price", structure.Roles[1])
	}
}

func TestProfileDetectsUOMColumn(t *testing.T) {
	rows, structure := gridRows([]float64{100, 500, 900, 1500}, [][]string{
		{"LAGER", "KEG", "2", "9.00"},
		{"FLOUR", "KG", "4", "6.00"},
		{"EGGS BOX", "EA", "6", "3.00"},
	})

	(&ContentProfiler{}).Profile(rows, structure)

	if structure.Roles[1] != RoleUOM {
		t.Errorf("short-alpha column role = %q, want uom", structure.Roles[1])
	}
	if structure.Roles[2] != RoleQty {
		t.Errorf("digits column role = %q, want qty", structure.Roles[2])
	}
}

func TestProfileEmptyColumnIsUnknown(t *testing.T) {
	rows, structure := gridRows([]float64{100, 900, 1500}, [][]string{
		{"LAGER", "", "9.00"},
		{"CIDER", "", "12.00"},
	})

	(&ContentProfiler{}).Profile(rows, structure)

	if structure.Roles[1] != RoleUnknown {
		t.Errorf("empty column role = %q, want unknown", structure.Roles[1])
	}
}

func TestProfileNoStructure(t *testing.T) {
	structure := &ColumnStructure{Roles: make(map[int]Role)}
	if conf := (&ContentProfiler{}).Profile(nil, structure); conf != 0 {
		t.Errorf("confidence without columns = %v, want 0", conf)
	}
}
