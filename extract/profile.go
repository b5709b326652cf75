package extract

import (
	"math"
	"sort"
	"strings"
)

// columnSignature is the content statistics of one candidate column.
type columnSignature struct {
	cells         int
	decimalRatio  float64 // fraction of cells matching a numeric-with-decimal pattern
	currencyRatio float64 // fraction of cells containing a currency symbol
	digitsRatio   float64 // fraction of cells that are digits only
	avgTokenLen   float64 // mean cell text length
	meanX         float64 // mean left edge, for left/right tie-breaking
}

// ContentProfiler assigns semantic roles to detected columns from their
// content statistics rather than header keywords, which OCR frequently
// mangles or drops.
type ContentProfiler struct{}

// Profile computes per-column signatures from the grouped rows and writes
// role assignments into the structure. The returned confidence is the
// margin between the best and second-best role score, averaged over
// columns; it multiplies into the structure confidence.
func (cp *ContentProfiler) Profile(rows []Row, structure *ColumnStructure) float64 {
	if structure.Columns() == 0 {
		return 0
	}

	sigs := make([]columnSignature, structure.Columns())
	for col := range sigs {
		var decimals, currency, digitsOnly, cells int
		var lenSum, xSum float64
		for _, row := range rows {
			text := strings.TrimSpace(row.CellText(col))
			if text == "" {
				continue
			}
			cells++
			lenSum += float64(len(text))
			if blocks := row.Cells[col]; len(blocks) > 0 {
				xSum += blocks[0].BBox.X
			}
			if _, ok := hasCurrencySymbol(text); ok {
				currency++
			}
			if isPriceShaped(text) {
				decimals++
			}
			if isBareInt(text) {
				digitsOnly++
			}
		}
		if cells == 0 {
			continue
		}
		sigs[col] = columnSignature{
			cells:         cells,
			decimalRatio:  float64(decimals) / float64(cells),
			currencyRatio: float64(currency) / float64(cells),
			digitsRatio:   float64(digitsOnly) / float64(cells),
			avgTokenLen:   lenSum / float64(cells),
			meanX:         xSum / float64(cells),
		}
	}

	assignRoles(sigs, structure)

	var marginSum float64
	var scored int
	for col := range sigs {
		if sigs[col].cells == 0 {
			continue
		}
		best, second := topTwoScores(sigs[col])
		marginSum += best - second
		scored++
	}
	if scored == 0 {
		return 0
	}
	margin := marginSum / float64(scored)
	if margin > 1 {
		margin = 1
	}
	return margin
}

// roleScores returns the per-role score of a signature.
func roleScores(sig columnSignature) map[Role]float64 {
	return map[Role]float64{
		// Long free text with no numeric shape.
		RoleDescription: clamp01(sig.avgTokenLen/20) * (1 - sig.decimalRatio) * (1 - sig.digitsRatio),
		// Small bare integers.
		RoleQty: sig.digitsRatio * (1 - sig.currencyRatio),
		// Decimal amounts; currency symbols strengthen the signal.
		RoleUnitPrice: sig.decimalRatio*0.8 + sig.currencyRatio*0.2,
		RoleTotal:     sig.decimalRatio*0.8 + sig.currencyRatio*0.2,
		// Short alphabetic tokens like "EA", "CS", "KG".
		RoleUOM: uomScore(sig),
	}
}

func uomScore(sig columnSignature) float64 {
	if sig.avgTokenLen > 0 && sig.avgTokenLen <= 4 && sig.decimalRatio < 0.2 && sig.digitsRatio < 0.5 {
		return 0.5
	}
	return 0
}

// topTwoScores returns the two best role-family scores. Unit price and
// total share one signature shape and are disambiguated by position, so
// they count as a single family when measuring how decisive a column is.
func topTwoScores(sig columnSignature) (best, second float64) {
	all := roleScores(sig)
	scores := []float64{
		all[RoleDescription],
		all[RoleQty],
		math.Max(all[RoleUnitPrice], all[RoleTotal]),
		all[RoleUOM],
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))
	return scores[0], scores[1]
}

// assignRoles picks the highest-scoring role per column, then applies the
// positional conventions: the left-most column breaks ties toward
// description, and the right-most numeric column is the line total
// (right-to-left convention on invoices).
func assignRoles(sigs []columnSignature, structure *ColumnStructure) {
	rightMostNumeric := -1
	for col := range sigs {
		if sigs[col].cells == 0 {
			structure.Roles[col] = RoleUnknown
			continue
		}
		scores := roleScores(sigs[col])
		best := RoleUnknown
		bestScore := 0.05 // below this the column says nothing
		// Deterministic iteration so ties resolve the same way every run.
		for _, role := range []Role{RoleDescription, RoleQty, RoleUnitPrice, RoleTotal, RoleUOM} {
			if scores[role] > bestScore {
				best = role
				bestScore = scores[role]
			}
		}
		structure.Roles[col] = best
		if best == RoleUnitPrice || best == RoleTotal {
			if rightMostNumeric < 0 || sigs[col].meanX > sigs[rightMostNumeric].meanX {
				rightMostNumeric = col
			}
		}
	}

	// Left-most column with any content defaults to description on a tie.
	for col := range sigs {
		if sigs[col].cells > 0 {
			if structure.Roles[col] == RoleUnknown || structure.Roles[col] == RoleQty && sigs[col].avgTokenLen > 8 {
				structure.Roles[col] = RoleDescription
			}
			break
		}
	}

	// The right-most price column is the line total; any other price
	// column to its left is the unit price.
	if rightMostNumeric >= 0 {
		structure.Roles[rightMostNumeric] = RoleTotal
		for col := range sigs {
			if col != rightMostNumeric && (structure.Roles[col] == RoleTotal) {
				structure.Roles[col] = RoleUnitPrice
			}
		}
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
