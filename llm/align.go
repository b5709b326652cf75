package llm

import (
	"strings"

	"github.com/invexa/invexa-go/extract"
)

// BBoxAligner re-anchors model-reconstructed line items onto the OCR word
// blocks they came from. The model sees text only, so its items carry no
// geometry; the aligner recovers it by fuzzy-matching item descriptions
// against rows of word blocks.
type BBoxAligner struct {
	// Threshold is the minimum token-overlap ratio for a match.
	Threshold float64
}

func NewBBoxAligner(threshold float64) *BBoxAligner {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.7
	}
	return &BBoxAligner{Threshold: threshold}
}

// Align finds the best-matching run of word blocks for the item's
// description and sets the item bbox to their union. When no run clears
// the threshold the bbox stays nil and the item is flagged; geometry is
// never fabricated.
func (a *BBoxAligner) Align(item *extract.LineItem, blocks []extract.WordBlock) {
	itemToks := tokenize(item.Description)
	if len(itemToks) == 0 || len(blocks) == 0 {
		item.BBox = nil
		item.AddFlag(extract.FlagBBoxUnmatched)
		return
	}

	rows := groupByLine(blocks)
	bestScore := 0.0
	var bestRun []extract.WordBlock
	for _, row := range rows {
		score := overlapRatio(itemToks, tokenizeBlocks(row))
		if score > bestScore {
			bestScore = score
			bestRun = row
		}
	}

	if bestScore < a.Threshold {
		item.BBox = nil
		item.AddFlag(extract.FlagBBoxUnmatched)
		return
	}

	boxes := make([]extract.BBox, 0, len(bestRun))
	for _, b := range bestRun {
		boxes = append(boxes, b.BBox)
	}
	union := extract.UnionBBox(boxes)
	item.BBox = &union
}

// overlapRatio is the share of item tokens found among the row tokens.
func overlapRatio(itemToks, rowToks []string) float64 {
	if len(itemToks) == 0 {
		return 0
	}
	rowSet := make(map[string]int, len(rowToks))
	for _, t := range rowToks {
		rowSet[t]++
	}
	matched := 0
	for _, t := range itemToks {
		if rowSet[t] > 0 {
			rowSet[t]--
			matched++
		}
	}
	return float64(matched) / float64(len(itemToks))
}

func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".,:;()[]£$€")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func tokenizeBlocks(blocks []extract.WordBlock) []string {
	var out []string
	for _, b := range blocks {
		out = append(out, tokenize(b.Text)...)
	}
	return out
}

// groupByLine buckets blocks into visual lines by Y-center proximity.
// A coarser grouping than the engine's row grouper is enough here: the
// aligner only needs candidate runs to score.
func groupByLine(blocks []extract.WordBlock) [][]extract.WordBlock {
	const tol = 12.0
	var rows [][]extract.WordBlock
	var centers []float64
	for _, b := range blocks {
		cy := b.BBox.CenterY()
		placed := false
		for i, c := range centers {
			if cy >= c-tol && cy <= c+tol {
				rows[i] = append(rows[i], b)
				placed = true
				break
			}
		}
		if !placed {
			rows = append(rows, []extract.WordBlock{b})
			centers = append(centers, cy)
		}
	}
	return rows
}
