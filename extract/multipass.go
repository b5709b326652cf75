package extract

import (
	"sort"

	"go.uber.org/zap"
)

// MultiPassParser runs the row strategies at decreasing strictness and
// merges the per-row winners. Strict passes earn a confidence bonus,
// lenient ones pay a penalty, so the merge naturally prefers disciplined
// parses while still keeping rows only a sloppy pass could read.
type MultiPassParser struct {
	log *zap.Logger
}

func NewMultiPassParser(log *zap.Logger) *MultiPassParser {
	if log == nil {
		log = zap.NewNop()
	}
	return &MultiPassParser{log: log}
}

// parsedRow ties an item back to the source row it came from.
type parsedRow struct {
	item     LineItem
	strategy string
	pass     strictness
}

// Parse runs all three passes over the rows and merges results by row
// index. The merged item count is never lower than the best single pass.
func (p *MultiPassParser) Parse(rows []Row) []LineItem {
	byRow := make(map[int]parsedRow)
	for _, level := range []strictness{passStrict, passStandard, passLenient} {
		cfg := configFor(level)
		for _, row := range rows {
			item, strategy, ok := ParseTextRow(row.Text(), cfg)
			if !ok {
				continue
			}
			item.RowIndex = row.Index
			if len(row.Blocks) > 0 {
				bb := row.bbox()
				item.BBox = &bb
			}
			prev, seen := byRow[row.Index]
			if !seen || better(item, prev.item) {
				byRow[row.Index] = parsedRow{item: item, strategy: strategy, pass: level}
			}
		}
	}

	items := make([]LineItem, 0, len(byRow))
	for _, pr := range byRow {
		p.log.Debug("row parsed",
			zap.Int("row", pr.item.RowIndex),
			zap.String("strategy", pr.strategy),
			zap.String("pass", pr.pass.String()),
			zap.Float64("confidence", pr.item.Confidence))
		items = append(items, pr.item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].RowIndex < items[j].RowIndex })
	return items
}

// ParseFrom behaves like Parse but starts at the given strictness,
// skipping passes a supplier's history has shown to be fruitless.
func (p *MultiPassParser) ParseFrom(rows []Row, start strictness) []LineItem {
	if start == passStrict {
		return p.Parse(rows)
	}
	byRow := make(map[int]parsedRow)
	for level := start; level <= passLenient; level++ {
		cfg := configFor(level)
		for _, row := range rows {
			item, strategy, ok := ParseTextRow(row.Text(), cfg)
			if !ok {
				continue
			}
			item.RowIndex = row.Index
			if len(row.Blocks) > 0 {
				bb := row.bbox()
				item.BBox = &bb
			}
			prev, seen := byRow[row.Index]
			if !seen || better(item, prev.item) {
				byRow[row.Index] = parsedRow{item: item, strategy: strategy, pass: level}
			}
		}
	}
	items := make([]LineItem, 0, len(byRow))
	for _, pr := range byRow {
		items = append(items, pr.item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].RowIndex < items[j].RowIndex })
	return items
}

// better decides whether a candidate parse of the same row replaces the
// incumbent. When the two read the same description and differ only in how
// they split the numbers, the parse whose arithmetic reconciles wins
// outright; otherwise confidence decides, with reconciliation as the
// tie-break.
func better(cand, inc LineItem) bool {
	if cand.Description == inc.Description && pricesAgree(cand) != pricesAgree(inc) {
		return pricesAgree(cand)
	}
	if cand.Confidence != inc.Confidence {
		return cand.Confidence > inc.Confidence
	}
	return pricesAgree(cand) && !pricesAgree(inc)
}

func pricesAgree(it LineItem) bool {
	if it.Qty <= 0 || it.UnitPrice <= 0 || it.Total <= 0 {
		return false
	}
	want := it.Qty * it.UnitPrice
	diff := want - it.Total
	if diff < 0 {
		diff = -diff
	}
	return diff <= 0.01*want+0.005
}
