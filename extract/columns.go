package extract

import (
	"math"
	"sort"
)

// ColumnDetector proposes table column boundaries from the horizontal
// distribution of word-block left edges. Invoice tables align each field to
// a column start, so left edges cluster into narrow peaks separated by the
// inter-column whitespace.
type ColumnDetector struct {
	// GapThreshold is the minimum distance between peaks for them to count
	// as separate columns.
	GapThreshold float64

	// bucketSize quantizes left-edge X positions for the histogram.
	bucketSize float64
}

// NewColumnDetector returns a detector with the adaptive gap threshold for
// the page: max(20, 0.03 * pageWidth) pixels.
func NewColumnDetector(pageWidth float64) *ColumnDetector {
	gap := 0.03 * pageWidth
	if gap < 20 {
		gap = 20
	}
	return &ColumnDetector{GapThreshold: gap, bucketSize: 10}
}

// Detect builds the left-edge histogram over the given rows and returns the
// proposed column structure. Confidence reflects peak separation clarity:
// the ratio of inter-peak gaps to within-peak spread. Fewer than two stable
// peaks yields confidence zero, signalling the caller to fall back to
// text-based parsing.
func (cd *ColumnDetector) Detect(rows []Row) *ColumnStructure {
	if len(rows) < 2 {
		return &ColumnStructure{Confidence: 0}
	}

	counts := make(map[int]int)
	sums := make(map[int]float64)
	for _, row := range rows {
		for _, b := range row.Blocks {
			bucket := int(b.BBox.X / cd.bucketSize)
			counts[bucket]++
			sums[bucket] += b.BBox.X
		}
	}

	// A bucket is stable when its left edge recurs on a reasonable share of
	// rows. Short tables need an absolute floor of 2 observations.
	minCount := len(rows) / 4
	if minCount < 2 {
		minCount = 2
	}

	type candidate struct {
		x     float64
		count int
	}
	var cands []candidate
	for bucket, n := range counts {
		if n >= minCount {
			cands = append(cands, candidate{x: sums[bucket] / float64(n), count: n})
		}
	}
	if len(cands) < 2 {
		return &ColumnStructure{Confidence: 0}
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].x < cands[j].x })

	// Merge candidates closer than the gap threshold into single peaks,
	// tracking the within-peak spread for the confidence score.
	type peak struct {
		x      float64
		weight int
		spread float64
	}
	var peaks []peak
	cur := peak{x: cands[0].x, weight: cands[0].count}
	curMin, curMax := cands[0].x, cands[0].x
	for _, c := range cands[1:] {
		if c.x-curMax < cd.GapThreshold {
			total := float64(cur.weight + c.count)
			cur.x = (cur.x*float64(cur.weight) + c.x*float64(c.count)) / total
			cur.weight += c.count
			if c.x > curMax {
				curMax = c.x
			}
		} else {
			cur.spread = curMax - curMin
			peaks = append(peaks, cur)
			cur = peak{x: c.x, weight: c.count}
			curMin, curMax = c.x, c.x
		}
	}
	cur.spread = curMax - curMin
	peaks = append(peaks, cur)

	if len(peaks) < 2 {
		return &ColumnStructure{Confidence: 0}
	}

	boundaries := make([]float64, 0, len(peaks))
	var gapSum, spreadSum float64
	for i, p := range peaks {
		boundaries = append(boundaries, p.x)
		spreadSum += p.spread
		if i > 0 {
			gapSum += p.x - peaks[i-1].x
		}
	}
	meanGap := gapSum / float64(len(peaks)-1)
	meanSpread := spreadSum / float64(len(peaks))

	// Clean tables have wide gaps and tight peaks. Spread approaching the
	// gap width means the "columns" are noise.
	confidence := 1.0
	if meanGap > 0 {
		confidence = 1 - meanSpread/meanGap
	}
	confidence = math.Max(0, math.Min(1, confidence))

	return &ColumnStructure{
		Boundaries: boundaries,
		Roles:      make(map[int]Role),
		Confidence: confidence,
	}
}
