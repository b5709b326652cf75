package extract

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Price sanity bounds. Unit prices outside this range on a grocery or
// trade invoice are almost always OCR damage.
var (
	minPlausiblePrice = decimal.NewFromFloat(0.01)
	maxPlausiblePrice = decimal.NewFromInt(10000)
)

// Reconciler enforces qty * unit_price == total on each item, deriving
// whichever field is missing and repairing the swaps OCR column drift
// produces. It flags rather than errors: a reconciler that can fail gives
// the caller nothing to review.
type Reconciler struct {
	log *zap.Logger
}

func NewReconciler(log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{log: log}
}

// Reconcile repairs the items in place and returns them. It is
// idempotent: a second call over its own output changes nothing.
func (r *Reconciler) Reconcile(items []LineItem) []LineItem {
	for i := range items {
		r.reconcileItem(&items[i])
	}
	return items
}

func (r *Reconciler) reconcileItem(it *LineItem) {
	qty := decimal.NewFromFloat(it.Qty)
	unit := decimal.NewFromFloat(it.UnitPrice)
	total := decimal.NewFromFloat(it.Total)

	hasQty := qty.IsPositive()
	hasUnit := unit.IsPositive()
	hasTotal := total.IsPositive()

	switch {
	case hasQty && hasUnit && hasTotal:
		if withinTolerance(qty.Mul(unit), total) {
			break
		}
		// If swapping unit and total makes the arithmetic work, the
		// columns were read in the wrong order.
		if qty.GreaterThanOrEqual(decimal.NewFromInt(1)) && withinTolerance(qty.Mul(total), unit) {
			it.UnitPrice, it.Total = it.Total, it.UnitPrice
			it.PriceInference = InferSwappedUnitTotal
			unit, total = total, unit
			break
		}
		if !it.HasFlag(FlagSumMismatch) {
			it.AddFlag(FlagSumMismatch)
			it.Confidence *= 0.8
		}
	case hasQty && hasTotal:
		if qty.IsZero() {
			break
		}
		u := total.Div(qty).Round(2)
		uf, _ := u.Float64()
		it.UnitPrice = uf
		it.PriceInference = InferUnitFromTotal
		unit = u
	case hasQty && hasUnit:
		t := qty.Mul(unit).Round(2)
		tf, _ := t.Float64()
		it.Total = tf
		it.PriceInference = InferTotalFromUnit
		total = t
	case hasTotal && !hasQty:
		// A priced row with no quantity is a single unit.
		it.Qty = 1
		if !hasUnit {
			tf, _ := total.Float64()
			it.UnitPrice = tf
			it.PriceInference = InferUnitFromTotal
			unit = total
		}
	default:
		r.log.Debug("item not reconcilable",
			zap.Int("row", it.RowIndex),
			zap.String("description", it.Description))
		return
	}

	if unit.IsPositive() && (unit.LessThan(minPlausiblePrice) || unit.GreaterThan(maxPlausiblePrice)) {
		it.AddFlag(FlagPriceOutOfRange)
	}
	if total.IsPositive() && total.GreaterThan(maxPlausiblePrice.Mul(decimal.NewFromInt(100))) {
		it.AddFlag(FlagPriceOutOfRange)
	}
}

// CheckSum compares the sum of line totals against a document-level gross
// and reports whether they agree within 2%.
func (r *Reconciler) CheckSum(items []LineItem, documentTotal float64) bool {
	if documentTotal <= 0 || len(items) == 0 {
		return true
	}
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(decimal.NewFromFloat(it.Total))
	}
	doc := decimal.NewFromFloat(documentTotal)
	diff := sum.Sub(doc).Abs()
	return diff.LessThanOrEqual(doc.Mul(decimal.NewFromFloat(0.02)))
}

// withinTolerance reports whether got matches want within 1% plus a
// half-penny of rounding slack.
func withinTolerance(got, want decimal.Decimal) bool {
	tol := want.Abs().Mul(decimal.NewFromFloat(0.01)).Add(decimal.NewFromFloat(0.005))
	return got.Sub(want).Abs().LessThanOrEqual(tol)
}
