package extract

import (
	"testing"

	"go.uber.org/zap"
)

func TestReconcileDerivesMissingFields(t *testing.T) {
	r := NewReconciler(zap.NewNop())

	items := r.Reconcile([]LineItem{
		{Description: "unit from total", Qty: 4, Total: 10.00},
		{Description: "total from unit", Qty: 3, UnitPrice: 2.50},
		{Description: "priced row no qty", Total: 6.99},
	})

	if items[0].UnitPrice != 2.50 || items[0].PriceInference != InferUnitFromTotal {
		t.Errorf("unit from total: unit=%v inference=%q", items[0].UnitPrice, items[0].PriceInference)
	}
	if items[1].Total != 7.50 || items[1].PriceInference != InferTotalFromUnit {
		t.Errorf("total from unit: total=%v inference=%q", items[1].Total, items[1].PriceInference)
	}
	if items[2].Qty != 1 || items[2].UnitPrice != 6.99 {
		t.Errorf("no qty: qty=%v unit=%v, want 1 and 6.99", items[2].Qty, items[2].UnitPrice)
	}
}

func TestReconcileRoundsDerivedUnitPrice(t *testing.T) {
	r := NewReconciler(zap.NewNop())

	// 42.66 / 12 = 3.555: the derived unit price is money and must land
	// on two decimal places.
	items := r.Reconcile([]LineItem{
		{Description: "CRATE OF BEER", Qty: 12, Total: 42.66},
	})
	it := items[0]
	if it.UnitPrice != 3.56 {
		t.Errorf("unit price = %v, want 3.56", it.UnitPrice)
	}
	if it.PriceInference != InferUnitFromTotal {
		t.Errorf("inference = %q, want %q", it.PriceInference, InferUnitFromTotal)
	}
}

func TestReconcileFullInvoiceAgainstGrandTotal(t *testing.T) {
	r := NewReconciler(zap.NewNop())

	// Both rows carry a rounded unit price, so qty*unit misses the printed
	// total by a few pence; that is rounding, not a mismatch.
	items := r.Reconcile([]LineItem{
		{Description: "Crate of Beer", Qty: 12, UnitPrice: 3.56, Total: 42.66},
		{Description: "Premium Lager Case", Qty: 98, UnitPrice: 2.46, Total: 240.98},
	})
	for i, it := range items {
		if it.HasFlag(FlagSumMismatch) {
			t.Errorf("item %d: rounding drift flagged as a mismatch", i)
		}
	}
	if !r.CheckSum(items, 289.17) {
		t.Error("line totals should reconcile against the grand total")
	}
}

func TestReconcileRepairsSwappedColumns(t *testing.T) {
	r := NewReconciler(zap.NewNop())

	// 6 * 27.00 != 4.50, but 6 * 4.50 == 27.00: unit and total were read
	// in the wrong order.
	items := r.Reconcile([]LineItem{
		{Description: "PEPSI", Qty: 6, UnitPrice: 27.00, Total: 4.50},
	})
	it := items[0]
	if it.UnitPrice != 4.50 || it.Total != 27.00 {
		t.Errorf("swap not repaired: unit=%v total=%v", it.UnitPrice, it.Total)
	}
	if it.PriceInference != InferSwappedUnitTotal {
		t.Errorf("inference = %q, want %q", it.PriceInference, InferSwappedUnitTotal)
	}
}

func TestReconcileFlagsMismatch(t *testing.T) {
	r := NewReconciler(zap.NewNop())
	items := r.Reconcile([]LineItem{
		{Description: "broken", Qty: 2, UnitPrice: 10.00, Total: 35.00},
	})
	if !items[0].HasFlag(FlagSumMismatch) {
		t.Error("irreconcilable arithmetic must be flagged")
	}
	if items[0].Qty != 2 || items[0].UnitPrice != 10.00 || items[0].Total != 35.00 {
		t.Error("flagged items must keep their original values")
	}
}

func TestReconcileFlagsImplausiblePrices(t *testing.T) {
	r := NewReconciler(zap.NewNop())
	items := r.Reconcile([]LineItem{
		{Description: "100x error", Qty: 1, UnitPrice: 89154.00, Total: 89154.00},
		{Description: "dust", Qty: 1, UnitPrice: 0.001, Total: 0.001},
	})
	for i, it := range items {
		if !it.HasFlag(FlagPriceOutOfRange) {
			t.Errorf("item %d: price %v should be flagged out of range", i, it.UnitPrice)
		}
	}
}

func TestReconcileIdempotent(t *testing.T) {
	r := NewReconciler(zap.NewNop())
	items := r.Reconcile([]LineItem{
		{Description: "a", Qty: 4, Total: 10.00},
		{Description: "b", Qty: 6, UnitPrice: 27.00, Total: 4.50},
	})
	again := r.Reconcile(items)
	for i := range items {
		if items[i].Qty != again[i].Qty ||
			items[i].UnitPrice != again[i].UnitPrice ||
			items[i].Total != again[i].Total {
			t.Errorf("item %d changed on second reconcile", i)
		}
		if len(again[i].Flags) != len(items[i].Flags) {
			t.Errorf("item %d accumulated flags on second reconcile", i)
		}
	}
}

func TestCheckSum(t *testing.T) {
	r := NewReconciler(zap.NewNop())
	items := []LineItem{{Total: 50}, {Total: 49}}
	if !r.CheckSum(items, 100) {
		t.Error("1% disagreement is within the 2% tolerance")
	}
	if r.CheckSum(items, 120) {
		t.Error("17% disagreement must fail the check")
	}
	if !r.CheckSum(nil, 100) {
		t.Error("no items means nothing to dispute")
	}
}
