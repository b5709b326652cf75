package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invexa/invexa-go/extract"
)

func pageResult(supplier, invoiceNum string, conf float64, items ...string) *extract.Result {
	res := &extract.Result{OverallConfidence: conf}
	if supplier != "" || invoiceNum != "" {
		res.Header = &extract.HeaderFields{Supplier: supplier, InvoiceNumber: invoiceNum}
		res.SupplierHint = supplier
	}
	for _, d := range items {
		res.LineItems = append(res.LineItems, extract.LineItem{Description: d, Qty: 1})
	}
	return res
}

func TestGroupByInvoiceNumber(t *testing.T) {
	pages := []*extract.Result{
		pageResult("Booker Wholesale", "111", 0.9, "LAGER"),
		pageResult("Booker Wholesale", "111", 0.9, "CIDER"),
		pageResult("Brakes Group", "222", 0.9, "FLOUR"),
	}
	texts := []string{"VAT Invoice 111", "VAT Invoice 111", "VAT Invoice 222"}

	groups := (&PageGrouper{}).Group(pages, texts)
	require.Len(t, groups, 2)
	assert.Equal(t, []int{0, 1}, groups[0].Pages)
	assert.Equal(t, "111", groups[0].InvoiceNumber)
	assert.Equal(t, []int{2}, groups[1].Pages)
	assert.Equal(t, "Brakes Group", groups[1].Supplier)
}

func TestGroupByPageMarker(t *testing.T) {
	// Continuation pages often lose their header to cropping; the "page x
	// of y" marker still ties them together.
	pages := []*extract.Result{
		pageResult("Booker Wholesale", "111", 0.9, "LAGER"),
		pageResult("", "", 0.8, "CIDER"),
	}
	texts := []string{"Invoice\nPage 1 of 2", "Page 2 of 2"}

	groups := (&PageGrouper{}).Group(pages, texts)
	require.Len(t, groups, 1)
	assert.Equal(t, []int{0, 1}, groups[0].Pages)
}

func TestGroupHeaderlessContinuation(t *testing.T) {
	pages := []*extract.Result{
		pageResult("Booker Wholesale", "111", 0.9, "LAGER"),
		pageResult("", "", 0.8, "CIDER", "STOUT"),
	}
	texts := []string{"Invoice", ""}

	groups := (&PageGrouper{}).Group(pages, texts)
	require.Len(t, groups, 1, "a page with no header continues the previous document")
}

func TestGroupSupplierChangeStartsNewDocument(t *testing.T) {
	pages := []*extract.Result{
		pageResult("Booker Wholesale", "", 0.9, "LAGER"),
		pageResult("Brakes Group", "", 0.9, "FLOUR"),
	}
	texts := []string{"Invoice", "Invoice"}

	groups := (&PageGrouper{}).Group(pages, texts)
	require.Len(t, groups, 2)
}

func TestGroupDeliveryNoteBreaksRun(t *testing.T) {
	pages := []*extract.Result{
		pageResult("Booker Wholesale", "111", 0.9, "LAGER"),
		pageResult("Booker Wholesale", "111", 0.9),
	}
	texts := []string{"VAT Invoice 111", "Delivery Note 111"}

	groups := (&PageGrouper{}).Group(pages, texts)
	require.Len(t, groups, 2, "document type change always splits")
	assert.Equal(t, "delivery_note", groups[1].DocumentType)
}

func TestMergeGroup(t *testing.T) {
	pages := []*extract.Result{
		pageResult("Booker Wholesale", "111", 0.9, "LAGER", "CIDER"),
		pageResult("", "", 0.7, "STOUT"),
	}
	group := DocumentGroup{Pages: []int{0, 1}, DocumentType: "invoice", InvoiceNumber: "111"}

	merged := MergeGroup(group, pages)
	require.Len(t, merged.LineItems, 3)
	for i, it := range merged.LineItems {
		assert.Equal(t, i, it.RowIndex, "items reindexed across pages")
	}
	assert.Equal(t, "Booker Wholesale", merged.Header.Supplier)
	assert.InDelta(t, 0.8, merged.OverallConfidence, 0.001)
}

func TestMergeGroupDeliveryNote(t *testing.T) {
	pages := []*extract.Result{
		pageResult("Bidfood UK", "", 0.9, "PHANTOM ITEM"),
	}
	group := DocumentGroup{Pages: []int{0}, DocumentType: "delivery_note"}

	merged := MergeGroup(group, pages)
	assert.Empty(t, merged.LineItems, "delivery notes contribute no billable items")
	assert.Equal(t, "Bidfood UK", merged.Header.Supplier)
}
