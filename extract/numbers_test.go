package extract

import "testing"

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"891.54", 891.54, true},
		{"£891.54", 891.54, true},
		{"$12.00", 12.00, true},
		{"€1,234.56", 1234.56, true},
		{"891,54", 891.54, true},
		{"1,234", 1234, true},
		{"12", 12, true},
		{"12.5", 12.5, true},
		{"4.20-", 4.20, true},
		{"", 0, false},
		{"PEPSI", 0, false},
		{"£", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseAmount(tt.in)
		if ok != tt.ok {
			t.Errorf("ParseAmount(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if !ok {
			continue
		}
		if f, _ := got.Float64(); f != tt.want {
			t.Errorf("ParseAmount(%q) = %v, want %v", tt.in, f, tt.want)
		}
	}
}

func TestParseQtyRejectsNegative(t *testing.T) {
	if _, ok := ParseQty("-3"); ok {
		t.Error("negative quantity should be rejected")
	}
	if q, ok := ParseQty("15.069"); !ok || q != 15.069 {
		t.Errorf("fractional quantity: got %v ok=%v", q, ok)
	}
}

func TestSplitMergedQty(t *testing.T) {
	tests := []struct {
		in       string
		wantQty  float64
		wantRest string
		ok       bool
	}{
		{"6 12 LITRE PEPSI", 6, "12 LITRE PEPSI", true},
		{"12 500ML COKE", 12, "500ML COKE", true},
		{"LITRE PEPSI 6", 0, "", false},
		{"6 PEPSI MAX", 0, "", false}, // second token not digit-leading
		{"6 12", 0, "", false},        // too short to be a collapsed row
	}
	for _, tt := range tests {
		qty, rest, ok := splitMergedQty(tt.in)
		if ok != tt.ok {
			t.Errorf("splitMergedQty(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if !ok {
			continue
		}
		if qty != tt.wantQty || rest != tt.wantRest {
			t.Errorf("splitMergedQty(%q) = (%v, %q), want (%v, %q)", tt.in, qty, rest, tt.wantQty, tt.wantRest)
		}
	}
}

func TestParsePackSize(t *testing.T) {
	tests := []struct {
		in        string
		wantCount float64
		wantUnit  string
		ok        bool
	}{
		{"PEPSI MAX 12x1L", 12, "1L", true},
		{"FLOUR 6 x 2.5kg", 6, "2.5kg", true},
		{"BEANS 30x340g", 30, "340g", true},
		{"PLAIN CRISPS", 0, "", false},
	}
	for _, tt := range tests {
		count, unit, ok := parsePackSize(tt.in)
		if ok != tt.ok {
			t.Errorf("parsePackSize(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && (count != tt.wantCount || unit != tt.wantUnit) {
			t.Errorf("parsePackSize(%q) = (%v, %q), want (%v, %q)", tt.in, count, unit, tt.wantCount, tt.wantUnit)
		}
	}
}

func TestNormalizeText(t *testing.T) {
	in := "CAFÉ ‘LATTE’ – £4.50"
	got := NormalizeText(in)
	want := "CAFÉ 'LATTE' - £4.50"
	if got != want {
		t.Errorf("NormalizeText(%q) = %q, want %q", in, got, want)
	}
}

func TestIsPriceShaped(t *testing.T) {
	for _, tok := range []string{"4.50", "£4.50", "1,234.56", "891,54"} {
		if !isPriceShaped(tok) {
			t.Errorf("%q should be price shaped", tok)
		}
	}
	for _, tok := range []string{"12", "PEPSI", "12x1L", "4.5"} {
		if isPriceShaped(tok) {
			t.Errorf("%q should not be price shaped", tok)
		}
	}
}
