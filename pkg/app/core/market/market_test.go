package market

import (
	"testing"

	"github.com/uhyunpark/orderflow/pkg/app/core"
)

func TestInstrumentValidation(t *testing.T) {
	p := DefaultEquity
	p.ReferencePx = 100_000_000
	in, err := NewInstrument("AAPL", p)
	if err != nil {
		t.Fatalf("new instrument: %v", err)
	}

	cases := []struct {
		name string
		px   int64
		qty  int64
		ok   bool
	}{
		{"on tick inside collar", 101_000_000, 10, true},
		{"off tick", 100_005_000, 10, false},
		{"outside collar", 120_000_000, 10, false},
		{"zero qty", 100_000_000, 0, false},
		{"too large", 100_000_000, 2_000_000, false},
	}
	for _, c := range cases {
		err := in.ValidateOrder(core.Limit, c.px, c.qty)
		if (err == nil) != c.ok {
			t.Errorf("%s: err=%v", c.name, err)
		}
	}
	// market orders skip price checks
	if err := in.ValidateOrder(core.Market, 0, 10); err != nil {
		t.Errorf("market order: %v", err)
	}
}

func TestRegistryStatus(t *testing.T) {
	r := NewRegistry()
	in, _ := NewInstrument("MSFT", DefaultEquity)
	if err := r.Register(in); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(in); err == nil {
		t.Fatalf("duplicate register must fail")
	}
	if err := r.UpdateStatus("MSFT", Halted); err != nil {
		t.Fatal(err)
	}
	got, _ := r.Get("MSFT")
	if got.Status != Halted {
		t.Fatalf("status not applied")
	}
	if err := got.ValidateOrder(core.Limit, 10_000, 1); err == nil {
		t.Fatalf("halted instrument must refuse orders")
	}
	r.UpdateStatus("MSFT", Closed)
	if err := r.UpdateStatus("MSFT", Active); err == nil {
		t.Fatalf("closed is terminal")
	}
	if _, err := r.Get("NOPE"); err == nil {
		t.Fatalf("unknown symbol must fail")
	}
}
