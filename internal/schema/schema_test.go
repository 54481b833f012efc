package schema

import (
	"math"
	"testing"
	"time"
)

func TestParseInstrument(t *testing.T) {
	cases := []struct {
		raw     string
		want    Instrument
		wantErr bool
	}{
		{"BTC/USDT", Instrument("BTC/USDT"), false},
		{" eth/usdt ", Instrument("ETH/USDT"), false},
		{"BTCUSDT", "", true},
		{"/USDT", "", true},
		{"BTC/", "", true},
		{"", "", true},
	}
	for _, tc := range cases {
		got, err := ParseInstrument(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseInstrument(%q) expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseInstrument(%q) error = %v", tc.raw, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseInstrument(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestInstrumentBaseQuote(t *testing.T) {
	inst := MakeInstrument("btc", "usdt")
	if inst != "BTC/USDT" {
		t.Fatalf("MakeInstrument = %q", inst)
	}
	if inst.Base() != "BTC" {
		t.Errorf("Base() = %q", inst.Base())
	}
	if inst.Quote() != "USDT" {
		t.Errorf("Quote() = %q", inst.Quote())
	}
}

func TestOpportunityIDSymmetric(t *testing.T) {
	inst := Instrument("BTC/USDT")
	ab := OpportunityID(inst, VenueBinance, VenueKraken)
	ba := OpportunityID(inst, VenueKraken, VenueBinance)
	if ab != ba {
		t.Fatalf("OpportunityID not symmetric: %q vs %q", ab, ba)
	}
	if ab != "BTC/USDT|binance|kraken" {
		t.Fatalf("OpportunityID = %q", ab)
	}
}

func TestTickValidate(t *testing.T) {
	base := Tick{
		Instrument: "BTC/USDT",
		Venue:      VenueBinance,
		Price:      100.5,
		IngestTime: time.Now(),
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	for name, mutate := range map[string]func(*Tick){
		"zero price":     func(tk *Tick) { tk.Price = 0 },
		"negative price": func(tk *Tick) { tk.Price = -1 },
		"nan price":      func(tk *Tick) { tk.Price = math.NaN() },
		"inf price":      func(tk *Tick) { tk.Price = math.Inf(1) },
		"no instrument":  func(tk *Tick) { tk.Instrument = "" },
		"no venue":       func(tk *Tick) { tk.Venue = "" },
	} {
		tk := base
		mutate(&tk)
		if err := tk.Validate(); err == nil {
			t.Errorf("Validate() accepted tick with %s", name)
		}
	}
}

func TestAlertPriority(t *testing.T) {
	cases := []struct {
		pct  float64
		want int
	}{
		{0.995, 9},
		{0.7, 7},
		{1.0, 10},
		{0.05, 0},
		{-3, 0},
		{math.NaN(), 0},
	}
	for _, tc := range cases {
		if got := AlertPriority(tc.pct); got != tc.want {
			t.Errorf("AlertPriority(%v) = %d, want %d", tc.pct, got, tc.want)
		}
	}
}

func TestNewCloseAlertUsesPeakPriority(t *testing.T) {
	closed := ClosedOpportunity{
		ID:             "BTC/USDT|binance|kraken",
		CloseSpreadPct: 0.05,
		PeakSpreadPct:  0.995,
	}
	evt := NewCloseAlert(closed, time.Now())
	if evt.Kind != AlertClose {
		t.Fatalf("Kind = %s", evt.Kind)
	}
	if evt.Priority != 9 {
		t.Fatalf("Priority = %d, want 9 (from peak)", evt.Priority)
	}
	if evt.Retries != DefaultAlertRetries {
		t.Fatalf("Retries = %d", evt.Retries)
	}
	if evt.EventID == "" {
		t.Fatal("EventID empty")
	}
}
