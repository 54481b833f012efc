package kraken

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/coachpo/spreadwatch/internal/notify"
	"github.com/coachpo/spreadwatch/internal/schema"
)

const assetPairsFixture = `{
  "error": [],
  "result": {
    "XXBTZUSDT": {
      "wsname": "XBT/USDT", "base": "XXBT", "quote": "USDT",
      "status": "online", "tick_size": "0.1", "ordermin": "0.0001"
    },
    "OLDUSDT": {
      "wsname": "OLD/USDT", "base": "OLD", "quote": "USDT",
      "status": "delisted", "tick_size": "0.01", "ordermin": "1"
    },
    "XETHXXBT": {
      "wsname": "ETH/XBT", "base": "XETH", "quote": "XXBT",
      "status": "online", "tick_size": "0.00001", "ordermin": "0.01"
    }
  }
}`

type notifyRecorder struct {
	mu    sync.Mutex
	kinds []notify.Kind
}

func (r *notifyRecorder) Notify(_ schema.Venue, kind notify.Kind, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
}

func (r *notifyRecorder) has(kind notify.Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func TestFetchCatalogFiltersOnline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != assetPairsPath {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(assetPairsFixture))
	}))
	defer srv.Close()

	adapter := New(Options{APIBaseURL: srv.URL})
	entries, err := adapter.FetchCatalog(context.Background())
	if err != nil {
		t.Fatalf("FetchCatalog() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 online entries, got %d", len(entries))
	}

	byInstrument := make(map[schema.Instrument]schema.CatalogEntry, len(entries))
	for _, entry := range entries {
		byInstrument[entry.Instrument] = entry
	}
	btc, ok := byInstrument["BTC/USDT"]
	if !ok {
		t.Fatal("expected XBT/USDT to map to BTC/USDT")
	}
	if btc.Base != "BTC" || btc.Quote != "USDT" {
		t.Errorf("btc entry base/quote = %s/%s", btc.Base, btc.Quote)
	}
	if btc.TickSize.String() != "0.1" || btc.MinSize.String() != "0.0001" {
		t.Errorf("btc sizes = %s/%s", btc.TickSize, btc.MinSize)
	}
	if _, ok := byInstrument["ETH/BTC"]; !ok {
		t.Error("expected ETH/XBT to map to ETH/BTC")
	}
}

func TestFetchCatalogErrorList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error":["EService:Unavailable"],"result":{}}`))
	}))
	defer srv.Close()

	adapter := New(Options{APIBaseURL: srv.URL})
	if _, err := adapter.FetchCatalog(context.Background()); err == nil {
		t.Fatal("expected error for non-empty error list")
	}
}

func TestFetchCatalogFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	recorder := new(notifyRecorder)
	adapter := New(Options{
		APIBaseURL:          srv.URL,
		FallbackInstruments: []schema.Instrument{"BTC/USDT"},
		Notifier:            recorder,
	})

	entries, err := adapter.FetchCatalog(context.Background())
	if err != nil {
		t.Fatalf("FetchCatalog() with fallback error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 fallback entry, got %d", len(entries))
	}
	if !recorder.has(notify.KindCatalogFetchFailed) {
		t.Error("expected catalog failure notification")
	}
}

func TestSubscribeRequiresStart(t *testing.T) {
	adapter := New(Options{})
	err := adapter.Subscribe("BTC/USDT", func(schema.Tick) {})
	if err == nil {
		t.Fatal("expected error before Start")
	}
}

func TestHandleFrameDeliversTick(t *testing.T) {
	adapter := New(Options{})
	if err := adapter.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer adapter.Stop()

	var got []schema.Tick
	adapter.mu.Lock()
	adapter.sinks["BTC/USDT"] = func(tick schema.Tick) { got = append(got, tick) }
	adapter.pairs["XBT/USDT"] = "BTC/USDT"
	adapter.mu.Unlock()

	frame := []byte(`[340,{"c":["50000.5","0.002"],"v":["5","10"],"h":["50500","51000"],"l":["49500","49000"]},"ticker","XBT/USDT"]`)
	if err := adapter.handleFrame(frame); err != nil {
		t.Fatalf("handleFrame() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("sink received %d ticks, want 1", len(got))
	}
	tick := got[0]
	if tick.Venue != schema.VenueKraken || tick.Instrument != "BTC/USDT" {
		t.Errorf("tick key = %s@%s", tick.Instrument, tick.Venue)
	}
	if tick.Price != 50000.5 || tick.Volume != 10 || tick.High != 51000 || tick.Low != 49000 {
		t.Errorf("tick values = %v/%v/%v/%v", tick.Price, tick.Volume, tick.High, tick.Low)
	}
}

func TestHandleFrameDropsInvalidPrice(t *testing.T) {
	adapter := New(Options{})
	if err := adapter.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer adapter.Stop()

	delivered := 0
	adapter.mu.Lock()
	adapter.sinks["BTC/USDT"] = func(schema.Tick) { delivered++ }
	adapter.pairs["XBT/USDT"] = "BTC/USDT"
	adapter.mu.Unlock()

	frames := []string{
		`[340,{"c":["0","0.002"]},"ticker","XBT/USDT"]`,
		`[340,{"c":["-1","0.002"]},"ticker","XBT/USDT"]`,
		`[340,{"c":["garbage","0.002"]},"ticker","XBT/USDT"]`,
		`[340,{"c":[]},"ticker","XBT/USDT"]`,
	}
	for _, frame := range frames {
		if err := adapter.handleFrame([]byte(frame)); err != nil {
			t.Fatalf("handleFrame(%s) error = %v", frame, err)
		}
	}
	if delivered != 0 {
		t.Fatalf("sink received %d invalid ticks, want 0", delivered)
	}
}

func TestNoDeliveryAfterStop(t *testing.T) {
	adapter := New(Options{})
	if err := adapter.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	delivered := 0
	sink := func(schema.Tick) { delivered++ }
	adapter.mu.Lock()
	adapter.sinks["BTC/USDT"] = sink
	adapter.pairs["XBT/USDT"] = "BTC/USDT"
	adapter.mu.Unlock()

	adapter.Stop()

	// Simulate an in-flight frame arriving after Stop: re-install the routing
	// state that Stop cleared, then confirm the running gate drops the tick.
	adapter.mu.Lock()
	adapter.sinks["BTC/USDT"] = sink
	adapter.pairs["XBT/USDT"] = "BTC/USDT"
	adapter.mu.Unlock()

	frame := []byte(`[340,{"c":["50000","0.002"]},"ticker","XBT/USDT"]`)
	if err := adapter.handleFrame(frame); err != nil {
		t.Fatalf("handleFrame() error = %v", err)
	}
	if delivered != 0 {
		t.Fatalf("sink received %d ticks after Stop, want 0", delivered)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	adapter := New(Options{})
	ctx := context.Background()
	if err := adapter.Start(ctx); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	if err := adapter.Start(ctx); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	adapter.Stop()
}
