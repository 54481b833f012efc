package okx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/coachpo/spreadwatch/internal/notify"
	"github.com/coachpo/spreadwatch/internal/schema"
)

const instrumentsFixture = `{
  "code": "0",
  "msg": "",
  "data": [
    {
      "instId": "BTC-USDT", "baseCcy": "BTC", "quoteCcy": "USDT",
      "state": "live", "tickSz": "0.1", "minSz": "0.00001"
    },
    {
      "instId": "OLD-USDT", "baseCcy": "OLD", "quoteCcy": "USDT",
      "state": "suspend", "tickSz": "0.01", "minSz": "1"
    },
    {
      "instId": "ETH-BTC", "baseCcy": "ETH", "quoteCcy": "BTC",
      "state": "live", "tickSz": "0.000001", "minSz": "0.001"
    }
  ]
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

func TestFetchCatalogFiltersLive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != instrumentsPath {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("instType") != "SPOT" {
			http.Error(w, "wrong instType", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(instrumentsFixture))
	}))
	defer srv.Close()

	adapter := New(Options{APIBaseURL: srv.URL})
	entries, err := adapter.FetchCatalog(context.Background())
	if err != nil {
		t.Fatalf("FetchCatalog() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 live entries, got %d", len(entries))
	}
	btc := entries[0]
	if btc.Instrument != "BTC/USDT" || btc.Base != "BTC" || btc.Quote != "USDT" {
		t.Errorf("unexpected first entry: %+v", btc)
	}
	if btc.TickSize.String() != "0.1" {
		t.Errorf("tick size = %s, want 0.1", btc.TickSize)
	}
	if btc.MinSize.String() != "0.00001" {
		t.Errorf("min size = %s, want 0.00001", btc.MinSize)
	}
}

func TestFetchCatalogErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":"50013","msg":"System busy","data":[]}`))
	}))
	defer srv.Close()

	adapter := New(Options{APIBaseURL: srv.URL})
	if _, err := adapter.FetchCatalog(context.Background()); err == nil {
		t.Fatal("expected error for non-zero response code")
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
		FallbackInstruments: []schema.Instrument{"BTC/USDT", "ETH/USDT"},
		Notifier:            recorder,
	})

	entries, err := adapter.FetchCatalog(context.Background())
	if err != nil {
		t.Fatalf("FetchCatalog() with fallback error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 fallback entries, got %d", len(entries))
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
	adapter.instIDs["BTC-USDT"] = "BTC/USDT"
	adapter.mu.Unlock()

	frame := []byte(`{"arg":{"channel":"tickers","instId":"BTC-USDT"},"data":[{"instId":"BTC-USDT","last":"50000.5","vol24h":"10"}]}`)
	if err := adapter.handleFrame(frame); err != nil {
		t.Fatalf("handleFrame() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("sink received %d ticks, want 1", len(got))
	}
	tick := got[0]
	if tick.Venue != schema.VenueOKX || tick.Instrument != "BTC/USDT" {
		t.Errorf("tick key = %s@%s", tick.Instrument, tick.Venue)
	}
	if tick.Price != 50000.5 || tick.Volume != 10 {
		t.Errorf("tick values = %v/%v", tick.Price, tick.Volume)
	}
	if tick.IngestTime.IsZero() {
		t.Error("ingest time not stamped")
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
	adapter.instIDs["BTC-USDT"] = "BTC/USDT"
	adapter.mu.Unlock()

	frames := []string{
		`{"arg":{"channel":"tickers","instId":"BTC-USDT"},"data":[{"instId":"BTC-USDT","last":"0"}]}`,
		`{"arg":{"channel":"tickers","instId":"BTC-USDT"},"data":[{"instId":"BTC-USDT","last":"-1"}]}`,
		`{"arg":{"channel":"tickers","instId":"BTC-USDT"},"data":[{"instId":"BTC-USDT","last":"garbage"}]}`,
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
	adapter.instIDs["BTC-USDT"] = "BTC/USDT"
	adapter.mu.Unlock()

	adapter.Stop()

	// Simulate an in-flight frame arriving after Stop: re-install the routing
	// state that Stop cleared, then confirm the running gate drops the tick.
	adapter.mu.Lock()
	adapter.sinks["BTC/USDT"] = sink
	adapter.instIDs["BTC-USDT"] = "BTC/USDT"
	adapter.mu.Unlock()

	frame := []byte(`{"arg":{"channel":"tickers","instId":"BTC-USDT"},"data":[{"instId":"BTC-USDT","last":"50000"}]}`)
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
