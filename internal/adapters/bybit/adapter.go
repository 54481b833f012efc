package bybit

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/spreadwatch/errs"
	"github.com/coachpo/spreadwatch/internal/adapters/shared"
	"github.com/coachpo/spreadwatch/internal/notify"
	"github.com/coachpo/spreadwatch/internal/observability"
	"github.com/coachpo/spreadwatch/internal/schema"
)

const venueName = string(schema.VenueBybit)

// Adapter streams Bybit spot tickers over one public websocket connection.
type Adapter struct {
	opts    Options
	running atomic.Bool

	mu           sync.Mutex
	parent       context.Context
	stream       *shared.StreamManager
	streamCancel context.CancelFunc
	sinks        map[schema.Instrument]schema.TickSink
	topics       map[string]schema.Instrument
	lastErr      string
}

// New constructs the Bybit adapter.
func New(opts Options) *Adapter {
	adapter := new(Adapter)
	adapter.opts = withDefaults(opts)
	adapter.sinks = make(map[schema.Instrument]schema.TickSink)
	adapter.topics = make(map[string]schema.Instrument)
	return adapter
}

// Name identifies the adapter's venue.
func (a *Adapter) Name() schema.Venue { return schema.VenueBybit }

// Start marks the adapter ready. It is idempotent and opens no sockets; the
// stream dials lazily on the first subscription.
func (a *Adapter) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !a.running.CompareAndSwap(false, true) {
		return nil
	}
	a.mu.Lock()
	a.parent = ctx
	a.mu.Unlock()
	return nil
}

// Stop closes the stream and clears connection state. In-flight frames are
// not delivered after Stop returns.
func (a *Adapter) Stop() error {
	a.running.Store(false)
	a.mu.Lock()
	if a.streamCancel != nil {
		a.streamCancel()
		a.streamCancel = nil
	}
	stream := a.stream
	a.stream = nil
	a.sinks = make(map[schema.Instrument]schema.TickSink)
	a.topics = make(map[string]schema.Instrument)
	a.mu.Unlock()

	if stream != nil {
		stream.Stop()
	}
	return nil
}

// Subscribe opens (or reuses) the spot stream and adds the instrument's
// tickers topic. Parsed ticks are delivered to sink.
func (a *Adapter) Subscribe(instrument schema.Instrument, sink schema.TickSink) error {
	if !a.running.Load() {
		return errs.New(venueName, errs.CodeConflict, errs.WithMessage("adapter not started"))
	}
	if !instrument.Valid() || sink == nil {
		return errs.New(venueName, errs.CodeInvalidTick,
			errs.WithInstrument(string(instrument)),
			errs.WithMessage("subscription requires instrument and sink"))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ensureStreamLocked(); err != nil {
		return err
	}
	topic := topicFor(instrument)
	a.sinks[instrument] = sink
	a.topics[topic] = instrument
	if err := a.stream.Subscribe([]string{topic}); err != nil {
		return errs.New(venueName, errs.CodeTransientFeed,
			errs.WithInstrument(string(instrument)),
			errs.WithMessage("subscribe tickers topic"), errs.WithCause(err))
	}
	return nil
}

// Unsubscribe drops the instrument's tickers topic.
func (a *Adapter) Unsubscribe(instrument schema.Instrument) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	topic := topicFor(instrument)
	delete(a.sinks, instrument)
	delete(a.topics, topic)
	if a.stream == nil {
		return nil
	}
	return a.stream.Unsubscribe([]string{topic})
}

// Status reports connection liveness for the health monitor.
func (a *Adapter) Status() schema.VenueStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	status := schema.VenueStatus{Venue: schema.VenueBybit, LastError: a.lastErr}
	if a.stream != nil && a.stream.Connected() {
		status.Connected = true
		status.ConnectionCount = 1
	}
	status.Subscribed = make([]schema.Instrument, 0, len(a.sinks))
	for instrument := range a.sinks {
		status.Subscribed = append(status.Subscribed, instrument)
	}
	sort.Slice(status.Subscribed, func(i, j int) bool {
		return status.Subscribed[i] < status.Subscribed[j]
	})
	return status
}

// ensureStreamLocked dials the spot stream on first use.
func (a *Adapter) ensureStreamLocked() error {
	if a.stream != nil {
		return nil
	}
	parent := a.parent
	if parent == nil {
		parent = context.Background()
	}
	streamCtx, cancel := context.WithCancel(parent)
	errCh := make(chan error, 8)

	stream := shared.NewStreamManager(streamCtx, shared.StreamConfig{
		Venue:             venueName,
		URL:               a.opts.spotStreamURL(),
		DialTimeout:       a.opts.WsTimeout,
		ReconnectDelay:    a.opts.ReconnectDelay,
		MaxTopicsPerFrame: maxArgsPerRequest,
		EncodeSubscribe:   encodeControl("subscribe"),
		EncodeUnsubscribe: encodeControl("unsubscribe"),
		Handler:           a.handleFrame,
		OnReconnect:       a.onReconnect,
	}, errCh)

	if err := stream.Start(); err != nil {
		cancel()
		a.lastErr = err.Error()
		a.notify(notify.KindStreamOpenFailed, "dial spot stream")
		return err
	}

	a.stream = stream
	a.streamCancel = cancel
	go a.consumeErrors(streamCtx, errCh)
	return nil
}

func encodeControl(op string) func([]string) ([]byte, error) {
	return func(topics []string) ([]byte, error) {
		return json.Marshal(wsRequest{Op: op, Args: topics})
	}
}

func (a *Adapter) handleFrame(data []byte) error {
	topic, ticker, ok, err := parseFrame(data)
	if err != nil {
		return errs.New(venueName, errs.CodeInvalidTick,
			errs.WithMessage("parse stream frame"), errs.WithCause(err))
	}
	if !ok {
		return nil
	}

	a.mu.Lock()
	instrument, known := a.topics[topic]
	sink := a.sinks[instrument]
	a.mu.Unlock()
	if !known || sink == nil {
		return nil
	}

	price, err := strconv.ParseFloat(ticker.LastPrice, 64)
	if err != nil {
		a.dropInvalidTick(instrument, ticker.LastPrice)
		return nil
	}
	tick := schema.Tick{
		Instrument: instrument,
		Venue:      schema.VenueBybit,
		Price:      price,
		IngestTime: time.Now().UTC(),
		Volume:     parseOptionalFloat(ticker.Volume24h),
		High:       parseOptionalFloat(ticker.High24h),
		Low:        parseOptionalFloat(ticker.Low24h),
	}
	if err := tick.Validate(); err != nil {
		a.dropInvalidTick(instrument, ticker.LastPrice)
		return nil
	}
	if !a.running.Load() {
		return nil
	}
	sink(tick)
	a.opts.Metrics.RecordTick(venueName)
	return nil
}

func parseOptionalFloat(raw string) float64 {
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return v
}

func (a *Adapter) dropInvalidTick(instrument schema.Instrument, rawPrice string) {
	a.opts.Metrics.RecordInvalidTick(venueName)
	observability.Log().Debug("dropped invalid tick",
		observability.String("venue", venueName),
		observability.String("instrument", string(instrument)),
		observability.String("price", rawPrice))
}

func (a *Adapter) onReconnect() {
	a.opts.Metrics.RecordReconnect(venueName)
	observability.Log().Info("stream reconnected", observability.String("venue", venueName))
}

func (a *Adapter) consumeErrors(ctx context.Context, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			a.recordStreamError(err)
		}
	}
}

func (a *Adapter) recordStreamError(err error) {
	if err == nil {
		return
	}
	a.mu.Lock()
	a.lastErr = err.Error()
	a.mu.Unlock()

	kind := notify.KindStreamClosedUnexpectedly
	switch errs.CodeOf(err) {
	case errs.CodeNetwork:
		kind = notify.KindStreamOpenFailed
	case errs.CodeInvalidTick:
		kind = notify.KindParseFailed
	}
	a.notify(kind, errs.MessageOf(err))
}

func (a *Adapter) recordCatalogFailure(cause error) {
	a.mu.Lock()
	a.lastErr = cause.Error()
	a.mu.Unlock()
	a.opts.Metrics.RecordCatalogFailure(venueName)
	a.notify(notify.KindCatalogFetchFailed, cause.Error())
	observability.Log().Error("catalog fetch failed",
		observability.String("venue", venueName), observability.Err(cause))
}

func (a *Adapter) notify(kind notify.Kind, message string) {
	if a.opts.Notifier != nil {
		a.opts.Notifier.Notify(schema.VenueBybit, kind, message)
	}
}
