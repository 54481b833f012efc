package bybit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/spreadwatch/errs"
	"github.com/coachpo/spreadwatch/internal/adapters/shared"
	"github.com/coachpo/spreadwatch/internal/numeric"
	"github.com/coachpo/spreadwatch/internal/schema"
)

type instrumentsResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Category string           `json:"category"`
		List     []instrumentInfo `json:"list"`
	} `json:"result"`
}

type instrumentInfo struct {
	Symbol        string        `json:"symbol"`
	BaseCoin      string        `json:"baseCoin"`
	QuoteCoin     string        `json:"quoteCoin"`
	Status        string        `json:"status"`
	PriceFilter   priceFilter   `json:"priceFilter"`
	LotSizeFilter lotSizeFilter `json:"lotSizeFilter"`
}

type priceFilter struct {
	TickSize string `json:"tickSize"`
}

type lotSizeFilter struct {
	MinOrderQty string `json:"minOrderQty"`
}

// FetchCatalog loads the spot instrument catalog, returning only symbols in
// Trading status. On endpoint failure the configured fallback list is
// substituted when present.
func (a *Adapter) FetchCatalog(ctx context.Context) ([]schema.CatalogEntry, error) {
	entries, err := a.fetchInstruments(ctx)
	if err != nil {
		return a.catalogFailure(err)
	}
	return entries, nil
}

func (a *Adapter) fetchInstruments(ctx context.Context) ([]schema.CatalogEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.WsTimeout)
	defer cancel()

	endpoint := a.opts.instrumentsEndpoint()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create instruments request: %w", err)
	}
	resp, err := a.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request instruments: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("instruments unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload instrumentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode instruments: %w", err)
	}
	if payload.RetCode != 0 {
		return nil, fmt.Errorf("instruments error response: retCode=%d retMsg=%s", payload.RetCode, payload.RetMsg)
	}

	entries := make([]schema.CatalogEntry, 0, len(payload.Result.List))
	for _, info := range payload.Result.List {
		if !strings.EqualFold(info.Status, "Trading") {
			continue
		}
		instrument := schema.MakeInstrument(info.BaseCoin, info.QuoteCoin)
		if !instrument.Valid() {
			continue
		}
		entries = append(entries, schema.CatalogEntry{
			Instrument: instrument,
			Base:       instrument.Base(),
			Quote:      instrument.Quote(),
			Tradable:   true,
			TickSize:   numeric.ParseDecimalOrZero(info.PriceFilter.TickSize),
			MinSize:    numeric.ParseDecimalOrZero(info.LotSizeFilter.MinOrderQty),
		})
	}
	return entries, nil
}

func (a *Adapter) catalogFailure(cause error) ([]schema.CatalogEntry, error) {
	a.recordCatalogFailure(cause)
	if len(a.opts.FallbackInstruments) > 0 {
		return shared.FallbackEntries(a.opts.FallbackInstruments), nil
	}
	return nil, errs.New(venueName, errs.CodeCatalogUnavailable,
		errs.WithMessage("fetch instruments"), errs.WithCause(cause))
}
