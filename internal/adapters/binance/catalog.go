package binance

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

type exchangeInfoResponse struct {
	Symbols []exchangeInfoSymbol `json:"symbols"`
}

type exchangeInfoSymbol struct {
	Symbol     string               `json:"symbol"`
	Status     string               `json:"status"`
	BaseAsset  string               `json:"baseAsset"`
	QuoteAsset string               `json:"quoteAsset"`
	Filters    []exchangeInfoFilter `json:"filters"`
}

type exchangeInfoFilter struct {
	FilterType string `json:"filterType"`
	TickSize   string `json:"tickSize"`
	MinQty     string `json:"minQty"`
}

// FetchCatalog loads the spot instrument catalog, returning only symbols in
// TRADING status. On endpoint failure the configured fallback list is
// substituted when present.
func (a *Adapter) FetchCatalog(ctx context.Context) ([]schema.CatalogEntry, error) {
	entries, err := a.fetchExchangeInfo(ctx)
	if err != nil {
		return a.catalogFailure(err)
	}
	return entries, nil
}

func (a *Adapter) fetchExchangeInfo(ctx context.Context) ([]schema.CatalogEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.WsTimeout)
	defer cancel()

	endpoint := a.opts.exchangeInfoEndpoint()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create exchangeInfo request: %w", err)
	}
	resp, err := a.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request exchangeInfo: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("exchangeInfo unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload exchangeInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode exchangeInfo: %w", err)
	}

	entries := make([]schema.CatalogEntry, 0, len(payload.Symbols))
	for _, sym := range payload.Symbols {
		if !strings.EqualFold(sym.Status, "TRADING") {
			continue
		}
		instrument := schema.MakeInstrument(sym.BaseAsset, sym.QuoteAsset)
		if !instrument.Valid() {
			continue
		}
		entry := schema.CatalogEntry{
			Instrument: instrument,
			Base:       instrument.Base(),
			Quote:      instrument.Quote(),
			Tradable:   true,
		}
		for _, filter := range sym.Filters {
			switch filter.FilterType {
			case "PRICE_FILTER":
				entry.TickSize = numeric.ParseDecimalOrZero(filter.TickSize)
			case "LOT_SIZE":
				entry.MinSize = numeric.ParseDecimalOrZero(filter.MinQty)
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (a *Adapter) catalogFailure(cause error) ([]schema.CatalogEntry, error) {
	a.recordCatalogFailure(cause)
	if len(a.opts.FallbackInstruments) > 0 {
		return shared.FallbackEntries(a.opts.FallbackInstruments), nil
	}
	return nil, errs.New(venueName, errs.CodeCatalogUnavailable,
		errs.WithMessage("fetch exchangeInfo"), errs.WithCause(cause))
}
