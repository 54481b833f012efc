package okx

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
	Code string           `json:"code"`
	Msg  string           `json:"msg"`
	Data []instrumentInfo `json:"data"`
}

type instrumentInfo struct {
	InstID   string `json:"instId"`
	BaseCcy  string `json:"baseCcy"`
	QuoteCcy string `json:"quoteCcy"`
	State    string `json:"state"`
	TickSize string `json:"tickSz"`
	MinSize  string `json:"minSz"`
}

// FetchCatalog loads the SPOT instrument catalog, returning only instruments
// in live state. On endpoint failure the configured fallback list is
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
	if payload.Code != "0" {
		return nil, fmt.Errorf("instruments error response: code=%s msg=%s", payload.Code, payload.Msg)
	}

	entries := make([]schema.CatalogEntry, 0, len(payload.Data))
	for _, info := range payload.Data {
		if !strings.EqualFold(info.State, "live") {
			continue
		}
		instrument := schema.MakeInstrument(info.BaseCcy, info.QuoteCcy)
		if !instrument.Valid() {
			continue
		}
		entries = append(entries, schema.CatalogEntry{
			Instrument: instrument,
			Base:       instrument.Base(),
			Quote:      instrument.Quote(),
			Tradable:   true,
			TickSize:   numeric.ParseDecimalOrZero(info.TickSize),
			MinSize:    numeric.ParseDecimalOrZero(info.MinSize),
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
