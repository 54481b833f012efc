package kraken

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

type assetPairsResponse struct {
	Error  []string                 `json:"error"`
	Result map[string]assetPairInfo `json:"result"`
}

type assetPairInfo struct {
	WSName   string `json:"wsname"`
	Base     string `json:"base"`
	Quote    string `json:"quote"`
	Status   string `json:"status"`
	TickSize string `json:"tick_size"`
	OrderMin string `json:"ordermin"`
}

// FetchCatalog loads the asset-pair catalog, returning only pairs in online
// status. Canonical names derive from wsname since the REST base and quote
// fields use classic prefixed codes. On endpoint failure the configured
// fallback list is substituted when present.
func (a *Adapter) FetchCatalog(ctx context.Context) ([]schema.CatalogEntry, error) {
	entries, err := a.fetchAssetPairs(ctx)
	if err != nil {
		return a.catalogFailure(err)
	}
	return entries, nil
}

func (a *Adapter) fetchAssetPairs(ctx context.Context) ([]schema.CatalogEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.WsTimeout)
	defer cancel()

	endpoint := a.opts.assetPairsEndpoint()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create AssetPairs request: %w", err)
	}
	resp, err := a.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request AssetPairs: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("AssetPairs unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload assetPairsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode AssetPairs: %w", err)
	}
	if len(payload.Error) > 0 {
		return nil, fmt.Errorf("AssetPairs error response: %s", strings.Join(payload.Error, "; "))
	}

	entries := make([]schema.CatalogEntry, 0, len(payload.Result))
	for _, info := range payload.Result {
		if !strings.EqualFold(info.Status, "online") {
			continue
		}
		instrument, ok := instrumentForWsPair(info.WSName)
		if !ok {
			continue
		}
		entries = append(entries, schema.CatalogEntry{
			Instrument: instrument,
			Base:       instrument.Base(),
			Quote:      instrument.Quote(),
			Tradable:   true,
			TickSize:   numeric.ParseDecimalOrZero(info.TickSize),
			MinSize:    numeric.ParseDecimalOrZero(info.OrderMin),
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
		errs.WithMessage("fetch AssetPairs"), errs.WithCause(cause))
}
