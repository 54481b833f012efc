package gate

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

type currencyPairInfo struct {
	ID            string `json:"id"`
	Base          string `json:"base"`
	Quote         string `json:"quote"`
	TradeStatus   string `json:"trade_status"`
	MinBaseAmount string `json:"min_base_amount"`

	// Precision is the number of price decimals; the tick size derives from
	// it since the endpoint reports no explicit step.
	Precision int32 `json:"precision"`
}

// FetchCatalog loads the spot currency-pair catalog, returning only pairs in
// tradable status. On endpoint failure the configured fallback list is
// substituted when present.
func (a *Adapter) FetchCatalog(ctx context.Context) ([]schema.CatalogEntry, error) {
	entries, err := a.fetchCurrencyPairs(ctx)
	if err != nil {
		return a.catalogFailure(err)
	}
	return entries, nil
}

func (a *Adapter) fetchCurrencyPairs(ctx context.Context) ([]schema.CatalogEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.WsTimeout)
	defer cancel()

	endpoint := a.opts.currencyPairsEndpoint()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create currency_pairs request: %w", err)
	}
	resp, err := a.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request currency_pairs: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("currency_pairs unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var pairs []currencyPairInfo
	if err := json.NewDecoder(resp.Body).Decode(&pairs); err != nil {
		return nil, fmt.Errorf("decode currency_pairs: %w", err)
	}

	entries := make([]schema.CatalogEntry, 0, len(pairs))
	for _, info := range pairs {
		if !strings.EqualFold(info.TradeStatus, "tradable") {
			continue
		}
		instrument := schema.MakeInstrument(info.Base, info.Quote)
		if !instrument.Valid() {
			continue
		}
		entries = append(entries, schema.CatalogEntry{
			Instrument: instrument,
			Base:       instrument.Base(),
			Quote:      instrument.Quote(),
			Tradable:   true,
			TickSize:   numeric.ParseDecimalOrZero(numeric.StepFromScale(info.Precision)),
			MinSize:    numeric.ParseDecimalOrZero(info.MinBaseAmount),
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
		errs.WithMessage("fetch currency_pairs"), errs.WithCause(cause))
}
