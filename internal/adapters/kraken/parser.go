// Package kraken adapts the Kraken v1 public feed to the detector's venue
// contract: the ticker channel over one websocket plus the AssetPairs
// catalog. Kraken pushes data as JSON arrays and control events as objects,
// and names assets in its own dialect (XBT for BTC, XDG for DOGE).
package kraken

import (
	"bytes"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/spreadwatch/internal/schema"
)

type wsRequest struct {
	Event        string         `json:"event"`
	Pair         []string       `json:"pair"`
	Subscription wsSubscription `json:"subscription"`
}

type wsSubscription struct {
	Name string `json:"name"`
}

// eventFrame covers every object-shaped control message: systemStatus,
// heartbeat, and subscriptionStatus.
type eventFrame struct {
	Event        string `json:"event"`
	Status       string `json:"status"`
	Pair         string `json:"pair"`
	ErrorMessage string `json:"errorMessage"`
}

// tickerPayload is the ticker channel body. Each field is a pair of values;
// index 0 covers today, index 1 the trailing 24 hours. The last-trade field c
// carries price then lot volume.
type tickerPayload struct {
	Last   []string `json:"c"`
	Volume []string `json:"v"`
	High   []string `json:"h"`
	Low    []string `json:"l"`
}

// parseFrame decodes a v1 frame. Data arrives as [channelID, payload,
// channelName, pair]; control events arrive as objects. ok is false for
// control events and non-ticker channels; subscription errors surface as
// errors.
func parseFrame(data []byte) (string, tickerPayload, bool, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return "", tickerPayload{}, false, nil
	}

	if trimmed[0] != '[' {
		var evt eventFrame
		if err := json.Unmarshal(trimmed, &evt); err != nil {
			return "", tickerPayload{}, false, fmt.Errorf("parse event frame: %w", err)
		}
		if strings.EqualFold(evt.Status, "error") {
			return "", tickerPayload{}, false,
				fmt.Errorf("subscription rejected (pair=%s): %s", evt.Pair, evt.ErrorMessage)
		}
		return "", tickerPayload{}, false, nil
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(trimmed, &elements); err != nil {
		return "", tickerPayload{}, false, fmt.Errorf("parse data frame: %w", err)
	}
	if len(elements) < 4 {
		return "", tickerPayload{}, false, nil
	}

	var channel string
	if err := json.Unmarshal(elements[len(elements)-2], &channel); err != nil {
		return "", tickerPayload{}, false, fmt.Errorf("parse channel name: %w", err)
	}
	if !strings.EqualFold(channel, "ticker") {
		return "", tickerPayload{}, false, nil
	}

	var pair string
	if err := json.Unmarshal(elements[len(elements)-1], &pair); err != nil {
		return "", tickerPayload{}, false, fmt.Errorf("parse pair name: %w", err)
	}
	var ticker tickerPayload
	if err := json.Unmarshal(elements[1], &ticker); err != nil {
		return "", tickerPayload{}, false, fmt.Errorf("parse ticker body: %w", err)
	}
	return pair, ticker, true, nil
}

// krakenAsset converts a canonical asset code to Kraken's dialect.
func krakenAsset(code string) string {
	switch strings.ToUpper(code) {
	case "BTC":
		return "XBT"
	case "DOGE":
		return "XDG"
	default:
		return strings.ToUpper(code)
	}
}

// canonicalAsset converts a Kraken asset code back to the canonical one.
func canonicalAsset(code string) string {
	switch strings.ToUpper(code) {
	case "XBT":
		return "BTC"
	case "XDG":
		return "DOGE"
	default:
		return strings.ToUpper(code)
	}
}

// wsPairFor converts a canonical instrument to the websocket pair name,
// e.g. BTC/USDT -> XBT/USDT.
func wsPairFor(instrument schema.Instrument) string {
	return krakenAsset(instrument.Base()) + "/" + krakenAsset(instrument.Quote())
}

// instrumentForWsPair reverses wsPairFor. ok is false for malformed names.
func instrumentForWsPair(pair string) (schema.Instrument, bool) {
	base, quote, found := strings.Cut(pair, "/")
	if !found {
		return "", false
	}
	instrument := schema.MakeInstrument(canonicalAsset(base), canonicalAsset(quote))
	return instrument, instrument.Valid()
}
