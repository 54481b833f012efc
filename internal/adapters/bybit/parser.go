// Package bybit adapts the Bybit v5 spot feed to the detector's venue
// contract: the tickers topic over one websocket plus the instruments-info
// catalog.
package bybit

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/spreadwatch/internal/schema"
)

type wsRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// wsEnvelope wraps topic pushes and operation responses. Responses carry Op
// and Success; pushes carry Topic and Data.
type wsEnvelope struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Op      string          `json:"op"`
	Success *bool           `json:"success"`
	RetMsg  string          `json:"ret_msg"`
	Data    json.RawMessage `json:"data"`
}

type tickerData struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	High24h   string `json:"highPrice24h"`
	Low24h    string `json:"lowPrice24h"`
	Volume24h string `json:"volume24h"`
}

// parseFrame decodes a spot-stream frame into its topic and ticker body. ok
// is false for operation responses and non-ticker topics; failed operations
// surface as errors.
func parseFrame(data []byte) (string, tickerData, bool, error) {
	var envelope wsEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", tickerData{}, false, fmt.Errorf("parse spot stream frame: %w", err)
	}

	if envelope.Topic == "" {
		if envelope.Success != nil && !*envelope.Success {
			return "", tickerData{}, false,
				fmt.Errorf("operation %s rejected: %s", envelope.Op, envelope.RetMsg)
		}
		return "", tickerData{}, false, nil
	}
	if !strings.HasPrefix(envelope.Topic, "tickers.") {
		return "", tickerData{}, false, nil
	}

	var ticker tickerData
	if err := json.Unmarshal(envelope.Data, &ticker); err != nil {
		return "", tickerData{}, false, fmt.Errorf("parse ticker body: %w", err)
	}
	return envelope.Topic, ticker, true, nil
}

// wireSymbol converts a canonical instrument to the concatenated upper-case
// wire symbol, e.g. BTC/USDT -> BTCUSDT.
func wireSymbol(instrument schema.Instrument) string {
	return strings.ToUpper(instrument.Base() + instrument.Quote())
}

// topicFor names the tickers topic for an instrument.
func topicFor(instrument schema.Instrument) string {
	return "tickers." + wireSymbol(instrument)
}
