// Package binance adapts the Binance spot feed to the detector's venue
// contract: 24h ticker frames from the combined stream plus the exchangeInfo
// catalog.
package binance

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/spreadwatch/internal/schema"
)

// wsEnvelope is the combined-stream wrapper. Control acks carry no stream
// name.
type wsEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type controlAck struct {
	Result *json.RawMessage `json:"result"`
	ID     uint64           `json:"id"`
	Error  *wsError         `json:"error,omitempty"`
}

type wsError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     uint64   `json:"id"`
}

// tickerPayload is the 24hrTicker event body. Only the fields the detector
// consumes are mapped.
type tickerPayload struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	LastPrice string `json:"c"`
	Volume    string `json:"v"`
	High      string `json:"h"`
	Low       string `json:"l"`
}

// parseFrame splits a combined-stream frame into its stream name and ticker
// body. ok is false for control acks and non-ticker events.
func parseFrame(data []byte) (string, tickerPayload, bool, error) {
	var envelope wsEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", tickerPayload{}, false, fmt.Errorf("parse combined stream frame: %w", err)
	}

	if envelope.Stream == "" {
		var ack controlAck
		if err := json.Unmarshal(data, &ack); err == nil && ack.Error != nil {
			return "", tickerPayload{}, false,
				fmt.Errorf("subscription rejected (id=%d): code=%d msg=%s", ack.ID, ack.Error.Code, ack.Error.Msg)
		}
		return "", tickerPayload{}, false, nil
	}

	var payload tickerPayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return "", tickerPayload{}, false, fmt.Errorf("parse ticker body: %w", err)
	}
	if !strings.EqualFold(payload.EventType, "24hrTicker") && !strings.EqualFold(payload.EventType, "ticker") {
		return "", tickerPayload{}, false, nil
	}
	return envelope.Stream, payload, true, nil
}

// streamSymbol converts a canonical instrument to the lower-case concatenated
// wire symbol, e.g. BTC/USDT -> btcusdt.
func streamSymbol(instrument schema.Instrument) string {
	return strings.ToLower(instrument.Base() + instrument.Quote())
}

// topicFor names the combined-stream ticker topic for an instrument.
func topicFor(instrument schema.Instrument) string {
	return streamSymbol(instrument) + "@ticker"
}
