// Package okx adapts the OKX v5 public feed to the detector's venue contract:
// the tickers channel over one websocket plus the SPOT instruments catalog.
package okx

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/spreadwatch/internal/schema"
)

// wsArgument identifies one channel subscription. The same shape appears in
// subscribe requests and in the arg field of data frames.
type wsArgument struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type wsRequest struct {
	Op   string       `json:"op"`
	Args []wsArgument `json:"args"`
}

// wsEnvelope wraps both data pushes and event acknowledgements. Event frames
// carry no data; error events set Code and Msg.
type wsEnvelope struct {
	Event string            `json:"event"`
	Code  string            `json:"code"`
	Msg   string            `json:"msg"`
	Arg   wsArgument        `json:"arg"`
	Data  []json.RawMessage `json:"data"`
}

type tickerEvent struct {
	InstID    string `json:"instId"`
	Last      string `json:"last"`
	Volume24h string `json:"vol24h"`
	High24h   string `json:"high24h"`
	Low24h    string `json:"low24h"`
}

// parseFrame decodes a public-stream frame into its ticker events. ok is
// false for event acknowledgements and non-ticker channels; error events
// surface as errors.
func parseFrame(data []byte) (string, []tickerEvent, bool, error) {
	var envelope wsEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", nil, false, fmt.Errorf("parse public stream frame: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(envelope.Event)) {
	case "":
	case "error":
		return "", nil, false,
			fmt.Errorf("subscription rejected: code=%s msg=%s", envelope.Code, envelope.Msg)
	default:
		return "", nil, false, nil
	}

	if !strings.EqualFold(strings.TrimSpace(envelope.Arg.Channel), "tickers") {
		return "", nil, false, nil
	}

	events := make([]tickerEvent, 0, len(envelope.Data))
	for _, raw := range envelope.Data {
		var evt tickerEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			return "", nil, false, fmt.Errorf("parse ticker event: %w", err)
		}
		events = append(events, evt)
	}
	return envelope.Arg.InstID, events, true, nil
}

// instIDFor converts a canonical instrument to the dash-joined wire id,
// e.g. BTC/USDT -> BTC-USDT.
func instIDFor(instrument schema.Instrument) string {
	return strings.ToUpper(instrument.Base() + "-" + instrument.Quote())
}
