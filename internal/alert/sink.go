// Package alert carries detection results from the engine to the outbound
// notification channel: a bounded queue, an optional script filter, and a
// dispatcher that drains the queue into a deliverer.
package alert

import (
	"context"

	"github.com/coachpo/spreadwatch/internal/observability"
	"github.com/coachpo/spreadwatch/internal/schema"
)

// Sink accepts alert events produced by the engine. Priority and the retry
// budget travel inside the event.
type Sink interface {
	Enqueue(ctx context.Context, event schema.AlertEvent) error
}

// Deliverer pushes one alert event to the outbound channel.
type Deliverer interface {
	Deliver(ctx context.Context, event schema.AlertEvent) error
}

// LogDeliverer writes alerts to the process logger. It is the default
// outbound channel when no gateway is configured.
type LogDeliverer struct{}

func (LogDeliverer) Deliver(_ context.Context, event schema.AlertEvent) error {
	fields := []observability.Field{
		observability.String("event_id", event.EventID),
		observability.String("kind", string(event.Kind)),
		observability.Int("priority", event.Priority),
	}
	switch {
	case event.Opportunity != nil:
		o := event.Opportunity
		fields = append(fields,
			observability.String("instrument", string(o.Instrument)),
			observability.String("venues", string(o.VenueA)+"/"+string(o.VenueB)),
			observability.Float("spread_pct", o.SpreadPct),
			observability.Float("implied_profit", o.ImpliedProfit),
			observability.String("direction", string(o.Direction)),
			observability.Int("alerts_sent", o.AlertsSent))
	case event.Closed != nil:
		c := event.Closed
		fields = append(fields,
			observability.String("instrument", string(c.Instrument)),
			observability.String("venues", string(c.VenueA)+"/"+string(c.VenueB)),
			observability.String("close_reason", string(c.CloseReason)),
			observability.Float("peak_spread_pct", c.PeakSpreadPct),
			observability.String("duration", c.Duration.String()))
	}
	observability.Log().Info("spread alert", fields...)
	return nil
}
