package archive

import (
	"context"

	"github.com/coachpo/spreadwatch/internal/alert"
	"github.com/coachpo/spreadwatch/internal/observability"
	"github.com/coachpo/spreadwatch/internal/schema"
)

// ClosedSaver is the slice of Store the recorder depends on.
type ClosedSaver interface {
	SaveClosed(ctx context.Context, record schema.ClosedOpportunity) error
}

// Recorder tees close events into the archive while forwarding every event to
// the wrapped deliverer. Archive failures are logged and swallowed: alert
// delivery never depends on database availability.
type Recorder struct {
	next  alert.Deliverer
	saver ClosedSaver
}

var _ alert.Deliverer = (*Recorder)(nil)

// NewRecorder wraps next with close-record capture.
func NewRecorder(next alert.Deliverer, saver ClosedSaver) *Recorder {
	return &Recorder{next: next, saver: saver}
}

func (r *Recorder) Deliver(ctx context.Context, event schema.AlertEvent) error {
	if r.saver != nil && event.Kind == schema.AlertClose && event.Closed != nil {
		if err := r.saver.SaveClosed(ctx, *event.Closed); err != nil {
			observability.Log().Error("archive close record",
				observability.String("opportunity_id", event.Closed.ID),
				observability.Err(err))
		}
	}
	if r.next == nil {
		return nil
	}
	return r.next.Deliver(ctx, event)
}
