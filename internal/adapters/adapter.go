// Package adapters defines the uniform venue contract and constructs the
// closed set of venue adapters.
package adapters

import (
	"context"

	"github.com/coachpo/spreadwatch/internal/schema"
)

// Adapter is the uniform contract every venue implements. One adapter exists
// per venue; all methods are safe for concurrent use.
type Adapter interface {
	// Name identifies the venue.
	Name() schema.Venue

	// Start marks the adapter ready. It is idempotent and opens no sockets;
	// streams dial lazily on the first subscription.
	Start(ctx context.Context) error

	// Stop closes sockets and clears connection state. After Stop returns no
	// tick is delivered, even if a frame was already in flight.
	Stop() error

	// FetchCatalog lists tradable instruments from the venue's REST catalog,
	// bounded by the configured timeout.
	FetchCatalog(ctx context.Context) ([]schema.CatalogEntry, error)

	// Subscribe opens or reuses the stream carrying the instrument's ticker
	// and delivers each parsed tick to sink exactly once.
	Subscribe(instrument schema.Instrument, sink schema.TickSink) error

	// Unsubscribe drops the instrument's ticker stream.
	Unsubscribe(instrument schema.Instrument) error

	// Status reports connection liveness and the active subscription set.
	Status() schema.VenueStatus
}
