package shared

import "github.com/coachpo/spreadwatch/internal/schema"

// FallbackEntries synthesizes tradable catalog entries from a static
// instrument list, used when a venue's catalog endpoint is unavailable.
func FallbackEntries(instruments []schema.Instrument) []schema.CatalogEntry {
	entries := make([]schema.CatalogEntry, 0, len(instruments))
	for _, instrument := range instruments {
		if !instrument.Valid() {
			continue
		}
		entries = append(entries, schema.CatalogEntry{
			Instrument: instrument,
			Base:       instrument.Base(),
			Quote:      instrument.Quote(),
			Tradable:   true,
		})
	}
	return entries
}
