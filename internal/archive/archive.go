// Package archive persists closed opportunities to Postgres. It hangs off the
// alert pipeline as a passive consumer: the detector core stays in-memory and
// never blocks on the database.
package archive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/spreadwatch/internal/schema"
)

const (
	closedInsertSQL = `
INSERT INTO closed_opportunities (
    opportunity_id,
    instrument,
    venue_a,
    venue_b,
    open_time,
    open_price_a,
    open_price_b,
    open_spread_pct,
    open_profit,
    open_direction,
    close_time,
    close_price_a,
    close_price_b,
    close_spread_pct,
    peak_spread_pct,
    peak_profit,
    peak_time,
    duration_ns,
    close_reason,
    alerts_sent
)
VALUES (
    @opportunity_id,
    @instrument,
    @venue_a,
    @venue_b,
    @open_time,
    @open_price_a,
    @open_price_b,
    @open_spread_pct,
    @open_profit,
    @open_direction,
    @close_time,
    @close_price_a,
    @close_price_b,
    @close_spread_pct,
    @peak_spread_pct,
    @peak_profit,
    @peak_time,
    @duration_ns,
    @close_reason,
    @alerts_sent
)
ON CONFLICT (opportunity_id, close_time) DO NOTHING;
`

	closedSelectBase = `
SELECT
    opportunity_id,
    instrument,
    venue_a,
    venue_b,
    open_time,
    open_price_a,
    open_price_b,
    open_spread_pct,
    open_profit,
    open_direction,
    close_time,
    close_price_a,
    close_price_b,
    close_spread_pct,
    peak_spread_pct,
    peak_profit,
    peak_time,
    duration_ns,
    close_reason,
    alerts_sent
FROM closed_opportunities
`

	defaultListLimit = 100
	maxListLimit     = 1000
)

// Store persists close records behind a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to the database at dsn and verifies connectivity.
func Open(ctx context.Context, dsn string) (*Store, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("archive: dsn required")
	}
	pool, err := pgxpool.New(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("archive: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool. Safe on a nil store.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) ensurePool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("archive: nil pool")
	}
	return s.pool, nil
}

// SaveClosed inserts one close record. Replays of the same close (identical
// opportunity id and close time) are ignored.
func (s *Store) SaveClosed(ctx context.Context, record schema.ClosedOpportunity) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("archive: opportunity id required")
	}
	args := pgx.NamedArgs{
		"opportunity_id":   record.ID,
		"instrument":       string(record.Instrument),
		"venue_a":          string(record.VenueA),
		"venue_b":          string(record.VenueB),
		"open_time":        record.OpenTime,
		"open_price_a":     record.OpenPriceA,
		"open_price_b":     record.OpenPriceB,
		"open_spread_pct":  record.OpenSpreadPct,
		"open_profit":      record.OpenProfit,
		"open_direction":   string(record.OpenDirection),
		"close_time":       record.CloseTime,
		"close_price_a":    record.ClosePriceA,
		"close_price_b":    record.ClosePriceB,
		"close_spread_pct": record.CloseSpreadPct,
		"peak_spread_pct":  record.PeakSpreadPct,
		"peak_profit":      record.PeakProfit,
		"peak_time":        record.PeakTime,
		"duration_ns":      int64(record.Duration),
		"close_reason":     string(record.CloseReason),
		"alerts_sent":      record.AlertsSent,
	}
	if _, err := pool.Exec(ctx, closedInsertSQL, args); err != nil {
		return fmt.Errorf("archive: insert closed opportunity: %w", err)
	}
	return nil
}

// ListRecent retrieves the most recently closed opportunities, newest first.
// A non-positive limit falls back to the default page size.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]schema.ClosedOpportunity, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	query := closedSelectBase + " ORDER BY close_time DESC, id DESC LIMIT $1"
	rows, err := pool.Query(ctx, query, clampLimit(limit, defaultListLimit, maxListLimit))
	if err != nil {
		return nil, fmt.Errorf("archive: list closed opportunities: %w", err)
	}
	defer rows.Close()

	var records []schema.ClosedOpportunity
	for rows.Next() {
		var (
			id             string
			instrument     string
			venueA         string
			venueB         string
			openTime       time.Time
			openPriceA     float64
			openPriceB     float64
			openSpreadPct  float64
			openProfit     float64
			openDirection  string
			closeTime      time.Time
			closePriceA    float64
			closePriceB    float64
			closeSpreadPct float64
			peakSpreadPct  float64
			peakProfit     float64
			peakTime       time.Time
			durationNS     int64
			closeReason    string
			alertsSent     int
		)
		if err := rows.Scan(
			&id,
			&instrument,
			&venueA,
			&venueB,
			&openTime,
			&openPriceA,
			&openPriceB,
			&openSpreadPct,
			&openProfit,
			&openDirection,
			&closeTime,
			&closePriceA,
			&closePriceB,
			&closeSpreadPct,
			&peakSpreadPct,
			&peakProfit,
			&peakTime,
			&durationNS,
			&closeReason,
			&alertsSent,
		); err != nil {
			return nil, fmt.Errorf("archive: scan closed opportunity: %w", err)
		}
		records = append(records, schema.ClosedOpportunity{
			ID:             id,
			Instrument:     schema.Instrument(instrument),
			VenueA:         schema.Venue(venueA),
			VenueB:         schema.Venue(venueB),
			OpenTime:       openTime,
			OpenPriceA:     openPriceA,
			OpenPriceB:     openPriceB,
			OpenSpreadPct:  openSpreadPct,
			OpenProfit:     openProfit,
			OpenDirection:  schema.Direction(openDirection),
			CloseTime:      closeTime,
			ClosePriceA:    closePriceA,
			ClosePriceB:    closePriceB,
			CloseSpreadPct: closeSpreadPct,
			PeakSpreadPct:  peakSpreadPct,
			PeakProfit:     peakProfit,
			PeakTime:       peakTime,
			Duration:       time.Duration(durationNS),
			CloseReason:    schema.CloseReason(closeReason),
			AlertsSent:     alertsSent,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: iterate closed opportunities: %w", err)
	}

	return records, nil
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
