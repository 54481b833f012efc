// Package errs provides structured error types and helpers for spreadwatch services.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies a failure category in the detector's error taxonomy.
type Code string

const (
	// CodeTransientFeed indicates a recoverable stream failure: socket close,
	// read error, or an unparseable frame. The adapter reconnects; the frame
	// is dropped.
	CodeTransientFeed Code = "transient_feed"
	// CodeCatalogUnavailable indicates a venue catalog endpoint failure.
	CodeCatalogUnavailable Code = "catalog_unavailable"
	// CodeInvalidTick indicates a non-finite or non-positive price, or a
	// missing instrument mapping, rejected at the adapter boundary.
	CodeInvalidTick Code = "invalid_tick"
	// CodeStaleData indicates a price store key excluded from a scan because
	// its latest tick is too old.
	CodeStaleData Code = "stale_data"
	// CodeSinkBackpressure indicates a transient alert enqueue failure.
	CodeSinkBackpressure Code = "sink_backpressure"
	// CodeConfig indicates a nonsensical configuration rejected at startup.
	CodeConfig Code = "config"
	// CodeNetwork indicates a network transport failure.
	CodeNetwork Code = "network"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeConflict indicates a concurrent mutation conflict.
	CodeConflict Code = "conflict"
)

// E captures structured error information produced across the detector.
type E struct {
	Venue      string
	Code       Code
	Instrument string
	HTTP       int
	Message    string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the venue and error code.
func New(venue string, code Code, opts ...Option) *E {
	e := &E{
		Venue:      strings.TrimSpace(venue),
		Code:       code,
		Instrument: "",
		HTTP:       0,
		Message:    "",
		cause:      nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithInstrument records the instrument the failure relates to.
func WithInstrument(instrument string) Option {
	trimmed := strings.TrimSpace(instrument)
	return func(e *E) {
		e.Instrument = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	venue := strings.TrimSpace(e.Venue)
	if venue == "" {
		venue = "unknown"
	}
	parts = append(parts, "venue="+venue)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Instrument != "" {
		parts = append(parts, "instrument="+e.Instrument)
	}
	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the taxonomy code from err, unwrapping as needed. It
// returns the empty code when err carries no envelope.
func CodeOf(err error) Code {
	var envelope *E
	if errors.As(err, &envelope) && envelope != nil {
		return envelope.Code
	}
	return ""
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// MessageOf returns the envelope message of err, falling back to err.Error()
// for plain errors. Messages are stable across occurrences, which makes them
// usable as deduplication keys.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var envelope *E
	if errors.As(err, &envelope) && envelope != nil && envelope.Message != "" {
		return envelope.Message
	}
	return err.Error()
}
