package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesVenueAndCode(t *testing.T) {
	err := New(
		"kraken",
		CodeCatalogUnavailable,
		WithHTTP(502),
		WithMessage("asset pairs endpoint unreachable"),
		WithInstrument("BTC/USDT"),
		WithCause(errors.New("kraken http 502")),
	)

	out := err.Error()
	if !strings.Contains(out, "venue=kraken") {
		t.Fatalf("expected venue marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=catalog_unavailable") {
		t.Fatalf("expected taxonomy code in error string: %s", out)
	}
	if !strings.Contains(out, "instrument=BTC/USDT") {
		t.Fatalf("expected instrument in error string: %s", out)
	}
	if !strings.Contains(out, "http=502") {
		t.Fatalf("expected http status in error string: %s", out)
	}
	if !strings.Contains(out, "cause=\"kraken http 502\"") {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("socket closed")
	err := New("binance", CodeTransientFeed, WithCause(cause))
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to reach the cause")
	}
}

func TestCodeOfUnwrapsNestedEnvelopes(t *testing.T) {
	inner := New("gate", CodeInvalidTick, WithMessage("non-positive price"))
	wrapped := fmt.Errorf("drop frame: %w", inner)

	if got := CodeOf(wrapped); got != CodeInvalidTick {
		t.Fatalf("CodeOf() = %q, want %q", got, CodeInvalidTick)
	}
	if !IsCode(wrapped, CodeInvalidTick) {
		t.Fatal("IsCode() = false, want true")
	}
	if IsCode(errors.New("plain"), CodeInvalidTick) {
		t.Fatal("IsCode() matched an error without an envelope")
	}
}

func TestNilErrorString(t *testing.T) {
	var e *E
	if got := e.Error(); got != "<nil>" {
		t.Fatalf("expected <nil> string for nil error, got %q", got)
	}
}
