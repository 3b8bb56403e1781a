package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorStringIncludesParts(t *testing.T) {
	err := New("geniusyield", CodeUnavailable,
		WithHTTP(503),
		WithMessage("create order failed"),
		WithRawMessage("Unknown error, please check your request or try again later."),
		WithCanonicalCode(CanonicalOverloaded))

	text := err.Error()
	for _, want := range []string{"exchange=geniusyield", "code=unavailable", "http=503", "canonical=server_overloaded"} {
		if !strings.Contains(text, want) {
			t.Errorf("Error() = %q, missing %q", text, want)
		}
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := New("geniusyield", CodeNetwork, WithCause(cause))

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to match wrapped cause")
	}
}

func TestAsEUnwrapsNestedEnvelope(t *testing.T) {
	inner := New("geniusyield", CodeNotFound, WithRawCode("-2013"))
	wrapped := fmt.Errorf("refresh status: %w", inner)

	e, ok := AsE(wrapped)
	if !ok {
		t.Fatal("expected envelope to be found")
	}
	if e.RawCode != "-2013" {
		t.Errorf("RawCode = %q, want -2013", e.RawCode)
	}
	if HTTPStatus(wrapped) != 0 {
		t.Errorf("HTTPStatus = %d, want 0", HTTPStatus(wrapped))
	}
}

func TestEmptyCanonicalDefaultsToUnknown(t *testing.T) {
	err := New("geniusyield", CodeExchange, WithCanonicalCode(""))
	if err.Canonical != CanonicalUnknown {
		t.Errorf("Canonical = %q, want %q", err.Canonical, CanonicalUnknown)
	}
}
