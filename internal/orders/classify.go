package orders

import "strings"

// Exchange error fragments used to classify REST failures. The venue does not
// return machine-readable codes for these conditions, so classification works
// on the textual payload echoed back in the error envelope.
const (
	overloadedStatusFragment  = "status is 503"
	overloadedMessageFragment = "Unknown error, please check your request or try again later."

	clockSkewCodeFragment    = "-1021"
	clockSkewMessageFragment = "Timestamp for this request"

	statusNotFoundCodeFragment    = "-2013"
	statusNotFoundMessageFragment = "Order does not exist"

	cancelNotFoundCodeFragment    = "-2011"
	cancelNotFoundMessageFragment = "Unknown order sent"
)

// IsServerOverloaded reports whether a placement failure is the venue's
// overload rejection. The request may still have been executed, so the caller
// must treat the placement as ambiguous rather than failed.
func IsServerOverloaded(err error) bool {
	return containsAll(err, overloadedStatusFragment, overloadedMessageFragment)
}

// IsClockSkew reports whether the venue rejected a request because the local
// timestamp drifted outside its accepted window.
func IsClockSkew(err error) bool {
	return containsAll(err, clockSkewCodeFragment, clockSkewMessageFragment)
}

// IsOrderNotFoundOnStatus reports whether a status lookup failed because the
// venue no longer knows the order. This usually means the order already
// reached a terminal state before we asked.
func IsOrderNotFoundOnStatus(err error) bool {
	return containsAll(err, statusNotFoundCodeFragment, statusNotFoundMessageFragment)
}

// IsOrderNotFoundOnCancel reports whether a cancellation failed because the
// venue no longer knows the order.
func IsOrderNotFoundOnCancel(err error) bool {
	return containsAll(err, cancelNotFoundCodeFragment, cancelNotFoundMessageFragment)
}

func containsAll(err error, fragments ...string) bool {
	if err == nil {
		return false
	}
	text := err.Error()
	for _, fragment := range fragments {
		if !strings.Contains(text, fragment) {
			return false
		}
	}
	return true
}
