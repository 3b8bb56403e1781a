package schema

import "testing"

func TestCombinePairNormalizes(t *testing.T) {
	pair := CombinePair(" ada ", "gens")
	if pair != "ADA-GENS" {
		t.Errorf("CombinePair = %q, want ADA-GENS", pair)
	}
	if pair.Base() != "ADA" || pair.Quote() != "GENS" {
		t.Errorf("split = %q/%q, want ADA/GENS", pair.Base(), pair.Quote())
	}
	if CombinePair("", "GENS") != "" {
		t.Error("expected empty pair for missing base")
	}
}

func TestOrderStateForwardTransitions(t *testing.T) {
	allowed := []struct{ from, to OrderState }{
		{StatePendingCreate, StateOpen},
		{StatePendingCreate, StateFailed},
		{StateOpen, StatePartiallyFilled},
		{StateOpen, StateFilled},
		{StateOpen, StatePendingCancel},
		{StatePartiallyFilled, StateFilled},
		{StatePendingCancel, StateCanceled},
		{StatePendingCancel, StateFilled},
	}
	for _, tc := range allowed {
		if !tc.from.CanTransitionTo(tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to OrderState }{
		{StatePendingCancel, StateOpen},
		{StatePartiallyFilled, StateOpen},
		{StateOpen, StateOpen},
		{StateFilled, StateCanceled},
		{StateCanceled, StateOpen},
		{StateFailed, StatePendingCreate},
	}
	for _, tc := range denied {
		if tc.from.CanTransitionTo(tc.to) {
			t.Errorf("expected %s -> %s to be denied", tc.from, tc.to)
		}
	}
}

func TestHasExchangeOrderID(t *testing.T) {
	order := TrackedOrder{ExchangeOrderID: UnknownExchangeOrderID}
	if order.HasExchangeOrderID() {
		t.Error("sentinel id must not count as a concrete exchange id")
	}
	order.ExchangeOrderID = "tx-123"
	if !order.HasExchangeOrderID() {
		t.Error("expected concrete id to be recognized")
	}
}
