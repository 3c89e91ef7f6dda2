package services

import (
	"errors"
	"fmt"
	"strings"

	"mpesa-payment-service/internal/models"
	"mpesa-payment-service/internal/store"
)

// Lookup strategy indices, reported so callers (and tests) can see which
// query matched. Fresh writes always use the canonical column; strategies
// past the first only bridge legacy data.
const (
	StrategyCanonical = 1
	StrategyLegacy    = 2
	StrategyCasing    = 3
)

type correlationQueries interface {
	FindByCheckoutRequestID(checkoutRequestId string) (*models.Transaction, error)
	FindByLegacyResponseID(checkoutRequestId string) (*models.Transaction, error)
}

// CorrelationLookup matches a callback's CheckoutRequestID to a stored
// transaction via an ordered fallback chain of indexed point queries,
// first match wins.
type CorrelationLookup struct {
	queries correlationQueries
}

func NewCorrelationLookup(queries correlationQueries) *CorrelationLookup {
	return &CorrelationLookup{queries: queries}
}

// Find returns the matching transaction and the strategy index that found
// it, or store.ErrNotFound after exhausting all strategies.
func (l *CorrelationLookup) Find(checkoutRequestId string) (*models.Transaction, int, error) {
	// Strategy 1: canonical column, exact.
	t, err := l.queries.FindByCheckoutRequestID(checkoutRequestId)
	if err == nil {
		return t, StrategyCanonical, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, 0, err
	}

	// Strategy 2: legacy nested path inside the raw gateway response.
	t, err = l.queries.FindByLegacyResponseID(checkoutRequestId)
	if err == nil {
		return t, StrategyLegacy, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, 0, err
	}

	// Strategy 3: casing variants of the input id.
	for _, variant := range []string{strings.ToLower(checkoutRequestId), strings.ToUpper(checkoutRequestId)} {
		if variant == checkoutRequestId {
			continue
		}
		t, err = l.queries.FindByCheckoutRequestID(variant)
		if err == nil {
			return t, StrategyCasing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, 0, err
		}
	}

	return nil, 0, store.ErrNotFound
}

// SearchNotes describes the exhausted chain for orphaned-callback records.
func SearchNotes(checkoutRequestId string) string {
	return fmt.Sprintf(
		"no match for %q: canonical column, legacy gateway_response path, and casing variants all exhausted",
		checkoutRequestId,
	)
}
