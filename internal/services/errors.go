package services

import "fmt"

// ValidationError rejects bad input before any gateway call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PaymentRejectedError carries the gateway's description when the
// synchronous submission was refused. A failed transaction record has
// already been persisted for audit by the time this is returned.
type PaymentRejectedError struct {
	Code        string
	Description string
}

func (e *PaymentRejectedError) Error() string {
	return fmt.Sprintf("payment rejected by gateway (code %s): %s", e.Code, e.Description)
}
