package daraja

import "fmt"

// AuthError means the OAuth token exchange failed, either because the
// credentials were rejected or the call itself did not go through.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("daraja auth failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("daraja auth failed: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RejectedError means the gateway answered the submission synchronously
// with a non-zero response code. The request reached the gateway; it just
// said no.
type RejectedError struct {
	Code        string
	Description string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("daraja rejected request (code %s): %s", e.Code, e.Description)
}

// UnreachableError covers transport failures and timeouts. The true outcome
// of the request is unknown until a callback arrives.
type UnreachableError struct {
	Err error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("daraja unreachable: %v", e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }
