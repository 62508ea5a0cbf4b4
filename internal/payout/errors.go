package payout

import "fmt"

// ValidationError reports bad or missing input. It is local and never
// retried; the caller must fix the input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("payout: invalid input: %s: %s", e.Field, e.Message)
	}
	return "payout: invalid input: " + e.Message
}

func missingParam(name string) *ValidationError {
	return &ValidationError{Field: name, Message: "missing required parameter"}
}

// AuthError reports a credential or token failure against the authorize
// endpoint. Callers may retry once after re-authenticating.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return "payout: authentication failed: " + e.Err.Error()
	}
	return "payout: authentication failed: " + e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError reports a network level failure (DNS, TLS, timeout). The
// host may retry with backoff.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("payout: %s: transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError carries a structured error returned by the processor. The message
// is surfaced verbatim to operator-visible logs; end users get a generic one.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payout: api error (status %d): %s", e.StatusCode, e.Message)
}

// SignatureError reports an integrity failure on a response or webhook. It is
// always fatal to the operation and never retried; it may indicate a
// compromised channel and is logged at high severity by callers.
type SignatureError struct {
	Op string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("payout: %s: invalid signature in API response", e.Op)
}
