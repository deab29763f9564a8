package wsproto

import "fmt"

// Stable error codes surfaced to producers and subscribers. Mobile clients
// retry the transient ones with backoff and give up on the terminal ones.
const (
	CodeAuthFailed       = "auth_failed"
	CodeUnauthorized     = "unauthorized"
	CodeIdentityMismatch = "identity_mismatch"
	CodeRateLimited      = "rate_limited"
	CodePersistFailed    = "persist_failed"
	CodeSlowConsumer     = "slow_consumer"
	CodeTimeout          = "timeout"
	CodeShutdown         = "shutdown"
	CodeInternal         = "internal"
)

// CodeInvalidField builds the parameterised invalid_field:<name> code.
func CodeInvalidField(field string) string {
	return "invalid_field:" + field
}

// ProtocolError is an error with a wire code attached. It travels up from
// validation and persistence so the connection handler can answer the peer
// with the right reason.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewError(code, message string) *ProtocolError {
	return &ProtocolError{Code: code, Message: message}
}

func Errorf(code, format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Transient reports whether a client should retry after this code.
func Transient(code string) bool {
	switch code {
	case CodePersistFailed, CodeRateLimited, CodeTimeout:
		return true
	}
	return false
}
