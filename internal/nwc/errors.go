package nwc

import (
	"errors"
	"fmt"
)

// Tagged failures of the protocol client. Wallet-reported application
// errors are not represented here; they pass through as *WalletError.
var (
	// ErrMalformedConnection means the connection string is missing a
	// required field or a field failed validation. No network activity
	// has happened when this is returned.
	ErrMalformedConnection = errors.New("MALFORMED_CONNECTION")

	// ErrConnectionRejected means the get_info liveness probe failed or
	// timed out during Connect.
	ErrConnectionRejected = errors.New("CONNECTION_REJECTED")

	// ErrNoResponse means no correlated response arrived within the
	// request timeout. For payment operations the true outcome is
	// unknown: the wallet may have processed the request without
	// acknowledging it.
	ErrNoResponse = errors.New("NO_RESPONSE")

	// ErrNotConnected means the client has no active relay connection.
	ErrNotConnected = errors.New("not connected to wallet")
)

// WalletError is an application error reported by the wallet itself
// (insufficient balance, no route, invalid invoice). It is surfaced
// verbatim to the caller.
type WalletError struct {
	Code    string
	Message string
}

func (e *WalletError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Standard NIP-47 error codes.
const (
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeNotImplemented      = "NOT_IMPLEMENTED"
	ErrCodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	ErrCodeQuotaExceeded       = "QUOTA_EXCEEDED"
	ErrCodeRestricted          = "RESTRICTED"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeInternal            = "INTERNAL"
	ErrCodeOther               = "OTHER"
	ErrCodePaymentFailed       = "PAYMENT_FAILED"
	ErrCodeNotFound            = "NOT_FOUND"
)
