package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrBridgeUnavailable means the payment needs the relay route but no
	// bridge wallet is configured or reachable after one retry.
	ErrBridgeUnavailable = errors.New("BRIDGE_UNAVAILABLE")

	// ErrBridgeRouteUnsupported means the user wallet can neither keysend
	// nor pay invoices, so it cannot participate in the relay at all.
	ErrBridgeRouteUnsupported = errors.New("BRIDGE_ROUTE_UNSUPPORTED")

	// ErrNotInitialized means PayKeysend was called before Initialize.
	ErrNotInitialized = errors.New("orchestrator not initialized")
)

// ForwardFailedError is the one genuinely partial failure: the user's
// funds reached the bridge wallet, but the final keysend to the true
// destination failed. Callers must see both facts.
type ForwardFailedError struct {
	Invoice string // the bridge invoice that was paid
	Err     error  // the underlying forward failure
}

func (e *ForwardFailedError) Error() string {
	return fmt.Sprintf("payment to bridge succeeded but keysend forward failed: %v", e.Err)
}

func (e *ForwardFailedError) Unwrap() error {
	return e.Err
}
