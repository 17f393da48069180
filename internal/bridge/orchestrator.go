package bridge

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"zapbridge/internal/nwc"
	"zapbridge/internal/types"
)

// WalletClient is the slice of the protocol client the orchestrator
// drives. *nwc.Client satisfies it; tests substitute fakes.
type WalletClient interface {
	Connect(ctx context.Context, uri string) error
	GetInfo(ctx context.Context) (*types.WalletProfile, error)
	Profile() (types.WalletProfile, bool)
	GetBalance(ctx context.Context) (*nwc.GetBalanceResult, error)
	MakeInvoice(ctx context.Context, amountMsat int64, description string) (*nwc.MakeInvoiceResult, error)
	PayInvoice(ctx context.Context, invoice string) (*nwc.PayInvoiceResult, error)
	PayKeysend(ctx context.Context, destPubkey string, amountSats int64, tlvRecords []types.TLVRecord) (*nwc.PayKeysendResult, error)
	LookupInvoice(ctx context.Context, invoice, paymentHash string) (*nwc.LookupInvoiceResult, error)
	ListTransactions(ctx context.Context, filter types.TransactionFilter) (*nwc.ListTransactionsResult, error)
	IsConnected() bool
	Close()
}

// State is the orchestrator lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
)

// BridgeState is the independent sub-state of the bridge wallet connection.
type BridgeState int

const (
	BridgeNotAttempted BridgeState = iota
	BridgeConnected
	BridgeFailedPendingRetry
)

const (
	defaultProfileTimeout = 5 * time.Second
	defaultConnectTimeout = 10 * time.Second
	defaultGraceDelay     = 2 * time.Second
)

// ProfileResult tags a wallet profile with how it was obtained, so a
// capability decision made from the fallback can be told apart from one
// made from the wallet's real answer.
type ProfileResult struct {
	Profile types.WalletProfile
	Assumed bool
}

// defaultProfile is substituted when the user wallet cannot be reached or
// does not answer get_info in time. pay_invoice is assumed because every
// wallet in practice supports it, and without it no route exists anyway.
func defaultProfile() types.WalletProfile {
	return types.WalletProfile{Methods: []string{nwc.MethodPayInvoice}}
}

// Capabilities is the diagnostic snapshot returned by Capabilities().
type Capabilities struct {
	SupportsKeysend bool     `json:"supports_keysend"`
	HasBridge       bool     `json:"has_bridge"`
	WalletName      string   `json:"wallet_name"`
	Methods         []string `json:"methods"`
	ProfileAssumed  bool     `json:"profile_assumed"`
}

// Options configures an Orchestrator. Zero values pick defaults.
type Options struct {
	// NewClient constructs a protocol client. Defaults to nwc.NewClient.
	NewClient func() WalletClient

	// BridgeLookup reports whether a bridge wallet is configured and its
	// connection string. The orchestrator never reads configuration
	// directly. Defaults to "not configured".
	BridgeLookup func() (connection string, configured bool)

	ProfileTimeout time.Duration // opportunistic get_info bound
	ConnectTimeout time.Duration // bridge connect/reconnect bound
	GraceDelay     time.Duration // wait after a presumed-success pay_invoice
}

// Orchestrator composes the user wallet and an optional bridge wallet.
// When the user wallet cannot keysend, payments are relayed: the bridge
// issues an invoice, the user wallet pays it, the bridge keysends to the
// true destination with the caller's TLV records intact.
//
// One orchestrator per process. Initialize is self-coalescing; concurrent
// PayKeysend calls are independent and safe.
type Orchestrator struct {
	opts Options

	mu           sync.Mutex
	state        State
	bridgeState  BridgeState
	user         WalletClient
	bridgeWallet WalletClient
	userProfile  ProfileResult
	pendingURI   string // bridge connection string awaiting retry

	initGroup      singleflight.Group
	reconnectGroup singleflight.Group
}

// New creates an orchestrator in StateUninitialized.
func New(opts Options) *Orchestrator {
	if opts.NewClient == nil {
		opts.NewClient = func() WalletClient { return nwc.NewClient() }
	}
	if opts.BridgeLookup == nil {
		opts.BridgeLookup = func() (string, bool) { return "", false }
	}
	if opts.ProfileTimeout == 0 {
		opts.ProfileTimeout = defaultProfileTimeout
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.GraceDelay == 0 {
		opts.GraceDelay = defaultGraceDelay
	}
	return &Orchestrator{opts: opts}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Initialize connects the user wallet, classifies its capability and, if
// needed, attempts the bridge connection. Idempotent and coalescing:
// concurrent callers share one initialization sequence, and a READY
// orchestrator returns immediately. Initialization succeeds even when the
// user wallet is unreachable or the bridge connect fails; degraded pieces
// are remembered and retried lazily.
func (o *Orchestrator) Initialize(ctx context.Context, userConnection string) error {
	o.mu.Lock()
	if o.state == StateReady {
		o.mu.Unlock()
		return nil
	}
	o.state = StateInitializing
	o.mu.Unlock()

	_, err, _ := o.initGroup.Do("initialize", func() (interface{}, error) {
		// A caller that lost the fast-path race lands here after the
		// winning sequence completed; don't run it twice
		o.mu.Lock()
		ready := o.state == StateReady && o.user != nil
		o.mu.Unlock()
		if ready {
			return nil, nil
		}
		return nil, o.initialize(ctx, userConnection)
	})
	return err
}

func (o *Orchestrator) initialize(ctx context.Context, userConnection string) error {
	user := o.opts.NewClient()

	// Best-effort connect. Some wallets' relays flap; a failure here must
	// not sink initialization, so the fallback profile takes over.
	profile := ProfileResult{Profile: defaultProfile(), Assumed: true}
	if err := user.Connect(ctx, userConnection); err != nil {
		slog.Warn("bridge: user wallet connect failed, assuming default profile", "error", err)
	} else if cached, ok := user.Profile(); ok {
		profile = ProfileResult{Profile: cached}
	} else {
		// Opportunistic fetch with a short cap; degrade on timeout
		infoCtx, cancel := context.WithTimeout(ctx, o.opts.ProfileTimeout)
		fetched, err := user.GetInfo(infoCtx)
		cancel()
		if err != nil {
			slog.Warn("bridge: get_info failed, assuming default profile", "error", err)
		} else {
			profile = ProfileResult{Profile: *fetched}
		}
	}

	slog.Info("bridge: user wallet classified",
		"wallet", profile.Profile.Alias,
		"assumed", profile.Assumed,
		"supports_keysend", SupportsKeysend(profile.Profile))

	o.mu.Lock()
	o.user = user
	o.userProfile = profile
	o.mu.Unlock()

	// No bridge needed when the user wallet keysends natively
	if !SupportsKeysend(profile.Profile) {
		if uri, configured := o.opts.BridgeLookup(); configured {
			if err := o.connectBridge(ctx, uri); err != nil {
				// Remembered for a lazy retry on the first payment
				slog.Warn("bridge: bridge wallet connect failed, will retry on demand", "error", err)
				o.mu.Lock()
				o.pendingURI = uri
				o.bridgeState = BridgeFailedPendingRetry
				o.mu.Unlock()
			}
		} else {
			slog.Info("bridge: no bridge wallet configured")
		}
	}

	o.mu.Lock()
	o.state = StateReady
	o.mu.Unlock()
	return nil
}

// connectBridge dials the bridge wallet with a bounded timeout and, on
// success, installs it as the connected bridge.
func (o *Orchestrator) connectBridge(ctx context.Context, uri string) error {
	connectCtx, cancel := context.WithTimeout(ctx, o.opts.ConnectTimeout)
	defer cancel()

	client := o.opts.NewClient()
	if err := client.Connect(connectCtx, uri); err != nil {
		client.Close()
		return err
	}

	o.mu.Lock()
	if o.bridgeWallet != nil {
		o.bridgeWallet.Close()
	}
	o.bridgeWallet = client
	o.bridgeState = BridgeConnected
	o.pendingURI = ""
	o.mu.Unlock()

	slog.Info("bridge: bridge wallet connected")
	return nil
}

// Reconnect retries a pending bridge connection. First-class so callers
// control retry policy; the orchestrator never polls in the background.
// Coalesces concurrent attempts.
func (o *Orchestrator) Reconnect(ctx context.Context) error {
	o.mu.Lock()
	if o.bridgeWallet != nil && o.bridgeWallet.IsConnected() {
		o.mu.Unlock()
		return nil
	}
	uri := o.pendingURI
	o.mu.Unlock()

	if uri == "" {
		var configured bool
		uri, configured = o.opts.BridgeLookup()
		if !configured {
			return ErrBridgeUnavailable
		}
	}

	_, err, _ := o.reconnectGroup.Do("reconnect", func() (interface{}, error) {
		return nil, o.connectBridge(ctx, uri)
	})
	if err != nil {
		o.mu.Lock()
		o.pendingURI = uri
		o.bridgeState = BridgeFailedPendingRetry
		o.mu.Unlock()
	}
	return err
}

// PayKeysend pays destPubkey amountSats satoshis, attaching tlvRecords.
// Direct when the user wallet keysends natively; otherwise relayed
// through the bridge wallet. TLV records are forwarded verbatim on the
// final hop in either case.
func (o *Orchestrator) PayKeysend(ctx context.Context, destPubkey string, amountSats int64, tlvRecords []types.TLVRecord) (*nwc.PayKeysendResult, error) {
	o.mu.Lock()
	if o.state != StateReady {
		o.mu.Unlock()
		return nil, ErrNotInitialized
	}
	user := o.user
	bridgeWallet := o.bridgeWallet
	bridgeState := o.bridgeState
	profile := o.userProfile
	o.mu.Unlock()

	if SupportsKeysend(profile.Profile) {
		return user.PayKeysend(ctx, destPubkey, amountSats, tlvRecords)
	}

	// One bounded reconnect attempt when the bridge is pending retry
	if bridgeWallet == nil || !bridgeWallet.IsConnected() {
		if bridgeState != BridgeFailedPendingRetry {
			return nil, ErrBridgeUnavailable
		}
		if err := o.Reconnect(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBridgeUnavailable, err)
		}
		o.mu.Lock()
		bridgeWallet = o.bridgeWallet
		o.mu.Unlock()
	}

	// A wallet that can neither keysend nor pay invoices has no route
	if !profile.Profile.HasMethod(nwc.MethodPayInvoice) {
		return nil, ErrBridgeRouteUnsupported
	}

	return o.relayKeysend(ctx, user, bridgeWallet, destPubkey, amountSats, tlvRecords)
}

// relayKeysend executes the two-hop choreography. The invoice payment is
// strictly ordered before the forward; the two legs must never run in
// parallel.
func (o *Orchestrator) relayKeysend(ctx context.Context, user, bridgeWallet WalletClient, destPubkey string, amountSats int64, tlvRecords []types.TLVRecord) (*nwc.PayKeysendResult, error) {
	description := relayDescription(destPubkey, tlvRecords)

	invoice, err := bridgeWallet.MakeInvoice(ctx, amountSats*1000, description)
	if err != nil {
		return nil, fmt.Errorf("bridge invoice creation failed: %w", err)
	}

	slog.Debug("bridge: relay invoice created", "amount_msat", amountSats*1000)

	if _, err := user.PayInvoice(ctx, invoice.Invoice); err != nil {
		if !errors.Is(err, nwc.ErrNoResponse) {
			// Any concrete failure aborts the relay before funds move twice
			return nil, err
		}
		// Known wallet behavior: the payment often goes through without
		// an acknowledgement. Presume success after a grace delay and
		// leave a warning in the logs for every occurrence.
		slog.Warn("bridge: pay_invoice unacknowledged, presuming success after grace delay",
			"grace", o.opts.GraceDelay)
		select {
		case <-time.After(o.opts.GraceDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	result, err := bridgeWallet.PayKeysend(ctx, destPubkey, amountSats, tlvRecords)
	if err != nil {
		// Funds left the user but never reached the destination. This
		// must stay visible; never collapse it into a generic failure.
		return nil, &ForwardFailedError{Invoice: invoice.Invoice, Err: err}
	}
	return result, nil
}

// Capabilities returns the diagnostic snapshot of cached state.
func (o *Orchestrator) Capabilities() Capabilities {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Capabilities{
		SupportsKeysend: SupportsKeysend(o.userProfile.Profile),
		HasBridge:       o.bridgeWallet != nil && o.bridgeWallet.IsConnected(),
		WalletName:      o.userProfile.Profile.Alias,
		Methods:         o.userProfile.Profile.Methods,
		ProfileAssumed:  o.userProfile.Assumed,
	}
}

// UserWallet exposes the user wallet client for read operations (balance,
// transaction listings). Nil before initialization.
func (o *Orchestrator) UserWallet() WalletClient {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.user
}

// Close shuts down both wallet connections.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.user != nil {
		o.user.Close()
	}
	if o.bridgeWallet != nil {
		o.bridgeWallet.Close()
	}
	o.state = StateUninitialized
	o.bridgeState = BridgeNotAttempted
}

// relayDescription derives the bridge invoice description from the
// payment's metadata. A boost-style JSON record (TLV type 7629169) is
// used when present, truncated; otherwise a generic label naming the
// destination.
func relayDescription(destPubkey string, tlvRecords []types.TLVRecord) string {
	const boostTLVType = 7629169
	for _, record := range tlvRecords {
		if record.Type == boostTLVType {
			if decoded, err := hex.DecodeString(record.Value); err == nil && len(decoded) > 0 {
				s := string(decoded)
				if len(s) > 128 {
					s = s[:128]
				}
				return s
			}
		}
	}
	dest := destPubkey
	if len(dest) > 16 {
		dest = dest[:16]
	}
	return "keysend relay to " + dest
}
