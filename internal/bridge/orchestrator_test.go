package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"zapbridge/internal/nwc"
	"zapbridge/internal/types"
)

// fakeWallet is an in-memory WalletClient recording every call.
type fakeWallet struct {
	mu sync.Mutex

	profile    types.WalletProfile
	connectErr error
	connected  bool

	payInvoiceErr error
	keysendErr    error
	preimage      string

	connectCount     int
	makeInvoiceCount int
	payInvoiceCount  int
	keysendCount     int

	lastInvoiceAmountMsat int64
	lastInvoiceDesc       string
	lastPaidInvoice       string
	lastKeysendDest       string
	lastKeysendSats       int64
	lastKeysendTLV        []types.TLVRecord
}

func (f *fakeWallet) Connect(ctx context.Context, uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCount++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeWallet) GetInfo(ctx context.Context) (*types.WalletProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.profile
	return &p, nil
}

func (f *fakeWallet) Profile() (types.WalletProfile, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profile, f.connected
}

func (f *fakeWallet) GetBalance(ctx context.Context) (*nwc.GetBalanceResult, error) {
	return &nwc.GetBalanceResult{Balance: 100000}, nil
}

func (f *fakeWallet) MakeInvoice(ctx context.Context, amountMsat int64, description string) (*nwc.MakeInvoiceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.makeInvoiceCount++
	f.lastInvoiceAmountMsat = amountMsat
	f.lastInvoiceDesc = description
	return &nwc.MakeInvoiceResult{
		Invoice:     fmt.Sprintf("lnbc-fake-%d", amountMsat),
		PaymentHash: "deadbeef",
	}, nil
}

func (f *fakeWallet) PayInvoice(ctx context.Context, invoice string) (*nwc.PayInvoiceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payInvoiceCount++
	f.lastPaidInvoice = invoice
	if f.payInvoiceErr != nil {
		return nil, f.payInvoiceErr
	}
	return &nwc.PayInvoiceResult{Preimage: "userpreimage"}, nil
}

func (f *fakeWallet) PayKeysend(ctx context.Context, destPubkey string, amountSats int64, tlvRecords []types.TLVRecord) (*nwc.PayKeysendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keysendCount++
	f.lastKeysendDest = destPubkey
	f.lastKeysendSats = amountSats
	f.lastKeysendTLV = tlvRecords
	if f.keysendErr != nil {
		return nil, f.keysendErr
	}
	preimage := f.preimage
	if preimage == "" {
		preimage = "fakepreimage"
	}
	return &nwc.PayKeysendResult{Preimage: preimage}, nil
}

func (f *fakeWallet) LookupInvoice(ctx context.Context, invoice, paymentHash string) (*nwc.LookupInvoiceResult, error) {
	return &nwc.LookupInvoiceResult{Settled: true, Paid: true}, nil
}

func (f *fakeWallet) ListTransactions(ctx context.Context, filter types.TransactionFilter) (*nwc.ListTransactionsResult, error) {
	return &nwc.ListTransactionsResult{}, nil
}

func (f *fakeWallet) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeWallet) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

const testDest = "03a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90"

// coinosProfile is a wallet that advertises keysend but is deny-listed.
func coinosProfile() types.WalletProfile {
	return types.WalletProfile{Alias: "Coinos", Methods: []string{"pay_invoice", "pay_keysend"}}
}

func albyProfile() types.WalletProfile {
	return types.WalletProfile{Alias: "Alby", Methods: []string{"pay_invoice", "pay_keysend"}}
}

// newTestOrchestrator wires fakes: clients come from the queue in order
// (user first, then bridge).
func newTestOrchestrator(t *testing.T, clients []*fakeWallet, bridgeURI string) *Orchestrator {
	t.Helper()
	var next atomic.Int32
	return New(Options{
		NewClient: func() WalletClient {
			// Reconnect attempts construct fresh clients; keep handing
			// out the last fake so tests can observe retry counts
			i := int(next.Add(1)) - 1
			if i >= len(clients) {
				i = len(clients) - 1
			}
			return clients[i]
		},
		BridgeLookup: func() (string, bool) {
			return bridgeURI, bridgeURI != ""
		},
		ProfileTimeout: 200 * time.Millisecond,
		ConnectTimeout: 200 * time.Millisecond,
		GraceDelay:     10 * time.Millisecond,
	})
}

func TestPayKeysendDirect(t *testing.T) {
	user := &fakeWallet{profile: albyProfile()}
	orch := newTestOrchestrator(t, []*fakeWallet{user}, "")

	if err := orch.Initialize(context.Background(), "nostr+walletconnect://user"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	result, err := orch.PayKeysend(context.Background(), testDest, 21, nil)
	if err != nil {
		t.Fatalf("PayKeysend: %v", err)
	}
	if result.Preimage != "fakepreimage" {
		t.Errorf("preimage = %s", result.Preimage)
	}
	if user.keysendCount != 1 {
		t.Errorf("user keysend count = %d, want 1", user.keysendCount)
	}
	if user.makeInvoiceCount != 0 || user.payInvoiceCount != 0 {
		t.Error("direct path touched invoice machinery")
	}
}

func TestPayKeysendRelayHappyPath(t *testing.T) {
	user := &fakeWallet{profile: coinosProfile()}
	bridgeWallet := &fakeWallet{profile: albyProfile(), preimage: "bridgepreimage"}
	orch := newTestOrchestrator(t, []*fakeWallet{user, bridgeWallet}, "nostr+walletconnect://bridge")

	if err := orch.Initialize(context.Background(), "nostr+walletconnect://user"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	tlv := []types.TLVRecord{{Type: 7629169, Value: "7b7d"}}
	result, err := orch.PayKeysend(context.Background(), testDest, 21, tlv)
	if err != nil {
		t.Fatalf("PayKeysend: %v", err)
	}

	// Exactly one invoice on the bridge, for 21000 msat
	if bridgeWallet.makeInvoiceCount != 1 {
		t.Errorf("bridge make_invoice count = %d, want 1", bridgeWallet.makeInvoiceCount)
	}
	if bridgeWallet.lastInvoiceAmountMsat != 21000 {
		t.Errorf("invoice amount = %d msat, want 21000", bridgeWallet.lastInvoiceAmountMsat)
	}

	// Exactly one pay_invoice on the user wallet, for that invoice
	if user.payInvoiceCount != 1 {
		t.Errorf("user pay_invoice count = %d, want 1", user.payInvoiceCount)
	}
	if user.lastPaidInvoice != "lnbc-fake-21000" {
		t.Errorf("paid invoice = %s", user.lastPaidInvoice)
	}

	// Exactly one keysend on the bridge to the true destination with the
	// TLV records untouched
	if bridgeWallet.keysendCount != 1 {
		t.Errorf("bridge keysend count = %d, want 1", bridgeWallet.keysendCount)
	}
	if bridgeWallet.lastKeysendDest != testDest {
		t.Errorf("keysend destination = %s", bridgeWallet.lastKeysendDest)
	}
	if bridgeWallet.lastKeysendSats != 21 {
		t.Errorf("keysend amount = %d sats, want 21", bridgeWallet.lastKeysendSats)
	}
	if len(bridgeWallet.lastKeysendTLV) != 1 || bridgeWallet.lastKeysendTLV[0] != tlv[0] {
		t.Errorf("TLV records were not forwarded verbatim: %+v", bridgeWallet.lastKeysendTLV)
	}

	// The user wallet never keysends, and the caller gets the bridge's proof
	if user.keysendCount != 0 {
		t.Error("user wallet performed a keysend on the relay path")
	}
	if result.Preimage != "bridgepreimage" {
		t.Errorf("preimage = %s, want bridgepreimage", result.Preimage)
	}
}

func TestPayKeysendRelayPresumedSuccess(t *testing.T) {
	user := &fakeWallet{
		profile:       coinosProfile(),
		payInvoiceErr: fmt.Errorf("%w: pay_invoice", nwc.ErrNoResponse),
	}
	bridgeWallet := &fakeWallet{profile: albyProfile()}
	orch := newTestOrchestrator(t, []*fakeWallet{user, bridgeWallet}, "nostr+walletconnect://bridge")

	if err := orch.Initialize(context.Background(), "nostr+walletconnect://user"); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	result, err := orch.PayKeysend(context.Background(), testDest, 5, nil)
	if err != nil {
		t.Fatalf("PayKeysend after NO_RESPONSE = %v, want presumed success", err)
	}
	if result.Preimage == "" {
		t.Error("missing preimage")
	}
	if bridgeWallet.keysendCount != 1 {
		t.Errorf("forward count = %d, want 1", bridgeWallet.keysendCount)
	}
	// The grace delay must actually elapse before forwarding
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("relay proceeded after %v, before the grace delay", elapsed)
	}
}

func TestPayKeysendRelayConcreteFailureAborts(t *testing.T) {
	walletErr := &nwc.WalletError{Code: nwc.ErrCodeInsufficientBalance, Message: "not enough funds"}
	user := &fakeWallet{profile: coinosProfile(), payInvoiceErr: walletErr}
	bridgeWallet := &fakeWallet{profile: albyProfile()}
	orch := newTestOrchestrator(t, []*fakeWallet{user, bridgeWallet}, "nostr+walletconnect://bridge")

	if err := orch.Initialize(context.Background(), "nostr+walletconnect://user"); err != nil {
		t.Fatal(err)
	}

	_, err := orch.PayKeysend(context.Background(), testDest, 5, nil)
	var we *nwc.WalletError
	if !errors.As(err, &we) {
		t.Fatalf("error = %v, want the wallet error verbatim", err)
	}
	if bridgeWallet.keysendCount != 0 {
		t.Error("forward attempted after a concrete pay_invoice failure")
	}
}

func TestPayKeysendForwardFailure(t *testing.T) {
	user := &fakeWallet{profile: coinosProfile()}
	bridgeWallet := &fakeWallet{profile: albyProfile(), keysendErr: errors.New("no route to destination")}
	orch := newTestOrchestrator(t, []*fakeWallet{user, bridgeWallet}, "nostr+walletconnect://bridge")

	if err := orch.Initialize(context.Background(), "nostr+walletconnect://user"); err != nil {
		t.Fatal(err)
	}

	_, err := orch.PayKeysend(context.Background(), testDest, 5, nil)
	var forwardErr *ForwardFailedError
	if !errors.As(err, &forwardErr) {
		t.Fatalf("error = %v, want ForwardFailedError", err)
	}
	if !strings.Contains(err.Error(), "payment to bridge succeeded") {
		t.Errorf("error text does not surface the partial failure: %v", err)
	}
	if !strings.Contains(err.Error(), "no route to destination") {
		t.Errorf("error text does not include the underlying failure: %v", err)
	}
	if user.payInvoiceCount != 1 {
		t.Errorf("pay_invoice count = %d, want 1", user.payInvoiceCount)
	}
}

func TestPayKeysendNoBridgeConfigured(t *testing.T) {
	user := &fakeWallet{profile: coinosProfile()}
	orch := newTestOrchestrator(t, []*fakeWallet{user}, "")

	if err := orch.Initialize(context.Background(), "nostr+walletconnect://user"); err != nil {
		t.Fatal(err)
	}

	_, err := orch.PayKeysend(context.Background(), testDest, 5, nil)
	if !errors.Is(err, ErrBridgeUnavailable) {
		t.Fatalf("error = %v, want ErrBridgeUnavailable", err)
	}
	if user.payInvoiceCount != 0 || user.keysendCount != 0 {
		t.Error("payment side effects occurred without a bridge")
	}
}

func TestPayKeysendRouteUnsupported(t *testing.T) {
	// A wallet that can neither keysend nor pay invoices
	user := &fakeWallet{profile: types.WalletProfile{Alias: "ReadOnly", Methods: []string{"get_balance"}}}
	bridgeWallet := &fakeWallet{profile: albyProfile()}
	orch := newTestOrchestrator(t, []*fakeWallet{user, bridgeWallet}, "nostr+walletconnect://bridge")

	if err := orch.Initialize(context.Background(), "nostr+walletconnect://user"); err != nil {
		t.Fatal(err)
	}

	_, err := orch.PayKeysend(context.Background(), testDest, 5, nil)
	if !errors.Is(err, ErrBridgeRouteUnsupported) {
		t.Fatalf("error = %v, want ErrBridgeRouteUnsupported", err)
	}
	if bridgeWallet.makeInvoiceCount != 0 {
		t.Error("invoice created for an unroutable wallet")
	}
}

func TestInitializeCoalesces(t *testing.T) {
	user := &fakeWallet{profile: albyProfile()}
	var constructed atomic.Int32
	orch := New(Options{
		NewClient: func() WalletClient {
			constructed.Add(1)
			time.Sleep(20 * time.Millisecond) // widen the race window
			return user
		},
		BridgeLookup:   func() (string, bool) { return "", false },
		ProfileTimeout: 200 * time.Millisecond,
		ConnectTimeout: 200 * time.Millisecond,
		GraceDelay:     10 * time.Millisecond,
	})

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = orch.Initialize(context.Background(), "nostr+walletconnect://user")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: %v", i, err)
		}
	}
	if got := constructed.Load(); got != 1 {
		t.Errorf("constructed %d clients, want 1", got)
	}
	if orch.State() != StateReady {
		t.Errorf("state = %v, want StateReady", orch.State())
	}

	// A later Initialize is a no-op
	if err := orch.Initialize(context.Background(), "nostr+walletconnect://user"); err != nil {
		t.Errorf("repeat Initialize: %v", err)
	}
	if got := constructed.Load(); got != 1 {
		t.Errorf("repeat Initialize constructed a client (total %d)", got)
	}
}

func TestInitializeSurvivesUserConnectFailure(t *testing.T) {
	user := &fakeWallet{profile: albyProfile(), connectErr: errors.New("relay unreachable")}
	orch := newTestOrchestrator(t, []*fakeWallet{user}, "")

	if err := orch.Initialize(context.Background(), "nostr+walletconnect://user"); err != nil {
		t.Fatalf("Initialize should degrade, not fail: %v", err)
	}

	caps := orch.Capabilities()
	if !caps.ProfileAssumed {
		t.Error("profile should be flagged as assumed")
	}
	// The fallback profile does not trust keysend
	if caps.SupportsKeysend {
		t.Error("assumed profile must not claim keysend support")
	}
}

func TestBridgeLazyReconnect(t *testing.T) {
	user := &fakeWallet{profile: coinosProfile()}
	bridgeWallet := &fakeWallet{profile: albyProfile(), connectErr: errors.New("bridge relay down")}
	orch := newTestOrchestrator(t, []*fakeWallet{user, bridgeWallet}, "nostr+walletconnect://bridge")

	if err := orch.Initialize(context.Background(), "nostr+walletconnect://user"); err != nil {
		t.Fatalf("Initialize should tolerate bridge failure: %v", err)
	}
	if orch.Capabilities().HasBridge {
		t.Fatal("bridge reported connected after a failed connect")
	}

	// Bridge comes back; the next payment retries once and succeeds
	bridgeWallet.mu.Lock()
	bridgeWallet.connectErr = nil
	bridgeWallet.mu.Unlock()

	result, err := orch.PayKeysend(context.Background(), testDest, 7, nil)
	if err != nil {
		t.Fatalf("PayKeysend after bridge recovery: %v", err)
	}
	if result.Preimage == "" {
		t.Error("missing preimage")
	}
	if bridgeWallet.connectCount < 2 {
		t.Errorf("connect count = %d, want a retry", bridgeWallet.connectCount)
	}
	if got := bridgeWallet.lastInvoiceAmountMsat; got != 7000 {
		t.Errorf("invoice amount = %d msat, want 7000", got)
	}
}

func TestPayKeysendBeforeInitialize(t *testing.T) {
	orch := New(Options{})
	if _, err := orch.PayKeysend(context.Background(), testDest, 1, nil); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("error = %v, want ErrNotInitialized", err)
	}
}
