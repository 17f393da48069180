package nwc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"zapbridge/internal/crypto"
	"zapbridge/internal/types"
)

const (
	// DefaultRequestTimeout bounds every request/response round trip.
	// Some wallets never respond; hitting this is a normal outcome.
	DefaultRequestTimeout = 15 * time.Second

	// eoseWait bounds the wait for the baseline subscription to settle.
	eoseWait = 5 * time.Second

	// subscribeSettleDelay gives the relay a moment to activate a
	// per-request subscription before the request is published.
	subscribeSettleDelay = 50 * time.Millisecond
)

// Encryption selects the payload encryption scheme for requests.
type Encryption int

const (
	// EncryptionNIP04 is the default; most wallet services still only
	// accept NIP-04 payloads.
	EncryptionNIP04 Encryption = iota
	EncryptionNIP44
)

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the request/response timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithEncryption selects the request encryption scheme.
func WithEncryption(e Encryption) Option {
	return func(c *Client) { c.encryption = e }
}

// Client speaks NIP-47 to one wallet over one relay connection.
// Concurrent calls are safe; each request correlates independently
// through the pending table keyed by request event ID.
type Client struct {
	timeout    time.Duration
	encryption Encryption

	mu        sync.Mutex // guards conn writes, connected, subID
	desc      *ConnectionDescriptor
	conn      *websocket.Conn
	connected bool
	subID     string

	pendingMu sync.Mutex
	pending   map[string]chan *response

	// Event IDs the relay acked with OK=true. Consulted on timeout so a
	// "published but unanswered" request can be told apart from one the
	// relay never took.
	acceptedMu sync.Mutex
	accepted   map[string]bool

	profileMu sync.RWMutex
	profile   *types.WalletProfile

	done         chan struct{}
	eoseReceived chan struct{}
}

// NewClient creates an unconnected client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		timeout:      DefaultRequestTimeout,
		pending:      make(map[string]chan *response),
		accepted:     make(map[string]bool),
		done:         make(chan struct{}),
		eoseReceived: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect parses the connection string, dials the relay, establishes the
// baseline response subscription and probes the wallet with get_info.
// A failed or timed-out probe fails with ErrConnectionRejected and tears
// the connection down again.
func (c *Client) Connect(ctx context.Context, uri string) error {
	desc, err := ParseConnectionURI(uri)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, desc.RelayURL, nil)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: dial %s: %v", ErrConnectionRejected, desc.RelayURL, err)
	}

	c.desc = desc
	c.conn = conn
	c.connected = true
	c.subID = fmt.Sprintf("nwc-%d", time.Now().UnixNano()%1000000)

	// Baseline subscription: wallet-authored responses p-tagged to us.
	// No "since" filter - clock skew between us and the relay would
	// drop responses.
	subReq := []interface{}{"REQ", c.subID, types.Filter{
		Kinds:   []int{ResponseKind},
		Authors: []string{desc.WalletPubKeyHex()},
		PTags:   []string{desc.ClientPubKeyHex()},
	}}
	if err := conn.WriteJSON(subReq); err != nil {
		conn.Close()
		c.connected = false
		c.mu.Unlock()
		return fmt.Errorf("%w: subscribe: %v", ErrConnectionRejected, err)
	}
	c.mu.Unlock()

	slog.Debug("nwc: connected to relay", "relay", desc.RelayURL)

	go c.readLoop()

	select {
	case <-c.eoseReceived:
	case <-time.After(eoseWait):
		slog.Debug("nwc: EOSE timeout, proceeding anyway")
	case <-ctx.Done():
		c.Close()
		return ctx.Err()
	}

	// Liveness probe. Also seeds the cached profile.
	if _, err := c.GetInfo(ctx); err != nil {
		c.Close()
		return fmt.Errorf("%w: get_info probe: %v", ErrConnectionRejected, err)
	}

	return nil
}

// readLoop processes incoming relay messages until the connection dies.
func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()

		// Wake every in-flight call
		c.pendingMu.Lock()
		for _, ch := range c.pending {
			close(ch)
		}
		c.pending = make(map[string]chan *response)
		c.pendingMu.Unlock()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
			var raw json.RawMessage
			if err := c.conn.ReadJSON(&raw); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Debug("nwc: connection closed unexpectedly", "error", err)
				}
				return
			}

			var msg []interface{}
			if err := json.Unmarshal(raw, &msg); err != nil || len(msg) < 2 {
				continue
			}
			msgType, ok := msg[0].(string)
			if !ok {
				continue
			}

			switch msgType {
			case "EVENT":
				if len(msg) >= 3 {
					c.handleEvent(msg[2])
				}
			case "OK":
				if len(msg) >= 3 {
					eventID, _ := msg[1].(string)
					success, _ := msg[2].(bool)
					if success && eventID != "" {
						c.acceptedMu.Lock()
						c.accepted[eventID] = true
						c.acceptedMu.Unlock()
					}
				}
			case "EOSE":
				select {
				case <-c.eoseReceived:
				default:
					close(c.eoseReceived)
				}
			case "NOTICE":
				if len(msg) >= 2 {
					notice, _ := msg[1].(string)
					slog.Debug("nwc: relay notice", "notice", notice)
				}
			case "AUTH":
				if len(msg) >= 2 {
					challenge, _ := msg[1].(string)
					c.handleAuth(challenge)
				}
			}
		}
	}
}

// handleAuth answers a NIP-42 challenge with a signed kind-22242 event.
func (c *Client) handleAuth(challenge string) {
	event := &types.Event{
		PubKey:    c.desc.ClientPubKeyHex(),
		CreatedAt: time.Now().Unix(),
		Kind:      22242,
		Tags: [][]string{
			{"relay", c.desc.RelayURL},
			{"challenge", challenge},
		},
	}
	event.ID = crypto.EventID(event)
	sig, err := crypto.SignEvent(c.desc.Secret, event.ID)
	if err != nil {
		slog.Error("nwc: failed to sign AUTH event", "error", err)
		return
	}
	event.Sig = sig

	if err := c.writeJSON([]interface{}{"AUTH", event}); err != nil {
		slog.Error("nwc: failed to send AUTH response", "error", err)
	}
}

// handleEvent decrypts a wallet response and routes it to the pending call.
func (c *Client) handleEvent(eventData interface{}) {
	eventBytes, err := json.Marshal(eventData)
	if err != nil {
		return
	}
	var event types.Event
	if err := json.Unmarshal(eventBytes, &event); err != nil {
		return
	}

	// Only the wallet identity may answer
	if event.PubKey != c.desc.WalletPubKeyHex() {
		slog.Debug("nwc: ignoring event from unexpected author", "author", shortID(event.PubKey))
		return
	}

	decrypted, err := c.decrypt(event.Content)
	if err != nil {
		slog.Error("nwc: failed to decrypt response", "error", err)
		return
	}

	var resp response
	if err := json.Unmarshal([]byte(decrypted), &resp); err != nil {
		slog.Error("nwc: failed to parse response", "error", err)
		return
	}

	requestEventID := event.TagValue("e")
	if requestEventID == "" {
		slog.Debug("nwc: response missing e tag", "id", shortID(event.ID))
		return
	}

	c.pendingMu.Lock()
	ch, exists := c.pending[requestEventID]
	if exists {
		delete(c.pending, requestEventID)
	}
	c.pendingMu.Unlock()

	if exists {
		ch <- &resp
	} else {
		slog.Debug("nwc: no pending request for response", "request_id", shortID(requestEventID))
	}
}

// decrypt tries the negotiated scheme first, then the other one. Wallets
// occasionally answer NIP-04 requests with NIP-44 payloads once they learn
// the client can handle them.
func (c *Client) decrypt(content string) (string, error) {
	if c.encryption == EncryptionNIP44 {
		plaintext, err := crypto.NIP44Decrypt(content, c.desc.ConversationKey)
		if err == nil {
			return plaintext, nil
		}
		return crypto.NIP04Decrypt(content, c.desc.NIP04SharedKey)
	}
	plaintext, err := crypto.NIP04Decrypt(content, c.desc.NIP04SharedKey)
	if err == nil {
		return plaintext, nil
	}
	return crypto.NIP44Decrypt(content, c.desc.ConversationKey)
}

func (c *Client) encrypt(plaintext string) (string, error) {
	if c.encryption == EncryptionNIP44 {
		return crypto.NIP44Encrypt(plaintext, c.desc.ConversationKey)
	}
	return crypto.NIP04Encrypt(plaintext, c.desc.NIP04SharedKey)
}

// newRequestEvent builds a signed kind-23194 event carrying the encrypted
// payload, p-tagged to the wallet.
func (c *Client) newRequestEvent(encryptedContent string) (*types.Event, error) {
	event := &types.Event{
		PubKey:    c.desc.ClientPubKeyHex(),
		CreatedAt: time.Now().Unix(),
		Kind:      RequestKind,
		Tags:      [][]string{{"p", c.desc.WalletPubKeyHex()}},
		Content:   encryptedContent,
	}
	event.ID = crypto.EventID(event)
	sig, err := crypto.SignEvent(c.desc.Secret, event.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}
	event.Sig = sig
	return event, nil
}

// subscribeForResponse opens a per-request subscription with an #e filter.
// Some relays only deliver NIP-47 responses to subscriptions naming the
// request event explicitly. Returns the subscription ID.
func (c *Client) subscribeForResponse(eventID string) (string, error) {
	subID := fmt.Sprintf("nwc-req-%d", time.Now().UnixNano()%1000000)
	subReq := []interface{}{"REQ", subID, types.Filter{
		Kinds:   []int{ResponseKind},
		Authors: []string{c.desc.WalletPubKeyHex()},
		ETags:   []string{eventID},
	}}
	if err := c.writeJSON(subReq); err != nil {
		return "", fmt.Errorf("failed to subscribe: %w", err)
	}
	return subID, nil
}

func (c *Client) closeSubscription(subID string) {
	c.writeJSON([]interface{}{"CLOSE", subID})
}

func (c *Client) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteJSON(v)
}

// call performs one request/response round trip: encrypt, publish, wait
// for the correlated response, decode the result into out. A missing
// response within the timeout is ErrNoResponse; a wallet-reported error
// comes back as *WalletError.
func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.mu.Unlock()

	requestJSON, err := json.Marshal(request{Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	encrypted, err := c.encrypt(string(requestJSON))
	if err != nil {
		return fmt.Errorf("failed to encrypt request: %w", err)
	}

	event, err := c.newRequestEvent(encrypted)
	if err != nil {
		return err
	}

	respCh := make(chan *response, 1)
	c.pendingMu.Lock()
	c.pending[event.ID] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, event.ID)
		c.pendingMu.Unlock()
	}()

	subID, err := c.subscribeForResponse(event.ID)
	if err != nil {
		return err
	}
	defer c.closeSubscription(subID)

	// Let the relay activate the subscription before the request lands
	time.Sleep(subscribeSettleDelay)

	if err := c.writeJSON([]interface{}{"EVENT", event}); err != nil {
		return fmt.Errorf("failed to publish request: %w", err)
	}

	slog.Debug("nwc: published request", "method", method, "event_id", shortID(event.ID))

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		c.acceptedMu.Lock()
		wasAccepted := c.accepted[event.ID]
		c.acceptedMu.Unlock()
		if wasAccepted {
			// The relay took the event but the wallet never answered.
			// Known behavior of some wallets on successful payments.
			slog.Warn("nwc: request accepted by relay but never answered",
				"method", method, "event_id", shortID(event.ID))
		}
		return fmt.Errorf("%w: %s", ErrNoResponse, method)
	case resp, ok := <-respCh:
		if !ok {
			return ErrNotConnected
		}
		if resp.Error != nil {
			return &WalletError{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		if resp.ResultType != method {
			return fmt.Errorf("unexpected result type %q for %s", resp.ResultType, method)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("failed to parse %s result: %w", method, err)
		}
		return nil
	}
}

// IsConnected reports whether the client has an active relay connection.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Descriptor returns the parsed connection descriptor, nil before Connect.
func (c *Client) Descriptor() *ConnectionDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.desc
}

// Close shuts down the connection. Idempotent; pending calls observe a
// closed channel and fail with ErrNotConnected.
func (c *Client) Close() {
	select {
	case <-c.done:
		return
	default:
		close(c.done)
	}

	c.mu.Lock()
	if c.conn != nil {
		if c.subID != "" {
			c.conn.WriteJSON([]interface{}{"CLOSE", c.subID})
		}
		c.conn.Close()
	}
	c.connected = false
	c.mu.Unlock()
}

func shortID(id string) string {
	if len(id) > 16 {
		return id[:16]
	}
	return id
}
