package nwc

import (
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"strings"

	"zapbridge/internal/crypto"
)

// URIScheme is the connection-string scheme for wallet connections.
const URIScheme = "nostr+walletconnect://"

// ConnectionDescriptor holds the parsed wallet connection parameters.
// Immutable once parsed; all derived keys are computed eagerly so a
// descriptor that parses is a descriptor that can encrypt.
type ConnectionDescriptor struct {
	WalletPubKey    []byte // wallet's x-only public key (32 bytes)
	RelayURL        string // relay used for request/response events
	Secret          []byte // client signing key (32 bytes)
	ClientPubKey    []byte // derived from Secret
	ConversationKey []byte // NIP-44 conversation key
	NIP04SharedKey  []byte // NIP-04 shared secret
}

// WalletPubKeyHex returns the wallet identity as hex.
func (d *ConnectionDescriptor) WalletPubKeyHex() string {
	return hex.EncodeToString(d.WalletPubKey)
}

// ClientPubKeyHex returns the derived client identity as hex.
func (d *ConnectionDescriptor) ClientPubKeyHex() string {
	return hex.EncodeToString(d.ClientPubKey)
}

// ParseConnectionURI parses a nostr+walletconnect:// connection string.
// Format: nostr+walletconnect://<wallet-pubkey>?relay=<wss://...>&secret=<hex>
// All of identity, relay and secret are mandatory; any missing or invalid
// field fails with ErrMalformedConnection before any network activity.
func ParseConnectionURI(uri string) (*ConnectionDescriptor, error) {
	if !strings.HasPrefix(uri, URIScheme) {
		return nil, fmt.Errorf("%w: URI must start with %s", ErrMalformedConnection, URIScheme)
	}

	// url.Parse rejects the + in the scheme, so swap it out first
	parseable := strings.Replace(uri, URIScheme, "https://", 1)
	u, err := url.Parse(parseable)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedConnection, err)
	}

	walletPubKeyHex := u.Host
	if len(walletPubKeyHex) != 64 {
		return nil, fmt.Errorf("%w: wallet pubkey must be 64 hex characters", ErrMalformedConnection)
	}
	walletPubKey, err := hex.DecodeString(walletPubKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: wallet pubkey is not valid hex", ErrMalformedConnection)
	}

	relay := u.Query().Get("relay")
	if relay == "" {
		return nil, fmt.Errorf("%w: missing relay parameter", ErrMalformedConnection)
	}
	if !isRelaySafe(relay) {
		return nil, fmt.Errorf("%w: relay URL %q is not allowed", ErrMalformedConnection, relay)
	}

	secretHex := u.Query().Get("secret")
	if secretHex == "" {
		return nil, fmt.Errorf("%w: missing secret parameter", ErrMalformedConnection)
	}
	if len(secretHex) != 64 {
		return nil, fmt.Errorf("%w: secret must be 64 hex characters", ErrMalformedConnection)
	}
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("%w: secret is not valid hex", ErrMalformedConnection)
	}

	clientPubKey, err := crypto.GetPublicKey(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot derive public key: %v", ErrMalformedConnection, err)
	}

	conversationKey, err := crypto.GetConversationKey(secret, walletPubKey)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot compute conversation key: %v", ErrMalformedConnection, err)
	}

	nip04SharedKey, err := crypto.GetNIP04SharedSecret(secret, walletPubKey)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot compute NIP-04 shared key: %v", ErrMalformedConnection, err)
	}

	return &ConnectionDescriptor{
		WalletPubKey:    walletPubKey,
		RelayURL:        relay,
		Secret:          secret,
		ClientPubKey:    clientPubKey,
		ConversationKey: conversationKey,
		NIP04SharedKey:  nip04SharedKey,
	}, nil
}

// isRelaySafe validates that a relay URL uses a websocket scheme and does
// not point at a private network. Loopback is allowed for development.
func isRelaySafe(relayURL string) bool {
	parsed, err := url.Parse(relayURL)
	if err != nil {
		return false
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return false
	}

	host := parsed.Hostname()
	if host == "" {
		return false
	}
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}
	if strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal") {
		return false
	}

	if ip := net.ParseIP(host); ip != nil {
		return isRelayIPSafe(ip)
	}
	// Unresolved hostnames are allowed; DNS happens at dial time
	return true
}

func isRelayIPSafe(ip net.IP) bool {
	if ip.IsLoopback() {
		return true
	}
	if ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return false
	}
	if ip.IsUnspecified() || ip.IsMulticast() {
		return false
	}
	// Cloud metadata endpoint
	if ip.Equal(net.ParseIP("169.254.169.254")) {
		return false
	}
	return true
}
