package nwc

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

const (
	testWalletPubKey = "b889ff5b1513b641e2a139f661a661364979c5beee91842f8f0ef42ab558e9d4"
	testSecret       = "71a8c14c1407c113601079c4302dab36460f0ccd0ad506f1f2dc73b5100e4f3c"
)

func validURI() string {
	return URIScheme + testWalletPubKey + "?relay=wss://relay.getalby.com/v1&secret=" + testSecret
}

func TestParseConnectionURI(t *testing.T) {
	desc, err := ParseConnectionURI(validURI())
	if err != nil {
		t.Fatalf("ParseConnectionURI failed: %v", err)
	}

	if desc.WalletPubKeyHex() != testWalletPubKey {
		t.Errorf("wallet pubkey = %s, want %s", desc.WalletPubKeyHex(), testWalletPubKey)
	}
	if desc.RelayURL != "wss://relay.getalby.com/v1" {
		t.Errorf("relay = %s", desc.RelayURL)
	}
	if len(desc.Secret) != 32 {
		t.Errorf("secret length = %d, want 32", len(desc.Secret))
	}
	if len(desc.ClientPubKey) != 32 {
		t.Errorf("client pubkey length = %d, want 32", len(desc.ClientPubKey))
	}
	if len(desc.ConversationKey) != 32 {
		t.Errorf("conversation key length = %d, want 32", len(desc.ConversationKey))
	}
	if len(desc.NIP04SharedKey) != 32 {
		t.Errorf("NIP-04 shared key length = %d, want 32", len(desc.NIP04SharedKey))
	}
}

func TestParseConnectionURIDeterministic(t *testing.T) {
	a, err := ParseConnectionURI(validURI())
	if err != nil {
		t.Fatal(err)
	}
	b, err := ParseConnectionURI(validURI())
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(a.ClientPubKey, b.ClientPubKey) {
		t.Error("derived client pubkeys differ between parses")
	}
	if !bytes.Equal(a.ConversationKey, b.ConversationKey) {
		t.Error("conversation keys differ between parses")
	}
	if !bytes.Equal(a.NIP04SharedKey, b.NIP04SharedKey) {
		t.Error("NIP-04 shared keys differ between parses")
	}
}

func TestParseConnectionURIMalformed(t *testing.T) {
	tests := []struct {
		name string
		uri  string
	}{
		{"wrong scheme", "nostr://" + testWalletPubKey + "?relay=wss://r.example.com&secret=" + testSecret},
		{"missing identity", URIScheme + "?relay=wss://r.example.com&secret=" + testSecret},
		{"short identity", URIScheme + "abcd?relay=wss://r.example.com&secret=" + testSecret},
		{"identity not hex", URIScheme + strings.Repeat("z", 64) + "?relay=wss://r.example.com&secret=" + testSecret},
		{"missing relay", URIScheme + testWalletPubKey + "?secret=" + testSecret},
		{"http relay", URIScheme + testWalletPubKey + "?relay=https://r.example.com&secret=" + testSecret},
		{"missing secret", URIScheme + testWalletPubKey + "?relay=wss://r.example.com"},
		{"short secret", URIScheme + testWalletPubKey + "?relay=wss://r.example.com&secret=abcd"},
		{"secret not hex", URIScheme + testWalletPubKey + "?relay=wss://r.example.com&secret=" + strings.Repeat("z", 64)},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConnectionURI(tt.uri)
			if !errors.Is(err, ErrMalformedConnection) {
				t.Errorf("ParseConnectionURI(%q) = %v, want ErrMalformedConnection", tt.uri, err)
			}
		})
	}
}

func TestConnectMalformedNoNetwork(t *testing.T) {
	// A malformed URI must fail before any dialing happens. The relay
	// host here does not exist; reaching it would hang or error
	// differently.
	client := NewClient()
	err := client.Connect(context.Background(), URIScheme+"?relay=wss://does-not-exist.invalid&secret="+testSecret)
	if !errors.Is(err, ErrMalformedConnection) {
		t.Fatalf("Connect = %v, want ErrMalformedConnection", err)
	}
}

func TestIsRelaySafe(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"wss://relay.damus.io", true},
		{"ws://localhost:8080", true},
		{"ws://127.0.0.1:7447", true},
		{"wss://10.0.0.5", false},
		{"wss://192.168.1.1", false},
		{"wss://169.254.169.254", false},
		{"wss://internal.corp.internal", false},
		{"https://relay.damus.io", false},
		{"wss://", false},
	}
	for _, tt := range tests {
		if got := isRelaySafe(tt.url); got != tt.want {
			t.Errorf("isRelaySafe(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
