package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"zapbridge/internal/types"
)

// EventID computes the NIP-01 event ID: sha256 of the canonical
// [0, pubkey, created_at, kind, tags, content] serialization.
func EventID(event *types.Event) string {
	serialized := fmt.Sprintf(`[0,"%s",%d,%d,%s,"%s"]`,
		event.PubKey,
		event.CreatedAt,
		event.Kind,
		mustJSON(event.Tags),
		escapeJSON(event.Content),
	)
	hash := sha256.Sum256([]byte(serialized))
	return hex.EncodeToString(hash[:])
}

// SignEvent produces a BIP-340 Schnorr signature over the event ID.
func SignEvent(privKeyBytes []byte, eventID string) (string, error) {
	privKey, _ := btcec.PrivKeyFromBytes(privKeyBytes)
	if privKey == nil {
		return "", errors.New("invalid private key")
	}

	eventIDBytes, err := hex.DecodeString(eventID)
	if err != nil {
		return "", fmt.Errorf("invalid event ID hex: %w", err)
	}

	sig, err := schnorr.Sign(privKey, eventIDBytes)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// VerifyEvent checks an event's ID and Schnorr signature.
func VerifyEvent(event *types.Event) bool {
	if EventID(event) != event.ID {
		return false
	}

	pubKeyBytes, err := hex.DecodeString(event.PubKey)
	if err != nil || len(pubKeyBytes) != 32 {
		return false
	}
	pubKey, err := schnorr.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false
	}

	sigBytes, err := hex.DecodeString(event.Sig)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}

	idBytes, err := hex.DecodeString(event.ID)
	if err != nil {
		return false
	}
	return sig.Verify(idBytes, pubKey)
}

func mustJSON(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// escapeJSON returns s escaped for embedding inside a JSON string literal,
// without the surrounding quotes.
func escapeJSON(s string) string {
	b, err := json.Marshal(s)
	if err != nil || len(b) < 2 {
		return s
	}
	return string(b[1 : len(b)-1])
}
