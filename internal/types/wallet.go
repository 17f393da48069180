package types

// WalletProfile is the wallet's self-description from get_info.
// Cached for the lifetime of a connection.
type WalletProfile struct {
	Alias   string   `json:"alias"`
	Methods []string `json:"methods"`
}

// HasMethod reports whether the wallet advertises the given NIP-47 method.
func (p WalletProfile) HasMethod(method string) bool {
	for _, m := range p.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// TLVRecord is an opaque custom record attached to a keysend payment.
// Value is hex-encoded; the bridge forwards records verbatim and never
// inspects their contents.
type TLVRecord struct {
	Type  uint64 `json:"type"`
	Value string `json:"value"`
}

// Transaction represents a single entry from list_transactions.
// All amounts are millisatoshis.
type Transaction struct {
	Type            string `json:"type"` // "incoming" or "outgoing"
	Invoice         string `json:"invoice,omitempty"`
	Description     string `json:"description,omitempty"`
	DescriptionHash string `json:"description_hash,omitempty"`
	Preimage        string `json:"preimage,omitempty"`
	PaymentHash     string `json:"payment_hash,omitempty"`
	Amount          int64  `json:"amount"`
	FeesPaid        int64  `json:"fees_paid,omitempty"`
	CreatedAt       int64  `json:"created_at"`
	SettledAt       int64  `json:"settled_at,omitempty"`
}

// TransactionFilter narrows a list_transactions query.
// Zero values mean "no constraint".
type TransactionFilter struct {
	From  int64
	Until int64
	Limit int
}
