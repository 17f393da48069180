package nwc

import (
	"encoding/json"

	"zapbridge/internal/types"
)

// NIP-47 event kinds
const (
	RequestKind  = 23194 // client request to wallet
	ResponseKind = 23195 // wallet response to client
)

// NIP-47 method names
const (
	MethodGetInfo          = "get_info"
	MethodGetBalance       = "get_balance"
	MethodMakeInvoice      = "make_invoice"
	MethodPayInvoice       = "pay_invoice"
	MethodPayKeysend       = "pay_keysend"
	MethodLookupInvoice    = "lookup_invoice"
	MethodListTransactions = "list_transactions"
)

// request is the plaintext of a kind-23194 event.
type request struct {
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

// response is the plaintext of a kind-23195 event.
type response struct {
	ResultType string          `json:"result_type"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *responseError  `json:"error,omitempty"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type payInvoiceParams struct {
	Invoice string `json:"invoice"`
}

type makeInvoiceParams struct {
	Amount      int64  `json:"amount"` // millisatoshis
	Description string `json:"description,omitempty"`
}

type payKeysendParams struct {
	Pubkey     string            `json:"pubkey"`
	Amount     int64             `json:"amount"` // millisatoshis
	TLVRecords []types.TLVRecord `json:"tlv_records,omitempty"`
}

type lookupInvoiceParams struct {
	Invoice     string `json:"invoice,omitempty"`
	PaymentHash string `json:"payment_hash,omitempty"`
}

type listTransactionsParams struct {
	From  int64 `json:"from,omitempty"`
	Until int64 `json:"until,omitempty"`
	Limit int   `json:"limit,omitempty"`
}

// GetInfoResult is the result of get_info.
type GetInfoResult struct {
	Alias   string   `json:"alias"`
	Methods []string `json:"methods"`
}

// GetBalanceResult is the result of get_balance. Balance is millisatoshis.
type GetBalanceResult struct {
	Balance int64 `json:"balance"`
}

// MakeInvoiceResult is the result of make_invoice.
type MakeInvoiceResult struct {
	Invoice     string `json:"invoice"`
	PaymentHash string `json:"payment_hash"`
}

// PayInvoiceResult is the result of pay_invoice.
type PayInvoiceResult struct {
	Preimage string `json:"preimage"`
}

// PayKeysendResult is the result of pay_keysend.
type PayKeysendResult struct {
	Preimage string `json:"preimage"`
}

// LookupInvoiceResult is the result of lookup_invoice.
type LookupInvoiceResult struct {
	Settled bool `json:"settled"`
	Paid    bool `json:"paid"`
}

// ListTransactionsResult is the result of list_transactions.
type ListTransactionsResult struct {
	Transactions []types.Transaction `json:"transactions"`
}
