package nwc

import (
	"context"

	"zapbridge/internal/types"
)

// Typed wrappers over the request/response cycle. Amount conventions
// follow the wire protocol: everything is millisatoshis except the
// PayKeysend entry point, which takes satoshis and up-converts. That
// asymmetry mirrors the two call sites' native units; collapsing it is a
// reliable way to introduce 1000x amount bugs.

// GetInfo fetches the wallet's self-description and caches it for the
// connection's lifetime.
func (c *Client) GetInfo(ctx context.Context) (*types.WalletProfile, error) {
	var result GetInfoResult
	if err := c.call(ctx, MethodGetInfo, struct{}{}, &result); err != nil {
		return nil, err
	}

	profile := &types.WalletProfile{Alias: result.Alias, Methods: result.Methods}
	c.profileMu.Lock()
	c.profile = profile
	c.profileMu.Unlock()
	return profile, nil
}

// Profile returns the cached wallet profile from the last successful
// GetInfo, or false if none has been fetched yet.
func (c *Client) Profile() (types.WalletProfile, bool) {
	c.profileMu.RLock()
	defer c.profileMu.RUnlock()
	if c.profile == nil {
		return types.WalletProfile{}, false
	}
	return *c.profile, true
}

// GetBalance returns the wallet balance in millisatoshis.
func (c *Client) GetBalance(ctx context.Context) (*GetBalanceResult, error) {
	var result GetBalanceResult
	if err := c.call(ctx, MethodGetBalance, struct{}{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// MakeInvoice asks the wallet to create a BOLT11 invoice.
// amountMsat is millisatoshis.
func (c *Client) MakeInvoice(ctx context.Context, amountMsat int64, description string) (*MakeInvoiceResult, error) {
	var result MakeInvoiceResult
	err := c.call(ctx, MethodMakeInvoice, makeInvoiceParams{
		Amount:      amountMsat,
		Description: description,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// PayInvoice pays a BOLT11 invoice.
func (c *Client) PayInvoice(ctx context.Context, invoice string) (*PayInvoiceResult, error) {
	var result PayInvoiceResult
	err := c.call(ctx, MethodPayInvoice, payInvoiceParams{Invoice: invoice}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// PayKeysend sends a spontaneous payment of amountSats satoshis to the
// destination, attaching the given TLV records unchanged.
func (c *Client) PayKeysend(ctx context.Context, destPubkey string, amountSats int64, tlvRecords []types.TLVRecord) (*PayKeysendResult, error) {
	var result PayKeysendResult
	err := c.call(ctx, MethodPayKeysend, payKeysendParams{
		Pubkey:     destPubkey,
		Amount:     amountSats * 1000,
		TLVRecords: tlvRecords,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// LookupInvoice queries the state of an invoice by its BOLT11 string,
// payment hash, or both.
func (c *Client) LookupInvoice(ctx context.Context, invoice, paymentHash string) (*LookupInvoiceResult, error) {
	var result LookupInvoiceResult
	err := c.call(ctx, MethodLookupInvoice, lookupInvoiceParams{
		Invoice:     invoice,
		PaymentHash: paymentHash,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ListTransactions retrieves recent transactions matching the filter.
func (c *Client) ListTransactions(ctx context.Context, filter types.TransactionFilter) (*ListTransactionsResult, error) {
	var result ListTransactionsResult
	err := c.call(ctx, MethodListTransactions, listTransactionsParams{
		From:  filter.From,
		Until: filter.Until,
		Limit: filter.Limit,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}
