package bridge

import (
	"strings"

	"zapbridge/internal/types"
)

// Wallet capability classification. The methods array wallets return from
// get_info is an unreliable oracle: some services advertise pay_keysend
// and then fail every attempt, others support it without listing it. The
// name lists below encode observed behavior and override self-reporting.

// keysendDenyList: wallets that advertise keysend but do not honor it.
// Case-insensitive substring match against the wallet alias.
var keysendDenyList = []string{
	"coinos",
}

// keysendAllowList: wallets known to keysend reliably whatever their
// methods array says.
var keysendAllowList = []string{
	"alby",
}

// SupportsKeysend decides whether a wallet can be trusted to perform
// direct keysend payments. Priority order: deny-list, allow-list, then
// the advertised methods array, then a safe false.
func SupportsKeysend(profile types.WalletProfile) bool {
	alias := strings.ToLower(profile.Alias)

	for _, name := range keysendDenyList {
		if alias != "" && strings.Contains(alias, name) {
			return false
		}
	}
	for _, name := range keysendAllowList {
		if alias != "" && strings.Contains(alias, name) {
			return true
		}
	}
	return profile.HasMethod("pay_keysend")
}
