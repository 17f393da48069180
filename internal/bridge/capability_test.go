package bridge

import (
	"testing"

	"zapbridge/internal/types"
)

func TestSupportsKeysend(t *testing.T) {
	tests := []struct {
		name    string
		profile types.WalletProfile
		want    bool
	}{
		{
			// Deny-list beats the advertised methods array
			name:    "coinos advertising keysend",
			profile: types.WalletProfile{Alias: "Coinos", Methods: []string{"pay_invoice", "pay_keysend"}},
			want:    false,
		},
		{
			name:    "coinos case insensitive",
			profile: types.WalletProfile{Alias: "COINOS wallet", Methods: []string{"pay_keysend"}},
			want:    false,
		},
		{
			// Allow-list beats a missing methods entry
			name:    "alby without advertised keysend",
			profile: types.WalletProfile{Alias: "Alby", Methods: []string{"pay_invoice"}},
			want:    true,
		},
		{
			name:    "alby hub substring",
			profile: types.WalletProfile{Alias: "My Alby Hub", Methods: nil},
			want:    true,
		},
		{
			name:    "unlisted wallet with keysend method",
			profile: types.WalletProfile{Alias: "Mutiny", Methods: []string{"pay_invoice", "pay_keysend"}},
			want:    true,
		},
		{
			name:    "unlisted wallet without keysend method",
			profile: types.WalletProfile{Alias: "Mutiny", Methods: []string{"pay_invoice"}},
			want:    false,
		},
		{
			name:    "empty profile",
			profile: types.WalletProfile{},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SupportsKeysend(tt.profile); got != tt.want {
				t.Errorf("SupportsKeysend(%+v) = %v, want %v", tt.profile, got, tt.want)
			}
		})
	}
}
