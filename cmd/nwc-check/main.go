// nwc-check probes a wallet connection string: parses it, prints the
// derived identities and a pairing QR code, then connects and runs
// get_info and get_balance against the wallet.
//
// Usage: nwc-check [connection-string]
// Falls back to NWC_URI when no argument is given.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/skip2/go-qrcode"

	"zapbridge/internal/bridge"
	"zapbridge/internal/nwc"
)

func main() {
	uri := os.Getenv("NWC_URI")
	if len(os.Args) > 1 {
		uri = os.Args[1]
	}
	if uri == "" {
		fmt.Fprintln(os.Stderr, "usage: nwc-check <connection-string> (or set NWC_URI)")
		os.Exit(2)
	}

	desc, err := nwc.ParseConnectionURI(uri)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid connection string: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("relay:         %s\n", desc.RelayURL)
	fmt.Printf("wallet pubkey: %s\n", desc.WalletPubKeyHex())
	fmt.Printf("client pubkey: %s\n", desc.ClientPubKeyHex())
	fmt.Println()

	qr, err := qrcode.New(uri, qrcode.Medium)
	if err == nil {
		fmt.Println("pairing QR:")
		fmt.Println(qr.ToSmallString(false))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := nwc.NewClient()
	if err := client.Connect(ctx, uri); err != nil {
		fmt.Fprintf(os.Stderr, "connect failed: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	profile, ok := client.Profile()
	if !ok {
		fmt.Fprintln(os.Stderr, "connected but no profile cached")
		os.Exit(1)
	}
	fmt.Printf("wallet alias:    %s\n", profile.Alias)
	fmt.Printf("methods:         %v\n", profile.Methods)
	fmt.Printf("direct keysend:  %v\n", bridge.SupportsKeysend(profile))

	balance, err := client.GetBalance(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "get_balance failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("balance:         %d msat\n", balance.Balance)
}
