package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ligun0805/bundle-recovery/internal/bundlecore"
	"github.com/ligun0805/bundle-recovery/internal/config"
	"github.com/ligun0805/bundle-recovery/internal/flashbots"
)

func printConfig(w io.Writer, st config.Settings, n flashbots.Network, secure, hacked common.Address, authAddr string) {
	fmt.Fprintln(w, "=== CONFIG (.env) ===")
	fmt.Fprintln(w, "RPC_URL           :", st.RPCURL)
	fmt.Fprintln(w, "NETWORK           :", n.Name, "(chain", fmt.Sprint(n.ChainID)+")")
	fmt.Fprintln(w, "RELAY_URL         :", n.RelayURL)
	fmt.Fprintln(w, "BUNDLE_RPC_URL    :", n.BundleRPC)
	fmt.Fprintln(w, "FLASHBOTS_AUTH_PK :", maskHex(st.FlashbotsAuthPKHex), "->", authAddr)
	fmt.Fprintln(w, "BUILDERS          :", strings.Join(st.Builders, ","))
	fmt.Fprintln(w, "Window (blocks)   :", st.WindowBlocks)
	fmt.Fprintln(w, "Poll interval     :", st.PollInterval)
	fmt.Fprintln(w, "Priority bump     :", st.PriorityBumpGwei, "gwei")
	fmt.Fprintln(w, "Funding buffer    :", bundlecore.FormatETH(st.FundingBufferWei), n.Currency)
	fmt.Fprintln(w, "  -> Secure       :", secure.Hex())
	fmt.Fprintln(w, "  -> Compromised  :", hacked.Hex())
	fmt.Fprintln(w, "=====================")
}
