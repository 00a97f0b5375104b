package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ligun0805/bundle-recovery/internal/bundlecore"
	"github.com/ligun0805/bundle-recovery/internal/flashbots"
	"github.com/ligun0805/bundle-recovery/internal/monitor"
	"github.com/ligun0805/bundle-recovery/internal/recovery"
)

func printAssets(w io.Writer, assets []bundlecore.AssetDescriptor) {
	if len(assets) == 0 {
		fmt.Fprintln(w, "no assets")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTYPE\tCONTRACT\tTOKEN ID\tAMOUNT\tNAME")
	for i, a := range assets {
		id, amt := "-", "-"
		if a.TokenID != nil {
			id = a.TokenID.String()
		}
		if a.Amount != nil {
			amt = a.Amount.String()
		}
		name := a.DisplayInfo
		if a.Symbol != "" {
			name += " (" + a.Symbol + ")"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", i+1, a.Type, a.Contract.Hex(), id, amt, name)
	}
	_ = tw.Flush()
}

func printOutcome(w io.Writer, out monitor.Outcome) {
	switch out.Kind {
	case monitor.Included:
		status := "success"
		if !out.Success {
			status = "reverted"
		}
		fmt.Fprintf(w, "included in block %d (%s) after %d polls\n", out.BlockNumber, status, out.Ticks)
	default:
		fmt.Fprintf(w, "%s after %d polls, last head %d\n", out.Kind, out.Ticks, out.LastHead)
	}
}

func printResult(w io.Writer, r recovery.Result, n flashbots.Network) {
	fmt.Fprintln(w, "=== RESULT ===")
	fmt.Fprintln(w, "State      :", r.State)
	fmt.Fprintln(w, "Bundle id  :", r.BundleID)
	if r.FundingHash != (common.Hash{}) {
		fmt.Fprintln(w, "Funding tx :", r.FundingHash.Hex())
	}
	for i, h := range r.TransferHashes {
		fmt.Fprintf(w, "Transfer %d :  %s\n", i+1, h.Hex())
	}
	if r.Window.TargetBlock != 0 {
		fmt.Fprintf(w, "Window     : [%d,%d]\n", r.Window.TargetBlock, r.Window.MaxBlock)
	}
	if r.Simulation != nil && r.Simulation.Success {
		fmt.Fprintf(w, "Simulation : ok, gasUsed=%d at block %d\n", r.Simulation.GasUsed, r.Simulation.StateBlock)
	}
	if r.BundleHash != "" {
		fmt.Fprintln(w, "Relay hash :", r.BundleHash)
	}
	if r.BlockNumber != 0 {
		fmt.Fprintf(w, "Included   : block %d  %s/block/%d\n", r.BlockNumber, n.ExplorerURL, r.BlockNumber)
	}
	if r.Partial {
		fmt.Fprintln(w, "Partial    : a transfer reverted")
	}
	fmt.Fprintln(w, "==============")
}
