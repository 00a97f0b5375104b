package main

import (
	"context"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ligun0805/bundle-recovery/internal/bundlecore"
	"github.com/ligun0805/bundle-recovery/internal/config"
)

// printNetworkState shows current fees and the worst-case funding the recovery will need.
// Transfer gas uses the fallback limits since estimates are resolved at funding time.
func printNetworkState(ctx context.Context, w io.Writer, ec *ethclient.Client, st config.Settings, assets []bundlecore.AssetDescriptor) {
	fees := bundlecore.NewFeeEstimator(ec, st.BaseMul, bundlecore.GweiToWei(st.PriorityBumpGwei))
	bid, fd, err := fees.Bid(ctx)
	if err != nil {
		fmt.Fprintln(w, "[net] fee data error:", err)
		return
	}
	fmt.Fprintf(w, "[net] baseFee(now): %s gwei, tip: %s gwei\n", bundlecore.FormatGwei(fd.BaseFee), bundlecore.FormatGwei(fd.MaxPriorityFeePerGas))
	fmt.Fprintf(w, "[net] bid: maxFee=%s gwei, priority=%s gwei\n", bundlecore.FormatGwei(bid.MaxFeePerGas), bundlecore.FormatGwei(bid.MaxPriorityFeePerGas))

	transfers := make([]bundlecore.TransactionIntent, 0, len(assets))
	for _, a := range assets {
		transfers = append(transfers, bundlecore.TransactionIntent{To: a.Contract, GasLimit: a.FallbackGas()})
	}
	value := bundlecore.FundingValue(transfers, bid, st.FundingBufferWei)
	fmt.Fprintf(w, "[net] funding estimate for %d transfer(s): %s ETH\n", len(assets), bundlecore.FormatETH(value))
}
