package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/ligun0805/bundle-recovery/internal/config"
	"github.com/ligun0805/bundle-recovery/internal/logger"
)

var (
	discoverFlags = []cli.Flag{
		&cli.StringFlag{
			Name:     "address",
			Aliases:  []string{"a"},
			Usage:    "owner address to enumerate",
			Required: true,
		},
	}

	recoverFlags = []cli.Flag{
		&cli.StringFlag{
			Name:  "hacked",
			Usage: "compromised address (defaults to the address of HACKED_PRIVATE_KEY)",
		},
		&cli.StringFlag{
			Name:  "secure",
			Usage: "destination address (defaults to the address of SECURE_PRIVATE_KEY)",
		},
		&cli.StringSliceFlag{
			Name:    "asset",
			Aliases: []string{"as"},
			Usage:   "type:contract[:tokenId][:amount], e.g. erc721:0xabc..:42 or erc20:0xdef..:1000000. Discovered when omitted",
		},
		&cli.IntFlag{
			Name:  "retries",
			Value: 2,
			Usage: "resubmissions with a fresh window after the window is exhausted",
		},
		&cli.BoolFlag{
			Name:    "yes",
			Aliases: []string{"y"},
			Usage:   "do not ask for confirmation",
		},
	}

	watchFlags = []cli.Flag{
		&cli.StringFlag{
			Name:     "tx-hash",
			Required: true,
		},
		&cli.Uint64Flag{
			Name:  "target-block",
			Usage: "first block of the window (default: next block)",
		},
		&cli.Uint64Flag{
			Name:  "window",
			Usage: "window size in blocks (default: WINDOW_BLOCKS)",
		},
	}
)

func main() {
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")

	st, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	network, err := st.ResolveNetwork()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.NewStdLogger(st.LogColoring, logger.ParseLevel(st.LogLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	h := &handler{settings: st, network: network, logger: log}

	app := &cli.App{
		Name:        "bundlecli",
		Usage:       "recover assets from a compromised wallet with an atomic Flashbots bundle",
		Description: "Funding and transfer transactions are collected by the bundle RPC, simulated, submitted to the relay and monitored until inclusion.",
	}

	serveCmd := &cli.Command{
		Name:        "serve",
		Description: "serve POST /bundle, /health, /ready and /metrics on LISTEN_ADDR",
		Action:      h.Serve(ctx),
	}
	discoverCmd := &cli.Command{
		Name:        "discover",
		Aliases:     []string{"d"},
		Description: "list the NFTs and tokens an address holds",
		Flags:       discoverFlags,
		Action:      h.Discover(ctx),
	}
	recoverCmd := &cli.Command{
		Name:        "recover",
		Aliases:     []string{"r"},
		Description: "fund the hacked wallet and move its assets to the secure wallet in one bundle",
		Flags:       recoverFlags,
		Action:      h.Recover(ctx),
	}
	watchCmd := &cli.Command{
		Name:        "watch",
		Aliases:     []string{"w"},
		Description: "poll for a transaction receipt across a block window",
		Flags:       watchFlags,
		Action:      h.Watch(ctx),
	}
	app.Commands = append(app.Commands, serveCmd, discoverCmd, recoverCmd, watchCmd)

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", friendlyErr(err))
		os.Exit(1)
	}
}
