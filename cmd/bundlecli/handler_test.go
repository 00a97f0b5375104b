package main

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligun0805/bundle-recovery/internal/bundlecore"
)

func TestParseAssetFlags(t *testing.T) {
	assets, err := parseAssetFlags([]string{
		"erc721:0x00000000000000000000000000000000000000c1:42",
		"ERC-1155:0x00000000000000000000000000000000000000c2:7:3",
		"erc1155:0x00000000000000000000000000000000000000c3:8",
		"erc20:0x00000000000000000000000000000000000000c4:1000000",
	})
	require.NoError(t, err)
	require.Len(t, assets, 4)

	assert.Equal(t, bundlecore.AssetERC721, assets[0].Type)
	assert.Equal(t, big.NewInt(42), assets[0].TokenID)
	assert.Equal(t, big.NewInt(3), assets[1].Amount)
	assert.Equal(t, big.NewInt(1), assets[2].Amount)
	assert.Equal(t, bundlecore.AssetERC20, assets[3].Type)
	assert.Equal(t, big.NewInt(1_000_000), assets[3].Amount)
	assert.Nil(t, assets[3].TokenID)

	for _, bad := range []string{
		"erc721:0xc1",
		"erc721:nothex:1",
		"erc777:0x00000000000000000000000000000000000000c1:1",
		"erc20:0x00000000000000000000000000000000000000c1:0",
		"erc721:0x00000000000000000000000000000000000000c1:abc",
	} {
		_, err := parseAssetFlags([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestMatchFlag(t *testing.T) {
	key := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	assert.NoError(t, matchFlag("", key, "secure"))
	assert.NoError(t, matchFlag(key.Hex(), key, "secure"))
	assert.Error(t, matchFlag("0x00000000000000000000000000000000000000a2", key, "secure"))
	assert.Error(t, matchFlag("0x12", key, "secure"))
}

func TestFriendlyErr(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&bundlecore.SimulationFailedError{Result: bundlecore.SimulationFailure("insufficient funds for gas * price + value", 1)}, "simulation failed at tx 1: insufficient ETH for simulation"},
		{&bundlecore.RelayUnavailableError{Err: errors.New("dial tcp 1.2.3.4:443: i/o timeout")}, "network/DNS error"},
		{fmt.Errorf("wrapped: %w", bundlecore.ErrWindowExhausted), "bundle was not included within the block window"},
		{&bundlecore.GuardError{State: "idle", Event: "start", Guard: "hacked address is required"}, "hacked address is required"},
		{bundlecore.NewSigningError(errors.New("nonce too low")), "nonce already used (the wallet sent something in between); run recover again"},
		{errors.New("plain"), "plain"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, friendlyErr(tc.err))
	}
}

func TestPrintAssets(t *testing.T) {
	var buf bytes.Buffer
	printAssets(&buf, []bundlecore.AssetDescriptor{{
		Type:        bundlecore.AssetERC721,
		DisplayInfo: "Punks",
		Symbol:      "PNK",
		Contract:    common.HexToAddress("0x00000000000000000000000000000000000000c1"),
		TokenID:     big.NewInt(9),
	}})
	out := buf.String()
	assert.Contains(t, out, "ERC721")
	assert.Contains(t, out, "Punks (PNK)")
	assert.Contains(t, out, "9")

	buf.Reset()
	printAssets(&buf, nil)
	assert.Equal(t, "no assets\n", buf.String())
}

func TestMaskHex(t *testing.T) {
	assert.Equal(t, "***", maskHex("0x1234"))
	assert.Equal(t, "0x4c08…2318", maskHex("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"))
	assert.Equal(t, "sepolia", discoveryChain(11155111))
	assert.Equal(t, "eth", discoveryChain(1))
}
