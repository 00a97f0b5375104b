package bundlecore

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAssetType(t *testing.T) {
	for in, want := range map[string]AssetType{
		"erc721":   AssetERC721,
		"ERC-1155": AssetERC1155,
		" ERC20 ":  AssetERC20,
	} {
		got, err := ParseAssetType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseAssetType("ERC404")
	assert.Error(t, err)
}

func TestTransferCalldata(t *testing.T) {
	from := common.HexToAddress("0xAAA0000000000000000000000000000000000AAA")
	to := common.HexToAddress("0xBBB0000000000000000000000000000000000BBB")
	contract := common.HexToAddress("0xCCC0000000000000000000000000000000000CCC")

	nft := AssetDescriptor{Type: AssetERC721, Contract: contract, TokenID: big.NewInt(186)}
	data, err := nft.TransferCalldata(from, to)
	require.NoError(t, err)
	assert.Equal(t, "23b872dd", common.Bytes2Hex(data[:4]))
	assert.Len(t, data, 4+3*32)
	assert.Equal(t, big.NewInt(186), new(big.Int).SetBytes(data[4+64:]))

	erc20 := AssetDescriptor{Type: AssetERC20, Contract: contract, Amount: big.NewInt(1)}
	data, err = erc20.TransferCalldata(from, to)
	require.NoError(t, err)
	assert.Equal(t, "a9059cbb", common.Bytes2Hex(data[:4]))

	multi := AssetDescriptor{Type: AssetERC1155, Contract: contract, TokenID: big.NewInt(3), Amount: big.NewInt(2)}
	data, err = multi.TransferCalldata(from, to)
	require.NoError(t, err)
	assert.Equal(t, "f242432a", common.Bytes2Hex(data[:4]))
}

func TestAssetValidate(t *testing.T) {
	contract := common.HexToAddress("0xCCC0000000000000000000000000000000000CCC")
	bad := []AssetDescriptor{
		{Type: AssetERC721, TokenID: big.NewInt(1)},
		{Type: AssetERC721, Contract: contract},
		{Type: AssetERC20, Contract: contract, Amount: big.NewInt(0)},
		{Type: AssetERC1155, Contract: contract, TokenID: big.NewInt(1)},
		{Type: "ERC404", Contract: contract},
	}
	for _, a := range bad {
		assert.Error(t, a.Validate(), "%+v", a)
	}
}

func TestNewSigningError(t *testing.T) {
	tests := []struct {
		msg  string
		kind SigningErrorKind
	}{
		{"insufficient funds for gas * price + value", SigningInsufficientFunds},
		{"nonce too low: next nonce 5, tx nonce 4", SigningNonceTooLow},
		{"intrinsic gas too low", SigningGasTooLow},
		{"already known", SigningAlreadyKnown},
		{"User rejected the request", SigningRejected},
		{"something odd", SigningUnknown},
	}
	for _, tt := range tests {
		se := NewSigningError(errors.New(tt.msg))
		assert.Equal(t, tt.kind, se.Kind, tt.msg)
	}

	wrapped := NewSigningError(&SigningError{Kind: SigningRejected, Err: errors.New("x")})
	assert.Equal(t, SigningRejected, wrapped.Kind)
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "0.010000", FormatETH(big.NewInt(10_000_000_000_000_000)))
	assert.Equal(t, "1.50", FormatGwei(big.NewInt(1_500_000_000)))
	assert.Equal(t, "0", FormatETH(nil))

	k, err := ParsePrivateKey("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	assert.NotNil(t, k)
	_, err = ParsePrivateKey("  ")
	assert.Error(t, err)
}
