package bundlecore

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// AssetType is the closed set of token standards a transfer intent can be built for.
type AssetType string

const (
	AssetERC20   AssetType = "ERC20"
	AssetERC721  AssetType = "ERC721"
	AssetERC1155 AssetType = "ERC1155"
)

// Fallback gas limits used when estimation fails.
const (
	FundingGasLimit    uint64 = 21_000
	fallbackGasERC20   uint64 = 90_000
	fallbackGasERC721  uint64 = 100_000
	fallbackGasERC1155 uint64 = 100_000
)

const tokenABIJSON = `[
 {"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"transferFrom","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"safeTransferFrom","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"id","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"data","type":"bytes"}],"outputs":[]}
]`

var tokenABI = mustParseABI(tokenABIJSON)

func mustParseABI(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return a
}

// ParseAssetType normalizes "erc721", "ERC-721" and similar spellings.
func ParseAssetType(s string) (AssetType, error) {
	n := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", ""))
	switch AssetType(n) {
	case AssetERC20, AssetERC721, AssetERC1155:
		return AssetType(n), nil
	}
	return "", fmt.Errorf("unsupported asset type %q", s)
}

// AssetDescriptor is a validated asset held by the compromised wallet.
type AssetDescriptor struct {
	Type        AssetType
	DisplayInfo string
	Contract    common.Address
	TokenID     *big.Int // ERC721 / ERC1155
	Amount      *big.Int // ERC20 / ERC1155
	Symbol      string
}

// Validate checks that the fields required by the asset type are present.
func (a AssetDescriptor) Validate() error {
	if a.Contract == (common.Address{}) {
		return fmt.Errorf("%s asset: missing contract address", a.Type)
	}
	switch a.Type {
	case AssetERC20:
		if a.Amount == nil || a.Amount.Sign() <= 0 {
			return fmt.Errorf("ERC20 asset %s: amount must be positive", a.Contract.Hex())
		}
	case AssetERC721:
		if a.TokenID == nil || a.TokenID.Sign() < 0 {
			return fmt.Errorf("ERC721 asset %s: missing token id", a.Contract.Hex())
		}
	case AssetERC1155:
		if a.TokenID == nil || a.TokenID.Sign() < 0 {
			return fmt.Errorf("ERC1155 asset %s: missing token id", a.Contract.Hex())
		}
		if a.Amount == nil || a.Amount.Sign() <= 0 {
			return fmt.Errorf("ERC1155 asset %s: amount must be positive", a.Contract.Hex())
		}
	default:
		return fmt.Errorf("unsupported asset type %q", a.Type)
	}
	return nil
}

// TransferCalldata encodes the call that moves the asset from -> to.
func (a AssetDescriptor) TransferCalldata(from, to common.Address) ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	switch a.Type {
	case AssetERC20:
		return tokenABI.Pack("transfer", to, a.Amount)
	case AssetERC721:
		return tokenABI.Pack("transferFrom", from, to, a.TokenID)
	default:
		return tokenABI.Pack("safeTransferFrom", from, to, a.TokenID, a.Amount, []byte{})
	}
}

// FallbackGas is the gas limit used when estimation fails.
func (a AssetDescriptor) FallbackGas() uint64 {
	switch a.Type {
	case AssetERC20:
		return fallbackGasERC20
	case AssetERC1155:
		return fallbackGasERC1155
	}
	return fallbackGasERC721
}

func (a AssetDescriptor) String() string {
	switch a.Type {
	case AssetERC20:
		return fmt.Sprintf("%s %s %s", a.Type, a.Contract.Hex(), a.Amount)
	case AssetERC1155:
		return fmt.Sprintf("%s %s #%s x%s", a.Type, a.Contract.Hex(), a.TokenID, a.Amount)
	}
	return fmt.Sprintf("%s %s #%s", a.Type, a.Contract.Hex(), a.TokenID)
}
