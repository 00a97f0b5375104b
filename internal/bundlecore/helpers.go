package bundlecore

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	gwei  = big.NewInt(1_000_000_000)
	ether = big.NewInt(1_000_000_000_000_000_000)
)

// ParsePrivateKey parses a hex ECDSA private key (with / without 0x).
func ParsePrivateKey(s string) (*ecdsa.PrivateKey, error) {
	h := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if len(h) == 0 {
		return nil, errors.New("empty private key")
	}
	return gethcrypto.HexToECDSA(h)
}

func GweiToWei(g int64) *big.Int {
	x := new(big.Int).SetInt64(g)
	return x.Mul(x, gwei)
}

func mulBig(a *big.Int, m int64) *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Mul(a, big.NewInt(m))
}

func addBig(a, b *big.Int) *big.Int {
	if a == nil {
		a = new(big.Int)
	}
	if b == nil {
		b = new(big.Int)
	}
	return new(big.Int).Add(a, b)
}

func copyBig(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}

// FormatETH renders wei as ETH with 6 decimals.
func FormatETH(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return new(big.Rat).SetFrac(new(big.Int).Set(x), ether).FloatString(6)
}

// FormatGwei renders wei as gwei with 2 decimals.
func FormatGwei(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return new(big.Rat).SetFrac(new(big.Int).Set(x), gwei).FloatString(2)
}
