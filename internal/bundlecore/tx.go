package bundlecore

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TransactionIntent is an unsigned EIP-1559 transfer. Treat it as immutable:
// fee and nonce go stale quickly, so rebuild instead of editing.
type TransactionIntent struct {
	From                 *common.Address
	To                   common.Address
	Value                *big.Int
	Data                 []byte
	GasLimit             uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	Nonce                *uint64
	ChainID              *big.Int
}

// Cost is the worst-case wei spent by the intent: gas*maxFee + value.
func (i TransactionIntent) Cost() *big.Int {
	c := new(big.Int).SetUint64(i.GasLimit)
	if i.MaxFeePerGas != nil {
		c.Mul(c, i.MaxFeePerGas)
	} else {
		c.SetInt64(0)
	}
	return addBig(c, i.Value)
}

// Transaction builds the unsigned EIP-1559 transaction. The intent must be fully resolved.
func (i TransactionIntent) Transaction() (*types.Transaction, error) {
	switch {
	case i.Nonce == nil:
		return nil, errors.New("intent: nonce not resolved")
	case i.ChainID == nil:
		return nil, errors.New("intent: chain id not set")
	case i.MaxFeePerGas == nil || i.MaxPriorityFeePerGas == nil:
		return nil, errors.New("intent: fees not resolved")
	case i.GasLimit == 0:
		return nil, errors.New("intent: gas limit not set")
	}
	value := i.Value
	if value == nil {
		value = new(big.Int)
	}
	to := i.To
	return buildDynamicTx(i.ChainID, *i.Nonce, &to, value, i.GasLimit, i.MaxPriorityFeePerGas, i.MaxFeePerGas, i.Data), nil
}

// IntentFromTransaction recovers the intent a signed transaction was built from.
// From is left nil when the sender cannot be recovered.
func IntentFromTransaction(tx *types.Transaction) TransactionIntent {
	nonce := tx.Nonce()
	it := TransactionIntent{
		Value:                copyBig(tx.Value()),
		Data:                 common.CopyBytes(tx.Data()),
		GasLimit:             tx.Gas(),
		MaxFeePerGas:         copyBig(tx.GasFeeCap()),
		MaxPriorityFeePerGas: copyBig(tx.GasTipCap()),
		Nonce:                &nonce,
		ChainID:              copyBig(tx.ChainId()),
	}
	if tx.To() != nil {
		it.To = *tx.To()
	}
	if tx.ChainId() != nil && tx.ChainId().Sign() > 0 {
		if from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx); err == nil {
			it.From = &from
		}
	}
	return it
}

// Build EIP-1559 transaction.
func buildDynamicTx(chain *big.Int, nonce uint64, to *common.Address, value *big.Int, gasLimit uint64, tip, feeCap *big.Int, data []byte) *types.Transaction {
	df := &types.DynamicFeeTx{
		ChainID:   new(big.Int).Set(chain),
		Nonce:     nonce,
		Gas:       gasLimit,
		GasTipCap: new(big.Int).Set(tip),
		GasFeeCap: new(big.Int).Set(feeCap),
		To:        to,
		Value:     new(big.Int).Set(value),
		Data:      data,
	}
	return types.NewTx(df)
}

// SignIntent signs the intent with the latest signer for its chain ID.
func SignIntent(i TransactionIntent, prv *ecdsa.PrivateKey) (*types.Transaction, error) {
	tx, err := i.Transaction()
	if err != nil {
		return nil, err
	}
	return types.SignTx(tx, types.LatestSignerForChainID(i.ChainID), prv)
}

// TxAsHex hex-encodes the transaction's binary form.
func TxAsHex(tx *types.Transaction) string {
	b, _ := tx.MarshalBinary()
	return "0x" + hex.EncodeToString(b)
}

// DecodeRawTx parses a 0x-prefixed signed transaction.
func DecodeRawTx(s string) (*types.Transaction, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(h)
	if err != nil {
		return nil, fmt.Errorf("raw tx is not hex: %w", err)
	}
	if len(b) == 0 {
		return nil, errors.New("raw tx is empty")
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("decode raw tx: %w", err)
	}
	return tx, nil
}
