package flashbots

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/crypto/sha3"
)

// BundleCache reads back the raw transactions a wallet sent through the
// bundle RPC URL for one bundle id.
type BundleCache struct {
	network Network
	http    *http.Client
}

func NewBundleCache(network Network, httpClient *http.Client) *BundleCache {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &BundleCache{network: network, http: httpClient}
}

type bundleCacheResponse struct {
	RawTxs []string `json:"rawTxs"`
}

// RawTransactions fetches the cached raw transactions for id, in cache order.
func (c *BundleCache) RawTransactions(ctx context.Context, id string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.network.BundleCacheURL(id), nil)
	if err != nil {
		return nil, fmt.Errorf("bundle cache request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bundle cache: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("bundle cache: status %d: %s", resp.StatusCode, string(b))
	}
	var out bundleCacheResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("bundle cache: decode: %w", err)
	}
	return out.RawTxs, nil
}

// Transactions fetches the cached transactions for id and returns the ones
// matching want, in the order of want. Missing hashes are an error.
func (c *BundleCache) Transactions(ctx context.Context, id string, want []common.Hash) ([]*types.Transaction, error) {
	raw, err := c.RawTransactions(ctx, id)
	if err != nil {
		return nil, err
	}
	return OrderByHash(raw, want)
}

// OrderByHash arranges raw transactions to follow want. Entries are indexed by
// the keccak of their envelope bytes, which is the tx hash for every type, so
// only the wanted ones are decoded.
func OrderByHash(raw []string, want []common.Hash) ([]*types.Transaction, error) {
	byHash := make(map[common.Hash][]byte, len(raw))
	for i, r := range raw {
		b, err := hexutil.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("cached tx %d: %w", i, err)
		}
		byHash[keccak(b)] = b
	}
	out := make([]*types.Transaction, 0, len(want))
	for _, h := range want {
		b, ok := byHash[h]
		if !ok {
			return nil, fmt.Errorf("tx %s not found in bundle cache", h.Hex())
		}
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(b); err != nil {
			return nil, fmt.Errorf("cached tx %s: %w", h.Hex(), err)
		}
		out = append(out, tx)
	}
	return out, nil
}

func keccak(b []byte) common.Hash {
	d := sha3.NewLegacyKeccak256()
	d.Write(b)
	var h common.Hash
	d.Sum(h[:0])
	return h
}
