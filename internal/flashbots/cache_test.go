package flashbots

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBundleCache_OrdersByHash(t *testing.T) {
	b := testBundle(t)
	raw := b.RawHex()
	var gotPath, gotID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotID = r.URL.Query().Get("id")
		// the cache returns transactions newest first
		_ = json.NewEncoder(w).Encode(map[string]any{"rawTxs": []string{raw[1], raw[0]}})
	}))
	defer srv.Close()

	cache := NewBundleCache(Network{BundleRPC: srv.URL}, nil)
	txs, err := cache.Transactions(context.Background(), "0d3a-uuid", []common.Hash{b.Txs[0].Hash, b.Txs[1].Hash})
	require.NoError(t, err)
	assert.Equal(t, "/bundle", gotPath)
	assert.Equal(t, "0d3a-uuid", gotID)
	require.Len(t, txs, 2)
	assert.Equal(t, b.Txs[0].Hash, txs[0].Hash())
	assert.Equal(t, b.Txs[1].Hash, txs[1].Hash())
}

func TestBundleCache_MissingTx(t *testing.T) {
	b := testBundle(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"rawTxs": []string{b.RawHex()[0]}})
	}))
	defer srv.Close()

	cache := NewBundleCache(Network{BundleRPC: srv.URL}, nil)
	_, err := cache.Transactions(context.Background(), "id", []common.Hash{b.Txs[0].Hash, b.Txs[1].Hash})
	assert.ErrorContains(t, err, "not found")
}

func TestBundleCache_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewBundleCache(Network{BundleRPC: srv.URL}, nil).RawTransactions(context.Background(), "id")
	assert.ErrorContains(t, err, "status 404")
}

func TestOrderByHash_RejectsGarbage(t *testing.T) {
	_, err := OrderByHash([]string{"0xzz"}, nil)
	assert.Error(t, err)

	junk := []byte{0x01}
	_, err = OrderByHash([]string{hexutil.Encode(junk)}, []common.Hash{crypto.Keccak256Hash(junk)})
	assert.Error(t, err, "a wanted entry must decode")
}

func TestOrderByHash_SkipsUnwantedEntries(t *testing.T) {
	b := testBundle(t)
	raw := b.RawHex()
	txs, err := OrderByHash([]string{"0x01", raw[1], raw[0]}, []common.Hash{b.Txs[0].Hash, b.Txs[1].Hash})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, b.Txs[0].Hash, txs[0].Hash())
	assert.Equal(t, b.Txs[1].Hash, txs[1].Hash())
}

func TestLookupNetwork(t *testing.T) {
	n, err := LookupNetwork("Sepolia")
	require.NoError(t, err)
	assert.Equal(t, int64(SepoliaChainID), n.ChainID)
	assert.Equal(t, FlashbotsSepoliaRelay, n.RelayURL)
	assert.Equal(t, "https://rpc-sepolia.flashbots.net?bundle=abc", n.BundleRPCURL("abc"))
	assert.Equal(t, "https://rpc-sepolia.flashbots.net/bundle?id=abc", n.BundleCacheURL("abc"))

	_, err = LookupNetwork("goerli")
	assert.ErrorIs(t, err, ErrUnsupportedNetwork)
}
