package discovery

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligun0805/bundle-recovery/internal/bundlecore"
)

var owner = common.HexToAddress("0xAAA0000000000000000000000000000000000AAA")

func moralisServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "k" {
			http.Error(w, `{"message":"Invalid key"}`, http.StatusUnauthorized)
			return
		}
		seen = append(seen, r.URL.RequestURI())
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/nft") && r.URL.Query().Get("cursor") == "":
			_, _ = w.Write([]byte(`{"cursor":"page2","result":[
				{"token_address":"0xccc0000000000000000000000000000000000ccc","token_id":"186","contract_type":"ERC721","name":"Punks","symbol":"PNK"},
				{"token_address":"0xddd0000000000000000000000000000000000ddd","token_id":"1","contract_type":"CRYPTOPUNKS","name":"Odd"}
			]}`))
		case strings.HasSuffix(r.URL.Path, "/nft"):
			_, _ = w.Write([]byte(`{"cursor":null,"result":[
				{"token_address":"0xeee0000000000000000000000000000000000eee","token_id":"7","contract_type":"ERC1155","name":"Items","amount":"3"}
			]}`))
		case strings.HasSuffix(r.URL.Path, "/erc20"):
			_, _ = w.Write([]byte(`[
				{"token_address":"0xfff0000000000000000000000000000000000fff","name":"Tether","symbol":"USDT","decimals":6,"balance":"2500000"},
				{"token_address":"0x1110000000000000000000000000000000000111","name":"Spam","symbol":"SPAM","decimals":18,"balance":"1","possible_spam":true},
				{"token_address":"0x2220000000000000000000000000000000000222","name":"Empty","symbol":"NIL","decimals":18,"balance":"0"}
			]`))
		default:
			http.NotFound(w, r)
		}
	}))
	return srv, &seen
}

func TestDiscover(t *testing.T) {
	srv, seen := moralisServer(t)
	defer srv.Close()

	c := NewClient(srv.URL, "k", "sepolia", nil, nil)
	assets, err := c.Discover(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, assets, 3)

	assert.Equal(t, bundlecore.AssetERC721, assets[0].Type)
	assert.Equal(t, big.NewInt(186), assets[0].TokenID)
	assert.Equal(t, "Punks", assets[0].DisplayInfo)
	assert.Equal(t, common.HexToAddress("0xccc0000000000000000000000000000000000ccc"), assets[0].Contract)

	assert.Equal(t, bundlecore.AssetERC1155, assets[1].Type)
	assert.Equal(t, big.NewInt(3), assets[1].Amount)

	assert.Equal(t, bundlecore.AssetERC20, assets[2].Type)
	assert.Equal(t, "USDT", assets[2].Symbol)
	assert.Equal(t, big.NewInt(2_500_000), assets[2].Amount)

	require.Len(t, *seen, 3)
	assert.Contains(t, (*seen)[0], "chain=sepolia")
	assert.Contains(t, (*seen)[0], "format=decimal")
	assert.Contains(t, (*seen)[1], "cursor=page2")
}

func TestDiscover_Errors(t *testing.T) {
	srv, _ := moralisServer(t)
	defer srv.Close()

	_, err := NewClient(srv.URL, "wrong", "", nil, nil).Discover(context.Background(), owner)
	var de *bundlecore.DiscoveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, owner, de.Address)
	assert.Contains(t, err.Error(), "401")

	_, err = NewClient(srv.URL, "", "", nil, nil).NFTs(context.Background(), owner)
	assert.True(t, errors.As(err, &de))
}
