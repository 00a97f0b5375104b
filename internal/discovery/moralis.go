package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ligun0805/bundle-recovery/internal/bundlecore"
	"github.com/ligun0805/bundle-recovery/internal/logger"
)

const (
	DefaultBaseURL = "https://deep-index.moralis.io/api/v2.2"
	maxPages       = 50
)

// Client enumerates the assets an address holds via the Moralis deep-index API.
type Client struct {
	baseURL string
	apiKey  string
	chain   string
	http    *http.Client
	logger  logger.Logger
}

func NewClient(baseURL, apiKey, chain string, httpClient *http.Client, log logger.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if chain == "" {
		chain = "eth"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		chain:   chain,
		http:    httpClient,
		logger:  logger.OrEmpty(log),
	}
}

type nftItem struct {
	TokenAddress string `json:"token_address"`
	TokenID      string `json:"token_id"`
	ContractType string `json:"contract_type"`
	Name         string `json:"name"`
	Symbol       string `json:"symbol"`
	Amount       string `json:"amount"`
}

type nftPage struct {
	Cursor string    `json:"cursor"`
	Result []nftItem `json:"result"`
}

type erc20Item struct {
	TokenAddress string `json:"token_address"`
	Name         string `json:"name"`
	Symbol       string `json:"symbol"`
	Decimals     int    `json:"decimals"`
	Balance      string `json:"balance"`
	PossibleSpam bool   `json:"possible_spam"`
}

// Discover returns every NFT and ERC20 balance held by addr.
func (c *Client) Discover(ctx context.Context, addr common.Address) ([]bundlecore.AssetDescriptor, error) {
	nfts, err := c.NFTs(ctx, addr)
	if err != nil {
		return nil, err
	}
	tokens, err := c.Tokens(ctx, addr)
	if err != nil {
		return nil, err
	}
	return append(nfts, tokens...), nil
}

// NFTs follows the cursor until the listing is complete.
func (c *Client) NFTs(ctx context.Context, addr common.Address) ([]bundlecore.AssetDescriptor, error) {
	var out []bundlecore.AssetDescriptor
	cursor := ""
	for page := 0; page < maxPages; page++ {
		q := url.Values{}
		q.Set("chain", c.chain)
		q.Set("format", "decimal")
		q.Set("exclude_spam", "false")
		q.Set("media_items", "false")
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var p nftPage
		if err := c.get(ctx, "/"+addr.Hex()+"/nft", q, &p); err != nil {
			return nil, &bundlecore.DiscoveryError{Address: addr, Err: err}
		}
		for _, it := range p.Result {
			a, err := normalizeNFT(it)
			if err != nil {
				c.logger.Debug("skipping NFT %s #%s: %v", it.TokenAddress, it.TokenID, err)
				continue
			}
			out = append(out, a)
		}
		if p.Cursor == "" {
			return out, nil
		}
		cursor = p.Cursor
	}
	c.logger.Error("NFT listing for %s truncated after %d pages", addr.Hex(), maxPages)
	return out, nil
}

// Tokens lists non-zero, non-spam ERC20 balances.
func (c *Client) Tokens(ctx context.Context, addr common.Address) ([]bundlecore.AssetDescriptor, error) {
	q := url.Values{}
	q.Set("chain", c.chain)
	var items []erc20Item
	if err := c.get(ctx, "/"+addr.Hex()+"/erc20", q, &items); err != nil {
		return nil, &bundlecore.DiscoveryError{Address: addr, Err: err}
	}
	out := make([]bundlecore.AssetDescriptor, 0, len(items))
	for _, it := range items {
		if it.PossibleSpam {
			continue
		}
		a, err := normalizeERC20(it)
		if err != nil {
			c.logger.Debug("skipping token %s: %v", it.TokenAddress, err)
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	if c.apiKey == "" {
		return errors.New("discovery api key is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func normalizeNFT(it nftItem) (bundlecore.AssetDescriptor, error) {
	typ, err := bundlecore.ParseAssetType(it.ContractType)
	if err != nil {
		return bundlecore.AssetDescriptor{}, err
	}
	if typ == bundlecore.AssetERC20 {
		return bundlecore.AssetDescriptor{}, fmt.Errorf("unexpected contract type %q in NFT listing", it.ContractType)
	}
	if !common.IsHexAddress(it.TokenAddress) {
		return bundlecore.AssetDescriptor{}, fmt.Errorf("bad token address %q", it.TokenAddress)
	}
	id, ok := new(big.Int).SetString(it.TokenID, 10)
	if !ok {
		return bundlecore.AssetDescriptor{}, fmt.Errorf("bad token id %q", it.TokenID)
	}
	a := bundlecore.AssetDescriptor{
		Type:        typ,
		DisplayInfo: it.Name,
		Contract:    common.HexToAddress(it.TokenAddress),
		TokenID:     id,
		Symbol:      it.Symbol,
	}
	if typ == bundlecore.AssetERC1155 {
		amt, ok := new(big.Int).SetString(defaultString(it.Amount, "1"), 10)
		if !ok {
			return bundlecore.AssetDescriptor{}, fmt.Errorf("bad amount %q", it.Amount)
		}
		a.Amount = amt
	}
	return a, a.Validate()
}

func normalizeERC20(it erc20Item) (bundlecore.AssetDescriptor, error) {
	if !common.IsHexAddress(it.TokenAddress) {
		return bundlecore.AssetDescriptor{}, fmt.Errorf("bad token address %q", it.TokenAddress)
	}
	bal, ok := new(big.Int).SetString(it.Balance, 10)
	if !ok {
		return bundlecore.AssetDescriptor{}, fmt.Errorf("bad balance %q", it.Balance)
	}
	a := bundlecore.AssetDescriptor{
		Type:        bundlecore.AssetERC20,
		DisplayInfo: it.Name,
		Contract:    common.HexToAddress(it.TokenAddress),
		Amount:      bal,
		Symbol:      it.Symbol,
	}
	return a, a.Validate()
}

func defaultString(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
