// Package ledger resolves hardware-claim ownership against the Xnode Unit
// NFT contract. Claims are proven by holding the token whose id the operator
// presents as deploymentAuth; the mint block timestamp becomes the claim time.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"
)

const (
	// ownerOf(uint256) function selector.
	ownerOfSelector = "0x6352211e"
	// keccak256("Transfer(address,address,uint256)"), the ERC-721 transfer topic.
	transferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"
	zeroTopic     = "0x0000000000000000000000000000000000000000000000000000000000000000"

	defaultTimeout = 10 * time.Second
)

var (
	// ErrNoMintEvent means the token has an owner but no mint transfer was
	// found. The contract cannot produce this state; treat it as corruption.
	ErrNoMintEvent = errors.New("no mint event found for token")

	// ErrNoBlock means the mint block could not be resolved.
	ErrNoBlock = errors.New("mint block not found")
)

// Ledger answers ownership questions about unit claim tokens.
type Ledger interface {
	// OwnerOf returns the current holder address of tokenID, lowercase hex.
	OwnerOf(ctx context.Context, tokenID *big.Int) (string, error)

	// MintTime returns the timestamp of the block in which tokenID was minted.
	MintTime(ctx context.Context, tokenID *big.Int) (time.Time, error)
}

// EVMClient implements Ledger over raw Ethereum JSON-RPC. The three calls it
// needs (eth_call, eth_getLogs, eth_getBlockByNumber) are issued directly
// rather than through a chain SDK.
type EVMClient struct {
	client   *http.Client
	rpcURL   string
	contract string
}

// NewEVMClient builds a client for the given RPC endpoint and contract
// address. A non-positive timeout falls back to the default.
func NewEVMClient(rpcURL, contract string, timeout time.Duration) (*EVMClient, error) {
	if rpcURL == "" {
		return nil, errors.New("rpc url is required")
	}
	if !strings.HasPrefix(contract, "0x") || len(contract) != 42 {
		return nil, fmt.Errorf("invalid contract address %q", contract)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &EVMClient{
		client:   &http.Client{Timeout: timeout},
		rpcURL:   rpcURL,
		contract: strings.ToLower(contract),
	}, nil
}

// OwnerOf issues an eth_call against ownerOf(uint256).
func (c *EVMClient) OwnerOf(ctx context.Context, tokenID *big.Int) (string, error) {
	callData := ownerOfSelector + hexWord(tokenID)

	var result string
	err := c.rpc(ctx, "eth_call", []any{
		map[string]string{"to": c.contract, "data": callData},
		"latest",
	}, &result)
	if err != nil {
		return "", fmt.Errorf("ownerOf(%s): %w", tokenID, err)
	}

	owner, err := addressFromWord(result)
	if err != nil {
		return "", fmt.Errorf("ownerOf(%s): %w", tokenID, err)
	}
	return owner, nil
}

// MintTime finds the Transfer from the zero address for tokenID and resolves
// the timestamp of its block.
func (c *EVMClient) MintTime(ctx context.Context, tokenID *big.Int) (time.Time, error) {
	var logs []struct {
		BlockNumber string `json:"blockNumber"`
	}
	err := c.rpc(ctx, "eth_getLogs", []any{map[string]any{
		"address":   c.contract,
		"fromBlock": "0x0",
		"toBlock":   "latest",
		"topics":    []any{transferTopic, zeroTopic, nil, "0x" + hexWord(tokenID)},
	}}, &logs)
	if err != nil {
		return time.Time{}, fmt.Errorf("mint logs for token %s: %w", tokenID, err)
	}
	if len(logs) == 0 {
		return time.Time{}, ErrNoMintEvent
	}

	var block *struct {
		Timestamp string `json:"timestamp"`
	}
	err = c.rpc(ctx, "eth_getBlockByNumber", []any{logs[0].BlockNumber, false}, &block)
	if err != nil {
		return time.Time{}, fmt.Errorf("mint block %s: %w", logs[0].BlockNumber, err)
	}
	if block == nil {
		return time.Time{}, ErrNoBlock
	}

	ts := new(big.Int)
	if _, ok := ts.SetString(strings.TrimPrefix(block.Timestamp, "0x"), 16); !ok {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrNoBlock, block.Timestamp)
	}

	return time.Unix(ts.Int64(), 0).UTC(), nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *EVMClient) rpc(ctx context.Context, method string, params []any, result any) error {
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", method, resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if result == nil || len(decoded.Result) == 0 {
		return nil
	}
	return json.Unmarshal(decoded.Result, result)
}

// hexWord encodes n as a 32-byte big-endian hex word without the 0x prefix.
func hexWord(n *big.Int) string {
	return fmt.Sprintf("%064x", n)
}

// addressFromWord extracts the address from a 32-byte ABI return word.
func addressFromWord(word string) (string, error) {
	trimmed := strings.TrimPrefix(word, "0x")
	if len(trimmed) != 64 {
		return "", fmt.Errorf("unexpected return word %q", word)
	}
	return "0x" + strings.ToLower(trimmed[24:]), nil
}
