// Package bitcoinrpc wraps btcd's rpcclient for the handful of JSON-RPC
// calls the engine needs, with a credential resolution chain matching
// the node's own cookie-auth convention.
package bitcoinrpc

import (
	"context"
	"encoding/json"
	"log"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/rpcclient"

	"github.com/rawblock/mempool-signal-engine/internal/prevout"
)

// Config configures the RPC connection.
type Config struct {
	Host string
	User string
	Pass string
}

// Client wraps rpcclient.Client with the methods this engine needs.
type Client struct {
	rpc *rpcclient.Client
}

// New connects to bitcoind and verifies the connection with
// getblockcount.
func New(cfg Config) (*Client, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}

	log.Printf("[bitcoinrpc] connecting to %s", cfg.Host)
	rpc, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, err
	}

	blockCount, err := rpc.GetBlockCount()
	if err != nil {
		rpc.Shutdown()
		return nil, err
	}
	log.Printf("[bitcoinrpc] connected, current block height %d", blockCount)

	return &Client{rpc: rpc}, nil
}

// Shutdown closes the RPC connection.
func (c *Client) Shutdown() {
	c.rpc.Shutdown()
}

// GetRawTransactionVerbose implements prevout.RPC: it fetches a
// transaction with verbose output and projects the fields the
// resolver needs.
func (c *Client) GetRawTransactionVerbose(ctx context.Context, txid string) (prevout.RawTxResult, error) {
	rawResp, err := c.rpc.RawRequest("getrawtransaction", []json.RawMessage{
		mustMarshal(txid),
		mustMarshal(true),
	})
	if err != nil {
		return prevout.RawTxResult{}, err
	}

	var tx struct {
		Vout []struct {
			Value        float64 `json:"value"`
			ScriptPubKey struct {
				Type string `json:"type"`
			} `json:"scriptPubKey"`
		} `json:"vout"`
		BlockHeight uint32 `json:"blockheight"`
		Height      uint32 `json:"height"`
		BlockTime   int64  `json:"blocktime"`
	}
	if err := json.Unmarshal(rawResp, &tx); err != nil {
		return prevout.RawTxResult{}, err
	}

	height := tx.BlockHeight
	if height == 0 {
		height = tx.Height
	}

	vouts := make([]prevout.RawVout, len(tx.Vout))
	for i, v := range tx.Vout {
		vouts[i] = prevout.RawVout{ValueBTC: v.Value, ScriptType: v.ScriptPubKey.Type}
	}

	return prevout.RawTxResult{
		Vout:        vouts,
		BlockHeight: height,
		BlockTime:   tx.BlockTime,
	}, nil
}

// GetMempoolInfo returns the node's getmempoolinfo result, fetched as
// a raw request and decoded into btcjson's result type.
func (c *Client) GetMempoolInfo() (*btcjson.GetMempoolInfoResult, error) {
	rawResp, err := c.rpc.RawRequest("getmempoolinfo", nil)
	if err != nil {
		return nil, err
	}
	var res btcjson.GetMempoolInfoResult
	if err := json.Unmarshal(rawResp, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetBlockChainInfo returns the node's getblockchaininfo result.
func (c *Client) GetBlockChainInfo() (*btcjson.GetBlockChainInfoResult, error) {
	return c.rpc.GetBlockChainInfo()
}

func mustMarshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
