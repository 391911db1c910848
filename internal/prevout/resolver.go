// Package prevout resolves a transaction's prior outputs through a
// persistent write-through cache, falling back to an RPC lookup on
// miss, with in-flight request deduplication across concurrently
// resolving transactions.
package prevout

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rawblock/mempool-signal-engine/pkg/models"
)

// Cache is the persistence boundary for resolved prevouts. Implemented
// by internal/signalstore against the prevout_cache table.
type Cache interface {
	GetPrevout(ctx context.Context, txid string, vout uint32) (models.Prevout, bool, error)
	PutPrevout(ctx context.Context, txid string, vout uint32, p models.Prevout) error
}

// RPC is the subset of the bitcoind RPC surface the resolver needs.
type RPC interface {
	GetRawTransactionVerbose(ctx context.Context, txid string) (RawTxResult, error)
}

// RawTxResult is the subset of getrawtransaction(verbose=true)'s
// response the resolver consumes.
type RawTxResult struct {
	Vout []RawVout
	// BlockHeight is 0 for an unconfirmed transaction.
	BlockHeight uint32
	// BlockTime is 0 for an unconfirmed transaction.
	BlockTime int64
}

type RawVout struct {
	ValueBTC     float64
	ScriptType   string
}

// Resolver resolves Prevouts via cache-then-RPC, deduplicating
// concurrent in-flight lookups for the same (txid, vout).
type Resolver struct {
	cache Cache
	rpc   RPC
	group singleflight.Group
}

// New builds a Resolver.
func New(cache Cache, rpc RPC) *Resolver {
	return &Resolver{cache: cache, rpc: rpc}
}

// Resolve resolves a single prevout: cache first, then RPC, writing
// the RPC result back to the cache before returning. Concurrent calls
// for the same (prevTxid, prevVout) share one RPC call.
func (r *Resolver) Resolve(ctx context.Context, prevTxid string, prevVout uint32) (models.Prevout, bool) {
	if cached, ok, err := r.cache.GetPrevout(ctx, prevTxid, prevVout); err == nil && ok {
		return cached, true
	} else if err != nil {
		log.Printf("[prevout] cache lookup error for %s:%d: %v", prevTxid, prevVout, err)
	}

	key := prevTxid
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		return r.rpc.GetRawTransactionVerbose(ctx, prevTxid)
	})
	if err != nil {
		log.Printf("[prevout] RPC getrawtransaction failed for %s: %v", prevTxid, err)
		return models.Prevout{}, false
	}

	result := v.(RawTxResult)
	if int(prevVout) >= len(result.Vout) {
		return models.Prevout{}, false
	}
	vout := result.Vout[prevVout]

	p := models.Prevout{
		ValueSats:   int64(vout.ValueBTC*100_000_000 + 0.5),
		ScriptType:  vout.ScriptType,
		BlockHeight: result.BlockHeight,
		BlockTime:   result.BlockTime,
	}
	if p.ScriptType == "" {
		p.ScriptType = "unknown"
	}

	if err := r.cache.PutPrevout(ctx, prevTxid, prevVout, p); err != nil {
		log.Printf("[prevout] failed to cache %s:%d: %v", prevTxid, prevVout, err)
	}

	return p, true
}

// Aggregate holds the fields ResolveAll aggregates over a tx's
// resolved non-coinbase inputs for scoring/prevout enrichment.
type Aggregate struct {
	TotalInputValue   int64
	OldestInputTime   int64 // unix seconds, 0 if none resolved
	OldestInputHeight uint32
	CoinDaysDestroyed *float64
	ResolvedCount     int
}

// ResolveAll resolves all non-coinbase inputs of tx and computes the
// aggregate fields (total value, oldest input, coin-days-destroyed).
func (r *Resolver) ResolveAll(ctx context.Context, tx models.ParsedTx) Aggregate {
	var agg Aggregate
	var oldestTime int64
	var oldestHeight uint32
	var cdd float64
	now := time.Now()

	for _, in := range tx.Inputs {
		if in.IsCoinbase() {
			continue
		}
		p, ok := r.Resolve(ctx, in.PrevTxid, in.PrevVout)
		if !ok {
			continue
		}
		agg.TotalInputValue += p.ValueSats
		agg.ResolvedCount++

		if p.BlockTime > 0 {
			if oldestTime == 0 || p.BlockTime < oldestTime {
				oldestTime = p.BlockTime
			}
			if p.BlockHeight > 0 && (oldestHeight == 0 || p.BlockHeight < oldestHeight) {
				oldestHeight = p.BlockHeight
			}

			ageDays := now.Sub(time.Unix(p.BlockTime, 0)).Hours() / 24.0
			if ageDays > 0 {
				valueBTC := float64(p.ValueSats) / 100_000_000.0
				cdd += valueBTC * ageDays
			}
		}
	}

	agg.OldestInputTime = oldestTime
	agg.OldestInputHeight = oldestHeight
	if agg.ResolvedCount > 0 && cdd > 0 {
		agg.CoinDaysDestroyed = &cdd
	}
	return agg
}
