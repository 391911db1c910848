// Package mempoolstate tracks the lifecycle of transactions observed
// in the mempool: state transitions, fee/size aggregates, and a
// fee-rate histogram. Owned exclusively by the pipeline goroutine — no
// internal locking.
package mempoolstate

import (
	"time"

	"github.com/rawblock/mempool-signal-engine/pkg/models"
)

// feeBucket is one half-open fee-rate range, sat/vB.
type feeBucket struct {
	lo, hi float64
	label  string
}

var feeBuckets = []feeBucket{
	{0, 5, "1-5"},
	{5, 10, "5-10"},
	{10, 20, "10-20"},
	{20, 50, "20-50"},
	{50, 100, "50-100"},
	{100, -1, "100+"}, // hi < 0 means unbounded
}

func (b feeBucket) contains(rate float64) bool {
	if b.hi < 0 {
		return rate >= b.lo
	}
	return rate >= b.lo && rate < b.hi
}

// State is the in-memory mempool tracker.
type State struct {
	entries           map[string]*models.MempoolEntry
	replacementChain  map[string]string
}

// New returns an empty State.
func New() *State {
	return &State{
		entries:          make(map[string]*models.MempoolEntry),
		replacementChain: make(map[string]string),
	}
}

// Add inserts tx as Pending, overwriting any prior entry for the same
// txid.
func (s *State) Add(tx models.AnalyzedTx) {
	s.entries[tx.Txid] = &models.MempoolEntry{
		Tx:             tx,
		State:          models.StatePending,
		StateChangedAt: time.Now(),
	}
}

// Remove transitions an entry's state by removal reason. Does not
// delete the entry — pruning is a separate, age-based operation.
func (s *State) Remove(txid string, reason models.RemovalReason) {
	entry, ok := s.entries[txid]
	if !ok {
		return
	}
	entry.State = stateForReason(reason)
	entry.StateChangedAt = time.Now()
}

func stateForReason(reason models.RemovalReason) models.TxState {
	switch reason {
	case models.RemovalConfirmed:
		return models.StateConfirmed
	case models.RemovalReplaced:
		return models.StateReplaced
	default:
		return models.StateEvicted
	}
}

// RecordReplacement marks oldTxid as Replaced by newTxid and records
// the forward chain for audit.
func (s *State) RecordReplacement(oldTxid, newTxid string) {
	s.replacementChain[oldTxid] = newTxid
	if entry, ok := s.entries[oldTxid]; ok {
		entry.ReplacedBy = newTxid
		entry.State = models.StateReplaced
		entry.StateChangedAt = time.Now()
	}
}

// ConfirmTxids batch-transitions the given Pending txids to Confirmed.
func (s *State) ConfirmTxids(txids []string) {
	now := time.Now()
	for _, txid := range txids {
		if entry, ok := s.entries[txid]; ok && entry.State == models.StatePending {
			entry.State = models.StateConfirmed
			entry.StateChangedAt = now
		}
	}
}

// PendingCount returns the number of Pending entries.
func (s *State) PendingCount() int {
	count := 0
	for _, e := range s.entries {
		if e.State == models.StatePending {
			count++
		}
	}
	return count
}

// TotalFees sums Fee over Pending entries.
func (s *State) TotalFees() int64 {
	var total int64
	for _, e := range s.entries {
		if e.State == models.StatePending {
			total += e.Tx.Fee
		}
	}
	return total
}

// TotalVsize sums Vsize over Pending entries.
func (s *State) TotalVsize() int {
	total := 0
	for _, e := range s.entries {
		if e.State == models.StatePending {
			total += e.Tx.Vsize
		}
	}
	return total
}

// FeeHistogram counts Pending entries per fee-rate bucket, in bucket
// order.
func (s *State) FeeHistogram() []models.FeeBucket {
	counts := make([]int, len(feeBuckets))
	for _, e := range s.entries {
		if e.State != models.StatePending {
			continue
		}
		rate := e.Tx.FeeRate
		for i, b := range feeBuckets {
			if b.contains(rate) {
				counts[i]++
				break
			}
		}
	}
	out := make([]models.FeeBucket, len(feeBuckets))
	for i, b := range feeBuckets {
		out[i] = models.FeeBucket{Label: b.label, Count: counts[i]}
	}
	return out
}

// Prune removes non-Pending entries whose state changed more than
// maxAge ago.
func (s *State) Prune(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	for txid, e := range s.entries {
		if e.State != models.StatePending && e.StateChangedAt.Before(cutoff) {
			delete(s.entries, txid)
			delete(s.replacementChain, txid)
		}
	}
}

// Get returns the entry for txid, if present.
func (s *State) Get(txid string) (models.MempoolEntry, bool) {
	e, ok := s.entries[txid]
	if !ok {
		return models.MempoolEntry{}, false
	}
	return *e, true
}
