// Package scoring evaluates a pluggable set of weighted rules over an
// AnalyzedTx and produces a composite score and alert classification.
package scoring

import (
	"time"

	"github.com/rawblock/mempool-signal-engine/pkg/models"
)

// Rule evaluates one aspect of a transaction, returning a raw value in
// [-1, 1] (or [0, 1] for non-penalty rules).
type Rule interface {
	Name() string
	DefaultWeight() float64
	Evaluate(tx models.AnalyzedTx) float64
}

// DefaultRules returns the closed, build-time rule set with its
// default weights.
func DefaultRules() []Rule {
	return []Rule{
		txValueRule{},
		utxoAgeRule{},
		cddRule{},
		inputCountRule{},
		feeRateRule{},
		rbfRule{},
		exchangeFlowRule{},
		coinJoinRule{},
	}
}

type txValueRule struct{}

func (txValueRule) Name() string          { return "tx_value" }
func (txValueRule) DefaultWeight() float64 { return 6.0 }
func (txValueRule) Evaluate(tx models.AnalyzedTx) float64 {
	btc := float64(tx.TotalInputValue) / 100_000_000.0
	return 1.0 - 1.0/(1.0+btc/10.0)
}

type utxoAgeRule struct{}

func (utxoAgeRule) Name() string          { return "utxo_age" }
func (utxoAgeRule) DefaultWeight() float64 { return 8.0 }
func (utxoAgeRule) Evaluate(tx models.AnalyzedTx) float64 {
	if tx.OldestInputTime == 0 {
		return 0.0
	}
	ageDays := time.Since(time.Unix(tx.OldestInputTime, 0)).Hours() / 24.0
	return 1.0 - 1.0/(1.0+ageDays/365.0)
}

type cddRule struct{}

func (cddRule) Name() string          { return "cdd" }
func (cddRule) DefaultWeight() float64 { return 9.0 }
func (cddRule) Evaluate(tx models.AnalyzedTx) float64 {
	if tx.CoinDaysDestroyed == nil {
		return 0.0
	}
	return 1.0 - 1.0/(1.0+*tx.CoinDaysDestroyed/1000.0)
}

type inputCountRule struct{}

func (inputCountRule) Name() string          { return "input_count" }
func (inputCountRule) DefaultWeight() float64 { return 4.0 }
func (inputCountRule) Evaluate(tx models.AnalyzedTx) float64 {
	count := float64(tx.InputCount)
	return 1.0 - 1.0/(1.0+count/20.0)
}

type feeRateRule struct{}

func (feeRateRule) Name() string          { return "fee_rate" }
func (feeRateRule) DefaultWeight() float64 { return 3.0 }
func (feeRateRule) Evaluate(tx models.AnalyzedTx) float64 {
	return 1.0 - 1.0/(1.0+tx.FeeRate/50.0)
}

type rbfRule struct{}

func (rbfRule) Name() string          { return "rbf_flag" }
func (rbfRule) DefaultWeight() float64 { return 2.0 }
func (rbfRule) Evaluate(tx models.AnalyzedTx) float64 {
	if tx.IsRBFSignaling {
		return 0.5
	}
	return 0.0
}

// exchangeFlowRule and coinJoinRule have no counterpart in the
// original Rust rule set; both are carried from spec.md's rule table
// directly.

type exchangeFlowRule struct{}

func (exchangeFlowRule) Name() string          { return "exchange_flow" }
func (exchangeFlowRule) DefaultWeight() float64 { return 10.0 }
func (exchangeFlowRule) Evaluate(tx models.AnalyzedTx) float64 {
	if tx.ToExchange {
		return tx.ToExchangeConf
	}
	if tx.FromExchange {
		return -0.5 * tx.FromExchangeConf
	}
	return 0.0
}

type coinJoinRule struct{}

func (coinJoinRule) Name() string          { return "coinjoin" }
func (coinJoinRule) DefaultWeight() float64 { return -6.0 }
func (coinJoinRule) Evaluate(tx models.AnalyzedTx) float64 {
	if !tx.IsCoinJoin {
		return 0.0
	}
	c := tx.CoinJoinConf
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c
}
