// Package coinjoin classifies a parsed transaction's output shape as a
// likely CoinJoin. Pure function, no IO, conservative: prefers false
// negatives over false positives.
package coinjoin

import "github.com/rawblock/mempool-signal-engine/pkg/models"

// whirlpoolPools are known Samourai Whirlpool pool denominations, in
// satoshis.
var whirlpoolPools = map[int64]bool{
	100_000:    true,
	1_000_000:  true,
	5_000_000:  true,
	50_000_000: true,
}

// Detect runs the CoinJoin heuristic over a parsed tx's input/output
// shape. Runs in well under a microsecond; safe to call inline on the
// pipeline's hot path.
func Detect(tx models.ParsedTx) models.CoinJoinResult {
	inputCount := len(tx.Inputs)
	outputCount := len(tx.Outputs)

	none := models.CoinJoinResult{Pattern: models.PatternUnknown}

	if inputCount < 3 || outputCount < 3 {
		return none
	}

	valueCounts := make(map[int64]int, outputCount)
	for _, out := range tx.Outputs {
		valueCounts[out.ValueSats]++
	}

	var bestValue int64
	var bestCount int
	for v, c := range valueCounts {
		if c < 3 {
			continue
		}
		if c > bestCount {
			bestValue, bestCount = v, c
		}
	}
	if bestCount < 3 {
		return none
	}

	equalRatio := float64(bestCount) / float64(outputCount)
	if equalRatio <= 0.5 {
		return none
	}

	manyIO := inputCount >= 5 && outputCount >= 5

	if bestCount == 5 && whirlpoolPools[bestValue] && manyIO {
		return models.CoinJoinResult{IsCoinJoin: true, Confidence: 0.95, Pattern: models.PatternWhirlpoolPool}
	}

	isRound := bestValue%100_000 == 0 && bestValue > 0
	if bestCount >= 5 && manyIO {
		confidence := 0.75
		pattern := models.PatternEqualOutput
		if isRound {
			confidence = 0.85
			if bestCount >= 10 {
				pattern = models.PatternWasabiLike
			}
		}
		return models.CoinJoinResult{IsCoinJoin: true, Confidence: confidence, Pattern: pattern}
	}

	if equalRatio > 0.7 && bestCount >= 3 {
		return models.CoinJoinResult{IsCoinJoin: true, Confidence: 0.5, Pattern: models.PatternEqualOutput}
	}

	return none
}
