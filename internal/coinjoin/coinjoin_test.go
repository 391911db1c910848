package coinjoin

import (
	"testing"

	"github.com/rawblock/mempool-signal-engine/pkg/models"
)

func makeTx(inputCount int, outputsSats []int64) models.ParsedTx {
	inputs := make([]models.TxIn, inputCount)
	outputs := make([]models.TxOut, len(outputsSats))
	for i, v := range outputsSats {
		outputs[i] = models.TxOut{ValueSats: v}
	}
	return models.ParsedTx{Inputs: inputs, Outputs: outputs}
}

func TestNotCoinJoinSimple(t *testing.T) {
	r := Detect(makeTx(1, []int64{50_000, 100_000}))
	if r.IsCoinJoin {
		t.Fatal("expected not coinjoin")
	}
}

func TestWhirlpoolDetected(t *testing.T) {
	outputs := append(repeat(1_000_000, 5), 50_000)
	r := Detect(makeTx(5, outputs))
	if !r.IsCoinJoin || r.Pattern != models.PatternWhirlpoolPool || r.Confidence < 0.9 {
		t.Fatalf("got %+v", r)
	}
}

func TestWasabiLikeDetected(t *testing.T) {
	outputs := append(repeat(10_000_000, 20), 500_000, 300_000, 200_000)
	r := Detect(makeTx(15, outputs))
	if !r.IsCoinJoin || r.Pattern != models.PatternWasabiLike {
		t.Fatalf("got %+v", r)
	}
}

func TestEqualOutputDetected(t *testing.T) {
	outputs := append(repeat(1_234_567, 8), 50_000)
	r := Detect(makeTx(6, outputs))
	if !r.IsCoinJoin || r.Pattern != models.PatternEqualOutput {
		t.Fatalf("got %+v", r)
	}
}

func TestNotCoinJoinFewEqual(t *testing.T) {
	r := Detect(makeTx(5, []int64{100_000, 100_000, 200_000, 300_000, 400_000}))
	if r.IsCoinJoin {
		t.Fatal("expected not coinjoin")
	}
}

func TestEmptyOutputs(t *testing.T) {
	r := Detect(makeTx(0, nil))
	if r.IsCoinJoin {
		t.Fatal("expected not coinjoin")
	}
}

func TestWhirlpoolAllPoolSizes(t *testing.T) {
	for _, pool := range []int64{100_000, 1_000_000, 5_000_000, 50_000_000} {
		outputs := append(repeat(pool, 5), 10_000)
		r := Detect(makeTx(5, outputs))
		if !r.IsCoinJoin || r.Pattern != models.PatternWhirlpoolPool || r.Confidence < 0.9 {
			t.Fatalf("pool %d: got %+v", pool, r)
		}
	}
}

func TestConsolidationNotCoinJoin(t *testing.T) {
	r := Detect(makeTx(10, []int64{1_000_000}))
	if r.IsCoinJoin {
		t.Fatal("expected not coinjoin")
	}
}

func TestThreeEqualHighRatioWeakSignal(t *testing.T) {
	r := Detect(makeTx(3, []int64{500_000, 500_000, 500_000, 10_000}))
	if !r.IsCoinJoin || r.Confidence != 0.5 {
		t.Fatalf("got %+v", r)
	}
}

func TestEqualRatioBelow50Percent(t *testing.T) {
	r := Detect(makeTx(5, []int64{100_000, 100_000, 100_000, 200_000, 300_000, 400_000, 500_000, 600_000}))
	if r.IsCoinJoin {
		t.Fatal("expected not coinjoin")
	}
}

func repeat(v int64, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
