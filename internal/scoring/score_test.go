package scoring

import (
	"math"
	"testing"

	"github.com/rawblock/mempool-signal-engine/pkg/models"
)

func makeScore(name string, raw, weight float64) models.RuleScore {
	return models.RuleScore{RuleName: name, RawValue: raw, Weight: weight, WeightedScore: raw * weight}
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.01
}

func TestComputeCompositeEmpty(t *testing.T) {
	if got := ComputeComposite(nil); got != 0.0 {
		t.Fatalf("got %v", got)
	}
}

func TestComputeCompositeSingleFull(t *testing.T) {
	got := ComputeComposite([]models.RuleScore{makeScore("test", 1.0, 10.0)})
	if !approxEqual(got, 100.0) {
		t.Fatalf("got %v", got)
	}
}

func TestComputeCompositeSingleHalf(t *testing.T) {
	got := ComputeComposite([]models.RuleScore{makeScore("test", 0.5, 10.0)})
	if !approxEqual(got, 50.0) {
		t.Fatalf("got %v", got)
	}
}

func TestComputeCompositeMultiple(t *testing.T) {
	got := ComputeComposite([]models.RuleScore{
		makeScore("a", 1.0, 6.0),
		makeScore("b", 0.5, 4.0),
	})
	if !approxEqual(got, 80.0) {
		t.Fatalf("got %v", got)
	}
}

func TestComputeCompositeNegativeWeight(t *testing.T) {
	got := ComputeComposite([]models.RuleScore{
		makeScore("a", 1.0, 10.0),
		makeScore("cj", 1.0, -6.0),
	})
	if !approxEqual(got, 25.0) {
		t.Fatalf("got %v", got)
	}
}

func TestComputeCompositeClampedToZero(t *testing.T) {
	got := ComputeComposite([]models.RuleScore{
		makeScore("a", 0.0, 10.0),
		makeScore("cj", 1.0, -6.0),
	})
	if got != 0.0 {
		t.Fatalf("got %v", got)
	}
}

func TestComputeCompositeZeroWeights(t *testing.T) {
	got := ComputeComposite([]models.RuleScore{makeScore("a", 1.0, 0.0)})
	if got != 0.0 {
		t.Fatalf("got %v", got)
	}
}

func TestEngineClassify(t *testing.T) {
	e := NewEngine(nil, DefaultAlertThresholds())
	cases := []struct {
		score float64
		want  models.AlertLevel
	}{
		{85, models.AlertCritical},
		{65, models.AlertHigh},
		{45, models.AlertMedium},
		{10, models.AlertLow},
	}
	for _, c := range cases {
		if got := e.classify(c.score); got != c.want {
			t.Fatalf("score %v: got %v want %v", c.score, got, c.want)
		}
	}
}

func TestEngineWeightOverride(t *testing.T) {
	e := NewEngine(map[string]float64{"tx_value": 1.0}, DefaultAlertThresholds())
	for _, r := range e.rules {
		if r.Name() == "tx_value" {
			if e.weightFor(r) != 1.0 {
				t.Fatalf("override not applied")
			}
		}
	}
}
