package scoring

import "github.com/rawblock/mempool-signal-engine/pkg/models"

// AlertThresholds configures the score cutoffs for alert
// classification. Defaults mirror spec.md §4.F (80/60/40).
type AlertThresholds struct {
	Critical float64
	High     float64
	Medium   float64
}

// DefaultAlertThresholds returns the spec-default 80/60/40 cutoffs.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{Critical: 80.0, High: 60.0, Medium: 40.0}
}

// Engine evaluates the closed rule set against a tx, with per-rule
// weight overrides layered on top of each rule's default weight.
type Engine struct {
	rules      []Rule
	weights    map[string]float64
	thresholds AlertThresholds
}

// NewEngine builds an Engine from the default rule set, applying any
// weight override present in weightOverrides (keyed by rule name).
func NewEngine(weightOverrides map[string]float64, thresholds AlertThresholds) *Engine {
	return &Engine{
		rules:      DefaultRules(),
		weights:    weightOverrides,
		thresholds: thresholds,
	}
}

func (e *Engine) weightFor(r Rule) float64 {
	if e.weights != nil {
		if w, ok := e.weights[r.Name()]; ok {
			return w
		}
	}
	return r.DefaultWeight()
}

// Score evaluates every rule against tx and returns the composite
// ScoredTx.
func (e *Engine) Score(tx models.AnalyzedTx) models.ScoredTx {
	ruleScores := make([]models.RuleScore, 0, len(e.rules))
	for _, r := range e.rules {
		weight := e.weightFor(r)
		raw := r.Evaluate(tx)
		ruleScores = append(ruleScores, models.RuleScore{
			RuleName:      r.Name(),
			RawValue:      raw,
			Weight:        weight,
			WeightedScore: raw * weight,
		})
	}

	composite := ComputeComposite(ruleScores)

	return models.ScoredTx{
		Tx:             tx,
		CompositeScore: composite,
		RuleScores:     ruleScores,
		AlertLevel:     e.classify(composite),
	}
}

func (e *Engine) classify(score float64) models.AlertLevel {
	switch {
	case score >= e.thresholds.Critical:
		return models.AlertCritical
	case score >= e.thresholds.High:
		return models.AlertHigh
	case score >= e.thresholds.Medium:
		return models.AlertMedium
	default:
		return models.AlertLow
	}
}

// ComputeComposite renormalizes weighted rule scores to [0, 100].
func ComputeComposite(scores []models.RuleScore) float64 {
	var totalWeighted, maxPossible float64
	for _, s := range scores {
		totalWeighted += s.WeightedScore
		w := s.Weight
		if w < 0 {
			w = -w
		}
		maxPossible += w
	}
	if maxPossible == 0 {
		return 0.0
	}
	score := totalWeighted / maxPossible * 100.0
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
