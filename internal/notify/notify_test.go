package notify

import (
	"testing"

	"github.com/rawblock/mempool-signal-engine/pkg/models"
)

func makeScored(score float64, toExchange bool) models.ScoredTx {
	return models.ScoredTx{
		Tx: models.AnalyzedTx{
			Txid:            "aabbccdd11223344",
			TotalInputValue: 500_000_000,
			ToExchange:      toExchange,
		},
		CompositeScore: score,
		AlertLevel:     models.AlertHigh,
	}
}

func TestCooldownBlocksRapidNotifications(t *testing.T) {
	n := New(Config{Enabled: true, MinScore: 60, CooldownSeconds: 30})
	if !n.checkCooldown() {
		t.Fatal("expected first call to pass cooldown")
	}
	if n.checkCooldown() {
		t.Fatal("expected immediate second call to be blocked")
	}
}

func TestCooldownZeroAllowsAll(t *testing.T) {
	n := New(Config{Enabled: true, MinScore: 60, CooldownSeconds: 0})
	if !n.checkCooldown() {
		t.Fatal("expected pass")
	}
	if !n.checkCooldown() {
		t.Fatal("expected zero cooldown to always allow")
	}
}

func TestDisabledNotifierSkips(t *testing.T) {
	n := New(Config{Enabled: false, MinScore: 60})
	if n.Notify(makeScored(90, false)) {
		t.Fatal("expected disabled notifier to skip")
	}
}

func TestBelowMinScoreSkips(t *testing.T) {
	n := New(Config{Enabled: true, MinScore: 60})
	if n.Notify(makeScored(50, false)) {
		t.Fatal("expected below-threshold score to skip")
	}
}

func TestAboveMinScoreWithNoWebhookStillCountsAsSent(t *testing.T) {
	n := New(Config{Enabled: true, MinScore: 60, CooldownSeconds: 0})
	if !n.Notify(makeScored(90, true)) {
		t.Fatal("expected notification to be dispatched (logged locally, no webhook configured)")
	}
}
