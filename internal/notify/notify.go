// Package notify fires webhook notifications for high-scoring
// transactions, gated by a minimum score and a global cooldown so a
// burst of high-score transactions doesn't flood the receiving
// endpoint.
package notify

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/rawblock/mempool-signal-engine/pkg/models"
)

// Config gates and targets notification delivery.
type Config struct {
	Enabled         bool
	MinScore        float64
	CooldownSeconds uint64
	WebhookURL      string
}

// payload is the JSON body posted to the webhook endpoint.
type payload struct {
	Txid       string           `json:"txid"`
	Score      float64          `json:"score"`
	AlertLevel models.AlertLevel `json:"alertLevel"`
	ValueBTC   float64          `json:"valueBtc"`
	ToExchange bool             `json:"toExchange"`
	SentAt     time.Time        `json:"sentAt"`
}

// Notifier sends fire-and-forget webhook notifications. Safe for
// concurrent use; in practice the pipeline is its only caller.
type Notifier struct {
	cfg        Config
	cooldown   time.Duration
	httpClient *http.Client

	mu       sync.Mutex
	lastSent time.Time
}

// New builds a Notifier from cfg.
func New(cfg Config) *Notifier {
	return &Notifier{
		cfg:        cfg,
		cooldown:   time.Duration(cfg.CooldownSeconds) * time.Second,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Notify attempts to send a notification for a scored transaction.
// Returns true if one was actually dispatched (not skipped by the
// enabled flag, the score gate, or the cooldown).
func (n *Notifier) Notify(scored models.ScoredTx) bool {
	if !n.cfg.Enabled {
		return false
	}
	if scored.CompositeScore < n.cfg.MinScore {
		return false
	}
	if !n.checkCooldown() {
		return false
	}

	n.send(scored)
	return true
}

// checkCooldown reports whether enough time has passed since the last
// dispatch, and if so reserves this moment as the new last-sent time.
// A zero cooldown always allows.
func (n *Notifier) checkCooldown() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now()
	if n.cooldown > 0 && !n.lastSent.IsZero() && now.Sub(n.lastSent) < n.cooldown {
		return false
	}
	n.lastSent = now
	return true
}

// send posts the notification in a background goroutine so it never
// blocks the pipeline.
func (n *Notifier) send(scored models.ScoredTx) {
	if n.cfg.WebhookURL == "" {
		log.Printf("[notify] [%s] score=%.0f txid=%s (no webhook configured)",
			scored.AlertLevel, scored.CompositeScore, scored.Tx.Txid)
		return
	}

	p := payload{
		Txid:       scored.Tx.Txid,
		Score:      scored.CompositeScore,
		AlertLevel: scored.AlertLevel,
		ValueBTC:   float64(scored.Tx.TotalInputValue) / 100_000_000.0,
		ToExchange: scored.Tx.ToExchange,
		SentAt:     time.Now(),
	}

	go func() {
		body, err := json.Marshal(p)
		if err != nil {
			log.Printf("[notify] failed to marshal payload: %v", err)
			return
		}

		req, err := http.NewRequest(http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(body))
		if err != nil {
			log.Printf("[notify] failed to build request: %v", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.httpClient.Do(req)
		if err != nil {
			log.Printf("[notify] webhook delivery failed: %v", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			log.Printf("[notify] webhook returned status %d", resp.StatusCode)
		}
	}()
}
