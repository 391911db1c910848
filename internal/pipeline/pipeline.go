// Package pipeline owns the engine's single serial event loop: decode,
// enrich, score, persist, and fan out every mempool event.
package pipeline

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/rawblock/mempool-signal-engine/internal/coinjoin"
	"github.com/rawblock/mempool-signal-engine/internal/mempoolstate"
	"github.com/rawblock/mempool-signal-engine/internal/notify"
	"github.com/rawblock/mempool-signal-engine/internal/prevout"
	"github.com/rawblock/mempool-signal-engine/internal/scoring"
	"github.com/rawblock/mempool-signal-engine/internal/tagindex"
	"github.com/rawblock/mempool-signal-engine/internal/txdecode"
	"github.com/rawblock/mempool-signal-engine/pkg/models"
)

const (
	statsTxInterval   = 100
	statsTimeInterval = 5 * time.Second
	pruneInterval     = 60 * time.Second
	pruneAge          = 5 * time.Minute
	signalBatchSize   = 64
	signalBatchAge    = 1 * time.Second
)

// SignalStore is the persistence boundary for scored signals.
type SignalStore interface {
	FlushSignals(ctx context.Context, recs []models.SignalRecord) error
}

// Pipeline wires together decoding, enrichment, scoring, persistence,
// and the two fan-out consumers (presentation, notification).
type Pipeline struct {
	resolver  *prevout.Resolver
	tags      *tagindex.Index
	scorer    *scoring.Engine
	state     *mempoolstate.State
	store     SignalStore
	notifier  *notify.Notifier
	persistAt float64

	txCount   uint64
	blockCount uint64
}

// New builds a Pipeline. persistThreshold is the minimum composite
// score (spec.md §4.H default 10) a transaction must reach before its
// signal is queued for persistence.
func New(resolver *prevout.Resolver, tags *tagindex.Index, scorer *scoring.Engine, state *mempoolstate.State, store SignalStore, notifier *notify.Notifier, persistThreshold float64) *Pipeline {
	return &Pipeline{
		resolver:  resolver,
		tags:      tags,
		scorer:    scorer,
		state:     state,
		store:     store,
		notifier:  notifier,
		persistAt: persistThreshold,
	}
}

// Run consumes events until the channel is closed or ctx is cancelled,
// emitting PipelineOutput to out. It blocks until the event channel is
// drained and pending signals are flushed.
func (p *Pipeline) Run(ctx context.Context, events <-chan models.MempoolEvent, out chan<- models.PipelineOutput) {
	log.Println("[pipeline] started")

	statsTicker := time.NewTicker(statsTimeInterval)
	defer statsTicker.Stop()
	pruneTicker := time.NewTicker(pruneInterval)
	defer pruneTicker.Stop()
	batchTicker := time.NewTicker(signalBatchAge)
	defer batchTicker.Stop()

	var pending []models.SignalRecord
	txSinceStats := 0

	flush := func() {
		if len(pending) == 0 {
			return
		}
		if err := p.store.FlushSignals(ctx, pending); err != nil {
			log.Printf("[pipeline] failed to flush %d signals: %v", len(pending), err)
		}
		pending = nil
	}
	defer flush()

	emitStats := func() {
		select {
		case out <- models.MempoolStatsOutput{Stats: models.MempoolStats{
			PendingCount: p.state.PendingCount(),
			TotalVsize:   p.state.TotalVsize(),
			TotalFees:    p.state.TotalFees(),
			FeeHistogram: p.state.FeeHistogram(),
		}}:
		case <-ctx.Done():
		}
	}

	for {
		select {
		case <-ctx.Done():
			log.Printf("[pipeline] context cancelled after %d txs, %d blocks", p.txCount, p.blockCount)
			return

		case <-pruneTicker.C:
			p.state.Prune(pruneAge)

		case <-batchTicker.C:
			flush()

		case <-statsTicker.C:
			emitStats()
			txSinceStats = 0

		case event, ok := <-events:
			if !ok {
				log.Printf("[pipeline] event channel closed, shutting down after %d txs, %d blocks", p.txCount, p.blockCount)
				return
			}

			switch ev := event.(type) {
			case models.TxAddedEvent:
				rec, scored, ok := p.handleTxAdded(ctx, ev)
				if !ok {
					continue
				}
				if rec != nil {
					pending = append(pending, *rec)
					if len(pending) >= signalBatchSize {
						flush()
					}
				}
				if p.notifier != nil {
					p.notifier.Notify(scored)
				}

				p.txCount++
				txSinceStats++
				if txSinceStats >= statsTxInterval {
					emitStats()
					txSinceStats = 0
				}

				select {
				case out <- models.NewTxOutput{Scored: scored}:
				case <-ctx.Done():
					return
				}

			case models.BlockConnectedEvent:
				p.blockCount++
				log.Printf("[pipeline] block connected height=%d (total seen=%d)", ev.Height, p.blockCount)
				select {
				case out <- models.BlockConnectedOutput{Height: ev.Height}:
				case <-ctx.Done():
					return
				}
				emitStats()

			case models.BlockDisconnectedEvent:
				log.Printf("[pipeline] block disconnected hash=%s height=%d", ev.BlockHash, ev.Height)

			case models.TxRemovedEvent:
				p.state.Remove(ev.Txid, ev.Reason)
			}
		}
	}
}

// handleTxAdded decodes, enriches, and scores a single rawtx event. ok
// is false if the raw bytes failed to decode (logged, not fatal).
func (p *Pipeline) handleTxAdded(ctx context.Context, ev models.TxAddedEvent) (*models.SignalRecord, models.ScoredTx, bool) {
	parsed, err := txdecode.Parse(ev.Raw)
	if err != nil {
		log.Printf("[pipeline] failed to parse raw tx %s: %v", ev.Txid, err)
		return nil, models.ScoredTx{}, false
	}

	agg := p.resolver.ResolveAll(ctx, parsed)

	var totalOutputValue int64
	for _, o := range parsed.Outputs {
		totalOutputValue += o.ValueSats
	}

	var fee int64
	var feeRate float64
	if agg.TotalInputValue > 0 {
		fee = agg.TotalInputValue - totalOutputValue
		if fee < 0 {
			fee = 0
		}
		if parsed.Vsize > 0 {
			feeRate = float64(fee) / float64(parsed.Vsize)
		}
	}

	cjResult := coinjoin.Detect(parsed)

	outputAddrs := txdecode.OutputAddresses(parsed)
	outputMatches := p.tags.CheckOutputs(outputAddrs)
	toExchange := len(outputMatches) > 0
	toExchangeConf := 0.0
	for _, m := range outputMatches {
		if m.Tag.Confidence > toExchangeConf {
			toExchangeConf = m.Tag.Confidence
		}
	}

	analyzed := models.AnalyzedTx{
		Txid:              parsed.Txid,
		RawSize:           parsed.RawSize,
		Vsize:             parsed.Vsize,
		TotalInputValue:   agg.TotalInputValue,
		TotalOutputValue:  totalOutputValue,
		Fee:               fee,
		FeeRate:           feeRate,
		InputCount:        len(parsed.Inputs),
		OutputCount:       len(parsed.Outputs),
		OldestInputHeight: agg.OldestInputHeight,
		OldestInputTime:   agg.OldestInputTime,
		CoinDaysDestroyed: agg.CoinDaysDestroyed,
		IsRBFSignaling:    parsed.HasRBFSignal(),
		ToExchange:        toExchange,
		ToExchangeConf:    toExchangeConf,
		IsCoinJoin:        cjResult.IsCoinJoin,
		CoinJoinConf:      cjResult.Confidence,
		CoinJoinPattern:   cjResult.Pattern,
		PrevoutsResolved:  agg.ResolvedCount == len(parsed.Inputs),
		SeenAt:            time.Now(),
		OutputAddresses:   outputAddrs,
	}

	p.state.Add(analyzed)
	scored := p.scorer.Score(analyzed)

	var rec *models.SignalRecord
	if scored.CompositeScore >= p.persistAt {
		ruleScoresJSON, err := json.Marshal(scored.RuleScores)
		if err != nil {
			log.Printf("[pipeline] failed to marshal rule scores for %s: %v", analyzed.Txid, err)
			ruleScoresJSON = []byte("[]")
		}
		rec = &models.SignalRecord{
			Txid:              analyzed.Txid,
			Score:             scored.CompositeScore,
			AlertLevel:        scored.AlertLevel,
			RuleScoresJSON:    ruleScoresJSON,
			ToExchange:        analyzed.ToExchange,
			TotalInputValue:   analyzed.TotalInputValue,
			FeeRate:           analyzed.FeeRate,
			CoinDaysDestroyed: analyzed.CoinDaysDestroyed,
			BlockHeightSeen:   agg.OldestInputHeight,
			CreatedAt:         analyzed.SeenAt,
		}
	}

	return rec, scored, true
}
