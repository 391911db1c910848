// Package signalstore persists resolved prevouts, address tags, and
// scored signals to PostgreSQL through a single pooled connection,
// following the teacher's pgxpool wrapping style.
package signalstore

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rawblock/mempool-signal-engine/pkg/models"
)

// Store wraps a pgxpool.Pool with the operations the pipeline, prevout
// resolver, and tag index need. Every method is safe for concurrent
// use. Queries run on pooled connections, at most four at a time;
// apart from FlushSignals, methods are not serialized against each
// other.
type Store struct {
	pool *pgxpool.Pool

	// batchMu serializes FlushSignals against concurrent callers; the
	// pipeline is the only writer in practice. It does not guard the
	// other methods.
	batchMu sync.Mutex
}

// Connect opens a pool against dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	// Bounds write concurrency against the single logical writer the
	// pipeline represents; this is the Postgres-pool analogue of the
	// embedded-database "one connection" durability knob.
	if poolCfg.MaxConns > 4 {
		poolCfg.MaxConns = 4
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	log.Println("[signalstore] connected to PostgreSQL")
	return &Store{pool: pool}, nil
}

// Close closes the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema applies the embedded schema. Additive and idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	log.Println("[signalstore] schema initialized")
	return nil
}

// GetPrevout implements prevout.Cache.
func (s *Store) GetPrevout(ctx context.Context, txid string, vout uint32) (models.Prevout, bool, error) {
	const q = `SELECT value, script_type, block_height, block_time FROM prevout_cache WHERE txid = $1 AND vout = $2`
	var p models.Prevout
	err := s.pool.QueryRow(ctx, q, txid, vout).Scan(&p.ValueSats, &p.ScriptType, &p.BlockHeight, &p.BlockTime)
	if err == pgx.ErrNoRows {
		return models.Prevout{}, false, nil
	}
	if err != nil {
		return models.Prevout{}, false, err
	}
	return p, true, nil
}

// PutPrevout implements prevout.Cache. Prevouts are immutable once
// confirmed, so a conflicting insert is a no-op.
func (s *Store) PutPrevout(ctx context.Context, txid string, vout uint32, p models.Prevout) error {
	const q = `
		INSERT INTO prevout_cache (txid, vout, value, script_type, block_height, block_time)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (txid, vout) DO NOTHING`
	_, err := s.pool.Exec(ctx, q, txid, vout, p.ValueSats, p.ScriptType, p.BlockHeight, p.BlockTime)
	return err
}

// UpsertTagIfHigher implements tagindex.Store: the write only takes
// effect if no row exists or the stored confidence is lower.
func (s *Store) UpsertTagIfHigher(tag models.AddressTag) (bool, error) {
	const q = `
		INSERT INTO address_tags (address, entity, entity_type, confidence, source, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (address) DO UPDATE
		SET entity = EXCLUDED.entity, entity_type = EXCLUDED.entity_type,
		    confidence = EXCLUDED.confidence, source = EXCLUDED.source, updated_at = now()
		WHERE address_tags.confidence < EXCLUDED.confidence`
	ct, err := s.pool.Exec(context.Background(), q, tag.Address, tag.Entity, tag.EntityType, tag.Confidence, tag.Source)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// LoadAllTags loads the full address_tags table for in-memory index
// warm start.
func (s *Store) LoadAllTags(ctx context.Context) ([]models.AddressTag, error) {
	rows, err := s.pool.Query(ctx, `SELECT address, entity, entity_type, confidence, source, updated_at FROM address_tags`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []models.AddressTag
	for rows.Next() {
		var t models.AddressTag
		if err := rows.Scan(&t.Address, &t.Entity, &t.EntityType, &t.Confidence, &t.Source, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// InsertSignal persists a single scored signal.
func (s *Store) InsertSignal(ctx context.Context, rec models.SignalRecord) error {
	const q = `
		INSERT INTO signals (txid, score, alert_level, rule_scores, to_exchange, total_input_value, fee_rate, coin_days_destroyed, block_height_seen, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.pool.Exec(ctx, q, rec.Txid, rec.Score, string(rec.AlertLevel), rec.RuleScoresJSON,
		rec.ToExchange, rec.TotalInputValue, rec.FeeRate, rec.CoinDaysDestroyed, rec.BlockHeightSeen, rec.CreatedAt)
	return err
}

// FlushSignals persists a batch of signals in a single transaction,
// matching spec.md §4.G's "batched insert of N rows under a single
// transaction".
func (s *Store) FlushSignals(ctx context.Context, recs []models.SignalRecord) error {
	if len(recs) == 0 {
		return nil
	}

	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const q = `
		INSERT INTO signals (txid, score, alert_level, rule_scores, to_exchange, total_input_value, fee_rate, coin_days_destroyed, block_height_seen, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	for _, rec := range recs {
		if _, err := tx.Exec(ctx, q, rec.Txid, rec.Score, string(rec.AlertLevel), rec.RuleScoresJSON,
			rec.ToExchange, rec.TotalInputValue, rec.FeeRate, rec.CoinDaysDestroyed, rec.BlockHeightSeen, rec.CreatedAt); err != nil {
			return fmt.Errorf("insert signal %s: %w", rec.Txid, err)
		}
	}
	return tx.Commit(ctx)
}

// RecentSignals returns the most recent signals, newest first.
func (s *Store) RecentSignals(ctx context.Context, limit int) ([]models.SignalRecord, error) {
	const q = `
		SELECT id, txid, score, alert_level, rule_scores, to_exchange, total_input_value, fee_rate, coin_days_destroyed, block_height_seen, created_at
		FROM signals ORDER BY created_at DESC LIMIT $1`
	return s.queryRecords(ctx, q, limit)
}

// TopSignals returns signals scoring at or above threshold, highest
// score first.
func (s *Store) TopSignals(ctx context.Context, threshold float64, limit int) ([]models.SignalRecord, error) {
	const q = `
		SELECT id, txid, score, alert_level, rule_scores, to_exchange, total_input_value, fee_rate, coin_days_destroyed, block_height_seen, created_at
		FROM signals WHERE score >= $1 ORDER BY score DESC LIMIT $2`
	return s.queryRecords(ctx, q, threshold, limit)
}

// SignalsInRange returns signals created within [from, to], ordered by
// creation time ascending.
func (s *Store) SignalsInRange(ctx context.Context, from, to time.Time) ([]models.SignalRecord, error) {
	const q = `
		SELECT id, txid, score, alert_level, rule_scores, to_exchange, total_input_value, fee_rate, coin_days_destroyed, block_height_seen, created_at
		FROM signals WHERE created_at BETWEEN $1 AND $2 ORDER BY created_at ASC`
	return s.queryRecords(ctx, q, from, to)
}

// CountSignals returns the total row count.
func (s *Store) CountSignals(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM signals`).Scan(&n)
	return n, err
}

func (s *Store) queryRecords(ctx context.Context, q string, args ...interface{}) ([]models.SignalRecord, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SignalRecord
	for rows.Next() {
		var rec models.SignalRecord
		var alertLevel string
		if err := rows.Scan(&rec.ID, &rec.Txid, &rec.Score, &alertLevel, &rec.RuleScoresJSON,
			&rec.ToExchange, &rec.TotalInputValue, &rec.FeeRate, &rec.CoinDaysDestroyed,
			&rec.BlockHeightSeen, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.AlertLevel = models.AlertLevel(alertLevel)
		out = append(out, rec)
	}
	return out, rows.Err()
}
