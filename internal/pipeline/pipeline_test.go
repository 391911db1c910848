package pipeline

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/rawblock/mempool-signal-engine/internal/mempoolstate"
	"github.com/rawblock/mempool-signal-engine/internal/prevout"
	"github.com/rawblock/mempool-signal-engine/internal/scoring"
	"github.com/rawblock/mempool-signal-engine/internal/tagindex"
	"github.com/rawblock/mempool-signal-engine/pkg/models"
)

type nopCache struct{}

func (nopCache) GetPrevout(ctx context.Context, txid string, vout uint32) (models.Prevout, bool, error) {
	return models.Prevout{}, false, nil
}
func (nopCache) PutPrevout(ctx context.Context, txid string, vout uint32, p models.Prevout) error {
	return nil
}

type fakeRPC struct{}

func (fakeRPC) GetRawTransactionVerbose(ctx context.Context, txid string) (prevout.RawTxResult, error) {
	return prevout.RawTxResult{
		Vout:        []prevout.RawVout{{ValueBTC: 0.001, ScriptType: "pubkeyhash"}},
		BlockHeight: 100,
		BlockTime:   time.Now().Add(-24 * time.Hour).Unix(),
	}, nil
}

type collectingStore struct {
	flushed [][]models.SignalRecord
}

func (s *collectingStore) FlushSignals(ctx context.Context, recs []models.SignalRecord) error {
	cp := make([]models.SignalRecord, len(recs))
	copy(cp, recs)
	s.flushed = append(s.flushed, cp)
	return nil
}

func buildRawTx(t *testing.T) []byte {
	t.Helper()
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: 0},
		Sequence:         0xFFFFFFFF,
	})
	pkScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).AddOp(txscript.OP_HASH160).
		AddData(make([]byte, 20)).
		AddOp(txscript.OP_EQUALVERIFY).AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		t.Fatal(err)
	}
	tx.AddTxOut(wire.NewTxOut(90000, pkScript))

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestPipeline(store SignalStore) *Pipeline {
	resolver := prevout.New(nopCache{}, fakeRPC{})
	tags := tagindex.New(nil, nil)
	scorer := scoring.NewEngine(nil, scoring.DefaultAlertThresholds())
	state := mempoolstate.New()
	return New(resolver, tags, scorer, state, store, nil, 0.0)
}

func TestHandleTxAddedProducesScoredTxAndAddsToState(t *testing.T) {
	p := newTestPipeline(&collectingStore{})
	raw := buildRawTx(t)

	rec, scored, ok := p.handleTxAdded(context.Background(), models.TxAddedEvent{Txid: "ignored", Raw: raw})
	if !ok {
		t.Fatal("expected successful decode")
	}
	if scored.Tx.TotalInputValue != 100000 {
		t.Fatalf("expected resolved input value 100000, got %d", scored.Tx.TotalInputValue)
	}
	if scored.Tx.Fee != 10000 {
		t.Fatalf("expected fee 10000, got %d", scored.Tx.Fee)
	}
	if rec == nil {
		t.Fatal("expected a persisted signal record given zero persist threshold")
	}
	if _, found := p.state.Get(scored.Tx.Txid); !found {
		t.Fatal("expected tx added to mempool state")
	}
}

func TestHandleTxAddedMalformedRawReturnsNotOK(t *testing.T) {
	p := newTestPipeline(&collectingStore{})
	_, _, ok := p.handleTxAdded(context.Background(), models.TxAddedEvent{Txid: "x", Raw: []byte{1, 2, 3}})
	if ok {
		t.Fatal("expected malformed raw tx to fail decode")
	}
}

func TestRunProcessesEventsAndShutsDownOnChannelClose(t *testing.T) {
	store := &collectingStore{}
	p := newTestPipeline(store)

	events := make(chan models.MempoolEvent, 4)
	out := make(chan models.PipelineOutput, 8)

	events <- models.TxAddedEvent{Txid: "a", Raw: buildRawTx(t)}
	events <- models.BlockConnectedEvent{BlockHash: "deadbeef", Height: 800000}
	events <- models.TxRemovedEvent{Txid: "a", Reason: models.RemovalConfirmed}
	close(events)

	done := make(chan struct{})
	go func() {
		p.Run(context.Background(), events, out)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not shut down after channel close")
	}

	var sawNewTx, sawBlock bool
	for {
		select {
		case o := <-out:
			switch o.(type) {
			case models.NewTxOutput:
				sawNewTx = true
			case models.BlockConnectedOutput:
				sawBlock = true
			}
			continue
		default:
		}
		break
	}
	if !sawNewTx || !sawBlock {
		t.Fatalf("expected both NewTxOutput and BlockConnectedOutput, got newTx=%v block=%v", sawNewTx, sawBlock)
	}
	if len(store.flushed) == 0 {
		t.Fatal("expected pending signals to flush on shutdown")
	}
}
