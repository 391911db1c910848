package mempoolstate

import (
	"testing"
	"time"

	"github.com/rawblock/mempool-signal-engine/pkg/models"
)

func TestAddAndPendingCount(t *testing.T) {
	s := New()
	s.Add(models.AnalyzedTx{Txid: "a", Fee: 100, Vsize: 200, FeeRate: 3})
	s.Add(models.AnalyzedTx{Txid: "b", Fee: 50, Vsize: 100, FeeRate: 12})
	if s.PendingCount() != 2 {
		t.Fatalf("got %d", s.PendingCount())
	}
	if s.TotalFees() != 150 {
		t.Fatalf("got %d", s.TotalFees())
	}
}

func TestRemoveTransitionsState(t *testing.T) {
	s := New()
	s.Add(models.AnalyzedTx{Txid: "a"})
	s.Remove("a", models.RemovalReplaced)
	e, ok := s.Get("a")
	if !ok || e.State != models.StateReplaced {
		t.Fatalf("got %+v", e)
	}
	if s.PendingCount() != 0 {
		t.Fatalf("expected pending count 0, got %d", s.PendingCount())
	}
}

func TestFeeHistogram(t *testing.T) {
	s := New()
	s.Add(models.AnalyzedTx{Txid: "a", FeeRate: 3})
	s.Add(models.AnalyzedTx{Txid: "b", FeeRate: 12})
	s.Add(models.AnalyzedTx{Txid: "c", FeeRate: 12})

	hist := s.FeeHistogram()
	want := map[string]int{"1-5": 1, "5-10": 0, "10-20": 2, "20-50": 0, "50-100": 0, "100+": 0}
	sum := 0
	for _, b := range hist {
		if want[b.Label] != b.Count {
			t.Fatalf("bucket %s: got %d want %d", b.Label, b.Count, want[b.Label])
		}
		sum += b.Count
	}
	if sum != s.PendingCount() {
		t.Fatalf("histogram sum %d != pending count %d", sum, s.PendingCount())
	}
}

func TestPruneOldRemovesNonPending(t *testing.T) {
	s := New()
	s.Add(models.AnalyzedTx{Txid: "a"})
	s.Remove("a", models.RemovalConfirmed)
	s.entries["a"].StateChangedAt = time.Now().Add(-10 * time.Minute)

	s.Prune(5 * time.Minute)
	if _, ok := s.Get("a"); ok {
		t.Fatal("expected entry pruned")
	}
}

func TestPruneZeroRemovesAllNonPending(t *testing.T) {
	s := New()
	s.Add(models.AnalyzedTx{Txid: "a"})
	s.Remove("a", models.RemovalEvicted)
	s.Prune(0)
	if _, ok := s.Get("a"); ok {
		t.Fatal("expected entry pruned at maxAge=0")
	}
}

func TestPruneKeepsPending(t *testing.T) {
	s := New()
	s.Add(models.AnalyzedTx{Txid: "a"})
	s.Prune(0)
	if _, ok := s.Get("a"); !ok {
		t.Fatal("pending entry should never be pruned")
	}
}
