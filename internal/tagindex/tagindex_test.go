package tagindex

import (
	"math"
	"testing"

	"github.com/rawblock/mempool-signal-engine/pkg/models"
)

type fakeStore struct {
	written map[string]models.AddressTag
}

func newFakeStore() *fakeStore {
	return &fakeStore{written: make(map[string]models.AddressTag)}
}

func (f *fakeStore) UpsertTagIfHigher(tag models.AddressTag) (bool, error) {
	if existing, ok := f.written[tag.Address]; ok && existing.Confidence >= tag.Confidence {
		return false, nil
	}
	f.written[tag.Address] = tag
	return true, nil
}

func binanceTag(addr string, confidence float64) models.AddressTag {
	return models.AddressTag{Address: addr, Entity: "Binance", EntityType: "exchange", Confidence: confidence, Source: "manual"}
}

func TestClusterExpansionTagsUnknownInputs(t *testing.T) {
	store := newFakeStore()
	idx := New(nil, store)
	idx.Insert(binanceTag("addr_known", 0.9))

	inputs := []string{"addr_known", "addr_unknown1", "addr_unknown2"}
	n := idx.ExpandFromTx(inputs, false)
	if n != 2 {
		t.Fatalf("got %d", n)
	}

	t1, ok := idx.Get("addr_unknown1")
	if !ok || t1.Entity != "Binance" || math.Abs(t1.Confidence-0.63) > 0.001 || t1.Source != "cluster_heuristic" {
		t.Fatalf("got %+v", t1)
	}
	if _, ok := store.written["addr_unknown1"]; !ok {
		t.Fatal("expected persisted write")
	}
}

func TestClusterExpansionSkippedForCoinJoin(t *testing.T) {
	idx := New(nil, nil)
	idx.Insert(binanceTag("addr_known", 0.9))
	n := idx.ExpandFromTx([]string{"addr_known", "addr_unknown"}, true)
	if n != 0 {
		t.Fatalf("got %d", n)
	}
	if _, ok := idx.Get("addr_unknown"); ok {
		t.Fatal("expected no tag written")
	}
}

func TestClusterExpansionNoOverwriteHigherConfidence(t *testing.T) {
	idx := New(nil, nil)
	idx.Insert(binanceTag("addr_known", 0.9))
	idx.Insert(models.AddressTag{Address: "addr_existing", Entity: "Kraken", EntityType: "exchange", Confidence: 0.8, Source: "manual"})

	n := idx.ExpandFromTx([]string{"addr_known", "addr_existing"}, false)
	if n != 0 {
		t.Fatalf("got %d", n)
	}
	tag, _ := idx.Get("addr_existing")
	if tag.Entity != "Kraken" || tag.Confidence != 0.8 {
		t.Fatalf("got %+v", tag)
	}
}

func TestClusterExpansionSingleInputNoop(t *testing.T) {
	idx := New(nil, nil)
	idx.Insert(binanceTag("addr_known", 0.9))
	if n := idx.ExpandFromTx([]string{"addr_known"}, false); n != 0 {
		t.Fatalf("got %d", n)
	}
}

func TestClusterExpansionNoKnownTags(t *testing.T) {
	idx := New(nil, nil)
	if n := idx.ExpandFromTx([]string{"a", "b"}, false); n != 0 {
		t.Fatalf("got %d", n)
	}
}

func TestUpsertWritesThroughStoreAndIndex(t *testing.T) {
	store := newFakeStore()
	idx := New(nil, store)

	wrote, err := idx.Upsert(binanceTag("addrX", 0.6))
	if err != nil || !wrote {
		t.Fatalf("expected first upsert to write, got wrote=%v err=%v", wrote, err)
	}
	tag, ok := idx.Get("addrX")
	if !ok || tag.Confidence != 0.6 {
		t.Fatalf("got %+v", tag)
	}

	wrote, err = idx.Upsert(binanceTag("addrX", 0.3))
	if err != nil || wrote {
		t.Fatal("expected lower-confidence upsert to be rejected")
	}
	tag, _ = idx.Get("addrX")
	if tag.Confidence != 0.6 {
		t.Fatalf("expected confidence to remain 0.6, got %v", tag.Confidence)
	}
}

func TestCheckOutputsSkipsEmptyAddresses(t *testing.T) {
	idx := New(nil, nil)
	idx.Insert(binanceTag("addr1", 0.9))
	matches := idx.CheckOutputs([]string{"", "addr1", "addr2"})
	if len(matches) != 1 || matches[0].Address != "addr1" {
		t.Fatalf("got %+v", matches)
	}
}
