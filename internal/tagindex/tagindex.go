// Package tagindex maintains an in-memory address→entity map, hydrated
// from the persistent store at startup, and implements the
// Common-Input-Ownership cluster-expansion heuristic.
package tagindex

import (
	"log"
	"sync"

	"github.com/rawblock/mempool-signal-engine/pkg/models"
)

// clusterConfidenceFactor scales a propagated tag's confidence
// relative to the tag it was derived from.
const clusterConfidenceFactor = 0.7

// Store is the persistence boundary the index writes cluster-derived
// tags through. Implemented by internal/signalstore.
type Store interface {
	// UpsertTagIfHigher writes tag only if no stored tag for its
	// address exists with confidence >= tag.Confidence. Returns
	// whether the write happened.
	UpsertTagIfHigher(tag models.AddressTag) (wrote bool, err error)
}

// Index is the in-memory tag lookup.
type Index struct {
	mu                     sync.RWMutex
	tags                   map[string]models.AddressTag
	store                  Store
	clusterTagsDiscovered  uint64
}

// New builds an Index from a pre-loaded set of tags (typically read
// from the store at startup) plus an optional write-through store for
// cluster expansion.
func New(initial []models.AddressTag, store Store) *Index {
	m := make(map[string]models.AddressTag, len(initial))
	for _, t := range initial {
		m[t.Address] = t
	}
	log.Printf("[tagindex] loaded %d address tags", len(m))
	return &Index{tags: m, store: store}
}

// Get returns the tag for an address, if known.
func (idx *Index) Get(address string) (models.AddressTag, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	t, ok := idx.tags[address]
	return t, ok
}

// Len returns the number of loaded tags.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.tags)
}

// CheckOutputs matches decoded output addresses against the index,
// yielding ToExchange-direction hits. Undecodable/empty entries in
// addresses are skipped.
func (idx *Index) CheckOutputs(addresses []string) []models.TagMatch {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var matches []models.TagMatch
	for _, addr := range addresses {
		if addr == "" {
			continue
		}
		if tag, ok := idx.tags[addr]; ok {
			matches = append(matches, models.TagMatch{Address: addr, Tag: tag, Direction: models.FlowToExchange})
		}
	}
	return matches
}

// CheckInputAddresses is the symmetric input-side check, yielding
// FromExchange-direction hits. Input addresses must already be
// resolved (raw tx bytes alone rarely decode to an address).
func (idx *Index) CheckInputAddresses(addresses []string) []models.TagMatch {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var matches []models.TagMatch
	for _, addr := range addresses {
		if addr == "" {
			continue
		}
		if tag, ok := idx.tags[addr]; ok {
			matches = append(matches, models.TagMatch{Address: addr, Tag: tag, Direction: models.FlowFromExchange})
		}
	}
	return matches
}

// Insert writes a tag directly into the in-memory map, bypassing the
// cluster heuristic, the store, and any confidence check. Startup
// hydration goes through New and CSV import through Upsert instead.
func (idx *Index) Insert(tag models.AddressTag) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.tags[tag.Address] = tag
}

// Upsert writes tag to the persistent store (if configured) and, only
// if that write took effect (or no store is configured), updates the
// in-memory index too. Used by the entity-tag CSV import endpoint.
func (idx *Index) Upsert(tag models.AddressTag) (wrote bool, err error) {
	if idx.store != nil {
		wrote, err = idx.store.UpsertTagIfHigher(tag)
		if err != nil || !wrote {
			return wrote, err
		}
	} else {
		idx.mu.RLock()
		existing, ok := idx.tags[tag.Address]
		idx.mu.RUnlock()
		if ok && existing.Confidence >= tag.Confidence {
			return false, nil
		}
		wrote = true
	}

	idx.mu.Lock()
	idx.tags[tag.Address] = tag
	idx.mu.Unlock()
	return wrote, nil
}

// ExpandFromTx applies the Common-Input-Ownership Heuristic: if any
// input address carries a known tag, every other input address is
// tagged with the same entity at clusterConfidenceFactor of that
// tag's confidence, unless the input already carries an equal or
// higher confidence tag. Mandatory guard: CoinJoin transactions never
// cluster. Returns the number of new tags written.
func (idx *Index) ExpandFromTx(inputAddresses []string, isCoinJoin bool) int {
	if isCoinJoin {
		return 0
	}
	if len(inputAddresses) < 2 {
		return 0
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	var best *models.AddressTag
	for _, addr := range inputAddresses {
		if addr == "" {
			continue
		}
		if tag, ok := idx.tags[addr]; ok {
			if best == nil || tag.Confidence > best.Confidence {
				t := tag
				best = &t
			}
		}
	}
	if best == nil {
		return 0
	}

	derived := best.Confidence * clusterConfidenceFactor
	newCount := 0

	for _, addr := range inputAddresses {
		if addr == "" {
			continue
		}
		if existing, ok := idx.tags[addr]; ok && existing.Confidence >= derived {
			continue
		}

		newTag := models.AddressTag{
			Address:    addr,
			Entity:     best.Entity,
			EntityType: best.EntityType,
			Confidence: derived,
			Source:     "cluster_heuristic",
		}
		idx.tags[addr] = newTag

		if idx.store != nil {
			if _, err := idx.store.UpsertTagIfHigher(newTag); err != nil {
				log.Printf("[tagindex] failed to persist cluster tag for %s: %v", addr, err)
			}
		}
		newCount++
	}

	if newCount > 0 {
		idx.clusterTagsDiscovered += uint64(newCount)
		log.Printf("[tagindex] cluster expansion: %d new tags (total discovered: %d)", newCount, idx.clusterTagsDiscovered)
	}

	return newCount
}

// ClusterTagsDiscovered returns the running total of tags written by
// ExpandFromTx.
func (idx *Index) ClusterTagsDiscovered() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.clusterTagsDiscovered
}
