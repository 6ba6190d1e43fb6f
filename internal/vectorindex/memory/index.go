// Package memory is an in-process VectorIndex for tests and single-node
// deployments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"docqa/internal/rag"
)

var ErrInvalidEntry = errors.New("index entry requires id, document id and owner id")

type slot struct {
	entry rag.IndexEntry
	seq   uint64
	live  bool
}

// Index keeps entries in a slot arena addressed by id. Freed slots are reused.
// The seq of an id survives replacement so ties keep first-insertion order.
type Index struct {
	dim int

	mu    sync.RWMutex
	slots []slot
	free  []int
	byID  map[string]int
	byDoc map[string]map[string]struct{}
	seq   uint64
}

func New(dim int) *Index {
	if dim <= 0 {
		dim = rag.DefaultDimension
	}
	return &Index{
		dim:   dim,
		byID:  make(map[string]int),
		byDoc: make(map[string]map[string]struct{}),
	}
}

func (x *Index) Upsert(_ context.Context, entries []rag.IndexEntry) error {
	for _, e := range entries {
		if e.ID == "" || e.Metadata.DocumentID == "" || e.Metadata.OwnerID == "" {
			return fmt.Errorf("%w: %q", ErrInvalidEntry, e.ID)
		}
		if len(e.Vector) != x.dim {
			panic(fmt.Sprintf("memory index: vector for %s has %d components, want %d", e.ID, len(e.Vector), x.dim))
		}
	}

	totals := make(map[string]int)
	written := make(map[string]struct{}, len(entries))

	x.mu.Lock()
	defer x.mu.Unlock()

	for _, e := range entries {
		e.Vector = append([]float64(nil), e.Vector...)
		written[e.ID] = struct{}{}
		if t, ok := totals[e.Metadata.DocumentID]; !ok || e.Metadata.TotalChunks > t {
			totals[e.Metadata.DocumentID] = e.Metadata.TotalChunks
		}

		if i, ok := x.byID[e.ID]; ok {
			prev := x.slots[i].entry.Metadata.DocumentID
			if prev != e.Metadata.DocumentID {
				x.unlinkDoc(prev, e.ID)
			}
			x.slots[i].entry = e
		} else {
			x.seq++
			x.byID[e.ID] = x.alloc(slot{entry: e, seq: x.seq, live: true})
		}
		ids := x.byDoc[e.Metadata.DocumentID]
		if ids == nil {
			ids = make(map[string]struct{})
			x.byDoc[e.Metadata.DocumentID] = ids
		}
		ids[e.ID] = struct{}{}
	}

	for docID, total := range totals {
		for id := range x.byDoc[docID] {
			if _, ok := written[id]; ok {
				continue
			}
			if x.slots[x.byID[id]].entry.Metadata.ChunkIndex >= total {
				x.remove(id)
			}
		}
	}
	return nil
}

func (x *Index) Query(_ context.Context, q rag.Query) ([]rag.RetrievalResult, error) {
	if q.OwnerID == "" || q.K <= 0 {
		return []rag.RetrievalResult{}, nil
	}
	if len(q.Vector) != x.dim {
		panic(fmt.Sprintf("memory index: query vector has %d components, want %d", len(q.Vector), x.dim))
	}

	type scored struct {
		result rag.RetrievalResult
		seq    uint64
	}

	x.mu.RLock()
	var hits []scored
	for i := range x.slots {
		s := &x.slots[i]
		if !s.live || s.entry.Metadata.OwnerID != q.OwnerID {
			continue
		}
		hits = append(hits, scored{
			result: rag.RetrievalResult{
				ID:       s.entry.ID,
				Score:    rag.Dot(q.Vector, s.entry.Vector),
				Metadata: s.entry.Metadata,
			},
			seq: s.seq,
		})
	}
	x.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].result.Score != hits[j].result.Score {
			return hits[i].result.Score > hits[j].result.Score
		}
		return hits[i].seq < hits[j].seq
	})
	if len(hits) > q.K {
		hits = hits[:q.K]
	}
	results := make([]rag.RetrievalResult, len(hits))
	for i, h := range hits {
		results[i] = h.result
	}
	return results, nil
}

func (x *Index) Delete(_ context.Context, documentID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for id := range x.byDoc[documentID] {
		x.remove(id)
	}
	delete(x.byDoc, documentID)
	return nil
}

// Len reports the number of live entries.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byID)
}

func (x *Index) alloc(s slot) int {
	if n := len(x.free); n > 0 {
		i := x.free[n-1]
		x.free = x.free[:n-1]
		x.slots[i] = s
		return i
	}
	x.slots = append(x.slots, s)
	return len(x.slots) - 1
}

func (x *Index) remove(id string) {
	i, ok := x.byID[id]
	if !ok {
		return
	}
	x.unlinkDoc(x.slots[i].entry.Metadata.DocumentID, id)
	x.slots[i] = slot{}
	x.free = append(x.free, i)
	delete(x.byID, id)
}

func (x *Index) unlinkDoc(documentID, id string) {
	ids := x.byDoc[documentID]
	delete(ids, id)
	if len(ids) == 0 {
		delete(x.byDoc, documentID)
	}
}
