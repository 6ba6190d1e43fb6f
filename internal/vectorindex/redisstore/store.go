// Package redisstore is a VectorIndex kept in Redis. Every entry is a hash;
// per-document and per-owner sets index it. Writes to one document run in a
// WATCH/MULTI transaction keyed on the document's version counter.
package redisstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/cenkalti/backoff/v4"
	redisv9 "github.com/redis/go-redis/v9"

	"docqa/internal/rag"
)

const (
	DefaultPrefix = "docqa:index"
	maxTxRetries  = 5

	fieldVector = "vec"
	fieldMeta   = "meta"
	fieldOwner  = "owner"
	fieldDoc    = "doc"
	fieldIndex  = "idx"
	fieldSeq    = "seq"
)

var ErrInvalidEntry = errors.New("index entry requires id, document id and owner id")

type Store struct {
	client redisv9.UniversalClient
	prefix string
	dim    int
}

func New(client redisv9.UniversalClient, prefix string, dim int) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if dim <= 0 {
		dim = rag.DefaultDimension
	}
	return &Store{client: client, prefix: prefix, dim: dim}
}

func (s *Store) Upsert(ctx context.Context, entries []rag.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	byDoc := make(map[string][]rag.IndexEntry)
	var order []string
	for _, e := range entries {
		if e.ID == "" || e.Metadata.DocumentID == "" || e.Metadata.OwnerID == "" {
			return fmt.Errorf("%w: %q", ErrInvalidEntry, e.ID)
		}
		if len(e.Vector) != s.dim {
			panic(fmt.Sprintf("redis index: vector for %s has %d components, want %d", e.ID, len(e.Vector), s.dim))
		}
		if _, ok := byDoc[e.Metadata.DocumentID]; !ok {
			order = append(order, e.Metadata.DocumentID)
		}
		byDoc[e.Metadata.DocumentID] = append(byDoc[e.Metadata.DocumentID], e)
	}

	last, err := s.client.IncrBy(ctx, s.seqKey(), int64(len(entries))).Result()
	if err != nil {
		return fmt.Errorf("reserve index sequence failed: %w", err)
	}
	next := last - int64(len(entries))

	for _, docID := range order {
		docEntries := byDoc[docID]
		base := next
		next += int64(len(docEntries))
		if err := s.withRetry(ctx, func() error {
			return s.client.Watch(ctx, func(tx *redisv9.Tx) error {
				return s.upsertDocument(ctx, tx, docID, docEntries, base)
			}, s.versionKey(docID))
		}); err != nil {
			return fmt.Errorf("upsert document %s failed: %w", docID, err)
		}
	}
	return nil
}

type storedRef struct {
	id    string
	owner string
	doc   string
	index int
	found bool
}

func (s *Store) upsertDocument(ctx context.Context, tx *redisv9.Tx, docID string, entries []rag.IndexEntry, seqBase int64) error {
	existing, err := tx.SMembers(ctx, s.docKey(docID)).Result()
	if err != nil {
		return err
	}

	total := 0
	written := make(map[string]struct{}, len(entries))
	ids := make([]string, 0, len(entries)+len(existing))
	for _, e := range entries {
		written[e.ID] = struct{}{}
		ids = append(ids, e.ID)
		if e.Metadata.TotalChunks > total {
			total = e.Metadata.TotalChunks
		}
	}
	for _, id := range existing {
		if _, ok := written[id]; !ok {
			ids = append(ids, id)
		}
	}
	refs, err := s.loadRefs(ctx, tx, ids)
	if err != nil {
		return err
	}

	payloads := make([][]byte, len(entries))
	for i, e := range entries {
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("marshal index metadata failed: %w", err))
		}
		payloads[i] = meta
	}

	_, err = tx.TxPipelined(ctx, func(pipe redisv9.Pipeliner) error {
		for i, e := range entries {
			key := s.entryKey(e.ID)
			if prev := refs[e.ID]; prev.found {
				if prev.owner != e.Metadata.OwnerID {
					pipe.SRem(ctx, s.ownerKey(prev.owner), e.ID)
				}
				if prev.doc != docID {
					pipe.SRem(ctx, s.docKey(prev.doc), e.ID)
				}
			}
			pipe.HSet(ctx, key,
				fieldVector, encodeVector(e.Vector),
				fieldMeta, payloads[i],
				fieldOwner, e.Metadata.OwnerID,
				fieldDoc, docID,
				fieldIndex, e.Metadata.ChunkIndex,
			)
			pipe.HSetNX(ctx, key, fieldSeq, seqBase+int64(i)+1)
			pipe.SAdd(ctx, s.docKey(docID), e.ID)
			pipe.SAdd(ctx, s.ownerKey(e.Metadata.OwnerID), e.ID)
		}
		for _, id := range existing {
			if _, ok := written[id]; ok {
				continue
			}
			ref := refs[id]
			if ref.found && ref.index < total {
				continue
			}
			s.unlink(ctx, pipe, ref, docID)
		}
		pipe.Incr(ctx, s.versionKey(docID))
		return nil
	})
	return err
}

func (s *Store) loadRefs(ctx context.Context, tx *redisv9.Tx, ids []string) (map[string]storedRef, error) {
	cmds := make([]*redisv9.SliceCmd, len(ids))
	_, err := tx.Pipelined(ctx, func(pipe redisv9.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HMGet(ctx, s.entryKey(id), fieldOwner, fieldDoc, fieldIndex)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redisv9.Nil) {
		return nil, err
	}

	refs := make(map[string]storedRef, len(ids))
	for i, id := range ids {
		vals, err := cmds[i].Result()
		if err != nil {
			return nil, err
		}
		ref := storedRef{id: id}
		owner, _ := vals[0].(string)
		doc, _ := vals[1].(string)
		idx, _ := vals[2].(string)
		if owner != "" {
			ref.found = true
			ref.owner = owner
			ref.doc = doc
			ref.index, _ = strconv.Atoi(idx)
		}
		refs[id] = ref
	}
	return refs, nil
}

func (s *Store) unlink(ctx context.Context, pipe redisv9.Pipeliner, ref storedRef, docID string) {
	pipe.Del(ctx, s.entryKey(ref.id))
	pipe.SRem(ctx, s.docKey(docID), ref.id)
	if ref.owner != "" {
		pipe.SRem(ctx, s.ownerKey(ref.owner), ref.id)
	}
}

func (s *Store) Delete(ctx context.Context, documentID string) error {
	err := s.withRetry(ctx, func() error {
		return s.client.Watch(ctx, func(tx *redisv9.Tx) error {
			ids, err := tx.SMembers(ctx, s.docKey(documentID)).Result()
			if err != nil {
				return err
			}
			refs, err := s.loadRefs(ctx, tx, ids)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redisv9.Pipeliner) error {
				for _, id := range ids {
					s.unlink(ctx, pipe, refs[id], documentID)
				}
				pipe.Del(ctx, s.docKey(documentID))
				pipe.Incr(ctx, s.versionKey(documentID))
				return nil
			})
			return err
		}, s.versionKey(documentID))
	})
	if err != nil {
		return fmt.Errorf("delete document %s failed: %w", documentID, err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, q rag.Query) ([]rag.RetrievalResult, error) {
	if q.OwnerID == "" || q.K <= 0 {
		return []rag.RetrievalResult{}, nil
	}
	if len(q.Vector) != s.dim {
		panic(fmt.Sprintf("redis index: query vector has %d components, want %d", len(q.Vector), s.dim))
	}

	ids, err := s.client.SMembers(ctx, s.ownerKey(q.OwnerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list owner entries failed: %w", err)
	}
	if len(ids) == 0 {
		return []rag.RetrievalResult{}, nil
	}

	cmds := make([]*redisv9.SliceCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redisv9.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HMGet(ctx, s.entryKey(id), fieldVector, fieldMeta, fieldOwner, fieldSeq)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redisv9.Nil) {
		return nil, fmt.Errorf("load index entries failed: %w", err)
	}

	type scored struct {
		result rag.RetrievalResult
		seq    int64
	}
	hits := make([]scored, 0, len(ids))
	for i, id := range ids {
		vals, err := cmds[i].Result()
		if err != nil {
			return nil, fmt.Errorf("load index entry %s failed: %w", id, err)
		}
		rawVec, _ := vals[0].(string)
		rawMeta, _ := vals[1].(string)
		owner, _ := vals[2].(string)
		rawSeq, _ := vals[3].(string)
		if rawVec == "" || owner != q.OwnerID {
			continue
		}
		vec, err := decodeVector([]byte(rawVec))
		if err != nil {
			return nil, fmt.Errorf("decode vector %s failed: %w", id, err)
		}
		if len(vec) != s.dim {
			return nil, fmt.Errorf("stored vector %s has %d components, want %d", id, len(vec), s.dim)
		}
		var meta rag.Metadata
		if err := json.Unmarshal([]byte(rawMeta), &meta); err != nil {
			return nil, fmt.Errorf("decode metadata %s failed: %w", id, err)
		}
		// the returned metadata must belong to the caller even if the owner
		// field and set disagree with it
		if meta.OwnerID != q.OwnerID {
			continue
		}
		seq, _ := strconv.ParseInt(rawSeq, 10, 64)
		hits = append(hits, scored{
			result: rag.RetrievalResult{ID: id, Score: rag.Dot(q.Vector, vec), Metadata: meta},
			seq:    seq,
		})
	}

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

// withRetry reruns op while its optimistic transaction loses a race.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxTxRetries), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil || errors.Is(err, redisv9.TxFailedErr) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

func (s *Store) entryKey(id string) string      { return s.prefix + ":entry:" + id }
func (s *Store) docKey(docID string) string     { return s.prefix + ":doc:" + docID }
func (s *Store) versionKey(docID string) string { return s.prefix + ":doc:" + docID + ":ver" }
func (s *Store) ownerKey(owner string) string   { return s.prefix + ":owner:" + owner }
func (s *Store) seqKey() string                 { return s.prefix + ":seq" }

func encodeVector(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("vector payload length %d is not a multiple of 8", len(b))
	}
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v, nil
}
