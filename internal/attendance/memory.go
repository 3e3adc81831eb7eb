package attendance

import (
	"context"
	"sort"
	"sync"

	"rollcall/internal/core"
)

// MemoryRepo keeps records in a mutex-guarded map keyed by the (session,
// claimant) pair, mirroring the unique-key semantics of PostgresRepo.
type MemoryRepo struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryRepo creates an empty repo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{records: make(map[string]Record)}
}

func pairKey(sessionID, claimantID string) string {
	return sessionID + "\x00" + claimantID
}

// Upsert writes or overwrites the record for its pair.
func (r *MemoryRepo) Upsert(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[pairKey(rec.SessionID, rec.ClaimantID)] = rec
	return nil
}

// UpsertBatch applies all records under one lock acquisition.
func (r *MemoryRepo) UpsertBatch(_ context.Context, recs []Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range recs {
		r.records[pairKey(rec.SessionID, rec.ClaimantID)] = rec
	}
	return nil
}

// Get returns the record for a pair.
func (r *MemoryRepo) Get(_ context.Context, sessionID, claimantID string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[pairKey(sessionID, claimantID)]
	if !ok {
		return Record{}, core.ErrNotFound
	}
	return rec, nil
}

// ListBySession returns records for a session ordered by mark time.
func (r *MemoryRepo) ListBySession(_ context.Context, sessionID string) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []Record
	for _, rec := range r.records {
		if rec.SessionID == sessionID {
			res = append(res, rec)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].MarkedAt.Before(res[j].MarkedAt) })
	return res, nil
}

// Count reports the total number of rows, for test assertions.
func (r *MemoryRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
