package approval

import (
	"context"
	"sort"
	"sync"
	"time"

	"rollcall/internal/core"
)

// MemoryRepo keeps requests in a mutex-guarded map. ApplyDecision runs its
// read-derive-write under one lock, the in-process equivalent of the
// postgres row-guarded update.
type MemoryRepo struct {
	mu       sync.RWMutex
	requests map[string]Request
}

// NewMemoryRepo creates an empty repo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{requests: make(map[string]Request)}
}

// Insert adds a request.
func (r *MemoryRepo) Insert(_ context.Context, req Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[req.ID] = req
	return nil
}

// Get returns a request by id.
func (r *MemoryRepo) Get(_ context.Context, id string) (Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.requests[id]
	if !ok {
		return Request{}, core.ErrNotFound
	}
	return req, nil
}

// ApplyDecision applies a role's verdict while the request is pending.
func (r *MemoryRepo) ApplyDecision(_ context.Context, id string, role core.ApproverRole, approve bool, at time.Time) (Request, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return Request{}, false, core.ErrNotFound
	}
	if req.Status.Terminal() {
		return req, false, nil
	}
	ts := at
	if role == core.RoleTeacher {
		req.TeacherApproved = approve
		req.TeacherDecidedAt = &ts
	} else {
		req.AdminApproved = approve
		req.AdminDecidedAt = &ts
	}
	req.Status = Derive(req.TeacherApproved, req.AdminApproved, !approve)
	r.requests[id] = req
	return req, true, nil
}

// ListForApprover returns requests where the approver holds either slot,
// newest first.
func (r *MemoryRepo) ListForApprover(_ context.Context, approverID string) ([]Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []Request
	for _, req := range r.requests {
		if req.TeacherID == approverID || req.AdminID == approverID {
			res = append(res, req)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}
