// Package approval implements the Approval Router (C16): pending gated
// actions awaiting a human decision, with TTL-based expiry swept on read.
package approval

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattdarbro/loop-symphony-sub001/internal/core"
	"github.com/mattdarbro/loop-symphony-sub001/internal/domain"
)

// DefaultTTL is applied when a caller submits a request with TTLSeconds <= 0.
const DefaultTTL = 15 * time.Minute

// Router holds pending ApprovalRequests keyed by id.
type Router struct {
	mu       sync.Mutex
	requests map[string]*domain.ApprovalRequest
	now      func() time.Time
	newID    func() string
}

type Option func(*Router)

func WithClock(now func() time.Time) Option  { return func(r *Router) { r.now = now } }
func WithIDGenerator(f func() string) Option { return func(r *Router) { r.newID = f } }

func New(opts ...Option) *Router {
	r := &Router{
		requests: make(map[string]*domain.ApprovalRequest),
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit creates a PENDING ApprovalRequest.
func (r *Router) Submit(conductorID, actionType, description string, context map[string]interface{}, trustLevel int, ttlSeconds int) domain.ApprovalRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ttlSeconds <= 0 {
		ttlSeconds = int(DefaultTTL.Seconds())
	}
	req := &domain.ApprovalRequest{
		ID:          r.newID(),
		ConductorID: conductorID,
		ActionType:  actionType,
		Description: description,
		Context:     context,
		TrustLevel:  trustLevel,
		Status:      domain.ApprovalPending,
		RequestedAt: r.now(),
		TTLSeconds:  ttlSeconds,
	}
	r.requests[req.ID] = req
	return *req
}

// Get returns the request, sweeping it to EXPIRED first if its TTL has
// lapsed. core.ErrApprovalNotFound on an unknown id.
func (r *Router) Get(id string) (domain.ApprovalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return domain.ApprovalRequest{}, core.ErrApprovalNotFound
	}
	r.expireIfStaleLocked(req)
	return *req, nil
}

// Resolve transitions a PENDING request to APPROVED or DENIED.
// core.ErrApprovalNotFound both on an unknown id and on a request
// already out of PENDING (resolved or expired) — a status transition
// out of PENDING is required for any other outcome.
func (r *Router) Resolve(id string, approve bool, resolver string) (domain.ApprovalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return domain.ApprovalRequest{}, core.ErrApprovalNotFound
	}
	r.expireIfStaleLocked(req)
	if req.Status != domain.ApprovalPending {
		return domain.ApprovalRequest{}, core.ErrApprovalNotFound
	}

	now := r.now()
	if approve {
		req.Status = domain.ApprovalApproved
	} else {
		req.Status = domain.ApprovalDenied
	}
	req.ResolvedAt = &now
	req.ResolvedBy = resolver
	return *req, nil
}

// GetPending returns all PENDING requests, optionally filtered by
// conductorID (empty matches all).
func (r *Router) GetPending(conductorID string) []domain.ApprovalRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.ApprovalRequest
	for _, req := range r.requests {
		r.expireIfStaleLocked(req)
		if req.Status != domain.ApprovalPending {
			continue
		}
		if conductorID != "" && req.ConductorID != conductorID {
			continue
		}
		out = append(out, *req)
	}
	return out
}

// ExpireStale sweeps every PENDING request whose TTL has lapsed,
// marking it EXPIRED, and returns how many it expired.
func (r *Router) ExpireStale() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, req := range r.requests {
		if req.Status == domain.ApprovalPending && r.expireIfStaleLocked(req) {
			count++
		}
	}
	return count
}

func (r *Router) expireIfStaleLocked(req *domain.ApprovalRequest) bool {
	if req.Status != domain.ApprovalPending {
		return false
	}
	if r.now().Sub(req.RequestedAt) <= time.Duration(req.TTLSeconds)*time.Second {
		return false
	}
	req.Status = domain.ApprovalExpired
	now := r.now()
	req.ResolvedAt = &now
	return true
}
